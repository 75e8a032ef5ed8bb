package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	norm := NormalizePhone("1")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"formatted local number gets prefix", "(555) 123-4567", "15551234567"},
		{"bare ten digits gets prefix", "5551234567", "15551234567"},
		{"eleven digits untouched", "15551234567", "15551234567"},
		{"plus number kept as is", "+996 555 123456", "+996555123456"},
		{"short number untouched", "555-1234", "5551234"},
		{"whitespace and punctuation stripped", " 555.123.4567 ", "15551234567"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, norm(tt.in))
		})
	}
}

func TestNormalizePhoneNoPrefix(t *testing.T) {
	norm := NormalizePhone("")
	assert.Equal(t, "5551234567", norm("5551234567"))
}
