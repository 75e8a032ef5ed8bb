package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBridge stands in for the session bridge sidecar.
type fakeBridge struct {
	mu          sync.Mutex
	state       string
	pairingCode string
	sendStatus  int
	sendError   string
	sendRaw     string
	sends       int
}

func (b *fakeBridge) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]string{
			"state":        b.state,
			"pairing_code": b.pairingCode,
		})
	})
	mux.HandleFunc("/send", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.sends++
		if b.sendStatus != 0 && b.sendStatus != http.StatusOK {
			w.WriteHeader(b.sendStatus)
			json.NewEncoder(w).Encode(map[string]string{"error": b.sendError})
			return
		}
		if b.sendRaw != "" {
			w.Write([]byte(b.sendRaw))
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "sent"})
	})
	return mux
}

func (b *fakeBridge) sendCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sends
}

func newBridgeClient(t *testing.T, bridge *fakeBridge) *BridgeClient {
	t.Helper()
	srv := httptest.NewServer(bridge.handler())
	t.Cleanup(srv.Close)
	return NewBridgeClient(srv.URL, 5*time.Second, time.Millisecond, zerolog.Nop())
}

func TestBridgeStateMapping(t *testing.T) {
	tests := []struct {
		bridgeState string
		want        State
	}{
		{"ready", StateReady},
		{"authenticated", StateAuthenticated},
		{"pairing_required", StatePairingRequired},
		{"qr", StatePairingRequired},
		{"disconnected", StateDisconnected},
		{"something_else", StateDisconnected},
	}

	for _, tt := range tests {
		t.Run(tt.bridgeState, func(t *testing.T) {
			c := newBridgeClient(t, &fakeBridge{state: tt.bridgeState})
			assert.Equal(t, tt.want, c.State())
		})
	}
}

func TestBridgeUnreachableMeansDisconnected(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := NewBridgeClient(srv.URL, time.Second, time.Millisecond, zerolog.Nop())

	assert.Equal(t, StateDisconnected, c.State())
	assert.False(t, c.Ready())
}

func TestBridgePairingCode(t *testing.T) {
	c := newBridgeClient(t, &fakeBridge{state: "pairing_required", pairingCode: "ABCD-1234"})
	assert.Equal(t, StatePairingRequired, c.State())
	assert.Equal(t, "ABCD-1234", c.PairingCode())
}

func TestBridgeSendSuccess(t *testing.T) {
	bridge := &fakeBridge{state: "ready"}
	c := newBridgeClient(t, bridge)

	require.NoError(t, c.Send(context.Background(), "15550001111", "hello"))
	assert.Equal(t, 1, bridge.sendCount())
}

func TestBridgeSendTypedErrors(t *testing.T) {
	tests := []struct {
		name       string
		sendStatus int
		sendError  string
		want       error
	}{
		{"not registered", http.StatusUnprocessableEntity, "not_registered", ErrNotRegistered},
		{"rate limited", http.StatusTooManyRequests, "rate_limited", ErrRateLimited},
		{"not ready", http.StatusConflict, "not_ready", ErrNotReady},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bridge := &fakeBridge{state: "ready", sendStatus: tt.sendStatus, sendError: tt.sendError}
			c := newBridgeClient(t, bridge)

			err := c.Send(context.Background(), "15550001111", "hello")
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestBridgeSendTransportError(t *testing.T) {
	bridge := &fakeBridge{state: "ready", sendStatus: http.StatusInternalServerError, sendError: "boom"}
	c := newBridgeClient(t, bridge)

	err := c.Send(context.Background(), "15550001111", "hello")
	require.Error(t, err)

	var terr *TransportError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "send", terr.Op)
}

func TestBridgeSendMalformedBody(t *testing.T) {
	// A 200 whose body cannot be decoded is not a confirmed send.
	bridge := &fakeBridge{state: "ready", sendRaw: "<html>bad gateway</html>"}
	c := newBridgeClient(t, bridge)

	err := c.Send(context.Background(), "15550001111", "hello")
	require.Error(t, err)

	var terr *TransportError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "send", terr.Op)
}

func TestBridgeSendRefusesWhenNotReady(t *testing.T) {
	bridge := &fakeBridge{state: "disconnected"}
	c := newBridgeClient(t, bridge)

	err := c.Send(context.Background(), "15550001111", "hello")
	require.ErrorIs(t, err, ErrNotReady)
	assert.Equal(t, 0, bridge.sendCount())
}

func TestBridgeSubscribeState(t *testing.T) {
	c := newBridgeClient(t, &fakeBridge{state: "ready"})

	events, cancel := c.SubscribeState()
	defer cancel()

	// First status fetch moves disconnected -> ready and publishes it.
	require.True(t, c.Ready())

	select {
	case st := <-events:
		assert.Equal(t, StateReady, st)
	case <-time.After(time.Second):
		t.Fatal("expected a state transition event")
	}
}
