package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressIdleByDefault(t *testing.T) {
	p := NewProgress(time.Minute)
	assert.Equal(t, Snapshot{}, p.Snapshot())
}

func TestProgressPercentageRounds(t *testing.T) {
	p := NewProgress(time.Minute)
	p.Begin("cmp_1", 3)

	snap := p.Snapshot()
	require.True(t, snap.IsActive)
	assert.Equal(t, "cmp_1", snap.CurrentCampaign)
	assert.Equal(t, 0, snap.Percentage)

	p.Record(1, 0)
	assert.Equal(t, 33, p.Snapshot().Percentage)

	p.Record(0, 1)
	assert.Equal(t, 67, p.Snapshot().Percentage)

	p.Record(1, 0)
	snap = p.Snapshot()
	assert.Equal(t, 100, snap.Percentage)
	assert.Equal(t, 2, snap.SentCount)
	assert.Equal(t, 1, snap.FailedCount)
}

func TestProgressGraceWindow(t *testing.T) {
	p := NewProgress(50 * time.Millisecond)
	p.Begin("cmp_1", 2)
	p.Record(2, 0)
	p.Complete()

	// Completion stays visible inside the grace window.
	snap := p.Snapshot()
	require.False(t, snap.IsActive)
	assert.Equal(t, 100, snap.Percentage)
	assert.Equal(t, "cmp_1", snap.CurrentCampaign)

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, Snapshot{}, p.Snapshot())
}

func TestProgressBeginResetsCounters(t *testing.T) {
	p := NewProgress(time.Minute)
	p.Begin("cmp_1", 2)
	p.Record(2, 0)
	p.Complete()

	p.Begin("cmp_2", 4)
	snap := p.Snapshot()
	require.True(t, snap.IsActive)
	assert.Equal(t, "cmp_2", snap.CurrentCampaign)
	assert.Equal(t, 0, snap.SentCount)
	assert.Equal(t, 0, snap.Percentage)
	assert.Equal(t, 4, snap.TotalContacts)
}
