package dispatch

import (
	"math"
	"sync"
	"time"
)

// Snapshot is the flat, poll-friendly view of the in-flight campaign the
// dashboard renders. Readers poll on an interval; staleness up to one poll
// interval is fine.
type Snapshot struct {
	IsActive        bool   `json:"is_active"`
	Percentage      int    `json:"percentage"`
	CurrentCampaign string `json:"current_campaign,omitempty"`
	TotalContacts   int    `json:"total_contacts"`
	SentCount       int    `json:"sent_count"`
	FailedCount     int    `json:"failed_count"`
}

// Progress owns the single live snapshot. All callers go through the mutex;
// the struct is never handed out by reference. After a run completes the
// final 100% snapshot stays visible for a grace window so a polling UI
// shows the completion state at least once, then it reverts to idle.
type Progress struct {
	mu          sync.Mutex
	grace       time.Duration
	active      bool
	campaignID  string
	total       int
	sent        int
	failed      int
	completedAt time.Time
}

func NewProgress(grace time.Duration) *Progress {
	return &Progress{grace: grace}
}

func (p *Progress) Begin(campaignID string, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = true
	p.campaignID = campaignID
	p.total = total
	p.sent = 0
	p.failed = 0
	p.completedAt = time.Time{}
}

// Record adds delta outcomes to the live counters.
func (p *Progress) Record(sent, failed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent += sent
	p.failed += failed
}

func (p *Progress) Complete() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = false
	p.completedAt = time.Now()
}

func (p *Progress) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.active {
		if p.completedAt.IsZero() || time.Since(p.completedAt) > p.grace {
			return Snapshot{}
		}
	}

	snap := Snapshot{
		IsActive:        p.active,
		CurrentCampaign: p.campaignID,
		TotalContacts:   p.total,
		SentCount:       p.sent,
		FailedCount:     p.failed,
	}
	if p.total > 0 {
		snap.Percentage = int(math.Round(float64(p.sent+p.failed) / float64(p.total) * 100))
	}
	return snap
}
