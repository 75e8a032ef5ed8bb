package dispatch

import "errors"

// Precondition failures surfaced synchronously by Dispatch. None of them
// mutate campaign or delivery state.
var (
	ErrBusy                 = errors.New("another campaign is currently sending")
	ErrGatewayNotReady      = errors.New("messaging gateway is not ready")
	ErrCampaignNotFound     = errors.New("campaign not found")
	ErrInvalidCampaignState = errors.New("campaign is not in draft state")
	ErrNoRecipients         = errors.New("campaign has no recipients")
)

// Error details written on deliveries that were never individually attempted.
const (
	detailDisconnected = "gateway disconnected"
	detailCancelled    = "cancelled"
	detailInterrupted  = "interrupted by shutdown"
)
