package models

import "time"

type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

// Delivery is one (campaign, contact) send outcome. Body snapshots the
// campaign message at the moment sending began, so later edits of the
// campaign never change what a record claims was attempted. Once the
// status leaves pending it is never written again.
type Delivery struct {
	ID          string         `json:"id"`
	CampaignID  string         `json:"campaign_id"`
	ContactID   string         `json:"contact_id"`
	Phone       string         `json:"phone"`
	Body        string         `json:"body"`
	Status      DeliveryStatus `json:"status"`
	ErrorDetail string         `json:"error_detail,omitempty"`
	SentAt      *time.Time     `json:"sent_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}
