package models

import "time"

type CampaignStatus string

const (
	CampaignDraft               CampaignStatus = "draft"
	CampaignSending             CampaignStatus = "sending"
	CampaignCompleted           CampaignStatus = "completed"
	CampaignCompletedWithErrors CampaignStatus = "completed_with_errors"
	CampaignFailed              CampaignStatus = "failed"
)

// Terminal reports whether a campaign in this status can never send again.
func (s CampaignStatus) Terminal() bool {
	return s == CampaignCompleted || s == CampaignCompletedWithErrors || s == CampaignFailed
}

type Campaign struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Body            string         `json:"body"`
	Status          CampaignStatus `json:"status"`
	SentCount       int            `json:"sent_count"`
	FailedCount     int            `json:"failed_count"`
	TotalRecipients int            `json:"total_recipients"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}
