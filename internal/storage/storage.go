package storage

import (
	"context"
	"time"

	"github.com/mkadyrov/blastline/internal/models"
)

type Storage interface {
	// Contacts
	CreateContact(ctx context.Context, c *models.Contact) error
	GetContact(ctx context.Context, id string) (*models.Contact, error)
	GetContactByPhone(ctx context.Context, phone string) (*models.Contact, error)
	ListContacts(ctx context.Context) ([]models.Contact, error)
	UpdateContactName(ctx context.Context, id, name string) error
	DeleteContact(ctx context.Context, id string) error

	// Campaigns
	CreateCampaign(ctx context.Context, c *models.Campaign) error
	GetCampaign(ctx context.Context, id string) (*models.Campaign, error)
	ListCampaigns(ctx context.Context) ([]models.Campaign, error)
	ListCampaignsByStatus(ctx context.Context, status models.CampaignStatus) ([]models.Campaign, error)
	UpdateCampaignStatus(ctx context.Context, id string, status models.CampaignStatus, sent, failed, total int) error
	StartCampaign(ctx context.Context, campaignID string, deliveries []models.Delivery) error

	// Deliveries
	CreateDelivery(ctx context.Context, d *models.Delivery) error
	GetDelivery(ctx context.Context, id string) (*models.Delivery, error)
	ListDeliveriesByCampaign(ctx context.Context, campaignID string) ([]models.Delivery, error)
	MarkDeliverySent(ctx context.Context, id string, at time.Time) error
	MarkDeliveryFailed(ctx context.Context, id, detail string) error
	FailPendingDeliveries(ctx context.Context, campaignID, detail string) (int64, error)
	CountDeliveriesByStatus(ctx context.Context, campaignID string) (map[models.DeliveryStatus]int, error)

	// Stats
	GetStats(ctx context.Context) (*Stats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

type Stats struct {
	TotalContacts  int64   `json:"total_contacts"`
	TotalCampaigns int64   `json:"total_campaigns"`
	TotalSent      int64   `json:"total_sent"`
	TotalFailed    int64   `json:"total_failed"`
	SuccessRate    float64 `json:"success_rate"`
}
