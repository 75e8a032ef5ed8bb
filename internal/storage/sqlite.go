package storage

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mkadyrov/blastline/internal/models"
)

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS contacts (
			id TEXT PRIMARY KEY,
			phone TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS campaigns (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			body TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'draft',
			sent_count INTEGER NOT NULL DEFAULT 0,
			failed_count INTEGER NOT NULL DEFAULT 0,
			total_recipients INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS deliveries (
			id TEXT PRIMARY KEY,
			campaign_id TEXT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
			contact_id TEXT NOT NULL REFERENCES contacts(id) ON DELETE RESTRICT,
			phone TEXT NOT NULL,
			body TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			error_detail TEXT NOT NULL DEFAULT '',
			sent_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_contacts_phone ON contacts(phone)`,
		`CREATE INDEX IF NOT EXISTS idx_campaigns_status ON campaigns(status)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_campaign ON deliveries(campaign_id)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_pending ON deliveries(campaign_id, status) WHERE status = 'pending'`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- Contacts ---

func (s *SQLiteStorage) CreateContact(ctx context.Context, c *models.Contact) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contacts (id, phone, name, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.Phone, c.Name, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

func (s *SQLiteStorage) GetContact(ctx context.Context, id string) (*models.Contact, error) {
	var c models.Contact
	err := s.db.QueryRowContext(ctx,
		`SELECT id, phone, name, created_at, updated_at FROM contacts WHERE id = ?`, id,
	).Scan(&c.ID, &c.Phone, &c.Name, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &c, err
}

func (s *SQLiteStorage) GetContactByPhone(ctx context.Context, phone string) (*models.Contact, error) {
	var c models.Contact
	err := s.db.QueryRowContext(ctx,
		`SELECT id, phone, name, created_at, updated_at FROM contacts WHERE phone = ?`, phone,
	).Scan(&c.ID, &c.Phone, &c.Name, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &c, err
}

// ListContacts returns contacts in insertion order. The dispatcher sends in
// exactly this order, so it must stay stable across calls.
func (s *SQLiteStorage) ListContacts(ctx context.Context) ([]models.Contact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, phone, name, created_at, updated_at FROM contacts ORDER BY created_at ASC, rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []models.Contact
	for rows.Next() {
		var c models.Contact
		if err := rows.Scan(&c.ID, &c.Phone, &c.Name, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

func (s *SQLiteStorage) UpdateContactName(ctx context.Context, id, name string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE contacts SET name = ?, updated_at = ? WHERE id = ?`,
		name, time.Now().UTC(), id,
	)
	return err
}

func (s *SQLiteStorage) DeleteContact(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM contacts WHERE id = ?`, id)
	return err
}

// --- Campaigns ---

func (s *SQLiteStorage) CreateCampaign(ctx context.Context, c *models.Campaign) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO campaigns (id, name, body, status, sent_count, failed_count, total_recipients, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Body, c.Status, c.SentCount, c.FailedCount, c.TotalRecipients, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

func (s *SQLiteStorage) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	var c models.Campaign
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, body, status, sent_count, failed_count, total_recipients, created_at, updated_at
		 FROM campaigns WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.Body, &c.Status, &c.SentCount, &c.FailedCount, &c.TotalRecipients, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &c, err
}

func (s *SQLiteStorage) ListCampaigns(ctx context.Context) ([]models.Campaign, error) {
	return s.queryCampaigns(ctx,
		`SELECT id, name, body, status, sent_count, failed_count, total_recipients, created_at, updated_at
		 FROM campaigns ORDER BY created_at DESC`)
}

func (s *SQLiteStorage) ListCampaignsByStatus(ctx context.Context, status models.CampaignStatus) ([]models.Campaign, error) {
	return s.queryCampaigns(ctx,
		`SELECT id, name, body, status, sent_count, failed_count, total_recipients, created_at, updated_at
		 FROM campaigns WHERE status = ? ORDER BY created_at DESC`, status)
}

func (s *SQLiteStorage) queryCampaigns(ctx context.Context, query string, args ...interface{}) ([]models.Campaign, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var campaigns []models.Campaign
	for rows.Next() {
		var c models.Campaign
		if err := rows.Scan(&c.ID, &c.Name, &c.Body, &c.Status, &c.SentCount, &c.FailedCount, &c.TotalRecipients, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

func (s *SQLiteStorage) UpdateCampaignStatus(ctx context.Context, id string, status models.CampaignStatus, sent, failed, total int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET status = ?, sent_count = ?, failed_count = ?, total_recipients = ?, updated_at = ? WHERE id = ?`,
		status, sent, failed, total, time.Now().UTC(), id,
	)
	return err
}

// StartCampaign flips the campaign to sending and snapshots its pending
// deliveries in a single transaction. Either the whole setup lands or none
// of it does; a failed insert must not leave the campaign stuck in sending.
func (s *SQLiteStorage) StartCampaign(ctx context.Context, campaignID string, deliveries []models.Delivery) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE campaigns SET status = ?, sent_count = 0, failed_count = 0, total_recipients = ?, updated_at = ? WHERE id = ?`,
		models.CampaignSending, len(deliveries), time.Now().UTC(), campaignID,
	); err != nil {
		return err
	}

	for i := range deliveries {
		d := &deliveries[i]
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO deliveries (id, campaign_id, contact_id, phone, body, status, error_detail, sent_at, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.ID, d.CampaignID, d.ContactID, d.Phone, d.Body, d.Status, d.ErrorDetail, d.SentAt, d.CreatedAt, d.UpdatedAt,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// --- Deliveries ---

func (s *SQLiteStorage) CreateDelivery(ctx context.Context, d *models.Delivery) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries (id, campaign_id, contact_id, phone, body, status, error_detail, sent_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.CampaignID, d.ContactID, d.Phone, d.Body, d.Status, d.ErrorDetail, d.SentAt, d.CreatedAt, d.UpdatedAt,
	)
	return err
}

func (s *SQLiteStorage) GetDelivery(ctx context.Context, id string) (*models.Delivery, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, campaign_id, contact_id, phone, body, status, error_detail, sent_at, created_at, updated_at
		 FROM deliveries WHERE id = ?`, id)
	d, err := scanDelivery(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

func (s *SQLiteStorage) ListDeliveriesByCampaign(ctx context.Context, campaignID string) ([]models.Delivery, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, campaign_id, contact_id, phone, body, status, error_detail, sent_at, created_at, updated_at
		 FROM deliveries WHERE campaign_id = ? ORDER BY rowid ASC`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deliveries []models.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, *d)
	}
	return deliveries, rows.Err()
}

func scanDelivery(row interface{ Scan(...interface{}) error }) (*models.Delivery, error) {
	var d models.Delivery
	var sentAt sql.NullTime
	err := row.Scan(&d.ID, &d.CampaignID, &d.ContactID, &d.Phone, &d.Body, &d.Status, &d.ErrorDetail, &sentAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if sentAt.Valid {
		d.SentAt = &sentAt.Time
	}
	return &d, nil
}

// MarkDeliverySent finalizes a pending delivery as sent. Finalized rows are
// never touched again, so the guard on status makes the call idempotent.
func (s *SQLiteStorage) MarkDeliverySent(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE deliveries SET status = ?, sent_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		models.DeliverySent, at, time.Now().UTC(), id, models.DeliveryPending,
	)
	return err
}

func (s *SQLiteStorage) MarkDeliveryFailed(ctx context.Context, id, detail string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE deliveries SET status = ?, error_detail = ?, updated_at = ? WHERE id = ? AND status = ?`,
		models.DeliveryFailed, detail, time.Now().UTC(), id, models.DeliveryPending,
	)
	return err
}

func (s *SQLiteStorage) FailPendingDeliveries(ctx context.Context, campaignID, detail string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE deliveries SET status = ?, error_detail = ?, updated_at = ? WHERE campaign_id = ? AND status = ?`,
		models.DeliveryFailed, detail, time.Now().UTC(), campaignID, models.DeliveryPending,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStorage) CountDeliveriesByStatus(ctx context.Context, campaignID string) (map[models.DeliveryStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM deliveries WHERE campaign_id = ? GROUP BY status`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.DeliveryStatus]int)
	for rows.Next() {
		var status models.DeliveryStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// --- Stats ---

func (s *SQLiteStorage) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM contacts`).Scan(&stats.TotalContacts)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns`).Scan(&stats.TotalCampaigns)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deliveries WHERE status = 'sent'`).Scan(&stats.TotalSent)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deliveries WHERE status = 'failed'`).Scan(&stats.TotalFailed)

	if total := stats.TotalSent + stats.TotalFailed; total > 0 {
		stats.SuccessRate = float64(stats.TotalSent) / float64(total) * 100
	}

	return stats, nil
}
