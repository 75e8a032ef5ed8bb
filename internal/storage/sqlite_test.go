package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkadyrov/blastline/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { store.Close() })
	return store
}

func makeContact(t *testing.T, store *SQLiteStorage, phone string, at time.Time) *models.Contact {
	t.Helper()
	c := &models.Contact{
		ID:        models.NewID("ct"),
		Phone:     phone,
		Name:      "someone",
		CreatedAt: at,
		UpdatedAt: at,
	}
	require.NoError(t, store.CreateContact(context.Background(), c))
	return c
}

func makeCampaign(t *testing.T, store *SQLiteStorage) *models.Campaign {
	t.Helper()
	now := time.Now().UTC()
	c := &models.Campaign{
		ID:        models.NewID("cmp"),
		Name:      "promo",
		Body:      "hello",
		Status:    models.CampaignDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.CreateCampaign(context.Background(), c))
	return c
}

func makeDelivery(t *testing.T, store *SQLiteStorage, campaignID, contactID, phone string) *models.Delivery {
	t.Helper()
	now := time.Now().UTC()
	d := &models.Delivery{
		ID:         models.NewID("dlv"),
		CampaignID: campaignID,
		ContactID:  contactID,
		Phone:      phone,
		Body:       "hello",
		Status:     models.DeliveryPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, store.CreateDelivery(context.Background(), d))
	return d
}

func TestContactCRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	c := makeContact(t, store, "15550001111", time.Now().UTC())

	got, err := store.GetContact(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, c.Phone, got.Phone)

	byPhone, err := store.GetContactByPhone(ctx, c.Phone)
	require.NoError(t, err)
	require.NotNil(t, byPhone)
	assert.Equal(t, c.ID, byPhone.ID)

	missing, err := store.GetContact(ctx, "ct_missing")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, store.UpdateContactName(ctx, c.ID, "renamed"))
	got, err = store.GetContact(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)

	require.NoError(t, store.DeleteContact(ctx, c.ID))
	got, err = store.GetContact(ctx, c.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestContactPhoneUnique(t *testing.T) {
	store := newTestStore(t)
	makeContact(t, store, "15550001111", time.Now().UTC())

	dup := &models.Contact{
		ID:        models.NewID("ct"),
		Phone:     "15550001111",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.Error(t, store.CreateContact(context.Background(), dup))
}

func TestListContactsStableOrder(t *testing.T) {
	store := newTestStore(t)
	base := time.Now().UTC().Add(-time.Hour)
	first := makeContact(t, store, "15550000001", base)
	second := makeContact(t, store, "15550000002", base.Add(time.Second))
	third := makeContact(t, store, "15550000003", base.Add(2*time.Second))

	for i := 0; i < 3; i++ {
		contacts, err := store.ListContacts(context.Background())
		require.NoError(t, err)
		require.Len(t, contacts, 3)
		assert.Equal(t, first.ID, contacts[0].ID)
		assert.Equal(t, second.ID, contacts[1].ID)
		assert.Equal(t, third.ID, contacts[2].ID)
	}
}

func TestContactDeleteRestrictedByDelivery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	c := makeContact(t, store, "15550001111", time.Now().UTC())
	camp := makeCampaign(t, store)
	makeDelivery(t, store, camp.ID, c.ID, c.Phone)

	require.Error(t, store.DeleteContact(ctx, c.ID))
}

func TestCampaignStatusUpdate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	camp := makeCampaign(t, store)

	require.NoError(t, store.UpdateCampaignStatus(ctx, camp.ID, models.CampaignSending, 0, 0, 5))
	got, err := store.GetCampaign(ctx, camp.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignSending, got.Status)
	assert.Equal(t, 5, got.TotalRecipients)

	sending, err := store.ListCampaignsByStatus(ctx, models.CampaignSending)
	require.NoError(t, err)
	require.Len(t, sending, 1)

	require.NoError(t, store.UpdateCampaignStatus(ctx, camp.ID, models.CampaignCompletedWithErrors, 3, 2, 5))
	got, err = store.GetCampaign(ctx, camp.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignCompletedWithErrors, got.Status)
	assert.Equal(t, 3, got.SentCount)
	assert.Equal(t, 2, got.FailedCount)
}

func TestStartCampaign(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()
	ct := makeContact(t, store, "15550001111", now)
	camp := makeCampaign(t, store)

	deliveries := []models.Delivery{{
		ID:         models.NewID("dlv"),
		CampaignID: camp.ID,
		ContactID:  ct.ID,
		Phone:      ct.Phone,
		Body:       camp.Body,
		Status:     models.DeliveryPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}}
	require.NoError(t, store.StartCampaign(context.Background(), camp.ID, deliveries))

	got, err := store.GetCampaign(context.Background(), camp.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignSending, got.Status)
	assert.Equal(t, 1, got.TotalRecipients)

	rows, err := store.ListDeliveriesByCampaign(context.Background(), camp.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestStartCampaignRollsBackOnBadDelivery(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()
	ct := makeContact(t, store, "15550001111", now)
	camp := makeCampaign(t, store)

	mk := func(contactID string) models.Delivery {
		return models.Delivery{
			ID:         models.NewID("dlv"),
			CampaignID: camp.ID,
			ContactID:  contactID,
			Phone:      "15550001111",
			Body:       camp.Body,
			Status:     models.DeliveryPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	}
	// Second row violates the contact foreign key, failing the insert
	// after the status flip already ran inside the transaction.
	deliveries := []models.Delivery{mk(ct.ID), mk("ct_missing")}
	require.Error(t, store.StartCampaign(context.Background(), camp.ID, deliveries))

	got, err := store.GetCampaign(context.Background(), camp.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignDraft, got.Status)
	assert.Equal(t, 0, got.TotalRecipients)

	rows, err := store.ListDeliveriesByCampaign(context.Background(), camp.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestDeliveryWriteOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	c := makeContact(t, store, "15550001111", time.Now().UTC())
	camp := makeCampaign(t, store)
	dlv := makeDelivery(t, store, camp.ID, c.ID, c.Phone)

	at := time.Now().UTC()
	require.NoError(t, store.MarkDeliverySent(ctx, dlv.ID, at))

	got, err := store.GetDelivery(ctx, dlv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliverySent, got.Status)
	require.NotNil(t, got.SentAt)

	// A finalized delivery never changes again.
	require.NoError(t, store.MarkDeliveryFailed(ctx, dlv.ID, "late failure"))
	got, err = store.GetDelivery(ctx, dlv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliverySent, got.Status)
	assert.Empty(t, got.ErrorDetail)

	require.NoError(t, store.MarkDeliverySent(ctx, dlv.ID, at.Add(time.Hour)))
	again, err := store.GetDelivery(ctx, dlv.ID)
	require.NoError(t, err)
	assert.Equal(t, got.SentAt.Unix(), again.SentAt.Unix())
}

func TestFailPendingDeliveries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	camp := makeCampaign(t, store)
	base := time.Now().UTC()
	var ids []string
	for i, phone := range []string{"15550000001", "15550000002", "15550000003"} {
		c := makeContact(t, store, phone, base.Add(time.Duration(i)*time.Second))
		ids = append(ids, makeDelivery(t, store, camp.ID, c.ID, c.Phone).ID)
	}
	require.NoError(t, store.MarkDeliverySent(ctx, ids[0], base))

	n, err := store.FailPendingDeliveries(ctx, camp.ID, "gateway disconnected")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	counts, err := store.CountDeliveriesByStatus(ctx, camp.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.DeliverySent])
	assert.Equal(t, 2, counts[models.DeliveryFailed])
	assert.Equal(t, 0, counts[models.DeliveryPending])

	deliveries, err := store.ListDeliveriesByCampaign(ctx, camp.ID)
	require.NoError(t, err)
	require.Len(t, deliveries, 3)
	assert.Equal(t, models.DeliverySent, deliveries[0].Status)
	assert.Equal(t, "gateway disconnected", deliveries[1].ErrorDetail)
}

func TestGetStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	camp := makeCampaign(t, store)
	base := time.Now().UTC()
	var ids []string
	for i, phone := range []string{"15550000001", "15550000002", "15550000003", "15550000004"} {
		c := makeContact(t, store, phone, base.Add(time.Duration(i)*time.Second))
		ids = append(ids, makeDelivery(t, store, camp.ID, c.ID, c.Phone).ID)
	}
	require.NoError(t, store.MarkDeliverySent(ctx, ids[0], base))
	require.NoError(t, store.MarkDeliverySent(ctx, ids[1], base))
	require.NoError(t, store.MarkDeliverySent(ctx, ids[2], base))
	require.NoError(t, store.MarkDeliveryFailed(ctx, ids[3], "transport error"))

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 4, stats.TotalContacts)
	assert.EqualValues(t, 1, stats.TotalCampaigns)
	assert.EqualValues(t, 3, stats.TotalSent)
	assert.EqualValues(t, 1, stats.TotalFailed)
	assert.InDelta(t, 75.0, stats.SuccessRate, 0.01)
}
