// Package dispatch drives outbound campaigns through the single messaging
// session: one campaign at a time, one recipient at a time, with a jittered
// delay between sends. Per-recipient failures are recorded and never stop
// the loop. There is no automatic retry inside a run; retrying means
// creating a new campaign.
package dispatch

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mkadyrov/blastline/internal/config"
	"github.com/mkadyrov/blastline/internal/gateway"
	"github.com/mkadyrov/blastline/internal/models"
	"github.com/mkadyrov/blastline/internal/storage"
)

type Dispatcher struct {
	store     storage.Storage
	client    gateway.Client
	normalize NormalizeFunc
	progress  *Progress
	delayMin  time.Duration
	delayMax  time.Duration
	log       zerolog.Logger

	mu        sync.Mutex
	running   bool
	activeID  string
	cancelRun context.CancelFunc
	wg        sync.WaitGroup
}

func New(cfg config.DispatchConfig, store storage.Storage, client gateway.Client, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		store:     store,
		client:    client,
		normalize: NormalizePhone(cfg.DefaultCountryPrefix),
		progress:  NewProgress(cfg.ProgressGrace),
		delayMin:  cfg.DelayMin,
		delayMax:  cfg.DelayMax,
		log:       log,
	}
}

// Progress returns the snapshot accessor pollers read from.
func (d *Dispatcher) Progress() *Progress {
	return d.progress
}

// Active reports the campaign id of the in-flight run, if any.
func (d *Dispatcher) Active() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.activeID, d.running
}

// Dispatch validates the request, moves the campaign into sending and starts
// the send loop in the background. Precondition failures are returned as
// typed errors without mutating anything.
//
// The single-flight slot is claimed before the precondition checks run, so a
// concurrent Dispatch racing a request that is still failing its checks can
// get ErrBusy instead of its own precondition error. That window is brief
// and ErrBusy is retryable, so the slot is not re-checked afterwards.
func (d *Dispatcher) Dispatch(ctx context.Context, campaignID string) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return ErrBusy
	}
	d.running = true
	d.activeID = campaignID
	d.mu.Unlock()

	camp, deliveries, err := d.begin(ctx, campaignID)
	if err != nil {
		d.release()
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	d.cancelRun = cancel
	d.mu.Unlock()

	d.wg.Add(1)
	go d.run(runCtx, camp, deliveries)
	return nil
}

// begin checks preconditions and, only once all of them pass, marks the
// campaign sending, snapshots one pending delivery per contact and
// initializes progress.
func (d *Dispatcher) begin(ctx context.Context, campaignID string) (*models.Campaign, []models.Delivery, error) {
	if !d.client.Ready() {
		return nil, nil, ErrGatewayNotReady
	}

	camp, err := d.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, nil, fmt.Errorf("load campaign: %w", err)
	}
	if camp == nil {
		return nil, nil, ErrCampaignNotFound
	}
	if camp.Status != models.CampaignDraft {
		return nil, nil, ErrInvalidCampaignState
	}

	contacts, err := d.store.ListContacts(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load contacts: %w", err)
	}
	if len(contacts) == 0 {
		return nil, nil, ErrNoRecipients
	}

	now := time.Now().UTC()
	deliveries := make([]models.Delivery, 0, len(contacts))
	for _, c := range contacts {
		deliveries = append(deliveries, models.Delivery{
			ID:         models.NewID("dlv"),
			CampaignID: camp.ID,
			ContactID:  c.ID,
			Phone:      c.Phone,
			Body:       camp.Body,
			Status:     models.DeliveryPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}

	// Single transaction: the status flip and the delivery snapshot land
	// together, so a storage error here leaves the campaign in draft and
	// it can simply be dispatched again.
	if err := d.store.StartCampaign(ctx, camp.ID, deliveries); err != nil {
		return nil, nil, fmt.Errorf("start campaign: %w", err)
	}

	d.progress.Begin(camp.ID, len(deliveries))

	d.log.Info().
		Str("campaign_id", camp.ID).
		Str("name", camp.Name).
		Int("recipients", len(deliveries)).
		Msg("campaign dispatch started")

	return camp, deliveries, nil
}

func (d *Dispatcher) run(ctx context.Context, camp *models.Campaign, deliveries []models.Delivery) {
	defer d.wg.Done()

	total := len(deliveries)
	sent, failed, attempted := 0, 0, 0
	abortDetail := ""

	for i, dlv := range deliveries {
		select {
		case <-ctx.Done():
			abortDetail = detailCancelled
		default:
		}
		if abortDetail == "" && !d.client.Ready() {
			abortDetail = detailDisconnected
		}
		if abortDetail != "" {
			// Fail every unattempted recipient in one pass and stop.
			if _, err := d.store.FailPendingDeliveries(context.Background(), camp.ID, abortDetail); err != nil {
				d.log.Error().Err(err).Str("campaign_id", camp.ID).Msg("failed to abort pending deliveries")
			}
			d.progress.Record(0, total-attempted)
			failed += total - attempted
			d.log.Warn().
				Str("campaign_id", camp.ID).
				Str("reason", abortDetail).
				Int("remaining", total-attempted).
				Msg("send loop aborted")
			break
		}

		phone := d.normalize(dlv.Phone)
		err := d.client.Send(ctx, phone, dlv.Body)
		attempted++

		if err != nil {
			if uerr := d.store.MarkDeliveryFailed(context.Background(), dlv.ID, err.Error()); uerr != nil {
				d.log.Error().Err(uerr).Str("delivery_id", dlv.ID).Msg("failed to record delivery failure")
			}
			failed++
			d.progress.Record(0, 1)
			d.log.Warn().
				Str("delivery_id", dlv.ID).
				Str("phone", phone).
				Err(err).
				Msg("delivery failed")
		} else {
			if uerr := d.store.MarkDeliverySent(context.Background(), dlv.ID, time.Now().UTC()); uerr != nil {
				d.log.Error().Err(uerr).Str("delivery_id", dlv.ID).Msg("failed to record delivery success")
			}
			sent++
			d.progress.Record(1, 0)
			d.log.Info().
				Str("delivery_id", dlv.ID).
				Str("phone", phone).
				Msg("delivery sent")
		}

		if i < total-1 {
			d.waitBetween(ctx)
		}
	}

	status := finalStatus(sent, failed, attempted, abortDetail)

	// Terminal writes run on a fresh context so a shutdown cancel cannot
	// lose the final status.
	if err := d.store.UpdateCampaignStatus(context.Background(), camp.ID, status, sent, failed, total); err != nil {
		d.log.Error().Err(err).Str("campaign_id", camp.ID).Msg("failed to finalize campaign")
	}

	d.progress.Complete()
	d.release()

	d.log.Info().
		Str("campaign_id", camp.ID).
		Str("status", string(status)).
		Int("sent", sent).
		Int("failed", failed).
		Int("total", total).
		Msg("campaign finished")
}

// finalStatus: failed only when the run aborted before a single recipient
// was attempted; otherwise the normal completed / completed_with_errors rule.
func finalStatus(sent, failed, attempted int, abortDetail string) models.CampaignStatus {
	if attempted == 0 && abortDetail != "" {
		return models.CampaignFailed
	}
	if failed == 0 {
		return models.CampaignCompleted
	}
	return models.CampaignCompletedWithErrors
}

// waitBetween sleeps the jittered inter-send delay, returning early if the
// run is cancelled. The cancellation itself is handled at the top of the
// next loop iteration.
func (d *Dispatcher) waitBetween(ctx context.Context) {
	delay := d.delayMin
	if d.delayMax > d.delayMin {
		delay += time.Duration(rand.Int63n(int64(d.delayMax - d.delayMin)))
	}
	if delay <= 0 {
		return
	}

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// CancelCampaign aborts the in-flight run if it matches id. Remaining
// recipients are failed with a cancelled detail and the campaign finalizes
// as usual.
func (d *Dispatcher) CancelCampaign(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running || d.activeID != id || d.cancelRun == nil {
		return false
	}
	d.cancelRun()
	return true
}

// Shutdown cancels any in-flight run and blocks until it has finalized.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	if d.cancelRun != nil {
		d.cancelRun()
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// Wait blocks until the current run, if any, has finalized. Used by the CLI
// to run a dispatch synchronously.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) release() {
	d.mu.Lock()
	d.running = false
	d.activeID = ""
	if d.cancelRun != nil {
		d.cancelRun()
		d.cancelRun = nil
	}
	d.mu.Unlock()
}

// Reconcile finalizes campaigns left in sending by a crash or kill. Their
// still-pending deliveries are failed with an interrupted detail and the
// campaign status is derived from the recorded outcomes.
func (d *Dispatcher) Reconcile(ctx context.Context) error {
	stuck, err := d.store.ListCampaignsByStatus(ctx, models.CampaignSending)
	if err != nil {
		return fmt.Errorf("list stuck campaigns: %w", err)
	}

	for _, c := range stuck {
		n, err := d.store.FailPendingDeliveries(ctx, c.ID, detailInterrupted)
		if err != nil {
			return fmt.Errorf("fail pending deliveries for %s: %w", c.ID, err)
		}

		counts, err := d.store.CountDeliveriesByStatus(ctx, c.ID)
		if err != nil {
			return fmt.Errorf("count deliveries for %s: %w", c.ID, err)
		}
		sent := counts[models.DeliverySent]
		failed := counts[models.DeliveryFailed]
		total := sent + failed

		status := models.CampaignCompletedWithErrors
		switch {
		case sent == 0:
			status = models.CampaignFailed
		case failed == 0:
			status = models.CampaignCompleted
		}

		if err := d.store.UpdateCampaignStatus(ctx, c.ID, status, sent, failed, total); err != nil {
			return fmt.Errorf("finalize %s: %w", c.ID, err)
		}

		d.log.Warn().
			Str("campaign_id", c.ID).
			Int64("interrupted", n).
			Str("status", string(status)).
			Msg("reconciled campaign stuck in sending")
	}
	return nil
}
