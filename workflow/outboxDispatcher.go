package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/metal_ledger/config"
	"github.com/mmdatafocus/metal_ledger/models"
	"github.com/mmdatafocus/metal_ledger/utils"
	"github.com/sirupsen/logrus"
)

// PublishFunc sends one ledger event and returns the broker's message id.
type PublishFunc func(ctx context.Context, msg config.LedgerEventMessage) (string, error)

// OutboxDispatcher publishes ledger outbox rows after their transaction committed.
// It runs across organizations.
type OutboxDispatcher struct {
	Store        models.Store
	Logger       *logrus.Logger
	Publish      PublishFunc
	DispatcherID string
	Clock        func() time.Time

	BatchSize      int
	PollInterval   time.Duration
	LockTimeout    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
}

func NewOutboxDispatcher(store models.Store, logger *logrus.Logger) *OutboxDispatcher {
	return &OutboxDispatcher{
		Store:          store,
		Logger:         logger,
		Publish:        config.PublishLedgerEventWithResult,
		DispatcherID:   uuid.NewString(),
		Clock:          utcNow,
		BatchSize:      50,
		PollInterval:   500 * time.Millisecond,
		LockTimeout:    30 * time.Second,
		MaxAttempts:    20,
		InitialBackoff: 5 * time.Second,
	}
}

func (d *OutboxDispatcher) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.PollInterval):
		}
	}
}

// DispatchOnce claims one batch and publishes it. It returns the number of rows sent.
func (d *OutboxDispatcher) DispatchOnce(ctx context.Context) int {
	if d.Store == nil || d.Publish == nil {
		return 0
	}
	now := d.Clock()
	staleBefore := now.Add(-d.LockTimeout)

	claimed, err := d.Store.ClaimOutbox(ctx, d.DispatcherID, now, staleBefore, d.BatchSize, d.MaxAttempts)
	if err != nil {
		config.LogError(d.Logger, "outboxDispatcher.go", "DispatchOnce", "ClaimOutbox", d.DispatcherID, err)
		return 0
	}

	sent := 0
	for _, rec := range claimed {
		// rows past MaxAttempts were marked DEAD by the claim
		if rec.PublishStatus == models.OutboxPublishStatusDead {
			continue
		}
		recCtx := utils.SetOrganizationIdInContext(ctx, rec.OrganizationId)
		if rec.CorrelationId != "" {
			recCtx = utils.SetCorrelationIdInContext(recCtx, rec.CorrelationId)
		}
		pubID, pubErr := d.Publish(recCtx, models.ConvertToLedgerEvent(rec))
		if pubErr != nil {
			d.markPublishFailed(recCtx, rec, pubErr)
			continue
		}
		if err := d.Store.MarkOutboxSent(recCtx, rec.ID, pubID, now); err != nil {
			config.LogError(d.Logger, "outboxDispatcher.go", "DispatchOnce", "MarkOutboxSent", rec.ID, err)
			continue
		}
		sent++
	}
	return sent
}

// retryDelay doubles InitialBackoff per attempt, capped at ten minutes.
func (d *OutboxDispatcher) retryDelay(attempt int) time.Duration {
	delay := d.InitialBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay > 10*time.Minute {
			return 10 * time.Minute
		}
	}
	return delay
}

func (d *OutboxDispatcher) markPublishFailed(ctx context.Context, rec models.LedgerOutboxRecord, err error) {
	msg := err.Error()
	attempt := rec.PublishAttempts

	if d.MaxAttempts > 0 && attempt >= d.MaxAttempts {
		_ = d.Store.MarkOutboxFailed(ctx, rec.ID, msg, nil, true)
		if d.Logger != nil {
			d.Logger.WithFields(logrus.Fields{
				"field":           "OutboxDispatcher",
				"organization_id": rec.OrganizationId,
				"record_id":       rec.ID,
				"attempt":         attempt,
			}).Error("outbox publish moved to DEAD after max attempts: " + fmt.Sprintf("%v", err))
		}
		return
	}

	next := d.Clock().Add(d.retryDelay(attempt))
	_ = d.Store.MarkOutboxFailed(ctx, rec.ID, msg, &next, false)
	if d.Logger != nil {
		d.Logger.WithFields(logrus.Fields{
			"field":           "OutboxDispatcher",
			"organization_id": rec.OrganizationId,
			"record_id":       rec.ID,
			"attempt":         attempt,
			"next_attempt_at": next.Format(time.RFC3339Nano),
		}).Error("outbox publish failed: " + fmt.Sprintf("%v", err))
	}
}
