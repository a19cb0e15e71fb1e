package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mmdatafocus/metal_ledger/config"
	"github.com/mmdatafocus/metal_ledger/models"
	"github.com/mmdatafocus/metal_ledger/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	sent []config.LedgerEventMessage
	fail error
}

func (p *recordingPublisher) publish(ctx context.Context, msg config.LedgerEventMessage) (string, error) {
	if p.fail != nil {
		return "", p.fail
	}
	if org, _ := utils.GetOrganizationIdFromContext(ctx); org != msg.OrganizationId {
		return "", fmt.Errorf("context organization %q, message organization %q", org, msg.OrganizationId)
	}
	p.sent = append(p.sent, msg)
	return fmt.Sprintf("msg-%d", msg.ID), nil
}

func newTestDispatcher(f *fixture, pub *recordingPublisher, now *time.Time) *OutboxDispatcher {
	d := NewOutboxDispatcher(f.store, f.logger)
	d.Publish = pub.publish
	d.Clock = func() time.Time { return *now }
	d.InitialBackoff = time.Second
	return d
}

func (f *fixture) allocateOnce(t *testing.T, doc string) {
	p := f.product(t, models.ProductUnitGrams)
	f.lot(t, p.ID, "10", "2024-01-01")
	_, err := f.allocation.Allocate(f.ctx, AllocationRequest{ProductId: p.ID, QuantityNeeded: dec("1"), DocumentRef: doc})
	require.NoError(t, err)
}

func TestDispatchOncePublishesPendingRecords(t *testing.T) {
	f := newFixture()
	f.allocateOnce(t, "SALE-1")
	f.allocateOnce(t, "SALE-2")

	pub := &recordingPublisher{}
	now := testNow
	d := newTestDispatcher(f, pub, &now)

	assert.Equal(t, 2, d.DispatchOnce(context.Background()))
	require.Len(t, pub.sent, 2)
	assert.Equal(t, models.OutboxActionAllocationCommitted, pub.sent[0].Action)
	assert.Less(t, pub.sent[0].ID, pub.sent[1].ID)

	for _, rec := range f.store.Outbox(f.ctx) {
		assert.Equal(t, models.OutboxPublishStatusSent, rec.PublishStatus)
		require.NotNil(t, rec.PubSubMessageId)
		assert.Equal(t, fmt.Sprintf("msg-%d", rec.ID), *rec.PubSubMessageId)
	}
	assert.Zero(t, d.DispatchOnce(context.Background()))
}

func TestDispatchOnceBacksOffAndRetries(t *testing.T) {
	f := newFixture()
	f.allocateOnce(t, "SALE-1")

	pub := &recordingPublisher{fail: errors.New("broker unavailable")}
	now := testNow
	d := newTestDispatcher(f, pub, &now)

	assert.Zero(t, d.DispatchOnce(context.Background()))
	rec := f.store.Outbox(f.ctx)[0]
	assert.Equal(t, models.OutboxPublishStatusFailed, rec.PublishStatus)
	assert.Equal(t, 1, rec.PublishAttempts)
	require.NotNil(t, rec.NextAttemptAt)
	assert.Equal(t, now.Add(time.Second), *rec.NextAttemptAt)
	require.NotNil(t, rec.LastPublishError)
	assert.Equal(t, "broker unavailable", *rec.LastPublishError)

	// not due yet
	pub.fail = nil
	assert.Zero(t, d.DispatchOnce(context.Background()))

	now = now.Add(2 * time.Second)
	assert.Equal(t, 1, d.DispatchOnce(context.Background()))
	rec = f.store.Outbox(f.ctx)[0]
	assert.Equal(t, models.OutboxPublishStatusSent, rec.PublishStatus)
	assert.Equal(t, 2, rec.PublishAttempts)
}

func TestDispatchOnceMovesExhaustedRecordsToDead(t *testing.T) {
	f := newFixture()
	f.allocateOnce(t, "SALE-1")

	pub := &recordingPublisher{fail: errors.New("broker unavailable")}
	now := testNow
	d := newTestDispatcher(f, pub, &now)
	d.MaxAttempts = 2

	for i := 0; i < 2; i++ {
		d.DispatchOnce(context.Background())
		now = now.Add(time.Hour)
	}
	rec := f.store.Outbox(f.ctx)[0]
	assert.Equal(t, models.OutboxPublishStatusDead, rec.PublishStatus)
	assert.Nil(t, rec.NextAttemptAt)

	pub.fail = nil
	assert.Zero(t, d.DispatchOnce(context.Background()))
	assert.Empty(t, pub.sent)
}

func TestRetryDelayIsCapped(t *testing.T) {
	d := &OutboxDispatcher{InitialBackoff: 5 * time.Second}
	assert.Equal(t, 5*time.Second, d.retryDelay(1))
	assert.Equal(t, 10*time.Second, d.retryDelay(2))
	assert.Equal(t, 40*time.Second, d.retryDelay(4))
	assert.Equal(t, 10*time.Minute, d.retryDelay(30))
}
