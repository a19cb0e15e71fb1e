package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mmdatafocus/metal_ledger/config"
	"github.com/mmdatafocus/metal_ledger/utils"
)

// LedgerOutboxRecord is written inside the ledger transaction and published after commit
// by the outbox dispatcher.
type LedgerOutboxRecord struct {
	ID               int        `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	OrganizationId   string     `gorm:"size:64;not null;index" json:"organization_id"`
	EventDateTime    time.Time  `gorm:"index;not null" json:"event_date_time"`
	ReferenceId      int        `gorm:"index" json:"reference_id"`
	ReferenceType    string     `gorm:"size:30;not null" json:"reference_type"`
	Action           string     `gorm:"size:50;not null" json:"action"`
	Payload          []byte     `gorm:"type:blob" json:"payload"`
	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	CorrelationId    string     `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// NewOutboxRecord marshals payload into a PENDING record stamped with the context's correlation id.
func NewOutboxRecord(ctx context.Context, organizationId string, eventTime time.Time, refType string, refId int, action string, payload any) (*LedgerOutboxRecord, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	cid, _ := utils.GetCorrelationIdFromContext(ctx)
	return &LedgerOutboxRecord{
		OrganizationId: organizationId,
		EventDateTime:  eventTime,
		ReferenceId:    refId,
		ReferenceType:  refType,
		Action:         action,
		Payload:        data,
		PublishStatus:  OutboxPublishStatusPending,
		CorrelationId:  cid,
	}, nil
}

func ConvertToLedgerEvent(record LedgerOutboxRecord) config.LedgerEventMessage {
	return config.LedgerEventMessage{
		ID:             record.ID,
		OrganizationId: record.OrganizationId,
		EventDateTime:  record.EventDateTime,
		ReferenceId:    record.ReferenceId,
		ReferenceType:  record.ReferenceType,
		Action:         record.Action,
		Payload:        record.Payload,
		CorrelationId:  record.CorrelationId,
	}
}
