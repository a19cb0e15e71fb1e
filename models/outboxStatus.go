package models

import "time"

// OutboxFilter narrows ListOutbox. Zero fields match everything.
type OutboxFilter struct {
	ReferenceType string
	ReferenceId   int
	PublishStatus string
	Limit         int
}

// OutboxStatus is the operator view of one outbox row. The payload is left out.
type OutboxStatus struct {
	RecordId         int        `json:"record_id"`
	ReferenceType    string     `json:"reference_type"`
	ReferenceId      int        `json:"reference_id"`
	Action           string     `json:"action"`
	PublishStatus    string     `json:"publish_status"`
	IsPublished      bool       `json:"is_published"`
	PublishAttempts  int        `json:"publish_attempts"`
	NextAttemptAt    *time.Time `json:"next_attempt_at"`
	LastPublishError *string    `json:"last_publish_error"`
	CorrelationId    string     `json:"correlation_id"`
	CreatedAt        time.Time  `json:"created_at"`
	PublishedAt      *time.Time `json:"published_at"`
}

func NewOutboxStatus(rec LedgerOutboxRecord) OutboxStatus {
	return OutboxStatus{
		RecordId:         rec.ID,
		ReferenceType:    rec.ReferenceType,
		ReferenceId:      rec.ReferenceId,
		Action:           rec.Action,
		PublishStatus:    rec.PublishStatus,
		IsPublished:      rec.PublishStatus == OutboxPublishStatusSent,
		PublishAttempts:  rec.PublishAttempts,
		NextAttemptAt:    rec.NextAttemptAt,
		LastPublishError: rec.LastPublishError,
		CorrelationId:    rec.CorrelationId,
		CreatedAt:        rec.CreatedAt,
		PublishedAt:      rec.PublishedAt,
	}
}
