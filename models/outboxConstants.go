package models

// Outbox publish statuses for LedgerOutboxRecord.PublishStatus.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// Outbox reference types.
const (
	OutboxReferenceAllocation = "ALLOCATION"
	OutboxReferenceSettlement = "SETTLEMENT"
	OutboxReferenceLot        = "LOT"
)

// Outbox actions.
const (
	OutboxActionAllocationCommitted        = "ALLOCATION_COMMITTED"
	OutboxActionAllocationReversed         = "ALLOCATION_REVERSED"
	OutboxActionCurrencySettlement         = "CURRENCY_SETTLEMENT"
	OutboxActionCurrencySettlementReversed = "CURRENCY_SETTLEMENT_REVERSED"
	OutboxActionUnitCorrectionConfirmed    = "UNIT_CORRECTION_CONFIRMED"
)
