package workflow

// Standardized reasons for compensating movements.
// These are human-readable strings stored in the movement note.
const (
	ReversalReasonAllocation          = "Allocation reversal"
	ReversalReasonPureMetalAllocation = "Pure metal allocation reversal"
	ReversalReasonMetalSettlement     = "Metal settlement reversal"
)
