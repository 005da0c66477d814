package domain

import "time"

// ExecutionStatus is the terminal classification of one execution attempt.
// Every attempt lands in exactly one status.
type ExecutionStatus string

const (
	// ExecComplete means both legs filled.
	ExecComplete ExecutionStatus = "complete"
	// ExecNotExecuted means no leg was fired, or both legs were cleanly
	// rejected by their venues.
	ExecNotExecuted ExecutionStatus = "not_executed"
	// ExecFailed means the legs diverged: one filled while the other did
	// not, or an ambiguous outcome could not be reconciled.
	ExecFailed ExecutionStatus = "failed"
)

// LegResult is one leg's placement outcome as recorded durably.
type LegResult struct {
	Venue     Venue
	Side      OrderSide
	Contract  string
	Outcome   FillOutcome
	OrderID   string
	ReqPrice  float64
	FillPrice float64
	FillQty   float64
	FeesUSD   float64
	LatencyMs int64
	Detail    string
}

// ExecutionRecord is the durable record of one execution attempt. Exactly one
// record is written per attempt regardless of outcome.
type ExecutionRecord struct {
	ID            string
	OpportunityID string
	MappingID     string
	Status        ExecutionStatus
	IsDryRun      bool

	BuyLeg  LegResult
	SellLeg LegResult

	Quantity      float64
	RealizedPnL   float64
	TotalFeesUSD  float64
	FailureReason string

	StartedAt   time.Time
	CompletedAt time.Time
}

// DurationMs is the wall time from fire to final classification.
func (r ExecutionRecord) DurationMs() int64 {
	return r.CompletedAt.Sub(r.StartedAt).Milliseconds()
}
