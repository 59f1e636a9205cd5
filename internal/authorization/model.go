package authorization

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/splitledger/splitledger/internal/money"
)

var (
	// ErrDecisionNotFound indicates no cached decision exists for the key.
	ErrDecisionNotFound = errors.New("authorization decision not found")

	// ErrInstrumentNotFound indicates the referenced authorizing instrument
	// does not exist in the ledger.
	ErrInstrumentNotFound = errors.New("authorizing instrument not found")

	// ErrInvalidInput indicates a malformed preflight request.
	ErrInvalidInput = errors.New("invalid preflight input")
)

// PolicyType names one of the known preflight checks. Unknown types are
// skipped with a warning and never block.
type PolicyType string

const (
	PolicyRequireInstrument PolicyType = "require_instrument"
	PolicyBudgetCap         PolicyType = "budget_cap"
	PolicyProjectionGuard   PolicyType = "projection_guard"
)

// Severity determines how a violation resolves: hard violations block, soft
// violations warn when no hard violation is present.
type Severity string

const (
	SeverityHard Severity = "hard"
	SeveritySoft Severity = "soft"
)

// PolicyConfig carries the type-specific parameters of a policy. Only the
// fields relevant to the policy's type are populated.
type PolicyConfig struct {
	// require_instrument: amounts above the threshold need a valid instrument.
	ThresholdCents money.Cents `json:"threshold_cents,omitempty"`

	// budget_cap: projected period spend must stay at or below the cap.
	CapCents money.Cents `json:"cap_cents,omitempty"`
	Period   CapPeriod   `json:"period,omitempty"`
	Category string      `json:"category,omitempty"`
	Timezone string      `json:"timezone,omitempty"`

	// projection_guard: post-spend cash coverage of pending obligations.
	MinCoverageRatio float64 `json:"min_coverage_ratio,omitempty"`
}

// Policy is one configured preflight rule, evaluated in ascending priority
// order.
type Policy struct {
	ID        uuid.UUID
	LedgerID  uuid.UUID
	Type      PolicyType
	Config    PolicyConfig
	Severity  Severity
	Priority  int
	Active    bool
	CreatedAt time.Time
}

// InstrumentStatus marks whether an authorizing instrument is usable.
type InstrumentStatus string

const (
	InstrumentActive      InstrumentStatus = "active"
	InstrumentInvalidated InstrumentStatus = "invalidated"
)

// Instrument is a registered proof of authorization, such as a purchase
// order or contract.
type Instrument struct {
	ID        uuid.UUID
	LedgerID  uuid.UUID
	Name      string
	Status    InstrumentStatus
	CreatedAt time.Time
}

// ProposedTransaction is the economic event a caller wants vetted before any
// money moves.
type ProposedTransaction struct {
	AmountCents  money.Cents `json:"amount_cents"`
	Currency     string      `json:"currency,omitempty"`
	Counterparty string      `json:"counterparty,omitempty"`
	InstrumentID *uuid.UUID  `json:"instrument_id,omitempty"`
	ExpectedDate *time.Time  `json:"expected_date,omitempty"`
	Category     string      `json:"category,omitempty"`
}

// Violation describes one policy the proposal fell foul of.
type Violation struct {
	PolicyID   uuid.UUID  `json:"policy_id"`
	PolicyType PolicyType `json:"policy_type"`
	Severity   Severity   `json:"severity"`
	Reason     string     `json:"reason"`
}

// Verdict is the resolved outcome of a preflight evaluation.
type Verdict string

const (
	VerdictAllowed Verdict = "allowed"
	VerdictWarn    Verdict = "warn"
	VerdictBlocked Verdict = "blocked"
)

// Decision is a persisted preflight outcome, cached by idempotency key until
// it expires. Decisions are never mutated; an expired decision is deleted and
// recreated by a fresh evaluation.
type Decision struct {
	ID             uuid.UUID
	LedgerID       uuid.UUID
	IdempotencyKey string
	Proposed       ProposedTransaction
	Verdict        Verdict
	Violations     []Violation
	ExpiresAt      time.Time
	CreatedAt      time.Time

	// Cached reports that this decision was served from the idempotency
	// cache rather than evaluated fresh. Not persisted.
	Cached bool
}

// Resolve applies the two-tier severity override: any hard violation blocks,
// else any soft violation warns, else the proposal is allowed.
func Resolve(violations []Violation) Verdict {
	verdict := VerdictAllowed
	for _, v := range violations {
		if v.Severity == SeverityHard {
			return VerdictBlocked
		}
		verdict = VerdictWarn
	}
	return verdict
}
