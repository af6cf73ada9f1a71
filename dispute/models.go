package dispute

import (
	"errors"
	"time"
)

// Status represents the lifecycle of a dispute record.
type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
	StatusClosed   Status = "closed"
)

// Outcome is the arbiter's ruling on a resolved dispute.
type Outcome string

const (
	// OutcomeFavorInitiator unwinds the exchange: items reopen and any
	// transferred points return to the initiator.
	OutcomeFavorInitiator Outcome = "favor_initiator"
	// OutcomeFavorRecipient lets the exchange stand and completes it if it
	// has not completed yet.
	OutcomeFavorRecipient Outcome = "favor_recipient"
	// OutcomeCancel unwinds the exchange like favor_initiator but records
	// no fault.
	OutcomeCancel Outcome = "cancel"
	// OutcomePartialRefund returns half the points to the initiator and
	// completes the exchange. Redemptions only.
	OutcomePartialRefund Outcome = "partial_refund"
)

var (
	ErrNotFound       = errors.New("dispute: not found")
	ErrAlreadyOpen    = errors.New("dispute: exchange already has an open dispute")
	ErrBadStatus      = errors.New("dispute: invalid status transition")
	ErrNotAuthorized  = errors.New("dispute: not authorized")
	ErrNotArbiter     = errors.New("dispute: arbiter role required")
	ErrInvalidOutcome = errors.New("dispute: invalid outcome")
)

// Record mirrors the disputes table.
type Record struct {
	ID          string
	ExchangeID  string
	RaisedBy    string
	Reason      string
	Description string
	Status      Status
	Outcome     *string
	ArbiterID   *string
	Notes       *string
	CreatedAt   time.Time
	ResolvedAt  *time.Time
}

// Outbox topics published on dispute transitions.
const (
	TopicRaised   = "dispute.raised"
	TopicResolved = "dispute.resolved"
)
