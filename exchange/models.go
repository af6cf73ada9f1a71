package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// Type distinguishes item-for-item swaps from points redemptions.
type Type string

const (
	TypeSwap   Type = "swap"
	TypeRedeem Type = "redeem"
)

// Status is the exchange lifecycle state. pending and accepted are the only
// non-terminal states; everything else is retained as history.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusCompleted Status = "completed"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions can leave the status,
// dispute resolution aside.
func (s Status) Terminal() bool {
	return s != StatusPending && s != StatusAccepted
}

// Timeline event types, append-only per exchange.
const (
	EventCreated         = "EXCHANGE_CREATED"
	EventAccepted        = "EXCHANGE_ACCEPTED"
	EventRejected        = "EXCHANGE_REJECTED"
	EventExpired         = "EXCHANGE_EXPIRED"
	EventShipmentMarked  = "SHIPMENT_MARKED"
	EventReceiptRecorded = "RECEIPT_CONFIRMED"
	EventCompleted       = "EXCHANGE_COMPLETED"
	EventRated           = "EXCHANGE_RATED"
	EventDisputeRaised   = "DISPUTE_RAISED"
	EventDisputeResolved = "DISPUTE_RESOLVED"
)

// Outbox topics published for the notification collaborator.
const (
	TopicCreated   = "exchange.created"
	TopicAccepted  = "exchange.accepted"
	TopicRejected  = "exchange.rejected"
	TopicExpired   = "exchange.expired"
	TopicCompleted = "exchange.completed"
	TopicPurchased = "exchange.purchased"
)

var (
	// ErrNotFound signals the exchange does not exist.
	ErrNotFound = errors.New("exchange: not found")
	// ErrItemUnavailable signals the target item cannot be traded right now.
	ErrItemUnavailable = errors.New("exchange: item unavailable")
	// ErrDuplicateActiveRequest signals another active request already holds the item.
	ErrDuplicateActiveRequest = errors.New("exchange: item already has an active request")
	// ErrSelfTradeNotAllowed signals the initiator owns the target item.
	ErrSelfTradeNotAllowed = errors.New("exchange: cannot trade for your own item")
	// ErrInitiatorItemInvalid signals the offered item is missing, not owned, or not available.
	ErrInitiatorItemInvalid = errors.New("exchange: initiator item invalid")
	// ErrInvalidTransition signals the exchange is not in a status that permits the action.
	ErrInvalidTransition = errors.New("exchange: invalid state transition")
	// ErrAlreadyRated signals the caller already rated this exchange.
	ErrAlreadyRated = errors.New("exchange: already rated")
	// ErrNotAuthorized signals the actor is neither party to the exchange.
	ErrNotAuthorized = errors.New("exchange: not authorized")
	// ErrInvalidRating signals a rating outside the 1-5 range.
	ErrInvalidRating = errors.New("exchange: rating must be between 1 and 5")
)

// Exchange is the transaction record governing one swap or redemption.
type Exchange struct {
	ID              string
	Type            Type
	Status          Status
	InitiatorID     string
	RecipientID     string
	RecipientItemID string
	InitiatorItemID *string
	Points          int
	Message         string
	ExpiresAt       time.Time

	InitiatorTracking   *string
	InitiatorShippedAt  *time.Time
	RecipientTracking   *string
	RecipientShippedAt  *time.Time
	InitiatorReceivedAt *time.Time
	RecipientReceivedAt *time.Time

	InitiatorRating        *int
	InitiatorRatingComment *string
	RecipientRating        *int
	RecipientRatingComment *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsParty reports whether the member is the initiator or the recipient.
func (e Exchange) IsParty(memberID string) bool {
	return memberID == e.InitiatorID || memberID == e.RecipientID
}

// TimelineEvent is one append-only lifecycle entry.
type TimelineEvent struct {
	ID         int64
	ExchangeID string
	Seq        int
	Type       string
	ActorID    *string
	Payload    []byte
	CreatedAt  time.Time
}

// DB is the surface of *pgxpool.Pool the service depends on; tests substitute fakes.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
