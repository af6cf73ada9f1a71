package item

import (
	"errors"
	"time"
)

// State is the availability state of a tradable item. Only the exchange
// engine moves items between available, reserved, and exchanged; owners and
// moderation control withdrawn and flagged.
type State string

const (
	StateAvailable State = "available"
	StateReserved  State = "reserved"
	StateExchanged State = "exchanged"
	StateWithdrawn State = "withdrawn"
	StateFlagged   State = "flagged"
)

var (
	// ErrNotFound signals the item does not exist.
	ErrNotFound = errors.New("item: not found")
	// ErrUnavailable signals the item is not in the available state.
	ErrUnavailable = errors.New("item: unavailable")
	// ErrNotReserved signals a finalize or release hit an item that holds no reservation.
	ErrNotReserved = errors.New("item: not reserved")
	// ErrRemovalBlocked signals the item is reserved or mid-exchange and cannot be removed.
	ErrRemovalBlocked = errors.New("item: cannot remove while reserved or exchanged")
	// ErrNotOwner signals the caller does not own the item.
	ErrNotOwner = errors.New("item: not owned by caller")
	// ErrInvalidPoints signals a valuation outside the 1-1000 range.
	ErrInvalidPoints = errors.New("item: points valuation must be between 1 and 1000")
)

// Item mirrors the items table.
type Item struct {
	ID         string
	OwnerID    string
	Title      string
	Category   string
	Size       string
	Condition  string
	Points     int
	State      State
	Swappable  bool
	Redeemable bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CreateParams enumerates the fields required to list a new item.
type CreateParams struct {
	OwnerID    string
	Title      string
	Category   string
	Size       string
	Condition  string
	Points     int
	Swappable  bool
	Redeemable bool
}
