package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

var (
	// ErrInvalidAmount signals a negative credit or debit amount.
	ErrInvalidAmount = errors.New("ledger: invalid amount")
	// ErrInsufficientPoints signals the member's balance cannot cover the debit.
	ErrInsufficientPoints = errors.New("ledger: insufficient points")
	// ErrAccountNotFound signals no balance row exists for the member.
	ErrAccountNotFound = errors.New("ledger: account not found")
)

// Balance mirrors the points_balances table. The balance always equals
// lifetime earned minus lifetime spent and never goes negative.
type Balance struct {
	MemberID       string
	Balance        int
	LifetimeEarned int
	LifetimeSpent  int
}

// Entry is one append-only audit row for a credit or debit.
type Entry struct {
	ID        int64
	MemberID  string
	Delta     int
	Reason    string
	CreatedAt time.Time
}

// Stats mirrors the member_stats counters consumed by milestone rules.
type Stats struct {
	MemberID           string
	ItemsListed        int
	ExchangesCompleted int
}

// Querier is the read surface satisfied by both *pgxpool.Pool and pgx.Tx.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
