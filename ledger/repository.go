package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Repository holds the tx-scoped ledger operations. Callers that compose
// multi-entity transitions (exchange accept, purchase, dispute refund) pass
// their own transaction so every arithmetic step commits or rolls back with
// the rest of the unit.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// EnsureAccount creates the balance and stats rows for a member if missing.
func (r *Repository) EnsureAccount(ctx context.Context, tx pgx.Tx, memberID string) error {
	if _, err := tx.Exec(ctx, `INSERT INTO points_balances (member_id) VALUES ($1) ON CONFLICT DO NOTHING`, memberID); err != nil {
		return fmt.Errorf("ledger: ensure balance: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO member_stats (member_id) VALUES ($1) ON CONFLICT DO NOTHING`, memberID); err != nil {
		return fmt.Errorf("ledger: ensure stats: %w", err)
	}
	return nil
}

// Credit increments balance and lifetime-earned in a single statement and
// appends the audit entry.
func (r *Repository) Credit(ctx context.Context, tx pgx.Tx, memberID string, amount int, reason string) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	if amount == 0 {
		return nil
	}

	tag, err := tx.Exec(ctx, `
		UPDATE points_balances
		SET balance = balance + $2,
		    lifetime_earned = lifetime_earned + $2
		WHERE member_id = $1
	`, memberID, amount)
	if err != nil {
		return fmt.Errorf("ledger: credit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}

	return r.appendEntry(ctx, tx, memberID, amount, reason)
}

// Debit decrements balance and increments lifetime-spent only when the
// balance covers the amount. The conditional UPDATE is the atomic primitive;
// there is no read-then-write window for concurrent debits to exploit.
func (r *Repository) Debit(ctx context.Context, tx pgx.Tx, memberID string, amount int, reason string) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	if amount == 0 {
		return nil
	}

	tag, err := tx.Exec(ctx, `
		UPDATE points_balances
		SET balance = balance - $2,
		    lifetime_spent = lifetime_spent + $2
		WHERE member_id = $1
		  AND balance >= $2
	`, memberID, amount)
	if err != nil {
		return fmt.Errorf("ledger: debit: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return r.appendEntry(ctx, tx, memberID, -amount, reason)
	}

	var balance int
	err = tx.QueryRow(ctx, `SELECT balance FROM points_balances WHERE member_id = $1`, memberID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("ledger: debit balance check: %w", err)
	}
	return fmt.Errorf("%w: short by %d", ErrInsufficientPoints, amount-balance)
}

// Transfer moves points from one member to another inside the caller's
// transaction. The debit guards the balance; the credit cannot logically
// fail, so the pair behaves as a single unit.
func (r *Repository) Transfer(ctx context.Context, tx pgx.Tx, fromID, toID string, amount int, reason string) error {
	if err := r.Debit(ctx, tx, fromID, amount, reason); err != nil {
		return err
	}
	return r.Credit(ctx, tx, toID, amount, reason)
}

// GrantOnce records an achievement key for the member. It reports true only
// for the insert that wins; replays and concurrent grants see false.
func (r *Repository) GrantOnce(ctx context.Context, tx pgx.Tx, memberID, key string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO achievements (member_id, key) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, memberID, key)
	if err != nil {
		return false, fmt.Errorf("ledger: grant achievement %s: %w", key, err)
	}
	return tag.RowsAffected() > 0, nil
}

// IncrementItemsListed bumps the listing counter consumed by milestone rules.
func (r *Repository) IncrementItemsListed(ctx context.Context, tx pgx.Tx, memberID string) error {
	if _, err := tx.Exec(ctx, `UPDATE member_stats SET items_listed = items_listed + 1 WHERE member_id = $1`, memberID); err != nil {
		return fmt.Errorf("ledger: increment items listed: %w", err)
	}
	return nil
}

// IncrementExchangesCompleted bumps the completion counter for one member.
func (r *Repository) IncrementExchangesCompleted(ctx context.Context, tx pgx.Tx, memberID string) error {
	if _, err := tx.Exec(ctx, `UPDATE member_stats SET exchanges_completed = exchanges_completed + 1 WHERE member_id = $1`, memberID); err != nil {
		return fmt.Errorf("ledger: increment exchanges completed: %w", err)
	}
	return nil
}

// GetBalance reads the balance row through a pool or an open transaction.
func (r *Repository) GetBalance(ctx context.Context, q Querier, memberID string) (Balance, error) {
	var b Balance
	err := q.QueryRow(ctx, `
		SELECT member_id, balance, lifetime_earned, lifetime_spent
		FROM points_balances
		WHERE member_id = $1
	`, memberID).Scan(&b.MemberID, &b.Balance, &b.LifetimeEarned, &b.LifetimeSpent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{}, ErrAccountNotFound
		}
		return Balance{}, fmt.Errorf("ledger: get balance: %w", err)
	}
	return b, nil
}

func (r *Repository) appendEntry(ctx context.Context, tx pgx.Tx, memberID string, delta int, reason string) error {
	if _, err := tx.Exec(ctx, `
		INSERT INTO ledger_entries (member_id, delta, reason) VALUES ($1, $2, $3)
	`, memberID, delta, reason); err != nil {
		return fmt.Errorf("ledger: append entry: %w", err)
	}
	return nil
}
