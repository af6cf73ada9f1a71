package item

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Repository holds the tx-scoped item operations. Reservation transitions
// are single conditional UPDATEs: under concurrent contention exactly one
// caller observes a row change and everyone else gets a typed error.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

const itemColumns = `id, owner_id, title, category, size, condition, points, state::text, swappable, redeemable, created_at, updated_at`

// GetForUpdate loads the item and locks its row for the rest of the
// transaction, serializing every transition that touches it.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Item, error) {
	row := tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1 FOR UPDATE`, id)
	it, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrNotFound
		}
		return Item{}, fmt.Errorf("item: lock: %w", err)
	}
	return it, nil
}

// Reserve moves available -> reserved. Exactly one concurrent caller wins.
func (r *Repository) Reserve(ctx context.Context, tx pgx.Tx, id string) error {
	return r.transition(ctx, tx, id, StateAvailable, StateReserved, ErrUnavailable)
}

// Release moves reserved -> available; used on rejection, expiry, and cancellation.
func (r *Repository) Release(ctx context.Context, tx pgx.Tx, id string) error {
	return r.transition(ctx, tx, id, StateReserved, StateAvailable, ErrNotReserved)
}

// Finalize moves reserved -> exchanged at acceptance-time commit. The item is
// consumed once the exchange is accepted, before physical shipment completes.
func (r *Repository) Finalize(ctx context.Context, tx pgx.Tx, id string) error {
	return r.transition(ctx, tx, id, StateReserved, StateExchanged, ErrNotReserved)
}

// MarkExchanged moves available -> exchanged directly; the direct points
// purchase path collapses reserve and finalize into one step.
func (r *Repository) MarkExchanged(ctx context.Context, tx pgx.Tx, id string) error {
	return r.transition(ctx, tx, id, StateAvailable, StateExchanged, ErrUnavailable)
}

// Reopen returns a reserved or exchanged item to the pool. Dispute
// resolutions that cancel an exchange use it to undo the item disposition.
func (r *Repository) Reopen(ctx context.Context, tx pgx.Tx, id string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE items
		SET state = 'available', updated_at = now()
		WHERE id = $1 AND state IN ('reserved', 'exchanged')
	`, id)
	if err != nil {
		return fmt.Errorf("item: reopen: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotReserved
	}
	return nil
}

func (r *Repository) transition(ctx context.Context, tx pgx.Tx, id string, from, to State, wrongState error) error {
	tag, err := tx.Exec(ctx, `
		UPDATE items
		SET state = $3, updated_at = now()
		WHERE id = $1 AND state = $2
	`, id, from, to)
	if err != nil {
		return fmt.Errorf("item: transition %s -> %s: %w", from, to, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM items WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("item: transition check: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return wrongState
}

func scanItem(row pgx.Row) (Item, error) {
	var it Item
	err := row.Scan(
		&it.ID,
		&it.OwnerID,
		&it.Title,
		&it.Category,
		&it.Size,
		&it.Condition,
		&it.Points,
		&it.State,
		&it.Swappable,
		&it.Redeemable,
		&it.CreatedAt,
		&it.UpdatedAt,
	)
	if err != nil {
		return Item{}, err
	}
	return it, nil
}
