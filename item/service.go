package item

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"threadswap/ledger"
)

// Service owns the catalog-side item operations: listing, soft removal, and
// likes. Availability-state transitions stay with the exchange engine, which
// calls the Repository inside its own transactions.
type Service struct {
	pool   *pgxpool.Pool
	repo   *Repository
	ledger *ledger.Repository
	points *ledger.Service
}

func NewService(pool *pgxpool.Pool, points *ledger.Service) *Service {
	return &Service{
		pool:   pool,
		repo:   NewRepository(),
		ledger: ledger.NewRepository(),
		points: points,
	}
}

// Create lists a new item and grants the listing rewards in the same
// transaction. Milestone recalculation runs after commit and is best-effort.
func (s *Service) Create(ctx context.Context, params CreateParams) (Item, error) {
	if params.OwnerID == "" {
		return Item{}, fmt.Errorf("item: owner id required")
	}
	if params.Title == "" || params.Category == "" {
		return Item{}, fmt.Errorf("item: title and category required")
	}
	if params.Points < 1 || params.Points > 1000 {
		return Item{}, ErrInvalidPoints
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Item{}, fmt.Errorf("item: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertSQL = `
		INSERT INTO items (owner_id, title, category, size, condition, points, swappable, redeemable)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + itemColumns

	it, err := scanItem(tx.QueryRow(ctx, insertSQL,
		params.OwnerID,
		params.Title,
		params.Category,
		params.Size,
		params.Condition,
		params.Points,
		params.Swappable,
		params.Redeemable,
	))
	if err != nil {
		return Item{}, fmt.Errorf("item: insert: %w", err)
	}

	if err := s.ledger.IncrementItemsListed(ctx, tx, params.OwnerID); err != nil {
		return Item{}, err
	}

	cfg := s.points.Config()
	if err := s.ledger.Credit(ctx, tx, params.OwnerID, cfg.ListingBase, ledger.ReasonItemListed); err != nil {
		return Item{}, err
	}
	first, err := s.ledger.GrantOnce(ctx, tx, params.OwnerID, ledger.AchievementFirstItemListed)
	if err != nil {
		return Item{}, err
	}
	if first {
		if err := s.ledger.Credit(ctx, tx, params.OwnerID, cfg.FirstListingBonus, ledger.ReasonFirstListingBonus); err != nil {
			return Item{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Item{}, fmt.Errorf("item: commit: %w", err)
	}

	if _, err := s.points.RecalcMilestones(ctx, params.OwnerID); err != nil {
		slog.Warn("item: milestone recalculation failed", "member_id", params.OwnerID, "error", err)
	}

	return it, nil
}

// Get returns an item by id.
func (s *Service) Get(ctx context.Context, id string) (Item, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id)
	it, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrNotFound
		}
		return Item{}, fmt.Errorf("item: get: %w", err)
	}
	return it, nil
}

// ListByOwner returns the member's items, newest first.
func (s *Service) ListByOwner(ctx context.Context, ownerID string, limit int) ([]Item, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+itemColumns+` FROM items
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("item: list by owner: %w", err)
	}
	defer rows.Close()

	items := make([]Item, 0, limit)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("item: scan: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("item: iterate: %w", err)
	}
	return items, nil
}

// Remove soft-removes an item by moving it to withdrawn. Items that are
// reserved or already exchanged cannot be removed.
func (s *Service) Remove(ctx context.Context, callerID, itemID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("item: begin remove tx: %w", err)
	}
	defer tx.Rollback(ctx)

	it, err := s.repo.GetForUpdate(ctx, tx, itemID)
	if err != nil {
		return err
	}
	if it.OwnerID != callerID {
		return ErrNotOwner
	}
	switch it.State {
	case StateAvailable, StateFlagged:
		// removable
	default:
		return ErrRemovalBlocked
	}

	if _, err := tx.Exec(ctx, `UPDATE items SET state = 'withdrawn', updated_at = now() WHERE id = $1`, itemID); err != nil {
		return fmt.Errorf("item: withdraw: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("item: commit remove: %w", err)
	}
	return nil
}

// Like credits the item owner the like-received reward. Liking your own item
// grants nothing.
func (s *Service) Like(ctx context.Context, callerID, itemID string) error {
	it, err := s.Get(ctx, itemID)
	if err != nil {
		return err
	}
	if it.OwnerID == callerID {
		return nil
	}
	return s.points.CreditMember(ctx, it.OwnerID, s.points.Config().LikeReceived, ledger.ReasonLikeReceived)
}
