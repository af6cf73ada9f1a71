package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"threadswap/item"
	"threadswap/ledger"
)

// DefaultExpiry is the window a pending request stays open before the system
// cancels it.
const DefaultExpiry = 7 * 24 * time.Hour

// Service drives the exchange state machine. It is the only component that
// instructs the item reservation and the points ledger to change state, and
// every transition runs in a single transaction spanning all touched rows.
type Service struct {
	db      DB
	items   *item.Repository
	ledger  *ledger.Repository
	points  *ledger.Service
	rewards ledger.RewardConfig
	expiry  time.Duration
	now     func() time.Time
}

func NewService(db DB, points *ledger.Service) *Service {
	return &Service{
		db:      db,
		items:   item.NewRepository(),
		ledger:  ledger.NewRepository(),
		points:  points,
		rewards: points.Config(),
		expiry:  DefaultExpiry,
		now:     time.Now,
	}
}

// CreateParams enumerates the request fields for a new exchange.
type CreateParams struct {
	InitiatorID     string
	RecipientItemID string
	Type            Type
	InitiatorItemID string // required when Type is swap
	Message         string
}

// Create validates every precondition, reserves the involved items, and
// records the exchange in pending. A failed precondition leaves all entities
// unchanged.
func (s *Service) Create(ctx context.Context, params CreateParams) (Exchange, error) {
	rec, err := s.create(ctx, params)
	if isDeadlock(err) {
		return Exchange{}, fmt.Errorf("%w: lost lock race", ErrItemUnavailable)
	}
	return rec, err
}

func (s *Service) create(ctx context.Context, params CreateParams) (Exchange, error) {
	if params.InitiatorID == "" || params.RecipientItemID == "" {
		return Exchange{}, fmt.Errorf("exchange: initiator and recipient item ids required")
	}
	switch params.Type {
	case TypeSwap:
		if params.InitiatorItemID == "" {
			return Exchange{}, ErrInitiatorItemInvalid
		}
	case TypeRedeem:
	default:
		return Exchange{}, fmt.Errorf("exchange: unknown type %q", params.Type)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Exchange{}, fmt.Errorf("exchange: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	target, err := s.items.GetForUpdate(ctx, tx, params.RecipientItemID)
	if err != nil {
		if errors.Is(err, item.ErrNotFound) {
			return Exchange{}, ErrItemUnavailable
		}
		return Exchange{}, err
	}
	if target.OwnerID == params.InitiatorID {
		return Exchange{}, ErrSelfTradeNotAllowed
	}
	if err := s.ensureTargetAvailable(ctx, tx, target); err != nil {
		return Exchange{}, err
	}
	if params.Type == TypeSwap && !target.Swappable {
		return Exchange{}, ErrItemUnavailable
	}
	if params.Type == TypeRedeem && !target.Redeemable {
		return Exchange{}, ErrItemUnavailable
	}

	points := 0
	var initiatorItemID *string
	if params.Type == TypeRedeem {
		bal, err := s.ledger.GetBalance(ctx, tx, params.InitiatorID)
		if err != nil {
			return Exchange{}, err
		}
		if bal.Balance < target.Points {
			return Exchange{}, fmt.Errorf("%w: short by %d", ledger.ErrInsufficientPoints, target.Points-bal.Balance)
		}
		points = target.Points
	} else {
		offered, err := s.items.GetForUpdate(ctx, tx, params.InitiatorItemID)
		if err != nil {
			if errors.Is(err, item.ErrNotFound) {
				return Exchange{}, ErrInitiatorItemInvalid
			}
			return Exchange{}, err
		}
		if offered.OwnerID != params.InitiatorID || offered.State != item.StateAvailable || !offered.Swappable {
			return Exchange{}, ErrInitiatorItemInvalid
		}
		initiatorItemID = &params.InitiatorItemID
	}

	if err := s.items.Reserve(ctx, tx, target.ID); err != nil {
		if errors.Is(err, item.ErrUnavailable) {
			return Exchange{}, ErrItemUnavailable
		}
		return Exchange{}, err
	}
	if initiatorItemID != nil {
		if err := s.items.Reserve(ctx, tx, *initiatorItemID); err != nil {
			if errors.Is(err, item.ErrUnavailable) {
				return Exchange{}, ErrInitiatorItemInvalid
			}
			return Exchange{}, err
		}
	}

	const insertSQL = `
		INSERT INTO exchanges (type, initiator_id, recipient_id, recipient_item_id, initiator_item_id, points, message, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + exchangeColumns

	rec, err := scanExchange(tx.QueryRow(ctx, insertSQL,
		params.Type,
		params.InitiatorID,
		target.OwnerID,
		target.ID,
		initiatorItemID,
		points,
		params.Message,
		s.now().Add(s.expiry),
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Exchange{}, ErrDuplicateActiveRequest
		}
		return Exchange{}, fmt.Errorf("exchange: insert: %w", err)
	}

	if err := AppendTimeline(ctx, tx, rec.ID, EventCreated, &params.InitiatorID, map[string]any{
		"type":   string(params.Type),
		"points": points,
	}); err != nil {
		return Exchange{}, err
	}
	if err := EnqueueOutbox(ctx, tx, TopicCreated, map[string]any{
		"exchange_id":  rec.ID,
		"initiator_id": rec.InitiatorID,
		"recipient_id": rec.RecipientID,
		"item_id":      rec.RecipientItemID,
		"type":         string(rec.Type),
	}); err != nil {
		return Exchange{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Exchange{}, fmt.Errorf("exchange: commit create: %w", err)
	}
	return rec, nil
}

// Accept finalizes the item reservations and settles points. Recipient only,
// pending only; the row lock serializes racing accept/reject calls so exactly
// one wins.
func (s *Service) Accept(ctx context.Context, actorID, exchangeID string) (Exchange, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Exchange{}, fmt.Errorf("exchange: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ex, err := s.lockExchange(ctx, tx, exchangeID)
	if err != nil {
		return Exchange{}, err
	}
	if ex.Status == StatusPending && s.now().After(ex.ExpiresAt) {
		if err := s.expireLocked(ctx, tx, ex); err != nil {
			return Exchange{}, err
		}
		if err := tx.Commit(ctx); err != nil {
			return Exchange{}, fmt.Errorf("exchange: commit expiry: %w", err)
		}
		return Exchange{}, fmt.Errorf("%w: request expired", ErrInvalidTransition)
	}
	if !ex.IsParty(actorID) {
		return Exchange{}, ErrNotAuthorized
	}
	if ex.Status != StatusPending || actorID != ex.RecipientID {
		return Exchange{}, ErrInvalidTransition
	}

	if err := s.items.Finalize(ctx, tx, ex.RecipientItemID); err != nil {
		return Exchange{}, err
	}
	if ex.InitiatorItemID != nil {
		if err := s.items.Finalize(ctx, tx, *ex.InitiatorItemID); err != nil {
			return Exchange{}, err
		}
	}

	switch ex.Type {
	case TypeRedeem:
		if err := s.ledger.Transfer(ctx, tx, ex.InitiatorID, ex.RecipientID, ex.Points, ledger.ReasonRedeemTransfer); err != nil {
			return Exchange{}, err
		}
	case TypeSwap:
		goodwill, err := s.goodwillForSwap(ctx, tx, ex)
		if err != nil {
			return Exchange{}, err
		}
		if goodwill > 0 {
			if err := s.ledger.Credit(ctx, tx, ex.InitiatorID, goodwill, ledger.ReasonAcceptanceGoodwill); err != nil {
				return Exchange{}, err
			}
			if err := s.ledger.Credit(ctx, tx, ex.RecipientID, goodwill, ledger.ReasonAcceptanceGoodwill); err != nil {
				return Exchange{}, err
			}
		}
	}

	updated, err := s.setStatus(ctx, tx, ex.ID, StatusAccepted)
	if err != nil {
		return Exchange{}, err
	}

	if err := AppendTimeline(ctx, tx, ex.ID, EventAccepted, &actorID, map[string]any{
		"type":   string(ex.Type),
		"points": ex.Points,
	}); err != nil {
		return Exchange{}, err
	}
	if err := EnqueueOutbox(ctx, tx, TopicAccepted, map[string]any{
		"exchange_id":  ex.ID,
		"initiator_id": ex.InitiatorID,
		"recipient_id": ex.RecipientID,
	}); err != nil {
		return Exchange{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Exchange{}, fmt.Errorf("exchange: commit accept: %w", err)
	}
	return updated, nil
}

// Reject releases the reservations and closes the request. Recipient only,
// pending only. No ledger effect.
func (s *Service) Reject(ctx context.Context, actorID, exchangeID string) (Exchange, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Exchange{}, fmt.Errorf("exchange: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ex, err := s.lockExchange(ctx, tx, exchangeID)
	if err != nil {
		return Exchange{}, err
	}
	if !ex.IsParty(actorID) {
		return Exchange{}, ErrNotAuthorized
	}
	if ex.Status != StatusPending || actorID != ex.RecipientID {
		return Exchange{}, ErrInvalidTransition
	}

	if err := s.releaseItems(ctx, tx, ex); err != nil {
		return Exchange{}, err
	}

	updated, err := s.setStatus(ctx, tx, ex.ID, StatusRejected)
	if err != nil {
		return Exchange{}, err
	}

	if err := AppendTimeline(ctx, tx, ex.ID, EventRejected, &actorID, nil); err != nil {
		return Exchange{}, err
	}
	if err := EnqueueOutbox(ctx, tx, TopicRejected, map[string]any{
		"exchange_id":  ex.ID,
		"initiator_id": ex.InitiatorID,
	}); err != nil {
		return Exchange{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Exchange{}, fmt.Errorf("exchange: commit reject: %w", err)
	}
	return updated, nil
}

// ExpirePending sweeps lapsed pending requests. Idempotent; safe to run from
// any number of concurrent schedulers thanks to SKIP LOCKED.
func (s *Service) ExpirePending(ctx context.Context) (int, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("exchange: begin sweep tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT `+exchangeColumns+`
		FROM exchanges
		WHERE status = 'pending' AND expires_at < now()
		FOR UPDATE SKIP LOCKED
		LIMIT 100
	`)
	if err != nil {
		return 0, fmt.Errorf("exchange: sweep query: %w", err)
	}
	lapsed := make([]Exchange, 0, 16)
	for rows.Next() {
		ex, err := scanExchange(rows)
		if err != nil {
			rows.Close()
			return 0, fmt.Errorf("exchange: sweep scan: %w", err)
		}
		lapsed = append(lapsed, ex)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("exchange: sweep iterate: %w", err)
	}

	for _, ex := range lapsed {
		if err := s.expireLocked(ctx, tx, ex); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("exchange: commit sweep: %w", err)
	}
	return len(lapsed), nil
}

// expireLocked cancels a pending exchange whose window lapsed. The caller
// holds the row lock. Equivalent to reject with the system as actor.
func (s *Service) expireLocked(ctx context.Context, tx pgx.Tx, ex Exchange) error {
	if err := s.releaseItems(ctx, tx, ex); err != nil {
		return err
	}
	if _, err := s.setStatus(ctx, tx, ex.ID, StatusCancelled); err != nil {
		return err
	}
	if err := AppendTimeline(ctx, tx, ex.ID, EventExpired, nil, map[string]any{
		"expires_at": ex.ExpiresAt.UTC(),
	}); err != nil {
		return err
	}
	return EnqueueOutbox(ctx, tx, TopicExpired, map[string]any{
		"exchange_id":  ex.ID,
		"initiator_id": ex.InitiatorID,
	})
}

func (s *Service) releaseItems(ctx context.Context, tx pgx.Tx, ex Exchange) error {
	if err := s.items.Release(ctx, tx, ex.RecipientItemID); err != nil && !errors.Is(err, item.ErrNotReserved) {
		return err
	}
	if ex.InitiatorItemID != nil {
		if err := s.items.Release(ctx, tx, *ex.InitiatorItemID); err != nil && !errors.Is(err, item.ErrNotReserved) {
			return err
		}
	}
	return nil
}

// ensureTargetAvailable resolves the reserved state lazily: a lapsed holder
// is expired in place, anything else is a duplicate active request.
func (s *Service) ensureTargetAvailable(ctx context.Context, tx pgx.Tx, target item.Item) error {
	switch target.State {
	case item.StateAvailable:
		return nil
	case item.StateReserved:
		holder, ok, err := s.pendingForItem(ctx, tx, target.ID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrItemUnavailable
		}
		if s.now().After(holder.ExpiresAt) {
			locked, err := s.lockExchange(ctx, tx, holder.ID)
			if err != nil {
				return err
			}
			if locked.Status == StatusPending {
				return s.expireLocked(ctx, tx, locked)
			}
		}
		return ErrDuplicateActiveRequest
	default:
		return ErrItemUnavailable
	}
}

func (s *Service) pendingForItem(ctx context.Context, tx pgx.Tx, itemID string) (Exchange, bool, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+exchangeColumns+`
		FROM exchanges
		WHERE recipient_item_id = $1 AND status = 'pending'
		LIMIT 1
	`, itemID)
	ex, err := scanExchange(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Exchange{}, false, nil
		}
		return Exchange{}, false, fmt.Errorf("exchange: pending lookup: %w", err)
	}
	return ex, true, nil
}

func (s *Service) goodwillForSwap(ctx context.Context, tx pgx.Tx, ex Exchange) (int, error) {
	if ex.InitiatorItemID == nil {
		return 0, nil
	}
	var sum int
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(points), 0) FROM items WHERE id IN ($1, $2)
	`, ex.RecipientItemID, *ex.InitiatorItemID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("exchange: goodwill valuation: %w", err)
	}
	return s.rewards.GoodwillCredit(sum), nil
}

// isDeadlock reports a Postgres deadlock abort (40P01). Create locks the item
// row before the lazy-expiry exchange lock while Accept locks the exchange
// first, so a racing pair can pick the item-first transaction as the victim.
func isDeadlock(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40P01"
}

func (s *Service) lockExchange(ctx context.Context, tx pgx.Tx, id string) (Exchange, error) {
	row := tx.QueryRow(ctx, `SELECT `+exchangeColumns+` FROM exchanges WHERE id = $1 FOR UPDATE`, id)
	ex, err := scanExchange(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Exchange{}, ErrNotFound
		}
		return Exchange{}, fmt.Errorf("exchange: lock: %w", err)
	}
	return ex, nil
}

func (s *Service) setStatus(ctx context.Context, tx pgx.Tx, id string, status Status) (Exchange, error) {
	row := tx.QueryRow(ctx, `
		UPDATE exchanges
		SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+exchangeColumns, id, status)
	ex, err := scanExchange(row)
	if err != nil {
		return Exchange{}, fmt.Errorf("exchange: set status %s: %w", status, err)
	}
	return ex, nil
}
