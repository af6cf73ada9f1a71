package dispute

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"threadswap/exchange"
	"threadswap/item"
	"threadswap/ledger"
)

const disputeColumns = `id, exchange_id, raised_by, reason, description, status::text, outcome, arbiter_id, notes, created_at, resolved_at`

// exchangeView is the slice of the exchanges row dispute resolution needs.
type exchangeView struct {
	ID              string
	Type            exchange.Type
	Status          exchange.Status
	InitiatorID     string
	RecipientID     string
	RecipientItemID string
	InitiatorItemID *string
	Points          int
}

// Service handles raising and resolving disputes. Resolution is the one path
// allowed to move an exchange out of accepted or completed, so it reuses the
// same row-lock discipline the exchange engine uses.
type Service struct {
	db     exchange.DB
	items  *item.Repository
	ledger *ledger.Repository
}

func NewService(db exchange.DB) *Service {
	return &Service{
		db:     db,
		items:  item.NewRepository(),
		ledger: ledger.NewRepository(),
	}
}

// Raise opens a dispute on an accepted or completed exchange. Either party
// may raise one; the partial unique index keeps at most one open per
// exchange.
func (s *Service) Raise(ctx context.Context, actorID, exchangeID, reason, description string) (Record, error) {
	if reason == "" {
		return Record{}, fmt.Errorf("dispute: reason required")
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ex, err := lockExchange(ctx, tx, exchangeID)
	if err != nil {
		return Record{}, err
	}
	if actorID != ex.InitiatorID && actorID != ex.RecipientID {
		return Record{}, ErrNotAuthorized
	}
	if ex.Status != exchange.StatusAccepted && ex.Status != exchange.StatusCompleted {
		return Record{}, ErrBadStatus
	}

	rec, err := scanRecord(tx.QueryRow(ctx, `
		INSERT INTO disputes (exchange_id, raised_by, reason, description)
		VALUES ($1, $2, $3, $4)
		RETURNING `+disputeColumns, exchangeID, actorID, reason, description))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Record{}, ErrAlreadyOpen
		}
		return Record{}, fmt.Errorf("dispute: insert: %w", err)
	}

	if err := exchange.AppendTimeline(ctx, tx, exchangeID, exchange.EventDisputeRaised, &actorID, map[string]any{
		"dispute_id": rec.ID,
		"reason":     reason,
	}); err != nil {
		return Record{}, err
	}
	if err := exchange.EnqueueOutbox(ctx, tx, TopicRaised, map[string]any{
		"dispute_id":  rec.ID,
		"exchange_id": exchangeID,
		"raised_by":   actorID,
	}); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("dispute: commit raise: %w", err)
	}
	return rec, nil
}

// Close withdraws an open dispute. Only the member who raised it may close
// it; the exchange is left untouched.
func (s *Service) Close(ctx context.Context, actorID, disputeID string) (Record, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.lockDispute(ctx, tx, disputeID)
	if err != nil {
		return Record{}, err
	}
	if rec.RaisedBy != actorID {
		return Record{}, ErrNotAuthorized
	}
	if rec.Status != StatusOpen {
		return Record{}, ErrBadStatus
	}

	rec, err = scanRecord(tx.QueryRow(ctx, `
		UPDATE disputes SET status = 'closed', resolved_at = now()
		WHERE id = $1
		RETURNING `+disputeColumns, disputeID))
	if err != nil {
		return Record{}, fmt.Errorf("dispute: close: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("dispute: commit close: %w", err)
	}
	return rec, nil
}

// Resolve applies the arbiter's ruling and settles the underlying exchange
// in the same transaction.
func (s *Service) Resolve(ctx context.Context, arbiterID, disputeID string, outcome Outcome, notes string) (Record, error) {
	switch outcome {
	case OutcomeFavorInitiator, OutcomeFavorRecipient, OutcomeCancel, OutcomePartialRefund:
	default:
		return Record{}, ErrInvalidOutcome
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var role string
	if err := tx.QueryRow(ctx, `SELECT role::text FROM members WHERE id = $1`, arbiterID).Scan(&role); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotArbiter
		}
		return Record{}, fmt.Errorf("dispute: arbiter lookup: %w", err)
	}
	if role != "arbiter" {
		return Record{}, ErrNotArbiter
	}

	rec, err := s.lockDispute(ctx, tx, disputeID)
	if err != nil {
		return Record{}, err
	}
	if rec.Status != StatusOpen {
		return Record{}, ErrBadStatus
	}

	ex, err := lockExchange(ctx, tx, rec.ExchangeID)
	if err != nil {
		return Record{}, err
	}

	if outcome == OutcomePartialRefund && ex.Type != exchange.TypeRedeem {
		return Record{}, ErrInvalidOutcome
	}

	switch outcome {
	case OutcomeFavorInitiator, OutcomeCancel:
		if err := s.unwind(ctx, tx, ex); err != nil {
			return Record{}, err
		}
	case OutcomeFavorRecipient:
		if ex.Status == exchange.StatusAccepted {
			if err := setExchangeStatus(ctx, tx, ex.ID, exchange.StatusCompleted); err != nil {
				return Record{}, err
			}
		}
	case OutcomePartialRefund:
		refund := ex.Points / 2
		if refund > 0 {
			if err := s.ledger.Transfer(ctx, tx, ex.RecipientID, ex.InitiatorID, refund, ledger.ReasonDisputeRefund); err != nil {
				return Record{}, err
			}
		}
		if ex.Status == exchange.StatusAccepted {
			if err := setExchangeStatus(ctx, tx, ex.ID, exchange.StatusCompleted); err != nil {
				return Record{}, err
			}
		}
	}

	rec, err = scanRecord(tx.QueryRow(ctx, `
		UPDATE disputes
		SET status = 'resolved', outcome = $2, arbiter_id = $3, notes = $4, resolved_at = now()
		WHERE id = $1
		RETURNING `+disputeColumns, disputeID, string(outcome), arbiterID, notes))
	if err != nil {
		return Record{}, fmt.Errorf("dispute: resolve: %w", err)
	}

	if err := exchange.AppendTimeline(ctx, tx, ex.ID, exchange.EventDisputeResolved, &arbiterID, map[string]any{
		"dispute_id": rec.ID,
		"outcome":    string(outcome),
	}); err != nil {
		return Record{}, err
	}
	if err := exchange.EnqueueOutbox(ctx, tx, TopicResolved, map[string]any{
		"dispute_id":  rec.ID,
		"exchange_id": ex.ID,
		"outcome":     string(outcome),
	}); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("dispute: commit resolve: %w", err)
	}
	return rec, nil
}

// unwind reverses the exchange: items return to available and any redeemed
// points flow back to the initiator. The exchange ends cancelled.
func (s *Service) unwind(ctx context.Context, tx pgx.Tx, ex exchangeView) error {
	for _, itemID := range involvedItems(ex) {
		if err := s.items.Reopen(ctx, tx, itemID); err != nil && !errors.Is(err, item.ErrNotReserved) {
			return err
		}
	}
	if ex.Type == exchange.TypeRedeem && ex.Points > 0 {
		if err := s.ledger.Transfer(ctx, tx, ex.RecipientID, ex.InitiatorID, ex.Points, ledger.ReasonDisputeRefund); err != nil {
			return err
		}
	}
	return setExchangeStatus(ctx, tx, ex.ID, exchange.StatusCancelled)
}

// Get returns one dispute by id.
func (s *Service) Get(ctx context.Context, disputeID string) (Record, error) {
	rec, err := scanRecord(s.db.QueryRow(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, disputeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("dispute: get: %w", err)
	}
	return rec, nil
}

// ListForExchange returns the dispute history of one exchange, newest first.
func (s *Service) ListForExchange(ctx context.Context, exchangeID string) ([]Record, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+disputeColumns+` FROM disputes
		WHERE exchange_id = $1
		ORDER BY created_at DESC
	`, exchangeID)
	if err != nil {
		return nil, fmt.Errorf("dispute: list: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 4)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

func (s *Service) lockDispute(ctx context.Context, tx pgx.Tx, id string) (Record, error) {
	rec, err := scanRecord(tx.QueryRow(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("dispute: lock: %w", err)
	}
	return rec, nil
}

func lockExchange(ctx context.Context, tx pgx.Tx, id string) (exchangeView, error) {
	var ex exchangeView
	err := tx.QueryRow(ctx, `
		SELECT id, type::text, status::text, initiator_id, recipient_id, recipient_item_id, initiator_item_id, points
		FROM exchanges WHERE id = $1 FOR UPDATE
	`, id).Scan(&ex.ID, &ex.Type, &ex.Status, &ex.InitiatorID, &ex.RecipientID, &ex.RecipientItemID, &ex.InitiatorItemID, &ex.Points)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return exchangeView{}, exchange.ErrNotFound
		}
		return exchangeView{}, fmt.Errorf("dispute: lock exchange: %w", err)
	}
	return ex, nil
}

func setExchangeStatus(ctx context.Context, tx pgx.Tx, id string, status exchange.Status) error {
	if _, err := tx.Exec(ctx, `UPDATE exchanges SET status = $2, updated_at = now() WHERE id = $1`, id, status); err != nil {
		return fmt.Errorf("dispute: set exchange status %s: %w", status, err)
	}
	return nil
}

func involvedItems(ex exchangeView) []string {
	ids := []string{ex.RecipientItemID}
	if ex.InitiatorItemID != nil {
		ids = append(ids, *ex.InitiatorItemID)
	}
	return ids
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID,
		&rec.ExchangeID,
		&rec.RaisedBy,
		&rec.Reason,
		&rec.Description,
		&rec.Status,
		&rec.Outcome,
		&rec.ArbiterID,
		&rec.Notes,
		&rec.CreatedAt,
		&rec.ResolvedAt,
	)
	return rec, err
}
