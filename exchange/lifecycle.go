package exchange

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"threadswap/ledger"
)

// MarkShipped records tracking info and a shipped timestamp for the calling
// side. The exchange must be accepted; the status does not change.
func (s *Service) MarkShipped(ctx context.Context, actorID, exchangeID, tracking string) (Exchange, error) {
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
	if ex.Status != StatusAccepted {
		return Exchange{}, ErrInvalidTransition
	}

	var updateSQL string
	if actorID == ex.InitiatorID {
		updateSQL = `
			UPDATE exchanges
			SET initiator_tracking = $2,
			    initiator_shipped_at = COALESCE(initiator_shipped_at, now()),
			    updated_at = now()
			WHERE id = $1
			RETURNING ` + exchangeColumns
	} else {
		updateSQL = `
			UPDATE exchanges
			SET recipient_tracking = $2,
			    recipient_shipped_at = COALESCE(recipient_shipped_at, now()),
			    updated_at = now()
			WHERE id = $1
			RETURNING ` + exchangeColumns
	}

	updated, err := scanExchange(tx.QueryRow(ctx, updateSQL, exchangeID, tracking))
	if err != nil {
		return Exchange{}, fmt.Errorf("exchange: mark shipped: %w", err)
	}

	if err := AppendTimeline(ctx, tx, ex.ID, EventShipmentMarked, &actorID, map[string]any{
		"side":     sideOf(ex, actorID),
		"tracking": tracking,
	}); err != nil {
		return Exchange{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Exchange{}, fmt.Errorf("exchange: commit mark shipped: %w", err)
	}
	return updated, nil
}

// MarkReceived records the receipt timestamp for the calling side. When both
// sides have confirmed, the exchange completes and the completion rewards are
// granted in the same transaction. A repeat call for a side that already
// confirmed is a no-op.
func (s *Service) MarkReceived(ctx context.Context, actorID, exchangeID string) (Exchange, error) {
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
	if ex.Status != StatusAccepted {
		return Exchange{}, ErrInvalidTransition
	}

	isInitiator := actorID == ex.InitiatorID
	if (isInitiator && ex.InitiatorReceivedAt != nil) || (!isInitiator && ex.RecipientReceivedAt != nil) {
		return ex, nil
	}

	var updateSQL string
	if isInitiator {
		updateSQL = `
			UPDATE exchanges
			SET initiator_received_at = now(), updated_at = now()
			WHERE id = $1
			RETURNING ` + exchangeColumns
	} else {
		updateSQL = `
			UPDATE exchanges
			SET recipient_received_at = now(), updated_at = now()
			WHERE id = $1
			RETURNING ` + exchangeColumns
	}

	updated, err := scanExchange(tx.QueryRow(ctx, updateSQL, exchangeID))
	if err != nil {
		return Exchange{}, fmt.Errorf("exchange: mark received: %w", err)
	}

	if err := AppendTimeline(ctx, tx, ex.ID, EventReceiptRecorded, &actorID, map[string]any{
		"side": sideOf(ex, actorID),
	}); err != nil {
		return Exchange{}, err
	}

	completed := updated.InitiatorReceivedAt != nil && updated.RecipientReceivedAt != nil
	if completed {
		updated, err = s.completeLocked(ctx, tx, updated, &actorID)
		if err != nil {
			return Exchange{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Exchange{}, fmt.Errorf("exchange: commit mark received: %w", err)
	}

	if completed {
		s.recalcMilestones(ctx, updated.InitiatorID, updated.RecipientID)
	}
	return updated, nil
}

// completeLocked moves the exchange to completed and grants the per-side
// completion credits. The first-completion bonus rides the achievement set,
// so two concurrent completions for the same member cannot both see
// "first".
func (s *Service) completeLocked(ctx context.Context, tx pgx.Tx, ex Exchange, actorID *string) (Exchange, error) {
	updated, err := s.setStatus(ctx, tx, ex.ID, StatusCompleted)
	if err != nil {
		return Exchange{}, err
	}

	for _, memberID := range []string{ex.InitiatorID, ex.RecipientID} {
		if err := s.ledger.Credit(ctx, tx, memberID, s.rewards.CompletionBonus, ledger.ReasonCompletionBonus); err != nil {
			return Exchange{}, err
		}
		first, err := s.ledger.GrantOnce(ctx, tx, memberID, ledger.AchievementFirstExchangeCompleted)
		if err != nil {
			return Exchange{}, err
		}
		if first {
			if err := s.ledger.Credit(ctx, tx, memberID, s.rewards.FirstCompletionBonus, ledger.ReasonFirstCompletionBonus); err != nil {
				return Exchange{}, err
			}
		}
		if err := s.ledger.IncrementExchangesCompleted(ctx, tx, memberID); err != nil {
			return Exchange{}, err
		}
	}

	if err := AppendTimeline(ctx, tx, ex.ID, EventCompleted, actorID, map[string]any{
		"type": string(ex.Type),
	}); err != nil {
		return Exchange{}, err
	}
	if err := EnqueueOutbox(ctx, tx, TopicCompleted, map[string]any{
		"exchange_id":  ex.ID,
		"initiator_id": ex.InitiatorID,
		"recipient_id": ex.RecipientID,
	}); err != nil {
		return Exchange{}, err
	}
	return updated, nil
}

// Rate attaches a 1-5 rating to the caller's slot. Completed exchanges only,
// at most once per party.
func (s *Service) Rate(ctx context.Context, actorID, exchangeID string, rating int, comment string) (Exchange, error) {
	if rating < 1 || rating > 5 {
		return Exchange{}, ErrInvalidRating
	}

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
	if ex.Status != StatusCompleted {
		return Exchange{}, ErrInvalidTransition
	}

	isInitiator := actorID == ex.InitiatorID
	if (isInitiator && ex.InitiatorRating != nil) || (!isInitiator && ex.RecipientRating != nil) {
		return Exchange{}, ErrAlreadyRated
	}

	var updateSQL string
	if isInitiator {
		updateSQL = `
			UPDATE exchanges
			SET initiator_rating = $2, initiator_rating_comment = $3, updated_at = now()
			WHERE id = $1
			RETURNING ` + exchangeColumns
	} else {
		updateSQL = `
			UPDATE exchanges
			SET recipient_rating = $2, recipient_rating_comment = $3, updated_at = now()
			WHERE id = $1
			RETURNING ` + exchangeColumns
	}

	updated, err := scanExchange(tx.QueryRow(ctx, updateSQL, exchangeID, rating, comment))
	if err != nil {
		return Exchange{}, fmt.Errorf("exchange: rate: %w", err)
	}

	if err := AppendTimeline(ctx, tx, ex.ID, EventRated, &actorID, map[string]any{
		"side":   sideOf(ex, actorID),
		"rating": rating,
	}); err != nil {
		return Exchange{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Exchange{}, fmt.Errorf("exchange: commit rate: %w", err)
	}
	return updated, nil
}

// recalcMilestones runs after the completing transaction commits. Failures
// are logged, never fatal: the exchange's correctness does not depend on
// reward delivery.
func (s *Service) recalcMilestones(ctx context.Context, memberIDs ...string) {
	for _, id := range memberIDs {
		if _, err := s.points.RecalcMilestones(ctx, id); err != nil {
			slog.Warn("exchange: milestone recalculation failed", "member_id", id, "error", err)
		}
	}
}

func sideOf(ex Exchange, actorID string) string {
	if actorID == ex.InitiatorID {
		return "initiator"
	}
	return "recipient"
}
