package exchange

import (
	"context"
	"errors"
	"fmt"

	"threadswap/item"
	"threadswap/ledger"
)

// Purchase buys a redeemable item outright. There is no pending window: the
// transfer, the item handoff, and the completed exchange record land in one
// transaction, with a synthetic created/accepted/completed timeline so the
// history reads like any other exchange.
func (s *Service) Purchase(ctx context.Context, buyerID, itemID string) (Exchange, error) {
	rec, err := s.purchase(ctx, buyerID, itemID)
	if isDeadlock(err) {
		return Exchange{}, fmt.Errorf("%w: lost lock race", ErrItemUnavailable)
	}
	return rec, err
}

func (s *Service) purchase(ctx context.Context, buyerID, itemID string) (Exchange, error) {
	if buyerID == "" || itemID == "" {
		return Exchange{}, fmt.Errorf("exchange: buyer and item ids required")
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Exchange{}, fmt.Errorf("exchange: begin purchase tx: %w", err)
	}
	defer tx.Rollback(ctx)

	target, err := s.items.GetForUpdate(ctx, tx, itemID)
	if err != nil {
		if errors.Is(err, item.ErrNotFound) {
			return Exchange{}, ErrItemUnavailable
		}
		return Exchange{}, err
	}
	if target.OwnerID == buyerID {
		return Exchange{}, ErrSelfTradeNotAllowed
	}
	if !target.Redeemable {
		return Exchange{}, ErrItemUnavailable
	}
	if err := s.ensureTargetAvailable(ctx, tx, target); err != nil {
		return Exchange{}, err
	}

	if err := s.items.MarkExchanged(ctx, tx, target.ID); err != nil {
		if errors.Is(err, item.ErrUnavailable) {
			return Exchange{}, ErrItemUnavailable
		}
		return Exchange{}, err
	}

	if err := s.ledger.Transfer(ctx, tx, buyerID, target.OwnerID, target.Points, ledger.ReasonPointsPurchase); err != nil {
		return Exchange{}, err
	}

	const insertSQL = `
		INSERT INTO exchanges (type, status, initiator_id, recipient_id, recipient_item_id, points, expires_at,
			initiator_received_at, recipient_received_at)
		VALUES ('redeem', 'completed', $1, $2, $3, $4, now(), now(), now())
		RETURNING ` + exchangeColumns

	rec, err := scanExchange(tx.QueryRow(ctx, insertSQL, buyerID, target.OwnerID, target.ID, target.Points))
	if err != nil {
		return Exchange{}, fmt.Errorf("exchange: insert purchase: %w", err)
	}

	for _, ev := range []string{EventCreated, EventAccepted, EventCompleted} {
		if err := AppendTimeline(ctx, tx, rec.ID, ev, &buyerID, map[string]any{
			"source": "direct_purchase",
			"points": target.Points,
		}); err != nil {
			return Exchange{}, err
		}
	}

	first, err := s.ledger.GrantOnce(ctx, tx, buyerID, ledger.AchievementFirstRedeemPurchase)
	if err != nil {
		return Exchange{}, err
	}
	if first {
		if err := s.ledger.Credit(ctx, tx, buyerID, s.rewards.FirstPurchaseBonus, ledger.ReasonFirstPurchaseBonus); err != nil {
			return Exchange{}, err
		}
	}
	// A purchase is a completed exchange, so it claims the first-completion
	// flag for both sides. The +50 bonus itself rewards a shipped-and-confirmed
	// completion and is not paid here.
	for _, memberID := range []string{rec.InitiatorID, rec.RecipientID} {
		if err := s.ledger.IncrementExchangesCompleted(ctx, tx, memberID); err != nil {
			return Exchange{}, err
		}
		if _, err := s.ledger.GrantOnce(ctx, tx, memberID, ledger.AchievementFirstExchangeCompleted); err != nil {
			return Exchange{}, err
		}
	}

	if err := EnqueueOutbox(ctx, tx, TopicPurchased, map[string]any{
		"exchange_id": rec.ID,
		"buyer_id":    rec.InitiatorID,
		"seller_id":   rec.RecipientID,
		"item_id":     rec.RecipientItemID,
		"points":      rec.Points,
	}); err != nil {
		return Exchange{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Exchange{}, fmt.Errorf("exchange: commit purchase: %w", err)
	}

	s.recalcMilestones(ctx, rec.InitiatorID, rec.RecipientID)
	return rec, nil
}
