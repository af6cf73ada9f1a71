package exchange

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const exchangeColumns = `id, type::text, status::text, initiator_id, recipient_id, recipient_item_id, initiator_item_id,
	points, message, expires_at,
	initiator_tracking, initiator_shipped_at, recipient_tracking, recipient_shipped_at,
	initiator_received_at, recipient_received_at,
	initiator_rating, initiator_rating_comment, recipient_rating, recipient_rating_comment,
	created_at, updated_at`

func scanExchange(row pgx.Row) (Exchange, error) {
	var ex Exchange
	err := row.Scan(
		&ex.ID,
		&ex.Type,
		&ex.Status,
		&ex.InitiatorID,
		&ex.RecipientID,
		&ex.RecipientItemID,
		&ex.InitiatorItemID,
		&ex.Points,
		&ex.Message,
		&ex.ExpiresAt,
		&ex.InitiatorTracking,
		&ex.InitiatorShippedAt,
		&ex.RecipientTracking,
		&ex.RecipientShippedAt,
		&ex.InitiatorReceivedAt,
		&ex.RecipientReceivedAt,
		&ex.InitiatorRating,
		&ex.InitiatorRatingComment,
		&ex.RecipientRating,
		&ex.RecipientRatingComment,
		&ex.CreatedAt,
		&ex.UpdatedAt,
	)
	return ex, err
}

// Get returns an exchange visible to either party.
func (s *Service) Get(ctx context.Context, actorID, exchangeID string) (Exchange, error) {
	row := s.db.QueryRow(ctx, `SELECT `+exchangeColumns+` FROM exchanges WHERE id = $1`, exchangeID)
	ex, err := scanExchange(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Exchange{}, ErrNotFound
		}
		return Exchange{}, fmt.Errorf("exchange: get: %w", err)
	}
	if !ex.IsParty(actorID) {
		return Exchange{}, ErrNotAuthorized
	}
	return ex, nil
}

// ListForMember returns exchanges the member participates in, newest first.
func (s *Service) ListForMember(ctx context.Context, memberID string, limit int) ([]Exchange, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+exchangeColumns+`
		FROM exchanges
		WHERE initiator_id = $1 OR recipient_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, memberID, limit)
	if err != nil {
		return nil, fmt.Errorf("exchange: list: %w", err)
	}
	defer rows.Close()

	out := make([]Exchange, 0, limit)
	for rows.Next() {
		ex, err := scanExchange(rows)
		if err != nil {
			return nil, fmt.Errorf("exchange: scan list: %w", err)
		}
		out = append(out, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("exchange: iterate list: %w", err)
	}
	return out, nil
}

// Timeline returns the ordered event history for an exchange. Parties only.
func (s *Service) Timeline(ctx context.Context, actorID, exchangeID string) ([]TimelineEvent, error) {
	if _, err := s.Get(ctx, actorID, exchangeID); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, exchange_id, seq, type, actor_id, payload, created_at
		FROM timeline_events
		WHERE exchange_id = $1
		ORDER BY seq
	`, exchangeID)
	if err != nil {
		return nil, fmt.Errorf("exchange: timeline: %w", err)
	}
	defer rows.Close()

	events := make([]TimelineEvent, 0, 8)
	for rows.Next() {
		var ev TimelineEvent
		if err := rows.Scan(&ev.ID, &ev.ExchangeID, &ev.Seq, &ev.Type, &ev.ActorID, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("exchange: scan timeline: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("exchange: iterate timeline: %w", err)
	}
	return events, nil
}
