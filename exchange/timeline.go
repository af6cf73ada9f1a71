package exchange

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AppendTimeline inserts one lifecycle event inside the caller's transaction.
// The sequence number is computed under the exchange row lock every mutating
// path already holds, so it is gap-free and strictly increasing per exchange.
func AppendTimeline(ctx context.Context, tx pgx.Tx, exchangeID, eventType string, actorID *string, payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("exchange: marshal timeline payload: %w", err)
	}

	var actor any
	if actorID != nil && *actorID != "" {
		actor = *actorID
	}

	const q = `
		INSERT INTO timeline_events (exchange_id, seq, type, actor_id, payload)
		SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4::jsonb
		FROM timeline_events
		WHERE exchange_id = $1
	`
	if _, err := tx.Exec(ctx, q, exchangeID, eventType, actor, body); err != nil {
		return fmt.Errorf("exchange: insert timeline event: %w", err)
	}
	return nil
}

// EnqueueOutbox records a message for the notification collaborator in the
// same transaction as the state change it announces. Delivery is at least
// once, so every message carries an event_id for consumer-side deduplication.
func EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["event_id"] = uuid.NewString()
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("exchange: marshal outbox payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`, topic, body); err != nil {
		return fmt.Errorf("exchange: enqueue outbox: %w", err)
	}
	return nil
}
