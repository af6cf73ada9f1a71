package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"threadswap/dispute"
	"threadswap/exchange"
	"threadswap/item"
	"threadswap/ledger"
)

// benign reports whether an error is an expected domain outcome under
// contention rather than a defect.
func benign(err error) bool {
	return errors.Is(err, exchange.ErrItemUnavailable) ||
		errors.Is(err, exchange.ErrDuplicateActiveRequest) ||
		errors.Is(err, exchange.ErrSelfTradeNotAllowed) ||
		errors.Is(err, exchange.ErrInitiatorItemInvalid) ||
		errors.Is(err, exchange.ErrInvalidTransition) ||
		errors.Is(err, exchange.ErrNotAuthorized) ||
		errors.Is(err, exchange.ErrNotFound) ||
		errors.Is(err, exchange.ErrAlreadyRated) ||
		errors.Is(err, ledger.ErrInsufficientPoints) ||
		errors.Is(err, item.ErrNotFound) ||
		errors.Is(err, item.ErrUnavailable) ||
		errors.Is(err, item.ErrNotReserved) ||
		errors.Is(err, item.ErrRemovalBlocked) ||
		errors.Is(err, dispute.ErrAlreadyOpen) ||
		errors.Is(err, dispute.ErrBadStatus) ||
		errors.Is(err, dispute.ErrNotFound) ||
		errors.Is(err, dispute.ErrNotAuthorized) ||
		errors.Is(err, pgx.ErrNoRows)
}

// transient covers infrastructure noise injected by the chaos goroutine:
// killed backends, serialization failures, deadlock detection.
func transient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, frag := range []string{
		"terminating connection",
		"conn closed",
		"connection reset",
		"unexpected EOF",
		"deadlock detected",
		"could not serialize",
		"broken pipe",
	} {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}

func tolerate(err error, what string) error {
	if err == nil || benign(err) || transient(err) || errors.Is(err, context.Canceled) {
		return nil
	}
	return fmt.Errorf("%s: %w", what, err)
}

// Lister keeps the catalog supplied with fresh items.
func Lister(ctx context.Context, items *item.Service, ownerID string, stop <-chan struct{}) error {
	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return nil
		case <-stop:
			return nil
		default:
		}
		_, err := items.Create(ctx, item.CreateParams{
			OwnerID:    ownerID,
			Title:      fmt.Sprintf("stress item %d-%d", rand.Int63(), i),
			Category:   "tops",
			Size:       "M",
			Condition:  "good",
			Points:     10 + rand.Intn(40),
			Swappable:  true,
			Redeemable: true,
		})
		if err := tolerate(err, "lister"); err != nil {
			return err
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Requester fires swap and redeem requests at other members' available items.
func Requester(ctx context.Context, pool *pgxpool.Pool, exchanges *exchange.Service, memberID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stop:
			return nil
		default:
		}

		var targetID string
		err := pool.QueryRow(ctx, `
			SELECT id FROM items
			WHERE state = 'available' AND owner_id <> $1
			ORDER BY random() LIMIT 1
		`, memberID).Scan(&targetID)
		if err != nil {
			if err := tolerate(err, "requester target"); err != nil {
				return err
			}
			time.Sleep(50 * time.Millisecond)
			continue
		}

		params := exchange.CreateParams{
			InitiatorID:     memberID,
			RecipientItemID: targetID,
			Type:            exchange.TypeRedeem,
			Message:         "stress request",
		}
		if rand.Intn(2) == 0 {
			var ownID string
			err := pool.QueryRow(ctx, `
				SELECT id FROM items
				WHERE state = 'available' AND owner_id = $1
				ORDER BY random() LIMIT 1
			`, memberID).Scan(&ownID)
			if err == nil {
				params.Type = exchange.TypeSwap
				params.InitiatorItemID = ownID
			} else if terr := tolerate(err, "requester own item"); terr != nil {
				return terr
			}
		}

		_, err = exchanges.Create(ctx, params)
		if err := tolerate(err, "requester create"); err != nil {
			return err
		}
		time.Sleep(time.Duration(15+rand.Intn(35)) * time.Millisecond)
	}
}

// Responder accepts or rejects pending requests addressed to the member.
func Responder(ctx context.Context, pool *pgxpool.Pool, exchanges *exchange.Service, memberID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stop:
			return nil
		default:
		}

		var exID string
		err := pool.QueryRow(ctx, `
			SELECT id FROM exchanges
			WHERE status = 'pending' AND recipient_id = $1
			ORDER BY random() LIMIT 1
		`, memberID).Scan(&exID)
		if err != nil {
			if err := tolerate(err, "responder lookup"); err != nil {
				return err
			}
			time.Sleep(50 * time.Millisecond)
			continue
		}

		if rand.Intn(4) == 0 {
			_, err = exchanges.Reject(ctx, memberID, exID)
		} else {
			_, err = exchanges.Accept(ctx, memberID, exID)
		}
		if err := tolerate(err, "responder decide"); err != nil {
			return err
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Courier drives accepted exchanges toward completion: both sides ship, both
// sides confirm receipt.
func Courier(ctx context.Context, pool *pgxpool.Pool, exchanges *exchange.Service, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stop:
			return nil
		default:
		}

		var exID, initiatorID, recipientID string
		err := pool.QueryRow(ctx, `
			SELECT id, initiator_id, recipient_id FROM exchanges
			WHERE status = 'accepted'
			ORDER BY random() LIMIT 1
		`).Scan(&exID, &initiatorID, &recipientID)
		if err != nil {
			if err := tolerate(err, "courier lookup"); err != nil {
				return err
			}
			time.Sleep(60 * time.Millisecond)
			continue
		}

		for _, memberID := range []string{initiatorID, recipientID} {
			_, err := exchanges.MarkShipped(ctx, memberID, exID, fmt.Sprintf("TRK-%d", rand.Int63()))
			if err := tolerate(err, "courier ship"); err != nil {
				return err
			}
			_, err = exchanges.MarkReceived(ctx, memberID, exID)
			if err := tolerate(err, "courier receive"); err != nil {
				return err
			}
		}
		time.Sleep(time.Duration(30+rand.Intn(50)) * time.Millisecond)
	}
}

// Purchaser buys redeemable items outright.
func Purchaser(ctx context.Context, pool *pgxpool.Pool, exchanges *exchange.Service, memberID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stop:
			return nil
		default:
		}

		var targetID string
		err := pool.QueryRow(ctx, `
			SELECT id FROM items
			WHERE state = 'available' AND redeemable AND owner_id <> $1
			ORDER BY random() LIMIT 1
		`, memberID).Scan(&targetID)
		if err != nil {
			if err := tolerate(err, "purchaser target"); err != nil {
				return err
			}
			time.Sleep(70 * time.Millisecond)
			continue
		}

		_, err = exchanges.Purchase(ctx, memberID, targetID)
		if err := tolerate(err, "purchaser buy"); err != nil {
			return err
		}
		time.Sleep(time.Duration(40+rand.Intn(80)) * time.Millisecond)
	}
}

// Disputer raises disputes on the member's settled exchanges.
func Disputer(ctx context.Context, pool *pgxpool.Pool, disputes *dispute.Service, memberID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stop:
			return nil
		default:
		}

		var exID string
		err := pool.QueryRow(ctx, `
			SELECT id FROM exchanges
			WHERE status IN ('accepted','completed')
			  AND (initiator_id = $1 OR recipient_id = $1)
			ORDER BY random() LIMIT 1
		`, memberID).Scan(&exID)
		if err != nil {
			if err := tolerate(err, "disputer lookup"); err != nil {
				return err
			}
			time.Sleep(120 * time.Millisecond)
			continue
		}

		_, err = disputes.Raise(ctx, memberID, exID, "item not as described", "stress dispute")
		if err := tolerate(err, "disputer raise"); err != nil {
			return err
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// Arbiter resolves open disputes with random outcomes.
func Arbiter(ctx context.Context, pool *pgxpool.Pool, disputes *dispute.Service, arbiterID string, stop <-chan struct{}) error {
	outcomes := []dispute.Outcome{
		dispute.OutcomeFavorInitiator,
		dispute.OutcomeFavorRecipient,
		dispute.OutcomeCancel,
		dispute.OutcomePartialRefund,
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stop:
			return nil
		default:
		}

		var dispID string
		err := pool.QueryRow(ctx, `
			SELECT id FROM disputes WHERE status = 'open'
			ORDER BY random() LIMIT 1
		`).Scan(&dispID)
		if err != nil {
			if err := tolerate(err, "arbiter lookup"); err != nil {
				return err
			}
			time.Sleep(150 * time.Millisecond)
			continue
		}

		_, err = disputes.Resolve(ctx, arbiterID, dispID, outcomes[rand.Intn(len(outcomes))], "stress ruling")
		if errors.Is(err, dispute.ErrInvalidOutcome) || errors.Is(err, ledger.ErrInsufficientPoints) {
			err = nil
		}
		if err := tolerate(err, "arbiter resolve"); err != nil {
			return err
		}
		time.Sleep(180 * time.Millisecond)
	}
}

// Expirer runs the pending-request sweep like the production scheduler does.
func Expirer(ctx context.Context, exchanges *exchange.Service, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stop:
			return nil
		default:
		}
		_, err := exchanges.ExpirePending(ctx)
		if err := tolerate(err, "expirer sweep"); err != nil {
			return err
		}
		time.Sleep(250 * time.Millisecond)
	}
}

// OutboxWorker consumes pending outbox messages with SKIP LOCKED and marks
// them processed, occasionally simulating a delivery failure.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			if err := tolerate(err, "outbox begin"); err != nil {
				return err
			}
			time.Sleep(50 * time.Millisecond)
			continue
		}
		rows, err := tx.Query(ctx, `SELECT id FROM outbox WHERE status='pending' ORDER BY created_at FOR UPDATE SKIP LOCKED LIMIT 10`)
		if err != nil {
			_ = tx.Rollback(ctx)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		ids := make([]string, 0, 10)
		for rows.Next() {
			var id string
			_ = rows.Scan(&id)
			ids = append(ids, id)
		}
		rows.Close()
		for _, id := range ids {
			if rand.Intn(10) == 0 {
				_, _ = tx.Exec(ctx, `UPDATE outbox SET attempts=attempts+1, last_attempt=NOW() WHERE id=$1`, id)
				continue
			}
			_, _ = tx.Exec(ctx, `UPDATE outbox SET status='processed', last_attempt=NOW() WHERE id=$1`, id)
		}
		_ = tx.Commit(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}
