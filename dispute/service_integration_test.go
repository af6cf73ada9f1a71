package dispute

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"threadswap/exchange"
	"threadswap/item"
	"threadswap/ledger"
)

type disputeTestEnv struct {
	pool      *pgxpool.Pool
	points    *ledger.Service
	items     *item.Service
	exchanges *exchange.Service
	disputes  *Service
	memberA   string
	memberB   string
	arbiter   string
	outsider  string
}

// acceptedRedeem stands up an accepted redeem exchange: A owns the item,
// B paid for it at acceptance.
func (env *disputeTestEnv) acceptedRedeem(t *testing.T, ctx context.Context, points int) (exchange.Exchange, item.Item) {
	t.Helper()
	listed, err := env.items.Create(ctx, item.CreateParams{
		OwnerID: env.memberA, Title: "cardigan", Category: "tops", Points: points, Redeemable: true,
	})
	if err != nil {
		t.Fatalf("list item: %v", err)
	}
	if err := env.points.CreditMember(ctx, env.memberB, points*2, "test:bankroll"); err != nil {
		t.Fatalf("bankroll: %v", err)
	}
	ex, err := env.exchanges.Create(ctx, exchange.CreateParams{
		InitiatorID: env.memberB, RecipientItemID: listed.ID, Type: exchange.TypeRedeem,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ex, err = env.exchanges.Accept(ctx, env.memberA, ex.ID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	return ex, listed
}

func TestRaiseGuards_Integration(t *testing.T) {
	env := setupDisputeTest(t)
	ctx := context.Background()

	listed, err := env.items.Create(ctx, item.CreateParams{
		OwnerID: env.memberA, Title: "skirt", Category: "bottoms", Points: 20, Redeemable: true,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if err := env.points.CreditMember(ctx, env.memberB, 40, "test:bankroll"); err != nil {
		t.Fatalf("bankroll: %v", err)
	}
	ex, err := env.exchanges.Create(ctx, exchange.CreateParams{
		InitiatorID: env.memberB, RecipientItemID: listed.ID, Type: exchange.TypeRedeem,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// pending exchanges cannot be disputed
	if _, err := env.disputes.Raise(ctx, env.memberB, ex.ID, "never_shipped", ""); !errors.Is(err, ErrBadStatus) {
		t.Fatalf("expected ErrBadStatus on pending, got %v", err)
	}

	if _, err := env.exchanges.Accept(ctx, env.memberA, ex.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	// only a party may raise
	if _, err := env.disputes.Raise(ctx, env.outsider, ex.ID, "never_shipped", ""); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}

	rec, err := env.disputes.Raise(ctx, env.memberB, ex.ID, "never_shipped", "three weeks, nothing arrived")
	if err != nil {
		t.Fatalf("raise: %v", err)
	}
	if rec.Status != StatusOpen {
		t.Fatalf("expected open, got %s", rec.Status)
	}

	// one open dispute per exchange
	if _, err := env.disputes.Raise(ctx, env.memberA, ex.ID, "item_not_as_described", ""); !errors.Is(err, ErrAlreadyOpen) {
		t.Fatalf("expected ErrAlreadyOpen, got %v", err)
	}
}

func TestCloseByRaiser_Integration(t *testing.T) {
	env := setupDisputeTest(t)
	ctx := context.Background()

	ex, _ := env.acceptedRedeem(t, ctx, 20)
	rec, err := env.disputes.Raise(ctx, env.memberB, ex.ID, "never_shipped", "")
	if err != nil {
		t.Fatalf("raise: %v", err)
	}

	// the other party cannot withdraw it
	if _, err := env.disputes.Close(ctx, env.memberA, rec.ID); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}

	closed, err := env.disputes.Close(ctx, env.memberB, rec.ID)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Status != StatusClosed || closed.ResolvedAt == nil {
		t.Fatalf("unexpected closed record: %+v", closed)
	}

	// closing clears the way for a fresh dispute
	if _, err := env.disputes.Raise(ctx, env.memberB, ex.ID, "item_not_as_described", ""); err != nil {
		t.Fatalf("raise after close: %v", err)
	}
}

func TestResolveFavorInitiator_Integration(t *testing.T) {
	env := setupDisputeTest(t)
	ctx := context.Background()

	ex, listed := env.acceptedRedeem(t, ctx, 20)
	rec, err := env.disputes.Raise(ctx, env.memberB, ex.ID, "never_shipped", "")
	if err != nil {
		t.Fatalf("raise: %v", err)
	}

	// ordinary members cannot rule
	if _, err := env.disputes.Resolve(ctx, env.memberA, rec.ID, OutcomeFavorInitiator, ""); !errors.Is(err, ErrNotArbiter) {
		t.Fatalf("expected ErrNotArbiter, got %v", err)
	}

	balBefore, _ := env.points.GetBalance(ctx, env.memberB)

	resolved, err := env.disputes.Resolve(ctx, env.arbiter, rec.ID, OutcomeFavorInitiator, "seller never shipped")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != StatusResolved || resolved.Outcome == nil || *resolved.Outcome != string(OutcomeFavorInitiator) {
		t.Fatalf("unexpected resolved record: %+v", resolved)
	}
	if resolved.ArbiterID == nil || *resolved.ArbiterID != env.arbiter {
		t.Fatalf("arbiter not recorded: %+v", resolved)
	}

	// exchange cancelled, item back in the pool, full refund
	got, err := env.exchanges.Get(ctx, env.memberB, ex.ID)
	if err != nil {
		t.Fatalf("get exchange: %v", err)
	}
	if got.Status != exchange.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
	itm, err := env.items.Get(ctx, listed.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if itm.State != item.StateAvailable {
		t.Fatalf("expected item reopened, got %s", itm.State)
	}
	balAfter, _ := env.points.GetBalance(ctx, env.memberB)
	if balAfter.Balance != balBefore.Balance+20 {
		t.Fatalf("expected full refund of 20, balance went %d -> %d", balBefore.Balance, balAfter.Balance)
	}

	// a settled dispute cannot be ruled twice
	if _, err := env.disputes.Resolve(ctx, env.arbiter, rec.ID, OutcomeCancel, ""); !errors.Is(err, ErrBadStatus) {
		t.Fatalf("expected ErrBadStatus on second ruling, got %v", err)
	}
}

func TestResolvePartialRefund_Integration(t *testing.T) {
	env := setupDisputeTest(t)
	ctx := context.Background()

	ex, listed := env.acceptedRedeem(t, ctx, 20)
	rec, err := env.disputes.Raise(ctx, env.memberB, ex.ID, "item_not_as_described", "faded, photo was generous")
	if err != nil {
		t.Fatalf("raise: %v", err)
	}

	balBefore, _ := env.points.GetBalance(ctx, env.memberB)

	resolved, err := env.disputes.Resolve(ctx, env.arbiter, rec.ID, OutcomePartialRefund, "split the difference")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != StatusResolved {
		t.Fatalf("expected resolved, got %s", resolved.Status)
	}

	// half the points come back; the exchange still completes
	balAfter, _ := env.points.GetBalance(ctx, env.memberB)
	if balAfter.Balance != balBefore.Balance+10 {
		t.Fatalf("expected half refund of 10, balance went %d -> %d", balBefore.Balance, balAfter.Balance)
	}
	got, err := env.exchanges.Get(ctx, env.memberB, ex.ID)
	if err != nil {
		t.Fatalf("get exchange: %v", err)
	}
	if got.Status != exchange.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	itm, err := env.items.Get(ctx, listed.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if itm.State != item.StateExchanged {
		t.Fatalf("expected item to stay exchanged, got %s", itm.State)
	}
}

func TestPartialRefundRequiresRedeem_Integration(t *testing.T) {
	env := setupDisputeTest(t)
	ctx := context.Background()

	itemX, err := env.items.Create(ctx, item.CreateParams{
		OwnerID: env.memberA, Title: "coat", Category: "outerwear", Points: 30, Swappable: true,
	})
	if err != nil {
		t.Fatalf("list X: %v", err)
	}
	itemY, err := env.items.Create(ctx, item.CreateParams{
		OwnerID: env.memberB, Title: "vest", Category: "outerwear", Points: 30, Swappable: true,
	})
	if err != nil {
		t.Fatalf("list Y: %v", err)
	}
	ex, err := env.exchanges.Create(ctx, exchange.CreateParams{
		InitiatorID:     env.memberB,
		RecipientItemID: itemX.ID,
		Type:            exchange.TypeSwap,
		InitiatorItemID: itemY.ID,
	})
	if err != nil {
		t.Fatalf("create swap: %v", err)
	}
	if _, err := env.exchanges.Accept(ctx, env.memberA, ex.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	rec, err := env.disputes.Raise(ctx, env.memberA, ex.ID, "item_not_as_described", "")
	if err != nil {
		t.Fatalf("raise: %v", err)
	}

	// no points changed hands in a swap, nothing to partially refund
	if _, err := env.disputes.Resolve(ctx, env.arbiter, rec.ID, OutcomePartialRefund, ""); !errors.Is(err, ErrInvalidOutcome) {
		t.Fatalf("expected ErrInvalidOutcome, got %v", err)
	}

	// cancel unwinds both items
	if _, err := env.disputes.Resolve(ctx, env.arbiter, rec.ID, OutcomeCancel, ""); err != nil {
		t.Fatalf("resolve cancel: %v", err)
	}
	for _, id := range []string{itemX.ID, itemY.ID} {
		itm, err := env.items.Get(ctx, id)
		if err != nil {
			t.Fatalf("get item: %v", err)
		}
		if itm.State != item.StateAvailable {
			t.Fatalf("expected item reopened, got %s", itm.State)
		}
	}
}

func setupDisputeTest(t *testing.T) *disputeTestEnv {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	t.Cleanup(pool.Close)

	points := ledger.NewService(pool, ledger.DefaultRewardConfig())
	env := &disputeTestEnv{
		pool:      pool,
		points:    points,
		items:     item.NewService(pool, points),
		exchanges: exchange.NewService(pool, points),
		disputes:  NewService(pool),
	}

	env.memberA = seedDisputeMember(t, ctx, pool, "A", "member")
	env.memberB = seedDisputeMember(t, ctx, pool, "B", "member")
	env.arbiter = seedDisputeMember(t, ctx, pool, "J", "arbiter")
	env.outsider = seedDisputeMember(t, ctx, pool, "O", "member")

	members := []string{env.memberA, env.memberB, env.arbiter, env.outsider}
	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		for _, id := range members {
			pool.Exec(ctx2, `DELETE FROM disputes WHERE exchange_id IN (SELECT id FROM exchanges WHERE initiator_id = $1 OR recipient_id = $1)`, id)
			pool.Exec(ctx2, `DELETE FROM timeline_events WHERE exchange_id IN (SELECT id FROM exchanges WHERE initiator_id = $1 OR recipient_id = $1)`, id)
			pool.Exec(ctx2, `DELETE FROM exchanges WHERE initiator_id = $1 OR recipient_id = $1`, id)
		}
		for _, id := range members {
			pool.Exec(ctx2, `DELETE FROM items WHERE owner_id = $1`, id)
			pool.Exec(ctx2, `DELETE FROM ledger_entries WHERE member_id = $1`, id)
			pool.Exec(ctx2, `DELETE FROM achievements WHERE member_id = $1`, id)
			pool.Exec(ctx2, `DELETE FROM member_stats WHERE member_id = $1`, id)
			pool.Exec(ctx2, `DELETE FROM points_balances WHERE member_id = $1`, id)
			pool.Exec(ctx2, `DELETE FROM members WHERE id = $1`, id)
		}
	})

	return env
}

func seedDisputeMember(t *testing.T, ctx context.Context, pool *pgxpool.Pool, tag, role string) string {
	t.Helper()
	var id string
	err := pool.QueryRow(ctx, `
		INSERT INTO members (email, full_name, password_hash, role)
		VALUES ($1, $2, 'x', $3) RETURNING id
	`, fmt.Sprintf("dispute-%s+%d@example.com", tag, time.Now().UnixNano()), "Dispute Tester "+tag, role).Scan(&id)
	if err != nil {
		t.Skipf("database schema missing or insert failed; run migrations first: %v", err)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := ledger.NewRepository().EnsureAccount(ctx, tx, id); err != nil {
		t.Fatalf("ensure account: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return id
}
