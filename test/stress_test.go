package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"threadswap/dispute"
	"threadswap/exchange"
	"threadswap/item"
	"threadswap/ledger"
	"threadswap/test/actors"
	"threadswap/test/chaos"
	"threadswap/test/infra"
	"threadswap/test/oracles"
)

var (
	flDuration    = flag.Duration("duration", 90*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 6, "number of concurrent trading members")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
)

func TestSwapEngineConcurrency(t *testing.T) {
	flag.Parse()
	seed := *flSeed
	rand.Seed(seed)

	var (
		pgC        *infra.PGContainer
		dsn        string
		err        error
		usedShared bool
	)
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	switch {
	case *flDSN != "":
		dsn = *flDSN
		usedShared = true
		pgC = &infra.PGContainer{}
	case os.Getenv("SWAP_TEST_PG_DSN") != "":
		dsn = os.Getenv("SWAP_TEST_PG_DSN")
		usedShared = true
		pgC = &infra.PGContainer{}
	default:
		if !dockerAvailable(ctx) {
			t.Skip("docker unavailable and no SWAP_TEST_PG_DSN set")
		}
		pgC, dsn, err = infra.StartPostgres16(ctx, "")
		if err != nil {
			t.Fatalf("start postgres: %v", err)
		}
	}
	defer pgC.Terminate(context.Background())

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	points := ledger.NewService(pool, ledger.DefaultRewardConfig())
	items := item.NewService(pool, points)
	exchanges := exchange.NewService(pool, points)
	disputes := dispute.NewService(pool)

	memberIDs := mustSeedMembers(t, ctx, pool, *flConcurrency)
	arbiterID := mustSeedArbiter(t, ctx, pool)

	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	for _, memberID := range memberIDs {
		memberID := memberID
		g.Go(func() error { return actors.Lister(ctx2, items, memberID, stop) })
		g.Go(func() error { return actors.Requester(ctx2, pool, exchanges, memberID, stop) })
		g.Go(func() error { return actors.Responder(ctx2, pool, exchanges, memberID, stop) })
	}
	g.Go(func() error { return actors.Courier(ctx2, pool, exchanges, stop) })
	g.Go(func() error { return actors.Purchaser(ctx2, pool, exchanges, memberIDs[0], stop) })
	g.Go(func() error { return actors.Disputer(ctx2, pool, disputes, memberIDs[1%len(memberIDs)], stop) })
	g.Go(func() error { return actors.Arbiter(ctx2, pool, disputes, arbiterID, stop) })
	g.Go(func() error { return actors.Expirer(ctx2, exchanges, stop) })
	g.Go(func() error { return actors.OutboxWorker(ctx2, pool, stop) })
	go chaos.TerminateRandomBackend(ctx2, pool, stop)

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx2, pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				t.Fatalf("oracle error: %v", err)
			}
			if name != "" {
				failed = true
				dumpRecent(t, ctx2, pool)
				t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v", err)
		}
	}

	// one last consistency pass after everything quiesced
	name, row, err := oracles.Run(context.Background(), pool)
	if err != nil {
		t.Fatalf("final oracle pass: %v", err)
	}
	if name != "" {
		dumpRecent(t, context.Background(), pool)
		t.Fatalf("Oracle %s failed after quiesce. First row: %s (seed=%d)", name, row, seed)
	}
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

func mustSeedMembers(t *testing.T, ctx context.Context, pool *pgxpool.Pool, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		var id string
		err := pool.QueryRow(ctx, `
			INSERT INTO members (email, full_name, password_hash)
			VALUES ($1, $2, 'x') RETURNING id
		`, fmt.Sprintf("m%d-%d@example.com", i, rand.Int63()), fmt.Sprintf("Stress Member %d", i)).Scan(&id)
		if err != nil {
			t.Fatalf("seed member: %v", err)
		}
		if _, err := pool.Exec(ctx, `INSERT INTO points_balances (member_id) VALUES ($1)`, id); err != nil {
			t.Fatalf("seed balance: %v", err)
		}
		if _, err := pool.Exec(ctx, `INSERT INTO member_stats (member_id) VALUES ($1)`, id); err != nil {
			t.Fatalf("seed stats: %v", err)
		}
		ids = append(ids, id)
	}
	return ids
}

func mustSeedArbiter(t *testing.T, ctx context.Context, pool *pgxpool.Pool) string {
	t.Helper()
	var id string
	err := pool.QueryRow(ctx, `
		INSERT INTO members (email, full_name, password_hash, role)
		VALUES ($1, 'Stress Arbiter', 'x', 'arbiter') RETURNING id
	`, fmt.Sprintf("arbiter-%d@example.com", rand.Int63())).Scan(&id)
	if err != nil {
		t.Fatalf("seed arbiter: %v", err)
	}
	if _, err := pool.Exec(ctx, `INSERT INTO points_balances (member_id) VALUES ($1)`, id); err != nil {
		t.Fatalf("seed arbiter balance: %v", err)
	}
	if _, err := pool.Exec(ctx, `INSERT INTO member_stats (member_id) VALUES ($1)`, id); err != nil {
		t.Fatalf("seed arbiter stats: %v", err)
	}
	return id
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"exchanges", `SELECT id, type, status, recipient_item_id, points, updated_at FROM exchanges ORDER BY updated_at DESC LIMIT 50`},
		{"timeline_events", `SELECT id, exchange_id, seq, type, created_at FROM timeline_events ORDER BY id DESC LIMIT 50`},
		{"points_balances", `SELECT member_id, balance, lifetime_earned, lifetime_spent FROM points_balances ORDER BY member_id LIMIT 50`},
		{"disputes", `SELECT id, exchange_id, status, outcome, created_at FROM disputes ORDER BY created_at DESC LIMIT 50`},
		{"outbox", `SELECT id, topic, status, attempts, created_at FROM outbox ORDER BY created_at DESC LIMIT 50`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
