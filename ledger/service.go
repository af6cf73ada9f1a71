package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Service exposes pool-level ledger operations: balance reads, standalone
// credits, and milestone recalculation.
type Service struct {
	pool *pgxpool.Pool
	repo *Repository
	cfg  RewardConfig
}

func NewService(pool *pgxpool.Pool, cfg RewardConfig) *Service {
	return &Service{pool: pool, repo: NewRepository(), cfg: cfg}
}

// Config returns the reward configuration shared with the exchange engine.
func (s *Service) Config() RewardConfig {
	return s.cfg
}

// GetBalance returns the member's balance row.
func (s *Service) GetBalance(ctx context.Context, memberID string) (Balance, error) {
	return s.repo.GetBalance(ctx, s.pool, memberID)
}

// Entries returns the most recent ledger entries for a member.
func (s *Service) Entries(ctx context.Context, memberID string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, member_id, delta, reason, created_at
		FROM ledger_entries
		WHERE member_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, memberID, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: list entries: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.MemberID, &e.Delta, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ledger: scan entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate entries: %w", err)
	}
	return out, nil
}

// CreditMember applies a standalone credit in its own transaction. Used for
// best-effort rewards that do not ride a larger unit of work.
func (s *Service) CreditMember(ctx context.Context, memberID string, amount int, reason string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger: begin credit tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.Credit(ctx, tx, memberID, amount, reason); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger: commit credit: %w", err)
	}
	return nil
}

// RecalcMilestones evaluates every milestone rule against the member's
// cumulative statistics and grants the ones that newly crossed their
// threshold. Each milestone is awarded at most once per member; replays are
// absorbed by the achievement set. Returns the keys awarded by this call.
func (s *Service) RecalcMilestones(ctx context.Context, memberID string) ([]string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: begin milestone tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		lifetimeEarned     int
		itemsListed        int
		exchangesCompleted int
	)
	err = tx.QueryRow(ctx, `
		SELECT b.lifetime_earned, s.items_listed, s.exchanges_completed
		FROM points_balances b
		JOIN member_stats s ON s.member_id = b.member_id
		WHERE b.member_id = $1
	`, memberID).Scan(&lifetimeEarned, &itemsListed, &exchangesCompleted)
	if err != nil {
		return nil, fmt.Errorf("ledger: milestone stats: %w", err)
	}

	values := map[Metric]int{
		MetricItemsListed:    itemsListed,
		MetricSwapsCompleted: exchangesCompleted,
		MetricPointsEarned:   lifetimeEarned,
	}

	var awarded []string
	for _, rule := range s.cfg.Milestones {
		if values[rule.Metric] < rule.Threshold {
			continue
		}
		granted, err := s.repo.GrantOnce(ctx, tx, memberID, rule.Key())
		if err != nil {
			return nil, err
		}
		if !granted {
			continue
		}
		if err := s.repo.Credit(ctx, tx, memberID, rule.Points, ReasonMilestonePrefix+rule.Key()); err != nil {
			return nil, err
		}
		awarded = append(awarded, rule.Key())
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("ledger: commit milestones: %w", err)
	}
	return awarded, nil
}
