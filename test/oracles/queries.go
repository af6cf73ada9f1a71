package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_one_active_request_per_item",
			SQL: `SELECT recipient_item_id, COUNT(*) FROM exchanges
                  WHERE status IN ('pending','accepted')
                  GROUP BY recipient_item_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_balance_equation",
			SQL: `SELECT member_id, balance, lifetime_earned, lifetime_spent
                  FROM points_balances
                  WHERE balance < 0 OR balance <> lifetime_earned - lifetime_spent`,
		},
		{
			Name: "O3_timeline_seq_monotonic",
			SQL: `WITH seqs AS (
                      SELECT exchange_id, seq,
                             LAG(seq) OVER (PARTITION BY exchange_id ORDER BY seq) AS prev
                      FROM timeline_events)
                  SELECT * FROM seqs WHERE prev IS NOT NULL AND seq <= prev`,
		},
		{
			Name: "O4_reserved_items_have_pending_request",
			SQL: `SELECT i.id FROM items i
                  WHERE i.state = 'reserved'
                    AND NOT EXISTS (
                        SELECT 1 FROM exchanges e
                        WHERE e.status = 'pending'
                          AND (e.recipient_item_id = i.id OR e.initiator_item_id = i.id))`,
		},
		{
			Name: "O5_resolved_dispute_terminal_exchange",
			SQL: `SELECT d.id, e.status FROM disputes d
                  JOIN exchanges e ON e.id = d.exchange_id
                  WHERE d.status = 'resolved'
                    AND e.status NOT IN ('completed','cancelled')`,
		},
		{
			Name: "O6_ledger_entries_sum_to_balance",
			SQL: `SELECT b.member_id, b.balance, COALESCE(l.total, 0) AS entry_sum
                  FROM points_balances b
                  LEFT JOIN (SELECT member_id, SUM(delta) AS total FROM ledger_entries GROUP BY member_id) l
                    ON l.member_id = b.member_id
                  WHERE COALESCE(l.total, 0) <> b.balance`,
		},
		{
			Name: "O7_exchanged_items_have_settled_exchange",
			SQL: `SELECT i.id FROM items i
                  WHERE i.state = 'exchanged'
                    AND NOT EXISTS (
                        SELECT 1 FROM exchanges e
                        WHERE e.status IN ('accepted','completed')
                          AND (e.recipient_item_id = i.id OR e.initiator_item_id = i.id))`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
