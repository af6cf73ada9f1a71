package ledger

import "testing"

func TestDefaultRewardConfig(t *testing.T) {
	cfg := DefaultRewardConfig()

	if cfg.ListingBase != 10 {
		t.Fatalf("listing base: expected 10 got %d", cfg.ListingBase)
	}
	if cfg.FirstListingBonus != 25 {
		t.Fatalf("first listing bonus: expected 25 got %d", cfg.FirstListingBonus)
	}
	if cfg.CompletionBonus != 20 {
		t.Fatalf("completion bonus: expected 20 got %d", cfg.CompletionBonus)
	}
	if cfg.FirstCompletionBonus != 50 {
		t.Fatalf("first completion bonus: expected 50 got %d", cfg.FirstCompletionBonus)
	}
	if cfg.FirstPurchaseBonus != 25 {
		t.Fatalf("first purchase bonus: expected 25 got %d", cfg.FirstPurchaseBonus)
	}
	if cfg.LikeReceived != 2 {
		t.Fatalf("like received: expected 2 got %d", cfg.LikeReceived)
	}
	if len(cfg.Milestones) != 12 {
		t.Fatalf("expected 12 milestone rules, got %d", len(cfg.Milestones))
	}

	seen := make(map[string]bool, len(cfg.Milestones))
	for _, rule := range cfg.Milestones {
		if rule.Threshold <= 0 || rule.Points <= 0 {
			t.Fatalf("milestone %s has non-positive threshold or points", rule.Key())
		}
		if seen[rule.Key()] {
			t.Fatalf("duplicate milestone key %s", rule.Key())
		}
		seen[rule.Key()] = true
	}
}

func TestMilestoneRuleKey(t *testing.T) {
	rule := MilestoneRule{Metric: MetricSwapsCompleted, Threshold: 10, Points: 100}
	if got := rule.Key(); got != "swapsCompleted:10" {
		t.Fatalf("expected key swapsCompleted:10 got %s", got)
	}
}

func TestGoodwillCredit(t *testing.T) {
	cfg := DefaultRewardConfig()

	cases := []struct {
		sum  int
		want int
	}{
		{0, 0},
		{4, 1},
		{10, 2},
		{100, 25},
		{3, 0}, // floors below one point
	}
	for _, tc := range cases {
		if got := cfg.GoodwillCredit(tc.sum); got != tc.want {
			t.Fatalf("goodwill for %d: expected %d got %d", tc.sum, tc.want, got)
		}
	}
}
