package ledger

import "fmt"

// Reason tags recorded on ledger entries. They make the audit trail
// reproducible and let downstream reporting group credits by origin.
const (
	ReasonItemListed           = "item_listed"
	ReasonFirstListingBonus    = "first_listing_bonus"
	ReasonLikeReceived         = "like_received"
	ReasonAcceptanceGoodwill   = "acceptance_goodwill"
	ReasonRedeemTransfer       = "redeem_transfer"
	ReasonPointsPurchase       = "points_purchase"
	ReasonFirstPurchaseBonus   = "first_purchase_bonus"
	ReasonCompletionBonus      = "completion_bonus"
	ReasonFirstCompletionBonus = "first_completion_bonus"
	ReasonDisputeRefund        = "dispute_partial_refund"
	ReasonMilestonePrefix      = "milestone:"
)

// One-time achievement keys.
const (
	AchievementFirstItemListed        = "first_item_listed"
	AchievementFirstExchangeCompleted = "first_exchange_completed"
	AchievementFirstRedeemPurchase    = "first_redeem_purchase"
)

// Metric names a cumulative member statistic milestone rules evaluate.
type Metric string

const (
	MetricItemsListed    Metric = "itemsListed"
	MetricSwapsCompleted Metric = "swapsCompleted"
	MetricPointsEarned   Metric = "totalPointsEarned"
)

// MilestoneRule awards Points once when the metric crosses Threshold.
type MilestoneRule struct {
	Metric    Metric
	Threshold int
	Points    int
}

// Key is the achievement-set entry recorded when the rule fires. Adding new
// thresholds needs no schema change.
func (r MilestoneRule) Key() string {
	return fmt.Sprintf("%s:%d", r.Metric, r.Threshold)
}

// RewardConfig carries every bonus amount the engine grants. Amounts are
// configuration, not hardcoded business meaning, but the defaults below are
// the canonical ones.
type RewardConfig struct {
	ListingBase          int
	FirstListingBonus    int
	LikeReceived         int
	CompletionBonus      int
	FirstCompletionBonus int
	FirstPurchaseBonus   int
	GoodwillRatePct      int
	Milestones           []MilestoneRule
}

// DefaultRewardConfig returns the canonical reward amounts.
func DefaultRewardConfig() RewardConfig {
	return RewardConfig{
		ListingBase:          10,
		FirstListingBonus:    25,
		LikeReceived:         2,
		CompletionBonus:      20,
		FirstCompletionBonus: 50,
		FirstPurchaseBonus:   25,
		GoodwillRatePct:      25,
		Milestones: []MilestoneRule{
			{MetricItemsListed, 5, 15},
			{MetricItemsListed, 10, 30},
			{MetricItemsListed, 25, 75},
			{MetricItemsListed, 50, 150},
			{MetricSwapsCompleted, 3, 30},
			{MetricSwapsCompleted, 10, 100},
			{MetricSwapsCompleted, 25, 250},
			{MetricSwapsCompleted, 50, 500},
			{MetricPointsEarned, 100, 10},
			{MetricPointsEarned, 500, 50},
			{MetricPointsEarned, 1000, 100},
			{MetricPointsEarned, 2500, 250},
		},
	}
}

// GoodwillCredit computes the per-side acceptance credit for a swap: a
// percentage of the summed valuation of both items, floor division.
func (c RewardConfig) GoodwillCredit(summedValuation int) int {
	if summedValuation <= 0 {
		return 0
	}
	return summedValuation * c.GoodwillRatePct / 100
}
