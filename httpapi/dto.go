package httpapi

import (
	"encoding/json"
	"time"

	"threadswap/dispute"
	"threadswap/exchange"
	"threadswap/item"
	"threadswap/ledger"
)

type itemDTO struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"owner_id"`
	Title      string    `json:"title"`
	Category   string    `json:"category"`
	Size       string    `json:"size,omitempty"`
	Condition  string    `json:"condition,omitempty"`
	Points     int       `json:"points"`
	State      string    `json:"state"`
	Swappable  bool      `json:"swappable"`
	Redeemable bool      `json:"redeemable"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func toItemDTO(it item.Item) itemDTO {
	return itemDTO{
		ID:         it.ID,
		OwnerID:    it.OwnerID,
		Title:      it.Title,
		Category:   it.Category,
		Size:       it.Size,
		Condition:  it.Condition,
		Points:     it.Points,
		State:      string(it.State),
		Swappable:  it.Swappable,
		Redeemable: it.Redeemable,
		CreatedAt:  it.CreatedAt,
		UpdatedAt:  it.UpdatedAt,
	}
}

type exchangeDTO struct {
	ID              string     `json:"id"`
	Type            string     `json:"type"`
	Status          string     `json:"status"`
	InitiatorID     string     `json:"initiator_id"`
	RecipientID     string     `json:"recipient_id"`
	RecipientItemID string     `json:"recipient_item_id"`
	InitiatorItemID *string    `json:"initiator_item_id,omitempty"`
	Points          int        `json:"points"`
	Message         string     `json:"message,omitempty"`
	ExpiresAt       time.Time  `json:"expires_at"`
	InitiatorTracking   *string    `json:"initiator_tracking,omitempty"`
	InitiatorShippedAt  *time.Time `json:"initiator_shipped_at,omitempty"`
	RecipientTracking   *string    `json:"recipient_tracking,omitempty"`
	RecipientShippedAt  *time.Time `json:"recipient_shipped_at,omitempty"`
	InitiatorReceivedAt *time.Time `json:"initiator_received_at,omitempty"`
	RecipientReceivedAt *time.Time `json:"recipient_received_at,omitempty"`
	InitiatorRating     *int       `json:"initiator_rating,omitempty"`
	RecipientRating     *int       `json:"recipient_rating,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

func toExchangeDTO(ex exchange.Exchange) exchangeDTO {
	return exchangeDTO{
		ID:                  ex.ID,
		Type:                string(ex.Type),
		Status:              string(ex.Status),
		InitiatorID:         ex.InitiatorID,
		RecipientID:         ex.RecipientID,
		RecipientItemID:     ex.RecipientItemID,
		InitiatorItemID:     ex.InitiatorItemID,
		Points:              ex.Points,
		Message:             ex.Message,
		ExpiresAt:           ex.ExpiresAt,
		InitiatorTracking:   ex.InitiatorTracking,
		InitiatorShippedAt:  ex.InitiatorShippedAt,
		RecipientTracking:   ex.RecipientTracking,
		RecipientShippedAt:  ex.RecipientShippedAt,
		InitiatorReceivedAt: ex.InitiatorReceivedAt,
		RecipientReceivedAt: ex.RecipientReceivedAt,
		InitiatorRating:     ex.InitiatorRating,
		RecipientRating:     ex.RecipientRating,
		CreatedAt:           ex.CreatedAt,
		UpdatedAt:           ex.UpdatedAt,
	}
}

type timelineEventDTO struct {
	Seq       int             `json:"seq"`
	Type      string          `json:"type"`
	ActorID   *string         `json:"actor_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

func toTimelineDTO(events []exchange.TimelineEvent) []timelineEventDTO {
	out := make([]timelineEventDTO, 0, len(events))
	for _, ev := range events {
		out = append(out, timelineEventDTO{
			Seq:       ev.Seq,
			Type:      ev.Type,
			ActorID:   ev.ActorID,
			Payload:   json.RawMessage(ev.Payload),
			CreatedAt: ev.CreatedAt,
		})
	}
	return out
}

type disputeDTO struct {
	ID          string     `json:"id"`
	ExchangeID  string     `json:"exchange_id"`
	RaisedBy    string     `json:"raised_by"`
	Reason      string     `json:"reason"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status"`
	Outcome     *string    `json:"outcome,omitempty"`
	ArbiterID   *string    `json:"arbiter_id,omitempty"`
	Notes       *string    `json:"notes,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

func toDisputeDTO(rec dispute.Record) disputeDTO {
	return disputeDTO{
		ID:          rec.ID,
		ExchangeID:  rec.ExchangeID,
		RaisedBy:    rec.RaisedBy,
		Reason:      rec.Reason,
		Description: rec.Description,
		Status:      string(rec.Status),
		Outcome:     rec.Outcome,
		ArbiterID:   rec.ArbiterID,
		Notes:       rec.Notes,
		CreatedAt:   rec.CreatedAt,
		ResolvedAt:  rec.ResolvedAt,
	}
}

type balanceDTO struct {
	MemberID       string `json:"member_id"`
	Balance        int    `json:"balance"`
	LifetimeEarned int    `json:"lifetime_earned"`
	LifetimeSpent  int    `json:"lifetime_spent"`
}

func toBalanceDTO(b ledger.Balance) balanceDTO {
	return balanceDTO{
		MemberID:       b.MemberID,
		Balance:        b.Balance,
		LifetimeEarned: b.LifetimeEarned,
		LifetimeSpent:  b.LifetimeSpent,
	}
}

type entryDTO struct {
	ID        int64     `json:"id"`
	Delta     int       `json:"delta"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

func toEntryDTOs(entries []ledger.Entry) []entryDTO {
	out := make([]entryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryDTO{ID: e.ID, Delta: e.Delta, Reason: e.Reason, CreatedAt: e.CreatedAt})
	}
	return out
}
