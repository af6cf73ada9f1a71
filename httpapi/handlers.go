package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"threadswap/auth"
	"threadswap/dispute"
	"threadswap/exchange"
	"threadswap/item"
	"threadswap/ledger"
)

// Handlers wraps the domain services and exposes HTTP handlers.
type Handlers struct {
	auth      *auth.Service
	items     *item.Service
	exchanges *exchange.Service
	disputes  *dispute.Service
	points    *ledger.Service
}

func NewHandlers(authSvc *auth.Service, items *item.Service, exchanges *exchange.Service, disputes *dispute.Service, points *ledger.Service) *Handlers {
	return &Handlers{
		auth:      authSvc,
		items:     items,
		exchanges: exchanges,
		disputes:  disputes,
		points:    points,
	}
}

// --- Auth ---

func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if !decodeBody(w, r, &req) {
		return
	}

	member, err := h.auth.Register(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":        member.ID,
		"email":     member.Email,
		"full_name": member.FullName,
		"role":      member.Role,
	})
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.auth.Login(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token": result.Token,
		"member": map[string]any{
			"id":        result.Member.ID,
			"email":     result.Member.Email,
			"full_name": result.Member.FullName,
			"role":      result.Member.Role,
		},
	})
}

// --- Items ---

type createItemRequest struct {
	Title      string `json:"title"`
	Category   string `json:"category"`
	Size       string `json:"size"`
	Condition  string `json:"condition"`
	Points     int    `json:"points"`
	Swappable  bool   `json:"swappable"`
	Redeemable bool   `json:"redeemable"`
}

func (h *Handlers) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if !decodeBody(w, r, &req) {
		return
	}

	it, err := h.items.Create(r.Context(), item.CreateParams{
		OwnerID:    auth.MemberID(r.Context()),
		Title:      req.Title,
		Category:   req.Category,
		Size:       req.Size,
		Condition:  req.Condition,
		Points:     req.Points,
		Swappable:  req.Swappable,
		Redeemable: req.Redeemable,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItemDTO(it))
}

func (h *Handlers) GetItem(w http.ResponseWriter, r *http.Request) {
	it, err := h.items.Get(r.Context(), chi.URLParam(r, "itemID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(it))
}

func (h *Handlers) ListMyItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.items.ListByOwner(r.Context(), auth.MemberID(r.Context()), queryLimit(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]itemDTO, 0, len(items))
	for _, it := range items {
		out = append(out, toItemDTO(it))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) RemoveItem(w http.ResponseWriter, r *http.Request) {
	if err := h.items.Remove(r.Context(), auth.MemberID(r.Context()), chi.URLParam(r, "itemID")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) LikeItem(w http.ResponseWriter, r *http.Request) {
	if err := h.items.Like(r.Context(), auth.MemberID(r.Context()), chi.URLParam(r, "itemID")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) PurchaseItem(w http.ResponseWriter, r *http.Request) {
	ex, err := h.exchanges.Purchase(r.Context(), auth.MemberID(r.Context()), chi.URLParam(r, "itemID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toExchangeDTO(ex))
}

// --- Exchanges ---

type createExchangeRequest struct {
	RecipientItemID string `json:"recipient_item_id"`
	Type            string `json:"type"`
	InitiatorItemID string `json:"initiator_item_id"`
	Message         string `json:"message"`
}

func (h *Handlers) CreateExchange(w http.ResponseWriter, r *http.Request) {
	var req createExchangeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ex, err := h.exchanges.Create(r.Context(), exchange.CreateParams{
		InitiatorID:     auth.MemberID(r.Context()),
		RecipientItemID: req.RecipientItemID,
		Type:            exchange.Type(req.Type),
		InitiatorItemID: req.InitiatorItemID,
		Message:         req.Message,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toExchangeDTO(ex))
}

func (h *Handlers) GetExchange(w http.ResponseWriter, r *http.Request) {
	ex, err := h.exchanges.Get(r.Context(), auth.MemberID(r.Context()), chi.URLParam(r, "exchangeID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toExchangeDTO(ex))
}

func (h *Handlers) ListMyExchanges(w http.ResponseWriter, r *http.Request) {
	exchanges, err := h.exchanges.ListForMember(r.Context(), auth.MemberID(r.Context()), queryLimit(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]exchangeDTO, 0, len(exchanges))
	for _, ex := range exchanges {
		out = append(out, toExchangeDTO(ex))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) ExchangeTimeline(w http.ResponseWriter, r *http.Request) {
	events, err := h.exchanges.Timeline(r.Context(), auth.MemberID(r.Context()), chi.URLParam(r, "exchangeID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTimelineDTO(events))
}

func (h *Handlers) AcceptExchange(w http.ResponseWriter, r *http.Request) {
	ex, err := h.exchanges.Accept(r.Context(), auth.MemberID(r.Context()), chi.URLParam(r, "exchangeID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toExchangeDTO(ex))
}

func (h *Handlers) RejectExchange(w http.ResponseWriter, r *http.Request) {
	ex, err := h.exchanges.Reject(r.Context(), auth.MemberID(r.Context()), chi.URLParam(r, "exchangeID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toExchangeDTO(ex))
}

type shipRequest struct {
	Tracking string `json:"tracking"`
}

func (h *Handlers) ShipExchange(w http.ResponseWriter, r *http.Request) {
	var req shipRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Tracking == "" {
		writeError(w, http.StatusBadRequest, "tracking required")
		return
	}

	ex, err := h.exchanges.MarkShipped(r.Context(), auth.MemberID(r.Context()), chi.URLParam(r, "exchangeID"), req.Tracking)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toExchangeDTO(ex))
}

func (h *Handlers) ReceiveExchange(w http.ResponseWriter, r *http.Request) {
	ex, err := h.exchanges.MarkReceived(r.Context(), auth.MemberID(r.Context()), chi.URLParam(r, "exchangeID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toExchangeDTO(ex))
}

type rateRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

func (h *Handlers) RateExchange(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ex, err := h.exchanges.Rate(r.Context(), auth.MemberID(r.Context()), chi.URLParam(r, "exchangeID"), req.Rating, req.Comment)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toExchangeDTO(ex))
}

// --- Disputes ---

type raiseDisputeRequest struct {
	Reason      string `json:"reason"`
	Description string `json:"description"`
}

func (h *Handlers) RaiseDispute(w http.ResponseWriter, r *http.Request) {
	var req raiseDisputeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	rec, err := h.disputes.Raise(r.Context(), auth.MemberID(r.Context()), chi.URLParam(r, "exchangeID"), req.Reason, req.Description)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDisputeDTO(rec))
}

func (h *Handlers) GetDispute(w http.ResponseWriter, r *http.Request) {
	rec, err := h.disputes.Get(r.Context(), chi.URLParam(r, "disputeID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeDTO(rec))
}

func (h *Handlers) CloseDispute(w http.ResponseWriter, r *http.Request) {
	rec, err := h.disputes.Close(r.Context(), auth.MemberID(r.Context()), chi.URLParam(r, "disputeID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeDTO(rec))
}

type resolveDisputeRequest struct {
	Outcome string `json:"outcome"`
	Notes   string `json:"notes"`
}

func (h *Handlers) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	var req resolveDisputeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	rec, err := h.disputes.Resolve(r.Context(), auth.MemberID(r.Context()), chi.URLParam(r, "disputeID"), dispute.Outcome(req.Outcome), req.Notes)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeDTO(rec))
}

// --- Points ---

func (h *Handlers) MyBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := h.points.GetBalance(r.Context(), auth.MemberID(r.Context()))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(bal))
}

func (h *Handlers) MyLedger(w http.ResponseWriter, r *http.Request) {
	entries, err := h.points.Entries(r.Context(), auth.MemberID(r.Context()), queryLimit(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

func queryLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}
