package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"threadswap/auth"
)

// NewRouter constructs the HTTP API. Auth endpoints are public; everything
// else requires a Bearer token.
func NewRouter(h *Handlers, authSvc *auth.Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(authSvc))

		r.Route("/items", func(r chi.Router) {
			r.Post("/", h.CreateItem)
			r.Get("/{itemID}", h.GetItem)
			r.Delete("/{itemID}", h.RemoveItem)
			r.Post("/{itemID}/like", h.LikeItem)
			r.Post("/{itemID}/purchase", h.PurchaseItem)
		})

		r.Route("/exchanges", func(r chi.Router) {
			r.Post("/", h.CreateExchange)
			r.Get("/", h.ListMyExchanges)
			r.Get("/{exchangeID}", h.GetExchange)
			r.Get("/{exchangeID}/timeline", h.ExchangeTimeline)
			r.Post("/{exchangeID}/accept", h.AcceptExchange)
			r.Post("/{exchangeID}/reject", h.RejectExchange)
			r.Post("/{exchangeID}/ship", h.ShipExchange)
			r.Post("/{exchangeID}/receive", h.ReceiveExchange)
			r.Post("/{exchangeID}/rate", h.RateExchange)
			r.Post("/{exchangeID}/disputes", h.RaiseDispute)
		})

		r.Route("/disputes", func(r chi.Router) {
			r.Get("/{disputeID}", h.GetDispute)
			r.Post("/{disputeID}/close", h.CloseDispute)
			r.Post("/{disputeID}/resolve", h.ResolveDispute)
		})

		r.Route("/members/me", func(r chi.Router) {
			r.Get("/items", h.ListMyItems)
			r.Get("/balance", h.MyBalance)
			r.Get("/ledger", h.MyLedger)
		})
	})

	return r
}
