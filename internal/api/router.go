package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"rtb-bidder/internal/observability"
)

func Router(h *BidHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(observability.Measure)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Second))

	r.Route("/rtb", func(r chi.Router) {
		r.Post("/bids/{exchange}", h.Bid)
		r.Post("/forced/{owner}/{campaign}/{creative}", h.Forced)
		r.Get("/win/{id}", h.Win)
	})
	r.Get("/click", h.Click)
	r.Get("/campaigns", h.Campaigns)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", observability.MetricsHandler())
	return r
}
