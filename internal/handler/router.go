package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	custommiddleware "github.com/mmeshcher/event-lottery/internal/middleware"
)

// Лимит изменяющих запросов с одного адреса в минуту.
const writeRateLimit = 60

// SetupRouter настраивает HTTP-маршруты и middleware сервиса лотереи.
// Метрики из gatherer отдаются на /metrics.
func (h *Handler) SetupRouter(gatherer prometheus.Gatherer) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	limit := custommiddleware.RateLimit(writeRateLimit, time.Minute)

	r.Route("/api", func(r chi.Router) {
		r.With(limit).Post("/session", h.StartSession)

		r.Group(func(r chi.Router) {
			r.Use(h.sessions.Middleware)

			r.With(limit).Post("/events", h.CreateEvent)

			r.Route("/events/{eventID}", func(r chi.Router) {
				r.Get("/", h.GetEvent)
				r.Get("/lottery", h.GetLottery)
				r.Get("/entrants", h.ListEntrants)
				r.Get("/entrants.csv", h.ExportEntrantsCSV)

				r.Group(func(r chi.Router) {
					r.Use(limit)

					r.Post("/close", h.CloseEvent)
					r.Post("/waitlist", h.JoinWaitlist)
					r.Delete("/waitlist", h.LeaveWaitlist)
					r.Post("/lottery", h.RunLottery)
					r.Post("/response", h.Respond)
					r.Delete("/invitations/{candidateID}", h.CancelInvitation)
				})
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
