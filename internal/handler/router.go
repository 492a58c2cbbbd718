package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/storefront-core/internal/middleware"
	"github.com/mmeshcher/storefront-core/internal/model"
)

// SetupRouter настраивает HTTP-маршруты и middleware витрины.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Get("/region", h.GetRegion)
		r.Post("/user/login", h.Login)
		r.Post("/workers/apply", h.ApplyWorker)

		r.Get("/listings", h.GetPublishedListings)
		r.Post("/listings", h.SubmitListing)

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.sessions.Middleware)
			r.Use(custommiddleware.RequireAdmin(h.admins))

			r.Get("/workers", h.ListWorkers)
			r.Get("/workers/inconsistent", h.ListInconsistentWorkers)
			r.Post("/workers/{id}/activate", h.RetryActivation)
			r.Patch("/workers/{id}/status", h.UpdateStatus(model.SubjectWorker))
			r.Get("/listings", h.ListListings)
			r.Patch("/listings/{id}/status", h.UpdateStatus(model.SubjectListing))

			r.Get("/notifications/dead", h.ListDeadNotifications)
			r.Post("/notifications/{id}/retry", h.RetryNotification)
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
