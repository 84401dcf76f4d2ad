package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/mmeshcher/lending-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware системы библиотечной выдачи.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/loans", h.Borrow)
		r.Post("/loans/return", h.ReturnBook)
		r.Get("/loans/overdue", h.GetOverdue)

		r.Get("/books/availability", h.GetAvailability)
		r.Get("/books/unavailable", h.GetUnavailable)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
