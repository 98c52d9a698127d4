package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Handler struct {
	TrackerHandler *TrackerHandler
}

func Router(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)
	r.Get("/orders/{order_id}/status", h.TrackerHandler.GetStatus)
	r.Get("/orders/{order_id}/timeline", h.TrackerHandler.GetTimeline)
	r.Get("/stations/{station}/feed", h.TrackerHandler.GetFeed)
	r.Get("/stations/{station}/feed/stream", h.TrackerHandler.StreamFeed)
	return r
}
