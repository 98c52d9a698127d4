package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"station-system/internal/common/httpx"
	"station-system/internal/common/logger"
	"station-system/internal/microservices/station/service"
)

type Handler struct {
	StationHandler *StationHandler
}

func New(svc service.StationServiceInterface, log *logger.Logger) *Handler {
	return &Handler{StationHandler: NewStationHandler(svc, log)}
}

func Router(h *Handler, maxConcurrent int) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer, httpx.Limit(maxConcurrent))

	r.Post("/stations/{station}/orders/{id}/start", h.StationHandler.StartPreparing)
	r.Post("/stations/{station}/orders/{id}/ready", h.StationHandler.MarkReady)
	r.Delete("/orders/{id}", h.StationHandler.Cancel)
	r.Post("/orders/{id}/complete", h.StationHandler.Complete)
	r.Get("/inventory", h.StationHandler.ListInventory)
	r.Get("/inventory/{id}", h.StationHandler.GetInventoryItem)
	return r
}
