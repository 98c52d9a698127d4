package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"station-system/internal/common/httpx"
	"station-system/internal/microservices/order/service"
)

type Handler struct {
	OrderHandler *OrderHandler
}

func New(s *service.Service) *Handler {
	return &Handler{
		OrderHandler: NewOrderHandler(s.OrderService),
	}
}

func Router(h *Handler, maxConcurrent int) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer, httpx.Limit(maxConcurrent))
	r.Post("/orders", h.OrderHandler.AddOrder)
	return r
}
