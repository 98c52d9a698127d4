package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"station-system/internal/common/httpx"
	"station-system/internal/common/logger"
	"station-system/internal/domain"
	"station-system/internal/microservices/station/service"
)

type StationHandler struct {
	service service.StationServiceInterface
	log     *logger.Logger
}

func NewStationHandler(svc service.StationServiceInterface, log *logger.Logger) *StationHandler {
	return &StationHandler{service: svc, log: log}
}

type readyRequest struct {
	Items []string `json:"items"`
}

type actorRequest struct {
	By string `json:"by"`
}

func (h *StationHandler) StartPreparing(w http.ResponseWriter, r *http.Request) {
	st, ok := station(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	changed, err := h.service.StartPreparing(traced(r), id, st)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"order_id": id, "changed": changed})
}

func (h *StationHandler) MarkReady(w http.ResponseWriter, r *http.Request) {
	st, ok := station(w, r)
	if !ok {
		return
	}
	var req readyRequest
	if err := decodeOptional(r, &req); err != nil {
		httpx.WriteProblem(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	res, err := h.service.MarkItemsReady(traced(r), id, st, req.Items)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *StationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := decodeOptional(r, &req); err != nil {
		httpx.WriteProblem(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if req.By == "" {
		req.By = "station"
	}
	if err := h.service.Cancel(traced(r), chi.URLParam(r, "id"), req.By); err != nil {
		httpx.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *StationHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := decodeOptional(r, &req); err != nil {
		httpx.WriteProblem(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if req.By == "" {
		req.By = "cashier"
	}
	id := chi.URLParam(r, "id")
	changed, err := h.service.Complete(traced(r), id, req.By)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"order_id": id, "changed": changed})
}

func (h *StationHandler) ListInventory(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.Inventory(r.Context())
	if err != nil {
		h.log.Error("inventory_list_failed", err, nil)
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *StationHandler) GetInventoryItem(w http.ResponseWriter, r *http.Request) {
	it, err := h.service.InventoryItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, it)
}

func station(w http.ResponseWriter, r *http.Request) (domain.Station, bool) {
	st, err := domain.ParseStation(chi.URLParam(r, "station"))
	if err != nil {
		httpx.WriteError(w, err)
		return "", false
	}
	return st, true
}

// decodeOptional decodes a JSON body if there is one.
func decodeOptional(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// traced continues a trace started by the calling terminal.
func traced(r *http.Request) context.Context {
	return otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
}
