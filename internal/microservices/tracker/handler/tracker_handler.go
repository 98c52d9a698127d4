package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"station-system/internal/common/httpx"
	"station-system/internal/common/logger"
	"station-system/internal/domain"
	"station-system/internal/microservices/tracker/service"
)

type TrackerHandler struct {
	service service.TrackerServiceInterface
	log     *logger.Logger
}

func NewTrackerHandler(svc service.TrackerServiceInterface, log *logger.Logger) *TrackerHandler {
	return &TrackerHandler{service: svc, log: log}
}

func (h *TrackerHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	v, err := h.service.GetOrderView(r.Context(), chi.URLParam(r, "order_id"))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, v)
}

func (h *TrackerHandler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "order_id")
	limit := httpx.AtoiDefault(r.URL.Query().Get("limit"), 50)
	offset := httpx.AtoiDefault(r.URL.Query().Get("offset"), 0)
	events, err := h.service.GetOrderTimeline(r.Context(), id, limit, offset)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"order_id": id, "events": events})
}

func (h *TrackerHandler) GetFeed(w http.ResponseWriter, r *http.Request) {
	st, err := domain.ParseStation(chi.URLParam(r, "station"))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	v, err := h.service.Snapshot(r.Context(), st)
	if err != nil {
		h.log.Error("feed_snapshot_failed", err, map[string]any{"station": st})
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, v)
}

// StreamFeed sends the station view as server-sent events, one "feed" event
// per change, until the client goes away.
func (h *TrackerHandler) StreamFeed(w http.ResponseWriter, r *http.Request) {
	st, err := domain.ParseStation(chi.URLParam(r, "station"))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpx.WriteProblem(w, http.StatusInternalServerError, "streaming_unsupported", "response writer cannot flush")
		return
	}
	views, err := h.service.Watch(r.Context(), st)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.log.Debug("feed_stream_opened", map[string]any{"station": st})
	for v := range views {
		b, err := json.Marshal(v)
		if err != nil {
			continue
		}
		if _, err := fmt.Fprintf(w, "event: feed\ndata: %s\n\n", b); err != nil {
			return
		}
		flusher.Flush()
	}
	h.log.Debug("feed_stream_closed", map[string]any{"station": st})
}
