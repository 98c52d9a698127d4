package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"station-system/internal/common/logger"
	"station-system/internal/common/mq"
	"station-system/internal/domain"
	"station-system/internal/microservices/tracker/service"
	"station-system/internal/repository"
)

func newTestRouter(t *testing.T) (http.Handler, *repository.Memory) {
	t.Helper()
	m := repository.NewMemory()
	repository.SeedMemory(m)
	feed := service.NewFeed(m, m, domain.DefaultRouting(), &mq.Recorder{}, logger.Nop())
	svc := service.NewTrackerService(feed, m)
	return Router(&Handler{TrackerHandler: NewTrackerHandler(svc, logger.Nop())}), m
}

func insertOrder(t *testing.T, m *repository.Memory, id string, names ...string) {
	t.Helper()
	lines := make([]domain.OrderLine, 0, len(names))
	for _, n := range names {
		lines = append(lines, domain.OrderLine{Name: n, Quantity: 1})
	}
	err := m.InTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		if err := tx.AppendStatus(ctx, domain.StatusChange{OrderID: id, Status: domain.StatusPlaced, ChangedBy: "test"}); err != nil {
			return err
		}
		return tx.InsertOrder(ctx, domain.Order{ID: id, Status: domain.StatusPlaced, Items: lines})
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestStatusAndTimeline(t *testing.T) {
	h, m := newTestRouter(t)
	insertOrder(t, m, "o-1", "Latte")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/o-1/status", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"placed"`) {
		t.Fatalf("status: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/missing/status", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing status code=%d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/o-1/timeline?limit=abc", nil))
	var tl struct {
		Events []domain.StatusChange `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &tl); err != nil || len(tl.Events) != 1 {
		t.Fatalf("timeline=%s err=%v", rec.Body.String(), err)
	}
}

func TestGetFeed(t *testing.T) {
	h, m := newTestRouter(t)
	insertOrder(t, m, "o-1", "Latte", "Croissant")
	insertOrder(t, m, "o-2", "Club Sandwich")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stations/barista/feed", nil))
	var v struct {
		Station string `json:"station"`
		Orders  []struct {
			OrderID string `json:"order_id"`
		} `json:"orders"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatal(err)
	}
	if v.Station != "barista" || len(v.Orders) != 1 || v.Orders[0].OrderID != "o-1" {
		t.Fatalf("feed=%s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stations/grill/feed", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown station code=%d", rec.Code)
	}
}

func TestStreamFeed(t *testing.T) {
	h, m := newTestRouter(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/stations/kitchen/feed/stream", nil).WithContext(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.ServeHTTP(rec, req)
	}()

	// give the stream time to subscribe before changing the orders
	time.Sleep(50 * time.Millisecond)
	insertOrder(t, m, "o-1", "Croissant")
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	if rec.Header().Get("Content-Type") != "text/event-stream" {
		t.Fatalf("content type %q", rec.Header().Get("Content-Type"))
	}
	if n := strings.Count(body, "event: feed\n"); n != 2 {
		t.Fatalf("events=%d body=%s", n, body)
	}
	if !strings.Contains(body, `"order_id":"o-1"`) {
		t.Fatalf("body=%s", body)
	}
}
