package logger

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogger_FieldsAndLevels(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	lg := NewWith(zap.New(core), "station-service")

	lg.Info("order_served", map[string]any{"order_id": "o-1"})
	lg.Warn("stock_low", nil)
	lg.Error("commit_failed", errors.New("boom"), map[string]any{"attempt": 3})

	entries := logs.AllUntimed()
	if len(entries) != 3 {
		t.Fatalf("entries=%d, want 3", len(entries))
	}
	first := entries[0].ContextMap()
	if first["service"] != "station-service" || first["action"] != "order_served" || first["order_id"] != "o-1" {
		t.Fatalf("unexpected fields: %v", first)
	}
	if entries[1].Level != zap.WarnLevel {
		t.Fatalf("level=%v, want warn", entries[1].Level)
	}
	if got := entries[2].ContextMap()["error"]; got != "boom" {
		t.Fatalf("error field=%v", got)
	}
}

func TestLogger_Named(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	lg := NewWith(zap.New(core), "bootstrap").Named("relay")
	lg.Info("relay_started", nil)
	if got := logs.All()[0].ContextMap()["service"]; got != "relay" {
		t.Fatalf("service=%v, want relay", got)
	}
}
