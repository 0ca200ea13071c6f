package handlers_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/orrn/printapp/internal/api/handlers"
	"github.com/orrn/printapp/internal/archive"
	"github.com/orrn/printapp/internal/core"
	"github.com/orrn/printapp/internal/db"
)

func TestSettings_HistoryRetention(t *testing.T) {
	e := newEnv(t, false)
	a := archive.NewArchiver(archive.Config{HistoryDays: 30, Logger: quietLogger()})
	handlers.NewSettingsHandler(a, quietLogger()).RegisterRoutes(e.router.Group("/api"))

	got := decode[handlers.SettingsResponse](t, e.do(t, http.MethodGet, "/api/settings", nil, ""))
	if got.HistoryDays != 30 {
		t.Errorf("expected 30 days, got %d", got.HistoryDays)
	}

	if w := e.doJSON(t, http.MethodPut, "/api/settings", map[string]int{"history_days": 0}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for zero days, got %d", w.Code)
	}
	w := e.doJSON(t, http.MethodPut, "/api/settings", map[string]int{"history_days": 1})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 updating settings, got %d: %s", w.Code, w.Body.String())
	}
	s, err := db.Settings.GetSetting(context.Background(), archive.SettingHistoryDays)
	if err != nil || s.Value != "1" {
		t.Fatalf("expected stored history_days 1, got %+v (%v)", s, err)
	}

	old := time.Now().Add(-72 * time.Hour)
	snap := core.Snapshot{ID: 1, Printer: "office", StateName: "completed", Created: old, Completed: old}
	if err := db.History.RecordJob(context.Background(), snap); err != nil {
		t.Fatalf("record: %v", err)
	}

	w = e.do(t, http.MethodPost, "/api/settings/prune", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 pruning, got %d", w.Code)
	}
	if resp := decode[handlers.PruneResponse](t, w); resp.Pruned != 1 {
		t.Errorf("expected 1 pruned record, got %d", resp.Pruned)
	}

	w = e.do(t, http.MethodDelete, "/api/settings", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 resetting settings, got %d", w.Code)
	}
	if got := decode[handlers.SettingsResponse](t, w); got.HistoryDays != 30 {
		t.Errorf("expected reset to 30 days, got %d", got.HistoryDays)
	}
}
