package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"happin/internal/classify"
	"happin/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg := config.Defaults()
	cfg.Store.DBPath = filepath.Join(t.TempDir(), "messages.db")
	cfg.Classifier.Strategy = classify.StrategyHeuristic
	cfg.Enrichment.BatchPauseMs = -1
	return cfg
}

func TestNewEngine_LLMWithoutProviderFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.Classifier.Strategy = classify.StrategyLLM
	cfg.Classifier.Provider = "missing"
	cfg.Providers = nil

	if _, err := newEngine(cfg); err == nil {
		t.Fatal("expected an error without a usable provider")
	}
}

func TestNewEngine_AutoFallsBackToHeuristic(t *testing.T) {
	cfg := testConfig(t)
	cfg.Classifier.Strategy = classify.StrategyAuto
	cfg.Classifier.Provider = "missing"
	cfg.Providers = nil

	engine, err := newEngine(cfg)
	if err != nil {
		t.Fatalf("newEngine: %v", err)
	}
	if engine.Strategy() != classify.StrategyHeuristic {
		t.Errorf("expected heuristic, got %s", engine.Strategy())
	}
}

func TestApp_ServesWebhookAndEnriches(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	a, err := newApp(ctx, cfg)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	a.enricher.Start(ctx)
	srv := httptest.NewServer(a.router(ctx))

	resp, err := http.Post(srv.URL+"/webhooks/generic", "application/json",
		strings.NewReader(`{"id":"cli-1","from":"ops@example.com","body":"URGENT: the server is down"}`))
	if err != nil {
		t.Fatal(err)
	}
	var out struct {
		OK bool   `json:"ok"`
		ID string `json:"id"`
	}
	json.NewDecoder(resp.Body).Decode(&out)
	resp.Body.Close()
	if !out.OK || out.ID == "" {
		t.Fatalf("unexpected response %+v", out)
	}

	srv.Close()
	a.Close() // drains the enrichment queue before closing the store

	st, err := newApp(ctx, cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	msg, err := st.store.Get(ctx, out.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !msg.AIProcessed || msg.Priority == nil || *msg.Priority != 1 {
		t.Errorf("expected enriched priority 1 message, got processed=%v priority=%v", msg.AIProcessed, msg.Priority)
	}
}

func TestPrintJSON_ReturnsEncodeError(t *testing.T) {
	if err := printJSON(map[string]any{"bad": make(chan int)}); err == nil {
		t.Fatal("expected an encode error")
	}
	if err := printJSON(map[string]int{"ok": 1}); err != nil {
		t.Fatalf("printJSON: %v", err)
	}
}

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "happin.log")
	l, closer, err := newLogger(config.GeneralConfig{LogLevel: "debug", LogFile: path})
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	l.Debug("hello from test")
	closer.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "hello from test") {
		t.Errorf("log file missing entry: %q", data)
	}
}
