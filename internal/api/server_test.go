package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fleeteye/internal/alert"
	"github.com/fleeteye/internal/auth"
	"github.com/fleeteye/internal/config"
	"github.com/fleeteye/internal/database"
	"github.com/fleeteye/internal/logger"
	"github.com/fleeteye/internal/models"
	"github.com/fleeteye/internal/monitor"
	"github.com/fleeteye/internal/notify"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestMain(m *testing.M) {
	logger.Init("error")
	m.Run()
}

var dbSeq atomic.Int64

type discardSink struct{}

func (discardSink) Dispatch(notify.Intent) {}

func newTestServer(t *testing.T) (*Server, *alert.Store) {
	t.Helper()
	return newTestServerWithSecret(t, "")
}

func newTestServerWithSecret(t *testing.T, secret string) (*Server, *alert.Store) {
	t.Helper()
	dsn := fmt.Sprintf("file:api%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		Thresholds: map[string]config.ThresholdConfig{
			"cpu":     {High: 85, Critical: 95},
			"memory":  {High: 90, Critical: 97},
			"disk":    {High: 80, Critical: 90},
			"offline": {},
		},
		Cooldowns: config.CooldownConfig{CriticalMinutes: 30, HighMinutes: 240},
		Offline:   config.OfflineConfig{IntervalMultiple: 3, SweepSeconds: 30},
	}
	provider := config.NewProvider(cfg)
	store := alert.NewStore(db)
	manager := alert.NewManager(store, provider, discardSink{}, nil)
	ingestor := monitor.NewIngestor(db, manager, provider)

	return NewServer(db, store, ingestor, secret), store
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return doJSONAuth(t, s, method, path, "", body)
}

func doJSONAuth(t *testing.T, s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func registerServer(t *testing.T, s *Server) models.Server {
	t.Helper()
	w := doJSON(t, s, http.MethodPost, "/api/v1/servers", map[string]any{
		"name":               "web-01",
		"category":           "vm",
		"tdp_watts":          95,
		"heartbeat_interval": 30,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create server: status %d, body %s", w.Code, w.Body.String())
	}
	var server models.Server
	if err := json.Unmarshal(w.Body.Bytes(), &server); err != nil {
		t.Fatal(err)
	}
	return server
}

func TestServerRegistryCRUD(t *testing.T) {
	s, _ := newTestServer(t)
	server := registerServer(t, s)
	if server.ServerID == "" {
		t.Fatal("server ID not assigned")
	}

	w := doJSON(t, s, http.MethodGet, "/api/v1/servers", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list servers: status %d", w.Code)
	}

	w = doJSON(t, s, http.MethodGet, "/api/v1/servers/"+server.ServerID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get server: status %d", w.Code)
	}

	w = doJSON(t, s, http.MethodPut, "/api/v1/servers/"+server.ServerID, map[string]any{
		"name": "web-01-renamed", "category": "bare-metal",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("update server: status %d", w.Code)
	}

	w = doJSON(t, s, http.MethodDelete, "/api/v1/servers/"+server.ServerID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete server: status %d", w.Code)
	}

	w = doJSON(t, s, http.MethodGet, "/api/v1/servers/"+server.ServerID, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("get deleted server: status %d, want 404", w.Code)
	}
}

func TestHeartbeatCreatesAlert(t *testing.T) {
	s, store := newTestServer(t)
	server := registerServer(t, s)

	w := doJSON(t, s, http.MethodPost, "/api/v1/heartbeat", map[string]any{
		"server_id":      server.ServerID,
		"cpu_percent":    50,
		"memory_percent": 50,
		"disk_percent":   85,
		"timestamp":      time.Now().Format(time.RFC3339),
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("heartbeat: status %d, body %s", w.Code, w.Body.String())
	}

	n, err := store.OpenAlertCount(server.ServerID, models.ConditionDisk)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("disk alerts = %d, want 1", n)
	}

	w = doJSON(t, s, http.MethodGet, "/api/v1/alerts?open=true&server_id="+server.ServerID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list alerts: status %d", w.Code)
	}
	var alerts []models.Alert
	if err := json.Unmarshal(w.Body.Bytes(), &alerts); err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 1 || alerts[0].Condition != models.ConditionDisk {
		t.Fatalf("alerts = %+v", alerts)
	}
}

func TestHeartbeatUnknownServer(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s, http.MethodPost, "/api/v1/heartbeat", map[string]any{
		"server_id": "ghost",
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status %d, want 404", w.Code)
	}
}

func TestAcknowledgeAndResolveAlert(t *testing.T) {
	s, store := newTestServer(t)
	server := registerServer(t, s)

	doJSON(t, s, http.MethodPost, "/api/v1/heartbeat", map[string]any{
		"server_id": server.ServerID, "disk_percent": 95,
	})
	alerts, err := store.ListAlerts(alert.AlertFilter{ServerID: server.ServerID, OpenOnly: true})
	if err != nil || len(alerts) != 1 {
		t.Fatalf("expected one open alert, got %d (err %v)", len(alerts), err)
	}
	id := alerts[0].PublicID

	w := doJSON(t, s, http.MethodPut, "/api/v1/alerts/"+id+"/acknowledge", map[string]any{"user_id": "ops"})
	if w.Code != http.StatusOK {
		t.Fatalf("acknowledge: status %d, body %s", w.Code, w.Body.String())
	}

	w = doJSON(t, s, http.MethodPut, "/api/v1/alerts/"+id+"/resolve", map[string]any{"user_id": "ops"})
	if w.Code != http.StatusOK {
		t.Fatalf("resolve: status %d", w.Code)
	}

	var resolved models.Alert
	if err := json.Unmarshal(w.Body.Bytes(), &resolved); err != nil {
		t.Fatal(err)
	}
	if resolved.ResolvedAt == nil || resolved.AutoResolved {
		t.Errorf("manual resolution fields wrong: %+v", resolved)
	}
}

func TestAlertActionsRequireBody(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s, http.MethodPut, "/api/v1/alerts/some-id/acknowledge", map[string]any{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400 without user_id", w.Code)
	}
}

func TestMutatingRoutesRequireOperatorRole(t *testing.T) {
	const secret = "test-secret"
	s, _ := newTestServerWithSecret(t, secret)

	agentTok, err := auth.GenerateToken(secret, "srv-1", auth.RoleAgent, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	operatorTok, err := auth.GenerateToken(secret, "ops", auth.RoleOperator, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	serverBody := map[string]any{"name": "web-01", "heartbeat_interval": 30}

	w := doJSON(t, s, http.MethodPost, "/api/v1/servers", serverBody)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status %d, want 401", w.Code)
	}

	w = doJSONAuth(t, s, http.MethodPost, "/api/v1/servers", agentTok, serverBody)
	if w.Code != http.StatusForbidden {
		t.Fatalf("agent token on registry write: status %d, want 403", w.Code)
	}

	// Agent tokens still push heartbeats; 404 means the request cleared
	// auth and reached the handler.
	w = doJSONAuth(t, s, http.MethodPost, "/api/v1/heartbeat", agentTok, map[string]any{"server_id": "ghost"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("agent heartbeat: status %d, want 404", w.Code)
	}

	w = doJSONAuth(t, s, http.MethodPost, "/api/v1/servers", operatorTok, serverBody)
	if w.Code != http.StatusCreated {
		t.Fatalf("operator create: status %d, body %s", w.Code, w.Body.String())
	}

	w = doJSONAuth(t, s, http.MethodPut, "/api/v1/alerts/some-id/acknowledge", agentTok, map[string]any{"user_id": "ops"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("agent token on alert action: status %d, want 403", w.Code)
	}
}

func TestHeartbeatHistory(t *testing.T) {
	s, _ := newTestServer(t)
	server := registerServer(t, s)

	for i := 0; i < 3; i++ {
		doJSON(t, s, http.MethodPost, "/api/v1/heartbeat", map[string]any{
			"server_id":   server.ServerID,
			"cpu_percent": 10 + float64(i),
			"timestamp":   time.Now().Add(time.Duration(i) * time.Second).Format(time.RFC3339Nano),
		})
	}

	w := doJSON(t, s, http.MethodGet, "/api/v1/servers/"+server.ServerID+"/metrics?limit=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics: status %d", w.Code)
	}
	var samples []models.MetricSample
	if err := json.Unmarshal(w.Body.Bytes(), &samples); err != nil {
		t.Fatal(err)
	}
	if len(samples) != 2 {
		t.Fatalf("samples = %d, want 2 (limited)", len(samples))
	}
}
