package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/provisioning/internal/clock"
	"github.com/smallbiznis/provisioning/internal/config"
	"github.com/smallbiznis/provisioning/internal/migration"
	"github.com/smallbiznis/provisioning/internal/observability"
	"github.com/smallbiznis/provisioning/internal/providers/callback"
	"github.com/smallbiznis/provisioning/internal/providers/graph"
	"github.com/smallbiznis/provisioning/internal/provisioning/domain"
	"github.com/smallbiznis/provisioning/internal/provisioning/ingest"
	"github.com/smallbiznis/provisioning/internal/provisioning/orchestrator"
	"github.com/smallbiznis/provisioning/internal/provisioning/repository"
	"github.com/smallbiznis/provisioning/internal/queue"
	"github.com/smallbiznis/provisioning/internal/server"
	"github.com/smallbiznis/provisioning/pkg/db"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type testEnv struct {
	app     *fx.App
	db      *gorm.DB
	results domain.ResultStore
	baseURL string
	httpSrv *httptest.Server
}

var env *testEnv

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	setDefaultEnv()

	var err error
	env, err = startEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to start test environment:", err)
		os.Exit(1)
	}

	code := m.Run()
	env.shutdown()
	os.Exit(code)
}

func TestE2E_HealthCheck(t *testing.T) {
	resp, err := http.Get(env.baseURL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
}

func TestE2E_PurchaseIsProvisionedAndCalledBack(t *testing.T) {
	var (
		mu       sync.Mutex
		payloads []domain.CallbackPayload
	)
	callbackSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload domain.CallbackPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err == nil {
			mu.Lock()
			payloads = append(payloads, payload)
			mu.Unlock()
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer callbackSrv.Close()

	resp, body := doJSON(t, http.MethodPost, env.baseURL+"/api/provisioning/ingest", map[string]any{
		"email":       "a@b.com",
		"name":        "A B",
		"purchaseId":  "X1",
		"callbackUrl": callbackSrv.URL,
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", resp.StatusCode, string(body))
	}
	var accepted ingest.AcceptedResponse
	if err := json.Unmarshal(body, &accepted); err != nil {
		t.Fatalf("decode accepted response: %v", err)
	}

	result := waitForResult(t, accepted.ProvisioningID)
	if result.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", result.Status, result.Error)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(payloads) != 1 {
		t.Fatalf("expected one callback, got %d", len(payloads))
	}
	got := payloads[0]
	if got.Status != domain.StatusCompleted || got.PurchaseID != "X1" {
		t.Fatalf("unexpected callback payload: %+v", got)
	}
	if !strings.HasPrefix(got.Resources.TeamsURL, "https://teams.microsoft.com/l/team/") {
		t.Fatalf("unexpected teams url %q", got.Resources.TeamsURL)
	}
	if got.Resources.SharePointURL == "" {
		t.Fatalf("expected sharepoint url in callback")
	}
}

func TestE2E_InvalidPayloadIsRejected(t *testing.T) {
	before := countMessages(t)

	resp, body := doJSON(t, http.MethodPost, env.baseURL+"/api/webhooks/purchase", map[string]any{
		"email": "not-an-email",
		"name":  "A B",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", resp.StatusCode, string(body))
	}
	if !strings.Contains(string(body), "Invalid email format") {
		t.Fatalf("unexpected body %s", string(body))
	}

	if after := countMessages(t); after != before {
		t.Fatalf("rejected payload must not be queued: %d -> %d messages", before, after)
	}
}

func countMessages(t *testing.T) int64 {
	t.Helper()
	var count int64
	if err := env.db.Model(&queue.OutboxMessage{}).Count(&count).Error; err != nil {
		t.Fatalf("count messages: %v", err)
	}
	return count
}

func waitForResult(t *testing.T, provisioningID string) domain.ProvisioningResult {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		result, err := env.results.Get(context.Background(), provisioningID)
		if err == nil {
			return *result
		}
		if !errors.Is(err, domain.ErrResultNotFound) {
			t.Fatalf("load result: %v", err)
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("result for %s not stored in time", provisioningID)
	return domain.ProvisioningResult{}
}

func startEnv() (*testEnv, error) {
	var (
		engine  *gin.Engine
		dbConn  *gorm.DB
		results domain.ResultStore
	)

	app := fx.New(
		fx.NopLogger,
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		fx.Provide(openDatabase),
		clock.Module,
		migration.Module,

		queue.Module,
		repository.Module,
		graph.Module,
		callback.Module,
		orchestrator.Module,
		queue.WorkerModule,

		ingest.Module,
		fx.Provide(server.NewEngine),
		fx.Provide(server.NewServer),
		fx.Invoke(func(s *server.Server) { s.RegisterRoutes() }),
		fx.Populate(&engine, &dbConn, &results),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		return nil, err
	}

	httpSrv := httptest.NewServer(engine)
	return &testEnv{
		app:     app,
		db:      dbConn,
		results: results,
		baseURL: httpSrv.URL,
		httpSrv: httpSrv,
	}, nil
}

// openDatabase serializes access through one pure-Go sqlite connection.
func openDatabase(lc fx.Lifecycle) (*gorm.DB, error) {
	conn, err := db.Open(sqlite.Open("file:e2e?mode=memory&cache=shared"), db.Config{Type: "sqlite", MaxOpenConn: 1})
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})
	return conn, nil
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

func (e *testEnv) shutdown() {
	if e == nil {
		return
	}
	if e.httpSrv != nil {
		e.httpSrv.Close()
	}
	if e.app != nil {
		_ = e.app.Stop(context.Background())
	}
}

func setDefaultEnv() {
	setEnvIfEmpty("ENVIRONMENT", "test")
	setEnvIfEmpty("LOG_LEVEL", "error")
	setEnvIfEmpty("OTEL_ENABLED", "false")
	setEnvIfEmpty("CAPABILITY_DRIVER", "stub")
	setEnvIfEmpty("QUEUE_DRIVER", "outbox")
	setEnvIfEmpty("QUEUE_POLL_INTERVAL", "20ms")
	setEnvIfEmpty("CALLBACK_TIMEOUT", "5s")
}

func setEnvIfEmpty(key, value string) {
	if strings.TrimSpace(os.Getenv(key)) != "" {
		return
	}
	_ = os.Setenv(key, value)
}

func doJSON(t *testing.T, method, reqURL string, payload any) (*http.Response, []byte) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("encode json: %v", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, reqURL, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, data
}
