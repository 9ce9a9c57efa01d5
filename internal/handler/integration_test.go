//go:build integration

package handler_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/crypto/bcrypt"

	"github.com/kiwari-pos/kds/internal/config"
	"github.com/kiwari-pos/kds/internal/database"
	"github.com/kiwari-pos/kds/internal/dispatch"
	"github.com/kiwari-pos/kds/internal/enum"
	"github.com/kiwari-pos/kds/internal/fulfillment"
	"github.com/kiwari-pos/kds/internal/metrics"
	"github.com/kiwari-pos/kds/internal/middleware"
	"github.com/kiwari-pos/kds/internal/notify"
	"github.com/kiwari-pos/kds/internal/presence"
	"github.com/kiwari-pos/kds/internal/router"
)

// TestIntegrationFlow runs one order through the whole pipeline against a real
// PostgreSQL database: intake, assignment, the preparer slot index, completion
// and the prep-time report.
func TestIntegrationFlow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start PostgreSQL container
	pgContainer, connStr, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	// Run migrations
	runMigrations(t, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	defer pool.Close()

	queries := database.New(pool)
	hub := notify.NewHub(32)
	dispatcher := dispatch.New(hub)
	go dispatcher.Run(ctx)

	svc := fulfillment.NewService(
		fulfillment.NewPgxTransactor(pool, nil),
		presence.NewMemoryTracker(time.Minute),
		fulfillment.WithPublisher(hub),
		fulfillment.WithCompletionSink(dispatcher),
	)

	cfg := &config.Config{JWTSecret: "integration-test-secret", Timezone: "UTC"}
	r := router.New(cfg, router.Deps{
		Staff:   queries,
		Service: svc,
		Metrics: metrics.NewEngine(queries, metrics.DefaultLegacyStartOffset),
		Hub:     hub,
		Limiter: middleware.NewStaffLimiter(10, 10),
	})
	server := httptest.NewServer(r)
	defer server.Close()

	// --- 1. Staff (manual DB insert to bootstrap) ---
	createStaff(t, ctx, queries, "WTR-01", "Dewi", enum.RoleWaiter, "2222")
	createStaff(t, ctx, queries, "CK-01", "Bima", enum.RoleCook, "3333")
	createStaff(t, ctx, queries, "MGR-01", "Manager", enum.RoleManager, "5555")

	waiter := login(t, server, "WTR-01", "2222")
	cook := login(t, server, "CK-01", "3333")
	manager := login(t, server, "MGR-01", "5555")

	// --- 2. Cook comes online ---
	doJSON(t, server, "POST", "/prep/heartbeat", nil, cook, http.StatusOK)

	// --- 3. Waiter places an order with two dishes ---
	var order struct {
		ID    string `json:"id"`
		Code  string `json:"code"`
		Items []struct {
			ID    string `json:"id"`
			State string `json:"state"`
		} `json:"items"`
	}
	decodeInto(t, doJSON(t, server, "POST", "/orders", map[string]interface{}{
		"table_number": "12",
		"items": []map[string]interface{}{
			{"kind": "DISH", "name": "Nasi Bakar", "unit_price": "35000", "quantity": 1},
			{"kind": "DISH", "name": "Sate Ayam", "unit_price": "30000", "quantity": 2},
		},
	}, waiter, http.StatusCreated), &order)

	if order.Code != "KDS-001" {
		t.Fatalf("order code: got %s, want KDS-001", order.Code)
	}
	for _, item := range order.Items {
		if item.State != "ASSIGNED" {
			t.Fatalf("item %s state: got %s, want ASSIGNED", item.ID, item.State)
		}
	}
	first, second := order.Items[0].ID, order.Items[1].ID

	// --- 4. Start the first dish; the slot index refuses a second one ---
	doJSON(t, server, "POST", "/prep/items/"+first+"/start", nil, cook, http.StatusOK)
	busy := doJSON(t, server, "POST", "/prep/items/"+second+"/start", nil, cook, http.StatusConflict)
	var busyResp map[string]string
	decodeInto(t, busy, &busyResp)
	if busyResp["code"] != "PREPARER_BUSY" {
		t.Fatalf("second start: got %v, want PREPARER_BUSY", busyResp)
	}

	// --- 5. A started item can no longer be edited by the waiter ---
	doJSON(t, server, "PATCH", "/orders/"+order.ID+"/items/"+first, map[string]string{"note": "extra sambal"}, waiter, http.StatusForbidden)
	doJSON(t, server, "PATCH", "/orders/"+order.ID+"/items/"+second, map[string]string{"note": "no peanut"}, waiter, http.StatusOK)

	// --- 6. Complete both dishes ---
	doJSON(t, server, "POST", "/prep/items/"+first+"/complete", nil, cook, http.StatusOK)
	doJSON(t, server, "POST", "/prep/items/"+second+"/start", nil, cook, http.StatusOK)
	doJSON(t, server, "POST", "/prep/items/"+second+"/complete", nil, cook, http.StatusOK)

	var detail struct {
		Items []struct {
			State   string  `json:"state"`
			ReadyAt *string `json:"ready_at"`
		} `json:"items"`
	}
	decodeInto(t, doJSON(t, server, "GET", "/orders/"+order.ID, nil, waiter, http.StatusOK), &detail)
	for i, item := range detail.Items {
		if item.State != "READY" || item.ReadyAt == nil {
			t.Fatalf("item %d after complete: %+v", i, item)
		}
	}

	// --- 7. Close the order and read the reports ---
	doJSON(t, server, "POST", "/orders/"+order.ID+"/close", nil, waiter, http.StatusOK)

	var report struct {
		Summary struct {
			Count int `json:"count"`
		} `json:"summary"`
		Groups []struct {
			Name     string `json:"name"`
			Quantity int    `json:"quantity"`
		} `json:"groups"`
	}
	decodeInto(t, doJSON(t, server, "GET", "/reports/prep-times?granularity=item-type", nil, manager, http.StatusOK), &report)
	if report.Summary.Count != 3 {
		t.Fatalf("report count: got %d, want 3 units", report.Summary.Count)
	}
	if len(report.Groups) != 2 || report.Groups[0].Name != "Sate Ayam" {
		t.Fatalf("report groups: got %+v", report.Groups)
	}

	var history []map[string]interface{}
	decodeInto(t, doJSON(t, server, "GET", "/prep/history", nil, cook, http.StatusOK), &history)
	if len(history) != 2 {
		t.Fatalf("cook history: got %d items, want 2", len(history))
	}

	t.Logf("Integration test passed: container=%s, order=%s", pgContainer.GetContainerID(), order.Code)
}

// --- Setup helpers ---

func setupPostgresContainer(t *testing.T, ctx context.Context) (testcontainers.Container, string, func()) {
	t.Helper()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("kds_test"),
		tcpostgres.WithUsername("kds"),
		tcpostgres.WithPassword("kds"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	cleanup := func() {
		if err := pgContainer.Terminate(context.Background()); err != nil {
			t.Logf("terminate container: %v", err)
		}
	}

	return pgContainer, connStr, cleanup
}

func runMigrations(t *testing.T, connStr string) {
	t.Helper()

	// Connect with stdlib for migrate
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("open db for migrations: %v", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		t.Fatalf("create migrate driver: %v", err)
	}

	// Go test sets cwd to the package directory.
	m, err := migrate.NewWithDatabaseInstance(
		"file://../../migrations",
		"postgres", driver)
	if err != nil {
		t.Fatalf("create migrate instance: %v", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		t.Fatalf("run migrations: %v", err)
	}
}

func createStaff(t *testing.T, ctx context.Context, q *database.Queries, code, name string, role enum.Role, pin string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash pin: %v", err)
	}
	if _, err := q.CreateStaff(ctx, database.CreateStaffParams{
		Code:    code,
		Name:    name,
		Role:    role,
		PinHash: string(hash),
	}); err != nil {
		t.Fatalf("create staff %s: %v", code, err)
	}
}

func login(t *testing.T, server *httptest.Server, code, pin string) string {
	t.Helper()
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	decodeInto(t, doJSON(t, server, "POST", "/auth/login", map[string]string{"code": code, "pin": pin}, "", http.StatusOK), &resp)
	if resp.AccessToken == "" {
		t.Fatalf("login %s: empty token", code)
	}
	return resp.AccessToken
}

// --- HTTP helpers ---

func doJSON(t *testing.T, server *httptest.Server, method, path string, body interface{}, token string, want int) []byte {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, server.URL+path, reader)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	if resp.StatusCode != want {
		t.Fatalf("%s %s: status %d, want %d, body: %s", method, path, resp.StatusCode, want, buf.String())
	}
	return buf.Bytes()
}

func decodeInto(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
}
