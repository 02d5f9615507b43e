package routes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledger-core/internal/audit"
	"github.com/angelmondragon/ledger-core/internal/balances"
	"github.com/angelmondragon/ledger-core/internal/ledger"
	"github.com/angelmondragon/ledger-core/internal/permissions"
	"github.com/angelmondragon/ledger-core/internal/search"
	"github.com/angelmondragon/ledger-core/internal/transactions"
	pkgAuth "github.com/angelmondragon/ledger-core/pkg/auth"
	"github.com/angelmondragon/ledger-core/pkg/config"
	"github.com/angelmondragon/ledger-core/pkg/db"
	"github.com/angelmondragon/ledger-core/pkg/db/models"
	"github.com/angelmondragon/ledger-core/pkg/enums"
	"github.com/angelmondragon/ledger-core/pkg/lock"
	"github.com/angelmondragon/ledger-core/pkg/logger"
	"github.com/angelmondragon/ledger-core/pkg/metrics"
)

type routerEnv struct {
	handler   http.Handler
	cfg       *config.Config
	conn      *gorm.DB
	accountID uuid.UUID
	owner     uuid.UUID
	viewer    uuid.UUID
}

func newRouterEnv(t *testing.T) routerEnv {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:routes_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := conn.AutoMigrate(&models.Account{}, &models.Transaction{}, &models.TransactionTag{}, &models.PermissionGrant{}, &models.AuditEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	reg := prometheus.NewRegistry()
	ledgerMetrics := metrics.NewLedgerMetrics(reg)

	dbClient := db.FromGorm(conn)
	txns := transactions.NewRepository(conn)
	bal, err := balances.NewLedger(dbClient, lock.NewKeyedMutex(), txns, ledgerMetrics, logg, balances.Options{LockWait: 5 * time.Second})
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	grants := permissions.NewRepository(conn)
	resolver, err := permissions.NewResolver(grants, nil)
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	engine, err := search.NewEngine(conn, txns)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	recorder, err := audit.NewRecorder(audit.NewRepository(conn), logg)
	if err != nil {
		t.Fatalf("recorder: %v", err)
	}
	svc, err := ledger.NewService(ledger.ServiceParams{
		Transactions: txns,
		Ledger:       bal,
		Permissions:  resolver,
		Search:       engine,
		Audit:        recorder,
		Metrics:      ledgerMetrics,
		Logger:       logg,
	})
	if err != nil {
		t.Fatalf("service: %v", err)
	}

	account := models.Account{
		ID:             uuid.New(),
		Name:           "Checking",
		Currency:       enums.CurrencyUSD,
		OpeningBalance: decimal.RequireFromString("1000.00"),
		CurrentBalance: decimal.RequireFromString("1000.00"),
	}
	if err := conn.Create(&account).Error; err != nil {
		t.Fatalf("seed account: %v", err)
	}
	owner, viewer := uuid.New(), uuid.New()
	if err := grants.Upsert(context.Background(), account.ID, owner, enums.PermissionTierOwner); err != nil {
		t.Fatalf("grant owner: %v", err)
	}
	if err := grants.Upsert(context.Background(), account.ID, viewer, enums.PermissionTierViewer); err != nil {
		t.Fatalf("grant viewer: %v", err)
	}

	cfg := &config.Config{
		App: config.AppConfig{Env: "test"},
		JWT: config.JWTConfig{Secret: "secret", Issuer: "ledger-test"},
	}
	return routerEnv{
		handler:   NewRouter(cfg, logg, dbClient, nil, svc, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
		cfg:       cfg,
		conn:      conn,
		accountID: account.ID,
		owner:     owner,
		viewer:    viewer,
	}
}

func (e routerEnv) do(t *testing.T, method, path, body string, actor uuid.UUID) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if actor != uuid.Nil {
		token, err := pkgAuth.MintAccessToken(e.cfg.JWT, time.Now(), actor, time.Hour)
		if err != nil {
			t.Fatalf("mint token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	e.handler.ServeHTTP(resp, req)
	return resp
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	env := newRouterEnv(t)

	if resp := env.do(t, http.MethodGet, "/health/live", "", uuid.Nil); resp.Code != http.StatusOK {
		t.Fatalf("live: expected 200 got %d", resp.Code)
	}
	if resp := env.do(t, http.MethodGet, "/health/ready", "", uuid.Nil); resp.Code != http.StatusOK {
		t.Fatalf("ready: expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	resp := env.do(t, http.MethodGet, "/metrics", "", uuid.Nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200 got %d", resp.Code)
	}
	if resp.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestLedgerRoutesRequireAuth(t *testing.T) {
	env := newRouterEnv(t)
	resp := env.do(t, http.MethodGet, "/api/v1/accounts/"+env.accountID.String()+"/transactions", "", uuid.Nil)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestTransactionLifecycleOverHTTP(t *testing.T) {
	env := newRouterEnv(t)
	base := "/api/v1/accounts/" + env.accountID.String()

	resp := env.do(t, http.MethodPost, base+"/transactions", `{"date":"2026-03-14","amount":"-60.00","description":"Groceries","type":"expense","tags":["food"]}`, env.owner)
	if resp.Code != http.StatusCreated {
		t.Fatalf("create: expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
	var created struct {
		Data struct {
			ID     string `json:"id"`
			Amount string `json:"amount"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode create: %v", err)
	}
	if created.Data.Amount != "-60.00" {
		t.Fatalf("unexpected amount %s", created.Data.Amount)
	}

	resp = env.do(t, http.MethodPost, base+"/transactions", `{"date":"2026-03-14","amount":"-1.00","description":"Nope","type":"expense"}`, env.viewer)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("viewer create: expected 403 got %d", resp.Code)
	}

	resp = env.do(t, http.MethodGet, base+"/transactions?tags=food", "", env.viewer)
	if resp.Code != http.StatusOK {
		t.Fatalf("search: expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	var page struct {
		Data struct {
			Items []struct {
				ID string `json:"id"`
			} `json:"items"`
			Total int64 `json:"total"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		t.Fatalf("decode search: %v", err)
	}
	if page.Data.Total != 1 || page.Data.Items[0].ID != created.Data.ID {
		t.Fatalf("unexpected search page %+v", page.Data)
	}

	txnPath := "/api/v1/transactions/" + created.Data.ID
	resp = env.do(t, http.MethodPost, txnPath+"/split", `{"parts":[{"amount":"-35.00"},{"amount":"-20.00"}]}`, env.owner)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("bad split: expected 400 got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "split amounts sum to -55.00, expected -60.00") {
		t.Fatalf("unexpected split error %s", resp.Body.String())
	}

	resp = env.do(t, http.MethodDelete, txnPath, "", env.owner)
	if resp.Code != http.StatusOK {
		t.Fatalf("delete: expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	resp = env.do(t, http.MethodGet, txnPath, "", env.owner)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("get deleted: expected 404 got %d", resp.Code)
	}

	var account models.Account
	if err := env.conn.First(&account, "id = ?", env.accountID).Error; err != nil {
		t.Fatalf("load account: %v", err)
	}
	if account.CurrentBalance.StringFixed(2) != "1000.00" {
		t.Fatalf("unexpected balance %s", account.CurrentBalance.StringFixed(2))
	}
}

func TestAdminRoutesRejectNonAdmins(t *testing.T) {
	env := newRouterEnv(t)
	resp := env.do(t, http.MethodGet, "/api/admin/v1/accounts/"+env.accountID.String()+"/reconcile", "", env.owner)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}
}
