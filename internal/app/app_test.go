package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/ordersync/internal/health"
	"github.com/vladislavdragonenkov/ordersync/internal/service/ordersync"
)

func testConfig(t *testing.T, shopURL string) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.GRPCAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"
	cfg.Timezone = "UTC"
	cfg.Magento.URL = shopURL
	cfg.Magento.User = "sync"
	cfg.Magento.APIKey = "secret"
	cfg.Magento.Timeout = 5 * time.Second
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate config: %v", err)
	}
	return cfg
}

func fixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "magento", "testdata", name))
	if err != nil {
		t.Fatalf("read fixture %s: %v", name, err)
	}
	return data
}

// newFakeShop отвечает на SOAP-вызовы по имени метода из SOAPAction.
func newFakeShop(t *testing.T, responses map[string][]byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		action := strings.TrimPrefix(r.Header.Get("SOAPAction"), "urn:")
		body, ok := responses[action]
		if !ok {
			http.Error(w, "unexpected call "+action, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/xml")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunDaemon_MemoryGracefulShutdown(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1/api/v2_soap")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()

	err := RunDaemon(ctx, cfg)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunDaemon_InvalidStorageDriver(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1/api/v2_soap")
	cfg.Storage.Driver = "invalid-driver"

	err := RunDaemon(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), "unsupported storage driver") {
		t.Fatalf("expected unsupported storage driver error, got %v", err)
	}
}

func TestRunDaemon_RequiresMagentoEndpoint(t *testing.T) {
	cfg := testConfig(t, "")

	err := RunDaemon(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), "magento") {
		t.Fatalf("expected magento endpoint error, got %v", err)
	}
}

func TestRunOnce_WindowedAgainstFakeShop(t *testing.T) {
	shop := newFakeShop(t, map[string][]byte{
		"login":          fixture(t, "login.xml"),
		"salesOrderList": fixture(t, "order_list.xml"),
		"salesOrderInfo": fixture(t, "order_info.xml"),
	})
	cfg := testConfig(t, shop.URL)

	summary, err := RunOnce(context.Background(), cfg, domain.ModeWindowed, ordersync.RunOptions{
		Filters: domain.Filters{Range: &domain.RangeFilter{
			Field: domain.FieldUpdatedAt,
			From:  "2024-02-01 10:00:00",
			To:    "2024-02-01 14:00:00",
		}},
	})
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if summary.Mode != domain.ModeWindowed {
		t.Fatalf("unexpected mode %q", summary.Mode)
	}
	if summary.Total != 2 {
		t.Fatalf("expected 2 listed orders, got %d", summary.Total)
	}
	if summary.Created == 0 {
		t.Fatalf("expected created orders, got %+v", summary)
	}
}

func TestRunOnce_AuthFailureIsFatal(t *testing.T) {
	shop := newFakeShop(t, map[string][]byte{})
	cfg := testConfig(t, shop.URL)

	_, err := RunOnce(context.Background(), cfg, domain.ModeRolling, ordersync.RunOptions{})
	if !errors.Is(err, domain.ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
}

func TestInitRuntimeDependencies_Memory(t *testing.T) {
	cfg := DefaultConfig()
	deps, err := initRuntimeDependencies(context.Background(), cfg, log.WithField("test", "memory-init"))
	if err != nil {
		t.Fatalf("init memory dependencies: %v", err)
	}
	defer deps.close(log.WithField("test", "memory-init"))

	store := deps.store
	if store.Orders == nil || store.Customers == nil || store.Timeline == nil || store.Outbox == nil || store.Runs == nil {
		t.Fatalf("memory store must be complete: %+v", store)
	}
	if err := deps.ping(context.Background()); err != nil {
		t.Fatalf("memory ping must succeed: %v", err)
	}
}

func TestInitRuntimeDependencies_PostgresSuccess(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("ORDERSYNC_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("postgres dsn is not available")
	}

	cfg := DefaultConfig()
	cfg.Storage.Driver = StorageDriverPostgres
	cfg.Storage.PostgresDSN = dsn
	cfg.Storage.AutoMigrate = true

	logger := log.WithField("test", "postgres-init")
	deps, err := initRuntimeDependencies(context.Background(), cfg, logger)
	if err != nil {
		t.Skipf("postgres is not available for app integration test: %v", err)
	}
	defer deps.close(logger)

	if deps.pg == nil {
		t.Fatal("expected postgres store")
	}
	check := healthcheck.NewSimpleChecker("storage", deps.ping).Check(context.Background())
	if check.Status != healthcheck.StatusHealthy {
		t.Fatalf("expected healthy storage checker, got %+v", check)
	}
}

func TestInitKafka_WithoutBrokers(t *testing.T) {
	pubs := initKafka(KafkaConfig{}, log.WithField("test", "kafka"))
	if pubs.producer != nil || pubs.events != nil || pubs.dlq != nil {
		t.Fatalf("expected no publishers without brokers: %+v", pubs)
	}
	pubs.close(log.WithField("test", "kafka"))
}

func TestNewLocker_FallsBackToLocal(t *testing.T) {
	locker, closeFn := newLocker(RedisConfig{}, log.WithField("test", "lock"))
	defer closeFn()

	unlock, err := locker.TryLock(context.Background(), "run", time.Minute)
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}
	if _, err := locker.TryLock(context.Background(), "run", time.Minute); !errors.Is(err, domain.ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
	if err := unlock(context.Background()); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if err := locker.Ping(context.Background()); err != nil {
		t.Fatalf("local ping: %v", err)
	}
}
