package main

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/blockjoy/controlplane/infrastructure/cache"
	"github.com/blockjoy/controlplane/infrastructure/logging"
	"github.com/blockjoy/controlplane/infrastructure/middleware"
	"github.com/blockjoy/controlplane/infrastructure/utils"
	"github.com/blockjoy/controlplane/internal/accounting"
	"github.com/blockjoy/controlplane/internal/authn"
	"github.com/blockjoy/controlplane/internal/authz"
	"github.com/blockjoy/controlplane/internal/catalog"
	"github.com/blockjoy/controlplane/internal/cipher"
	"github.com/blockjoy/controlplane/internal/command"
	"github.com/blockjoy/controlplane/internal/domain"
	"github.com/blockjoy/controlplane/internal/node"
	"github.com/blockjoy/controlplane/internal/outbox"
	"github.com/blockjoy/controlplane/internal/platform/database"
	"github.com/blockjoy/controlplane/internal/platform/dnsregistrar"
	"github.com/blockjoy/controlplane/internal/platform/migrations"
	"github.com/blockjoy/controlplane/internal/rbac"
	svcruntime "github.com/blockjoy/controlplane/internal/runtime"
	"github.com/blockjoy/controlplane/internal/scheduler"
	"github.com/blockjoy/controlplane/internal/secretstore"
	memstore "github.com/blockjoy/controlplane/internal/store/memory"
	pgstore "github.com/blockjoy/controlplane/internal/store/postgres"
	"github.com/blockjoy/controlplane/internal/transport/httpapi"
	"github.com/blockjoy/controlplane/pkg/config"
	"github.com/blockjoy/controlplane/pkg/pgnotify"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (defaults to config or :8080)")
	dsn := flag.String("dsn", "", "PostgreSQL DSN (overrides config/env; in-memory storage when empty)")
	runMigrations := flag.Bool("migrate", true, "run embedded database migrations on startup (ignored for in-memory)")
	dnsZone := flag.String("dns-zone", "nodes.blockjoy.internal", "zone new node DNS records are published under")
	cronExpr := flag.String("reconcile-cron", "@every 1m", "cron expression for the accounting reconciliation sweep")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.NewFromEnv("controlplaned")

	rootCtx := context.Background()
	dsnVal := resolveDSN(*dsn, cfg)

	var (
		db           *sql.DB
		bus          *pgnotify.Bus
		rbacStore    rbac.Store
		membership   authz.MembershipLookup
		apiKeyStore  authn.APIKeyStore
		schedStore   scheduler.Store
		cmdStore     command.Store
		acctStore    accounting.Store
		nodeStore    node.Store
		catalogStore catalog.Store
		miscStore    httpapi.MiscStore
		secretSt     secretstore.Store
	)

	if dsnVal != "" {
		db, err = database.Open(rootCtx, dsnVal)
		if err != nil {
			log.Fatalf("connect to postgres: %v", err)
		}
		configurePool(db, cfg)

		if *runMigrations {
			if err := migrations.Apply(rootCtx, db); err != nil {
				log.Fatalf("apply migrations: %v", err)
			}
		}

		bus, err = pgnotify.NewWithDB(db, dsnVal)
		if err != nil {
			log.Fatalf("start pgnotify bus: %v", err)
		}

		store := pgstore.New(db)
		rbacStore, membership, apiKeyStore = store, store, store
		schedStore, cmdStore, acctStore, nodeStore, catalogStore, miscStore = store, store, store, store, store, store
		secretSt = secretstore.NewPostgresStore(db, resolveMasterKey())
	} else {
		if svcruntime.IsProduction() {
			log.Fatal("no DSN configured; refusing to start the in-memory store in production (MARBLE_ENV=production)")
		}
		logger.Info(rootCtx, "no DSN configured; running against the in-memory store", nil)
		store := memstore.New()
		rbacStore, membership, apiKeyStore = store, store, store
		schedStore, cmdStore, acctStore, nodeStore, catalogStore, miscStore = store, store, store, store, store, store
		secretSt = secretstore.NewMemoryStore()
		bus, err = pgnotify.New("")
		if err != nil {
			logger.Warn(rootCtx, "pgnotify bus unavailable without a DSN; command streaming disabled", map[string]interface{}{"error": err.Error()})
		}
	}
	if db != nil {
		defer db.Close()
	}
	if bus != nil {
		defer bus.Close()
	}

	permCache := resolvePermissionCache(rootCtx, logger)

	rbacRegistry := rbac.New(rbacStore, rbac.WithCache(permCache))
	if err := rbacRegistry.Seed(rootCtx); err != nil {
		log.Fatalf("seed rbac catalog: %v", err)
	}

	secret := utils.GetEnvOptional("CIPHER_SECRET")
	if secret == "" {
		log.Fatal("CIPHER_SECRET must be set")
	}
	cph, err := cipher.New(secret)
	if err != nil {
		log.Fatalf("init cipher: %v", err)
	}

	authenticator := authn.New(cph, apiKeyStore)
	authorizer := authz.New(authenticator, rbacRegistry, membership)

	catalogSvc := catalog.New(catalogStore, nil)
	schedulerSvc := scheduler.New(schedStore)
	var nodeLifecycle *node.Lifecycle
	var begin func(ctx context.Context) (*outbox.WriteConn, error)
	commandQueue := command.New(cmdStore, command.WithCreateNodeRetryHook(func(ctx context.Context, cmd domain.Command) error {
		return nodeLifecycle.HandleCreateFailure(ctx, begin, cmd)
	}))
	acctSvc := accounting.New(acctStore, logger)

	cronRunner, err := acctSvc.StartReconciliation(*cronExpr)
	if err != nil {
		log.Fatalf("start reconciliation sweep: %v", err)
	}
	defer acctSvc.Stop()

	var pgBus outbox.Bus
	if bus != nil {
		pgBus = outbox.NewPGNotifyBus(bus)
	}
	drainer := outbox.NewDrainer(pgBus, nil, nil)

	dns := dnsregistrar.New(*dnsZone, logger)
	nodeSecrets := secretstore.NewNodeSecrets(secretSt)
	nodeLifecycle = node.New(nodeStore, schedulerSvc, commandQueue, acctSvc, drainer, dns, nodeSecrets, logger)

	begin = func(ctx context.Context) (*outbox.WriteConn, error) {
		if db == nil {
			return nil, fmt.Errorf("no database connection configured")
		}
		return outbox.Begin(ctx, db)
	}

	server := httpapi.New(httpapi.ServerDeps{
		Authn:       authenticator,
		Authz:       authorizer,
		Cipher:      cph,
		RBAC:        rbacRegistry,
		Catalog:     catalogSvc,
		Scheduler:   schedulerSvc,
		Commands:    commandQueue,
		Accounting:  acctSvc,
		Nodes:       nodeLifecycle,
		Secrets:     nodeSecrets,
		SecretStore: secretSt,
		Bus:         bus,
		Begin:       begin,
		Misc:        miscStore,
		Notifier:    httpapi.LoggingInvitationNotifier{Log: logger},
		Log:         logger,
	})

	listenAddr := determineAddr(*addr, cfg)
	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdown := middleware.NewGracefulShutdown(httpServer, 10*time.Second)
	if cronRunner != nil {
		shutdown.OnShutdown(func() { cronRunner.Stop() })
	}
	if bus != nil {
		shutdown.OnShutdown(func() { _ = bus.Close() })
	}
	shutdown.ListenForSignals()

	logger.Info(rootCtx, "controlplaned listening", map[string]interface{}{"addr": listenAddr})
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("serve: %v", err)
	}

	shutdown.Wait()
}

func determineAddr(flagAddr string, cfg *config.Config) string {
	addr := strings.TrimSpace(flagAddr)
	if addr != "" {
		return addr
	}
	if cfg != nil {
		host := strings.TrimSpace(cfg.Server.Host)
		port := cfg.Server.Port
		if port != 0 {
			if host == "" {
				host = "0.0.0.0"
			}
			return fmt.Sprintf("%s:%d", host, port)
		}
	}
	return ":8080"
}

func configurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)
	}
}

func resolveDSN(flagDSN string, cfg *config.Config) string {
	if trimmed := strings.TrimSpace(flagDSN); trimmed != "" {
		return trimmed
	}
	if envDSN := utils.GetEnvOptional("DATABASE_URL"); envDSN != "" {
		return envDSN
	}
	if cfg == nil {
		return ""
	}
	if cfg.Database.DSN != "" {
		return strings.TrimSpace(cfg.Database.DSN)
	}
	if cfg.Database.Host != "" && cfg.Database.Name != "" {
		return cfg.Database.ConnectionString()
	}
	return ""
}

func resolveMasterKey() []byte {
	key := utils.GetEnvOptional("SECRET_ENCRYPTION_KEY")
	if key == "" {
		log.Fatal("SECRET_ENCRYPTION_KEY must be set when using persistent storage")
	}
	decoded, err := decodeSecretKey(key)
	if err != nil {
		log.Fatalf("invalid SECRET_ENCRYPTION_KEY: %v", err)
	}
	return decoded
}

func decodeSecretKey(value string) ([]byte, error) {
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil && validKeyLength(decoded) {
		return decoded, nil
	}
	if decoded, err := hex.DecodeString(value); err == nil && validKeyLength(decoded) {
		return decoded, nil
	}
	raw := []byte(value)
	if validKeyLength(raw) {
		return raw, nil
	}
	return nil, fmt.Errorf("expected 16, 24, or 32 byte key")
}

func validKeyLength(key []byte) bool {
	switch len(key) {
	case 16, 24, 32:
		return true
	default:
		return false
	}
}

// resolvePermissionCache wires rbac's Redis-backed cache when REDIS_ADDR is
// set, otherwise rbac.New falls back to its no-op cache.
func resolvePermissionCache(ctx context.Context, logger *logging.Logger) rbac.PermissionCache {
	addr := utils.GetEnvOptional("REDIS_ADDR")
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: utils.GetEnv("REDIS_PASSWORD", "")})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn(ctx, "redis unavailable; rbac permission cache disabled", map[string]interface{}{"error": err.Error()})
		return nil
	}
	return cache.NewPermissionCache(client, 5*time.Minute)
}
