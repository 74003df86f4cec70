// Command server wires the ingest -> archive/broadcast/matching
// pipeline and the order/competition services behind the thin HTTP and
// WebSocket surfaces, then serves until terminated.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koorukuroo/contest-engine/auth"
	"github.com/koorukuroo/contest-engine/broadcast"
	"github.com/koorukuroo/contest-engine/cache"
	"github.com/koorukuroo/contest-engine/competition"
	"github.com/koorukuroo/contest-engine/config"
	"github.com/koorukuroo/contest-engine/database"
	"github.com/koorukuroo/contest-engine/db/migrations"
	"github.com/koorukuroo/contest-engine/domain"
	"github.com/koorukuroo/contest-engine/httpapi"
	"github.com/koorukuroo/contest-engine/ingest"
	"github.com/koorukuroo/contest-engine/logging"
	"github.com/koorukuroo/contest-engine/matching"
	"github.com/koorukuroo/contest-engine/metrics"
	"github.com/koorukuroo/contest-engine/orders"
	"github.com/koorukuroo/contest-engine/queries"
	"github.com/koorukuroo/contest-engine/tickarchive"
	"github.com/koorukuroo/contest-engine/wsapi"
)

func main() {
	fileWriter, err := logging.NewRotatingFileWriter(logging.RotationConfig{
		Filename:           "logs/server.log",
		CompressionEnabled: true,
	})
	if err != nil {
		log.Fatalf("server log file: %v", err)
	}
	logger := logging.NewLogger(logging.INFO, logging.NewMultiWriter(os.Stdout, fileWriter))
	logging.SetLevel(logging.INFO)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config load failed", err)
	}

	if err := runMigrations(); err != nil {
		logger.Fatal("migrations failed", err)
	}

	pool, err := database.OpenPool(context.Background(), database.GetConnectionString())
	if err != nil {
		logger.Fatal("database connect failed", err)
	}
	defer pool.Close()

	audit, err := logging.NewAuditLogger("logs/audit")
	if err != nil {
		logger.Fatal("audit logger init failed", err)
	}

	redisCfg := cache.DefaultRedisConfig()
	redisCfg.Address = cfg.Redis.Host + ":" + cfg.Redis.Port
	redisCfg.Password = cfg.Redis.Password
	var rc *cache.RedisCache
	rc, err = cache.NewRedisCache(redisCfg)
	if err != nil {
		logger.Warn("redis unavailable, running without idempotency/mutex cache", logging.String("error", err.Error()))
		rc = nil
	}

	archive := tickarchive.New(pool, rc)
	bus := broadcast.NewBus()
	ordersStore := orders.NewPgStore(pool)
	ordersSvc := orders.NewService(ordersStore, archive, rc, audit)
	matchingEng := matching.New(ordersStore, ordersSvc)
	competeStore := competition.NewPgStore(pool)
	competeSvc := competition.NewService(competeStore, audit)

	authStore := authStoreAdapter{pool: pool}
	authSvc := auth.NewService(authStore, cfg.Admin.Email, cfg.Admin.Password, cfg.JWT.Secret)

	q := queries.New(pool)
	api := httpapi.New(ordersSvc, competeSvc, q, authSvc, logger)
	adminAPI := httpapi.NewAdminAPI(competeSvc, authSvc, logger)
	wsHandler := wsapi.New(bus)

	codes := cfg.Upstream.SubscribedCodes
	if len(codes) == 0 {
		codes = domain.SupportedCodes
	}
	ingestor := ingest.New(cfg.Upstream.WebSocketURL, codes,
		ingest.WithReconnectDelay(time.Duration(cfg.Upstream.ReconnectDelayMS)*time.Millisecond),
		ingest.WithPingInterval(time.Duration(cfg.Upstream.PingIntervalMS)*time.Millisecond),
		ingest.WithIdleTimeout(time.Duration(cfg.Upstream.IdleTimeoutMS)*time.Millisecond),
	)
	ingestor.Subscribe(archive.Ingest)
	ingestor.Subscribe(func(tick domain.Tick) { bus.PublishTick(tick.Code, tick) })
	ingestor.Subscribe(matchingEng.OnTick)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go ingestor.Run(ctx)
	go archive.Run(ctx)
	go competeSvc.Run(ctx)

	metricsSrv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metrics.Handler()}
	go func() {
		logger.Info("metrics listening", logging.String("addr", cfg.Metrics.Addr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", err)
		}
	}()

	router := api.Router()
	router.Handle("/ws", wsHandler)
	router.PathPrefix("/admin").Handler(adminAPI.Router())

	httpSrv := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	go func() {
		logger.Info("http listening", logging.String("port", cfg.Port))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx)
	metricsSrv.Shutdown(shutdownCtx)
}

func runMigrations() error {
	db, err := database.Connect(database.GetConnectionString())
	if err != nil {
		return err
	}
	defer db.Close()

	migrator := migrations.NewMigrator(db)
	for _, m := range migrations.GetRegisteredMigrations() {
		migrator.Register(m)
	}
	return migrator.Up()
}

// authStoreAdapter implements auth.Store directly over the pgx pool.
// It is its own small adapter rather than living in the auth package
// because it is the only place in the core that touches the
// users/api_keys tables outside of auth's own unit tests.
type authStoreAdapter struct {
	pool *pgxpool.Pool
}

func (a authStoreAdapter) GetUserByExternalID(ctx context.Context, externalID string) (*domain.User, error) {
	const q = `SELECT id, external_id, is_admin, created_at FROM users WHERE external_id = $1`
	var u domain.User
	err := a.pool.QueryRow(ctx, q, externalID).Scan(&u.ID, &u.ExternalID, &u.IsAdmin, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (a authStoreAdapter) GetUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	const q = `SELECT id, external_id, is_admin, created_at FROM users WHERE id = $1`
	var u domain.User
	err := a.pool.QueryRow(ctx, q, userID).Scan(&u.ID, &u.ExternalID, &u.IsAdmin, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (a authStoreAdapter) GetApiKeyByHash(ctx context.Context, keyHash string) (*domain.ApiKey, error) {
	const q = `SELECT id, user_id, key_hash, prefix, is_active, last_used_at, created_at FROM api_keys WHERE key_hash = $1`
	var k domain.ApiKey
	err := a.pool.QueryRow(ctx, q, keyHash).Scan(&k.ID, &k.UserID, &k.KeyHash, &k.Prefix, &k.IsActive, &k.LastUsedAt, &k.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func (a authStoreAdapter) CountActiveApiKeys(ctx context.Context, userID uuid.UUID) (int, error) {
	const q = `SELECT count(*) FROM api_keys WHERE user_id = $1 AND is_active`
	var n int
	if err := a.pool.QueryRow(ctx, q, userID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (a authStoreAdapter) CreateApiKey(ctx context.Context, key *domain.ApiKey) error {
	const q = `INSERT INTO api_keys (id, user_id, key_hash, prefix, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, now())`
	_, err := a.pool.Exec(ctx, q, key.ID, key.UserID, key.KeyHash, key.Prefix, key.IsActive)
	return err
}

func (a authStoreAdapter) TouchApiKeyLastUsed(ctx context.Context, keyID uuid.UUID) error {
	const q = `UPDATE api_keys SET last_used_at = now() WHERE id = $1`
	_, err := a.pool.Exec(ctx, q, keyID)
	return err
}
