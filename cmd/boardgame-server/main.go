package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shanks/boardgame-server/internal/account"
	"github.com/shanks/boardgame-server/internal/boardimg"
	"github.com/shanks/boardgame-server/internal/broadcast"
	appcfg "github.com/shanks/boardgame-server/internal/config"
	"github.com/shanks/boardgame-server/internal/gateway"
	"github.com/shanks/boardgame-server/internal/metrics"
	"github.com/shanks/boardgame-server/internal/msgcat"
	"github.com/shanks/boardgame-server/internal/obslog"
	"github.com/shanks/boardgame-server/internal/presence"
	"github.com/shanks/boardgame-server/internal/session"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()

	accounts, err := openAccountStore(cfg)
	if err != nil {
		log.Fatalf("account store init error: %v", err)
	}
	defer func() { _ = accounts.Close() }()

	opts, err := session.ParseRedisURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis url error: %v", err)
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancel()
		log.Fatalf("redis connect error: %v", err)
	}
	cancel()
	defer func() { _ = rdb.Close() }()

	catalog, err := msgcat.New(cfg.MsgOverrideDir)
	if err != nil {
		log.Fatalf("message catalog error: %v", err)
	}

	reg := prometheus.NewRegistry()
	recorder := metrics.NewCollector(reg)

	router := broadcast.NewRouter()
	defer router.Close()

	gw := gateway.New(gateway.Options{
		Directory:      session.NewDirectory(rdb, accounts),
		States:         session.NewStateStore(rdb, router, accounts, cfg.RankWinDelta, cfg.RankLossDelta),
		Presence:       presence.NewRegistry(),
		Router:         router,
		Accounts:       accounts,
		Renderer:       boardimg.NewPNGRenderer(),
		Catalog:        catalog,
		Recorder:       recorder,
		MoveRatePerMin: cfg.MoveRatePerMin,
		MoveBurst:      cfg.MoveBurst,
	})

	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)
	gw.Routes(mux)
	mux.Handle("/metrics", metrics.Handler(reg))

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		obslog.L().Info("server_start", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			obslog.L().Fatal("server_fail", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	obslog.L().Info("server_shutdown")
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutCtx)
}

// openAccountStore picks Postgres when DATABASE_URL is set, otherwise the
// in-memory store for local runs and demos.
func openAccountStore(cfg *appcfg.AppConfig) (account.Store, error) {
	if cfg.DatabaseURL == "" {
		obslog.L().Warn("account_store_memory")
		return account.NewMemoryStore(), nil
	}
	store, err := account.NewPostgresStore(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := account.RunMigrations(cfg.DatabaseURL); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}
