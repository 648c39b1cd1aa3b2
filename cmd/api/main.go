package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"kanban/api/internal/app"
	"kanban/api/internal/config"
	"kanban/api/internal/export"
	"kanban/api/internal/history"
	"kanban/api/internal/search"
	"kanban/api/internal/session"
	"kanban/api/internal/store"
)

func configureLogging(cfg config.Config) {
	if strings.EqualFold(cfg.LogFormat, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithField("level", cfg.LogLevel).Warn("unknown log level, using info")
		level = log.InfoLevel
	}
	log.SetLevel(level)
}

// rollbackSteps maps the -rollback flag onto RollbackMigrations, where zero
// steps means all of them. ok is false when no rollback was asked for.
func rollbackSteps(flagValue int) (steps int, ok bool) {
	switch {
	case flagValue == 0:
		return 0, false
	case flagValue < 0:
		return 0, true
	default:
		return flagValue, true
	}
}

func main() {
	rollback := flag.Int("rollback", 0, "revert the newest N migrations and exit; a negative N reverts all")
	flag.Parse()

	cfg := config.Load()
	configureLogging(cfg)
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("database connection failed")
	}
	defer db.Close()

	if steps, ok := rollbackSteps(*rollback); ok {
		if err := store.RollbackMigrations(ctx, db, cfg.MigrationsDir, steps); err != nil {
			log.WithError(err).Fatal("rollback failed")
		}
		return
	}

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.WithError(err).Fatal("migrations failed")
	}

	if err := os.MkdirAll(cfg.HistoryDir, 0o755); err != nil {
		log.WithError(err).Fatal("failed to create history dir")
	}

	dataStore := store.NewPostgresStore(db)
	historyService := history.New(cfg.HistoryDir)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	defer searchService.Close()
	if meiliClient != nil {
		go searchService.ReindexAllFromPG(context.Background())
	}

	var objects export.ObjectStore
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		minioStore, err := export.NewMinioStore(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.WithError(err).Warn("export storage unavailable, exports will be streamed only")
		} else {
			objects = minioStore
		}
	}
	exportService := export.NewService(objects, cfg.ExportLinkTTL)

	var service *app.Service
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Info("using Redis for session storage")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.WithError(err).Fatal("redis connection failed")
		}
		defer redisStore.Close()
		service = app.NewWithSessionStore(cfg, dataStore, redisStore, historyService, searchService, exportService)
	} else {
		log.Info("using PostgreSQL for session storage")
		service = app.New(cfg, dataStore, historyService, searchService, exportService)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.Addr).Info("kanban API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown error")
	}
}
