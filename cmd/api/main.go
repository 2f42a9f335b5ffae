package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mapfederate/procgate/internal/auth"
	"github.com/mapfederate/procgate/internal/cache"
	"github.com/mapfederate/procgate/internal/config"
	"github.com/mapfederate/procgate/internal/db"
	"github.com/mapfederate/procgate/internal/geoserver"
	httpx "github.com/mapfederate/procgate/internal/http"
	"github.com/mapfederate/procgate/internal/httpclient"
	"github.com/mapfederate/procgate/internal/inputstore"
	"github.com/mapfederate/procgate/internal/jobs"
	"github.com/mapfederate/procgate/internal/observability"
	"github.com/mapfederate/procgate/internal/processes"
	"github.com/mapfederate/procgate/internal/providers"
	"github.com/mapfederate/procgate/internal/repo/memory"
	"github.com/mapfederate/procgate/internal/repo/postgres"
	"github.com/mapfederate/procgate/internal/retry"
)

func main() {
	// Load the config set up
	cfg := config.Load()

	// start up the observability logger
	log := observability.NewLogger(cfg.Env)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// tracing
	if cfg.OTLPEndpoint != "" {
		shutdownTracer, err := observability.InitTracer(rootCtx, "procgate", cfg.OTLPEndpoint)

		if err != nil {
			log.Error("tracer init failed", "err", err)
		} else {
			defer func() {
				ctx, cancel := config.WithTimeout(3 * time.Second)
				defer cancel()
				_ = shutdownTracer(ctx)
			}()
		}
	}

	registry := prometheus.NewRegistry()
	prom := observability.NewProm(registry)

	// provider registry with hot reload
	provSvc, err := providers.NewService(log, cfg.ProvidersFile)

	if err != nil {
		log.Error("providers load failed", "path", cfg.ProvidersFile, "err", err)
		os.Exit(1)
	}

	go func() {
		if watchErr := provSvc.Watch(rootCtx); watchErr != nil && rootCtx.Err() == nil {
			log.Error("providers watch stopped", "err", watchErr)
		}
	}()

	// job store: postgres in real deployments, memory when no DB is
	// configured (dev runs, demos)
	var repo jobs.Repository
	var ping func() error

	pool, dbErr := db.NewPool(cfg.DBURL)

	if dbErr != nil {
		log.Warn("database unavailable, using in-memory store", "err", dbErr)
		repo = memory.NewJobsRepo()
	} else {
		defer pool.Close()

		migrateCtx, cancel := config.WithTimeout(30 * time.Second)
		if err := db.Migrate(migrateCtx, pool); err != nil {
			cancel()
			log.Error("migrations failed", "err", err)
			os.Exit(1)
		}
		cancel()

		repo = postgres.NewJobsRepo(pool, prom)
		ping = func() error {
			ctx, cancel := config.WithTimeout(time.Second)
			defer cancel()
			return pool.Ping(ctx)
		}
	}

	client := httpclient.New(log)

	// process catalog cache: shared redis when configured
	var store cache.Store

	if cfg.RedisAddr != "" {
		redisStore := cache.NewRedis(cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, processes.CatalogTTL, log)
		defer redisStore.Close()

		store = redisStore
	} else {
		store = cache.NewMemory(processes.CatalogTTL)
	}

	jm := jobs.NewManager(log, repo, client, provSvc, inputstore.NewFS(cfg.InputsDir), prom, jobs.ManagerConfig{
		PollInterval:      cfg.PollInterval,
		PollTimeout:       cfg.PollTimeout,
		InlineInputsLimit: cfg.InlineInputsLimit,
	})

	publisher := geoserver.NewProtectedPublisher(
		geoserver.NewPublisher(log, geoserver.Config{
			BaseURL:   cfg.GeoserverBaseURL,
			Workspace: cfg.GeoserverWorkspace,
			User:      cfg.GeoserverUser,
			Password:  cfg.GeoserverPassword,
		}),
		geoserver.ProtectedPublisherConfig{},
	)

	jm.Register(
		&jobs.StatusHistoryObserver{Repo: repo},
		&jobs.PollingSchedulerObserver{Scheduler: jm},
		&jobs.ResultsVerificationObserver{
			Log:       log,
			Client:    client,
			Providers: provSvc,
			Repo:      repo,
			Retry:     retry.DefaultPolicy(),
		},
		&jobs.GeoserverPublicationObserver{
			Log:       log,
			Client:    client,
			Providers: provSvc,
			Repo:      repo,
			Publisher: publisher,
			Retry:     retry.DefaultPolicy(),
			Prom:      prom,
		},
	)

	pm := processes.NewManager(log, client, provSvc, store, jm)

	var verifier *auth.Verifier
	if cfg.JWTSecret != "" {
		verifier = auth.NewVerifier(cfg.JWTSecret, cfg.IDPIssuer)
	}

	router := httpx.NewRouter(httpx.Deps{
		Log:         log,
		Prom:        prom,
		Registry:    registry,
		Verifier:    verifier,
		Processes:   pm,
		Jobs:        jm,
		Prefix:      cfg.APIPrefix,
		CORSOrigins: cfg.CORSOrigins,
		Ping:        ping,
	})

	// server set up
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// start server using a concurrent go-routine driven anonymous function.

	go func() {
		log.Info("Server starting", "port", cfg.Port, "env", cfg.Env)
		err := srv.ListenAndServe()

		if err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("server shutting down")
	rootCancel()

	shutdownCh := make(chan struct{})

	go func() {
		defer close(shutdownCh)

		ctx, cancel := config.WithTimeout(10 * time.Second)

		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error("graceful shutdown failed", "err", err)
		}

		pollCtx, pollCancel := config.WithTimeout(5 * time.Second)
		defer pollCancel()

		jm.Shutdown(pollCtx)
	}()

	select {
	case <-shutdownCh:
		log.Info("shutdown complete")

	case <-time.After(18 * time.Second):
		log.Error("shutdown timed out")
	}
}
