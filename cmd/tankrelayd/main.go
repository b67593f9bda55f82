package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"

	"tank-inventory-relay/config"
	"tank-inventory-relay/internal/api"
	"tank-inventory-relay/internal/collector"
	"tank-inventory-relay/internal/db"
	"tank-inventory-relay/internal/discovery"
	"tank-inventory-relay/internal/logger"
	"tank-inventory-relay/internal/metrics"
	"tank-inventory-relay/internal/notification"
	"tank-inventory-relay/internal/store"
	"tank-inventory-relay/internal/telemetry"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", configPath).Msg("failed to load configuration")
	}

	if err := logger.Init(cfg.Log); err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize logger")
	}
	log := logger.WithComponent("tankrelayd")
	log.Info().Str("path", configPath).Str("store", cfg.Store.Name).Msg("configuration loaded")

	// Create a context that is cancelled on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The database is optional: without it the relay still collects and
	// uploads, it just forgets the gateway between restarts.
	var appStore store.Store
	if cfg.Database.DSN != "" {
		gormDB, err := db.Init(&cfg.Database, log)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize database")
		}
		appStore = store.NewGormStore(gormDB)
		log.Info().Msg("data store initialized")
	} else {
		log.Warn().Msg("database.dsn is empty; gateway history and alerts are disabled")
	}

	var webpushOptions *webpush.Options
	var alerts collector.Alerter
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" && appStore != nil {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, appStore, webpushOptions, log)
		pool.Start(ctx)
		alerts = pool
	} else {
		log.Info().Msg("VAPID keys or database not configured; operator alerts disabled")
	}

	m := metrics.New()

	var discoverer *discovery.Discoverer
	if cfg.Discovery.Enabled {
		discoverer = discovery.NewDiscoverer(&cfg.Discovery, log)
	}

	dialer := &telemetry.TCPDialer{
		Port:        cfg.Gateway.Port,
		DialTimeout: cfg.Gateway.DialTimeout,
		ReadTimeout: cfg.Gateway.ReadTimeout,
	}
	client := telemetry.NewClient(cfg.Gateway.CommandPrefix, cfg.Gateway.FirstSensor, cfg.Gateway.LastSensor, log)

	svc := collector.NewService(cfg, appStore, optionalDiscoverer(discoverer), dialer, client, alerts, m, log)

	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	var server *http.Server
	if cfg.Server.Enabled {
		gin.SetMode(gin.ReleaseMode)
		handler := api.NewHandler(api.Deps{
			StoreName:  cfg.Store.Name,
			Store:      appStore,
			Webpush:    webpushOptions,
			Scanner:    optionalScanner(discoverer),
			Dialer:     dialer,
			TunnelPort: cfg.Gateway.Port,
			Tester:     svc,
			Status:     svc,
			ScanTTL:    cfg.Discovery.Timeout * 5,
			Log:        log,
		})
		server = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           api.NewRouter(handler, &cfg.Server, m.Handler()),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			log.Info().Int("port", cfg.Server.Port).Msg("HTTP server starting")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Fatal().Err(err).Msg("HTTP server ListenAndServe")
			}
		}()
	}

	<-ctx.Done()
	log.Info().Msg("shutdown signal received, stopping services")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server Shutdown")
		}
	}

	select {
	case <-done:
	case <-shutdownCtx.Done():
		log.Warn().Msg("collection cycle did not finish before the shutdown deadline")
	}

	log.Info().Msg("tank relay stopped")
}

// optionalDiscoverer keeps a nil *Discoverer from becoming a non-nil interface.
func optionalDiscoverer(d *discovery.Discoverer) collector.Discoverer {
	if d == nil {
		return nil
	}
	return d
}

func optionalScanner(d *discovery.Discoverer) api.Scanner {
	if d == nil {
		return nil
	}
	return d
}
