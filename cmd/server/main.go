package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ampos-license-server/internal/config"
	"ampos-license-server/internal/handler"
	"ampos-license-server/internal/integrity"
	"ampos-license-server/internal/metrics"
	"ampos-license-server/internal/middleware"
	"ampos-license-server/internal/repository"
	"ampos-license-server/internal/service"
	"ampos-license-server/pkg/envelope"
	"ampos-license-server/pkg/logger"

	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/go-kivik/kivik/v4"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
)

type stores struct {
	licenses repository.LicenseRepository
	audit    repository.AuditRepository
	settings repository.SettingRepository
	close    func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", "error", err)
	}

	logger.Init(logger.Config{
		Level: cfg.Logging.Level,
		JSON:  cfg.Logging.JSON,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to open license store", "driver", cfg.Database.Driver, "error", err)
	}
	defer st.close()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	files := cfg.Integrity.Files
	if len(files) == 0 {
		if exe, err := os.Executable(); err == nil {
			files = []string{exe}
		}
	}

	monitor := integrity.NewMonitor(st.settings, integrity.Config{
		Secret:         cfg.License.EncryptionKey,
		FingerprintKey: cfg.Integrity.FingerprintKey,
		Files:          files,
		Mode:           integrity.Mode(cfg.Integrity.Mode),
		Interval:       cfg.Integrity.Interval,
	})
	if cfg.Integrity.Enabled {
		// The first check must finish before the listener opens so a modified
		// binary never serves an unchecked request.
		if err := monitor.Check(ctx); err != nil {
			logger.Error("Initial integrity check failed", "error", err)
		}
		go monitor.Watch(ctx)
	}

	cipher, err := envelope.New(cfg.License.EncryptionKey)
	if err != nil {
		logger.Fatal("Failed to build response cipher", "error", err)
	}

	verificationService := service.NewVerificationService(st.licenses, st.audit, monitor, service.VerificationConfig{
		GracePeriod:       cfg.License.GracePeriod,
		CheckinTimeout:    cfg.License.CheckinTimeout,
		ExpiryWarningDays: cfg.License.ExpiryWarningDays,
	})

	verificationHandler := handler.NewVerificationHandler(verificationService, cipher)
	alertHandler := handler.NewAlertHandler(service.NewAlertService(st.licenses, st.audit))

	r := mux.NewRouter()

	r.Use(middleware.RecoverMiddleware())
	r.Use(middleware.ClientIPMiddleware(cfg.Server.TrustProxyHeaders))
	r.Use(middleware.LoggerMiddleware())
	r.Use(middleware.MetricsMiddleware())
	r.Use(middleware.CORSMiddleware(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowedHeaders,
	))

	licenses := r.NewRoute().Subrouter()
	if cfg.RateLimit.Enabled {
		lim, err := newRateLimiter(cfg)
		if err != nil {
			logger.Fatal("Failed to build rate limiter", "error", err)
		}
		licenses.Use(middleware.RateLimitMiddleware(lim))
	}

	licenses.HandleFunc("/api/v1/licenses/verify", verificationHandler.Verify).Methods("POST", "GET", "OPTIONS")
	licenses.HandleFunc("/api/v1/licenses/bind", verificationHandler.Bind).Methods("POST", "GET", "OPTIONS")
	licenses.HandleFunc("/verify_ampos_license.php", verificationHandler.Verify).Methods("POST", "GET", "OPTIONS")
	licenses.HandleFunc("/verify_license.php", verificationHandler.Bind).Methods("POST", "GET", "OPTIONS")
	licenses.HandleFunc("/api/v1/security/alerts", alertHandler.Report).Methods("POST", "OPTIONS")
	licenses.HandleFunc("/ampos_security_alert.php", alertHandler.Report).Methods("POST", "OPTIONS")

	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/health", handler.Health).Methods("GET")
	r.HandleFunc("/", handler.Root).Methods("GET")

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Starting AMPOS license server", "addr", addr, "env", cfg.Server.Env, "store", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", "error", err)
		}
	}()

	<-ctx.Done()

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown", "error", err)
	}

	logger.Info("Server stopped gracefully")
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.Database.Driver != "couch" {
		db, err := repository.OpenSQL(repository.SQLConfig{
			Driver: cfg.Database.Driver,
			DSN:    cfg.Database.DSN,
			LogSQL: cfg.Database.LogSQL,
		})
		if err != nil {
			return nil, err
		}

		return &stores{
			licenses: repository.NewSQLLicenseRepository(db),
			audit:    repository.NewSQLAuditRepository(db),
			settings: repository.NewSQLSettingRepository(db),
			close: func() {
				if sqlDB, err := db.DB(); err == nil {
					sqlDB.Close()
				}
			},
		}, nil
	}

	client, err := kivik.New("couch", cfg.CouchURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to CouchDB: %w", err)
	}

	exists, err := client.DBExists(ctx, cfg.Database.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to check database existence: %w", err)
	}

	if !exists {
		if err := client.CreateDB(ctx, cfg.Database.Name); err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
		logger.Info("Created database", "name", cfg.Database.Name)
	}

	logger.Info("Connected to CouchDB", "host", cfg.Database.Host, "port", cfg.Database.Port)

	return &stores{
		licenses: repository.NewLicenseRepository(client, cfg.Database.Name),
		audit:    repository.NewAuditRepository(client, cfg.Database.Name),
		settings: repository.NewSettingRepository(client, cfg.Database.Name),
		close:    func() { client.Close() },
	}, nil
}

// newRateLimiter shares the window through redis when REDIS_ADDR is set and
// falls back to per-process counters otherwise.
func newRateLimiter(cfg *config.Config) (*limiter.Limiter, error) {
	var client redis.UniversalClient
	if cfg.Redis.Addr != "" {
		client = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		logger.Info("Rate limiter backed by redis", "addr", cfg.Redis.Addr)
	}

	return middleware.NewRateLimiter(middleware.RateLimitConfig{
		Requests: cfg.RateLimit.Requests,
		Period:   cfg.RateLimit.Period,
		Prefix:   cfg.RateLimit.Prefix,
	}, client)
}
