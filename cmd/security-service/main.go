package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/Sam-Ezzat/conference-accommodation-app-sub001/internal/authn"
	"github.com/Sam-Ezzat/conference-accommodation-app-sub001/internal/security"
	"github.com/Sam-Ezzat/conference-accommodation-app-sub001/pkg/config"
	"github.com/Sam-Ezzat/conference-accommodation-app-sub001/pkg/database"
	"github.com/Sam-Ezzat/conference-accommodation-app-sub001/pkg/logger"
	"github.com/Sam-Ezzat/conference-accommodation-app-sub001/pkg/monitoring"
	sec "github.com/Sam-Ezzat/conference-accommodation-app-sub001/pkg/security"
)

const serviceName = "security-service"
const serviceVersion = "1.0.0"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.LogLevel)
	log.WithComponent("main").Info("Starting Security Service")

	health := monitoring.NewHealthManager(serviceName, serviceVersion)

	// Pick the audit store. With no database configured the service runs on
	// the in-memory store, which is enough for local development.
	var auditStore sec.AuditStore
	if cfg.Database.Host != "" {
		db, err := database.NewConnection(&cfg.Database, log)
		if err != nil {
			log.WithComponent("main").WithField("error", err.Error()).Error("Failed to connect to database")
			os.Exit(1)
		}
		defer db.Close()

		auditStore, err = security.NewPostgresAuditStore(db.DB, log)
		if err != nil {
			log.WithComponent("main").WithField("error", err.Error()).Error("Failed to initialize audit store")
			os.Exit(1)
		}
		health.RegisterChecker("database", monitoring.NewDatabaseHealthChecker(db.DB))
	} else {
		log.WithComponent("main").Warn("No database configured, using in-memory audit store")
		auditStore = security.NewMemoryAuditStore()
	}

	registry, err := security.NewRoleRegistry(security.DefaultRoles(), security.DefaultPermissions())
	if err != nil {
		log.WithComponent("main").WithField("error", err.Error()).Error("Invalid role configuration")
		os.Exit(1)
	}

	auditConfig := security.DefaultAuditConfiguration()
	auditConfig.RetentionDays = cfg.Audit.RetentionDays
	auditConfig.Enabled = cfg.Audit.Enabled
	auditConfig.MinSeverity = sec.Severity(cfg.Audit.MinSeverity)
	auditConfig.Alerting.MinSeverity = sec.Severity(cfg.Audit.AlertMinSeverity)
	auditConfig.Alerting.Recipients = cfg.Audit.AlertRecipients
	auditConfig.Anomaly = sec.AnomalyThresholds{
		FailedLoginCount:  cfg.Audit.FailedLoginCount,
		FailedLoginWindow: cfg.Audit.FailedLoginWindow,
		RoleChangeCount:   cfg.Audit.RoleChangeCount,
		RoleChangeWindow:  cfg.Audit.RoleChangeWindow,
		ExportCount:       cfg.Audit.ExportCount,
		ExportWindow:      cfg.Audit.ExportWindow,
	}

	var sinks []sec.AlertSink
	if cfg.Security.AlertWebhookURL != "" {
		sinks = append(sinks, security.NewWebhookSink(cfg.Security.AlertWebhookURL, cfg.Security.AlertWebhookTimeout))
	}

	service, err := security.NewService(security.Config{
		MaxRiskScore:          cfg.Security.MaxRiskScore,
		DenyPolicy:            sec.DenyPolicy(cfg.Security.DenyPolicy),
		ApprovalSweepInterval: cfg.Security.ApprovalSweepInterval,
		AlertQueueSize:        cfg.Security.AlertBufferSize,
		AuditConfig:           auditConfig,
	}, auditStore, security.NewMemoryApprovalStore(), sinks, registry, security.DefaultAdvancedPermissions(), log, nil)
	if err != nil {
		log.WithComponent("main").WithField("error", err.Error()).Error("Failed to build security engine")
		os.Exit(1)
	}

	service.Start()
	defer service.Stop()

	health.RegisterChecker("audit_store", monitoring.NewCustomHealthChecker(func(ctx context.Context) monitoring.HealthCheck {
		if _, err := auditStore.Query(ctx, sec.AuditFilter{Limit: 1}); err != nil {
			return monitoring.HealthCheck{
				Status:  monitoring.HealthStatusUnhealthy,
				Message: fmt.Sprintf("audit store query failed: %v", err),
			}
		}
		return monitoring.HealthCheck{Status: monitoring.HealthStatusHealthy}
	}))

	// HTTP surface
	validator := authn.NewTokenValidator(cfg.JWT.SecretKey, cfg.JWT.Issuer)
	handlers := security.NewHandlers(service, validator, log)

	router := mux.NewRouter()
	handlers.RegisterRoutes(router)
	router.HandleFunc("/health/ready", health.HTTPHandler()).Methods("GET")

	metrics := monitoring.NewMetricsCollector(serviceName, nil)
	if cfg.Monitoring.Enabled {
		router.Handle(cfg.Monitoring.MetricsPath, metrics.Handler()).Methods("GET")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      metrics.HTTPMiddleware(log)(router),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.WithComponent("main").WithField("address", server.Addr).Info("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithComponent("main").WithField("error", err.Error()).Error("HTTP server failed")
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.WithComponent("main").Info("Shutting down Security Service...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithComponent("main").WithField("error", err.Error()).Error("Server forced to shutdown")
		os.Exit(1)
	}

	log.WithComponent("main").Info("Security Service stopped")
}
