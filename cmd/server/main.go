package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"

	"github.com/mobilytix/be-templates-approvals/internal/client"
	"github.com/mobilytix/be-templates-approvals/internal/config"
	"github.com/mobilytix/be-templates-approvals/internal/database"
	"github.com/mobilytix/be-templates-approvals/internal/handler"
	"github.com/mobilytix/be-templates-approvals/internal/logger"
	"github.com/mobilytix/be-templates-approvals/internal/middleware"
	"github.com/mobilytix/be-templates-approvals/internal/natsclient"
	"github.com/mobilytix/be-templates-approvals/internal/repository"
	"github.com/mobilytix/be-templates-approvals/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Template Approvals Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// NATS is best-effort: notifications are advisory, so a broker outage
	// must not prevent the workflow service from starting.
	var nats *natsclient.Client
	nats, err = natsclient.Connect(natsclient.Config{
		URL:  cfg.NATS.URL,
		Name: cfg.Service.Name,
	})
	if err != nil {
		log.Warn().Err(err).Msg("NATS unavailable; notifications disabled")
		nats = nil
	} else {
		defer nats.Close()
		log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
	}

	// Initialize repositories
	approvalRepo := repository.NewApprovalRepository(db)
	stageRepo := repository.NewStageRepository(db)
	templateRepo := repository.NewTemplateRepository(db)
	logRepo := repository.NewTemplateLogRepository(db)

	// Initialize collaborator clients
	matrixClient := client.NewEscalationMatrixClient(cfg.Services.EscalationMatrixURL)
	usersClient := client.NewUsersClient(cfg.Services.UsersURL)
	notifier := client.NewNotificationPublisher(nats, log.Logger)

	// Initialize services
	approvalService := service.NewApprovalService(
		db, approvalRepo, stageRepo, templateRepo, logRepo,
		matrixClient, usersClient, notifier, log,
	)
	scanner := service.NewEscalationScanner(
		stageRepo, usersClient, logRepo, notifier, log, cfg.Escalation.BatchLimit,
	)

	// Escalation schedule. SkipIfStillRunning serializes sweeps with
	// themselves; the error boundary keeps one failing sweep from ending
	// the schedule.
	cronLog := &cronLogger{log: log}
	scheduler := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cronLog),
		cron.Recover(cronLog),
	))
	_, err = scheduler.AddFunc(cfg.Escalation.Schedule, func() {
		if err := scanner.RunSweep(ctx); err != nil {
			log.Error().Err(err).Msg("Escalation sweep failed")
		}
	})
	if err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.Escalation.Schedule).Msg("Invalid escalation schedule")
	}
	scheduler.Start()
	log.Info().Str("schedule", cfg.Escalation.Schedule).Msg("Escalation scanner scheduled")

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(approvalService, log)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Recovery(&log.Logger))
	r.Use(middleware.RequestLogger(&log.Logger))
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})
	r.Mount("/api/v1", httpHandler.Routes())

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Stop scheduling new sweeps, let a running one finish.
	<-scheduler.Stop().Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}

// cronLogger adapts the service logger to the cron.Logger interface.
type cronLogger struct {
	log *logger.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(fieldMap(keysAndValues)).Msg(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(fieldMap(keysAndValues)).Msg(msg)
}

func fieldMap(keysAndValues []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		fields[key] = keysAndValues[i+1]
	}
	return fields
}
