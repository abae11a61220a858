package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/launchpadhq/launchpad/internal/core/secrets"
	"github.com/launchpadhq/launchpad/internal/shell/api"
	"github.com/launchpadhq/launchpad/internal/shell/ci"
	"github.com/launchpadhq/launchpad/internal/shell/deploy"
	"github.com/launchpadhq/launchpad/internal/shell/store"
	"github.com/launchpadhq/launchpad/internal/shell/workers"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitDatabaseError   = 2
	ExitHTTPServerError = 3
)

// =============================================================================
// Server
// =============================================================================

// Server represents the Launchpad application server.
type Server struct {
	config          *Config
	httpServer      *http.Server
	store           store.Store
	statusRefresher *workers.StatusRefresher
	outboxPublisher *workers.OutboxPublisher
	logger          *slog.Logger
}

// NewServer creates a new server with the given config.
func NewServer(cfg *Config, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      err,
			ExitCode: ExitConfigError,
		}
	}

	codec, err := secrets.NewCodec(cfg.Secrets.Passphrase, cfg.Secrets.Salt)
	if err != nil {
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      err,
			ExitCode: ExitConfigError,
		}
	}

	// Connect to database
	s, err := store.NewSQLiteStore(cfg.Database.DSN)
	if err != nil {
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      err,
			ExitCode: ExitDatabaseError,
		}
	}

	// CI provider client
	ciClient := ci.NewClient(ci.Config{
		BaseURL:         cfg.CI.BaseURL,
		Timeout:         cfg.CI.Timeout,
		RetryMax:        cfg.CI.RetryMax,
		RunPollAttempts: cfg.CI.RunPollAttempts,
		RunPollDelay:    cfg.CI.RunPollDelay,
	}, logger)

	// Deployment lifecycle service
	deployService := deploy.NewService(s, ciClient, codec, logger, cfg.Dispatch.MaxAttempts)

	// Background workers
	statusRefresher := workers.NewStatusRefresher(s, deployService, workers.StatusRefresherConfig{
		Interval:      cfg.Workers.RefreshInterval,
		BatchSize:     cfg.Workers.RefreshBatchSize,
		MaxConcurrent: cfg.Workers.RefreshMaxConcurrent,
	}, logger)

	outboxPublisher := workers.NewOutboxPublisher(s, nil, workers.OutboxPublisherConfig{
		Interval:  cfg.Workers.OutboxInterval,
		BatchSize: cfg.Workers.OutboxBatchSize,
	}, logger)

	// HTTP handler
	handler := api.NewHandler(deployService, s, logger, cfg.Auth.SharedSecret)

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Server{
		config:          cfg,
		httpServer:      httpServer,
		store:           s,
		statusRefresher: statusRefresher,
		outboxPublisher: outboxPublisher,
		logger:          logger,
	}, nil
}

// Start starts the server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	s.statusRefresher.Start()
	s.outboxPublisher.Start()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "address", s.config.Server.Address())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-sigCh:
		s.logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		return &ServerError{
			Op:       "Start",
			Err:      err,
			ExitCode: ExitHTTPServerError,
		}
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	s.statusRefresher.Stop()
	s.outboxPublisher.Stop()

	if err := s.store.Close(); err != nil {
		s.logger.Error("database close error", "error", err)
	}

	s.logger.Info("shutdown complete")
	return nil
}

// =============================================================================
// Server Error
// =============================================================================

// ServerError represents an error during server operation.
type ServerError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *ServerError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ServerError) Unwrap() error {
	return e.Err
}
