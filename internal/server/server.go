// Package server wires configuration, storage, and the REST API into a
// runnable driver-config service.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	_ "github.com/lib/pq" // postgres driver

	"github.com/printops/driver-config/pkg/api"
	"github.com/printops/driver-config/pkg/database/migrate"
	"github.com/printops/driver-config/pkg/group"
	"github.com/printops/driver-config/pkg/group/postgres"
	"github.com/printops/driver-config/pkg/health"
)

// Version is set at build time.
var Version = "dev"

// Server is the assembled service.
type Server struct {
	cfg     *Config
	db      *sql.DB
	checker *health.Checker
	http    *http.Server
}

// New assembles a Server from configuration: it opens the database when
// the postgres backend is selected, runs pending migrations, and builds
// the REST handler with admin auth from the config.
func New(ctx context.Context, cfg *Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		db     *sql.DB
		store  group.Store
		pinger api.Pinger
	)

	switch cfg.Store.Backend {
	case "postgres":
		var err error
		db, err = sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)

		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("pinging database: %w", err)
		}

		if err := migrate.Run(db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrating database: %w", err)
		}

		pg := postgres.New(db, postgres.Config{
			MaxRetries:    cfg.Store.MaxRetries,
			RetryInterval: cfg.Store.RetryInterval,
		})
		store = pg
		pinger = pg
		slog.Info("using postgres group store")
	case "memory":
		store = group.NewMemoryStore()
		slog.Info("using in-memory group store", "warning", "data does not survive restarts")
	}

	handler := api.NewHandler(api.Deps{Store: store, Pinger: pinger}, buildAuth(cfg))

	checker := health.NewChecker(pinger)
	mux := http.NewServeMux()
	mux.Handle("/", handler)
	mux.HandleFunc("GET /livez", checker.LivenessHandler())
	mux.HandleFunc("GET /readyz", checker.ReadinessHandler())

	// Storage is migrated and reachable at this point.
	checker.SetReady()

	return &Server{
		cfg:     cfg,
		db:      db,
		checker: checker,
		http: &http.Server{
			Addr:              cfg.Server.Address,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// buildAuth constructs the admin-route middleware from the configured
// credentials. With no credentials configured the admin surface is open;
// that is a deliberate local-development posture.
func buildAuth(cfg *Config) func(http.Handler) http.Handler {
	var auths api.MultiAuthenticator

	if len(cfg.Auth.APIKeys) > 0 {
		keys := make(map[string]api.User, len(cfg.Auth.APIKeys))
		for _, k := range cfg.Auth.APIKeys {
			keys[k.Key] = api.User{UserID: k.Name, Roles: k.Roles}
		}
		auths = append(auths, &api.APIKeyAuthenticator{Keys: keys})
	}

	if cfg.Auth.JWT.SigningKey != "" {
		auths = append(auths, &api.JWTAuthenticator{SigningKey: []byte(cfg.Auth.JWT.SigningKey)})
	}

	if len(auths) == 0 {
		slog.Warn("no admin credentials configured, admin routes are unauthenticated")
		return nil
	}
	return api.RequireAdmin(auths)
}

// Start runs the HTTP server until the context is cancelled, then shuts
// it down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "name", s.cfg.Server.Name, "address", s.cfg.Server.Address, "version", Version)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	s.checker.SetDraining()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

// Close releases the server's resources.
func (s *Server) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
