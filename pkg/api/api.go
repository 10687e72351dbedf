package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ethpandaops/flakeoor/pkg/config"
	"github.com/ethpandaops/flakeoor/pkg/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const (
	shutdownTimeout = 10 * time.Second

	// maxBodyBytes caps the size of a detect request body.
	maxBodyBytes = 64 << 20
)

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        *config.Config
	store      store.Store
	registry   *prometheus.Registry
	metrics    *metrics
	users      map[string][]byte
	httpServer *http.Server
	wg         sync.WaitGroup
	done       chan struct{}
	stopOnce   sync.Once
}

// NewServer creates a new API server. Detection history endpoints are
// served when cfg.History is enabled.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.Config,
) Server {
	return newServer(log, cfg, nil)
}

func newServer(log logrus.FieldLogger, cfg *config.Config, st store.Store) *server {
	registry := prometheus.NewRegistry()

	return &server{
		log:      log.WithField("component", "api"),
		cfg:      cfg,
		store:    st,
		registry: registry,
		metrics:  newMetrics(registry),
		done:     make(chan struct{}),
	}
}

// Start opens the history store, hashes the configured users and starts
// the HTTP server.
func (s *server) Start(ctx context.Context) error {
	if err := s.prepare(ctx); err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              s.cfg.API.Listen,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.API.Listen)
	if err != nil {
		s.closeStore()

		return fmt.Errorf("listening on %s: %w", s.cfg.API.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.cfg.API.Listen).
			Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// prepare does everything Start does except binding the listener.
func (s *server) prepare(ctx context.Context) error {
	if s.store == nil && s.cfg.History.Enabled {
		s.store = store.NewStore(s.log, &s.cfg.History.Database)
		if err := s.store.Start(ctx); err != nil {
			return fmt.Errorf("starting store: %w", err)
		}
	}

	if s.cfg.API.Auth.Basic.Enabled {
		users, err := hashUsers(s.cfg.API.Auth.Basic.Users)
		if err != nil {
			s.closeStore()

			return fmt.Errorf("hashing users: %w", err)
		}

		s.users = users

		s.log.WithField("users", len(users)).Info("Basic auth enabled")
	}

	return nil
}

// closeStore releases the history store after a failed start.
func (s *server) closeStore() {
	if s.store == nil {
		return
	}

	if err := s.store.Stop(); err != nil {
		s.log.WithError(err).Warn("Failed to close history store")
	}

	s.store = nil
}

// Stop gracefully shuts down the HTTP server and closes the store. Calls
// after the first are no-ops.
func (s *server) Stop() error {
	var err error

	s.stopOnce.Do(func() {
		err = s.stop()
	})

	return err
}

func (s *server) stop() error {
	close(s.done)

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	if s.store != nil {
		if err := s.store.Stop(); err != nil {
			return fmt.Errorf("stopping store: %w", err)
		}
	}

	s.log.Info("API server stopped")

	return nil
}
