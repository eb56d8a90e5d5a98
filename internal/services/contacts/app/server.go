// Package app wires the contacts runtime and HTTP lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/wirebird/contactsync/internal/platform/config"
	"github.com/wirebird/contactsync/internal/platform/httpx"
	"github.com/wirebird/contactsync/internal/platform/timeouts"
	httpapi "github.com/wirebird/contactsync/internal/services/contacts/api/http"
	"github.com/wirebird/contactsync/internal/services/contacts/auth"
	"github.com/wirebird/contactsync/internal/services/contacts/guard"
	"github.com/wirebird/contactsync/internal/services/contacts/storage/sqlite"
	contactsync "github.com/wirebird/contactsync/internal/services/contacts/sync"
)

type serverEnv struct {
	DBPath         string        `env:"CONTACTSYNC_DB_PATH"`
	SyncWorkers    int           `env:"CONTACTSYNC_SYNC_WORKERS"`
	SyncStaleAfter time.Duration `env:"CONTACTSYNC_SYNC_STALE_AFTER"`
	MaxAttempts    int           `env:"CONTACTSYNC_SYNC_MAX_ATTEMPTS"`
	RateWindow     time.Duration `env:"CONTACTSYNC_SYNC_RATE_WINDOW"`
}

func loadServerEnv() serverEnv {
	var cfg serverEnv
	_ = config.ParseEnv(&cfg)
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = filepath.Join("data", "contacts.db")
	}
	if cfg.SyncWorkers < 1 {
		cfg.SyncWorkers = contactsync.DefaultWorkers
	}
	if cfg.SyncWorkers > 16 {
		cfg.SyncWorkers = 16
	}
	return cfg
}

// Server hosts the contacts HTTP API and storage lifecycle.
type Server struct {
	listener   net.Listener
	httpServer *http.Server
	store      *sqlite.Store
}

// New creates a configured contacts server listening on the provided port.
func New(port int) (*Server, error) {
	return NewWithAddr(fmt.Sprintf(":%d", port))
}

// NewWithAddr creates a configured contacts server for the provided address.
func NewWithAddr(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	srvEnv := loadServerEnv()

	sessionCfg, err := auth.LoadConfigFromEnv(nil)
	if err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("load session config: %w", err)
	}

	store, err := openContactsStore(srvEnv.DBPath)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	engine := contactsync.NewEngine(store, store, store, contactsync.Options{
		Workers:    srvEnv.SyncWorkers,
		StaleAfter: srvEnv.SyncStaleAfter,
	})
	g := guard.New(store, guard.Config{
		MaxAttemptsPerWindow: srvEnv.MaxAttempts,
		Window:               srvEnv.RateWindow,
	})
	handler := httpapi.NewHandler(store, store, store, store, engine, g, nil)

	mux := http.NewServeMux()
	mux.Handle("/v1/", httpx.Chain(handler.Routes(),
		httpx.RequestID(),
		httpx.RecoverPanic(),
		auth.Middleware(sessionCfg),
	))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &Server{
		listener: listener,
		httpServer: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: timeouts.ReadHeader,
		},
		store: store,
	}, nil
}

// Addr returns the listener address for the server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves a contacts server until context cancellation.
func Run(ctx context.Context, port int) error {
	server, err := New(port)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the HTTP server until context cancellation.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.Close()

	log.Printf("contacts server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		err := <-serveErr
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close releases contacts server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.httpServer != nil {
		_ = s.httpServer.Close()
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close contacts store: %v", err)
		}
	}
}

func openContactsStore(path string) (*sqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open contacts sqlite store: %w", err)
	}
	return store, nil
}
