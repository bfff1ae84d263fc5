// Package httpapi exposes the automation service over a small JSON
// HTTP surface: CRUD on automations, execution history, a manual tick
// trigger, and scheduler diagnostics.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"flowdesk/internal/automation/service"
	"flowdesk/internal/runtime/supervisor"
	"flowdesk/pkg/logx"
)

type Config struct {
	Enabled bool
	Address string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Address) == "" {
		c.Address = "127.0.0.1:8787"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = time.Minute
	}
	return c
}

type Server struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	svc *service.Service

	ln  net.Listener
	srv *http.Server
	sup *supervisor.Supervisor
}

func New(cfg Config, svc *service.Service, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg.withDefaults(), log: log, svc: svc}
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Start binds the listener and serves until Stop. Idempotent; a
// disabled server starts nothing.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return nil
	}
	if !s.cfg.Enabled {
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	s.ln = ln
	s.srv = &http.Server{
		Handler:      s.routes(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	s.sup = supervisor.New(ctx,
		supervisor.WithLogger(s.log),
		supervisor.WithCancelOnError(false),
	)

	srv := s.srv
	s.sup.Go("http.serve", func(c context.Context) error {
		go func() {
			<-c.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	s.log.Info("http api listening", logx.String("addr", ln.Addr().String()))
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.ln = nil
	s.srv = nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	return sup.Stop(ctx)
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/ticks", s.handleTickHistory)
	mux.HandleFunc("POST /api/tick", s.handleTick)

	mux.HandleFunc("GET /api/automations", s.handleList)
	mux.HandleFunc("POST /api/automations", s.handleCreate)
	mux.HandleFunc("GET /api/automations/{id}", s.handleGet)
	mux.HandleFunc("PUT /api/automations/{id}", s.handleUpdate)
	mux.HandleFunc("DELETE /api/automations/{id}", s.handleDelete)
	mux.HandleFunc("POST /api/automations/{id}/deactivate", s.handleDeactivate)
	mux.HandleFunc("POST /api/automations/{id}/reactivate", s.handleReactivate)
	mux.HandleFunc("GET /api/automations/{id}/executions", s.handleExecutions)

	return mux
}
