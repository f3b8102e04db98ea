// Package web exposes the panel's HTTP API: feeding state, the food
// counter, named lists, the alert history, and a server-sent-events
// stream mirroring the in-process event hub.
package web

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"catpanel/internal/eventbus"
	logx "catpanel/pkg/logx"
)

type Config struct {
	Addr      string
	Heartbeat time.Duration
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":5000"
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = eventbus.DefaultHeartbeat
	}
	return c
}

type Server struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger

	h *Handlers

	ln  net.Listener
	srv *http.Server
}

func NewServer(cfg Config, h *Handlers, log logx.Logger) *Server {
	cfg = cfg.withDefaults()
	h.heartbeat = cfg.Heartbeat
	return &Server{cfg: cfg, log: log, h: h}
}

// Router builds the chi mux. Split out so tests can drive handlers
// through httptest without binding a socket.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.h.health)

		r.Get("/feeding", s.h.getFeeding)
		r.Post("/feeding", s.h.setFeeding)

		r.Get("/food", s.h.getFood)
		r.Post("/food/add", s.h.addFood)
		r.Post("/food/set", s.h.setFood)

		r.Get("/alerts/recent", s.h.recentAlerts)

		r.Route("/lists", func(r chi.Router) {
			r.Get("/", s.h.listNames)
			r.Route("/{name}", func(r chi.Router) {
				r.Post("/", s.h.createList)
				r.Get("/", s.h.getList)
				r.Delete("/", s.h.deleteList)
				r.Post("/items", s.h.addListItem)
				r.Patch("/items/{id}", s.h.updateListItem)
				r.Delete("/items/{id}", s.h.removeListItem)
				r.Post("/clear_done", s.h.clearDone)
			})
		})
	})

	r.Get("/events", s.h.events)
	return r
}

func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:     s.Router(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	s.ln = ln
	s.srv = srv

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server stopped with error", logx.Err(err))
		}
	}()
	s.log.Info("http server listening", logx.String("addr", ln.Addr().String()))
	return nil
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.ln = nil
	s.mu.Unlock()
	if srv == nil {
		return
	}
	if err := srv.Shutdown(ctx); err != nil {
		s.log.Warn("http shutdown", logx.Err(err))
	}
}

// Addr reports the bound address, for tests using Addr ":0".
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}
