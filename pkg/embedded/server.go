// Package embedded provides an embeddable Solivrah API server for in-process
// use: the stores, AI client, websocket hub and router wired together.
package embedded

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/H4MSA/solivrah/internal/ai"
	"github.com/H4MSA/solivrah/internal/auth"
	httpapi "github.com/H4MSA/solivrah/internal/http"
	"github.com/H4MSA/solivrah/internal/storage/sqlite"
	"github.com/H4MSA/solivrah/internal/ws"
)

// Config configures the embedded server.
type Config struct {
	// DBPath is the SQLite database file. Empty keeps everything in memory.
	DBPath string

	// Addr is the listen address for Start. Defaults to 127.0.0.1:0.
	Addr string

	// Backend answers AI operations. Nil serves every operation from its
	// fallback.
	Backend   ai.Backend
	AIOptions []ai.Option

	// Keyring enables API key auth. Nil allows localhost callers only.
	Keyring *auth.Keyring
}

// Server is an embedded Solivrah server.
type Server struct {
	cfg     Config
	store   *sqlite.ResilientStore
	ai      *ai.Client
	hub     *ws.Hub
	handler http.Handler

	mu       sync.Mutex
	http     *http.Server
	listener net.Listener
}

func New(cfg Config) (*Server, error) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	if cfg.Backend == nil {
		cfg.Backend = ai.Offline()
	}

	var inner *sqlite.Store
	var err error
	if cfg.DBPath == "" {
		inner, err = sqlite.NewInMemory()
	} else {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
		inner, err = sqlite.New(cfg.DBPath)
	}
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	store := sqlite.NewResilient(inner)

	aiClient := ai.New(cfg.Backend, cfg.AIOptions...)
	hub := ws.NewHub()
	svc := httpapi.NewService(aiClient, store).WithBroadcaster(hub)
	router := httpapi.NewRouter(svc, hub.Handler(), auth.Middleware(cfg.Keyring))

	return &Server{cfg: cfg, store: store, ai: aiClient, hub: hub, handler: router}, nil
}

// Handler returns the API with auth applied, for callers that run their own
// listener.
func (s *Server) Handler() http.Handler { return s.handler }

// Start listens on Addr and serves in a goroutine. It returns once the
// listener is bound, so URL is immediately usable.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.http != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = ln
	s.http = &http.Server{Handler: s.handler, ReadHeaderTimeout: 10 * time.Second}
	srv := s.http
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("embedded: serve: %v", err)
		}
	}()
	return nil
}

// Stop shuts the listener down gracefully and closes the store.
func (s *Server) Stop() error {
	s.mu.Lock()
	srv := s.http
	s.http = nil
	s.mu.Unlock()

	var err error
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = srv.Shutdown(ctx)
	}
	if cerr := s.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

// URL returns the base URL for the server.
func (s *Server) URL() string {
	return "http://" + s.Addr()
}

// Store returns the underlying store for direct access if needed.
func (s *Server) Store() *sqlite.ResilientStore { return s.store }

// AI returns the AI client, mainly to read its usage counters.
func (s *Server) AI() *ai.Client { return s.ai }

// Hub returns the websocket hub.
func (s *Server) Hub() *ws.Hub { return s.hub }
