// SPDX-FileCopyrightText: 2025 The costwise Authors
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package api exposes the gateway's HTTP surface: completion dispatch, usage
// queries and budget status.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/costwise-ai/costwise"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// RequestDispatcher runs one request end to end. Implemented by the
// dispatcher package.
type RequestDispatcher interface {
	Dispatch(ctx context.Context, req *costwise.Request) (*costwise.Response, error)
}

type Server struct {
	options    *serverOptions
	mux        *http.ServeMux
	httpServer *http.Server
}

type serverOptions struct {
	Logger       *slog.Logger
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	Addr         string
	Dispatcher   RequestDispatcher
	UsageRepo    costwise.UsageRepository
	BudgetRepo   costwise.BudgetRepository
}

type ServerOption interface {
	apply(*serverOptions)
}

type serverOptionFunc func(*serverOptions)

func (f serverOptionFunc) apply(opts *serverOptions) {
	f(opts)
}

func WithServerLogger(logger *slog.Logger) ServerOption {
	return serverOptionFunc(func(opts *serverOptions) {
		opts.Logger = logger
	})
}

func WithServerAddr(addr string) ServerOption {
	return serverOptionFunc(func(opts *serverOptions) {
		opts.Addr = addr
	})
}

func WithServerReadTimeout(timeout time.Duration) ServerOption {
	return serverOptionFunc(func(opts *serverOptions) {
		opts.ReadTimeout = timeout
	})
}

func WithServerWriteTimeout(timeout time.Duration) ServerOption {
	return serverOptionFunc(func(opts *serverOptions) {
		opts.WriteTimeout = timeout
	})
}

func WithServerIdleTimeout(timeout time.Duration) ServerOption {
	return serverOptionFunc(func(opts *serverOptions) {
		opts.IdleTimeout = timeout
	})
}

func WithServerDispatcher(d RequestDispatcher) ServerOption {
	return serverOptionFunc(func(opts *serverOptions) {
		opts.Dispatcher = d
	})
}

func WithServerUsageRepository(repo costwise.UsageRepository) ServerOption {
	return serverOptionFunc(func(opts *serverOptions) {
		opts.UsageRepo = repo
	})
}

func WithServerBudgetRepository(repo costwise.BudgetRepository) ServerOption {
	return serverOptionFunc(func(opts *serverOptions) {
		opts.BudgetRepo = repo
	})
}

func NewServer(options ...ServerOption) (*Server, error) {
	opts := &serverOptions{
		Logger:       slog.Default(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
		Addr:         ":8080",
	}

	for _, option := range options {
		option.apply(opts)
	}

	if opts.Dispatcher == nil {
		return nil, errors.New("api server requires a dispatcher")
	}

	mux := http.NewServeMux()
	server := &Server{
		options: opts,
		mux:     mux,
	}
	server.setupRoutes()

	server.httpServer = &http.Server{
		Addr: opts.Addr,
		// h2c so HTTP/2 works without TLS behind a terminating proxy
		Handler:      h2c.NewHandler(mux, &http2.Server{}),
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		IdleTimeout:  opts.IdleTimeout,
	}

	return server, nil
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /v1/completions", s.handleCompletion)

	if s.options.UsageRepo != nil {
		s.mux.HandleFunc("GET /v1/usage/{userID}", s.handleListUsage)
	}
	if s.options.BudgetRepo != nil {
		s.mux.HandleFunc("GET /v1/budgets/{scopeType}/{scopeID}", s.handleBudgetStatus)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"status":"ok"}`); err != nil {
		s.options.Logger.Error("Failed to write health response", "error", err)
	}
}

// Handler returns the server's root handler. Intended for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	s.options.Logger.Info("Starting API server", "addr", s.options.Addr)

	listener, err := net.Listen("tcp", s.options.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.options.Addr, err)
	}

	serverErrors := make(chan error, 1)

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("server failed: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown stops the server, waiting for in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	s.options.Logger.Info("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func parseLimitOffset(r *http.Request) (int, int) {
	limit := 50
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
