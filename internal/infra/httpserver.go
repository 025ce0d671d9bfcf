package infra

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// HTTPServer runs the API handler with the configured timeouts.
type HTTPServer struct {
	server   *http.Server
	listener net.Listener
}

// NewHTTPServer creates the API server. Pipeline runs hold a request open
// for up to PIPELINE_DEADLINE, so HTTP_WRITE_TIMEOUT should exceed it.
// Server errors such as TLS handshake failures go to logger.
func NewHTTPServer(cfg *Config, handler http.Handler, logger zerolog.Logger) *HTTPServer {
	errLog := logger.With().Str("component", "http").Logger()
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ErrorLog:          log.New(errLog, "", 0),
	}
	return &HTTPServer{server: srv}
}

// Listen binds the configured address. Calling it before Start lets callers
// learn the bound port when PORT is 0.
func (s *HTTPServer) Listen() error {
	if s.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	return nil
}

// Addr reports the bound address, or the configured one before Listen.
func (s *HTTPServer) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.server.Addr
}

// Start serves until Shutdown. A graceful shutdown returns nil.
func (s *HTTPServer) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	err := s.server.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
