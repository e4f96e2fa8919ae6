// Package attrs publishes device attributes over HTTP as a plain-text,
// one-value-per-endpoint surface. Reads return the current value, writes
// replace it, and every value travels as a bare decimal or token with a
// trailing newline.
package attrs

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/handlers"

	"codeberg.org/mutker/simtempd/internal/errors"
	"codeberg.org/mutker/simtempd/internal/logger"
	"codeberg.org/mutker/simtempd/internal/sensor"
)

const shutdownTimeout = 5 * time.Second

// Server serves the attribute API for one device.
type Server struct {
	dev  sensor.Device
	addr string

	srv *http.Server
	ln  net.Listener
}

func NewServer(dev sensor.Device, addr string) *Server {
	return &Server{dev: dev, addr: addr}
}

// Addr reports the bound listen address, valid after Start.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}

	return s.ln.Addr()
}

func (s *Server) Start(ctx context.Context) error {
	errFactory := errors.New()

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errFactory.Wrap(errors.ErrInitFailed, err)
	}
	s.ln = ln
	s.srv = &http.Server{
		Handler:           handlers.LoggingHandler(logger.Writer(), NewRouter(s.dev)),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn().Msgf("Attribute server stopped: %v", err)
		}
	}()

	logger.Info().Msgf("Attribute API listening: %s", ln.Addr())

	return nil
}

// Stop drains in-flight requests and closes the listener.
func (s *Server) Stop() {
	if s.srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		logger.Warn().Msgf("Attribute server shutdown: %v", err)
	}

	logger.Debug().Msg("Attribute server stopped")
}
