// Package httpp contains HTTP utilities.
package httpp

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/bluenviron/livefmp4/internal/logger"
)

type nilWriter struct{}

func (nilWriter) Write(p []byte) (int, error) {
	return len(p), nil
}

// Server is a wrapper around http.Server that provides:
// - net.Listener allocation and closure
// - exit on panic
// - logging
// - server header
// - filtering of invalid requests
// - write deadlines
//
// CORS headers are added by handlers through AllowedOrigin.
type Server struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Handler      http.Handler
	Parent       logger.Writer

	ln    net.Listener
	inner *http.Server
}

// Initialize initializes a Server.
func (s *Server) Initialize() error {
	if s.ReadTimeout == 0 {
		return fmt.Errorf("invalid ReadTimeout")
	}
	if s.WriteTimeout == 0 {
		return fmt.Errorf("invalid WriteTimeout")
	}

	network := "tcp"
	address := s.Address

	if strings.HasPrefix(address, "unix://") {
		network = "unix"
		address = address[len("unix://"):]
		os.Remove(address)
	}

	var err error
	s.ln, err = net.Listen(network, address)
	if err != nil {
		return err
	}

	if network == "unix" {
		os.Chmod(address, 0o755) //nolint:errcheck
	}

	h := s.Handler
	if h == nil {
		h = http.NotFoundHandler()
	}
	h = rejectInvalidPaths(h)
	h = &handlerServerHeader{h}
	h = &handlerLogger{h, s.Parent}
	h = &handlerExitOnPanic{h}
	h = withWriteDeadline(h, s.WriteTimeout)

	s.inner = &http.Server{
		Handler: h,

		// applied before reading any request
		ReadTimeout: s.ReadTimeout,

		// applied after HTTP handler has returned
		IdleTimeout: 30 * time.Second,

		ErrorLog: log.New(&nilWriter{}, "", 0),
	}

	go s.inner.Serve(s.ln) //nolint:errcheck

	return nil
}

// Close closes all resources and waits for all routines to return.
func (s *Server) Close() {
	ctx, ctxCancel := context.WithCancel(context.Background())
	ctxCancel()
	s.inner.Shutdown(ctx) //nolint:errcheck
	s.ln.Close()          // in case Shutdown() is called before Serve()
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}
