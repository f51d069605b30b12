package health

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sentinel/internal/logging"
)

// Server is the local diagnostics listener. It serves health probes
// and the Prometheus metrics endpoint on a loopback address.
type Server struct {
	addr    string
	checker *Checker
	log     *logging.Logger

	mu      sync.Mutex
	httpSrv *http.Server
	lnAddr  net.Addr
}

// NewServer creates a diagnostics server bound to addr.
func NewServer(addr string, checker *Checker, log *logging.Logger) *Server {
	if log == nil {
		log = logging.Default()
	}
	return &Server{
		addr:    addr,
		checker: checker,
		log:     log.WithComponent("health"),
	}
}

// Start binds the listener and serves in the background. Calling Start
// on a running server is a no-op.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpSrv != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.lnAddr = ln.Addr()

	mux := http.NewServeMux()
	mux.Handle("/healthz", s.checker.Handler())
	mux.Handle("/livez", s.checker.LivenessHandler())
	mux.Handle("/readyz", s.checker.ReadinessHandler())
	mux.Handle("/metrics", promhttp.Handler())

	s.httpSrv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("diagnostics listener failed", "error", err)
		}
	}()

	s.log.Info("diagnostics listener started", "addr", s.lnAddr.String())
	return nil
}

// Addr returns the bound address, useful when the port was 0.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lnAddr == nil {
		return ""
	}
	return s.lnAddr.String()
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	s.httpSrv = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
