package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/goran-ethernal/ChainMapper/internal/logger"
	"github.com/goran-ethernal/ChainMapper/pkg/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	sampleInterval    = 15 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// Server exposes the Prometheus registry over HTTP and samples the runtime gauges.
type Server struct {
	cfg    *config.MetricsConfig
	server *http.Server
	addr   net.Addr
	cancel context.CancelFunc
	done   chan struct{}
	log    *logger.Logger
}

func NewServer(cfg *config.MetricsConfig, log *logger.Logger) *Server {
	return &Server{
		cfg: cfg,
		log: log.WithComponent("metrics"),
	}
}

// Start binds the listener and returns once it is accepting connections. A disabled
// configuration makes it a no-op.
func (s *Server) Start(ctx context.Context) error {
	if s.cfg == nil || !s.cfg.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(s.cfg.Path, promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	ln, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddress, err)
	}

	s.addr = ln.Addr()
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.sample(ctx)

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorf("metrics server error: %v", err)
		}
	}()

	s.log.Infof("metrics server listening on %s%s", ln.Addr(), s.cfg.Path)
	return nil
}

// Addr is the bound listener address, nil until Start.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Stop shuts the HTTP server down and waits for the sampler to exit.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	s.cancel()
	<-s.done

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown metrics server: %w", err)
	}
	return nil
}

func (s *Server) sample(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	var rate rateSampler
	for {
		UpdateSystemMetrics()
		rate.sample(time.Now())

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}
