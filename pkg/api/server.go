package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/goran-ethernal/ChainMapper/internal/common"
	"github.com/goran-ethernal/ChainMapper/internal/logger"
	"github.com/goran-ethernal/ChainMapper/pkg/api/docs"
	"github.com/goran-ethernal/ChainMapper/pkg/config"
)

// registers the generated OpenAPI document served under /swagger
var _ = docs.SwaggerInfo

const shutdownCtxTimeout = 10 * time.Second

// Server is the HTTP status API.
type Server struct {
	config  *config.APIConfig
	handler *Handler
	server  *http.Server
	log     *logger.Logger
}

// NewServer wires the routes and middleware. Nothing listens until Start.
func NewServer(cfg *config.APIConfig, backend Backend, log *logger.Logger) *Server {
	log = log.WithComponent(common.ComponentAPI)
	handler := NewHandler(backend, log)

	mux := http.NewServeMux()
	for pattern, fn := range map[string]http.HandlerFunc{
		"GET /health":                        handler.Health,
		"GET /api/v1/status":                 handler.GetStatus,
		"GET /api/v1/poi":                    handler.GetLatestPOI,
		"GET /api/v1/poi/{height}":           handler.GetPOI,
		"GET /api/v1/datasources":            handler.ListDatasources,
		"GET /api/v1/entities/{entity}":      handler.ListEntities,
		"GET /api/v1/entities/{entity}/{id}": handler.GetEntity,
	} {
		mux.HandleFunc(pattern, fn)
	}
	mux.Handle("GET /swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
		httpSwagger.DeepLinking(true),
	))

	h := LoggingMiddleware(log)(RecoveryMiddleware(log)(mux))
	if cfg.CORS.Enabled {
		h = CORSMiddleware(cfg.CORS.AllowedOrigins)(h)
	}

	return &Server{
		config:  cfg,
		handler: handler,
		server: &http.Server{
			Addr:         cfg.ListenAddress,
			Handler:      h,
			ReadTimeout:  cfg.ReadTimeout.Duration,
			WriteTimeout: cfg.WriteTimeout.Duration,
			IdleTimeout:  cfg.IdleTimeout.Duration,
		},
		log: log,
	}
}

// Start serves the API until ctx is cancelled, then shuts down gracefully. A listener that cannot
// be bound, or a server that fails while serving, is returned as an error.
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.log.Info("API server is disabled")
		return nil
	}

	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddress, err)
	}
	s.log.Infof("API server listening on %s", ln.Addr())

	serveErr := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("API server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownCtxTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("API server shutdown error: %w", err)
	}
	s.log.Info("API server stopped")
	return nil
}
