package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	httpSwagger "github.com/swaggo/http-swagger"

	internalcommon "github.com/estatechain/indexer/internal/common"
	"github.com/estatechain/indexer/internal/logger"
	"github.com/estatechain/indexer/internal/metrics"
	"github.com/estatechain/indexer/pkg/api/docs"
	"github.com/estatechain/indexer/pkg/config"
)

// Ensure the Swagger spec is registered
var _ = docs.SwaggerInfo

const shutdownTimeout = 10 * time.Second

// Server serves the status and dead-letter inspection HTTP API.
type Server struct {
	cfg     *config.APIConfig
	handler *Handler
	server  *http.Server
	log     *logger.Logger
}

// NewServer wires the API routes, middleware and HTTP timeouts. A missing API
// section in the configuration yields a disabled server.
func NewServer(cfg *config.Config, database *sql.DB, log *logger.Logger) *Server {
	log = log.WithComponent(internalcommon.ComponentAPI)
	handler := NewHandler(cfg, database, log)
	apiCfg := handler.api

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", handler.Health)
	mux.HandleFunc("GET /api/v1/status", handler.GetStatus)
	mux.HandleFunc("GET /api/v1/status/{address}", handler.GetContractStatus)
	mux.HandleFunc("GET /api/v1/contracts/{address}/events", handler.GetContractEvents)
	mux.HandleFunc("GET /api/v1/failures", handler.GetFailures)

	mux.Handle("GET /swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
		httpSwagger.DeepLinking(true),
	))

	var h http.Handler = mux
	h = RecoveryMiddleware(log)(h)
	h = LoggingMiddleware(log)(h)

	if len(apiCfg.AllowedOrigins) > 0 {
		h = CORSMiddleware(apiCfg.AllowedOrigins)(h)
	}

	httpServer := &http.Server{
		Addr:         apiCfg.ListenAddress,
		Handler:      h,
		ReadTimeout:  apiCfg.ReadTimeout.Duration,
		WriteTimeout: apiCfg.WriteTimeout.Duration,
		IdleTimeout:  apiCfg.IdleTimeout.Duration,
	}

	return &Server{
		cfg:     apiCfg,
		handler: handler,
		server:  httpServer,
		log:     log,
	}
}

// Start runs the server until the context is cancelled, then shuts it down
// gracefully. A disabled server returns immediately.
func (s *Server) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.log.Infof("API server disabled")
		return nil
	}

	s.log.Infof("starting API server: addr=%s", s.cfg.ListenAddress)
	metrics.ComponentHealthSet(internalcommon.ComponentAPI, true)
	defer metrics.ComponentHealthSet(internalcommon.ComponentAPI, false)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("API server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("API server shutdown failed: %w", err)
	}

	s.log.Infof("API server stopped")

	return nil
}
