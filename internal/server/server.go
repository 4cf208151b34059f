// File: internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/casino-ledger/internal/ledger"
	"github.com/smartdevs17/casino-ledger/internal/metrics"
	"github.com/smartdevs17/casino-ledger/internal/monitor"
	"github.com/smartdevs17/casino-ledger/pkg/utils"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `json:"port"`
	Host            string        `json:"host"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	EnableMetrics   bool          `json:"enable_metrics"`
	EnableHealth    bool          `json:"enable_health"`
	Version         string        `json:"version"`
}

// HTTPServer represents the HTTP server
type HTTPServer struct {
	config         *ServerConfig
	server         *http.Server
	router         *mux.Router
	ledger         *ledger.Service
	monitor        monitor.Monitor
	metricsManager *metrics.Manager
	logger         *logrus.Entry

	serveErr chan error
}

// NewHTTPServer creates a new HTTP server. monitor and metricsManager may be nil.
func NewHTTPServer(
	config *ServerConfig,
	ledgerService *ledger.Service,
	monitor monitor.Monitor,
	metricsManager *metrics.Manager,
) *HTTPServer {
	server := &HTTPServer{
		config:         config,
		ledger:         ledgerService,
		monitor:        monitor,
		metricsManager: metricsManager,
		logger:         utils.ComponentLogger("http"),
		serveErr:       make(chan error, 1),
	}

	// Setup router
	server.setupRouter()

	// Create HTTP server
	server.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      server.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return server
}

// setupRouter sets up the HTTP routes
func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()

	// Middleware
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
	if s.metricsManager != nil {
		s.router.Use(s.metricsMiddleware)
	}

	// Ledger endpoints; /api/transactions is the path existing frontends call
	s.router.HandleFunc("/ledger/transactions", s.listTransactionsHandler).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/api/transactions", s.listTransactionsHandler).Methods(http.MethodGet, http.MethodOptions)

	// API routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Health check endpoint
	if s.config.EnableHealth {
		api.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
		api.HandleFunc("/health/detailed", s.detailedHealthHandler).Methods(http.MethodGet)
	}

	// Metrics endpoint
	if s.config.EnableMetrics && s.metricsManager != nil {
		s.router.Handle("/metrics", s.metricsManager.Handler()).Methods(http.MethodGet)
	}

	// Monitor endpoints
	api.HandleFunc("/monitor/status", s.monitorStatusHandler).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, http.StatusNotFound, "Not found", nil)
	})
}

// Handler returns the routed handler
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// Start binds the listen address and serves in the background
func (s *HTTPServer) Start() error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"address":         listener.Addr().String(),
		"metrics_enabled": s.config.EnableMetrics,
	}).Info("Starting HTTP server")

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithField("error", err).Error("HTTP server error")
			s.serveErr <- err
		}
		close(s.serveErr)
	}()
	return nil
}

// Stop gracefully shuts the server down
func (s *HTTPServer) Stop() error {
	s.logger.Info("Stopping HTTP server")

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Run serves until ctx is cancelled or the server fails
func (s *HTTPServer) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return s.Stop()
	case err, ok := <-s.serveErr:
		if ok && err != nil {
			return err
		}
		return nil
	}
}

// Ledger Handlers

// listTransactionsHandler returns one page of ledger entries, newest first.
// Missing or unparseable page and size fall back to the defaults.
func (s *HTTPServer) listTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	req := ledger.PageRequest{
		Page: parseIntParam(query.Get("page")),
		Size: parseIntParam(query.Get("size")),
	}

	page, err := s.ledger.List(r.Context(), req)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve transactions", err)
		return
	}

	s.writeJSON(w, http.StatusOK, page)
}

func parseIntParam(raw string) *int {
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &v
}

// Health Handlers

// healthHandler returns basic health status
func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":          "healthy",
		"timestamp":       time.Now().UTC().Format(time.RFC3339Nano),
		"version":         s.config.Version,
		"metrics_enabled": s.config.EnableMetrics,
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// detailedHealthHandler reports storage and subscription health.
// Storage failure makes the service unhealthy; a lost subscription only degrades it.
func (s *HTTPServer) detailedHealthHandler(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	components := map[string]interface{}{}

	storageHealth := s.ledger.Health()
	components["storage"] = storageHealth
	if !storageHealth.Healthy {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	} else if stats, err := s.ledger.Stats(r.Context()); err == nil {
		components["ledger"] = stats
	}

	if s.monitor != nil {
		monitorStatus := s.monitor.Status()
		components["monitor"] = monitorStatus
		if status == "healthy" && monitorStatus.State != monitor.StateSubscribed {
			status = "degraded"
		}
	}

	s.writeJSON(w, code, map[string]interface{}{
		"status":     status,
		"timestamp":  time.Now().UTC(),
		"version":    s.config.Version,
		"components": components,
	})
}

// Monitor Handlers

// monitorStatusHandler gets monitor status
func (s *HTTPServer) monitorStatusHandler(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Monitor is not configured", nil)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    s.monitor.Status(),
		"timestamp": time.Now().UTC(),
	})
}

// Utility Methods

// writeJSON writes a JSON response
func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithField("error", err).Error("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string, err error) {
	errorResponse := map[string]interface{}{
		"error":     message,
		"status":    status,
		"timestamp": time.Now().UTC(),
	}

	if err != nil {
		errorResponse["details"] = err.Error()
		if code := utils.ErrorCode(err); code != "" {
			errorResponse["code"] = code
		}
		s.logger.WithFields(logrus.Fields{
			"status":  status,
			"message": message,
			"error":   err,
		}).Error("HTTP error")
	}

	s.writeJSON(w, status, errorResponse)
}
