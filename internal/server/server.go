// Package server provides the HTTP server of the AS2 node.
//
// The server exposes the following surfaces:
//
// # AS2 Endpoints
//
// POST {server.path} receives AS2 messages and synchronous-MDN requests.
// POST {server.mdnPath} receives asynchronous MDNs. Both are served by the
// same transport handler; the controller tells messages and MDNs apart.
// Authentication is via S/MIME message-level security.
//
// # Audit API
//
// Requires a bearer token when oauth2.issuer is configured.
//
//   - GET /api/transfers                       - List transfers
//   - GET /api/transfers/{direction}/{messageID} - Get one transfer
//   - GET /api/receipts/{receiptID}            - Download a received MDN
//
// # Health & Metrics
//
//   - GET /health  - Liveness probe
//   - GET /ready   - Readiness probe (database connectivity)
//   - GET /metrics - Prometheus metrics (if enabled)
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sirosfoundation/go-as2/internal/auth"
	"github.com/sirosfoundation/go-as2/internal/config"
	"github.com/sirosfoundation/go-as2/internal/keystore"
	"github.com/sirosfoundation/go-as2/internal/storage"
	"github.com/sirosfoundation/go-as2/pkg/transport"
)

// Deps are the components the server routes to
type Deps struct {
	// AS2 serves the inbound AS2 and asynchronous MDN endpoints
	AS2      http.Handler
	Store    storage.Store
	Keystore keystore.Provider
	// Auth guards the audit API; nil leaves it open
	Auth *auth.Authenticator
	// Gatherer backs /metrics; nil disables it
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server is the AS2 HTTP server
type Server struct {
	config   *config.Config
	logger   *slog.Logger
	httpSrv  *http.Server
	keystore keystore.Provider
	store    storage.Store
	as2      http.Handler
	auth     *auth.Authenticator
	gatherer prometheus.Gatherer
}

// New creates a new AS2 server
func New(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.AS2 == nil || deps.Store == nil {
		return nil, errors.New("server: AS2 handler and store are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config:   cfg,
		logger:   logger,
		store:    deps.Store,
		keystore: deps.Keystore,
		as2:      deps.AS2,
		auth:     deps.Auth,
		gatherer: deps.Gatherer,
	}

	// Set up HTTP routes
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpSrv = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	if cfg.Server.TLS.Enabled {
		s.httpSrv.TLSConfig = transport.DefaultHTTPSConfig().ServerTLSConfig()
	}

	return s, nil
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start begins listening on the configured address
func (s *Server) Start() error {
	s.logger.Info("starting server",
		slog.String("addr", s.httpSrv.Addr),
		slog.Bool("tls", s.config.Server.TLS.Enabled),
		slog.String("as2_path", s.config.Server.Path),
		slog.String("mdn_path", s.config.Server.MDNPath))
	var err error
	if s.config.Server.TLS.Enabled {
		err = s.httpSrv.ListenAndServeTLS(
			s.config.Server.TLS.CertFile,
			s.config.Server.TLS.KeyFile,
		)
	} else {
		err = s.httpSrv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server and releases the resources it owns
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return err
	}
	if s.auth != nil {
		s.auth.Close()
	}
	if s.keystore != nil {
		if err := s.keystore.Close(); err != nil {
			return err
		}
	}
	return s.store.Close(ctx)
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	// Health check
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)

	// AS2 endpoints (S/MIME security, no transport auth)
	mux.Handle("POST "+s.config.Server.Path, s.as2)
	if s.config.Server.MDNPath != s.config.Server.Path {
		mux.Handle("POST "+s.config.Server.MDNPath, s.as2)
	}

	// Audit API
	mux.Handle("GET /api/transfers", s.protect(s.handleListTransfers))
	mux.Handle("GET /api/transfers/{direction}/{messageID}", s.protect(s.handleGetTransfer))
	mux.Handle("GET /api/receipts/{receiptID}", s.protect(s.handleGetReceipt))

	if s.gatherer != nil && s.config.Metrics.Metrics.Enabled {
		mux.Handle("GET "+s.config.Metrics.Metrics.Path, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

func (s *Server) protect(h http.HandlerFunc) http.Handler {
	if s.auth == nil {
		return h
	}
	return s.auth.Middleware(h)
}

// Health handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Warn("readiness check failed", slog.String("error", err.Error()))
		s.jsonError(w, "database not ready", http.StatusServiceUnavailable)
		return
	}
	s.jsonResponse(w, map[string]string{"status": "ready"}, http.StatusOK)
}

// Audit handlers

func (s *Server) handleListTransfers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := &storage.TransferFilter{
		Direction: storage.Direction(q.Get("direction")),
		Status:    storage.TransferStatus(q.Get("status")),
		Party:     q.Get("party"),
		Limit:     50,
	}
	switch filter.Direction {
	case "", storage.DirectionInbound, storage.DirectionOutbound:
	default:
		s.jsonError(w, "invalid direction", http.StatusBadRequest)
		return
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 || limit > 500 {
			s.jsonError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			s.jsonError(w, "invalid offset", http.StatusBadRequest)
			return
		}
		filter.Offset = offset
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.jsonError(w, "invalid since, expected RFC 3339", http.StatusBadRequest)
			return
		}
		filter.Since = &since
	}

	records, err := s.store.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list transfers", slog.String("error", err.Error()))
		s.jsonError(w, "failed to list transfers", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []*storage.TransferRecord{}
	}
	s.jsonResponse(w, map[string]any{"transfers": records}, http.StatusOK)
}

func (s *Server) handleGetTransfer(w http.ResponseWriter, r *http.Request) {
	direction := storage.Direction(r.PathValue("direction"))
	if direction != storage.DirectionInbound && direction != storage.DirectionOutbound {
		s.jsonError(w, "invalid direction", http.StatusBadRequest)
		return
	}

	rec, err := s.store.Get(r.Context(), direction, r.PathValue("messageID"))
	if err != nil {
		s.logger.Error("failed to get transfer", slog.String("error", err.Error()))
		s.jsonError(w, "failed to get transfer", http.StatusInternalServerError)
		return
	}
	if rec == nil {
		s.jsonError(w, "transfer not found", http.StatusNotFound)
		return
	}
	s.jsonResponse(w, rec, http.StatusOK)
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.store.GetReceipt(r.Context(), r.PathValue("receiptID"))
	if errors.Is(err, storage.ErrNotFound) || (err == nil && receipt == nil) {
		s.jsonError(w, "receipt not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("failed to get receipt", slog.String("error", err.Error()))
		s.jsonError(w, "failed to get receipt", http.StatusInternalServerError)
		return
	}

	contentType := receipt.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Original-Message-Id", receipt.OriginalMessageID)
	w.Header().Set("X-Checksum-Sha256", receipt.Checksum)
	w.WriteHeader(http.StatusOK)
	w.Write(receipt.Data)
}

// Helper functions

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) jsonError(w http.ResponseWriter, message string, status int) {
	s.jsonResponse(w, map[string]string{"error": message}, status)
}
