// Package server provides the HTTP surface of the fiscal gateway.
//
// All business routes sit under /api and require the shared secret in the
// X-Api-Secret header:
//
//   - POST /api/sync      - Drain the tenant's distribution queue
//   - POST /api/query-key - Look up one document by access key
//   - POST /api/manifest  - Sign and submit a manifestation event
//
// # Health
//
//   - GET /health - Liveness probe
//   - GET /ready  - Readiness probe (checks database connectivity)
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gabrielcasa-surfclim/sentinel-sefaz-proxy/internal/config"
	"github.com/gabrielcasa-surfclim/sentinel-sefaz-proxy/internal/fiscal"
	"github.com/gabrielcasa-surfclim/sentinel-sefaz-proxy/internal/storage"
	"github.com/gabrielcasa-surfclim/sentinel-sefaz-proxy/pkg/message"
	"github.com/gabrielcasa-surfclim/sentinel-sefaz-proxy/pkg/sefaz"
	"github.com/gabrielcasa-surfclim/sentinel-sefaz-proxy/pkg/transport"
)

// maxRequestBody bounds JSON request bodies.
const maxRequestBody = 1 << 20

// Gateway is the slice of the fiscal service the HTTP layer uses.
type Gateway interface {
	Sync(ctx context.Context, tenantID string, maxLoops int) (*fiscal.SyncReport, error)
	LookupKey(ctx context.Context, tenantID, accessKey string) (*fiscal.LookupResult, error)
	Manifest(ctx context.Context, req *fiscal.ManifestRequest) (*fiscal.ManifestResult, error)
}

// Server is the gateway HTTP server
type Server struct {
	config  *config.Config
	logger  *slog.Logger
	httpSrv *http.Server
	store   storage.Store
	gateway Gateway
}

// New creates a gateway server around an already-constructed service and
// store.
func New(cfg *config.Config, store storage.Store, gateway Gateway, logger *slog.Logger) *Server {
	s := &Server{
		config:  cfg,
		logger:  logger,
		store:   store,
		gateway: gateway,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpSrv = &http.Server{
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Start begins listening on the specified address
func (s *Server) Start(addr string) error {
	s.httpSrv.Addr = addr
	s.logger.Info("starting server", "addr", addr, "environment", s.config.Sefaz.Environment)
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return err
	}
	if s.store != nil {
		return s.store.Close(ctx)
	}
	return nil
}

// Handler returns the route table; tests drive it directly.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

func (s *Server) registerRoutes(mux *http.ServeMux) {
	// Health checks (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)

	mux.HandleFunc("POST /api/sync", s.withSecret(s.handleSync))
	mux.HandleFunc("POST /api/query-key", s.withSecret(s.handleQueryKey))
	mux.HandleFunc("POST /api/manifest", s.withSecret(s.handleManifest))
}

// Middleware

// withSecret guards API routes with the shared secret header.
func (s *Server) withSecret(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		secret := r.Header.Get("X-Api-Secret")
		if subtle.ConstantTimeCompare([]byte(secret), []byte(s.config.Server.APISecret)) != 1 {
			s.logger.Debug("rejected request with bad secret", "path", r.URL.Path)
			s.jsonError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// Health handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.jsonError(w, "database not ready", http.StatusServiceUnavailable)
		return
	}
	s.jsonResponse(w, map[string]string{"status": "ready"}, http.StatusOK)
}

// API handlers

type syncRequest struct {
	TenantID string `json:"tenantId"`
	// MaxLoops overrides the configured per-run query budget; zero keeps
	// the default.
	MaxLoops int `json:"maxLoops"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	report, err := s.gateway.Sync(r.Context(), req.TenantID, req.MaxLoops)
	if err != nil {
		s.operationError(w, r, "sync", err)
		return
	}
	s.jsonSuccess(w, report)
}

type queryKeyRequest struct {
	TenantID  string `json:"tenantId"`
	AccessKey string `json:"accessKey"`
}

func (s *Server) handleQueryKey(w http.ResponseWriter, r *http.Request) {
	var req queryKeyRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	result, err := s.gateway.LookupKey(r.Context(), req.TenantID, req.AccessKey)
	if err != nil {
		s.operationError(w, r, "query-key", err)
		return
	}
	s.jsonSuccess(w, result)
}

type manifestRequest struct {
	TenantID      string `json:"tenantId"`
	DocumentID    string `json:"documentId"`
	AccessKey     string `json:"accessKey"`
	Type          string `json:"type"`
	Justification string `json:"justification"`
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	var req manifestRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	result, err := s.gateway.Manifest(r.Context(), &fiscal.ManifestRequest{
		TenantID:      req.TenantID,
		DocumentID:    req.DocumentID,
		AccessKey:     req.AccessKey,
		Type:          message.EventType(req.Type),
		Justification: req.Justification,
	})
	if err != nil {
		s.operationError(w, r, "manifest", err)
		return
	}
	s.jsonSuccess(w, result)
}

// Response helpers

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		s.jsonError(w, "reading request body", http.StatusBadRequest)
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		s.jsonError(w, fmt.Sprintf("invalid JSON: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

// operationError maps service errors to HTTP statuses: caller mistakes are
// 400, unknown records 404, authority rejections 422, transport trouble
// 502, anything else 500.
func (s *Server) operationError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var verr *fiscal.ValidationError
	var perr *sefaz.ProtocolError
	var terr *transport.Error

	switch {
	case errors.As(err, &verr):
		s.jsonError(w, verr.Error(), http.StatusBadRequest)

	case errors.Is(err, storage.ErrNotFound):
		s.jsonError(w, "record not found", http.StatusNotFound)

	case errors.As(err, &perr):
		s.logger.Warn("authority rejected operation",
			"operation", op,
			"code", perr.Code,
			"reason", perr.Reason)
		s.jsonError(w, perr.Error(), http.StatusUnprocessableEntity)

	case errors.As(err, &terr):
		s.logger.Error("authority unreachable",
			"operation", op,
			"timeout", terr.Timeout,
			"error", err)
		s.jsonError(w, "authority unreachable", http.StatusBadGateway)

	default:
		s.logger.Error("operation failed", "operation", op, "error", err)
		s.jsonError(w, "internal error", http.StatusInternalServerError)
	}
}

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) jsonSuccess(w http.ResponseWriter, data interface{}) {
	s.jsonResponse(w, map[string]interface{}{"success": true, "data": data}, http.StatusOK)
}

func (s *Server) jsonError(w http.ResponseWriter, message string, status int) {
	s.jsonResponse(w, map[string]interface{}{"success": false, "error": message}, status)
}
