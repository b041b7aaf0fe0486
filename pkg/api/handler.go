// Package api provides the REST endpoints of the driver-config service:
// the authenticated administrative surface over the group store and the
// unauthenticated lookup surface used by the external print-processing
// system.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/printops/driver-config/pkg/group"
	"github.com/printops/driver-config/pkg/lookup"
	"github.com/printops/driver-config/pkg/rules"
	"github.com/printops/driver-config/pkg/wire"
)

// maxBodyBytes caps request bodies read by mutating handlers.
const maxBodyBytes = 1 << 20 // 1MB

// Pinger reports backing-store connectivity for health checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps holds the handler's collaborators.
type Deps struct {
	Store group.Store

	// Pinger is optional; without it /healthz only reports liveness.
	Pinger Pinger
}

// Handler provides the service's REST endpoints.
type Handler struct {
	mux        *http.ServeMux
	deps       Deps
	resolver   *lookup.Resolver
	authMiddle func(http.Handler) http.Handler
}

// NewHandler creates the REST handler. authMiddle guards the mutating
// admin routes; the lookup routes stay reachable without it because
// their caller is an external processing system, not an interactive
// admin.
func NewHandler(deps Deps, authMiddle func(http.Handler) http.Handler) *Handler {
	h := &Handler{
		mux:        http.NewServeMux(),
		deps:       deps,
		resolver:   lookup.NewResolver(deps.Store),
		authMiddle: authMiddle,
	}
	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// registerRoutes registers all routes.
func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /healthz", h.health)

	h.mux.Handle("GET /api/v1/groups", h.protected(h.listGroups))
	h.mux.Handle("POST /api/v1/groups", h.protected(h.createGroup))
	h.mux.Handle("PUT /api/v1/groups/{id}", h.protected(h.updateGroup))
	h.mux.Handle("DELETE /api/v1/groups/{id}", h.protected(h.deleteGroup))

	h.mux.HandleFunc("POST /api/v1/lookup", h.lookupJSON)
	h.mux.HandleFunc("POST /api/v1/lookup/xml", h.lookupXML)
}

// protected wraps a handler with the auth middleware when one is
// configured.
func (h *Handler) protected(fn http.HandlerFunc) http.Handler {
	if h.authMiddle == nil {
		return fn
	}
	return h.authMiddle(fn)
}

// health handles GET /healthz.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	if h.deps.Pinger != nil {
		if err := h.deps.Pinger.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"error":  "store unreachable",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, status)
}

// Error kinds reported alongside human-readable messages, stable across
// both wire formats.
const (
	kindNotFound      = "not_found"
	kindValidation    = "validation"
	kindConflict      = "conflict"
	kindTransient     = "transient"
	kindSerialization = "serialization"
	kindInternal      = "internal"
)

// classify maps an error to HTTP status, stable kind, and message.
func classify(err error) (int, string, string) {
	var verr *rules.ValidationError
	var serr *wire.SerializationError
	switch {
	case errors.Is(err, group.ErrNotFound):
		return http.StatusNotFound, kindNotFound, "driver group not found"
	case errors.Is(err, group.ErrConflict):
		return http.StatusConflict, kindConflict, "version conflict: reload the current version and retry"
	case errors.Is(err, group.ErrDuplicateGroupID):
		return http.StatusConflict, kindConflict, "groupId already in use"
	case errors.As(err, &verr):
		return http.StatusBadRequest, kindValidation, err.Error()
	case errors.As(err, &serr):
		return http.StatusInternalServerError, kindSerialization, err.Error()
	case group.IsTransient(err):
		return http.StatusInternalServerError, kindTransient, "store temporarily unreachable"
	default:
		return http.StatusInternalServerError, kindInternal, "internal server error"
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, map[string]string{"error": msg, "kind": kind})
}

// writeStoreError maps err onto the JSON error envelope.
func writeStoreError(w http.ResponseWriter, err error) {
	status, kind, msg := classify(err)
	writeError(w, status, kind, msg)
}
