package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"meshroster/internal/codec"
	"meshroster/internal/domain"
	"meshroster/internal/repository"
	"meshroster/internal/service"
)

// DefaultListLimit caps history, audit and telemetry listings without ?limit
const DefaultListLimit = 50

// RosterHandler handles roster API requests
type RosterHandler struct {
	svc            *service.RosterService
	logger         *zap.Logger
	requestTimeout time.Duration
}

// HandlerOption configures a RosterHandler
type HandlerOption func(*RosterHandler)

// WithRequestTimeout bounds validate and commit requests.
// Zero leaves them bound only by the client connection.
func WithRequestTimeout(d time.Duration) HandlerOption {
	return func(h *RosterHandler) { h.requestTimeout = d }
}

// NewRosterHandler creates a new roster handler
func NewRosterHandler(svc *service.RosterService, logger *zap.Logger, opts ...HandlerOption) *RosterHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &RosterHandler{svc: svc, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// requestContext derives the context for validate and commit requests
func (h *RosterHandler) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if h.requestTimeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), h.requestTimeout)
}

// Routes registers every API endpoint on mux. events, when non-nil,
// serves GET /events.
func (h *RosterHandler) Routes(mux *http.ServeMux, events http.Handler) {
	mux.HandleFunc("GET /api/devices", h.ListDevices)
	mux.HandleFunc("POST /api/devices", h.AddDevice)
	mux.HandleFunc("GET /api/devices/{id}", h.GetDevice)
	mux.HandleFunc("DELETE /api/devices/{id}", h.RemoveDevice)
	mux.HandleFunc("GET /api/devices/{id}/telemetry", h.LatestTelemetry)
	mux.HandleFunc("GET /api/devices/{id}/telemetry/history", h.TelemetryHistory)

	mux.HandleFunc("POST /api/validate", h.Validate)
	mux.HandleFunc("POST /api/commit", h.Commit)
	mux.HandleFunc("POST /api/undo", h.Undo)
	mux.HandleFunc("GET /api/discover", h.Discover)

	mux.HandleFunc("GET /api/history", h.History)
	mux.HandleFunc("GET /api/audit", h.Audit)
	mux.HandleFunc("GET /api/positions", h.Positions)
	mux.HandleFunc("GET /api/export/{format}", h.Export)

	if events != nil {
		mux.Handle("GET /events", events)
	}
}

// ErrorResponse is the body of every failed lookup
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// ListDevices returns the roster
func (h *RosterHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.svc.ListDevices(r.Context())
	if err != nil {
		h.logger.Error("failed to list devices", zap.Error(err))
		h.writeError(w, "Failed to list devices", err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, devices, http.StatusOK)
}

// GetDevice returns a single device
func (h *RosterHandler) GetDevice(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	device, err := h.svc.GetDevice(r.Context(), id)
	if err != nil {
		h.lookupError(w, "device", id, err)
		return
	}
	h.writeJSON(w, device, http.StatusOK)
}

// AddDevice adds a device by hand
func (h *RosterHandler) AddDevice(w http.ResponseWriter, r *http.Request) {
	var req service.AddDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return
	}

	res := h.svc.AddDevice(r.Context(), req)
	switch {
	case res.OK:
		h.writeJSON(w, res, http.StatusCreated)
	case res.Kind == domain.FailureStorage:
		h.writeJSON(w, res, http.StatusInternalServerError)
	case req.NodeID == "":
		h.writeJSON(w, res, http.StatusBadRequest)
	default:
		h.writeJSON(w, res, http.StatusConflict)
	}
}

// RemoveDevice deletes a device
func (h *RosterHandler) RemoveDevice(w http.ResponseWriter, r *http.Request) {
	res := h.svc.RemoveDevice(r.Context(), r.PathValue("id"))
	switch {
	case res.OK:
		h.writeJSON(w, res, http.StatusOK)
	case res.Kind == domain.FailureStorage:
		h.writeJSON(w, res, http.StatusInternalServerError)
	default:
		h.writeJSON(w, res, http.StatusNotFound)
	}
}

// ValidateRequest asks whether one device answers
type ValidateRequest struct {
	Device   string `json:"device"`
	Expected string `json:"expected,omitempty"`
}

// Validate probes one device without touching the roster
func (h *RosterHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	res := h.svc.Validate(ctx, req.Device, req.Expected)
	status := http.StatusOK
	switch {
	case req.Device == "":
		status = http.StatusBadRequest
	case res.Kind == domain.FailureToolUnavailable:
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, res, status)
}

// Commit validates candidates, plans roles and optionally applies them
func (h *RosterHandler) Commit(w http.ResponseWriter, r *http.Request) {
	var req service.CommitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return
	}
	if req.Mode == "" {
		req.Mode = domain.AllocationAuto
	}
	if !req.Mode.Valid() {
		h.writeError(w, "Invalid allocation mode", fmt.Sprintf("%q is not auto or manual", req.Mode), http.StatusBadRequest)
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	outcome := h.svc.Commit(ctx, req)
	status := http.StatusOK
	if outcome.Kind == domain.FailureStorage {
		status = http.StatusInternalServerError
	}
	h.writeJSON(w, outcome, status)
}

// Undo restores the latest commit snapshot
func (h *RosterHandler) Undo(w http.ResponseWriter, r *http.Request) {
	res := h.svc.Undo(r.Context())
	status := http.StatusOK
	switch res.Kind {
	case domain.FailureNoHistory:
		status = http.StatusConflict
	case domain.FailureStorage:
		status = http.StatusInternalServerError
	}
	h.writeJSON(w, res, status)
}

// Discover returns a discovery report
func (h *RosterHandler) Discover(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.svc.Discover(r.Context()), http.StatusOK)
}

// History lists commit snapshots newest first
func (h *RosterHandler) History(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.svc.History(r.Context(), parseLimit(r))
	if err != nil {
		h.logger.Error("failed to list history", zap.Error(err))
		h.writeError(w, "Failed to list history", err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, snaps, http.StatusOK)
}

// Audit lists audit log entries newest first
func (h *RosterHandler) Audit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.Audit(r.Context(), parseLimit(r))
	if err != nil {
		h.logger.Error("failed to list audit log", zap.Error(err))
		h.writeError(w, "Failed to list audit log", err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, entries, http.StatusOK)
}

// LatestTelemetry returns the newest telemetry sample for a device
func (h *RosterHandler) LatestTelemetry(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sample, err := h.svc.LatestTelemetry(r.Context(), id)
	if err != nil {
		h.lookupError(w, "telemetry for", id, err)
		return
	}
	h.writeJSON(w, sample, http.StatusOK)
}

// TelemetryHistory returns telemetry samples for a device newest first
func (h *RosterHandler) TelemetryHistory(w http.ResponseWriter, r *http.Request) {
	samples, err := h.svc.TelemetryHistory(r.Context(), r.PathValue("id"), parseLimit(r))
	if err != nil {
		h.logger.Error("failed to list telemetry", zap.Error(err))
		h.writeError(w, "Failed to list telemetry", err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, samples, http.StatusOK)
}

// Positions returns the latest known device positions
func (h *RosterHandler) Positions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.svc.Positions(r.Context())
	if err != nil {
		h.logger.Error("failed to get positions", zap.Error(err))
		h.writeError(w, "Failed to get positions", err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, positions, http.StatusOK)
}

// Export downloads the roster as json or yaml
func (h *RosterHandler) Export(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.PathValue("format"))
	if format == "yml" {
		format = "yaml"
	}
	if _, err := codec.ForFormat(format); err != nil {
		h.writeError(w, "Unsupported export format", err.Error(), http.StatusBadRequest)
		return
	}

	// Buffered so a storage error can still produce a JSON error response
	var buf bytes.Buffer
	if err := h.svc.ExportRoster(r.Context(), format, &buf); err != nil {
		h.logger.Error("failed to export roster", zap.String("format", format), zap.Error(err))
		h.writeError(w, "Failed to export roster", err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", codec.ContentType(format))
	w.Header().Set("Content-Disposition", "attachment; filename=roster."+format)
	w.Write(buf.Bytes())
}

// Helper methods

func (h *RosterHandler) lookupError(w http.ResponseWriter, what, id string, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		h.writeError(w, "Not found", fmt.Sprintf("no %s %s", what, id), http.StatusNotFound)
		return
	}
	h.logger.Error("lookup failed", zap.String("id", id), zap.Error(err))
	h.writeError(w, "Lookup failed", err.Error(), http.StatusInternalServerError)
}

func (h *RosterHandler) writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to encode JSON", zap.Error(err))
	}
}

func (h *RosterHandler) writeError(w http.ResponseWriter, error, details string, statusCode int) {
	h.writeJSON(w, ErrorResponse{Error: error, Details: details}, statusCode)
}

func parseLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return DefaultListLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return DefaultListLimit
	}
	return n
}
