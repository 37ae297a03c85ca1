package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"tilevault/internal/auth"
	"tilevault/internal/catalog"
	"tilevault/internal/coordinator"
	"tilevault/internal/geo"
	"tilevault/internal/metrics"
	"tilevault/internal/models"
)

// Handler handles pack requests
type Handler struct {
	logger      *zap.Logger
	catalog     *catalog.Catalog
	coordinator *coordinator.Coordinator
	verifier    *auth.Verifier
	metrics     *metrics.Metrics
	styleURL    string
}

// NewHandler creates a new pack handler
func NewHandler(
	logger *zap.Logger,
	cat *catalog.Catalog,
	coord *coordinator.Coordinator,
	verifier *auth.Verifier,
	m *metrics.Metrics,
	styleURL string,
) *Handler {
	return &Handler{
		logger:      logger,
		catalog:     cat,
		coordinator: coord,
		verifier:    verifier,
		metrics:     m,
		styleURL:    styleURL,
	}
}

type listResponse struct {
	Packs []models.Pack `json:"packs"`
	Error string        `json:"error,omitempty"`
}

// List returns the normalized pack catalog
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	packs, err := h.catalog.List(r.Context())
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, models.ErrTransportUnavailable) {
			status = http.StatusServiceUnavailable
		}
		h.writeJSON(w, status, listResponse{Packs: packs, Error: err.Error()})
		return
	}
	h.writeJSON(w, http.StatusOK, listResponse{Packs: packs})
}

type createRequest struct {
	Bounds       geo.Bounds `json:"bounds"`
	ViewportZoom *float64   `json:"viewport_zoom,omitempty"`
	MinZoom      *int       `json:"min_zoom,omitempty"`
	MaxZoom      *int       `json:"max_zoom,omitempty"`
	StyleURL     string     `json:"style_url,omitempty"`
}

type createResponse struct {
	PackID string `json:"pack_id"`
	State  string `json:"state"`
}

// Create starts downloading a new pack for the requested region. The
// download runs asynchronously; callers poll Active for progress.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var body createRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.error(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	styleURL := body.StyleURL
	if styleURL == "" {
		styleURL = h.styleURL
	}

	var region geo.RegionRequest
	switch {
	case body.MinZoom != nil && body.MaxZoom != nil:
		region = geo.RegionRequest{
			Bounds:   geo.NewBounds(body.Bounds.SW, body.Bounds.NE),
			MinZoom:  geo.ClampZoom(*body.MinZoom),
			MaxZoom:  geo.ClampZoom(*body.MaxZoom),
			StyleURL: styleURL,
		}
	case body.ViewportZoom != nil:
		region = geo.RegionFromViewport(geo.NewBounds(body.Bounds.SW, body.Bounds.NE), *body.ViewportZoom, styleURL)
	default:
		h.error(w, http.StatusBadRequest, "either viewport_zoom or min_zoom/max_zoom required")
		return
	}

	packID, events, err := h.coordinator.Request(r.Context(), region)
	if err != nil {
		if errors.Is(err, models.ErrDownloadInProgress) {
			h.error(w, http.StatusConflict, err.Error())
			return
		}
		h.error(w, http.StatusBadRequest, err.Error())
		return
	}

	// Drain the session's event stream so terminal outcomes land in
	// the log even when no client is polling.
	go func() {
		for ev := range events {
			if ev.Err != nil {
				h.logger.Warn("download event", zap.String("id", packID), zap.Error(ev.Err))
			}
		}
	}()

	h.metrics.RequestsTotal.WithLabelValues("202").Inc()
	h.writeJSON(w, http.StatusAccepted, createResponse{PackID: packID, State: coordinator.StateRequesting.String()})
}

type activeResponse struct {
	State    string  `json:"state"`
	Fraction float64 `json:"fraction"`
	PackID   string  `json:"pack_id,omitempty"`
}

// Active returns the current download session for polling
func (h *Handler) Active(w http.ResponseWriter, r *http.Request) {
	snap := h.coordinator.Snapshot()
	h.writeJSON(w, http.StatusOK, activeResponse{
		State:    snap.State.String(),
		Fraction: snap.Fraction,
		PackID:   snap.PackID,
	})
}

// Delete removes a pack. Requests may carry an HMAC signature and
// expiry query parameter, verified before the delete is forwarded.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]
	if id == "" {
		h.error(w, http.StatusBadRequest, "missing id")
		return
	}

	query := r.URL.Query()
	if err := h.verifier.Verify(id, query.Get("expiry"), query.Get("signature")); err != nil {
		h.logger.Warn("verification failed", zap.String("id", id), zap.Error(err))
		h.error(w, http.StatusUnauthorized, err.Error())
		return
	}

	if err := h.catalog.Delete(r.Context(), id); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, models.ErrTransportUnavailable) {
			status = http.StatusServiceUnavailable
		}
		h.error(w, status, err.Error())
		return
	}

	h.metrics.RequestsTotal.WithLabelValues("204").Inc()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
	h.metrics.RequestsTotal.WithLabelValues(fmt.Sprintf("%d", status)).Inc()
}

func (h *Handler) error(w http.ResponseWriter, status int, msg string) {
	http.Error(w, msg, status)
	h.metrics.RequestsTotal.WithLabelValues(fmt.Sprintf("%d", status)).Inc()
}
