package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/OpenSeneca/squadwatch/pkg/broadcast"
	"github.com/OpenSeneca/squadwatch/pkg/errors"
	"github.com/OpenSeneca/squadwatch/pkg/http/response"
	"github.com/OpenSeneca/squadwatch/pkg/logger"
	"github.com/OpenSeneca/squadwatch/pkg/monitor"
)

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 500
)

// StatusStore is the read side of the metrics store. The pull endpoints
// and the push stream are backed by the same store, so they never diverge.
type StatusStore interface {
	LatestRound(ctx context.Context) (*monitor.Round, error)
	LatestVaultStates(ctx context.Context) ([]monitor.VaultState, error)
	QueryWindow(ctx context.Context, nodeID string, window time.Duration) (monitor.MetricsWindow, error)
	ActivityFeed(ctx context.Context, limit int) ([]monitor.ActivityEntry, error)
}

// EventSource is the subscribe side of the broadcaster.
type EventSource interface {
	Subscribe(transport broadcast.Transport) string
	Unsubscribe(connectionID string)
}

// StatusResponse is the JSON shape of GET /status.
type StatusResponse struct {
	Round *monitor.Round       `json:"round"`
	Vault []monitor.VaultState `json:"vault"`
}

// Handler serves the monitoring API.
type Handler struct {
	store         StatusStore
	events        EventSource
	defaultWindow time.Duration
	logger        *logger.Logger
}

// NewHandler creates a monitoring HTTP handler.
func NewHandler(store StatusStore, events EventSource, defaultWindow time.Duration, log *logger.Logger) *Handler {
	return &Handler{
		store:         store,
		events:        events,
		defaultWindow: defaultWindow,
		logger:        log,
	}
}

// RegisterRoutes registers the monitoring routes with the provided router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/status", response.Middleware(h.GetStatus))
	r.Get("/metrics", response.Middleware(h.GetMetrics))
	r.Get("/activity", response.Middleware(h.GetActivity))
	r.Get("/events", h.StreamEvents)
}

// GetStatus returns the latest sealed round and the latest vault scans.
// Before the first round seals, round is null.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) error {
	round, err := h.store.LatestRound(r.Context())
	if err != nil {
		return errors.NewDatabaseError("failed to load latest round", err, nil)
	}

	vault, err := h.store.LatestVaultStates(r.Context())
	if err != nil {
		return errors.NewDatabaseError("failed to load vault state", err, nil)
	}
	if vault == nil {
		vault = []monitor.VaultState{}
	}

	return response.WriteJSON(w, http.StatusOK, StatusResponse{
		Round: round,
		Vault: vault,
	})
}

// GetMetrics returns windowed aggregates for one node.
func (h *Handler) GetMetrics(w http.ResponseWriter, r *http.Request) error {
	nodeID := r.URL.Query().Get("node")
	if nodeID == "" {
		return errors.NewValidationError("node parameter is required", nil)
	}

	window := h.defaultWindow
	if minutesStr := r.URL.Query().Get("windowMinutes"); minutesStr != "" {
		minutes, err := strconv.Atoi(minutesStr)
		if err != nil || minutes < 1 {
			return errors.NewValidationError("windowMinutes must be a positive integer", map[string]interface{}{
				"windowMinutes": minutesStr,
			})
		}
		window = time.Duration(minutes) * time.Minute
	}

	metrics, err := h.store.QueryWindow(r.Context(), nodeID, window)
	if err != nil {
		return errors.NewDatabaseError("failed to compute metrics window", err, nil)
	}

	return response.WriteJSON(w, http.StatusOK, metrics)
}

// GetActivity returns the merged probe and vault activity feed.
func (h *Handler) GetActivity(w http.ResponseWriter, r *http.Request) error {
	limit := defaultActivityLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n < 1 {
			return errors.NewValidationError("limit must be a positive integer", map[string]interface{}{
				"limit": limitStr,
			})
		}
		limit = n
	}
	if limit > maxActivityLimit {
		limit = maxActivityLimit
	}

	feed, err := h.store.ActivityFeed(r.Context(), limit)
	if err != nil {
		return errors.NewDatabaseError("failed to load activity feed", err, nil)
	}
	if feed == nil {
		feed = []monitor.ActivityEntry{}
	}

	return response.WriteJSON(w, http.StatusOK, feed)
}

// StreamEvents streams broadcast events as server-sent events. The first
// event is always a full snapshot.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	transport := broadcast.NewChanTransport(1)
	connectionID := h.events.Subscribe(transport)
	defer h.events.Unsubscribe(connectionID)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			// Client disconnected
			return
		case event := <-transport.Events():
			if err := event.Validate(); err != nil {
				h.logger.Error("refusing to stream malformed event",
					"connection", connectionID, "error", err)
				continue
			}
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("could not encode event",
					"connection", connectionID, "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}
