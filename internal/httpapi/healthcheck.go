package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"bplog/internal/utils"
)

// Pinger reports whether the reading store is usable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConnectionState reports the broker connection.
type ConnectionState interface {
	IsConnected() bool
}

type healthchecker interface {
	handleHealthz(w http.ResponseWriter, r *http.Request)
}

type healthcheckerImpl struct {
	store  Pinger
	broker ConnectionState
	logger *slog.Logger
}

func NewHealthchecker(store Pinger, broker ConnectionState, logger *slog.Logger) healthchecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &healthcheckerImpl{store: store, broker: broker, logger: logger}
}

func (h *healthcheckerImpl) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		h.logger.Error("failed to check store", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to check store")
		return
	}

	// MQTT is optional; a lost broker is reported but does not fail the check.
	mqttState := "disabled"
	if h.broker != nil {
		mqttState = "disconnected"
		if h.broker.IsConnected() {
			mqttState = "connected"
		}
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"store":  "ok",
		"mqtt":   mqttState,
	})
}

func registerHealthcheck(mux *http.ServeMux, store Pinger, broker ConnectionState, logger *slog.Logger) {
	healthchecker := NewHealthchecker(store, broker, logger)
	mux.HandleFunc("GET /healthz", healthchecker.handleHealthz)
}
