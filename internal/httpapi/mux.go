package httpapi

import (
	"log/slog"
	"net/http"
)

// NewMux mounts the health check and the static files. broker may be nil when
// MQTT is disabled; an empty staticDir skips /static/.
func NewMux(store Pinger, staticDir string, broker ConnectionState, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	registerHealthcheck(mux, store, broker, logger)
	if staticDir != "" {
		mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))
	}
	return mux
}
