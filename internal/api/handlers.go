package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/skillswap/realtime/internal/broker"
)

// StatsSource is the slice of the history store the API reads.
type StatsSource interface {
	Stats(ctx context.Context) (map[string]interface{}, error)
}

type API struct {
	broker  *broker.Broker
	history StatsSource
}

func New(brk *broker.Broker, history StatsSource) *API {
	return &API{
		broker:  brk,
		history: history,
	}
}

// Router builds the HTTP surface next to the websocket endpoint.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(corsMiddleware)
	r.HandleFunc("/health", a.HealthHandler).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/api/stats", a.StatsHandler).Methods(http.MethodGet, http.MethodOptions)
	return r
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encoding JSON response failed", "error", err)
	}
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	rooms, clients := a.broker.Stats()
	stats := map[string]interface{}{
		"active_rooms":   rooms,
		"active_clients": clients,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if a.history != nil {
		histStats, err := a.history.Stats(r.Context())
		if err == nil {
			stats["stored_messages"] = histStats["message_count"]
			stats["stored_rooms"] = histStats["room_count"]
		}
	}

	jsonResponse(w, http.StatusOK, stats)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
