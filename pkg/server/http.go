package server

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/pairwise/pairwise/pkg/config/server"
	"github.com/pairwise/pairwise/pkg/config/webrtc"
	"github.com/pairwise/pairwise/pkg/logger"
	"github.com/pairwise/pairwise/pkg/network/httpx"
)

func NewHTTPServer(conf server.Config, log *logger.Logger, hub *Hub, mgr *SessionManager, iceServers []webrtc.IceServer) (*httpx.Server, error) {
	return httpx.NewServer(
		conf.Server.Http.GetAddr(),
		func(*httpx.Server) http.Handler {
			h := http.NewServeMux()
			h.HandleFunc("/ws", hub.handleClientConnection)
			h.HandleFunc("/api/health", health(mgr))
			h.HandleFunc("/api/ice-servers", iceHandler(iceServers))
			return h
		},
		httpx.WithServerConfig(conf.Server.Http),
		httpx.WithLogger(log),
	)
}

func health(mgr *SessionManager) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		connections, rooms, waiting := mgr.Counts()
		writeJSON(w, map[string]any{
			"status":      "ok",
			"connections": connections,
			"rooms":       rooms,
			"waiting":     waiting,
			"timestamp":   time.Now().UnixMilli(),
		})
	}
}

// iceHandler serves the static ICE server list; an extension point
// for dynamic TURN credential issuance later.
func iceHandler(servers []webrtc.IceServer) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, servers)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
