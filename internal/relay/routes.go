package relay

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  maxMessageSize,
	WriteBufferSize: maxMessageSize,

	// Peers connect from native clients; there is no browser origin to check.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// clientIP identifies the caller of a registry request.
var clientIP = func(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return ""
	}
	return host
}

// NewRouter wires the websocket endpoint, the room registry and the health check.
func NewRouter(hub *Hub) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", ServeWs(hub))
	mux.HandleFunc("/health", healthCheck)
	mux.Handle("/v1/rooms", RoomsHandler(hub))
	return mux
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("relay is healthy"))
}

// ServeWs upgrades /ws?peer_id=<id>&room=<code> requests and attaches them to hub.
func ServeWs(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		peerID := r.URL.Query().Get("peer_id")
		room := r.URL.Query().Get("room")
		if peerID == "" || room == "" {
			http.Error(w, "peer_id and room are required", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.logger.Warn("failed to upgrade connection", "error", err)
			return
		}

		client := newClient(hub, conn, peerID, room)
		if err := hub.join(client); err != nil {
			code := websocket.ClosePolicyViolation
			if errors.Is(err, ErrRoomFull) {
				code = websocket.CloseTryAgainLater
			}
			conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, err.Error()), deadline())
			conn.Close()
			return
		}

		go client.WritePump()
		go client.ReadPump()
	}
}

// RoomsHandler serves the room registry at /v1/rooms.
func RoomsHandler(hub *Hub) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			getRooms(hub, w, r)
		case http.MethodPost:
			createRoom(hub, w, r)
		case http.MethodDelete:
			deleteRoom(hub, w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		}
	})
}

func createRoom(hub *Hub, w http.ResponseWriter, r *http.Request) {
	host := clientIP(r)
	if host == "" {
		writeError(w, http.StatusBadRequest, errors.New("invalid remote address"))
		return
	}

	maxPeers := 0
	if raw := r.URL.Query().Get("max_peers"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 2 {
			writeError(w, http.StatusBadRequest, errors.New("max_peers must be an integer of at least 2"))
			return
		}
		maxPeers = n
	}

	info, err := hub.CreateRoom(r.Context(), host, maxPeers)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func getRooms(hub *Hub, w http.ResponseWriter, r *http.Request) {
	if code := r.URL.Query().Get("room"); code != "" {
		info, err := hub.Room(r.Context(), code)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, info)
		return
	}

	rooms, err := hub.Rooms(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

func deleteRoom(hub *Hub, w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("room")
	if code == "" {
		writeError(w, http.StatusBadRequest, errors.New("room parameter is required"))
		return
	}

	if err := hub.DeleteRoom(r.Context(), code, clientIP(r)); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "room": code})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNotHost):
		return http.StatusForbidden
	case errors.Is(err, ErrHubStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
