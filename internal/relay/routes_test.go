package relay

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BioHazard786/meshroom/internal/signaling"
	"github.com/gorilla/websocket"
)

func startServer(t *testing.T, opts HubOptions) *httptest.Server {
	t.Helper()
	hub, _ := startHub(t, opts)
	srv := httptest.NewServer(NewRouter(hub))
	t.Cleanup(srv.Close)
	return srv
}

func dialWs(t *testing.T, srv *httptest.Server, room, peer string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?room=" + room + "&peer_id=" + peer
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", peer, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) signaling.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(testTimeout))
	var env signaling.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	return env
}

func TestHealthCheck(t *testing.T) {
	srv := startServer(t, HubOptions{})

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "relay is healthy" {
		t.Errorf("health = %d %q", resp.StatusCode, body)
	}
}

func TestServeWsRequiresParams(t *testing.T) {
	srv := startServer(t, HubOptions{})

	resp, err := http.Get(srv.URL + "/ws?room=den")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestServeWsRelaysBetweenPeers(t *testing.T) {
	srv := startServer(t, HubOptions{})

	alice := dialWs(t, srv, "den", "alice")
	if env := readEnvelope(t, alice); env.Kind != signaling.KindRosterSnapshot {
		t.Fatalf("alice first envelope = %s, want roster", env.Kind)
	}

	bob := dialWs(t, srv, "den", "bob")
	roster := readEnvelope(t, bob)
	if roster.Kind != signaling.KindRosterSnapshot || len(roster.Roster.Peers) != 2 {
		t.Fatalf("bob roster = %+v", roster)
	}
	if env := readEnvelope(t, alice); env.Kind != signaling.KindPeerJoined || env.From != "bob" {
		t.Fatalf("alice got %s from %s, want peer_joined bob", env.Kind, env.From)
	}

	if err := bob.WriteJSON(signaling.NewAnswer("bob", "alice", "v=0")); err != nil {
		t.Fatal(err)
	}
	// Malformed frames are dropped without tearing the link down.
	if err := bob.WriteMessage(websocket.TextMessage, []byte(`{"kind":"offer"`)); err != nil {
		t.Fatal(err)
	}
	mid := "0"
	if err := bob.WriteJSON(signaling.NewCandidate("bob", "alice", signaling.Candidate{Candidate: "candidate:1", SDPMid: &mid})); err != nil {
		t.Fatal(err)
	}

	answer := readEnvelope(t, alice)
	if answer.Kind != signaling.KindAnswer || answer.From != "bob" || answer.Description.SDP != "v=0" {
		t.Errorf("alice got %+v", answer)
	}
	cand := readEnvelope(t, alice)
	if cand.Kind != signaling.KindICECandidate || cand.Candidate.SDPMid == nil || *cand.Candidate.SDPMid != "0" {
		t.Errorf("alice got %+v", cand)
	}

	bob.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	bob.Close()
	if env := readEnvelope(t, alice); env.Kind != signaling.KindPeerLeft || env.From != "bob" {
		t.Errorf("alice got %s from %s, want peer_left bob", env.Kind, env.From)
	}
}

func TestServeWsRejectsJoin(t *testing.T) {
	tests := []struct {
		name string
		peer string
		code int
	}{
		{name: "duplicate peer", peer: "alice", code: websocket.ClosePolicyViolation},
		{name: "room full", peer: "carol", code: websocket.CloseTryAgainLater},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := startServer(t, HubOptions{DefaultMaxPeers: 2})
			// Each roster confirms the join finished before the next dial.
			readEnvelope(t, dialWs(t, srv, "den", "alice"))
			readEnvelope(t, dialWs(t, srv, "den", "bob"))

			conn := dialWs(t, srv, "den", tt.peer)
			conn.SetReadDeadline(time.Now().Add(testTimeout))
			_, _, err := conn.ReadMessage()

			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) || closeErr.Code != tt.code {
				t.Errorf("read = %v, want close code %d", err, tt.code)
			}
		})
	}
}

func doRequest(t *testing.T, method, url string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

func TestRoomsHandler(t *testing.T) {
	srv := startServer(t, HubOptions{})
	base := srv.URL + "/v1/rooms"

	var created RoomInfo
	if status := doRequest(t, http.MethodPost, base+"?max_peers=4", &created); status != http.StatusCreated {
		t.Fatalf("create status = %d", status)
	}
	if created.MaxPeers != 4 || created.Host != "127.0.0.1" || created.Code == "" {
		t.Errorf("created = %+v", created)
	}

	var got RoomInfo
	if status := doRequest(t, http.MethodGet, base+"?room="+created.Code, &got); status != http.StatusOK {
		t.Fatalf("get status = %d", status)
	}
	if got.Code != created.Code {
		t.Errorf("got room %q, want %q", got.Code, created.Code)
	}

	var list []RoomInfo
	if status := doRequest(t, http.MethodGet, base, &list); status != http.StatusOK || len(list) != 1 {
		t.Errorf("list = %d %+v", status, list)
	}

	original := clientIP
	clientIP = func(*http.Request) string { return "192.0.2.7" }
	status := doRequest(t, http.MethodDelete, base+"?room="+created.Code, nil)
	clientIP = original
	if status != http.StatusForbidden {
		t.Errorf("delete by stranger = %d, want 403", status)
	}

	if status := doRequest(t, http.MethodDelete, base+"?room="+created.Code, nil); status != http.StatusOK {
		t.Errorf("delete by host = %d, want 200", status)
	}

	var apiErr map[string]string
	if status := doRequest(t, http.MethodGet, base+"?room="+created.Code, &apiErr); status != http.StatusNotFound {
		t.Errorf("get deleted = %d, want 404", status)
	}
	if apiErr["error"] != ErrRoomNotFound.Error() {
		t.Errorf("error body = %v", apiErr)
	}
}

func TestRoomsHandlerRejectsBadInput(t *testing.T) {
	srv := startServer(t, HubOptions{})
	base := srv.URL + "/v1/rooms"

	tests := []struct {
		method, url string
		want        int
	}{
		{http.MethodPost, base + "?max_peers=1", http.StatusBadRequest},
		{http.MethodPost, base + "?max_peers=lots", http.StatusBadRequest},
		{http.MethodDelete, base, http.StatusBadRequest},
		{http.MethodDelete, base + "?room=nope", http.StatusNotFound},
		{http.MethodPut, base, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		if got := doRequest(t, tt.method, tt.url, nil); got != tt.want {
			t.Errorf("%s %s = %d, want %d", tt.method, tt.url, got, tt.want)
		}
	}
}
