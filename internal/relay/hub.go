package relay

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"sort"

	"github.com/BioHazard786/meshroom/internal/signaling"
)

// DefaultMaxPeers caps rooms created implicitly by a websocket join.
const DefaultMaxPeers = 8

// HubOptions configures a Hub.
type HubOptions struct {
	// DefaultMaxPeers applies to rooms created on first join. Zero means DefaultMaxPeers.
	DefaultMaxPeers int
	Logger          *slog.Logger
}

// Hub is the central brain of the relay.
// A single goroutine (Run) owns every room and every client.
type Hub struct {
	rooms map[string]*Room

	register   chan *joinRequest
	unregister chan *Client
	frames     chan *frame
	requests   chan func()

	defaultMaxPeers int
	logger          *slog.Logger

	done chan struct{}
}

// NewHub creates a Hub. Call Run to start it.
func NewHub(opts HubOptions) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxPeers := opts.DefaultMaxPeers
	if maxPeers <= 0 {
		maxPeers = DefaultMaxPeers
	}

	return &Hub{
		rooms:           make(map[string]*Room),
		register:        make(chan *joinRequest),
		unregister:      make(chan *Client),
		frames:          make(chan *frame, 64),
		requests:        make(chan func()),
		defaultMaxPeers: maxPeers,
		logger:          logger.With("component", "relay"),
		done:            make(chan struct{}),
	}
}

// generateRoomCode creates a random, memorable room code from four word lists,
// e.g. "kitten-waffle-stardust-happy". Must run on the hub goroutine.
func (h *Hub) generateRoomCode() string {
	allWords := [][]string{animals, dishes, names, randomWords, adjectives, extras}

	for {
		lists := make([]int, len(allWords))
		for i := range lists {
			lists[i] = i
		}
		// Partial Fisher-Yates to pick four distinct lists.
		for i := 0; i < 4; i++ {
			j := i + randomIndex(len(lists)-i)
			lists[i], lists[j] = lists[j], lists[i]
		}

		words := make([]any, 4)
		for i := 0; i < 4; i++ {
			list := allWords[lists[i]]
			words[i] = list[randomIndex(len(list))]
		}

		code := fmt.Sprintf("%s-%s-%s-%s", words...)
		if _, ok := h.rooms[code]; !ok {
			return code
		}
	}
}

// randomIndex returns a cryptographically secure random index below max.
func randomIndex(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		panic(fmt.Sprintf("failed to generate random index: %v", err))
	}
	return int(n.Int64())
}

// Run is the hub's main processing loop. It returns when ctx is cancelled,
// after disconnecting every client.
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return

		case req := <-h.register:
			req.result <- h.handleJoin(req.client)

		case client := <-h.unregister:
			h.handleLeave(client)

		case f := <-h.frames:
			h.handleFrame(f)

		case fn := <-h.requests:
			fn()
		}
	}
}

func (h *Hub) shutdown() {
	close(h.done)
	for _, room := range h.rooms {
		for _, c := range room.peers {
			h.disconnect(c)
		}
	}
	h.rooms = map[string]*Room{}
}

// handleJoin admits c, sends it a complete roster and announces it to the room.
func (h *Hub) handleJoin(c *Client) error {
	room, ok := h.rooms[c.RoomCode]
	if !ok {
		room = newRoom(c.RoomCode, h.defaultMaxPeers)
		h.rooms[c.RoomCode] = room
		h.logger.Info("room created on join", "room", room.Code)
	}

	if _, dup := room.peers[c.PeerID]; dup {
		h.logger.Warn("join rejected", "room", room.Code, "peer", c.PeerID, "error", ErrDuplicatePeer)
		return ErrDuplicatePeer
	}
	if room.full() {
		h.logger.Warn("join rejected", "room", room.Code, "peer", c.PeerID, "error", ErrRoomFull)
		return ErrRoomFull
	}

	room.add(c)
	h.logger.Info("peer joined", "room", room.Code, "peer", c.PeerID, "peers", len(room.peers))

	h.deliver(c, signaling.NewRoster(room.members(), true))
	h.broadcast(room, signaling.NewPeerJoined(c.PeerID), c.PeerID)
	return nil
}

// handleLeave removes c from its room and closes its send channel.
func (h *Hub) handleLeave(c *Client) {
	if c.closed {
		return
	}
	h.disconnect(c)

	room, ok := h.rooms[c.RoomCode]
	if !ok || !room.remove(c) {
		return
	}

	h.logger.Info("peer left", "room", room.Code, "peer", c.PeerID, "peers", len(room.peers))
	h.broadcast(room, signaling.NewPeerLeft(c.PeerID), "")
	h.pruneRoom(room)
}

// pruneRoom deletes an empty room that was not created through the registry.
func (h *Hub) pruneRoom(room *Room) {
	if len(room.peers) == 0 && !room.Registered {
		delete(h.rooms, room.Code)
		h.logger.Info("room deleted", "room", room.Code)
	}
}

// handleFrame routes a unicast envelope to its target within the sender's room.
func (h *Hub) handleFrame(f *frame) {
	c := f.client
	if c.closed {
		return
	}

	room, ok := h.rooms[c.RoomCode]
	if !ok || room.peers[c.PeerID] != c {
		return
	}

	env := f.env
	if !env.Kind.IsUnicast() {
		h.logger.Warn("dropping non-routable envelope", "room", room.Code, "peer", c.PeerID, "kind", env.Kind)
		return
	}
	env.From = c.PeerID

	target, ok := room.peers[env.To]
	if !ok {
		h.logger.Warn("dropping envelope for unknown peer", "room", room.Code, "from", env.From, "to", env.To, "kind", env.Kind)
		return
	}

	h.logger.Debug("relaying", "room", room.Code, "from", env.From, "to", env.To, "kind", env.Kind)
	h.deliver(target, env)
}

func (h *Hub) broadcast(room *Room, env signaling.Envelope, except string) {
	for _, id := range room.members() {
		if id == except {
			continue
		}
		if c, ok := room.peers[id]; ok {
			h.deliver(c, env)
		}
	}
}

// deliver queues env for c without blocking. A client whose buffer is full is dropped.
func (h *Hub) deliver(c *Client, env signaling.Envelope) {
	if c.closed {
		return
	}
	select {
	case c.send <- env:
	default:
		h.logger.Warn("dropping slow peer", "room", c.RoomCode, "peer", c.PeerID)
		h.handleLeave(c)
	}
}

func (h *Hub) disconnect(c *Client) {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// join submits c for admission and waits for the verdict.
func (h *Hub) join(c *Client) error {
	req := &joinRequest{client: c, result: make(chan error, 1)}
	select {
	case h.register <- req:
	case <-h.done:
		return ErrHubStopped
	}
	return <-req.result
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) route(f *frame) bool {
	select {
	case h.frames <- f:
		return true
	case <-h.done:
		return false
	}
}

// do runs fn on the hub goroutine and waits for it.
func (h *Hub) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		fn()
		close(finished)
	}

	select {
	case h.requests <- wrapped:
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// CreateRoom registers a new room with a generated code.
func (h *Hub) CreateRoom(ctx context.Context, host string, maxPeers int) (RoomInfo, error) {
	if maxPeers <= 0 {
		maxPeers = h.defaultMaxPeers
	}

	var info RoomInfo
	err := h.do(ctx, func() {
		room := newRoom(h.generateRoomCode(), maxPeers)
		room.Host = host
		room.Registered = true
		h.rooms[room.Code] = room
		h.logger.Info("room created", "room", room.Code, "host", host, "max_peers", maxPeers)
		info = room.info()
	})
	return info, err
}

// Room returns the registry view of one room.
func (h *Hub) Room(ctx context.Context, code string) (RoomInfo, error) {
	var (
		info  RoomInfo
		found bool
	)
	err := h.do(ctx, func() {
		if room, ok := h.rooms[code]; ok {
			info, found = room.info(), true
		}
	})
	if err != nil {
		return RoomInfo{}, err
	}
	if !found {
		return RoomInfo{}, ErrRoomNotFound
	}
	return info, nil
}

// Rooms lists every room sorted by code.
func (h *Hub) Rooms(ctx context.Context) ([]RoomInfo, error) {
	var out []RoomInfo
	err := h.do(ctx, func() {
		out = make([]RoomInfo, 0, len(h.rooms))
		for _, room := range h.rooms {
			out = append(out, room.info())
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, err
}

// DeleteRoom removes a room and disconnects its peers. Only the host that
// created a registered room may delete it.
func (h *Hub) DeleteRoom(ctx context.Context, code, host string) error {
	var result error
	err := h.do(ctx, func() {
		room, ok := h.rooms[code]
		if !ok {
			result = ErrRoomNotFound
			return
		}
		if room.Host != "" && room.Host != host {
			result = ErrNotHost
			return
		}
		for _, c := range room.peers {
			h.disconnect(c)
		}
		delete(h.rooms, code)
		h.logger.Info("room deleted", "room", code, "by", host)
	})
	if err != nil {
		return err
	}
	return result
}
