package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BioHazard786/meshroom/internal/mesh"
)

var (
	ErrNoSuchPeer    = errors.New("no such peer")
	ErrAmbiguousPeer = errors.New("peer reference is ambiguous")
)

// Mesh is the part of mesh.Session the chat client drives.
type Mesh interface {
	LocalID() mesh.PeerID
	Events() <-chan mesh.Event
	Broadcast(data []byte) (int, error)
	SendTo(id mesh.PeerID, data []byte) error
	Reconnect(id mesh.PeerID) error
	Members() []mesh.PeerID
	Peers() []mesh.PeerInfo
}

var _ Mesh = (*mesh.Session)(nil)

// UpdateKind identifies an Update.
type UpdateKind int

const (
	UpdateText UpdateKind = iota
	UpdateJoined
	UpdateLeft
	UpdateConnected
	UpdateDisconnected
	UpdateFailed
	UpdateRelayLost
)

// Update is a chat-level view of something that happened in the mesh.
type Update struct {
	Kind   UpdateKind
	Peer   mesh.PeerID
	Name   string
	Text   string
	Direct bool
	At     time.Time
	Err    error
}

// Client turns mesh events into chat updates and chat lines into frames.
type Client struct {
	mesh    Mesh
	name    string
	version string
	logger  *slog.Logger

	updates chan Update

	mu    sync.RWMutex
	names map[mesh.PeerID]string
}

// NewClient creates a client that introduces itself as name.
func NewClient(m Mesh, name, version string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		mesh:    m,
		name:    name,
		version: version,
		logger:  logger.With("component", "chat"),
		updates: make(chan Update, 256),
		names:   make(map[mesh.PeerID]string),
	}
}

// Updates is closed when Run returns.
func (c *Client) Updates() <-chan Update {
	return c.updates
}

// Run consumes mesh events until the stream ends or ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.updates)

	events := c.mesh.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if u, ok := c.handle(ev); ok {
				select {
				case c.updates <- u:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

func (c *Client) handle(ev mesh.Event) (Update, bool) {
	u := Update{Peer: ev.Peer, At: time.Now(), Err: ev.Err}

	switch ev.Kind {
	case mesh.EventMemberJoined:
		u.Kind = UpdateJoined
	case mesh.EventMemberLeft:
		u.Kind = UpdateLeft
		u.Name = c.DisplayName(ev.Peer)
		c.forget(ev.Peer)
		return u, true
	case mesh.EventPeerConnected:
		u.Kind = UpdateConnected
		c.greet(ev.Peer)
	case mesh.EventPeerDisconnected:
		u.Kind = UpdateDisconnected
	case mesh.EventPeerFailed:
		u.Kind = UpdateFailed
	case mesh.EventRelayLost:
		u.Kind = UpdateRelayLost
		c.mu.Lock()
		c.names = make(map[mesh.PeerID]string)
		c.mu.Unlock()
	case mesh.EventMessageReceived:
		return c.receive(ev.Peer, ev.Data)
	default:
		return Update{}, false
	}

	u.Name = c.DisplayName(ev.Peer)
	return u, true
}

func (c *Client) greet(id mesh.PeerID) {
	data, err := Encode(TypeHello, HelloPayload{Name: c.name, Version: c.version})
	if err != nil {
		c.logger.Error("failed to encode hello", "error", err)
		return
	}
	if err := c.mesh.SendTo(id, data); err != nil {
		c.logger.Warn("failed to greet peer", "peer", id, "error", err)
	}
}

func (c *Client) receive(from mesh.PeerID, data []byte) (Update, bool) {
	f, err := Decode(data)
	if err != nil {
		c.logger.Warn("dropping frame", "peer", from, "error", err)
		return Update{}, false
	}

	switch f.Type {
	case TypeHello:
		var hello HelloPayload
		if err := f.DecodePayload(&hello); err != nil {
			c.logger.Warn("bad hello", "peer", from, "error", err)
			return Update{}, false
		}
		if name := strings.TrimSpace(hello.Name); name != "" {
			c.mu.Lock()
			c.names[from] = name
			c.mu.Unlock()
		}
		c.logger.Debug("peer introduced itself", "peer", from, "name", hello.Name, "version", hello.Version)
		return Update{}, false

	case TypeText:
		var text TextPayload
		if err := f.DecodePayload(&text); err != nil {
			c.logger.Warn("bad text", "peer", from, "error", err)
			return Update{}, false
		}
		at := time.Now()
		if text.SentAt > 0 {
			at = time.UnixMilli(text.SentAt)
		}
		return Update{
			Kind:   UpdateText,
			Peer:   from,
			Name:   c.DisplayName(from),
			Text:   text.Body,
			Direct: text.Direct,
			At:     at,
		}, true
	}
	return Update{}, false
}

func (c *Client) forget(id mesh.PeerID) {
	c.mu.Lock()
	delete(c.names, id)
	c.mu.Unlock()
}

// Name is the local display name.
func (c *Client) Name() string {
	return c.name
}

// DisplayName returns the name a peer introduced itself with, or a short id.
func (c *Client) DisplayName(id mesh.PeerID) string {
	c.mu.RLock()
	name, ok := c.names[id]
	c.mu.RUnlock()
	if ok {
		return name
	}
	return ShortID(id)
}

// ShortID abbreviates a peer id for display.
func ShortID(id mesh.PeerID) string {
	if len(id) > 8 {
		return string(id[:8])
	}
	return string(id)
}

// Say sends body to every connected peer and returns how many it reached.
func (c *Client) Say(body string) (int, error) {
	data, err := Encode(TypeText, TextPayload{Body: body, SentAt: time.Now().UnixMilli()})
	if err != nil {
		return 0, err
	}
	return c.mesh.Broadcast(data)
}

// Whisper sends body to one peer.
func (c *Client) Whisper(id mesh.PeerID, body string) error {
	data, err := Encode(TypeText, TextPayload{Body: body, SentAt: time.Now().UnixMilli(), Direct: true})
	if err != nil {
		return err
	}
	return c.mesh.SendTo(id, data)
}

// Reconnect restarts negotiation with a peer.
func (c *Client) Reconnect(id mesh.PeerID) error {
	return c.mesh.Reconnect(id)
}

// Resolve finds a member by exact id, display name or unique id prefix.
func (c *Client) Resolve(ref string) (mesh.PeerID, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", ErrNoSuchPeer
	}

	self := c.mesh.LocalID()
	var byName, byPrefix []mesh.PeerID
	for _, id := range c.mesh.Members() {
		if id == self {
			continue
		}
		if string(id) == ref {
			return id, nil
		}
		if strings.EqualFold(c.DisplayName(id), ref) {
			byName = append(byName, id)
		}
		if strings.HasPrefix(string(id), ref) {
			byPrefix = append(byPrefix, id)
		}
	}

	for _, matches := range [][]mesh.PeerID{byName, byPrefix} {
		switch len(matches) {
		case 0:
			continue
		case 1:
			return matches[0], nil
		default:
			return "", fmt.Errorf("%w: %q matches %d peers", ErrAmbiguousPeer, ref, len(matches))
		}
	}
	return "", fmt.Errorf("%w: %q", ErrNoSuchPeer, ref)
}

// PeerRow is one line of the peers table.
type PeerRow struct {
	ID         mesh.PeerID
	Name       string
	Role       string
	State      string
	Status     string
	Candidates int64
	Err        string
}

// PeerRows describes every member other than the local peer. Members without
// a table entry show as absent.
func (c *Client) PeerRows() []PeerRow {
	infos := make(map[mesh.PeerID]mesh.PeerInfo)
	for _, info := range c.mesh.Peers() {
		infos[info.Peer] = info
	}

	self := c.mesh.LocalID()
	var rows []PeerRow
	for _, id := range c.mesh.Members() {
		if id == self {
			continue
		}
		row := PeerRow{ID: id, Name: c.DisplayName(id), Status: mesh.StatusAbsent.String()}
		if info, ok := infos[id]; ok {
			row.Role = info.Role.String()
			row.State = info.State.String()
			row.Status = info.Status.String()
			row.Candidates = info.Applied
			if info.Err != nil {
				row.Err = info.Err.Error()
			}
		}
		rows = append(rows, row)
	}
	return rows
}
