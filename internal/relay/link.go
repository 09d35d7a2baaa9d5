package relay

import (
	"errors"
	"sync"

	"github.com/BioHazard786/meshroom/internal/signaling"
)

// ErrLinkDropped is reported on a Link's stream when the hub disconnects it.
var ErrLinkDropped = errors.New("relay dropped the link")

// Link is an in-process attachment to a Hub. It offers the same envelope
// stream as a websocket binding without any network in between.
type Link struct {
	hub      *Hub
	client   *Client
	incoming chan signaling.Inbound

	closing chan struct{}
	once    sync.Once
}

// Attach joins peerID to room and returns its link.
func (h *Hub) Attach(room, peerID string) (*Link, error) {
	c := newClient(h, nil, peerID, room)
	if err := h.join(c); err != nil {
		return nil, err
	}

	l := &Link{
		hub:      h,
		client:   c,
		incoming: make(chan signaling.Inbound, sendBufferSize),
		closing:  make(chan struct{}),
	}
	go l.pump()
	return l, nil
}

func (l *Link) pump() {
	defer close(l.incoming)

	for env := range l.client.send {
		select {
		case l.incoming <- signaling.Inbound{Envelope: env}:
		case <-l.closing:
			return
		}
	}

	select {
	case <-l.closing:
	default:
		l.incoming <- signaling.Inbound{Err: ErrLinkDropped}
	}
}

// Send routes env through the hub.
func (l *Link) Send(env signaling.Envelope) error {
	select {
	case <-l.closing:
		return signaling.ErrClosed
	default:
	}
	if err := env.Validate(); err != nil {
		return err
	}
	if !l.hub.route(&frame{env: env, client: l.client}) {
		return ErrHubStopped
	}
	return nil
}

// Incoming returns the inbound stream. It closes once the link is gone.
func (l *Link) Incoming() <-chan signaling.Inbound {
	return l.incoming
}

// Close leaves the room.
func (l *Link) Close() error {
	l.once.Do(func() {
		close(l.closing)
		l.hub.leave(l.client)
	})
	return nil
}
