package relay

import (
	"errors"

	"github.com/BioHazard786/meshroom/internal/signaling"
)

var (
	ErrRoomFull      = errors.New("room is full")
	ErrRoomNotFound  = errors.New("room not found")
	ErrDuplicatePeer = errors.New("peer id already in room")
	ErrNotHost       = errors.New("only the room host can delete the room")
	ErrHubStopped    = errors.New("relay hub stopped")
)

// frame is an envelope read from a client, tagged with its sender.
type frame struct {
	env    signaling.Envelope
	client *Client
}

// joinRequest asks the hub to admit a client into its room.
type joinRequest struct {
	client *Client
	result chan error
}
