package mesh

import (
	"errors"
	"fmt"
)

var (
	ErrEntryExists       = errors.New("connection entry already exists")
	ErrNotConnected      = errors.New("peer not connected")
	ErrUnknownPeer       = errors.New("unknown peer")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrRelayClosed       = errors.New("relay closed")
	ErrSessionStopped    = errors.New("session stopped")
	ErrChannelClosed     = errors.New("data channel closed")
)

// NegotiationError reports a failed step while negotiating with one peer.
type NegotiationError struct {
	Op   string
	Peer PeerID
	Err  error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("%s with %s: %v", e.Op, e.Peer, e.Err)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}

func negotiationError(op string, peer PeerID, err error) *NegotiationError {
	return &NegotiationError{Op: op, Peer: peer, Err: err}
}
