package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind identifies which body an Envelope carries.
type Kind string

// Envelope kinds as they appear on the wire.
const (
	KindOffer          Kind = "offer"
	KindAnswer         Kind = "answer"
	KindICECandidate   Kind = "ice_candidate"
	KindPeerJoined     Kind = "peer_joined"
	KindPeerLeft       Kind = "peer_left"
	KindRosterSnapshot Kind = "roster_snapshot"
)

// RelayID is the sender id the relay stamps on messages it originates.
const RelayID = "relay"

var (
	ErrUnknownKind   = errors.New("unknown envelope kind")
	ErrMissingFrom   = errors.New("envelope has no sender")
	ErrMissingTarget = errors.New("unicast envelope has no target")
	ErrMissingBody   = errors.New("envelope body missing")
)

// IsUnicast reports whether envelopes of this kind are routed to a single peer.
func (k Kind) IsUnicast() bool {
	switch k {
	case KindOffer, KindAnswer, KindICECandidate:
		return true
	}
	return false
}

// IsMembership reports whether the kind describes room membership.
func (k Kind) IsMembership() bool {
	switch k {
	case KindPeerJoined, KindPeerLeft, KindRosterSnapshot:
		return true
	}
	return false
}

func (k Kind) valid() bool {
	return k.IsUnicast() || k.IsMembership()
}

// Description is an SDP offer or answer.
type Description struct {
	Type string `json:"sdpType"`
	SDP  string `json:"sdp"`
}

// Candidate is a trickled ICE candidate.
type Candidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"mediaId,omitempty"`
	SDPMLineIndex *uint16 `json:"mediaLineIndex,omitempty"`
}

// Roster lists the peers in a room. Complete marks the list as the full membership.
type Roster struct {
	Peers    []string `json:"peers"`
	Complete bool     `json:"complete"`
}

// Envelope is a decoded relay message. Exactly one body field is set, chosen by Kind.
type Envelope struct {
	Kind Kind
	From string
	To   string

	Description *Description
	Candidate   *Candidate
	Roster      *Roster
}

type wireEnvelope struct {
	Kind Kind            `json:"kind"`
	From string          `json:"from"`
	To   string          `json:"to,omitempty"`
	Body json.RawMessage `json:"body,omitempty"`
}

// Validate checks the per-kind invariants of the envelope.
func (e Envelope) Validate() error {
	if !e.Kind.valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
	if e.From == "" {
		return ErrMissingFrom
	}
	if e.Kind.IsUnicast() && e.To == "" {
		return fmt.Errorf("%w: %s", ErrMissingTarget, e.Kind)
	}

	switch e.Kind {
	case KindOffer, KindAnswer:
		if e.Description == nil {
			return fmt.Errorf("%w: %s", ErrMissingBody, e.Kind)
		}
	case KindICECandidate:
		if e.Candidate == nil {
			return fmt.Errorf("%w: %s", ErrMissingBody, e.Kind)
		}
	case KindRosterSnapshot:
		if e.Roster == nil {
			return fmt.Errorf("%w: %s", ErrMissingBody, e.Kind)
		}
	}
	return nil
}

// MarshalJSON encodes the envelope into its wire shape.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}

	w := wireEnvelope{Kind: e.Kind, From: e.From, To: e.To}

	var body any
	switch e.Kind {
	case KindOffer, KindAnswer:
		body = e.Description
	case KindICECandidate:
		body = e.Candidate
	case KindRosterSnapshot:
		body = e.Roster
	}

	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		w.Body = raw
	}

	return json.Marshal(w)
}

// UnmarshalJSON decodes the wire shape and validates it.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	out := Envelope{Kind: w.Kind, From: w.From, To: w.To}

	switch w.Kind {
	case KindOffer, KindAnswer:
		if len(w.Body) > 0 {
			out.Description = &Description{}
			if err := json.Unmarshal(w.Body, out.Description); err != nil {
				return fmt.Errorf("decode %s body: %w", w.Kind, err)
			}
		}
	case KindICECandidate:
		if len(w.Body) > 0 {
			out.Candidate = &Candidate{}
			if err := json.Unmarshal(w.Body, out.Candidate); err != nil {
				return fmt.Errorf("decode %s body: %w", w.Kind, err)
			}
		}
	case KindRosterSnapshot:
		if len(w.Body) > 0 {
			out.Roster = &Roster{}
			if err := json.Unmarshal(w.Body, out.Roster); err != nil {
				return fmt.Errorf("decode %s body: %w", w.Kind, err)
			}
		}
	}

	if err := out.Validate(); err != nil {
		return err
	}

	*e = out
	return nil
}

// Inbound is one item on the binding's inbound stream. A non-nil Err reports
// that the relay link was lost; Envelope is zero in that case.
type Inbound struct {
	Envelope Envelope
	Err      error
}

// NewOffer builds an offer envelope.
func NewOffer(from, to, sdp string) Envelope {
	return Envelope{Kind: KindOffer, From: from, To: to, Description: &Description{Type: "offer", SDP: sdp}}
}

// NewAnswer builds an answer envelope.
func NewAnswer(from, to, sdp string) Envelope {
	return Envelope{Kind: KindAnswer, From: from, To: to, Description: &Description{Type: "answer", SDP: sdp}}
}

// NewCandidate builds an ice_candidate envelope.
func NewCandidate(from, to string, c Candidate) Envelope {
	return Envelope{Kind: KindICECandidate, From: from, To: to, Candidate: &c}
}

// NewPeerJoined builds a peer_joined notification about peer.
func NewPeerJoined(peer string) Envelope {
	return Envelope{Kind: KindPeerJoined, From: peer}
}

// NewPeerLeft builds a peer_left notification about peer.
func NewPeerLeft(peer string) Envelope {
	return Envelope{Kind: KindPeerLeft, From: peer}
}

// NewRoster builds a roster snapshot stamped with RelayID.
func NewRoster(peers []string, complete bool) Envelope {
	return Envelope{Kind: KindRosterSnapshot, From: RelayID, Roster: &Roster{Peers: peers, Complete: complete}}
}
