// Package rtc adapts pion/webrtc peer connections to the mesh connection primitive.
package rtc

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BioHazard786/meshroom/internal/mesh"
	"github.com/BioHazard786/meshroom/internal/signaling"
	"github.com/pion/webrtc/v4"
)

// ErrConnectionFailed is passed to OnFailed handlers.
var ErrConnectionFailed = errors.New("peer connection failed")

// Config selects ICE servers and candidate policy.
type Config struct {
	STUNServers  []string
	TURNServers  []string
	TURNUsername string
	TURNPassword string

	// ForceRelay restricts ICE to TURN candidates. It needs TURN servers.
	ForceRelay bool
	// DetectRelay forces TURN when the host looks like it is behind a VPN or CGNAT.
	DetectRelay bool
	// IncludeLoopback gathers loopback candidates, for same-host peers and tests.
	IncludeLoopback bool
}

// Factory creates pion-backed connections.
type Factory struct {
	api    *webrtc.API
	config webrtc.Configuration
	logger *slog.Logger
}

var _ mesh.ConnectionFactory = (*Factory)(nil)

// NewFactory builds a factory from cfg.
func NewFactory(cfg Config, logger *slog.Logger) (*Factory, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var iceServers []webrtc.ICEServer
	if len(cfg.STUNServers) > 0 {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: cfg.STUNServers})
	}
	if len(cfg.TURNServers) > 0 {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       cfg.TURNServers,
			Username:   cfg.TURNUsername,
			Credential: cfg.TURNPassword,
		})
	}

	policy := webrtc.ICETransportPolicyAll
	if cfg.ForceRelay || (cfg.DetectRelay && len(cfg.TURNServers) > 0 && ShouldForceRelay()) {
		if len(cfg.TURNServers) == 0 {
			return nil, errors.New("cannot force relay mode without a TURN server")
		}
		policy = webrtc.ICETransportPolicyRelay
		logger.Info("forcing TURN relay")
	}

	settings := webrtc.SettingEngine{}
	settings.SetIncludeLoopbackCandidate(cfg.IncludeLoopback)

	return &Factory{
		api: webrtc.NewAPI(webrtc.WithSettingEngine(settings)),
		config: webrtc.Configuration{
			ICEServers:         iceServers,
			ICETransportPolicy: policy,
		},
		logger: logger.With("component", "rtc"),
	}, nil
}

// NewConnection creates a new peer connection.
func (f *Factory) NewConnection() (mesh.Connection, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	c := &Connection{pc: pc, logger: f.logger}
	pc.OnConnectionStateChange(c.handleStateChange)
	return c, nil
}

// Connection wraps a pion PeerConnection.
type Connection struct {
	pc     *webrtc.PeerConnection
	logger *slog.Logger

	mu       sync.Mutex
	onFailed func(error)
	failOnce sync.Once
}

var _ mesh.Connection = (*Connection)(nil)

func (c *Connection) handleStateChange(state webrtc.PeerConnectionState) {
	c.logger.Debug("peer connection state", "state", state.String())
	if state != webrtc.PeerConnectionStateFailed {
		return
	}

	c.mu.Lock()
	fn := c.onFailed
	c.mu.Unlock()
	if fn != nil {
		c.failOnce.Do(func() { fn(ErrConnectionFailed) })
	}
}

func (c *Connection) CreateOffer() (string, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	return offer.SDP, nil
}

func (c *Connection) CreateAnswer() (string, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	return answer.SDP, nil
}

func (c *Connection) SetLocalDescription(sdpType, sdp string) error {
	return c.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.NewSDPType(sdpType), SDP: sdp})
}

func (c *Connection) SetRemoteDescription(sdpType, sdp string) error {
	return c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.NewSDPType(sdpType), SDP: sdp})
}

func (c *Connection) AddRemoteCandidate(cand signaling.Candidate) error {
	return c.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     cand.Candidate,
		SDPMid:        cand.SDPMid,
		SDPMLineIndex: cand.SDPMLineIndex,
	})
}

// CreateDataChannel opens an ordered, reliable channel.
func (c *Connection) CreateDataChannel(label string) (mesh.DataChannel, error) {
	ordered := true
	dc, err := c.pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	return wrapChannel(dc), nil
}

func (c *Connection) OnLocalCandidate(fn func(signaling.Candidate)) {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		init := cand.ToJSON()
		fn(signaling.Candidate{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		})
	})
}

func (c *Connection) OnDataChannel(fn func(mesh.DataChannel)) {
	c.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		fn(wrapChannel(dc))
	})
}

func (c *Connection) OnFailed(fn func(error)) {
	c.mu.Lock()
	c.onFailed = fn
	c.mu.Unlock()
}

func (c *Connection) Close() error {
	return c.pc.Close()
}

// Channel wraps a pion DataChannel.
type Channel struct {
	dc *webrtc.DataChannel
}

var _ mesh.DataChannel = (*Channel)(nil)

func wrapChannel(dc *webrtc.DataChannel) *Channel {
	return &Channel{dc: dc}
}

func (ch *Channel) Label() string {
	return ch.dc.Label()
}

func (ch *Channel) Send(data []byte) error {
	return ch.dc.Send(data)
}

// OnOpen registers fn; pion runs it at once when the channel is already open.
func (ch *Channel) OnOpen(fn func()) {
	ch.dc.OnOpen(fn)
}

func (ch *Channel) OnClose(fn func()) {
	ch.dc.OnClose(fn)
}

func (ch *Channel) OnMessage(fn func([]byte)) {
	ch.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		fn(msg.Data)
	})
}

func (ch *Channel) Close() error {
	return ch.dc.Close()
}
