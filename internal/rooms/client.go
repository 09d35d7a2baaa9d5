// Package rooms is a client for the relay's room registry.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	ctls "crypto/tls"

	"github.com/BioHazard786/meshroom/internal/dns"
	"github.com/BioHazard786/meshroom/internal/relay"
	"github.com/BioHazard786/meshroom/internal/version"
	req "github.com/imroc/req/v3"
	tls "github.com/refraction-networking/utls"
)

var (
	ErrNotFound  = errors.New("room not found")
	ErrForbidden = errors.New("not allowed to change this room")
)

const requestTimeout = 15 * time.Second

// Room is the registry view of a room.
type Room = relay.RoomInfo

// Client talks to /v1/rooms on one relay.
type Client struct {
	c   *req.Client
	url string
}

type apiError struct {
	Message string `json:"error"`
}

// TLSConn exposes a uTLS connection's state as crypto/tls, which req needs to
// pick the HTTP version.
type TLSConn struct {
	*tls.UConn
}

func (conn *TLSConn) ConnectionState() ctls.ConnectionState {
	cs := conn.UConn.ConnectionState()
	return ctls.ConnectionState{
		Version:                     cs.Version,
		HandshakeComplete:           cs.HandshakeComplete,
		DidResume:                   cs.DidResume,
		CipherSuite:                 cs.CipherSuite,
		NegotiatedProtocol:          cs.NegotiatedProtocol,
		NegotiatedProtocolIsMutual:  cs.NegotiatedProtocolIsMutual,
		ServerName:                  cs.ServerName,
		PeerCertificates:            cs.PeerCertificates,
		VerifiedChains:              cs.VerifiedChains,
		SignedCertificateTimestamps: cs.SignedCertificateTimestamps,
		OCSPResponse:                cs.OCSPResponse,
		TLSUnique:                   cs.TLSUnique,
	}
}

// NewClient creates a registry client for the relay at baseURL, e.g.
// https://meshroom.qzz.io. HTTPS requests present a browser ClientHello.
func NewClient(baseURL string) *Client {
	c := req.C().
		SetTimeout(requestTimeout).
		SetUserAgent("meshroom/" + version.Version)

	c.SetDialTLS(func(ctx context.Context, network, addr string) (net.Conn, error) {
		plainConn, err := dns.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		hostname, _, err := net.SplitHostPort(addr)
		if err != nil {
			hostname = addr
		}
		utlsConfig := &tls.Config{ServerName: hostname, NextProtos: c.GetTLSClientConfig().NextProtos, MinVersion: tls.VersionTLS12}
		conn := tls.UClient(plainConn, utlsConfig, tls.HelloChrome_106_Shuffle)
		if err := conn.HandshakeContext(ctx); err != nil {
			plainConn.Close()
			return nil, err
		}
		return &TLSConn{conn}, nil
	})

	return &Client{
		c:   c,
		url: strings.TrimRight(baseURL, "/") + "/v1/rooms",
	}
}

// Create registers a room. maxPeers of zero takes the relay default.
func (c *Client) Create(ctx context.Context, maxPeers int) (Room, error) {
	var room Room
	r := c.c.R().SetContext(ctx).SetSuccessResult(&room)
	if maxPeers > 0 {
		r.SetQueryParam("max_peers", strconv.Itoa(maxPeers))
	}
	if err := c.do(r, http.MethodPost); err != nil {
		return Room{}, fmt.Errorf("create room: %w", err)
	}
	return room, nil
}

// List returns every room on the relay.
func (c *Client) List(ctx context.Context) ([]Room, error) {
	var rooms []Room
	if err := c.do(c.c.R().SetContext(ctx).SetSuccessResult(&rooms), http.MethodGet); err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return rooms, nil
}

// Get returns one room.
func (c *Client) Get(ctx context.Context, code string) (Room, error) {
	var room Room
	r := c.c.R().SetContext(ctx).SetQueryParam("room", code).SetSuccessResult(&room)
	if err := c.do(r, http.MethodGet); err != nil {
		return Room{}, fmt.Errorf("get room %s: %w", code, err)
	}
	return room, nil
}

// Delete removes a room. Only its creator may do so.
func (c *Client) Delete(ctx context.Context, code string) error {
	r := c.c.R().SetContext(ctx).SetQueryParam("room", code)
	if err := c.do(r, http.MethodDelete); err != nil {
		return fmt.Errorf("delete room %s: %w", code, err)
	}
	return nil
}

func (c *Client) do(r *req.Request, method string) error {
	var apiErr apiError
	r.SetErrorResult(&apiErr)

	resp, err := r.Send(method, c.url)
	if err != nil {
		return err
	}
	if !resp.IsErrorState() {
		return nil
	}

	msg := apiErr.Message
	if msg == "" {
		msg = resp.Status
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrForbidden, msg)
	}
	return fmt.Errorf("relay returned %d: %s", resp.StatusCode, msg)
}
