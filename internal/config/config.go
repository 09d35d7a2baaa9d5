package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BioHazard786/meshroom/internal/rtc"
	"gopkg.in/yaml.v3"
)

// Default configuration values (production)
const (
	DefaultDomain            = "meshroom.qzz.io"
	DefaultSTUN              = "stun:stun.l.google.com:19302"
	DefaultReconnectAttempts = 5
	DefaultReconnectBackoff  = 500 * time.Millisecond
	DefaultRelayAddr         = ":8080"
)

// Config holds application configuration
type Config struct {
	// Domain is the relay server domain
	Domain string
	// Insecure switches to ws:// and http://, for a relay without TLS
	Insecure bool

	// WebSocketURL and APIURL are constructed from domain
	WebSocketURL string
	APIURL       string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string

	ForceRelay         bool
	LoopbackCandidates bool

	ReconnectAttempts int
	ReconnectBackoff  time.Duration
}

// Options for loading config with CLI flag overrides. Zero values mean the
// flag was not given.
type Options struct {
	// ConfigPath names the YAML file. Empty means DefaultPath, which may be absent.
	ConfigPath string

	Domain     string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
	Insecure   bool

	ReconnectAttempts *int
	ReconnectBackoff  time.Duration
}

// File is the on-disk configuration.
type File struct {
	Domain             string `yaml:"domain"`
	Insecure           *bool  `yaml:"insecure"`
	STUNServer         string `yaml:"stun_server"`
	TURNServer         string `yaml:"turn_server"`
	TURNUser           string `yaml:"turn_username"`
	TURNPass           string `yaml:"turn_password"`
	ForceRelay         *bool  `yaml:"force_relay"`
	ReconnectAttempts  *int   `yaml:"reconnect_attempts"`
	ReconnectBackoff   string `yaml:"reconnect_backoff"`
	LoopbackCandidates *bool  `yaml:"loopback_candidates"`
}

// DefaultPath returns $XDG_CONFIG_HOME/meshroom/config.yaml or the platform equivalent.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "meshroom", "config.yaml")
}

// ReadFile parses the YAML config at path. A missing default file is not an
// error; a missing explicit file is.
func ReadFile(path string, explicit bool) (*File, error) {
	f := &File{}
	if path == "" {
		return f, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return f, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return f, nil
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Config file
// 4. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	path, explicit := opts.ConfigPath, opts.ConfigPath != ""
	if !explicit {
		path = DefaultPath()
	}
	file, err := ReadFile(path, explicit)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Domain:     pick(opts.Domain, os.Getenv("DOMAIN"), file.Domain, DefaultDomain),
		STUNServer: pick(opts.STUNServer, os.Getenv("STUN_SERVER"), file.STUNServer, DefaultSTUN),
		TURNServer: pick(opts.TURNServer, os.Getenv("TURN_SERVER"), file.TURNServer, ""),
		TURNUser:   pick(opts.TURNUser, os.Getenv("TURN_USERNAME"), file.TURNUser, ""),
		TURNPass:   pick(opts.TURNPass, os.Getenv("TURN_PASSWORD"), file.TURNPass, ""),

		ReconnectAttempts: DefaultReconnectAttempts,
		ReconnectBackoff:  DefaultReconnectBackoff,
	}

	// Insecure: CLI flag > env > file > false
	switch {
	case opts.Insecure:
		cfg.Insecure = true
	case os.Getenv("MESHROOM_INSECURE") != "":
		v, err := strconv.ParseBool(os.Getenv("MESHROOM_INSECURE"))
		if err != nil {
			return nil, fmt.Errorf("invalid MESHROOM_INSECURE: %w", err)
		}
		cfg.Insecure = v
	case file.Insecure != nil:
		cfg.Insecure = *file.Insecure
	}

	cfg.ForceRelay = opts.ForceRelay || (file.ForceRelay != nil && *file.ForceRelay)
	if file.LoopbackCandidates != nil {
		cfg.LoopbackCandidates = *file.LoopbackCandidates
	}

	switch {
	case opts.ReconnectAttempts != nil:
		cfg.ReconnectAttempts = *opts.ReconnectAttempts
	case file.ReconnectAttempts != nil:
		cfg.ReconnectAttempts = *file.ReconnectAttempts
	}
	if cfg.ReconnectAttempts < 0 {
		return nil, fmt.Errorf("reconnect attempts must not be negative, got %d", cfg.ReconnectAttempts)
	}

	switch {
	case opts.ReconnectBackoff > 0:
		cfg.ReconnectBackoff = opts.ReconnectBackoff
	case file.ReconnectBackoff != "":
		d, err := time.ParseDuration(file.ReconnectBackoff)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid reconnect_backoff %q", file.ReconnectBackoff)
		}
		cfg.ReconnectBackoff = d
	}

	if cfg.ForceRelay && cfg.TURNServer == "" {
		return nil, errors.New("force relay needs a TURN server")
	}

	wsScheme, httpScheme := "wss", "https"
	if cfg.Insecure {
		wsScheme, httpScheme = "ws", "http"
	}
	cfg.WebSocketURL = fmt.Sprintf("%s://%s/ws", wsScheme, cfg.Domain)
	cfg.APIURL = fmt.Sprintf("%s://%s", httpScheme, cfg.Domain)

	return cfg, nil
}

// pick returns the first non-empty value.
func pick(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// ListenAddr returns the relay listen address: flag > RELAY_ADDR > default.
func ListenAddr(flag string) string {
	return pick(flag, os.Getenv("RELAY_ADDR"), DefaultRelayAddr)
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	host := strings.TrimPrefix(strings.TrimPrefix(c.TURNServer, "turns:"), "turn:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

// RTC returns the peer connection settings.
func (c *Config) RTC() rtc.Config {
	user, pass := c.GetTURNCredentials()
	return rtc.Config{
		STUNServers:     c.GetSTUNServers(),
		TURNServers:     c.GetTURNServers(),
		TURNUsername:    user,
		TURNPassword:    pass,
		ForceRelay:      c.ForceRelay,
		DetectRelay:     true,
		IncludeLoopback: c.LoopbackCandidates,
	}
}
