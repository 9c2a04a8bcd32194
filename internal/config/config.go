package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

// Default configuration values
const (
	DefaultServer       = "ws://localhost:8080/ws"
	DefaultMessageEvent = "one-to-one-demo"
	DefaultListen       = ":8080"
)

// DefaultSTUNServers are handed to the media engine with the room parameters.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
	"stun:stun3.l.google.com:19302",
}

// Config holds application configuration
type Config struct {
	// Server is the signaling websocket URL
	Server string

	// MessageEvent names the event peer envelopes travel on
	MessageEvent string

	// Listen is the relay server's listen address
	Listen string

	// ICE servers for WebRTC
	STUNServers []string
	TURNServer  string
	TURNUser    string
	TURNPass    string

	ForceRelay bool
}

// Options for loading config with CLI flag overrides
type Options struct {
	Server       string
	MessageEvent string
	Listen       string
	STUNServer   string
	TURNServer   string
	TURNUser     string
	TURNPass     string
	ForceRelay   bool
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	server := pick(opts.Server, "DUET_SERVER", DefaultServer)
	u, err := url.Parse(server)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", server)
	}

	stun := DefaultSTUNServers
	if s := pick(opts.STUNServer, "STUN_SERVER", ""); s != "" {
		stun = splitList(s)
	}

	return &Config{
		Server:       server,
		MessageEvent: pick(opts.MessageEvent, "DUET_MESSAGE_EVENT", DefaultMessageEvent),
		Listen:       pick(opts.Listen, "DUET_LISTEN", DefaultListen),
		STUNServers:  stun,
		TURNServer:   pick(opts.TURNServer, "TURN_SERVER", ""),
		TURNUser:     pick(opts.TURNUser, "TURN_USERNAME", ""),
		TURNPass:     pick(opts.TURNPass, "TURN_PASSWORD", ""),
		ForceRelay:   opts.ForceRelay,
	}, nil
}

// pick returns flag, else the environment variable, else def.
func pick(flag, env, def string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ICEServers returns the STUN server URLs passed along with the room
// parameters.
func (c *Config) ICEServers() []string {
	return append([]string(nil), c.STUNServers...)
}

// GetTURNServers returns TURN server URLs if configured. A bare host
// expands to the usual UDP, TCP and TLS endpoints.
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	if strings.HasPrefix(c.TURNServer, "turn:") || strings.HasPrefix(c.TURNServer, "turns:") {
		return []string{c.TURNServer}
	}
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", c.TURNServer),
		fmt.Sprintf("turn:%s:3478?transport=tcp", c.TURNServer),
		fmt.Sprintf("turns:%s:5349?transport=tcp", c.TURNServer),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

// ServerQuery returns the query the transport attaches to the server URL.
func (c *Config) ServerQuery(clientID string) url.Values {
	return url.Values{
		"userid":   {clientID},
		"msgEvent": {c.MessageEvent},
	}
}
