package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/BioHazard786/duet/internal/config"
	"github.com/BioHazard786/duet/internal/media"
	"github.com/BioHazard786/duet/internal/signaling"
	"github.com/BioHazard786/duet/internal/transport"
	"github.com/BioHazard786/duet/internal/version"
)

const (
	// connectTimeout bounds how long the first server connection may take.
	connectTimeout = 15 * time.Second
	// leaveTimeout bounds how long Close waits for the room to be left.
	leaveTimeout = 2 * time.Second
)

var (
	ErrUnreachable = errors.New("signaling server unreachable")
	ErrNoTURN      = errors.New("cannot force relay mode without TURN server configured")
)

// Observer receives session progress.
type Observer interface {
	SetState(signaling.State)
	SetRole(signaling.Role)
}

// Session ties a signaling client to a media engine for one room.
type Session struct {
	Config  *config.Config
	Client  *signaling.Client
	Engine  *media.Engine
	Started time.Time
}

// NewSession wires the transport, signaling client and media engine. The
// handshake starts with Start.
func NewSession(cfg *config.Config, room string, obs Observer) (*Session, error) {
	logger := slog.Default()
	clientID := signaling.NewClientID()

	turnUser, turnPass := cfg.GetTURNCredentials()
	engine := media.NewEngine(media.Options{
		TURNServers:  cfg.GetTURNServers(),
		TURNUsername: turnUser,
		TURNPassword: turnPass,
		ForceRelay:   cfg.ForceRelay,
		Hello: media.Hello{
			DeviceName:    deviceName(),
			DeviceVersion: version.Version,
			ClientID:      clientID,
		},
		Logger: logger,
	})

	var client *signaling.Client
	client, err := signaling.NewClient(signaling.ClientConfig{
		RoomID:       room,
		MessageEvent: cfg.MessageEvent,
		ClientID:     clientID,
		ICEServers:   cfg.ICEServers(),
		Logger:       logger,
		OnStateChange: func(s signaling.State) {
			obs.SetState(s)
			if s == signaling.StatePresenceChecked {
				obs.SetRole(client.Role())
			}
		},
	}, func(id string) (signaling.Channel, error) {
		return transport.New(cfg.Server, cfg.ServerQuery(id), logger)
	}, engine)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	engine.Bind(client)

	return &Session{
		Config: cfg,
		Client: client,
		Engine: engine,
	}, nil
}

// Start begins the room handshake.
func (s *Session) Start() {
	s.Started = time.Now()
	s.Client.ConnectToRoom()
}

// Unreachable fires when the client is still connecting after connectTimeout.
func (s *Session) Unreachable() <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		select {
		case <-time.After(connectTimeout):
			if s.Client.State() == signaling.StateConnecting {
				close(ch)
			}
		case <-s.Client.Done():
		}
	}()
	return ch
}

// Close ends the media session and leaves the room, waiting up to
// leaveTimeout for the signaling client to stop.
func (s *Session) Close() error {
	err := s.Engine.Close()
	s.Client.Disconnect()
	select {
	case <-s.Client.Done():
	case <-time.After(leaveTimeout):
		slog.Warn("signaling client did not stop in time", "room", s.Client.RoomID())
	}
	return err
}

func LoadConfig(opts config.Options) (*config.Config, error) {
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cfg.ForceRelay && cfg.GetTURNServers() == nil {
		return nil, ErrNoTURN
	}

	return cfg, nil
}

func deviceName() string {
	if name, err := os.Hostname(); err == nil && name != "" {
		return name
	}
	return "duet-cli"
}
