// Package discovery advertises and finds duet relay servers on the local
// network over mDNS.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	Service = "_duet._tcp"
	Domain  = "local."

	// DefaultBrowseTimeout bounds Find when ctx carries no deadline.
	DefaultBrowseTimeout = 3 * time.Second
)

var ErrNotFound = errors.New("no relay server found on the local network")

// Registrar publishes a service instance. *zeroconf.Server satisfies the
// returned shutdowner.
type Registrar interface {
	Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (interface{ Shutdown() }, error)
}

// Browser lists service instances until ctx is done. The implementation
// closes entries when it returns.
type Browser interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

type zeroconfRegistrar struct{}

func (zeroconfRegistrar) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (interface{ Shutdown() }, error) {
	return zeroconf.Register(instance, service, domain, port, txt, ifaces)
}

// Advertisement is a running mDNS registration.
type Advertisement struct {
	server interface{ Shutdown() }
	log    *slog.Logger
}

// Advertise announces a relay listening on port. path is the websocket
// endpoint, published in the TXT record.
func Advertise(instance string, port int, path string, logger *slog.Logger) (*Advertisement, error) {
	return advertise(zeroconfRegistrar{}, instance, port, path, logger)
}

func advertise(r Registrar, instance string, port int, path string, logger *slog.Logger) (*Advertisement, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("advertise: invalid port %d", port)
	}
	txt := []string{"path=" + path}

	server, err := r.Register(instance, Service, Domain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("advertise: mDNS registration failed: %w", err)
	}
	log := logger.With("component", "discovery")
	log.Info("relay advertised", "instance", instance, "service", Service, "port", port)
	return &Advertisement{server: server, log: log}, nil
}

// Shutdown withdraws the advertisement.
func (a *Advertisement) Shutdown() {
	a.server.Shutdown()
	a.log.Debug("advertisement withdrawn")
}

// Relay is a discovered relay server.
type Relay struct {
	Instance string
	Port     int
	IPs      []net.IP
	Path     string
}

// URL is the websocket address of the relay, preferring IPv4.
func (r Relay) URL() string {
	ip := r.IPs[0]
	for _, candidate := range r.IPs {
		if candidate.To4() != nil {
			ip = candidate
			break
		}
	}
	path := r.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "ws://" + net.JoinHostPort(ip.String(), strconv.Itoa(r.Port)) + path
}

// Find returns the first relay that answers on the local network.
func Find(ctx context.Context) (*Relay, error) {
	resolver, err := zeroconf.NewResolver()
	if err != nil {
		return nil, fmt.Errorf("discovery: %w", err)
	}
	return find(ctx, resolver)
}

func find(ctx context.Context, b Browser) (*Relay, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultBrowseTimeout)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := b.Browse(ctx, Service, Domain, entries); err != nil {
		return nil, fmt.Errorf("discovery: browse failed: %w", err)
	}

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return nil, ErrNotFound
			}
			if relay, usable := toRelay(entry); usable {
				return relay, nil
			}
		case <-ctx.Done():
			return nil, ErrNotFound
		}
	}
}

func toRelay(e *zeroconf.ServiceEntry) (*Relay, bool) {
	if e == nil || e.Port == 0 {
		return nil, false
	}
	ips := append(append([]net.IP{}, e.AddrIPv4...), e.AddrIPv6...)
	if len(ips) == 0 {
		return nil, false
	}
	relay := &Relay{Instance: e.Instance, Port: e.Port, IPs: ips, Path: "/ws"}
	for _, kv := range e.Text {
		if v, ok := strings.CutPrefix(kv, "path="); ok && v != "" {
			relay.Path = v
		}
	}
	return relay, true
}
