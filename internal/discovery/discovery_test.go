package discovery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

type fakeServer struct{ shutdowns int }

func (s *fakeServer) Shutdown() { s.shutdowns++ }

type fakeRegistrar struct {
	instance, service, domain string
	port                      int
	txt                       []string
	server                    *fakeServer
	err                       error
}

func (r *fakeRegistrar) Register(instance, service, domain string, port int, txt []string, _ []net.Interface) (interface{ Shutdown() }, error) {
	r.instance, r.service, r.domain, r.port, r.txt = instance, service, domain, port, txt
	if r.err != nil {
		return nil, r.err
	}
	r.server = &fakeServer{}
	return r.server, nil
}

// fakeBrowser emits entries then closes the channel, like the resolver
// does when its context ends.
type fakeBrowser struct {
	entries []*zeroconf.ServiceEntry
	hold    bool
	err     error
}

func (b *fakeBrowser) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	if b.err != nil {
		return b.err
	}
	go func() {
		defer close(entries)
		for _, e := range b.entries {
			select {
			case entries <- e:
			case <-ctx.Done():
				return
			}
		}
		if b.hold {
			<-ctx.Done()
		}
	}()
	return nil
}

func entry(instance string, port int, txt []string, ips ...string) *zeroconf.ServiceEntry {
	e := zeroconf.NewServiceEntry(instance, Service, Domain)
	e.Port = port
	e.Text = txt
	for _, s := range ips {
		ip := net.ParseIP(s)
		if ip.To4() != nil {
			e.AddrIPv4 = append(e.AddrIPv4, ip)
		} else {
			e.AddrIPv6 = append(e.AddrIPv6, ip)
		}
	}
	return e
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAdvertise(t *testing.T) {
	r := &fakeRegistrar{}
	ad, err := advertise(r, "duet-relay", 8080, "/ws", discardLogger())
	if err != nil {
		t.Fatalf("advertise() error = %v", err)
	}
	if r.instance != "duet-relay" || r.service != Service || r.domain != Domain || r.port != 8080 {
		t.Errorf("registered %s %s %s %d", r.instance, r.service, r.domain, r.port)
	}
	if len(r.txt) != 1 || r.txt[0] != "path=/ws" {
		t.Errorf("txt = %v", r.txt)
	}
	ad.Shutdown()
	if r.server.shutdowns != 1 {
		t.Errorf("Shutdown() calls = %d, want 1", r.server.shutdowns)
	}

	if _, err := advertise(r, "x", 0, "/ws", discardLogger()); err == nil {
		t.Error("advertise(port 0) error = nil")
	}
	regErr := errors.New("no multicast")
	if _, err := advertise(&fakeRegistrar{err: regErr}, "x", 8080, "/ws", discardLogger()); !errors.Is(err, regErr) {
		t.Errorf("advertise() error = %v, want %v", err, regErr)
	}
}

func TestFind(t *testing.T) {
	tests := []struct {
		name    string
		browser *fakeBrowser
		wantURL string
		wantErr error
	}{
		{
			name:    "first usable entry",
			browser: &fakeBrowser{entries: []*zeroconf.ServiceEntry{entry("a", 0, nil, "10.0.0.1"), entry("b", 9000, []string{"path=/signal"}, "fe80::1", "192.168.1.20")}},
			wantURL: "ws://192.168.1.20:9000/signal",
		},
		{
			name:    "ipv6 only",
			browser: &fakeBrowser{entries: []*zeroconf.ServiceEntry{entry("c", 8080, nil, "fd00::2")}},
			wantURL: "ws://[fd00::2]:8080/ws",
		},
		{
			name:    "entry without addresses",
			browser: &fakeBrowser{entries: []*zeroconf.ServiceEntry{entry("d", 8080, nil)}},
			wantErr: ErrNotFound,
		},
		{
			name:    "nothing before deadline",
			browser: &fakeBrowser{hold: true},
			wantErr: ErrNotFound,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
			defer cancel()

			relay, err := find(ctx, tc.browser)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("find() error = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("find() error = %v", err)
			}
			if got := relay.URL(); got != tc.wantURL {
				t.Errorf("URL() = %q, want %q", got, tc.wantURL)
			}
		})
	}

	browseErr := errors.New("socket")
	if _, err := find(context.Background(), &fakeBrowser{err: browseErr}); !errors.Is(err, browseErr) {
		t.Errorf("find() error = %v, want %v", err, browseErr)
	}
}
