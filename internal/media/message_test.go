package media

import (
	"net"
	"testing"
)

func TestHelloFrame(t *testing.T) {
	want := Hello{DeviceName: "laptop", DeviceVersion: "dev", ClientID: "abc"}
	msg, err := NewMessage(MessageTypeHello, want)
	if err != nil {
		t.Fatalf("NewMessage() error = %v", err)
	}
	data, err := msg.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	parsed, err := ParseMessage(data)
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	if parsed.Type != MessageTypeHello {
		t.Fatalf("Type = %q, want %q", parsed.Type, MessageTypeHello)
	}
	var got Hello
	if err := parsed.DecodePayload(&got); err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	if got != want {
		t.Errorf("hello = %+v, want %+v", got, want)
	}
}

func TestParseMessage(t *testing.T) {
	bye, _ := NewMessage(MessageTypeBye, nil)
	data, _ := bye.Marshal()
	msg, err := ParseMessage(data)
	if err != nil || msg.Type != MessageTypeBye || len(msg.Payload) != 0 {
		t.Errorf("ParseMessage(bye) = %+v, %v", msg, err)
	}
	if _, err := ParseMessage([]byte{0xc1}); err == nil {
		t.Error("garbage: expected error")
	}
}

func TestRestrictiveNetwork(t *testing.T) {
	lan := &net.IPNet{IP: net.IPv4(192, 168, 1, 10), Mask: net.CIDRMask(24, 32)}
	cgnat := &net.IPNet{IP: net.IPv4(100, 96, 0, 4), Mask: net.CIDRMask(10, 32)}

	tests := []struct {
		name   string
		ifaces []netInterface
		want   bool
	}{
		{"none", nil, false},
		{"lan", []netInterface{{name: "eth0", flags: net.FlagUp, addrs: []net.Addr{lan}}}, false},
		{"wireguard", []netInterface{{name: "wg0", flags: net.FlagUp}}, true},
		{"down tunnel", []netInterface{{name: "tun0"}}, false},
		{"cgnat", []netInterface{{name: "eth0", flags: net.FlagUp, addrs: []net.Addr{cgnat}}}, true},
		{"loopback", []netInterface{{name: "lo", flags: net.FlagUp | net.FlagLoopback, addrs: []net.Addr{cgnat}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := restrictiveNetwork(tt.ifaces); got != tt.want {
				t.Errorf("restrictiveNetwork() = %v, want %v", got, tt.want)
			}
		})
	}
}
