package media

import (
	"net"
	"strings"
)

// cgnatBlock is 100.64.0.0/10, used by carrier-grade NAT and by overlay
// VPNs such as Cloudflare WARP and Tailscale.
var cgnatBlock = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

// tunnelHints are interface name fragments of common VPN adapters.
var tunnelHints = []string{"tun", "tap", "wg", "ppp", "warp", "utun"}

// netInterface is the part of net.Interface the relay heuristic reads.
type netInterface struct {
	name  string
	flags net.Flags
	addrs []net.Addr
}

func systemInterfaces() []netInterface {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	out := make([]netInterface, 0, len(ifaces))
	for _, iface := range ifaces {
		addrs, _ := iface.Addrs()
		out = append(out, netInterface{name: iface.Name, flags: iface.Flags, addrs: addrs})
	}
	return out
}

// restrictiveNetwork reports whether the host looks like it sits behind a
// VPN or CGNAT, where direct paths usually fail and TURN should be forced.
func restrictiveNetwork(ifaces []netInterface) bool {
	for _, iface := range ifaces {
		if iface.flags&net.FlagUp == 0 || iface.flags&net.FlagLoopback != 0 {
			continue
		}

		name := strings.ToLower(iface.name)
		for _, hint := range tunnelHints {
			if strings.Contains(name, hint) {
				return true
			}
		}

		for _, addr := range iface.addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip != nil && cgnatBlock.Contains(ip) {
				return true
			}
		}
	}
	return false
}
