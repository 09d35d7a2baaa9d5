package rtc

import (
	"net"
	"strings"
)

// tunnelHints are interface name fragments of VPN and tunnel adapters.
var tunnelHints = []string{"tun", "tap", "wg", "ppp", "warp"}

// cgnatBlock is 100.64.0.0/10, used by carrier-grade NAT, Tailscale and WARP.
var cgnatBlock = &net.IPNet{
	IP:   net.IPv4(100, 64, 0, 0),
	Mask: net.CIDRMask(10, 32),
}

// ShouldForceRelay reports whether this host looks like it sits behind a VPN
// or CGNAT, where direct paths rarely work and TURN should be forced.
func ShouldForceRelay() bool {
	interfaces, err := net.Interfaces()
	if err != nil {
		return false
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if looksLikeTunnel(iface.Name) {
			return true
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if inCGNAT(addr) {
				return true
			}
		}
	}

	return false
}

func looksLikeTunnel(name string) bool {
	name = strings.ToLower(name)
	for _, hint := range tunnelHints {
		if strings.Contains(name, hint) {
			return true
		}
	}
	return false
}

func inCGNAT(addr net.Addr) bool {
	var ip net.IP
	switch v := addr.(type) {
	case *net.IPNet:
		ip = v.IP
	case *net.IPAddr:
		ip = v.IP
	}
	return ip != nil && cgnatBlock.Contains(ip)
}
