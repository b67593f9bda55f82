package discovery

import (
	"fmt"
	"net/netip"
)

// NoGatewayChecklist is reported when a discovery run finds nothing.
var NoGatewayChecklist = []string{
	"Verify the gateway is powered on",
	"Check that the network cables are connected",
	"Try ARP recovery if the gateway was factory reset",
	"Check whether the gateway is on a different subnet",
}

// SameSubnet reports whether two IPv4 addresses share a /24.
func SameSubnet(a, b netip.Addr) bool {
	if !a.Is4() || !b.Is4() {
		return false
	}
	pa, _ := a.Prefix(24)
	pb, _ := b.Prefix(24)
	return pa == pb
}

// Reachable reports whether the gateway shares a /24 with any local address.
func Reachable(gateway netip.Addr, local []netip.Addr) bool {
	for _, l := range local {
		if SameSubnet(gateway, l) {
			return true
		}
	}
	return false
}

// Suggestions describes how to bring the host and the gateway onto one /24.
// It returns nil when they already share one.
func Suggestions(local, gateway netip.Addr) []string {
	if !local.Is4() || !gateway.Is4() || SameSubnet(local, gateway) {
		return nil
	}

	localNet, _ := local.Prefix(24)
	gatewayNet, _ := gateway.Prefix(24)

	return []string{
		"Subnet mismatch detected",
		fmt.Sprintf("Host is on %s", localNet),
		fmt.Sprintf("Gateway is on %s", gatewayNet),
		"Option 1: move the host onto the gateway subnet",
		fmt.Sprintf("  set the host address to e.g. %s", nthHost(gatewayNet, 50)),
		"Option 2: move the gateway onto the host subnet",
		fmt.Sprintf("  set the gateway address to e.g. %s", nthHost(localNet, 100)),
		"Option 1 is usually easier",
	}
}

func nthHost(p netip.Prefix, n int) netip.Addr {
	a := p.Masked().Addr().As4()
	a[3] = byte(n)
	return netip.AddrFrom4(a)
}
