package discovery

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"net/netip"
	"time"

	"tank-inventory-relay/internal/logger"
)

// Enumerator produces the probe candidates for a discovery run.
type Enumerator struct {
	// Interfaces lists local interface addresses. Defaults to net.InterfaceAddrs.
	Interfaces func() ([]net.Addr, error)
	// Egress reports the local address the OS would use to reach the outside world.
	Egress func(ctx context.Context) (netip.Addr, error)
	// Fallbacks are probed in addition to the local /24 networks.
	Fallbacks []netip.Prefix

	log logger.Logger
}

// NewEnumerator builds an Enumerator over the host's interfaces. Unparseable
// fallback networks are logged and skipped.
func NewEnumerator(fallbacks []string, egressTarget string, log logger.Logger) *Enumerator {
	var prefixes []netip.Prefix
	for _, s := range fallbacks {
		p, err := netip.ParsePrefix(s)
		if err != nil || !p.Addr().Is4() {
			log.Warn().Str("network", s).Msg("ignoring invalid fallback network")
			continue
		}
		prefixes = append(prefixes, p.Masked())
	}

	return &Enumerator{
		Interfaces: net.InterfaceAddrs,
		Egress:     egressAddr(egressTarget),
		Fallbacks:  prefixes,
		log:        log,
	}
}

// Candidates returns one candidate per local IPv4 /24 and one per fallback
// network, the latter sourced from the first local address. It returns
// ErrDiscoveryImpossible when no local address is known at all.
func (e *Enumerator) Candidates(ctx context.Context) ([]Candidate, error) {
	locals := e.localAddrs()

	if len(locals) == 0 && e.Egress != nil {
		a, err := e.Egress(ctx)
		switch {
		case err != nil:
			e.log.Warn().Err(err).Msg("egress address lookup failed")
		case a.Is4() && !a.IsLoopback() && !a.IsUnspecified():
			e.log.Info().Str("address", a.String()).Msg("using egress address as discovery source")
			locals = append(locals, a)
		}
	}

	if len(locals) == 0 {
		return nil, ErrDiscoveryImpossible
	}

	var out []Candidate
	seen := make(map[[2]netip.Addr]bool)
	add := func(src netip.Addr, p netip.Prefix) {
		c := Candidate{Source: src, Broadcast: broadcastAddr(p), Network: p.String()}
		key := [2]netip.Addr{c.Source, c.Broadcast}
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, c)
	}

	for _, a := range locals {
		add(a, netip.PrefixFrom(a, 24).Masked())
	}
	for _, p := range e.Fallbacks {
		add(locals[0], p)
	}

	return out, nil
}

func (e *Enumerator) localAddrs() []netip.Addr {
	if e.Interfaces == nil {
		return nil
	}

	addrs, err := e.Interfaces()
	if err != nil {
		e.log.Warn().Err(err).Msg("interface enumeration failed")
		return nil
	}

	var out []netip.Addr
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		a, ok := netip.AddrFromSlice(ipnet.IP.To4())
		if !ok || a.IsLoopback() || a.IsUnspecified() {
			continue
		}
		out = append(out, a)
	}
	return out
}

func egressAddr(target string) func(ctx context.Context) (netip.Addr, error) {
	return func(ctx context.Context) (netip.Addr, error) {
		dialer := &net.Dialer{Timeout: time.Second}

		// UDP connect sends nothing; it only selects a route.
		conn, err := dialer.DialContext(ctx, "udp4", target)
		if err != nil {
			return netip.Addr{}, err
		}
		defer func() {
			_ = conn.Close()
		}()

		local, ok := conn.LocalAddr().(*net.UDPAddr)
		if !ok {
			return netip.Addr{}, errors.New("unexpected local address type")
		}
		a, ok := netip.AddrFromSlice(local.IP.To4())
		if !ok {
			return netip.Addr{}, errors.New("egress address is not IPv4")
		}
		return a, nil
	}
}

// broadcastAddr sets every host bit of an IPv4 prefix.
func broadcastAddr(p netip.Prefix) netip.Addr {
	a := p.Masked().Addr().As4()
	host := uint32((uint64(1) << (32 - p.Bits())) - 1)
	v := binary.BigEndian.Uint32(a[:]) | host
	binary.BigEndian.PutUint32(a[:], v)
	return netip.AddrFrom4(a)
}
