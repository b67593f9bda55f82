package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"tank-inventory-relay/internal/logger"
)

// UDPProber broadcasts the discovery query from one candidate and collects replies.
type UDPProber struct {
	Port    int
	Timeout time.Duration
	Payload []byte
	Layout  Layout

	now func() time.Time
	log logger.Logger
}

// NewUDPProber creates a prober using the standard query payload.
func NewUDPProber(port int, timeout time.Duration, layout Layout, log logger.Logger) *UDPProber {
	return &UDPProber{
		Port:    port,
		Timeout: timeout,
		Payload: DefaultProbe,
		Layout:  layout,
		now:     time.Now,
		log:     log,
	}
}

// Probe sends one query and returns every valid reply received before the
// window closes. Socket errors are returned; malformed replies are dropped.
func (p *UDPProber) Probe(ctx context.Context, c Candidate) ([]Device, error) {
	lc := net.ListenConfig{Control: setBroadcast}

	conn, err := lc.ListenPacket(ctx, "udp4", netip.AddrPortFrom(c.Source, 0).String())
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", c.Source, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(p.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	// Cancellation cuts the window short.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	dst := net.UDPAddrFromAddrPort(netip.AddrPortFrom(c.Broadcast, uint16(p.Port)))
	if _, err := conn.WriteTo(p.Payload, dst); err != nil {
		return nil, fmt.Errorf("send to %s: %w", dst, err)
	}
	p.log.Debug().Str("source", c.Source.String()).Str("broadcast", dst.String()).Msg("sent discovery probe")

	var devices []Device
	buf := make([]byte, 1024)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				break
			}
			if errors.Is(err, net.ErrClosed) || time.Now().After(deadline) {
				break
			}
			p.log.Debug().Err(err).Msg("error receiving discovery reply")
			continue
		}

		src, ok := senderAddr(from)
		if !ok {
			continue
		}

		dev, err := p.Layout.Decode(buf[:n], src, p.now())
		if err != nil {
			p.log.Debug().Err(err).Str("from", src.String()).Msg("discarding discovery reply")
			continue
		}

		p.log.Info().Str("mac", dev.MAC).Str("ip", dev.IP.String()).Msg("gateway replied")
		devices = append(devices, dev)
	}

	return devices, nil
}

func senderAddr(a net.Addr) (netip.Addr, bool) {
	ua, ok := a.(*net.UDPAddr)
	if !ok {
		return netip.Addr{}, false
	}
	ap := ua.AddrPort()
	return ap.Addr().Unmap(), ap.Addr().IsValid()
}
