package discovery

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"tank-inventory-relay/config"
)

var (
	// ErrDiscoveryImpossible means no local interface address could be determined,
	// so there is nothing to probe from. It is distinct from finding zero devices.
	ErrDiscoveryImpossible = errors.New("no local interface address available for discovery")
	errShortReply          = errors.New("discovery reply too short")
	errFieldOutOfRange     = errors.New("layout field outside reply")
)

// DefaultProbe is the 4-byte query that gateways answer on the discovery port.
var DefaultProbe = []byte{0x00, 0x00, 0x00, 0xF8}

// Candidate is one (source address, broadcast address) pair to probe.
type Candidate struct {
	Source    netip.Addr `json:"source"`
	Broadcast netip.Addr `json:"broadcast"`
	Network   string     `json:"network"`
}

func (c Candidate) String() string {
	return fmt.Sprintf("%s->%s (%s)", c.Source, c.Broadcast, c.Network)
}

// Device is one gateway sighting, or after reconciliation one gateway.
type Device struct {
	MAC        string     `json:"mac"`
	IP         netip.Addr `json:"ip"`
	DeviceType string     `json:"device_type"`
	Firmware   string     `json:"firmware"`
	Status     string     `json:"status"`
	Raw        []byte     `json:"raw"`
	FirstSeen  time.Time  `json:"first_seen"`
	LastSeen   time.Time  `json:"last_seen"`
}

// Result is the outcome of one discovery run. It is owned by the caller.
type Result struct {
	Candidates []Candidate   `json:"candidates"`
	Failed     []Candidate   `json:"failed"`
	Local      []netip.Addr  `json:"local"`
	Sightings  int           `json:"sightings"`
	Devices    []Device      `json:"devices"`
	Duration   time.Duration `json:"duration"`
}

// Layout locates the fields of a discovery reply. Ranges are half-open.
type Layout struct {
	MinLength int
	MAC       [2]int
	Type      [2]int
	Firmware  [2]int
	Status    [2]int
}

// LayoutFromConfig converts the configured offsets.
func LayoutFromConfig(c config.LayoutConfig) Layout {
	return Layout{
		MinLength: c.MinLength,
		MAC:       c.MAC,
		Type:      c.Type,
		Firmware:  c.Firmware,
		Status:    c.Status,
	}
}

// Decode turns one reply datagram into a Device sighting.
func (l Layout) Decode(data []byte, from netip.Addr, seen time.Time) (Device, error) {
	if len(data) < l.MinLength {
		return Device{}, fmt.Errorf("%w: %d bytes", errShortReply, len(data))
	}

	mac, err := field(data, l.MAC)
	if err != nil {
		return Device{}, fmt.Errorf("mac: %w", err)
	}
	if len(mac) != 6 {
		return Device{}, fmt.Errorf("mac: want 6 bytes, layout gives %d", len(mac))
	}

	var meta [3]string
	for i, r := range [][2]int{l.Type, l.Firmware, l.Status} {
		b, err := field(data, r)
		if err != nil {
			return Device{}, err
		}
		meta[i] = fmt.Sprintf("%x", b)
	}

	raw := make([]byte, len(data))
	copy(raw, data)

	return Device{
		MAC:        net.HardwareAddr(mac).String(),
		IP:         from,
		DeviceType: meta[0],
		Firmware:   meta[1],
		Status:     meta[2],
		Raw:        raw,
		FirstSeen:  seen,
		LastSeen:   seen,
	}, nil
}

func field(data []byte, r [2]int) ([]byte, error) {
	if r[0] < 0 || r[1] < r[0] || r[1] > len(data) {
		return nil, fmt.Errorf("%w: [%d:%d] of %d", errFieldOutOfRange, r[0], r[1], len(data))
	}
	return data[r[0]:r[1]], nil
}
