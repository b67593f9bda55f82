package discovery

import (
	"sort"
	"strings"
)

// Reconcile merges sightings into one Device per MAC. The most recent
// sighting supplies the IP, metadata and payload; FirstSeen keeps the earliest
// time. The result is sorted by MAC.
func Reconcile(sightings []Device) []Device {
	byMAC := make(map[string]Device, len(sightings))

	for _, s := range sightings {
		cur, ok := byMAC[s.MAC]
		if !ok {
			byMAC[s.MAC] = s
			continue
		}

		first := cur.FirstSeen
		if s.FirstSeen.Before(first) {
			first = s.FirstSeen
		}
		if !s.LastSeen.Before(cur.LastSeen) {
			cur = s
		}
		cur.FirstSeen = first
		byMAC[s.MAC] = cur
	}

	out := make([]Device, 0, len(byMAC))
	for _, d := range byMAC {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MAC < out[j].MAC })

	return out
}

// Select picks the gateway to poll: the device with the preferred MAC when it
// is present, otherwise the first device of the directory.
func Select(devices []Device, preferredMAC string) (Device, bool) {
	if len(devices) == 0 {
		return Device{}, false
	}

	if preferredMAC != "" {
		want := NormalizeMAC(preferredMAC)
		for _, d := range devices {
			if d.MAC == want {
				return d, true
			}
		}
	}

	return devices[0], true
}

// NormalizeMAC converts a MAC written with dashes or upper case into the
// lowercase colon form used by Device.MAC.
func NormalizeMAC(mac string) string {
	return strings.ToLower(strings.ReplaceAll(mac, "-", ":"))
}
