package parse

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// inventoryRe matches one inventory line of an I201 report:
// tank, product, volume, tc volume, ullage, height, water, temp.
// Fields never span lines.
var inventoryRe = regexp.MustCompile(
	`(?m)^[ \t]*(\d+)[ \t]+([A-Z0-9 ]+?)[ \t]+(\d+)[ \t]+(\d+)[ \t]+(\d+)[ \t]+(-?[\d.]+)[ \t]+(-?[\d.]+)[ \t]+(-?[\d.]+)[ \t]*$`,
)

var (
	// ErrNoInventoryLine is returned when a response carries no line matching the inventory grammar.
	ErrNoInventoryLine = errors.New("no inventory line in response")
	// ErrTankOutOfRange is returned when the line reports a tank outside 1..99.
	ErrTankOutOfRange = errors.New("tank number out of range")
)

// TankReport holds the fields of one inventory line as reported by the gauge.
type TankReport struct {
	Tank     int
	Product  string
	Volume   int
	TCVolume int
	Ullage   int
	Height   float64
	Water    float64
	Temp     float64
}

// ParseTankReport extracts the first inventory line found anywhere in a raw response.
// Header, banner and blank lines around it are ignored.
func ParseTankReport(raw string) (TankReport, error) {
	// Gauges terminate lines with CRLF; (?m)$ only anchors before \n.
	s := strings.ReplaceAll(raw, "\r", "")

	m := inventoryRe.FindStringSubmatch(s)
	if m == nil {
		return TankReport{}, ErrNoInventoryLine
	}

	var r TankReport
	var err error

	if r.Tank, err = strconv.Atoi(m[1]); err != nil {
		return TankReport{}, fmt.Errorf("tank %q: %w", m[1], err)
	}
	if r.Tank < 1 || r.Tank > 99 {
		return TankReport{}, fmt.Errorf("%w: %d", ErrTankOutOfRange, r.Tank)
	}
	r.Product = strings.TrimSpace(m[2])

	ints := []*int{&r.Volume, &r.TCVolume, &r.Ullage}
	for i, dst := range ints {
		if *dst, err = strconv.Atoi(m[3+i]); err != nil {
			return TankReport{}, fmt.Errorf("field %d %q: %w", 3+i, m[3+i], err)
		}
	}

	floats := []*float64{&r.Height, &r.Water, &r.Temp}
	for i, dst := range floats {
		if *dst, err = strconv.ParseFloat(m[6+i], 64); err != nil {
			return TankReport{}, fmt.Errorf("field %d %q: %w", 6+i, m[6+i], err)
		}
	}

	return r, nil
}

// TankID renders a tank number the way the command protocol addresses it.
func TankID(n int) string {
	return fmt.Sprintf("%02d", n)
}
