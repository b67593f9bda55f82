package telemetry

import (
	"context"
	"errors"

	"tank-inventory-relay/internal/logger"
	"tank-inventory-relay/internal/parse"
)

// Reading is one tank's inventory as reported by the gauge.
// Height, Water and Temp are nil when the gauge did not report them.
type Reading struct {
	TankID   string
	Product  string
	Volume   int
	TCVolume int
	Ullage   int
	Height   *float64
	Water    *float64
	Temp     *float64
}

// Client queries each tank sensor in turn over one session.
type Client struct {
	prefix string
	first  int
	last   int
	log    logger.Logger
}

// NewClient creates a client for sensors first..last inclusive.
func NewClient(prefix string, first, last int, log logger.Logger) *Client {
	return &Client{
		prefix: prefix,
		first:  first,
		last:   last,
		log:    log.WithComponent("telemetry"),
	}
}

// Command returns the inventory query for one sensor.
func (c *Client) Command(sensor int) string {
	return c.prefix + parse.TankID(sensor)
}

// Poll queries every sensor in the range, one at a time. A failed or
// unparseable sensor is logged and skipped; Poll returns whatever parsed.
func (c *Client) Poll(ctx context.Context, gateway string, sess Session) []Reading {
	var readings []Reading

	for sensor := c.first; sensor <= c.last; sensor++ {
		if ctx.Err() != nil {
			c.log.Warn().Err(ctx.Err()).Str("gateway", gateway).Msg("polling interrupted")
			break
		}

		cmd := c.Command(sensor)
		c.log.Debug().Str("gateway", gateway).Str("command", cmd).Msg("querying sensor")

		resp, err := sess.Execute(ctx, cmd)
		if err != nil {
			c.log.Warn().Err(err).Str("gateway", gateway).Str("tank_id", parse.TankID(sensor)).Msg("sensor query failed")
			continue
		}

		report, err := parse.ParseTankReport(resp)
		if err != nil {
			ev := c.log.Warn().Str("gateway", gateway).Str("tank_id", parse.TankID(sensor))
			if errors.Is(err, parse.ErrNoInventoryLine) {
				ev.Int("response_bytes", len(resp)).Msg("no inventory line in sensor response")
			} else {
				ev.Err(err).Msg("malformed inventory line")
			}
			continue
		}

		r := fromReport(report)
		c.log.Info().
			Str("tank_id", r.TankID).
			Str("product", r.Product).
			Int("volume", r.Volume).
			Msg("tank reading parsed")
		readings = append(readings, r)
	}

	return readings
}

func fromReport(r parse.TankReport) Reading {
	height, water, temp := r.Height, r.Water, r.Temp
	return Reading{
		TankID:   parse.TankID(r.Tank),
		Product:  r.Product,
		Volume:   r.Volume,
		TCVolume: r.TCVolume,
		Ullage:   r.Ullage,
		Height:   &height,
		Water:    &water,
		Temp:     &temp,
	}
}
