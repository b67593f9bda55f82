package collector

import (
	"time"

	"tank-inventory-relay/config"
	"tank-inventory-relay/internal/telemetry"
)

// Tank is one tank as the aggregator receives it.
type Tank struct {
	TankID    string    `json:"tank_id"`
	Product   string    `json:"product"`
	Volume    int       `json:"volume"`
	TCVolume  int       `json:"tc_volume"`
	Ullage    int       `json:"ullage"`
	Height    float64   `json:"height"`
	Water     float64   `json:"water"`
	Temp      float64   `json:"temp"`
	Capacity  int       `json:"capacity"`
	Timestamp time.Time `json:"timestamp"`
}

// Batch is the body of one upload.
type Batch struct {
	StoreName string    `json:"store_name"`
	Tanks     []Tank    `json:"tanks"`
	Timestamp time.Time `json:"timestamp"`
}

// Normalize builds the upload batch. Readings with a tank id already in the
// batch are dropped, so the first occurrence wins. TCVolume and Ullage are
// recomputed from Volume with the configured constants, and every tank
// carries the batch timestamp.
func Normalize(storeName string, readings []telemetry.Reading, n config.NormalizeConfig, at time.Time) Batch {
	at = at.UTC()
	batch := Batch{
		StoreName: storeName,
		Tanks:     make([]Tank, 0, len(readings)),
		Timestamp: at,
	}

	seen := make(map[string]bool, len(readings))
	for _, r := range readings {
		if seen[r.TankID] {
			continue
		}
		seen[r.TankID] = true

		batch.Tanks = append(batch.Tanks, Tank{
			TankID:    r.TankID,
			Product:   r.Product,
			Volume:    r.Volume,
			TCVolume:  r.Volume - n.TCVolumeOffset,
			Ullage:    n.Capacity - r.Volume,
			Height:    orDefault(r.Height, n.DefaultHeight),
			Water:     orDefault(r.Water, n.DefaultWater),
			Temp:      orDefault(r.Temp, n.DefaultTemp),
			Capacity:  n.Capacity,
			Timestamp: at,
		})
	}
	return batch
}

func orDefault(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}
