package collector

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tank-inventory-relay/config"
	"tank-inventory-relay/internal/telemetry"
)

func defaults() config.NormalizeConfig {
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	return cfg.Normalize
}

func ptr(f float64) *float64 { return &f }

func TestNormalize(t *testing.T) {
	at := time.Date(2024, 5, 1, 14, 30, 0, 0, time.FixedZone("CDT", -5*3600))

	testCases := []struct {
		name     string
		readings []telemetry.Reading
		expected []Tank
	}{
		{
			name:     "Recomputes derived volumes",
			readings: []telemetry.Reading{{TankID: "01", Product: "UNLEADED", Volume: 500, TCVolume: 498, Ullage: 1, Height: ptr(20), Water: ptr(0.25), Temp: ptr(61.5)}},
			expected: []Tank{{TankID: "01", Product: "UNLEADED", Volume: 500, TCVolume: 463, Ullage: 9500, Height: 20, Water: 0.25, Temp: 61.5, Capacity: 10000}},
		},
		{
			name:     "Fills absent measurements",
			readings: []telemetry.Reading{{TankID: "02", Product: "DIESEL", Volume: 4000}},
			expected: []Tank{{TankID: "02", Product: "DIESEL", Volume: 4000, TCVolume: 3963, Ullage: 6000, Height: 45, Water: 0, Temp: 70, Capacity: 10000}},
		},
		{
			name: "First duplicate wins",
			readings: []telemetry.Reading{
				{TankID: "03", Product: "PREMIUM", Volume: 100},
				{TankID: "04", Product: "DIESEL", Volume: 200},
				{TankID: "03", Product: "PREMIUM", Volume: 999},
			},
			expected: []Tank{
				{TankID: "03", Product: "PREMIUM", Volume: 100, TCVolume: 63, Ullage: 9900, Height: 45, Temp: 70, Capacity: 10000},
				{TankID: "04", Product: "DIESEL", Volume: 200, TCVolume: 163, Ullage: 9800, Height: 45, Temp: 70, Capacity: 10000},
			},
		},
		{
			name:     "No readings",
			readings: nil,
			expected: []Tank{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			batch := Normalize("Store 42", tc.readings, defaults(), at)

			assert.Equal(t, "Store 42", batch.StoreName)
			assert.Equal(t, time.UTC, batch.Timestamp.Location())
			assert.True(t, batch.Timestamp.Equal(at))

			for i := range tc.expected {
				tc.expected[i].Timestamp = batch.Timestamp
			}
			assert.Equal(t, tc.expected, batch.Tanks)
		})
	}
}

func TestBatch_JSON(t *testing.T) {
	at := time.Date(2024, 5, 1, 19, 30, 0, 0, time.UTC)
	batch := Normalize("Store 42", []telemetry.Reading{{TankID: "01", Product: "UNLEADED", Volume: 500}}, defaults(), at)

	body, err := json.Marshal(batch)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"store_name": "Store 42",
		"timestamp": "2024-05-01T19:30:00Z",
		"tanks": [{
			"tank_id": "01", "product": "UNLEADED", "volume": 500, "tc_volume": 463,
			"ullage": 9500, "height": 45, "water": 0, "temp": 70, "capacity": 10000,
			"timestamp": "2024-05-01T19:30:00Z"
		}]
	}`, string(body))
}
