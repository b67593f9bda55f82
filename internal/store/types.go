package store

import (
	"tank-inventory-relay/internal/discovery"
	"tank-inventory-relay/internal/model"
)

// gatewayFromDevice maps a reconciled discovery device onto its table row.
func gatewayFromDevice(d discovery.Device) model.Gateway {
	return model.Gateway{
		MAC:        d.MAC,
		IP:         d.IP.String(),
		DeviceType: d.DeviceType,
		Firmware:   d.Firmware,
		Status:     d.Status,
		FirstSeen:  d.FirstSeen,
		LastSeen:   d.LastSeen,
	}
}
