package model

import "time"

// Gateway is a serial-to-network gateway seen by discovery, keyed by MAC.
type Gateway struct {
	MAC        string     `gorm:"primaryKey;size:17"`
	IP         string     `gorm:"size:45;not null"`
	DeviceType string     `gorm:"size:16"`
	Firmware   string     `gorm:"size:16"`
	Status     string     `gorm:"size:16"`
	FirstSeen  time.Time  `gorm:"not null"`
	LastSeen   time.Time  `gorm:"not null;index"`
	SelectedAt *time.Time `gorm:"index"` // Last time a cycle polled through this gateway
}
