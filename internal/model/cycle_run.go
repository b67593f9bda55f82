package model

import (
	"time"

	"github.com/google/uuid"
)

// CycleRun records the outcome of one collection cycle. Readings themselves
// are never stored; the aggregator owns them.
type CycleRun struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	StartedAt  time.Time `gorm:"not null;index;primaryKey"`
	Status     string    `gorm:"size:32;not null;index"`
	Gateway    string    `gorm:"size:45"`
	Readings   int       `gorm:"not null"`
	Error      string    `gorm:"size:1024"`
	DurationMS int64     `gorm:"not null"`
}
