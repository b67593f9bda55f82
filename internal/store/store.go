package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tank-inventory-relay/internal/discovery"
	"tank-inventory-relay/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// Store defines the interface for all database operations.
type Store interface {
	RecordGateways(ctx context.Context, devices []discovery.Device) error
	MarkSelected(ctx context.Context, mac string, at time.Time) error
	LastGateway(ctx context.Context) (model.Gateway, error)
	RecordCycle(ctx context.Context, run model.CycleRun) error
	RecentCycles(ctx context.Context, limit int) ([]model.CycleRun, error)
	SaveSubscription(ctx context.Context, sub model.PushSubscription) error
	Subscription(ctx context.Context, endpoint string) (model.PushSubscription, error)
	Subscriptions(ctx context.Context) ([]model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
	DB() *gorm.DB
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// RecordGateways upserts one row per reconciled device. FirstSeen and
// SelectedAt of existing rows are left untouched.
func (s *gormStore) RecordGateways(ctx context.Context, devices []discovery.Device) error {
	if len(devices) == 0 {
		return nil
	}

	gateways := make([]model.Gateway, 0, len(devices))
	for _, d := range devices {
		gateways = append(gateways, gatewayFromDevice(d))
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "mac"}},
		DoUpdates: clause.AssignmentColumns([]string{"ip", "device_type", "firmware", "status", "last_seen"}),
	}).Create(&gateways).Error
	if err != nil {
		return fmt.Errorf("batch upsert gateways failed: %w", err)
	}
	return nil
}

// MarkSelected stamps the gateway a cycle just polled through.
func (s *gormStore) MarkSelected(ctx context.Context, mac string, at time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&model.Gateway{}).
		Where("mac = ?", mac).
		Update("selected_at", at)
	if res.Error != nil {
		return fmt.Errorf("failed to mark gateway %s selected: %w", mac, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("gateway %s: %w", mac, ErrNotFound)
	}
	return nil
}

// LastGateway returns the most recently selected gateway.
func (s *gormStore) LastGateway(ctx context.Context) (model.Gateway, error) {
	var gw model.Gateway
	err := s.db.WithContext(ctx).
		Where("selected_at IS NOT NULL").
		Order("selected_at DESC").
		First(&gw).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Gateway{}, ErrNotFound
	}
	if err != nil {
		return model.Gateway{}, fmt.Errorf("failed to load last gateway: %w", err)
	}
	return gw, nil
}

func (s *gormStore) RecordCycle(ctx context.Context, run model.CycleRun) error {
	if err := s.db.WithContext(ctx).Create(&run).Error; err != nil {
		return fmt.Errorf("failed to record cycle %s: %w", run.ID, err)
	}
	return nil
}

// RecentCycles returns up to limit cycle runs, newest first.
func (s *gormStore) RecentCycles(ctx context.Context, limit int) ([]model.CycleRun, error) {
	var runs []model.CycleRun
	if err := s.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to load recent cycles: %w", err)
	}
	return runs, nil
}

// SaveSubscription creates the subscription or replaces its keys.
func (s *gormStore) SaveSubscription(ctx context.Context, sub model.PushSubscription) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth"}),
	}).Create(&sub).Error
}

func (s *gormStore) Subscription(ctx context.Context, endpoint string) (model.PushSubscription, error) {
	var sub model.PushSubscription
	err := s.db.WithContext(ctx).First(&sub, "endpoint = ?", endpoint).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.PushSubscription{}, ErrNotFound
	}
	return sub, err
}

func (s *gormStore) Subscriptions(ctx context.Context) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	if err := s.db.WithContext(ctx).Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	return s.db.WithContext(ctx).Delete(&model.PushSubscription{Endpoint: endpoint}).Error
}
