package api

import (
	"context"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/patrickmn/go-cache"

	"tank-inventory-relay/internal/collector"
	"tank-inventory-relay/internal/discovery"
	"tank-inventory-relay/internal/logger"
	"tank-inventory-relay/internal/store"
	"tank-inventory-relay/internal/telemetry"
)

// Scanner runs one discovery pass.
type Scanner interface {
	Discover(ctx context.Context) (discovery.Result, error)
}

// GatewayTester polls one address outside the collection cycle.
type GatewayTester interface {
	TestGateway(ctx context.Context, address string) ([]telemetry.Reading, error)
}

// StatusSource reports the collector's most recent cycle.
type StatusSource interface {
	Last() (collector.Outcome, bool)
}

// Deps are the collaborators the handlers use. Store and Webpush may be nil.
type Deps struct {
	StoreName string
	Store     store.Store
	Webpush   *webpush.Options
	Scanner   Scanner
	// Dialer checks whether each scanned gateway accepts connections on TunnelPort.
	Dialer     telemetry.Dialer
	TunnelPort int
	Tester     GatewayTester
	Status     StatusSource
	ScanTTL    time.Duration
	Log        logger.Logger
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	storeName  string
	store      store.Store
	webpush    *webpush.Options
	scanner    Scanner
	dialer     telemetry.Dialer
	tunnelPort int
	tester     GatewayTester
	status     StatusSource
	scans      *cache.Cache
	scanTTL    time.Duration
	log        logger.Logger
}

// NewHandler creates a new API handler.
func NewHandler(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = logger.Get()
	}
	return &Handler{
		storeName:  d.StoreName,
		store:      d.Store,
		webpush:    d.Webpush,
		scanner:    d.Scanner,
		dialer:     d.Dialer,
		tunnelPort: d.TunnelPort,
		tester:     d.Tester,
		status:     d.Status,
		scans:      cache.New(d.ScanTTL, 2*d.ScanTTL),
		scanTTL:    d.ScanTTL,
		log:        log.WithComponent("api"),
	}
}
