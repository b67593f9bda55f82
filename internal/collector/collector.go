package collector

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"tank-inventory-relay/config"
	"tank-inventory-relay/internal/discovery"
	"tank-inventory-relay/internal/logger"
	"tank-inventory-relay/internal/metrics"
	"tank-inventory-relay/internal/model"
	"tank-inventory-relay/internal/notification"
	"tank-inventory-relay/internal/store"
	"tank-inventory-relay/internal/telemetry"
)

var (
	// ErrNoGateway means discovery ran but found no gateway to poll.
	ErrNoGateway = errors.New("no gateway found")
	// ErrGatewayUnreachable means a gateway address was known but could not be dialed.
	ErrGatewayUnreachable = errors.New("gateway unreachable")
	// ErrGaugeBusy means the gauge is already being queried.
	ErrGaugeBusy = errors.New("gauge is busy")
)

// Status classifies the outcome of one cycle.
type Status string

const (
	StatusOK                  Status = "ok"
	StatusNoGateway           Status = "no_gateway"
	StatusDiscoveryImpossible Status = "discovery_impossible"
	StatusGatewayUnreachable  Status = "gateway_unreachable"
	StatusUploadFailed        Status = "upload_failed"
	StatusPanic               Status = "panic"
)

// Outcome is the result of one collection cycle.
type Outcome struct {
	ID        uuid.UUID     `json:"id"`
	Status    Status        `json:"status"`
	Gateway   string        `json:"gateway,omitempty"`
	Readings  int           `json:"readings"`
	Err       error         `json:"-"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// OK reports whether the batch was delivered.
func (o Outcome) OK() bool {
	return o.Status == StatusOK
}

// Discoverer finds gateways on the local networks.
type Discoverer interface {
	Discover(ctx context.Context) (discovery.Result, error)
}

// Poller reads every configured tank over an open session.
type Poller interface {
	Poll(ctx context.Context, gateway string, sess telemetry.Session) []telemetry.Reading
}

// Alerter receives operator alerts.
type Alerter interface {
	Dispatch(alert notification.Alert)
}

// Service runs the discover, poll, normalize and upload cycle.
type Service struct {
	cfg        *config.Config
	store      store.Store // nil when no database is configured
	discoverer Discoverer
	dialer     telemetry.Dialer
	poller     Poller
	uploader   *Uploader
	alerts     Alerter // nil when push is not configured
	metrics    *metrics.Metrics
	log        logger.Logger
	now        func() time.Time

	// cached is the gateway address that worked last cycle. Only the
	// cycle goroutine touches it.
	cached string

	// gauge serializes every conversation with the tank gauge. The serial
	// line behind the gateway carries one command at a time.
	gauge sync.Mutex

	mu   sync.RWMutex
	last *Outcome
}

// NewService creates and initializes a new collector service.
func NewService(
	cfg *config.Config,
	st store.Store,
	discoverer Discoverer,
	dialer telemetry.Dialer,
	poller Poller,
	alerts Alerter,
	m *metrics.Metrics,
	log logger.Logger,
) *Service {
	log = log.WithComponent("collector")
	return &Service{
		cfg:        cfg,
		store:      st,
		discoverer: discoverer,
		dialer:     dialer,
		poller:     poller,
		uploader:   NewUploader(&cfg.Collector, log),
		alerts:     alerts,
		metrics:    m,
		log:        log,
		now:        time.Now,
	}
}

// Run runs a cycle immediately and then once per interval until ctx is done.
func (s *Service) Run(ctx context.Context) {
	s.log.Info().
		Str("store", s.cfg.Store.Name).
		Dur("interval", s.cfg.Collector.Interval).
		Msg("starting collector service")

	s.CollectOnce(ctx)

	timer := time.NewTimer(s.cfg.Collector.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("collector service shutting down")
			return
		case <-timer.C:
			s.CollectOnce(ctx)
			timer.Reset(s.cfg.Collector.Interval)
		}
	}
}

// Last returns the most recent outcome, if any cycle has finished.
func (s *Service) Last() (Outcome, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return Outcome{}, false
	}
	return *s.last, true
}

// CollectOnce performs a single cycle. A panic anywhere in the cycle is
// recovered here and reported as a StatusPanic outcome.
func (s *Service) CollectOnce(ctx context.Context) (out Outcome) {
	start := s.now()
	id := uuid.New()

	defer func() {
		if r := recover(); r != nil {
			s.log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("collection cycle panicked")
			out = Outcome{ID: id, Status: StatusPanic, Err: fmt.Errorf("panic: %v", r), StartedAt: start}
		}
		out.Duration = s.now().Sub(start)
		s.finish(ctx, out)
	}()

	return s.cycle(ctx, id, start)
}

func (s *Service) cycle(ctx context.Context, id uuid.UUID, start time.Time) Outcome {
	out := Outcome{ID: id, StartedAt: start}
	s.log.Info().Str("cycle", id.String()).Msg("executing collection cycle")

	gateway, readings, err := s.readGauge(ctx)
	out.Gateway = gateway
	if err != nil {
		out.Err = err
		switch {
		case errors.Is(err, discovery.ErrDiscoveryImpossible):
			out.Status = StatusDiscoveryImpossible
		case errors.Is(err, ErrNoGateway):
			out.Status = StatusNoGateway
		default:
			out.Status = StatusGatewayUnreachable
		}
		return out
	}

	if len(readings) == 0 {
		s.log.Warn().Str("gateway", gateway).Msg("no tank readings parsed; uploading an empty batch")
	}

	batch := Normalize(s.cfg.Store.Name, readings, s.cfg.Normalize, start)
	out.Readings = len(batch.Tanks)

	if err := s.uploader.Upload(ctx, batch); err != nil {
		out.Status = StatusUploadFailed
		out.Err = err
		return out
	}

	out.Status = StatusOK
	return out
}

// readGauge holds the gauge while it connects and polls every sensor.
func (s *Service) readGauge(ctx context.Context) (string, []telemetry.Reading, error) {
	s.gauge.Lock()
	defer s.gauge.Unlock()

	gateway, sess, err := s.connect(ctx)
	if err != nil {
		return gateway, nil, err
	}
	defer sess.Close()

	return gateway, s.poller.Poll(ctx, gateway, sess), nil
}

// TestGateway polls address once outside the cycle and returns what the
// gauge reported. Nothing is uploaded. It fails with ErrGaugeBusy instead
// of waiting while a cycle or another test holds the gauge.
func (s *Service) TestGateway(ctx context.Context, address string) ([]telemetry.Reading, error) {
	if !s.gauge.TryLock() {
		return nil, ErrGaugeBusy
	}
	defer s.gauge.Unlock()

	sess, err := s.dialer.Dial(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGatewayUnreachable, err)
	}
	defer sess.Close()

	s.log.Info().Str("gateway", address).Msg("testing gateway connection")
	return s.poller.Poll(ctx, address, sess), nil
}

// connect opens a session to the gateway. Known addresses are tried first:
// the one that worked last cycle, then the last one persisted, then the
// configured one. When dialing a known address fails, or none is known,
// discovery runs once.
func (s *Service) connect(ctx context.Context) (string, telemetry.Session, error) {
	known := s.knownAddress(ctx)

	if known != "" {
		sess, err := s.dialer.Dial(ctx, known)
		if err == nil {
			s.cached = known
			return known, sess, nil
		}
		s.cached = ""
		if !s.cfg.Discovery.Enabled {
			return known, nil, fmt.Errorf("%w: %w", ErrGatewayUnreachable, err)
		}
		s.log.Warn().Err(err).Str("gateway", known).Msg("known gateway unreachable, rediscovering")
	} else if !s.cfg.Discovery.Enabled {
		return "", nil, ErrNoGateway
	}

	dev, err := s.discover(ctx)
	if err != nil {
		return "", nil, err
	}

	addr := dev.IP.String()
	sess, err := s.dialer.Dial(ctx, addr)
	if err != nil {
		return addr, nil, fmt.Errorf("%w: %w", ErrGatewayUnreachable, err)
	}

	s.cached = addr
	if s.store != nil {
		if err := s.store.MarkSelected(ctx, dev.MAC, s.now()); err != nil {
			s.log.Warn().Err(err).Str("mac", dev.MAC).Msg("failed to persist selected gateway")
		}
	}
	return addr, sess, nil
}

func (s *Service) knownAddress(ctx context.Context) string {
	if s.cached != "" {
		return s.cached
	}
	if s.store != nil {
		gw, err := s.store.LastGateway(ctx)
		switch {
		case err == nil:
			return gw.IP
		case !errors.Is(err, store.ErrNotFound):
			s.log.Warn().Err(err).Msg("failed to load last gateway")
		}
	}
	return s.cfg.Gateway.Address
}

func (s *Service) discover(ctx context.Context) (discovery.Device, error) {
	res, err := s.discoverer.Discover(ctx)
	if err != nil {
		return discovery.Device{}, err
	}
	s.metrics.ObserveDiscovery(len(res.Devices), len(res.Failed), res.Duration)

	if s.store != nil {
		if err := s.store.RecordGateways(ctx, res.Devices); err != nil {
			s.log.Warn().Err(err).Msg("failed to persist discovered gateways")
		}
	}

	dev, ok := discovery.Select(res.Devices, s.cfg.Gateway.PreferredMAC)
	if !ok {
		s.log.Warn().
			Int("candidates", len(res.Candidates)).
			Strs("checklist", discovery.NoGatewayChecklist).
			Msg("no gateway found")
		return discovery.Device{}, ErrNoGateway
	}

	if s.cfg.Gateway.PreferredMAC != "" && dev.MAC != discovery.NormalizeMAC(s.cfg.Gateway.PreferredMAC) {
		s.log.Warn().
			Str("preferred_mac", s.cfg.Gateway.PreferredMAC).
			Str("mac", dev.MAC).
			Msg("preferred gateway not found, using first discovered")
	}

	if len(res.Local) > 0 && !discovery.Reachable(dev.IP, res.Local) {
		s.log.Warn().
			Str("gateway", dev.IP.String()).
			Strs("suggestions", discovery.Suggestions(res.Local[0], dev.IP)).
			Msg("gateway is on a different subnet")
	}

	s.log.Info().
		Str("mac", dev.MAC).
		Str("gateway", dev.IP.String()).
		Int("devices", len(res.Devices)).
		Msg("gateway selected")
	return dev, nil
}

// finish records the outcome everywhere it is observed.
func (s *Service) finish(ctx context.Context, out Outcome) {
	ev := s.log.Info()
	if !out.OK() {
		ev = s.log.Warn().Err(out.Err)
	}
	ev.Str("cycle", out.ID.String()).
		Str("status", string(out.Status)).
		Str("gateway", out.Gateway).
		Int("readings", out.Readings).
		Dur("duration", out.Duration).
		Msg("collection cycle finished")

	s.metrics.ObserveCycle(string(out.Status), out.Readings, out.Duration, out.StartedAt)

	if s.store != nil {
		// The cycle outcome is recorded even when shutdown cancelled ctx.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.store.RecordCycle(rctx, cycleRun(out)); err != nil {
			s.log.Warn().Err(err).Msg("failed to record cycle")
		}
	}

	s.mu.Lock()
	prev := s.last
	s.last = &out
	s.mu.Unlock()

	s.alertOnTransition(prev, out)
}

// alertOnTransition raises an alert when delivery starts failing or recovers.
// A first cycle alerts only when it fails.
func (s *Service) alertOnTransition(prev *Outcome, out Outcome) {
	if s.alerts == nil {
		return
	}
	if prev == nil && out.OK() {
		return
	}
	if prev != nil && prev.OK() == out.OK() {
		return
	}

	alert := notification.Alert{Status: string(out.Status)}
	if out.OK() {
		alert.Title = fmt.Sprintf("%s: tank relay recovered", s.cfg.Store.Name)
		alert.Body = fmt.Sprintf("%d tanks uploaded via %s", out.Readings, out.Gateway)
	} else {
		alert.Title = fmt.Sprintf("%s: tank relay failing", s.cfg.Store.Name)
		alert.Body = fmt.Sprintf("cycle status %s", out.Status)
		if out.Err != nil {
			alert.Body += ": " + out.Err.Error()
		}
	}
	s.alerts.Dispatch(alert)
}

func cycleRun(out Outcome) model.CycleRun {
	run := model.CycleRun{
		ID:         out.ID,
		StartedAt:  out.StartedAt.UTC(),
		Status:     string(out.Status),
		Gateway:    out.Gateway,
		Readings:   out.Readings,
		DurationMS: out.Duration.Milliseconds(),
	}
	if out.Err != nil {
		run.Error = truncate(out.Err.Error(), 1024)
	}
	return run
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
