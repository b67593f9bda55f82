package discovery

import (
	"context"
	"net/netip"
	"time"

	"golang.org/x/sync/errgroup"

	"tank-inventory-relay/config"
	"tank-inventory-relay/internal/logger"
)

// CandidateSource lists what to probe.
type CandidateSource interface {
	Candidates(ctx context.Context) ([]Candidate, error)
}

// Prober runs one broadcast probe.
type Prober interface {
	Probe(ctx context.Context, c Candidate) ([]Device, error)
}

// Discoverer runs probes for every candidate concurrently and reconciles the replies.
type Discoverer struct {
	source CandidateSource
	prober Prober
	log    logger.Logger
}

// NewDiscoverer wires the host enumerator and UDP prober from configuration.
func NewDiscoverer(cfg *config.DiscoveryConfig, log logger.Logger) *Discoverer {
	log = log.WithComponent("discovery")
	return &Discoverer{
		source: NewEnumerator(cfg.FallbackNetworks, cfg.EgressProbeAddr, log),
		prober: NewUDPProber(cfg.Port, cfg.Timeout, LayoutFromConfig(cfg.Layout), log),
		log:    log,
	}
}

// New builds a Discoverer from explicit parts.
func New(source CandidateSource, prober Prober, log logger.Logger) *Discoverer {
	return &Discoverer{source: source, prober: prober, log: log}
}

// Discover runs one discovery pass. Zero devices is a successful, empty
// Result; ErrDiscoveryImpossible is returned when there is nothing to probe from.
func (d *Discoverer) Discover(ctx context.Context) (Result, error) {
	start := time.Now()

	candidates, err := d.source.Candidates(ctx)
	if err != nil {
		d.log.Error().Err(err).Msg("cannot enumerate discovery candidates")
		return Result{}, err
	}

	d.log.Info().Int("candidates", len(candidates)).Msg("starting gateway discovery")

	// Each probe owns one slot, so no locking is needed.
	found := make([][]Device, len(candidates))
	failed := make([]bool, len(candidates))

	var g errgroup.Group
	for i, c := range candidates {
		i, c := i, c
		g.Go(func() error {
			devices, err := d.prober.Probe(ctx, c)
			if err != nil {
				d.log.Warn().Err(err).Str("candidate", c.String()).Msg("discovery probe failed")
				failed[i] = true
				return nil
			}
			found[i] = devices
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Candidates: candidates}

	var sightings []Device
	for i, c := range candidates {
		if failed[i] {
			res.Failed = append(res.Failed, c)
		}
		sightings = append(sightings, found[i]...)
	}

	res.Local = localSources(candidates)
	res.Sightings = len(sightings)
	res.Devices = Reconcile(sightings)
	res.Duration = time.Since(start)

	d.log.Info().
		Int("sightings", res.Sightings).
		Int("devices", len(res.Devices)).
		Int("failed_candidates", len(res.Failed)).
		Dur("duration", res.Duration).
		Msg("gateway discovery complete")

	return res, nil
}

func localSources(candidates []Candidate) []netip.Addr {
	var out []netip.Addr
	seen := make(map[netip.Addr]bool)
	for _, c := range candidates {
		if !seen[c.Source] {
			seen[c.Source] = true
			out = append(out, c.Source)
		}
	}
	return out
}
