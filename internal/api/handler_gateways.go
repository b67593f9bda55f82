package api

import (
	"context"
	"errors"
	"net/http"
	"net/netip"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"tank-inventory-relay/internal/collector"
	"tank-inventory-relay/internal/discovery"
	"tank-inventory-relay/internal/telemetry"
)

const (
	scanCacheKey = "scan"

	tunnelCheckTimeout = 2 * time.Second
)

type deviceResponse struct {
	discovery.Device
	Reachable       bool     `json:"reachable"`
	TunnelOpen      bool     `json:"tunnel_open"`
	AccessiblePorts []int    `json:"accessible_ports"`
	Suggestions     []string `json:"suggestions,omitempty"`
}

type scanResponse struct {
	Candidates int              `json:"candidates"`
	Failed     int              `json:"failed"`
	Local      []netip.Addr     `json:"local"`
	Devices    []deviceResponse `json:"devices"`
	Checklist  []string         `json:"checklist,omitempty"`
	DurationMS int64            `json:"durationMs"`
	ScannedAt  time.Time        `json:"scannedAt"`
	Cached     bool             `json:"cached"`
}

func newScanResponse(res discovery.Result, tunnels []bool, port int, at time.Time) scanResponse {
	resp := scanResponse{
		Candidates: len(res.Candidates),
		Failed:     len(res.Failed),
		Local:      res.Local,
		Devices:    make([]deviceResponse, 0, len(res.Devices)),
		DurationMS: res.Duration.Milliseconds(),
		ScannedAt:  at,
	}

	for i, d := range res.Devices {
		dr := deviceResponse{
			Device:          d,
			Reachable:       discovery.Reachable(d.IP, res.Local),
			AccessiblePorts: []int{},
		}
		if i < len(tunnels) && tunnels[i] {
			dr.TunnelOpen = true
			dr.AccessiblePorts = append(dr.AccessiblePorts, port)
		}
		if !dr.Reachable && len(res.Local) > 0 {
			dr.Suggestions = discovery.Suggestions(res.Local[0], d.IP)
		}
		resp.Devices = append(resp.Devices, dr)
	}

	if len(res.Devices) == 0 {
		resp.Checklist = discovery.NoGatewayChecklist
	}
	return resp
}

// ScanNetwork handles POST /api/discovery/scan. A scan finished within the
// scan TTL is returned as is unless ?refresh=true is given.
func (h *Handler) ScanNetwork(c *gin.Context) {
	if h.scanner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "discovery is disabled"})
		return
	}

	if h.scanTTL > 0 && c.Query("refresh") != "true" {
		if v, found := h.scans.Get(scanCacheKey); found {
			resp := v.(scanResponse)
			resp.Cached = true
			c.JSON(http.StatusOK, resp)
			return
		}
	}

	res, err := h.scanner.Discover(c.Request.Context())
	if errors.Is(err, discovery.ErrDiscoveryImpossible) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	tunnels := h.checkTunnels(c.Request.Context(), res.Devices)
	resp := newScanResponse(res, tunnels, h.tunnelPort, time.Now().UTC())
	if h.store != nil {
		if err := h.store.RecordGateways(c.Request.Context(), res.Devices); err != nil {
			h.log.Warn().Err(err).Msg("failed to persist scanned gateways")
		}
	}
	if h.scanTTL > 0 {
		h.scans.Set(scanCacheKey, resp, h.scanTTL)
	}

	c.JSON(http.StatusOK, resp)
}

// checkTunnels reports, per device, whether its serial tunnel port accepts a
// connection. No command is sent, so the gauge is never queried.
func (h *Handler) checkTunnels(ctx context.Context, devices []discovery.Device) []bool {
	open := make([]bool, len(devices))
	if h.dialer == nil {
		return open
	}

	ctx, cancel := context.WithTimeout(ctx, tunnelCheckTimeout)
	defer cancel()

	var g errgroup.Group
	for i, d := range devices {
		i, d := i, d
		g.Go(func() error {
			sess, err := h.dialer.Dial(ctx, d.IP.String())
			if err != nil {
				h.log.Debug().Err(err).Str("gateway", d.IP.String()).Msg("serial tunnel closed")
				return nil
			}
			_ = sess.Close()
			open[i] = true
			return nil
		})
	}
	_ = g.Wait()
	return open
}

type testGatewayRequest struct {
	Address string `json:"address" binding:"required"`
}

type readingResponse struct {
	TankID   string   `json:"tank_id"`
	Product  string   `json:"product"`
	Volume   int      `json:"volume"`
	TCVolume int      `json:"tc_volume"`
	Ullage   int      `json:"ullage"`
	Height   *float64 `json:"height"`
	Water    *float64 `json:"water"`
	Temp     *float64 `json:"temp"`
}

// TestGateway handles POST /api/gateways/test: it polls the given address
// once and returns what the gauge reported. Nothing is uploaded. While a
// cycle holds the gauge the answer is 409.
func (h *Handler) TestGateway(c *gin.Context) {
	var req testGatewayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	addr, err := netip.ParseAddr(req.Address)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address must be an IP address"})
		return
	}

	if h.tester == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "gateway testing is not available"})
		return
	}

	readings, err := h.tester.TestGateway(c.Request.Context(), addr.String())
	switch {
	case errors.Is(err, collector.ErrGaugeBusy):
		c.JSON(http.StatusConflict, gin.H{"error": "a collection cycle is polling the gauge, try again shortly"})
		return
	case errors.Is(err, collector.ErrGatewayUnreachable):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "connected": false})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]readingResponse, 0, len(readings))
	for _, r := range readings {
		out = append(out, fromReading(r))
	}

	c.JSON(http.StatusOK, gin.H{
		"address":   addr.String(),
		"connected": true,
		"readings":  out,
	})
}

func fromReading(r telemetry.Reading) readingResponse {
	return readingResponse{
		TankID:   r.TankID,
		Product:  r.Product,
		Volume:   r.Volume,
		TCVolume: r.TCVolume,
		Ullage:   r.Ullage,
		Height:   r.Height,
		Water:    r.Water,
		Temp:     r.Temp,
	}
}
