package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tank-inventory-relay/internal/collector"
	"tank-inventory-relay/internal/model"
	"tank-inventory-relay/internal/store"
)

const recentCycles = 20

type cycleResponse struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	Gateway    string    `json:"gateway,omitempty"`
	Readings   int       `json:"readings"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	DurationMS int64     `json:"durationMs"`
}

type gatewayResponse struct {
	MAC        string     `json:"mac"`
	IP         string     `json:"ip"`
	DeviceType string     `json:"deviceType"`
	Firmware   string     `json:"firmware"`
	Status     string     `json:"status"`
	FirstSeen  time.Time  `json:"firstSeen"`
	LastSeen   time.Time  `json:"lastSeen"`
	SelectedAt *time.Time `json:"selectedAt"`
}

type statusResponse struct {
	Store   string           `json:"store"`
	Last    *cycleResponse   `json:"last"`
	Gateway *gatewayResponse `json:"gateway,omitempty"`
	Recent  []cycleResponse  `json:"recent,omitempty"`
}

func fromOutcome(o collector.Outcome) cycleResponse {
	r := cycleResponse{
		ID:         o.ID.String(),
		Status:     string(o.Status),
		Gateway:    o.Gateway,
		Readings:   o.Readings,
		StartedAt:  o.StartedAt.UTC(),
		DurationMS: o.Duration.Milliseconds(),
	}
	if o.Err != nil {
		r.Error = o.Err.Error()
	}
	return r
}

func fromCycleRun(run model.CycleRun) cycleResponse {
	return cycleResponse{
		ID:         run.ID.String(),
		Status:     run.Status,
		Gateway:    run.Gateway,
		Readings:   run.Readings,
		Error:      run.Error,
		StartedAt:  run.StartedAt.UTC(),
		DurationMS: run.DurationMS,
	}
}

func fromGateway(gw model.Gateway) gatewayResponse {
	return gatewayResponse{
		MAC:        gw.MAC,
		IP:         gw.IP,
		DeviceType: gw.DeviceType,
		Firmware:   gw.Firmware,
		Status:     gw.Status,
		FirstSeen:  gw.FirstSeen,
		LastSeen:   gw.LastSeen,
		SelectedAt: gw.SelectedAt,
	}
}

// GetStatus handles GET /api/status: the last cycle and, when a database is
// configured, the persisted gateway and cycle history.
func (h *Handler) GetStatus(c *gin.Context) {
	resp := statusResponse{Store: h.storeName}

	if h.status != nil {
		if last, ok := h.status.Last(); ok {
			r := fromOutcome(last)
			resp.Last = &r
		}
	}

	if h.store != nil {
		ctx := c.Request.Context()

		gw, err := h.store.LastGateway(ctx)
		switch {
		case err == nil:
			g := fromGateway(gw)
			resp.Gateway = &g
		case !errors.Is(err, store.ErrNotFound):
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve gateway"})
			return
		}

		runs, err := h.store.RecentCycles(ctx, recentCycles)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve cycles"})
			return
		}
		for _, run := range runs {
			resp.Recent = append(resp.Recent, fromCycleRun(run))
		}
	}

	c.JSON(http.StatusOK, resp)
}

// GetLastGateway handles GET /api/gateways/last.
func (h *Handler) GetLastGateway(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database is not configured"})
		return
	}

	gw, err := h.store.LastGateway(c.Request.Context())
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no gateway selected yet"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, fromGateway(gw))
}
