// Package api exposes the published telemetry snapshot to the host
// home-automation platform as a read-only REST surface.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"heatbridge/internal/coordinator"
	"heatbridge/internal/dewarmte"
	"heatbridge/internal/sensors"
)

// Coordinator is the slice of the update coordinator the API reads from
type Coordinator interface {
	Snapshot() dewarmte.Snapshot
	LastUpdateSuccess() bool
	LastRefresh() time.Time
	LastError() error
	Refresh(ctx context.Context) error
}

type telemetryHandler struct {
	coordinator Coordinator
	logger      *slog.Logger
}

func newTelemetryHandler(coord Coordinator, logger *slog.Logger) *telemetryHandler {
	return &telemetryHandler{
		coordinator: coord,
		logger:      logger,
	}
}

// getHealth returns the health status of the service
// GET /health
func getHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "UP",
		"service": "heatbridge",
	})
}

// listDevices returns every device in the current snapshot
// GET /v1/devices
func (h *telemetryHandler) listDevices(c *gin.Context) {
	snapshot := h.coordinator.Snapshot()

	ids := make([]string, 0, len(snapshot))
	for id := range snapshot {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	devices := make([]dewarmte.Device, 0, len(ids))
	for _, id := range ids {
		devices = append(devices, snapshot[id])
	}

	c.JSON(http.StatusOK, devices)
}

// getDevice returns one device from the current snapshot
// GET /v1/devices/:id
func (h *telemetryHandler) getDevice(c *gin.Context) {
	device, ok := h.coordinator.Snapshot()[c.Param("id")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Device not found",
			"code":  "DEVICE_NOT_FOUND",
		})
		return
	}
	c.JSON(http.StatusOK, device)
}

// listSensors returns the snapshot flattened into sensor readings
// GET /v1/sensors
func (h *telemetryHandler) listSensors(c *gin.Context) {
	readings := sensors.Flatten(h.coordinator.Snapshot())
	if readings == nil {
		readings = []sensors.Reading{}
	}
	c.JSON(http.StatusOK, readings)
}

// getStatus reports the health of the refresh cycle
// GET /v1/status
func (h *telemetryHandler) getStatus(c *gin.Context) {
	status := gin.H{
		"last_update_success": h.coordinator.LastUpdateSuccess(),
		"device_count":        len(h.coordinator.Snapshot()),
	}
	if last := h.coordinator.LastRefresh(); !last.IsZero() {
		status["last_refresh"] = last
	}
	if err := h.coordinator.LastError(); err != nil {
		status["last_error"] = err.Error()
	}
	c.JSON(http.StatusOK, status)
}

// triggerRefresh runs one refresh cycle on demand
// POST /v1/refresh
func (h *telemetryHandler) triggerRefresh(c *gin.Context) {
	err := h.coordinator.Refresh(c.Request.Context())
	switch {
	case errors.Is(err, coordinator.ErrRefreshInProgress):
		c.JSON(http.StatusConflict, gin.H{
			"error": "A refresh cycle is already running",
			"code":  "REFRESH_IN_PROGRESS",
		})
	case err != nil:
		h.logger.Error("manual refresh failed",
			"component", "api",
			"error", err,
		)
		c.JSON(http.StatusBadGateway, gin.H{
			"error": err.Error(),
			"code":  "REFRESH_FAILED",
		})
	default:
		c.JSON(http.StatusOK, gin.H{
			"status":       "refreshed",
			"device_count": len(h.coordinator.Snapshot()),
		})
	}
}
