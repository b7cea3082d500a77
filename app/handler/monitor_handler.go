package handler

import (
	"net/http"
	"strconv"
	"time"

	"procwatch/internal/service"
	"procwatch/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// MonitorHandler handles process monitoring API requests
type MonitorHandler struct {
	monitorService *service.MonitorService
}

// NewMonitorHandler creates a new monitor handler
func NewMonitorHandler(monitorService *service.MonitorService) *MonitorHandler {
	return &MonitorHandler{monitorService: monitorService}
}

// ListProcesses returns the current process table
// GET /api/v1/processes?limit=50
func (h *MonitorHandler) ListProcesses(c *gin.Context) {
	limit := 0
	if limitStr := c.Query("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	processes := h.monitorService.Processes(limit)

	c.JSON(http.StatusOK, gin.H{
		"timestamp":   time.Now(),
		"last_update": h.monitorService.LastUpdate(),
		"count":       len(processes),
		"processes":   processes,
	})
}

// GetProcess returns the latest snapshot for one PID
// GET /api/v1/processes/:pid
func (h *MonitorHandler) GetProcess(c *gin.Context) {
	pid, err := strconv.ParseInt(c.Param("pid"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pid must be an integer"})
		return
	}

	snap, ok := h.monitorService.Process(int32(pid))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "process not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"timestamp": time.Now(),
		"process":   snap,
	})
}

// GetStats returns the sampler's runtime statistics
// GET /api/v1/stats
func (h *MonitorHandler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"timestamp": time.Now(),
		"stats":     h.monitorService.Stats(),
	})
}

// GetStatsHistory returns recent pass points and a trailing-window summary
// GET /api/v1/stats/history?limit=100&window=300
func (h *MonitorHandler) GetStatsHistory(c *gin.Context) {
	limit := 0
	if limitStr := c.Query("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	window := 300.0
	if windowStr := c.Query("window"); windowStr != "" {
		v, err := strconv.ParseFloat(windowStr, 64)
		if err != nil || v <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "window must be a positive number of seconds"})
			return
		}
		window = v
	}

	c.JSON(http.StatusOK, gin.H{
		"timestamp": time.Now(),
		"summary":   h.monitorService.Summary(time.Duration(window * float64(time.Second))),
		"history":   h.monitorService.History(limit),
	})
}

// Pause suspends sampling at the next cycle boundary
// POST /api/v1/pause
func (h *MonitorHandler) Pause(c *gin.Context) {
	h.monitorService.Pause()
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

// Resume lifts a pause
// POST /api/v1/resume
func (h *MonitorHandler) Resume(c *gin.Context) {
	h.monitorService.Resume()
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins, production should use stricter checks
	},
}

// Stream pushes batch deltas to the client over WebSocket
// GET /api/v1/stream
func (h *MonitorHandler) Stream(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Errorf("Failed to upgrade to websocket: %v", err)
		return
	}
	defer ws.Close()

	id, frames := h.monitorService.Subscribe()
	defer h.monitorService.Unsubscribe(id)

	// Reader drains control frames and detects the peer closing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Seed the client with the current table so it does not wait out a
	// full scan pass before rendering.
	initial := service.StreamFrame{
		Timestamp: time.Now(),
		Progress:  1.0,
		Updates:   h.monitorService.Processes(0),
	}
	if err := ws.WriteJSON(initial); err != nil {
		logger.Debugf("stream initial write failed: %v", err)
		return
	}

	for {
		select {
		case <-closed:
			return
		case frame, ok := <-frames:
			if !ok {
				deadline := time.Now().Add(time.Second)
				msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down")
				ws.WriteControl(websocket.CloseMessage, msg, deadline)
				return
			}
			if err := ws.WriteJSON(frame); err != nil {
				logger.Debugf("stream write failed: %v", err)
				return
			}
		}
	}
}
