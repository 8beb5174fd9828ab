package api

import (
	"context"
	"net/http"
	"time"

	xhttp "CoinPulse/pkg/http"
	xlogger "CoinPulse/pkg/logger"

	"github.com/labstack/echo/v4"
)

type HealthProbe interface {
	Health(ctx context.Context) error
}

// StatsFunc contributes service-specific counters to the health document.
type StatsFunc func() map[string]any

type HealthHandler struct {
	logger  *xlogger.Logger
	db      HealthProbe
	stats   StatsFunc
	started time.Time
}

func NewHealthHandler(logger *xlogger.Logger, db HealthProbe, stats StatsFunc) *HealthHandler {
	return &HealthHandler{logger: logger, db: db, stats: stats, started: time.Now()}
}

func (h *HealthHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/api/health", h.Health)
}

// Health answers 503 while the database is unreachable.
func (h *HealthHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	connected := h.db != nil && h.db.Health(ctx) == nil
	doc := map[string]any{
		"status":         "ok",
		"db_connected":   connected,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	}
	if h.stats != nil {
		for k, v := range h.stats() {
			doc[k] = v
		}
	}
	if col := h.logger.Collector(); col != nil {
		doc["recent_errors"] = col.Recent()
	}
	if !connected {
		doc["status"] = "degraded"
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, doc)
	}
	return xhttp.SuccessResponse(c, doc)
}
