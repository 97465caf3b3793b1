package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
}

// GetPoolStats returns connection pool statistics.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
		Healthy:         stat.TotalConns() > 0,
	}
}

// Pinger is any dependency with a liveness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

type componentHealth struct {
	Status string     `json:"status"`
	Error  string     `json:"error,omitempty"`
	Pool   *PoolStats `json:"pool,omitempty"`
}

// HealthHandler reports the relational pool and every extra dependency. A
// nil pool is reported as disabled, since the engine can run on the
// key-value store alone. Only the key-value store failing is unhealthy.
func HealthHandler(pool *pgxpool.Pool, kvStore Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		status := http.StatusOK
		overall := "healthy"
		components := map[string]componentHealth{}

		if pool == nil {
			components["postgres"] = componentHealth{Status: "disabled"}
		} else {
			stats := GetPoolStats(pool)
			if err := pool.Ping(ctx); err != nil {
				stats.Healthy = false
				overall = "degraded"
				components["postgres"] = componentHealth{Status: "unhealthy", Error: err.Error(), Pool: stats}
			} else {
				components["postgres"] = componentHealth{Status: "healthy", Pool: stats}
			}
		}

		if err := kvStore.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			overall = "unhealthy"
			components["kv"] = componentHealth{Status: "unhealthy", Error: err.Error()}
		} else {
			components["kv"] = componentHealth{Status: "healthy"}
		}

		return c.JSON(status, map[string]interface{}{
			"status":     overall,
			"components": components,
		})
	}
}
