package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const readinessTimeout = 2 * time.Second

// HealthHandler serves liveness and readiness probes
type HealthHandler struct {
	logger  *slog.Logger
	service string
	checks  []HealthCheck
}

func NewHealthHandler(deps *Dependencies, serviceName string) *HealthHandler {
	return &HealthHandler{
		logger:  deps.Logger,
		service: serviceName,
		checks:  deps.HealthChecks,
	}
}

// Live handles GET /health
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": h.service,
	})
}

// Ready handles GET /health/ready
// Probes every backing service concurrently
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	results := make(map[string]string, len(h.checks))
	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		ready = true
	)

	for _, check := range h.checks {
		wg.Add(1)
		go func(check HealthCheck) {
			defer wg.Done()

			status := "ok"
			if err := check.Check(ctx); err != nil {
				status = err.Error()
				h.logger.Warn("Readiness check failed",
					slog.String("check", check.Name),
					slog.Any("error", err),
				)
			}

			mu.Lock()
			defer mu.Unlock()
			results[check.Name] = status
			if status != "ok" {
				ready = false
			}
		}(check)
	}
	wg.Wait()

	if !ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
			"checks": results,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"checks": results,
	})
}
