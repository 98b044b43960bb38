// Package health implements liveness/readiness and the "GET /health returns
// configuration summary" requirement of §4.11/§6.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/x402x/facilitator/internal/rediscache"
)

// Status is one check's (or the aggregate's) outcome.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// Check is a single dependency's health outcome.
type Check struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// ConfigSummary is the non-secret configuration snapshot §6 requires
// GET /health to return.
type ConfigSummary struct {
	Environment string   `json:"environment"`
	Networks    []string `json:"networks"`
	V2Enabled   bool     `json:"v2Enabled"`
}

// Response is the JSON body for /health and /ready.
type Response struct {
	Status  Status         `json:"status"`
	Checks  []Check        `json:"checks,omitempty"`
	Version string         `json:"version,omitempty"`
	Config  *ConfigSummary `json:"config,omitempty"`
}

// Checker runs dependency checks and renders the health/readiness bodies.
type Checker struct {
	redis   *rediscache.Client
	version string
	config  ConfigSummary
}

// NewChecker builds a Checker. redis may be nil, in which case the redis
// check always reports degraded (degraded mode per §7's rate-limit
// fallback, still liveness-healthy).
func NewChecker(redis *rediscache.Client, version string, config ConfigSummary) *Checker {
	return &Checker{redis: redis, version: version, config: config}
}

// HealthHandler serves liveness plus the configuration summary; it never
// depends on external services, so it always returns 200 while the process
// is up.
func (h *Checker) HealthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg := h.config
		c.JSON(http.StatusOK, Response{
			Status:  StatusHealthy,
			Version: h.version,
			Config:  &cfg,
		})
	}
}

// ReadyHandler serves readiness: 503 unless every dependency check passes.
func (h *Checker) ReadyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		checks := h.runChecks(ctx)
		overall := h.calculateOverallStatus(checks)

		status := http.StatusOK
		if overall != StatusHealthy {
			status = http.StatusServiceUnavailable
		}

		c.JSON(status, Response{Status: overall, Checks: checks, Version: h.version})
	}
}

func (h *Checker) runChecks(ctx context.Context) []Check {
	var wg sync.WaitGroup
	checksChan := make(chan Check, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		checksChan <- h.checkRedis(ctx)
	}()

	go func() {
		wg.Wait()
		close(checksChan)
	}()

	var checks []Check
	for check := range checksChan {
		checks = append(checks, check)
	}
	return checks
}

func (h *Checker) checkRedis(ctx context.Context) Check {
	check := Check{Name: "redis"}

	if h.redis == nil {
		check.Status = StatusDegraded
		check.Message = "redis not configured; rate limiting running in degraded in-memory mode"
		return check
	}
	if err := h.redis.Ping(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Message = err.Error()
		return check
	}

	check.Status = StatusHealthy
	return check
}

func (h *Checker) calculateOverallStatus(checks []Check) Status {
	hasUnhealthy, hasDegraded := false, false
	for _, c := range checks {
		switch c.Status {
		case StatusUnhealthy:
			hasUnhealthy = true
		case StatusDegraded:
			hasDegraded = true
		}
	}
	if hasUnhealthy {
		return StatusUnhealthy
	}
	if hasDegraded {
		return StatusDegraded
	}
	return StatusHealthy
}
