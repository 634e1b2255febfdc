package handler

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/mstgnz/storepay/infra/opensearch"
	"github.com/mstgnz/storepay/infra/response"
	"github.com/redis/go-redis/v9"
)

const (
	statusHealthy       = "healthy"
	statusDegraded      = "degraded"
	statusUnhealthy     = "unhealthy"
	statusNotConfigured = "not_configured"
)

// Pinger is anything that can report its own reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// GatewayLister names the configured payment gateways
type GatewayLister interface {
	Names() []string
}

// HealthHandler handles health check requests
type HealthHandler struct {
	store       Pinger
	redis       *redis.Client
	search      *opensearch.Client
	gateways    GatewayLister
	environment string
	version     string
	startTime   time.Time
}

// HealthStatus represents overall system health
type HealthStatus struct {
	Status      string                    `json:"status"`
	Version     string                    `json:"version"`
	Timestamp   time.Time                 `json:"timestamp"`
	Uptime      string                    `json:"uptime"`
	Environment string                    `json:"environment"`
	Gateways    []string                  `json:"gateways"`
	Services    map[string]*ServiceHealth `json:"services"`
	System      *SystemHealth             `json:"system"`
}

// ServiceHealth represents individual service health
type ServiceHealth struct {
	Status       string `json:"status"`
	Healthy      bool   `json:"healthy"`
	Critical     bool   `json:"critical"`
	ResponseTime string `json:"response_time,omitempty"`
	Error        string `json:"error,omitempty"`
}

// SystemHealth represents process resource usage
type SystemHealth struct {
	Alloc      string `json:"alloc"`
	Sys        string `json:"sys"`
	GCRuns     uint32 `json:"gc_runs"`
	GoRoutines int    `json:"goroutines"`
}

// NewHealthHandler creates a new health handler. redis and search may be nil.
func NewHealthHandler(store Pinger, rdb *redis.Client, search *opensearch.Client, gateways GatewayLister, environment, version string) *HealthHandler {
	return &HealthHandler{
		store:       store,
		redis:       rdb,
		search:      search,
		gateways:    gateways,
		environment: environment,
		version:     version,
		startTime:   time.Now(),
	}
}

// CheckHealth reports store, dedup cache and search reachability
func (h *HealthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := &HealthStatus{
		Version:     h.version,
		Timestamp:   time.Now().UTC(),
		Uptime:      time.Since(h.startTime).Round(time.Second).String(),
		Environment: h.environment,
		Services:    h.checkServices(ctx),
		System:      checkSystem(),
	}
	if h.gateways != nil {
		health.Gateways = h.gateways.Names()
	}
	health.Status = determineOverallStatus(health.Services)

	statusCode := http.StatusOK
	if health.Status == statusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	response.WriteJSON(w, statusCode, response.Response{
		Code:    statusCode,
		Success: health.Status != statusUnhealthy,
		Message: fmt.Sprintf("Service is %s", health.Status),
		Data:    health,
	})
}

func (h *HealthHandler) checkServices(ctx context.Context) map[string]*ServiceHealth {
	services := map[string]*ServiceHealth{
		"order_store": probe(ctx, h.store != nil, true, func(ctx context.Context) error {
			return h.store.Ping(ctx)
		}),
		"redis": probe(ctx, h.redis != nil, false, func(ctx context.Context) error {
			return h.redis.Ping(ctx).Err()
		}),
		"opensearch": probe(ctx, h.search != nil && h.search.IsEnabled(), false, func(ctx context.Context) error {
			return h.search.Ping(ctx)
		}),
	}
	return services
}

func probe(ctx context.Context, configured, critical bool, ping func(context.Context) error) *ServiceHealth {
	if !configured {
		s := &ServiceHealth{Status: statusNotConfigured, Critical: critical}
		if critical {
			s.Status = statusUnhealthy
			s.Error = "not configured"
		}
		return s
	}

	start := time.Now()
	err := ping(ctx)
	s := &ServiceHealth{
		Critical:     critical,
		ResponseTime: fmt.Sprintf("%dms", time.Since(start).Milliseconds()),
	}
	if err != nil {
		s.Status = statusUnhealthy
		s.Error = err.Error()
		return s
	}
	s.Status = statusHealthy
	s.Healthy = true
	return s
}

// determineOverallStatus is unhealthy when a critical service is down and degraded
// when an optional one is.
func determineOverallStatus(services map[string]*ServiceHealth) string {
	status := statusHealthy
	for _, s := range services {
		if s.Status != statusUnhealthy {
			continue
		}
		if s.Critical {
			return statusUnhealthy
		}
		status = statusDegraded
	}
	return status
}

func checkSystem() *SystemHealth {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return &SystemHealth{
		Alloc:      formatBytes(mem.Alloc),
		Sys:        formatBytes(mem.Sys),
		GCRuns:     mem.NumGC,
		GoRoutines: runtime.NumGoroutine(),
	}
}

func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
