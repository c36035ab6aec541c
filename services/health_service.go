package services

import (
	"context"
	"runtime"
	"strings"
	"time"

	"classplanner_go/config"
	"classplanner_go/database"
)

// Overall health states, worst one wins.
const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
	HealthCritical = "critical"
)

const probeTimeout = 1500 * time.Millisecond

// HealthService answers the /health endpoint: process identity, uptime, and
// liveness of the backing stores.
type HealthService struct {
	serviceName string
	version     string
	startedAt   time.Time
}

func NewHealthService(serviceName, version string) *HealthService {
	if strings.TrimSpace(serviceName) == "" {
		serviceName = "Class Planner API"
	}
	if strings.TrimSpace(version) == "" {
		version = "0.0.0"
	}
	return &HealthService{serviceName: serviceName, version: version, startedAt: time.Now()}
}

// HealthReport is the health endpoint payload.
type HealthReport struct {
	Status        string        `json:"status"`
	Service       string        `json:"service"`
	Version       string        `json:"version"`
	Environment   string        `json:"environment"`
	Time          time.Time     `json:"time"`
	UptimeSeconds float64       `json:"uptime_seconds"`
	Checks        []HealthCheck `json:"checks"`
	Goroutines    int           `json:"goroutines"`
	GoVersion     string        `json:"go_version"`
}

// HealthCheck is one probed dependency.
type HealthCheck struct {
	Name      string `json:"name"`
	Status    string `json:"status"` // up, down, disabled
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// GetHealthReport probes every dependency and folds the results into one
// overall status.
func (s *HealthService) GetHealthReport() HealthReport {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	env := "unknown"
	if config.AppConfig != nil && strings.TrimSpace(config.AppConfig.AppEnv) != "" {
		env = config.AppConfig.AppEnv
	}

	report := HealthReport{
		Status:        HealthOK,
		Service:       s.serviceName,
		Version:       s.version,
		Environment:   env,
		Time:          time.Now().UTC(),
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
		Goroutines:    runtime.NumGoroutine(),
		GoVersion:     runtime.Version(),
	}

	checks := []struct {
		probe func(context.Context) (HealthCheck, string)
	}{
		{s.probeDatabase},
		{s.probeRedis},
	}
	for _, c := range checks {
		check, overall := c.probe(ctx)
		report.Checks = append(report.Checks, check)
		report.Status = worseOf(report.Status, overall)
	}

	return report
}

// HTTPStatusForOverall lets the controller pick the response code.
func (s *HealthService) HTTPStatusForOverall(status string) int {
	if status == HealthCritical {
		return 503
	}
	return 200
}

func (s *HealthService) probeDatabase(ctx context.Context) (HealthCheck, string) {
	check := HealthCheck{Name: "mysql", Status: "down"}

	if database.DB == nil {
		check.Error = "database not connected"
		return check, HealthCritical
	}
	sqlDB, err := database.DB.DB()
	if err != nil {
		check.Error = err.Error()
		return check, HealthCritical
	}

	started := time.Now()
	err = sqlDB.PingContext(ctx)
	check.LatencyMs = time.Since(started).Milliseconds()
	if err != nil {
		check.Error = err.Error()
		return check, HealthCritical
	}

	check.Status = "up"
	return check, HealthOK
}

// Redis is optional: locks and notification queues degrade gracefully, so a
// dead redis only marks the service degraded.
func (s *HealthService) probeRedis(ctx context.Context) (HealthCheck, string) {
	check := HealthCheck{Name: "redis"}

	client := database.GetRedisClient()
	if client == nil {
		check.Status = "disabled"
		return check, HealthOK
	}

	started := time.Now()
	err := client.Ping(ctx).Err()
	check.LatencyMs = time.Since(started).Milliseconds()
	if err != nil {
		check.Status = "down"
		check.Error = err.Error()
		return check, HealthDegraded
	}

	check.Status = "up"
	return check, HealthOK
}

func worseOf(current, candidate string) string {
	rank := map[string]int{HealthOK: 0, HealthDegraded: 1, HealthCritical: 2}
	if rank[candidate] > rank[current] {
		return candidate
	}
	return current
}
