package observability

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Health levels reported by the monitor.
const (
	HealthOK       = "ok"
	HealthWarning  = "warning"
	HealthCritical = "critical"
)

const maxAlerts = 100

// Thresholds are the warning and critical levels for one metric.
type Thresholds struct {
	Warning  float64
	Critical float64
}

func (t Thresholds) level(v float64) string {
	switch {
	case v >= t.Critical:
		return HealthCritical
	case v >= t.Warning:
		return HealthWarning
	default:
		return HealthOK
	}
}

// MonitorConfig configures the HealthMonitor.
type MonitorConfig struct {
	Schedule     string        // Cron spec, e.g. "@every 30s".
	Window       time.Duration // Request window evaluated on each run.
	ErrorRate    Thresholds    // Percent of recent requests that failed.
	ResponseTime Thresholds    // Mean recent duration in milliseconds.
}

// DefaultMonitorConfig returns the stock thresholds: 5%/10% errors, 500ms/1000ms latency.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Schedule:     "@every 30s",
		Window:       time.Minute,
		ErrorRate:    Thresholds{Warning: 5, Critical: 10},
		ResponseTime: Thresholds{Warning: 500, Critical: 1000},
	}
}

// Alert is raised when a metric crosses a threshold.
type Alert struct {
	Timestamp time.Time `json:"timestamp"`
	Metric    string    `json:"metric"`
	Level     string    `json:"level"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Message   string    `json:"message"`
}

// Assessment is the result of one health evaluation.
type Assessment struct {
	Status       string    `json:"status"`
	ErrorRate    float64   `json:"error_rate_percent"`
	ResponseTime float64   `json:"avg_response_ms"`
	Requests     int       `json:"recent_requests"`
	CheckedAt    time.Time `json:"checked_at"`
}

// HealthMonitor periodically evaluates request health, keeps the last alerts
// and publishes the overall level on the health_status gauge.
type HealthMonitor struct {
	cfg      MonitorConfig
	requests *RequestLog
	metrics  *MetricsCollector // nil when metrics are disabled
	logger   *slog.Logger

	mu     sync.Mutex
	alerts []Alert
	last   Assessment

	cron *cron.Cron
}

// NewHealthMonitor creates a monitor over requests. metrics may be nil.
func NewHealthMonitor(cfg MonitorConfig, requests *RequestLog, metrics *MetricsCollector, logger *slog.Logger) *HealthMonitor {
	def := DefaultMonitorConfig()
	if cfg.Schedule == "" {
		cfg.Schedule = def.Schedule
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.ErrorRate == (Thresholds{}) {
		cfg.ErrorRate = def.ErrorRate
	}
	if cfg.ResponseTime == (Thresholds{}) {
		cfg.ResponseTime = def.ResponseTime
	}
	return &HealthMonitor{
		cfg:      cfg,
		requests: requests,
		metrics:  metrics,
		logger:   logger,
		last:     Assessment{Status: HealthOK},
	}
}

// Start schedules Evaluate on the configured cron spec.
func (m *HealthMonitor) Start() error {
	c := cron.New()
	if _, err := c.AddFunc(m.cfg.Schedule, func() { m.Evaluate() }); err != nil {
		return fmt.Errorf("scheduling health monitor %q: %w", m.cfg.Schedule, err)
	}
	m.cron = c
	c.Start()
	m.logger.Info("health monitor started", slog.String("schedule", m.cfg.Schedule))
	return nil
}

// Stop halts scheduling and waits for a running evaluation to finish.
func (m *HealthMonitor) Stop() {
	if m == nil || m.cron == nil {
		return
	}
	<-m.cron.Stop().Done()
}

// Evaluate computes the current assessment, records alerts and updates the gauge.
func (m *HealthMonitor) Evaluate() Assessment {
	stats := m.requests.Stats(m.cfg.Window)
	now := time.Now()

	a := Assessment{
		Status:       HealthOK,
		ErrorRate:    stats.ErrorRate * 100,
		ResponseTime: float64(stats.AvgDuration) / float64(time.Millisecond),
		Requests:     stats.Recent,
		CheckedAt:    now,
	}

	var raised []Alert
	if stats.Recent > 0 {
		raised = append(raised, m.check(now, "error_rate", a.ErrorRate, m.cfg.ErrorRate)...)
		raised = append(raised, m.check(now, "response_time", a.ResponseTime, m.cfg.ResponseTime)...)
	}
	for _, al := range raised {
		if al.Level == HealthCritical || a.Status == HealthOK {
			a.Status = al.Level
		}
	}

	m.mu.Lock()
	m.alerts = append(m.alerts, raised...)
	if len(m.alerts) > maxAlerts {
		m.alerts = m.alerts[len(m.alerts)-maxAlerts:]
	}
	m.last = a
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.HealthStatus.Set(gaugeValue(a.Status))
	}
	return a
}

func (m *HealthMonitor) check(now time.Time, metric string, value float64, t Thresholds) []Alert {
	level := t.level(value)
	if level == HealthOK {
		return nil
	}
	threshold := t.Warning
	if level == HealthCritical {
		threshold = t.Critical
	}
	al := Alert{
		Timestamp: now,
		Metric:    metric,
		Level:     level,
		Value:     value,
		Threshold: threshold,
		Message:   fmt.Sprintf("%s is %s: %.2f (threshold %.2f)", metric, level, value, threshold),
	}
	m.logger.Warn("health alert",
		slog.String("metric", metric),
		slog.String("level", level),
		slog.Float64("value", value),
		slog.Float64("threshold", threshold),
	)
	return []Alert{al}
}

// Alerts returns a copy of the retained alerts, oldest first.
func (m *HealthMonitor) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Alert(nil), m.alerts...)
}

// Last returns the most recent assessment.
func (m *HealthMonitor) Last() Assessment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

func gaugeValue(status string) float64 {
	switch status {
	case HealthWarning:
		return 0.5
	case HealthCritical:
		return 0
	default:
		return 1
	}
}
