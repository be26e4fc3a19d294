// Package info implements the introspection tools: health_check and server_info.
package info

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jkaninda/mcpkit/internal/observability"
	"github.com/jkaninda/mcpkit/internal/tools"
)

const statsWindow = time.Minute

// Lister reports the names of the registered tools.
type Lister interface {
	List() []string
}

// RequestSummary is the request section of the health report.
type RequestSummary struct {
	Total         int64   `json:"total"`
	Active        int64   `json:"active"`
	Errors        int64   `json:"errors"`
	RateLimited   int64   `json:"rate_limited"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
}

// HealthReport is the health_check response.
type HealthReport struct {
	Status        string                               `json:"status"` // healthy or degraded
	Server        string                               `json:"server"`
	Version       string                               `json:"version"`
	Description   string                               `json:"description"`
	Transport     string                               `json:"transport"`
	Workspace     string                               `json:"workspace"`
	Timestamp     time.Time                            `json:"timestamp"`
	UptimeSeconds float64                              `json:"uptime_seconds"`
	Features      observability.FeatureStatus          `json:"features"`
	Requests      RequestSummary                       `json:"requests"`
	Checks        map[string]observability.CheckResult `json:"checks"`
	Monitor       *observability.Assessment            `json:"monitor,omitempty"`
	Tools         []string                             `json:"tools"`
	CustomTools   int                                  `json:"custom_tools"`
}

// HealthTool reports process health.
type HealthTool struct {
	infra   *observability.Infrastructure
	tools   Lister
	monitor *observability.HealthMonitor
}

// NewHealthTool creates the health_check tool. monitor may be nil.
func NewHealthTool(infra *observability.Infrastructure, lister Lister, monitor *observability.HealthMonitor) *HealthTool {
	return &HealthTool{infra: infra, tools: lister, monitor: monitor}
}

func (t *HealthTool) Name() string        { return "health_check" }
func (t *HealthTool) Description() string { return "Report server health, enabled features and request statistics" }
func (t *HealthTool) Definition() mcp.Tool {
	return tools.NewDefinition(t.Name(), t.Description())
}

func (t *HealthTool) Execute(ctx context.Context, _ map[string]any) (any, error) {
	cfg := t.infra.Config()
	stats := t.infra.Requests().Stats(statsWindow)
	ready := t.infra.Health().CheckReady(ctx)

	report := &HealthReport{
		Status:        "healthy",
		Server:        cfg.ServerName,
		Version:       cfg.Version,
		Description:   cfg.Description,
		Transport:     cfg.Transport,
		Workspace:     cfg.Workspace,
		Timestamp:     time.Now().UTC(),
		UptimeSeconds: t.infra.Uptime().Seconds(),
		Features:      t.infra.Features(),
		Requests: RequestSummary{
			Total:         stats.Total,
			Active:        stats.Active,
			Errors:        stats.Errors,
			RateLimited:   stats.RateLimited,
			AvgDurationMS: float64(stats.AvgDuration) / float64(time.Millisecond),
		},
		Checks:      ready.Checks,
		Tools:       t.tools.List(),
		CustomTools: len(cfg.CustomTools),
	}
	if report.Checks == nil {
		report.Checks = map[string]observability.CheckResult{}
	}
	if ready.Status != "ok" {
		report.Status = "degraded"
	}
	if t.monitor != nil {
		last := t.monitor.Last()
		if !last.CheckedAt.IsZero() {
			report.Monitor = &last
			if last.Status == observability.HealthCritical {
				report.Status = "degraded"
			}
		}
	}
	return report, nil
}

// ServerInfoTool reports the effective configuration.
type ServerInfoTool struct {
	infra *observability.Infrastructure
	tools Lister
}

// NewServerInfoTool creates the server_info tool.
func NewServerInfoTool(infra *observability.Infrastructure, lister Lister) *ServerInfoTool {
	return &ServerInfoTool{infra: infra, tools: lister}
}

func (t *ServerInfoTool) Name() string        { return "server_info" }
func (t *ServerInfoTool) Description() string { return "Show server configuration and available tools" }
func (t *ServerInfoTool) Definition() mcp.Tool {
	return tools.NewDefinition(t.Name(), t.Description())
}

func (t *ServerInfoTool) Execute(_ context.Context, _ map[string]any) (any, error) {
	summary := t.infra.Config().Summary()
	summary["tools"] = t.tools.List()
	return summary, nil
}
