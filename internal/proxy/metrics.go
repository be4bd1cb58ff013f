package proxy

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the gateway's Prometheus surface, trimmed from the teacher's
// internal/observability.MetricsManager. Only the servers-total gauge (set
// once at startup) and the tool-call counter and latency histogram are fed
// by other components; the uptime, servers-connected, tools-total,
// reconnect-attempt and OAuth-refresh metrics are registered and exported,
// but nothing in the module updates them. The storage/index/Docker/
// supervisor-actor metrics the teacher also exposes have no equivalent
// component here.
type Metrics struct {
	registry *prometheus.Registry

	uptime           prometheus.Gauge
	serversTotal     prometheus.Gauge
	serversConnected prometheus.Gauge
	toolsTotal       prometheus.Gauge
	toolCalls        *prometheus.CounterVec
	toolDuration     *prometheus.HistogramVec
	reconnectAttempts *prometheus.CounterVec
	oauthRefreshes   *prometheus.CounterVec
}

// NewMetrics builds and registers every metric.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		uptime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mcpmux_uptime_seconds",
			Help: "Time since the gateway process started.",
		}),
		serversTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mcpmux_servers_total",
			Help: "Total number of configured upstream servers.",
		}),
		serversConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mcpmux_servers_connected",
			Help: "Number of upstream servers currently connected.",
		}),
		toolsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mcpmux_tools_exposed_total",
			Help: "Number of tools currently exposed to the host.",
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpmux_tool_calls_total",
			Help: "Total number of callTool invocations.",
		}, []string{"server", "tool", "status"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mcpmux_tool_call_duration_seconds",
			Help:    "callTool duration in seconds.",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"server", "tool", "status"}),
		reconnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpmux_reconnect_attempts_total",
			Help: "Total number of upstream reconnect attempts.",
		}, []string{"server", "result"}),
		oauthRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpmux_oauth_refresh_total",
			Help: "Total number of OAuth token refresh attempts.",
		}, []string{"server", "result"}),
	}

	reg.MustRegister(
		m.uptime,
		m.serversTotal,
		m.serversConnected,
		m.toolsTotal,
		m.toolCalls,
		m.toolDuration,
		m.reconnectAttempts,
		m.oauthRefreshes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) SetUptime(start time.Time)      { m.uptime.Set(time.Since(start).Seconds()) }
func (m *Metrics) SetServersTotal(n int)          { m.serversTotal.Set(float64(n)) }
func (m *Metrics) SetServersConnected(n int)      { m.serversConnected.Set(float64(n)) }
func (m *Metrics) SetToolsTotal(n int)            { m.toolsTotal.Set(float64(n)) }

func (m *Metrics) RecordToolCall(server, tool, status string, d time.Duration) {
	m.toolCalls.WithLabelValues(server, tool, status).Inc()
	m.toolDuration.WithLabelValues(server, tool, status).Observe(d.Seconds())
}

func (m *Metrics) RecordReconnectAttempt(server, result string) {
	m.reconnectAttempts.WithLabelValues(server, result).Inc()
}

func (m *Metrics) RecordOAuthRefresh(server, result string) {
	m.oauthRefreshes.WithLabelValues(server, result).Inc()
}
