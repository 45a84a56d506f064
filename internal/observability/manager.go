package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
)

// Manager owns the lifecycle of tracing and metrics for the process, giving
// callers one place to initialize and shut down both subsystems together.
type Manager struct {
	metrics *Metrics
	tracer  *Tracer
}

// Config controls which observability subsystems NewManager turns on.
type Config struct {
	ServiceName    string
	MetricsEnabled bool
	Namespace      string
	TracingEnabled bool
	TracingPretty  bool
}

// NewManager initializes the configured subsystems. A nil-safe Manager is
// still returned on a zero Config so call sites can unconditionally defer
// Shutdown without a nil check.
func NewManager(ctx context.Context, cfg Config) (*Manager, error) {
	m := &Manager{}

	if cfg.MetricsEnabled {
		m.metrics = NewMetrics(cfg.Namespace)
		slog.Info("observability: metrics initialized", "namespace", cfg.Namespace)
	}

	if cfg.TracingEnabled {
		tracer, err := NewTracer(ctx, cfg.ServiceName, cfg.TracingPretty)
		if err != nil {
			return nil, fmt.Errorf("initialize tracing: %w", err)
		}
		m.tracer = tracer
		slog.Info("observability: tracing initialized", "service", cfg.ServiceName)
	}

	return m, nil
}

// Metrics returns the metrics collector, or nil if disabled.
func (m *Manager) Metrics() *Metrics {
	if m == nil {
		return nil
	}
	return m.metrics
}

// Tracer returns the tracer, or nil if disabled.
func (m *Manager) Tracer() *Tracer {
	if m == nil {
		return nil
	}
	return m.tracer
}

// MetricsHandler returns an HTTP handler for the metrics scrape endpoint,
// responding 503 if metrics are disabled rather than panicking on a nil
// registry.
func (m *Manager) MetricsHandler() http.Handler {
	if m == nil || m.metrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics not enabled"))
		})
	}
	return m.metrics.Handler()
}

// Shutdown releases tracing resources. Metrics need no explicit shutdown
// under the Prometheus client.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m == nil || m.tracer == nil {
		return nil
	}
	return m.tracer.Shutdown(ctx)
}
