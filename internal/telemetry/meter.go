package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/hiroki-koketsu/go-todo-store/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// StatsFunc reports the current task counters.
type StatsFunc func(ctx context.Context) model.TaskStats

// Metrics holds the custom metrics instruments for the application.
type Metrics struct {
	RequestCounter  metric.Int64Counter
	RequestDuration metric.Float64Histogram
	TasksGauge      metric.Int64ObservableGauge
	CompletedGauge  metric.Int64ObservableGauge
	PendingGauge    metric.Int64ObservableGauge
	OverdueGauge    metric.Int64ObservableGauge
	statsFunc       StatsFunc
}

// InitMeterProvider initializes the OpenTelemetry meter provider.
// It configures an OTLP gRPC exporter and sets up the global meter provider.
func InitMeterProvider(ctx context.Context, serviceName, otlpEndpoint, environment string) (*sdkmetric.MeterProvider, error) {
	conn, err := newConn(otlpEndpoint)
	if err != nil {
		return nil, err
	}

	exporter, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	res, err := newResource(serviceName, environment)
	if err != nil {
		return nil, err
	}

	// Create meter provider with periodic reader (10 second interval)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(10*time.Second),
		)),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(mp)

	return mp, nil
}

// NewMetrics creates and registers custom metrics instruments.
func NewMetrics(meter metric.Meter, statsFunc StatsFunc) (*Metrics, error) {
	m := &Metrics{
		statsFunc: statsFunc,
	}

	var err error

	m.RequestCounter, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}

	m.RequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request duration histogram: %w", err)
	}

	gauges := []struct {
		dst  *metric.Int64ObservableGauge
		name string
		desc string
	}{
		{&m.TasksGauge, "tasks_total", "Current number of tasks in the list"},
		{&m.CompletedGauge, "tasks_completed", "Current number of completed tasks"},
		{&m.PendingGauge, "tasks_pending", "Current number of incomplete tasks"},
		{&m.OverdueGauge, "tasks_overdue", "Current number of overdue tasks"},
	}
	for _, g := range gauges {
		*g.dst, err = meter.Int64ObservableGauge(g.name,
			metric.WithDescription(g.desc),
			metric.WithUnit("{task}"),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s gauge: %w", g.name, err)
		}
	}

	_, err = meter.RegisterCallback(m.observe,
		m.TasksGauge, m.CompletedGauge, m.PendingGauge, m.OverdueGauge,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register task gauges: %w", err)
	}

	return m, nil
}

func (m *Metrics) observe(ctx context.Context, o metric.Observer) error {
	stats := m.statsFunc(ctx)
	o.ObserveInt64(m.TasksGauge, int64(stats.Total))
	o.ObserveInt64(m.CompletedGauge, int64(stats.Completed))
	o.ObserveInt64(m.PendingGauge, int64(stats.Pending))
	o.ObserveInt64(m.OverdueGauge, int64(stats.Overdue))
	return nil
}
