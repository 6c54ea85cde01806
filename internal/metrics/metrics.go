// Package metrics turns bridge events into prometheus collectors.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"

	eventbus "github.com/hanpama/restygraph/internal/eventbus"
	events "github.com/hanpama/restygraph/internal/events"
	"github.com/hanpama/restygraph/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "restygraph"

// Metrics owns a private registry, so several bridges in one process (tests)
// do not collide.
type Metrics struct {
	registry *prometheus.Registry

	commandsTotal     *prometheus.CounterVec
	commandDuration   *prometheus.HistogramVec
	commandsInFlight  prometheus.Gauge
	schemas           prometheus.Gauge
	graphqlErrors     *prometheus.CounterVec
	datasourceTotal   *prometheus.CounterVec
	datasourceLatency *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Tasks answered, by command and response status.",
		}, []string{"command", "status"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Time from dispatch to response, by command.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),
		commandsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "commands_in_flight",
			Help:      "Tasks dispatched but not answered yet.",
		}),
		schemas: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "schemas",
			Help:      "Schemas currently registered.",
		}),
		graphqlErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graphql_errors_total",
			Help:      "GraphQL errors returned inside query results, by operation type.",
		}, []string{"operation"}),
		datasourceTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datasource_requests_total",
			Help:      "Outbound datasource requests, by datasource and status code (0 when no response).",
		}, []string{"datasource", "code"}),
		datasourceLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "datasource_request_duration_seconds",
			Help:      "Outbound datasource request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"datasource"}),
	}
	reg.MustRegister(
		m.commandsTotal,
		m.commandDuration,
		m.commandsInFlight,
		m.schemas,
		m.graphqlErrors,
		m.datasourceTotal,
		m.datasourceLatency,
	)
	return m
}

// Subscribe attaches the collectors to the global event bus.
func (m *Metrics) Subscribe() (unsubscribe func()) {
	unsubs := []func(){
		eventbus.Subscribe(func(_ context.Context, e events.CommandStart) {
			m.commandsInFlight.Inc()
		}),
		eventbus.Subscribe(func(_ context.Context, e events.CommandFinish) {
			status := "ok"
			if !e.OK {
				status = "error"
			}
			cmd := e.Command
			if cmd == "" {
				cmd = "invalid"
			}
			m.commandsInFlight.Dec()
			m.commandsTotal.WithLabelValues(cmd, status).Inc()
			m.commandDuration.WithLabelValues(cmd).Observe(e.Duration.Seconds())
		}),
		eventbus.Subscribe(func(_ context.Context, e events.SchemaCreated) {
			m.schemas.Inc()
		}),
		eventbus.Subscribe(func(_ context.Context, e events.SchemaClosed) {
			m.schemas.Dec()
		}),
		eventbus.Subscribe(func(_ context.Context, e events.GraphQLFinish) {
			if len(e.Errors) > 0 {
				m.graphqlErrors.WithLabelValues(e.OperationType).Add(float64(len(e.Errors)))
			}
		}),
		eventbus.Subscribe(func(_ context.Context, e events.DatasourceFinish) {
			m.datasourceTotal.WithLabelValues(e.Datasource, strconv.Itoa(e.Status)).Inc()
			m.datasourceLatency.WithLabelValues(e.Datasource).Observe(e.Duration.Seconds())
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until the returned server is shut down.
func (m *Metrics) Serve(addr string) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: ln.Addr().String(), Handler: mux}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Logger().Error("metrics server stopped", zap.Error(err))
		}
	}()
	return srv, nil
}
