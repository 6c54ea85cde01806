// Package bridge connects a foreign task queue to the schema registry.
//
// A Poller goroutine takes tasks off the host queue and schedules them on a
// single loop goroutine, where the Dispatcher runs them against a registry
// confined to that loop. Each task is answered exactly once through a Reply.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	config "github.com/hanpama/restygraph/internal/config"
	eventbus "github.com/hanpama/restygraph/internal/eventbus"
	ffi "github.com/hanpama/restygraph/internal/ffi"
	"github.com/hanpama/restygraph/internal/logging"
	loop "github.com/hanpama/restygraph/internal/loop"
	metrics "github.com/hanpama/restygraph/internal/metrics"
	otel "github.com/hanpama/restygraph/internal/otel"
	registry "github.com/hanpama/restygraph/internal/registry"
	"go.uber.org/zap"
)

type Bridge struct {
	cfg    *config.Config
	log    *zap.Logger
	loop   *loop.Loop
	poller *Poller
	done   chan struct{}

	metrics       *metrics.Metrics
	metricsServer *http.Server
	unsubscribe   func()
	flushTraces   func(context.Context) error
}

// Start decodes cfg, installs logging and telemetry, and starts the loop and
// poller goroutines. It returns without waiting for any task.
func Start(cfg []byte, host ffi.Host, queue ffi.Queue, opts ...registry.Option) (*Bridge, error) {
	c, err := config.Load(cfg)
	if err != nil {
		return nil, err
	}
	return StartConfig(c, host, queue, opts...)
}

// StartConfig is Start with an already decoded configuration. opts are
// applied to the registry after the configured ones.
func StartConfig(cfg *config.Config, host ffi.Host, queue ffi.Queue, opts ...registry.Option) (*Bridge, error) {
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	logging.SetLogger(log)
	eventbus.Use(eventbus.New())

	b := &Bridge{cfg: cfg, log: log, done: make(chan struct{}), metrics: metrics.New()}
	b.unsubscribe = b.metrics.Subscribe()
	b.flushTraces, err = otel.Setup(cfg.Otel.Endpoint, cfg.Otel.Service)
	if err != nil {
		b.unsubscribe()
		return nil, fmt.Errorf("setup tracing: %w", err)
	}
	if cfg.Metrics.Addr != "" {
		b.metricsServer, err = b.metrics.Serve(cfg.Metrics.Addr)
		if err != nil {
			b.unsubscribe()
			_ = b.flushTraces(context.Background())
			return nil, fmt.Errorf("serve metrics: %w", err)
		}
	}

	regOpts := append([]registry.Option{registry.WithIntrospection(cfg.GraphQL.IntrospectionEnabled())}, opts...)
	b.loop = loop.New(loop.WithLogger(log))
	disp := NewDispatcher(b.loop, registry.New(regOpts...), host, log)
	b.poller = NewPoller(host, queue, b.loop, disp, log)

	b.loop.Start()
	go func() {
		defer close(b.done)
		b.poller.Run()
	}()
	log.Info("bridge started",
		zap.Bool("introspection", cfg.GraphQL.IntrospectionEnabled()),
		zap.String("metrics", cfg.Metrics.Addr),
		zap.String("otel", cfg.Otel.Endpoint))
	return b, nil
}

// Done is closed when the poller has returned, that is after the host sent
// the shutdown sentinel and the loop drained.
func (b *Bridge) Done() <-chan struct{} { return b.done }

func (b *Bridge) Metrics() *metrics.Metrics { return b.metrics }

// Wait blocks until the bridge stopped and then flushes telemetry.
func (b *Bridge) Wait(ctx context.Context) error {
	select {
	case <-b.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	b.unsubscribe()
	var errs []error
	if err := b.flushTraces(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush traces: %w", err))
	}
	if b.metricsServer != nil {
		if err := b.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop metrics: %w", err))
		}
	}
	_ = b.log.Sync()
	return errors.Join(errs...)
}
