package service

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/lSAAGl/aegis-mcp/internal/service"

// Option configures the services in this package.
type Option func(*options)

type options struct {
	metrics *Metrics
	now     func() time.Time
	newID   func() string
	tracer  trace.Tracer
}

// WithMetrics records Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithClock overrides the wall clock used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithIDGenerator overrides how trace and approval ids are generated.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) {
		o.newID = fn
	}
}

// WithTracer overrides the OpenTelemetry tracer (default: the global
// provider's tracer).
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		o.tracer = t
	}
}

func buildOptions(opts []Option) options {
	o := options{
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	return o
}

// monotonicClock hands out strictly increasing UTC timestamps, so records
// written by one process sort in write order even when the wall clock
// stalls or steps back.
type monotonicClock struct {
	now func() time.Time

	mu   sync.Mutex
	last time.Time
}

func newMonotonicClock(now func() time.Time) *monotonicClock {
	return &monotonicClock{now: now}
}

func (c *monotonicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC()
	if !t.After(c.last) {
		t = c.last.Add(time.Nanosecond)
	}
	c.last = t
	return t
}
