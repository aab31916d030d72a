// Package tracing combines otel spans, gocore stats, prometheus observations and start/done log lines
// behind a single Start call.
package tracing

import (
	"context"
	"fmt"
	"time"

	"github.com/bsv-blockchain/chainstate/ulogger"
	"github.com/ordishs/gocore"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type statsKey struct{}

var rootStat = gocore.NewStat("chainstate", true)

type Option func(s *TraceOptions)

type TraceOptions struct {
	ParentStat *gocore.Stat
	Histogram  prometheus.Histogram
	Counter    prometheus.Counter
	Tags       []attribute.KeyValue
	Logger     ulogger.Logger
	LogMessage string
	LogArgs    []interface{}
}

func WithParentStat(stat *gocore.Stat) Option {
	return func(s *TraceOptions) {
		s.ParentStat = stat
	}
}

// WithHistogram sets the prometheus histogram observed, in seconds, when the span ends.
func WithHistogram(histogram prometheus.Histogram) Option {
	return func(s *TraceOptions) {
		s.Histogram = histogram
	}
}

// WithCounter sets the prometheus counter incremented when the span ends.
func WithCounter(counter prometheus.Counter) Option {
	return func(s *TraceOptions) {
		s.Counter = counter
	}
}

func WithTag(key, value string) Option {
	return func(s *TraceOptions) {
		s.Tags = append(s.Tags, attribute.String(key, value))
	}
}

// WithLogMessage logs the formatted message at INFO when the span starts, and again with the
// elapsed time when it ends.
func WithLogMessage(logger ulogger.Logger, format string, args ...interface{}) Option {
	return func(s *TraceOptions) {
		s.Logger = logger
		s.LogMessage = format
		s.LogArgs = args
	}
}

type Tracer struct {
	tracer trace.Tracer
	tags   []attribute.KeyValue
}

// NewTracer returns a tracer for the named service. Spans started from it carry the given tags.
func NewTracer(service string, tags ...attribute.KeyValue) *Tracer {
	return &Tracer{
		tracer: otel.Tracer(service),
		tags:   tags,
	}
}

// Start opens a span and a child gocore stat. The returned function ends both; an error passed to
// it is recorded on the span and appended to the done log line.
func (t *Tracer) Start(ctx context.Context, name string, setOptions ...Option) (context.Context, trace.Span, func(...error)) {
	options := &TraceOptions{}
	for _, opt := range setOptions {
		opt(options)
	}

	ctx, span := t.tracer.Start(ctx, name)

	span.SetAttributes(t.tags...)
	span.SetAttributes(options.Tags...)

	parent, ok := ctx.Value(statsKey{}).(*gocore.Stat)
	if !ok {
		parent = options.ParentStat
	}

	if parent == nil {
		parent = rootStat
	}

	stat := parent.NewStat(name, true)
	ctx = context.WithValue(ctx, statsKey{}, stat)

	start := time.Now()

	if options.Logger != nil && options.LogMessage != "" {
		options.Logger.Infof(options.LogMessage, options.LogArgs...)
	}

	return ctx, span, func(errs ...error) {
		var err error
		if len(errs) > 0 {
			err = errs[0]
		}

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}

		span.End()
		stat.AddTime(start)

		if options.Histogram != nil {
			options.Histogram.Observe(time.Since(start).Seconds())
		}

		if options.Counter != nil {
			options.Counter.Inc()
		}

		if options.Logger != nil && options.LogMessage != "" {
			done := fmt.Sprintf(" DONE in %s", time.Since(start))
			if err != nil {
				done += fmt.Sprintf(" with error: %v", err)
			}

			options.Logger.Infof(options.LogMessage+done, options.LogArgs...)
		}
	}
}
