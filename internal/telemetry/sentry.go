// Package telemetry wraps Sentry tracing for corpus builds, loads and queries.
package telemetry

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
)

const serviceName = "tutorion"

// flushTimeout bounds how long shutdown waits for buffered events.
const flushTimeout = 5 * time.Second

// Config holds the configuration for Sentry initialization.
type Config struct {
	DSN              string
	Environment      string
	TracesSampleRate float64
	Debug            bool
}

// Init starts Sentry and returns a function that flushes pending events.
// An empty DSN disables Sentry and returns a no-op.
func Init(cfg Config) (func(), error) {
	if cfg.DSN == "" {
		return func() {}, nil
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.TracesSampleRate == 0 {
		cfg.TracesSampleRate = 1.0
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		EnableTracing:    true,
		TracesSampleRate: cfg.TracesSampleRate,
		Debug:            cfg.Debug,
		ServerName:       serviceName,
		TracesSampler: sentry.TracesSampler(func(ctx sentry.SamplingContext) float64 {
			return sampleRate(ctx.Span, cfg.TracesSampleRate)
		}),
	})
	if err != nil {
		log.Printf("sentry: failed to initialize (continuing without tracing): %v", err)
		return func() {}, nil
	}

	log.Printf("sentry: tracing initialized (environment: %s, sample_rate: %.2f)", cfg.Environment, cfg.TracesSampleRate)
	return func() { sentry.Flush(flushTimeout) }, nil
}

// sampleRate drops health checks and rebuild-job polling, and keeps child
// spans with their parent's decision.
func sampleRate(span *sentry.Span, rate float64) float64 {
	if span == nil {
		return rate
	}
	if isPollingSpan(span.Name) || isPollingSpan(strings.TrimPrefix(span.Op, "http.server ")) {
		return 0
	}

	var noParent sentry.SpanID
	if span.ParentSpanID != noParent {
		if span.Sampled.Bool() {
			return 1
		}
		return 0
	}
	return rate
}

func isPollingSpan(name string) bool {
	return name == "GET /health" || strings.HasPrefix(name, "GET /rebuild-jobs/")
}

// SpanAttributes are the corpus tags attached to a span.
type SpanAttributes struct {
	OwnerID   string
	CorpusID  string
	JobID     string
	Operation string
}

// Span is a nil-safe handle on a Sentry span.
type Span struct {
	inner *sentry.Span
}

// End finishes the span.
func (s *Span) End() {
	if s.inner != nil {
		s.inner.Finish()
	}
}

// SetData records a value on the span, e.g. the resolution tier or a chunk count.
func (s *Span) SetData(name string, value interface{}) {
	if s.inner != nil {
		s.inner.SetData(name, value)
	}
}

// SetError marks the span failed and reports err on the span's hub.
func (s *Span) SetError(err error) {
	if s.inner == nil {
		return
	}
	s.inner.Status = sentry.SpanStatusInternalError
	CaptureError(s.inner.Context(), err)
}

// Context returns the span's context.
func (s *Span) Context() context.Context {
	if s.inner != nil {
		return s.inner.Context()
	}
	return context.Background()
}

func (a SpanAttributes) apply(span *sentry.Span) {
	tags := map[string]string{
		"owner_id":  a.OwnerID,
		"corpus_id": a.CorpusID,
		"job_id":    a.JobID,
	}
	for name, value := range tags {
		if value != "" {
			span.SetTag(name, value)
		}
	}
	if a.Operation != "" {
		span.SetData("operation", a.Operation)
	}
}

// StartSpan opens a child of the span in ctx, or a new transaction when ctx
// carries none.
func StartSpan(ctx context.Context, name string, attrs SpanAttributes) (context.Context, *Span) {
	var span *sentry.Span
	if parent := sentry.SpanFromContext(ctx); parent != nil {
		span = parent.StartChild(name)
	} else {
		span = sentry.StartSpan(ctx, name, sentry.WithTransactionName(name))
	}

	attrs.apply(span)
	return span.Context(), &Span{inner: span}
}

// CaptureError reports err on the hub of ctx, or the global hub.
func CaptureError(ctx context.Context, err error) {
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.CaptureException(err)
		return
	}
	sentry.CaptureException(err)
}

// AddBreadcrumb records a recovered failure, such as an embedding batch that
// was replaced by zero vectors.
func AddBreadcrumb(ctx context.Context, category, message string) {
	breadcrumb := &sentry.Breadcrumb{
		Type:      "default",
		Category:  category,
		Message:   message,
		Level:     sentry.LevelWarning,
		Timestamp: time.Now(),
	}

	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.AddBreadcrumb(breadcrumb, nil)
		return
	}
	sentry.AddBreadcrumb(breadcrumb)
}
