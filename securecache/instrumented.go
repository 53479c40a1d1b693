package securecache

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce     sync.Once
	cacheOperations metric.Int64Counter
	cacheDuration   metric.Float64Histogram
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("github.com/chinmina/grantwell/securecache")

		var err error
		cacheOperations, err = meter.Int64Counter(
			"securecache.operations",
			metric.WithDescription("Total secure cache operations"),
		)
		if err != nil {
			otel.Handle(err)
		}

		cacheDuration, err = meter.Float64Histogram(
			"securecache.operation.duration",
			metric.WithDescription("Secure cache operation duration"),
			metric.WithUnit("s"),
		)
		if err != nil {
			otel.Handle(err)
		}
	})
}

// Instrumented wraps a Cache with metrics instrumentation.
type Instrumented struct {
	wrapped   Cache
	cacheType string
}

// NewInstrumented creates an instrumented cache wrapper.
func NewInstrumented(cache Cache, cacheType string) *Instrumented {
	initMetrics()
	return &Instrumented{
		wrapped:   cache,
		cacheType: cacheType,
	}
}

func (i *Instrumented) Create(ctx context.Context, repository, key string, entry Entry) error {
	return i.record(ctx, "create", func() error {
		return i.wrapped.Create(ctx, repository, key, entry)
	})
}

func (i *Instrumented) Read(ctx context.Context, repository, key string) (Entry, bool, error) {
	start := time.Now()

	entry, found, err := i.wrapped.Read(ctx, repository, key)

	status := "miss"
	if err != nil {
		status = "error"
	} else if found {
		status = "hit"
	}
	i.emit(ctx, "read", status, time.Since(start))

	return entry, found, err
}

func (i *Instrumented) Update(ctx context.Context, repository, key string, entry Entry) error {
	return i.record(ctx, "update", func() error {
		return i.wrapped.Update(ctx, repository, key, entry)
	})
}

func (i *Instrumented) CreateOrUpdate(ctx context.Context, repository, key string, entry Entry) error {
	return i.record(ctx, "create_or_update", func() error {
		return i.wrapped.CreateOrUpdate(ctx, repository, key, entry)
	})
}

func (i *Instrumented) Delete(ctx context.Context, repository, key string) error {
	return i.record(ctx, "delete", func() error {
		return i.wrapped.Delete(ctx, repository, key)
	})
}

func (i *Instrumented) Secure() bool {
	return i.wrapped.Secure()
}

func (i *Instrumented) Close() error {
	return i.wrapped.Close()
}

func (i *Instrumented) record(ctx context.Context, operation string, fn func() error) error {
	start := time.Now()

	err := fn()

	status := "success"
	if err != nil {
		status = "error"
	}
	i.emit(ctx, operation, status, time.Since(start))

	return err
}

func (i *Instrumented) emit(ctx context.Context, operation, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("cache.type", i.cacheType),
		attribute.String("cache.operation", operation),
		attribute.String("cache.status", status),
	)

	if cacheOperations != nil {
		cacheOperations.Add(ctx, 1, attrs)
	}
	if cacheDuration != nil {
		cacheDuration.Record(ctx, duration.Seconds(), attrs)
	}
}
