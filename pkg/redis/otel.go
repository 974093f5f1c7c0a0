package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// TracingHook 为每条 Redis 命令创建 span 并记录耗时
type TracingHook struct {
	tracer   trace.Tracer
	attrs    []attribute.KeyValue
	total    metric.Int64Counter
	duration metric.Float64Histogram
	misses   metric.Int64Counter
}

// NewTracingHook 创建追踪 Hook，指标注册失败时只保留追踪
func NewTracingHook(serviceName string, db int) *TracingHook {
	meter := otel.Meter(serviceName + ".redis")
	th := &TracingHook{
		tracer: otel.Tracer(serviceName + ".redis"),
		attrs: []attribute.KeyValue{
			semconv.DBSystemRedis,
			semconv.DBRedisDBIndex(db),
		},
	}

	th.total, _ = meter.Int64Counter("redis.commands.total",
		metric.WithDescription("Total number of Redis commands"),
		metric.WithUnit("{command}"),
	)
	th.duration, _ = meter.Float64Histogram("redis.command.duration",
		metric.WithDescription("Redis command duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0),
	)
	th.misses, _ = meter.Int64Counter("redis.cache.misses",
		metric.WithDescription("Number of GET misses"),
		metric.WithUnit("{miss}"),
	)
	return th
}

// DialHook 实现 redis.Hook 接口
func (th *TracingHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

// ProcessHook 实现 redis.Hook 接口。只记录命令名和键名，不记录值。
func (th *TracingHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		ctx, span := th.tracer.Start(ctx, cmd.Name(),
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(th.attrs...),
		)
		defer span.End()

		span.SetAttributes(semconv.DBOperation(cmd.Name()))
		if key, ok := firstKey(cmd.Args()); ok {
			span.SetAttributes(attribute.String("redis.key", key))
		}

		start := time.Now()
		err := next(ctx, cmd)
		th.record(ctx, span, cmd.Name(), time.Since(start), err)
		return err
	}
}

// ProcessPipelineHook 实现 redis.Hook 接口
func (th *TracingHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		ctx, span := th.tracer.Start(ctx, "pipeline",
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(th.attrs...),
		)
		defer span.End()
		span.SetAttributes(attribute.Int("redis.pipeline.count", len(cmds)))

		start := time.Now()
		err := next(ctx, cmds)
		th.record(ctx, span, "pipeline", time.Since(start), err)
		return err
	}
}

func (th *TracingHook) record(ctx context.Context, span trace.Span, name string, elapsed time.Duration, err error) {
	status := "success"
	switch {
	case errors.Is(err, redis.Nil):
		status = "not_found"
		if th.misses != nil {
			th.misses.Add(ctx, 1, metric.WithAttributes(attribute.String("redis.command", name)))
		}
	case err != nil:
		status = "error"
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	}

	labels := metric.WithAttributes(
		attribute.String("redis.command", name),
		attribute.String("redis.status", status),
	)
	if th.total != nil {
		th.total.Add(ctx, 1, labels)
	}
	if th.duration != nil {
		th.duration.Record(ctx, elapsed.Seconds(), labels)
	}
}

func firstKey(args []interface{}) (string, bool) {
	if len(args) < 2 {
		return "", false
	}
	key, ok := args[1].(string)
	if !ok {
		return "", false
	}
	if len(key) > 100 {
		key = key[:100] + "..."
	}
	return key, true
}
