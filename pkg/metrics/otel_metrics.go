package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics OpenTelemetry 指标集合
type OTelMetrics struct {
	// 同步相关指标
	SyncResultTotal    metric.Int64Counter
	RemoteCallDuration metric.Float64Histogram
	MergeTotal         metric.Int64Counter

	// 引导进度相关指标
	StepCompletedTotal   metric.Int64Counter
	AnswerRecordedTotal  metric.Int64Counter
	OnboardingDoneTotal  metric.Int64Counter
	CompletionEventTotal metric.Int64Counter
}

var (
	// 全局指标实例
	metrics *OTelMetrics
	// meter 用于创建指标
	meter = otel.Meter("kinlink")
)

// InitMetrics 初始化 OpenTelemetry 指标
func InitMetrics() error {
	m := &OTelMetrics{}
	var err error

	if m.SyncResultTotal, err = meter.Int64Counter(
		"onboarding_sync_result_total",
		metric.WithDescription("Remote sync attempts by operation and outcome"),
		metric.WithUnit("{attempt}"),
	); err != nil {
		return err
	}

	if m.RemoteCallDuration, err = meter.Float64Histogram(
		"onboarding_remote_call_duration_seconds",
		metric.WithDescription("Time spent in remote onboarding calls in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return err
	}

	if m.MergeTotal, err = meter.Int64Counter(
		"onboarding_merge_total",
		metric.WithDescription("Local/remote merges by record kind and resulting sync state"),
		metric.WithUnit("{merge}"),
	); err != nil {
		return err
	}

	if m.StepCompletedTotal, err = meter.Int64Counter(
		"onboarding_step_completed_total",
		metric.WithDescription("Onboarding steps completed or skipped"),
		metric.WithUnit("{step}"),
	); err != nil {
		return err
	}

	if m.AnswerRecordedTotal, err = meter.Int64Counter(
		"onboarding_answer_recorded_total",
		metric.WithDescription("Onboarding answers recorded by phase"),
		metric.WithUnit("{answer}"),
	); err != nil {
		return err
	}

	if m.OnboardingDoneTotal, err = meter.Int64Counter(
		"onboarding_completed_total",
		metric.WithDescription("Users that completed onboarding"),
		metric.WithUnit("{user}"),
	); err != nil {
		return err
	}

	if m.CompletionEventTotal, err = meter.Int64Counter(
		"onboarding_completion_event_total",
		metric.WithDescription("onboarding.completed events by stage and outcome"),
		metric.WithUnit("{event}"),
	); err != nil {
		return err
	}

	metrics = m
	return nil
}

// GetMetrics 获取全局指标实例，未初始化时为 nil
func GetMetrics() *OTelMetrics {
	return metrics
}

// RecordSync 记录一次远端同步结果
func (m *OTelMetrics) RecordSync(ctx context.Context, operation, status string, seconds float64) {
	m.SyncResultTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	))
	m.RemoteCallDuration.Record(ctx, seconds, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

// RecordMerge 记录合并结果
func (m *OTelMetrics) RecordMerge(ctx context.Context, kind, state string) {
	m.MergeTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("sync_state", state),
	))
}
