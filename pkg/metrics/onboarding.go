package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// 以下函数在 InitMetrics 之前调用是安全的空操作

// RecordSync 记录远端同步结果和耗时
func RecordSync(ctx context.Context, operation, status string, elapsed time.Duration) {
	if m := GetMetrics(); m != nil {
		m.RecordSync(ctx, operation, status, elapsed.Seconds())
	}
}

// RecordMerge 记录一次本地与远端合并
func RecordMerge(ctx context.Context, kind, state string) {
	if m := GetMetrics(); m != nil {
		m.RecordMerge(ctx, kind, state)
	}
}

// RecordStepCompleted 记录步骤完成，skipped 表示可选步骤被跳过
func RecordStepCompleted(ctx context.Context, stepID string, skipped bool) {
	if m := GetMetrics(); m != nil {
		m.StepCompletedTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("step_id", stepID),
			attribute.Bool("skipped", skipped),
		))
	}
}

// RecordAnswers 记录写入的答案数
func RecordAnswers(ctx context.Context, phase string, count int) {
	if m := GetMetrics(); m != nil && count > 0 {
		m.AnswerRecordedTotal.Add(ctx, int64(count), metric.WithAttributes(
			attribute.String("phase", phase),
		))
	}
}

// RecordOnboardingCompleted 记录用户完成引导
func RecordOnboardingCompleted(ctx context.Context, source string) {
	if m := GetMetrics(); m != nil {
		m.OnboardingDoneTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("source", source),
		))
	}
}

// RecordCompletionEvent 记录完成事件的发布/消费结果
func RecordCompletionEvent(ctx context.Context, stage, status string) {
	if m := GetMetrics(); m != nil {
		m.CompletionEventTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("status", status),
		))
	}
}
