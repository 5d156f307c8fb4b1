package core

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type logLevel int

const (
	levelDebug logLevel = iota
	levelInfo
	levelWarn
	levelError
)

// metricTagKeys are copied from log fields onto every outcome metric.
var metricTagKeys = []string{"tenant_id", "location_id", "event"}

// Observer logs operation outcomes and records counters for one component.
type Observer struct {
	Logger  Logger
	Metrics MetricsRecorder
	Prefix  string
}

func NewObserver(logger Logger, metrics MetricsRecorder, prefix string) Observer {
	if metrics == nil {
		metrics = NopMetricsRecorder{}
	}
	return Observer{
		Logger:  glog.Ensure(logger),
		Metrics: metrics,
		Prefix:  strings.TrimSpace(prefix),
	}
}

// Observe reports one finished operation: a <name>.total counter, a
// <name>.duration_ms histogram and an info or error log line.
func (o Observer) Observe(ctx context.Context, startedAt time.Time, operation string, err error, fields map[string]any) {
	operation = operationName(operation)
	elapsed := time.Since(startedAt).Milliseconds()
	status := "success"
	if err != nil {
		status = "failure"
	}

	logFields := cloneFields(fields)
	logFields["event_type"] = operation
	logFields["status"] = status
	logFields["duration_ms"] = elapsed
	if err != nil {
		logFields["error"] = err.Error()
		if mapped := MapError(err); mapped != nil {
			logFields["error_code"] = mapped.TextCode
		}
	}

	if o.Metrics != nil {
		tags := outcomeTags(operation, status, logFields)
		name := o.metricName(operation)
		o.Metrics.IncCounter(ctx, name+".total", 1, cloneTags(tags))
		o.Metrics.ObserveHistogram(ctx, name+".duration_ms", float64(elapsed), tags)
	}

	if err != nil {
		o.log(ctx, levelError, operation+" failed", logFields)
		return
	}
	o.log(ctx, levelInfo, operation+" succeeded", logFields)
}

func (o Observer) Debug(ctx context.Context, message string, fields map[string]any) {
	o.log(ctx, levelDebug, message, fields)
}

func (o Observer) Info(ctx context.Context, message string, fields map[string]any) {
	o.log(ctx, levelInfo, message, fields)
}

func (o Observer) Warn(ctx context.Context, message string, fields map[string]any) {
	o.log(ctx, levelWarn, message, fields)
}

func (o Observer) Error(ctx context.Context, message string, fields map[string]any) {
	o.log(ctx, levelError, message, fields)
}

// log redacts fields before they reach the logger, both as structured
// fields when supported and as key/value args.
func (o Observer) log(ctx context.Context, level logLevel, message string, fields map[string]any) {
	if o.Logger == nil {
		return
	}
	logger := o.Logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	safe := RedactFields(fields)
	if withFields, ok := logger.(FieldsLogger); ok {
		logger = withFields.WithFields(cloneFields(safe))
	}
	args := flattenFields(safe)
	switch level {
	case levelError:
		logger.Error(message, args...)
	case levelWarn:
		logger.Warn(message, args...)
	case levelDebug:
		logger.Debug(message, args...)
	default:
		logger.Info(message, args...)
	}
}

func (o Observer) metricName(operation string) string {
	parts := []string{"leadsync"}
	if o.Prefix != "" {
		parts = append(parts, o.Prefix)
	}
	return strings.Join(append(parts, operation), ".")
}

func outcomeTags(operation, status string, fields map[string]any) map[string]string {
	tags := map[string]string{"operation": operation, "status": status}
	for _, key := range metricTagKeys {
		value, ok := fields[key]
		if !ok || value == nil {
			continue
		}
		if text := strings.TrimSpace(fmt.Sprint(value)); text != "" {
			tags[key] = text
		}
	}
	return tags
}

func cloneFields(fields map[string]any) map[string]any {
	if fields == nil {
		return map[string]any{}
	}
	return maps.Clone(fields)
}

// flattenFields turns fields into sorted key/value args.
func flattenFields(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}
	args := make([]any, 0, len(fields)*2)
	for _, key := range slices.Sorted(maps.Keys(fields)) {
		args = append(args, key, fields[key])
	}
	return args
}

// operationName lowercases and snake cases operation, defaulting to
// "unknown".
func operationName(operation string) string {
	operation = strings.ToLower(strings.TrimSpace(operation))
	operation = strings.NewReplacer(" ", "_", "-", "_").Replace(operation)
	if operation == "" {
		return "unknown"
	}
	return operation
}
