package core

import (
	"context"
	"maps"
	"sync"
)

// MetricsRecorder receives the counters and histograms every component emits.
// Tags are owned by the recorder once passed in.
type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

// Sample is one recorded metric point.
type Sample struct {
	Name  string
	Value float64
	Tags  map[string]string
}

// MemoryMetricsRecorder keeps every point in memory. It backs the CLI's
// --metrics summary and tests.
type MemoryMetricsRecorder struct {
	mu         sync.Mutex
	counters   []Sample
	histograms []Sample
}

func NewMemoryMetricsRecorder() *MemoryMetricsRecorder {
	return &MemoryMetricsRecorder{}
}

func (m *MemoryMetricsRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	m.counters = append(m.counters, Sample{Name: name, Value: float64(value), Tags: cloneTags(tags)})
	m.mu.Unlock()
}

func (m *MemoryMetricsRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	m.mu.Lock()
	m.histograms = append(m.histograms, Sample{Name: name, Value: value, Tags: cloneTags(tags)})
	m.mu.Unlock()
}

func (m *MemoryMetricsRecorder) Counters() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Sample(nil), m.counters...)
}

func (m *MemoryMetricsRecorder) Histograms() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Sample(nil), m.histograms...)
}

// CounterTotal sums every point recorded under name.
func (m *MemoryMetricsRecorder) CounterTotal(name string) int64 {
	var total int64
	for _, sample := range m.Counters() {
		if sample.Name == name {
			total += int64(sample.Value)
		}
	}
	return total
}

func cloneTags(tags map[string]string) map[string]string {
	if tags == nil {
		return map[string]string{}
	}
	return maps.Clone(tags)
}

var (
	_ MetricsRecorder = NopMetricsRecorder{}
	_ MetricsRecorder = (*MemoryMetricsRecorder)(nil)
)
