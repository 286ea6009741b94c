package dashboard

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"arbflow/internal/metrics"
)

const defaultHistory = 200

// history is a bounded FIFO; once full, pushing evicts the oldest item.
type history[T any] struct {
	mu    sync.RWMutex
	items []T
	limit int
}

func newHistory[T any](limit int) *history[T] {
	if limit <= 0 {
		limit = defaultHistory
	}
	return &history[T]{limit: limit}
}

func (h *history[T]) push(item T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.items) == h.limit {
		copy(h.items, h.items[1:])
		h.items[len(h.items)-1] = item
		return
	}
	h.items = append(h.items, item)
}

func (h *history[T]) snapshot() []T {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]T(nil), h.items...)
}

// metricStore keeps what the application reported through metrics.EmitMetric.
type metricStore struct {
	*history[metrics.Metric]
}

func newMetricStore(limit int) *metricStore {
	return &metricStore{newHistory[metrics.Metric](limit)}
}

func (s *metricStore) handle(metric metrics.Metric) {
	s.push(metric)
}

// logRecord is one captured log line. Venue is lifted out of the fields so
// feed problems can be told apart per exchange.
type logRecord struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Venue     string                 `json:"venue,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// logStore is a logrus hook capturing entries at or above minLevel.
type logStore struct {
	*history[logRecord]
	minLevel logrus.Level
	closed   atomic.Bool
}

func newLogStore(limit int) *logStore {
	return &logStore{history: newHistory[logRecord](limit), minLevel: logrus.InfoLevel}
}

func (s *logStore) Levels() []logrus.Level {
	levels := make([]logrus.Level, 0, len(logrus.AllLevels))
	for _, l := range logrus.AllLevels {
		if l <= s.minLevel {
			levels = append(levels, l)
		}
	}
	return levels
}

func (s *logStore) Fire(entry *logrus.Entry) error {
	if s.closed.Load() {
		return nil
	}
	s.push(newLogRecord(entry))
	return nil
}

func newLogRecord(entry *logrus.Entry) logRecord {
	record := logRecord{
		Timestamp: entry.Time,
		Level:     entry.Level.String(),
		Message:   entry.Message,
	}
	for k, v := range entry.Data {
		switch k {
		case "component":
			record.Component = fmt.Sprint(v)
			continue
		case "venue":
			record.Venue = fmt.Sprint(v)
			continue
		}
		if record.Fields == nil {
			record.Fields = make(map[string]interface{}, len(entry.Data))
		}
		switch val := v.(type) {
		case error:
			record.Fields[k] = val.Error()
		case fmt.Stringer:
			record.Fields[k] = val.String()
		default:
			record.Fields[k] = val
		}
	}
	return record
}

func (s *logStore) close() {
	s.closed.Store(true)
}
