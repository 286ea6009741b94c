package metrics

import (
	"fmt"
	"sync"
	"time"

	"arbflow/logger"
	"arbflow/models"
)

// Metric is one structured value reported through EmitMetric. Venue is set
// when the value belongs to a single exchange feed.
type Metric struct {
	Timestamp time.Time
	Component string
	Name      string
	Value     interface{}
	Type      string
	Venue     string
	Fields    logger.Fields
}

type MetricHandler func(Metric)

// MetricHandlerID is returned by RegisterMetricHandler; zero is never issued.
type MetricHandlerID uint64

type handlerSet struct {
	mu   sync.RWMutex
	last MetricHandlerID
	byID map[MetricHandlerID]MetricHandler
}

var handlers = &handlerSet{byID: make(map[MetricHandlerID]MetricHandler)}

func (s *handlerSet) add(h MetricHandler) MetricHandlerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last++
	s.byID[s.last] = h
	return s.last
}

func (s *handlerSet) remove(id MetricHandlerID) {
	s.mu.Lock()
	delete(s.byID, id)
	s.mu.Unlock()
}

func (s *handlerSet) snapshot() []MetricHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]MetricHandler, 0, len(s.byID))
	for _, h := range s.byID {
		out = append(out, h)
	}
	return out
}

// RegisterMetricHandler subscribes h to every emitted metric. A nil handler
// is ignored and yields the zero id.
func RegisterMetricHandler(h MetricHandler) MetricHandlerID {
	if h == nil {
		return 0
	}
	return handlers.add(h)
}

func UnregisterMetricHandler(id MetricHandlerID) {
	if id != 0 {
		handlers.remove(id)
	}
}

// EmitMetric logs the metric, publishes numeric values to CloudWatch when a
// client is configured and hands a copy to every registered handler. A
// "venue" field is lifted into Metric.Venue.
func EmitMetric(log *logger.Log, component, name string, value interface{}, metricType string, fields logger.Fields) {
	if name == "" {
		return
	}
	if metricType == "" {
		metricType = "counter"
	}
	if log == nil {
		log = logger.GetLogger()
	}

	metric := Metric{
		Timestamp: time.Now(),
		Component: component,
		Name:      name,
		Value:     value,
		Type:      metricType,
		Fields:    make(logger.Fields, len(fields)),
	}
	for k, v := range fields {
		if k == "venue" {
			metric.Venue = fmt.Sprint(v)
			continue
		}
		metric.Fields[k] = v
	}

	dims := make(logger.Fields, len(fields))
	for k, v := range fields {
		dims[k] = v
	}
	log.WithComponent(component).LogMetric(component, name, value, metricType, dims)

	for _, h := range handlers.snapshot() {
		h(metric)
	}
}

// EmitVenueMetric reports a value for one venue's feed. The venue becomes a
// CloudWatch dimension and the metric's Venue.
func EmitVenueMetric(log *logger.Log, venue models.Venue, name string, value interface{}, metricType string) {
	EmitMetric(log, string(venue)+"_feed", name, value, metricType, logger.Fields{"venue": venue.String()})
}
