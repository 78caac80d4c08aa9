package metrics

import (
	"sync"
	"time"

	"cryptosignal/logger"
)

// Metric is a structured metric event emitted by a pipeline component.
type Metric struct {
	Timestamp time.Time
	Component string
	Name      string
	Value     float64
	Type      string
	Unit      string
	Fields    logger.Fields
}

// MetricHandler consumes emitted metrics, e.g. to forward them to a sink.
type MetricHandler func(Metric)

// MetricHandlerID identifies a registered handler.
type MetricHandlerID uint64

var (
	metricHandlersMu    sync.RWMutex
	metricHandlers      = make(map[MetricHandlerID]MetricHandler)
	nextMetricHandlerID MetricHandlerID
)

// RegisterMetricHandler registers a handler that receives every emitted
// metric. A nil handler yields the zero id.
func RegisterMetricHandler(handler MetricHandler) MetricHandlerID {
	if handler == nil {
		return 0
	}

	metricHandlersMu.Lock()
	defer metricHandlersMu.Unlock()

	nextMetricHandlerID++
	id := nextMetricHandlerID
	metricHandlers[id] = handler
	return id
}

// UnregisterMetricHandler removes a handler. Unknown ids are ignored.
func UnregisterMetricHandler(id MetricHandlerID) {
	if id == 0 {
		return
	}

	metricHandlersMu.Lock()
	delete(metricHandlers, id)
	metricHandlersMu.Unlock()
}

// recordMetric logs the metric and fans it out to handlers. Metrics without a
// name or with a non-numeric value are dropped.
func recordMetric(log *logger.Log, component, name string, value interface{}, metricType string, fields logger.Fields) (Metric, bool) {
	if name == "" {
		return Metric{}, false
	}
	if log == nil {
		log = logger.GetLogger()
	}

	v, ok := toFloat64(value)
	if !ok {
		log.WithComponent(component).WithFields(logger.Fields{"metric": name}).Debug("non-numeric metric value; dropped")
		return Metric{}, false
	}
	if metricType == "" {
		metricType = "counter"
	}

	userFields := make(logger.Fields, len(fields))
	unit := "count"
	for k, fv := range fields {
		if k == "unit" {
			if s, ok := fv.(string); ok && s != "" {
				unit = s
			}
			continue
		}
		userFields[k] = fv
	}

	log.LogMetric(component, name, v, metricType, userFields)

	m := Metric{
		Timestamp: time.Now(),
		Component: component,
		Name:      name,
		Value:     v,
		Type:      metricType,
		Unit:      unit,
		Fields:    userFields,
	}
	dispatchMetric(m)
	return m, true
}

func dispatchMetric(m Metric) {
	metricHandlersMu.RLock()
	handlers := make([]MetricHandler, 0, len(metricHandlers))
	for _, h := range metricHandlers {
		handlers = append(handlers, h)
	}
	metricHandlersMu.RUnlock()

	for _, h := range handlers {
		h(m)
	}
}

func toFloat64(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
