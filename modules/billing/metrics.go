package billing

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts webhook deliveries and usage recordings. A nil registerer
// falls back to the default prometheus registry.
type Metrics struct {
	webhookEvents *prometheus.CounterVec
	usageRecords  *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voxnote",
			Subsystem: "billing",
			Name:      "webhook_events_total",
			Help:      "Paddle webhook deliveries by event type and outcome.",
		}, []string{"event_type", "result"}),
		usageRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voxnote",
			Subsystem: "billing",
			Name:      "usage_records_total",
			Help:      "Usage recording attempts by unit and outcome.",
		}, []string{"unit", "result"}),
	}
	reg.MustRegister(m.webhookEvents, m.usageRecords)
	return m
}

func (m *Metrics) WebhookProcessed(eventType, result string) {
	m.webhookEvents.WithLabelValues(eventType, result).Inc()
}

func (m *Metrics) UsageRecorded(unit, result string) {
	m.usageRecords.WithLabelValues(unit, result).Inc()
}
