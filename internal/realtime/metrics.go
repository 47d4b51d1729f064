package realtime

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	connectionsActive   prometheus.Gauge
	subscriptionsActive prometheus.Gauge
	broadcastsTotal     prometheus.Counter
	eventsDelivered     prometheus.Counter
	deadConnsPruned     prometheus.Counter
	messagesTotal       *prometheus.CounterVec
}

func newMetrics() *metrics {
	return &metrics{
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docflow_realtime_connections_active",
			Help: "Current number of live websocket connections.",
		}),
		subscriptionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docflow_realtime_subscriptions_active",
			Help: "Current number of job subscriptions across all connections.",
		}),
		broadcastsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docflow_realtime_broadcasts_total",
			Help: "Total progress broadcasts fanned out by the hub.",
		}),
		eventsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docflow_realtime_events_delivered_total",
			Help: "Total progress events delivered to individual subscribers.",
		}),
		deadConnsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docflow_realtime_dead_connections_pruned_total",
			Help: "Total connections pruned from subscriber sets after delivery failures.",
		}),
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docflow_realtime_messages_total",
			Help: "Total inbound websocket messages by type.",
		}, []string{"type"}),
	}
}

func (m *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.connectionsActive,
		m.subscriptionsActive,
		m.broadcastsTotal,
		m.eventsDelivered,
		m.deadConnsPruned,
		m.messagesTotal,
	}
}

// messageTypeLabel bounds metric label cardinality to the known tags.
func messageTypeLabel(messageType string) string {
	switch messageType {
	case msgTypeSubscribe, msgTypeUnsubscribe, msgTypePing:
		return messageType
	default:
		return "unknown"
	}
}
