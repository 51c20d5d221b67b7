package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline metrics, exposed on the health server's /metrics endpoint. The
// handler's atomic counters remain the source of truth for its own
// shutdown report; these mirror them for scraping.
var (
	MessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracker_messages_received_total",
		Help: "Detection messages delivered by the broker.",
	})

	MessagesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracker_messages_published_total",
		Help: "Scene messages published to the broker.",
	})

	MessagesRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracker_messages_rejected_total",
		Help: "Detection messages rejected during validation.",
	})

	BrokerConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tracker_broker_connected",
		Help: "1 when the broker connection is up, 0 otherwise.",
	})

	ActiveTracks = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tracker_active_tracks",
		Help: "Live tracks per object category.",
	}, []string{"category"})
)
