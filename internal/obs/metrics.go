// Package obs holds the process-wide feed ingestion metrics.
package obs

import "github.com/prometheus/client_golang/prometheus"

var (
	PacketsReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feed_packets_received_total",
		Help: "Datagrams received across all multicast feeds.",
	})

	MessagesDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feed_messages_delivered_total",
		Help: "Messages delivered in sequence to feed decoders.",
	})

	DuplicatesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feed_duplicates_dropped_total",
		Help: "Messages discarded because their sequence was already delivered.",
	})

	GapsDetected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feed_gaps_detected_total",
		Help: "Sequence discontinuities observed on the live stream.",
	})

	MessagesRecovered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feed_messages_recovered_total",
		Help: "Messages spliced back in via retransmission.",
	})

	PartialRecoveries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feed_partial_recoveries_total",
		Help: "Gap repairs that ended before covering the full missing range.",
	})

	MessagesLost = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feed_messages_lost_total",
		Help: "Messages never delivered after recovery was exhausted.",
	})

	MalformedFields = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feed_malformed_fields_total",
		Help: "Messages whose numeric fields carried non-digit garbage.",
	})

	BatchesPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feed_batches_published_total",
		Help: "Sampled update batches sent to the registry.",
	})

	UpdatesPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feed_updates_published_total",
		Help: "Individual updates contained in published batches.",
	})
)

func init() {
	prometheus.MustRegister(
		PacketsReceived,
		MessagesDelivered,
		DuplicatesDropped,
		GapsDetected,
		MessagesRecovered,
		PartialRecoveries,
		MessagesLost,
		MalformedFields,
		BatchesPublished,
		UpdatesPublished,
	)
}
