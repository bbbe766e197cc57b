package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	eventsForwarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toe",
			Subsystem: "events",
			Name:      "forwarded_total",
			Help:      "Events forwarded by a stage, by event kind.",
		},
		[]string{"stage", "kind"},
	)
	acksDelayed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "toe",
			Subsystem: "events",
			Name:      "acks_delayed_total",
			Help:      "ACK events deferred by the ACK delayer.",
		},
	)
	sessionInserts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toe",
			Subsystem: "session",
			Name:      "inserts_total",
			Help:      "Session table insert outcomes.",
		},
		[]string{"table", "result"},
	)
	sessionsReaped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toe",
			Subsystem: "session",
			Name:      "reaped_total",
			Help:      "Sessions reclaimed after a batch deletion mark.",
		},
		[]string{"table"},
	)
	readRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toe",
			Subsystem: "rx_app",
			Name:      "read_commands_total",
			Help:      "Rx buffer memory read commands, by split state.",
		},
		[]string{"split"},
	)
	listenReplies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toe",
			Subsystem: "rx_app",
			Name:      "listen_replies_total",
			Help:      "Listen port replies relayed to the application.",
		},
		[]string{"accepted"},
	)
	segmentsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toe",
			Subsystem: "tx",
			Name:      "segments_total",
			Help:      "TCP control segments emitted by the transmitter.",
		},
		[]string{"kind"},
	)
	packetsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toe",
			Subsystem: "rx",
			Name:      "dropped_total",
			Help:      "Packets and requests dropped, by reason.",
		},
		[]string{"reason"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(eventsForwarded, acksDelayed, sessionInserts, sessionsReaped,
			readRequests, listenReplies, segmentsEmitted, packetsDropped)
	})
}

func RecordEventForwarded(stage, kind string) {
	RegisterMetrics()
	eventsForwarded.WithLabelValues(stage, kind).Inc()
}

func RecordAckDelayed() {
	RegisterMetrics()
	acksDelayed.Inc()
}

func RecordSessionInsert(table, result string) {
	RegisterMetrics()
	sessionInserts.WithLabelValues(table, result).Inc()
}

func RecordSessionReaped(table string) {
	RegisterMetrics()
	sessionsReaped.WithLabelValues(table).Inc()
}

func RecordReadCommand(split bool) {
	RegisterMetrics()
	readRequests.WithLabelValues(strconv.FormatBool(split)).Inc()
}

func RecordListenReply(accepted bool) {
	RegisterMetrics()
	listenReplies.WithLabelValues(strconv.FormatBool(accepted)).Inc()
}

func RecordSegment(kind string) {
	RegisterMetrics()
	segmentsEmitted.WithLabelValues(kind).Inc()
}

func RecordDrop(reason string) {
	RegisterMetrics()
	packetsDropped.WithLabelValues(reason).Inc()
}
