package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Inbound message kinds.
const (
	InboundResponse  = "response"
	InboundPush      = "push"
	InboundDropped   = "dropped"
	InboundMalformed = "malformed"
)

// Request results.
const (
	ResultOK          = "ok"
	ResultTimeout     = "timeout"
	ResultClosed      = "closed"
	ResultInvalidated = "invalidated"
	ResultCanceled    = "canceled"
	ResultError       = "error"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cast_requests_total",
		Help: "Total number of correlated requests by namespace, message type and result",
	}, []string{"namespace", "type", "result"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cast_request_duration_seconds",
		Help:    "Time from sending a request until its response, timeout or failure",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"namespace", "type"})

	inboundTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cast_inbound_messages_total",
		Help: "Total number of inbound messages by namespace and kind (response, push, dropped, malformed)",
	}, []string{"namespace", "kind"})

	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cast_sessions_active",
		Help: "Number of open cast sessions",
	})

	heartbeatMissed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cast_heartbeat_missed_total",
		Help: "Total number of heartbeat intervals that passed without inbound traffic",
	})

	sessionsInvalidated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cast_requests_invalidated_total",
		Help: "Total number of pending requests failed because their application session ended",
	})
)

// ObserveInbound records one inbound message.
func ObserveInbound(namespace, kind string) {
	if namespace == "" {
		namespace = "unknown"
	}
	inboundTotal.WithLabelValues(namespace, kind).Inc()
}

// ObserveRequest records the outcome of one correlated request.
func ObserveRequest(namespace, msgType, result string, d time.Duration) {
	if msgType == "" {
		msgType = "unknown"
	}
	requestsTotal.WithLabelValues(namespace, msgType, result).Inc()
	requestDuration.WithLabelValues(namespace, msgType).Observe(d.Seconds())
}

// SessionOpened and SessionClosed track the number of live sessions.
func SessionOpened() { sessionsActive.Inc() }

func SessionClosed() { sessionsActive.Dec() }

// HeartbeatMissed records one silent heartbeat interval.
func HeartbeatMissed() { heartbeatMissed.Inc() }

// RequestsInvalidated records n requests failed by a session change.
func RequestsInvalidated(n int) {
	if n > 0 {
		sessionsInvalidated.Add(float64(n))
	}
}
