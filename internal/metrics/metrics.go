package metrics

import (
	"campusconnect/backend/internal/apperr"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "campus",
		Subsystem: "chat",
		Name:      "operation_duration_seconds",
		Help:      "Latency of core chat operations by outcome.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "outcome"})

	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "campus",
		Subsystem: "chat",
		Name:      "messages_sent_total",
		Help:      "Messages committed to any chat.",
	})

	VotesCast = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "campus",
		Subsystem: "polls",
		Name:      "votes_cast_total",
		Help:      "Votes recorded across all polls.",
	})

	EventPublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "campus",
		Subsystem: "events",
		Name:      "publish_failures_total",
		Help:      "Events that could not be handed to a publisher after commit.",
	}, []string{"type"})

	OpenStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "campus",
		Subsystem: "hub",
		Name:      "open_streams",
		Help:      "Currently subscribed SSE clients.",
	})
)

// Outcome is "ok" for nil and the lower-cased error kind otherwise.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	switch apperr.KindOf(err) {
	case apperr.KindInvalidArgument:
		return "invalid_argument"
	case apperr.KindForbidden:
		return "forbidden"
	case apperr.KindNotFound:
		return "not_found"
	case apperr.KindConflict:
		return "conflict"
	case apperr.KindTimeout:
		return "timeout"
	case apperr.KindUnavailable:
		return "unavailable"
	}
	return "internal"
}

// Observe records the duration of op. Meant for defer with a pointer to the
// caller's named error result:
//
//	defer metrics.Observe("send_message", time.Now(), &err)
func Observe(op string, start time.Time, err *error) {
	var e error
	if err != nil {
		e = *err
	}
	OperationDuration.WithLabelValues(op, Outcome(e)).Observe(time.Since(start).Seconds())
}
