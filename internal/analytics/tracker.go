package analytics

import (
	"RampTracker/internal/guard"
	"RampTracker/internal/observability"

	"github.com/sirupsen/logrus"
)

const (
	EventSubmissionStarted   = "submission_started"
	EventSubmissionCompleted = "submission_completed"
	EventSubmissionFailed    = "submission_failed"
	EventSwapCompleted       = "swap_completed"
	EventSwapFailed          = "swap_failed"
)

// Tracker emits analytics events as structured log lines and counters.
type Tracker struct {
	log     *logrus.Entry
	metrics *observability.Metrics
	seen    *guard.Registry
}

func NewTracker(log *logrus.Entry, metrics *observability.Metrics, seen *guard.Registry) *Tracker {
	if seen == nil {
		seen = guard.NewRegistry()
	}
	return &Tracker{log: log.WithField("component", "analytics"), metrics: metrics, seen: seen}
}

// Track emits event for key. An event is emitted at most once per
// (event, key) for the life of the process.
func (t *Tracker) Track(event, key string, props map[string]any) bool {
	if !t.seen.TryMark(event + ":" + key) {
		return false
	}
	t.log.WithFields(logrus.Fields(props)).WithFields(logrus.Fields{
		"event": event,
		"key":   key,
	}).Info("analytics event")
	if t.metrics != nil {
		t.metrics.AnalyticsEvents.WithLabelValues(event).Inc()
	}
	return true
}
