package whiteboard

import "time"

// Metrics receives whiteboard measurements. The hub and snapshot store call
// it from hot paths, so implementations must not block.
type Metrics interface {
	ConnectionOpened()
	ConnectionClosed(reason string)
	GroupOpened()
	GroupClosed()
	FrameReceived(kind string)
	FrameRejected(reason string)
	FrameBroadcast(kind string, recipients int)
	SubscriberDropped(reason string)
	SnapshotSaved(d time.Duration, outcome string)
}

// Snapshot save outcomes reported to Metrics.
const (
	OutcomeOK        = "ok"
	OutcomeForbidden = "forbidden"
	OutcomeNotFound  = "not_found"
	OutcomeFailed    = "persistence_failure"
	OutcomeInvalid   = "invalid"
)

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) ConnectionOpened()                   {}
func (NoopMetrics) ConnectionClosed(string)             {}
func (NoopMetrics) GroupOpened()                        {}
func (NoopMetrics) GroupClosed()                        {}
func (NoopMetrics) FrameReceived(string)                {}
func (NoopMetrics) FrameRejected(string)                {}
func (NoopMetrics) FrameBroadcast(string, int)          {}
func (NoopMetrics) SubscriberDropped(string)            {}
func (NoopMetrics) SnapshotSaved(time.Duration, string) {}
