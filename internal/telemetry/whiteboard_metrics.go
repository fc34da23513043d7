package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// WhiteboardMetrics records live session activity with OpenTelemetry
// instruments. It satisfies whiteboard.Metrics.
type WhiteboardMetrics struct {
	connectionsActive  metric.Int64UpDownCounter
	connectionsClosed  metric.Int64Counter
	groupsActive       metric.Int64UpDownCounter
	framesReceived     metric.Int64Counter
	framesRejected     metric.Int64Counter
	framesDelivered    metric.Int64Counter
	subscribersDropped metric.Int64Counter
	snapshotDuration   metric.Float64Histogram
}

// NewWhiteboardMetrics creates the instruments on meter.
func NewWhiteboardMetrics(meter metric.Meter) (*WhiteboardMetrics, error) {
	m := &WhiteboardMetrics{}
	var err error

	if m.connectionsActive, err = meter.Int64UpDownCounter(
		"liveboard_ws_connections_active",
		metric.WithDescription("Open whiteboard connections"),
	); err != nil {
		return nil, fmt.Errorf("failed to create connection gauge: %w", err)
	}
	if m.connectionsClosed, err = meter.Int64Counter(
		"liveboard_ws_connections_closed",
		metric.WithDescription("Closed whiteboard connections by reason"),
	); err != nil {
		return nil, fmt.Errorf("failed to create connection counter: %w", err)
	}
	if m.groupsActive, err = meter.Int64UpDownCounter(
		"liveboard_groups_active",
		metric.WithDescription("Session broadcast groups running on this instance"),
	); err != nil {
		return nil, fmt.Errorf("failed to create group gauge: %w", err)
	}
	if m.framesReceived, err = meter.Int64Counter(
		"liveboard_frames_received",
		metric.WithDescription("Valid frames received from participants"),
	); err != nil {
		return nil, fmt.Errorf("failed to create frame counter: %w", err)
	}
	if m.framesRejected, err = meter.Int64Counter(
		"liveboard_frames_rejected",
		metric.WithDescription("Frames dropped by validation"),
	); err != nil {
		return nil, fmt.Errorf("failed to create rejection counter: %w", err)
	}
	if m.framesDelivered, err = meter.Int64Counter(
		"liveboard_frames_delivered",
		metric.WithDescription("Frames queued to recipients"),
	); err != nil {
		return nil, fmt.Errorf("failed to create delivery counter: %w", err)
	}
	if m.subscribersDropped, err = meter.Int64Counter(
		"liveboard_subscribers_dropped",
		metric.WithDescription("Participants disconnected by the server"),
	); err != nil {
		return nil, fmt.Errorf("failed to create drop counter: %w", err)
	}
	if m.snapshotDuration, err = meter.Float64Histogram(
		"liveboard_snapshot_save_duration_seconds",
		metric.WithDescription("Snapshot save latency by outcome"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	); err != nil {
		return nil, fmt.Errorf("failed to create snapshot histogram: %w", err)
	}
	return m, nil
}

func (m *WhiteboardMetrics) ConnectionOpened() {
	m.connectionsActive.Add(context.Background(), 1)
}

func (m *WhiteboardMetrics) ConnectionClosed(reason string) {
	ctx := context.Background()
	m.connectionsActive.Add(ctx, -1)
	m.connectionsClosed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *WhiteboardMetrics) GroupOpened() { m.groupsActive.Add(context.Background(), 1) }
func (m *WhiteboardMetrics) GroupClosed() { m.groupsActive.Add(context.Background(), -1) }

func (m *WhiteboardMetrics) FrameReceived(kind string) {
	m.framesReceived.Add(context.Background(), 1, metric.WithAttributes(attribute.String("type", kind)))
}

func (m *WhiteboardMetrics) FrameRejected(reason string) {
	m.framesRejected.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// FrameBroadcast counts one delivery per recipient.
func (m *WhiteboardMetrics) FrameBroadcast(kind string, recipients int) {
	if recipients <= 0 {
		return
	}
	m.framesDelivered.Add(context.Background(), int64(recipients), metric.WithAttributes(attribute.String("type", kind)))
}

func (m *WhiteboardMetrics) SubscriberDropped(reason string) {
	m.subscribersDropped.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *WhiteboardMetrics) SnapshotSaved(d time.Duration, outcome string) {
	m.snapshotDuration.Record(context.Background(), d.Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))
}
