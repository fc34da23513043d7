package whiteboard

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/liveboard/liveboard/internal/db"
	"github.com/liveboard/liveboard/internal/slogging"
	"github.com/liveboard/liveboard/internal/uuidgen"
	"github.com/redis/go-redis/v9"
)

// Lifecycle event types
const (
	EventSessionCreated = "session.created"
	EventSessionEnded   = "session.ended"
	EventSnapshotSaved  = "snapshot.saved"
)

// EventPayload is one lifecycle event.
type EventPayload struct {
	EventType string         `json:"event_type"`
	SessionID string         `json:"session_id"`
	ClassID   string         `json:"class_id,omitempty"`
	CentreID  string         `json:"centre_id,omitempty"`
	ActorID   string         `json:"actor_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventEmitter publishes lifecycle events for downstream consumers.
type EventEmitter interface {
	EmitEvent(ctx context.Context, payload EventPayload) error
}

type noopEmitter struct{}

func (noopEmitter) EmitEvent(context.Context, EventPayload) error { return nil }

// RedisEventEmitter appends events to a Redis stream with deduplication.
type RedisEventEmitter struct {
	client    *redis.Client
	streamKey string
	maxLen    int64
	keys      *db.RedisKeyBuilder
	dedupTTL  time.Duration
}

// NewRedisEventEmitter creates an emitter writing to streamKey. maxLen caps
// the stream approximately; zero leaves it unbounded.
func NewRedisEventEmitter(client *redis.Client, streamKey string, maxLen int64) *RedisEventEmitter {
	return &RedisEventEmitter{
		client:    client,
		streamKey: streamKey,
		maxLen:    maxLen,
		keys:      db.NewRedisKeyBuilder(),
		dedupTTL:  60 * time.Second,
	}
}

// EmitEvent writes payload to the stream unless an identical event was
// emitted within the last few seconds. Stream failures are logged, not
// returned, so a Redis outage never fails a session operation.
func (e *RedisEventEmitter) EmitEvent(ctx context.Context, payload EventPayload) error {
	logger := slogging.Get()

	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now().UTC()
	}
	if e.client == nil {
		logger.Warn("Redis client not available, skipping event emission for %s", payload.EventType)
		return nil
	}

	fresh, err := e.client.SetNX(ctx, e.keys.EventDedupKey(e.fingerprint(payload)), "1", e.dedupTTL).Result()
	if err != nil {
		logger.Error("failed to check event deduplication: %v", err)
	} else if !fresh {
		logger.Debug("skipping duplicate event %s for session %s", payload.EventType, payload.SessionID)
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to serialize event payload: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: e.streamKey,
		Values: map[string]any{
			"event_type": payload.EventType,
			"session_id": payload.SessionID,
			"actor_id":   payload.ActorID,
			"timestamp":  payload.Timestamp.Format(time.RFC3339Nano),
			"payload":    string(body),
		},
	}
	if e.maxLen > 0 {
		args.MaxLen = e.maxLen
		args.Approx = true
	}
	if err := e.client.XAdd(ctx, args).Err(); err != nil {
		logger.Error("failed to emit event to Redis Stream: %v", err)
		return nil
	}

	logger.Debug("emitted event %s for session %s", payload.EventType, payload.SessionID)
	return nil
}

// fingerprint hashes type, session and a 5 second time window.
func (e *RedisEventEmitter) fingerprint(p EventPayload) string {
	window := p.Timestamp.Truncate(5 * time.Second).Unix()
	extra := ""
	if seq, ok := p.Data["sequence"]; ok {
		extra = fmt.Sprint(seq)
	}
	sum := sha256.Sum256(fmt.Appendf(nil, "%s:%s:%s:%d", p.EventType, p.SessionID, extra, window))
	return fmt.Sprintf("%x", sum[:8])
}

// relayMessage is what instances exchange over the relay channel.
type relayMessage struct {
	SessionID string `json:"session_id"`
	Origin    string `json:"origin"`
}

// RedisSessionRelay propagates session terminations between server
// instances over Redis Pub/Sub. Locally ended sessions are published; remote
// ones are handed to the local terminator.
type RedisSessionRelay struct {
	client     *redis.Client
	channel    string
	instanceID string
	local      SessionTerminator
}

// NewRedisSessionRelay creates a relay that forwards remote terminations to
// local.
func NewRedisSessionRelay(client *redis.Client, channel string, local SessionTerminator) *RedisSessionRelay {
	return &RedisSessionRelay{
		client:     client,
		channel:    channel,
		instanceID: uuidgen.NewString(uuidgen.EntityTypeInstance),
		local:      local,
	}
}

// InstanceID identifies this process on the relay channel.
func (r *RedisSessionRelay) InstanceID() string {
	return r.instanceID
}

// TerminateSession announces a locally ended session to other instances.
func (r *RedisSessionRelay) TerminateSession(sessionID string) {
	body, err := json.Marshal(relayMessage{SessionID: sessionID, Origin: r.instanceID})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := r.client.Publish(ctx, r.channel, body).Err(); err != nil {
		slogging.Get().Warn("Failed to relay end of session %s: %v", sessionID, err)
	}
}

// Run subscribes to the relay channel until ctx is cancelled. It returns
// nil on cancellation.
func (r *RedisSessionRelay) Run(ctx context.Context) error {
	logger := slogging.Get()
	sub := r.client.Subscribe(ctx, r.channel)
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil
		}
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}
	logger.Info("Session relay subscribed to %s as %s", r.channel, r.instanceID)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var m relayMessage
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil || m.SessionID == "" {
				logger.Warn("Ignoring malformed relay message on %s", r.channel)
				continue
			}
			if m.Origin == r.instanceID {
				continue
			}
			logger.Debug("Relay: session %s ended on instance %s", m.SessionID, m.Origin)
			r.local.TerminateSession(m.SessionID)
		}
	}
}
