package whiteboard

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/liveboard/liveboard/internal/db"
	"github.com/liveboard/liveboard/internal/slogging"
)

// HubConfig tunes connection handling.
type HubConfig struct {
	HeartbeatTimeout    time.Duration
	WriteTimeout        time.Duration
	SendBuffer          int
	EndGracePeriod      time.Duration
	MalformedFrameLimit int
	EchoToOrigin        bool
	MaxFrameBytes       int64
	MaxParticipants     int
	// GroupIdleLinger keeps an empty group alive briefly so a reconnecting
	// client does not pay for a new actor.
	GroupIdleLinger time.Duration
	// EndedRetention is how long ended session ids are remembered locally.
	EndedRetention      time.Duration
	SnapshotRetry       db.RetryConfig
	SnapshotSaveTimeout time.Duration
	Logging             slogging.WebSocketLoggingConfig
}

// DefaultHubConfig returns the production defaults.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		HeartbeatTimeout:    60 * time.Second,
		WriteTimeout:        10 * time.Second,
		SendBuffer:          256,
		EndGracePeriod:      2 * time.Second,
		MalformedFrameLimit: 20,
		MaxFrameBytes:       2 << 20,
		MaxParticipants:     200,
		GroupIdleLinger:     30 * time.Second,
		EndedRetention:      10 * time.Minute,
		SnapshotRetry:       db.DefaultRetryConfig(),
		SnapshotSaveTimeout: 10 * time.Second,
	}
}

func (c HubConfig) withDefaults() HubConfig {
	d := DefaultHubConfig()
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	if c.EndGracePeriod <= 0 {
		c.EndGracePeriod = d.EndGracePeriod
	}
	if c.MalformedFrameLimit <= 0 {
		c.MalformedFrameLimit = d.MalformedFrameLimit
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = d.MaxFrameBytes
	}
	if c.GroupIdleLinger <= 0 {
		c.GroupIdleLinger = d.GroupIdleLinger
	}
	if c.EndedRetention <= 0 {
		c.EndedRetention = d.EndedRetention
	}
	if c.SnapshotRetry.MaxRetries <= 0 {
		c.SnapshotRetry = d.SnapshotRetry
	}
	if c.SnapshotSaveTimeout <= 0 {
		c.SnapshotSaveTimeout = d.SnapshotSaveTimeout
	}
	return c
}

// pingInterval leaves the peer a tenth of the heartbeat window to answer.
func (c HubConfig) pingInterval() time.Duration {
	return c.HeartbeatTimeout * 9 / 10
}

// JoinAuthorizer decides whether an identity may connect to a session.
type JoinAuthorizer interface {
	AuthorizeJoin(ctx context.Context, sessionID string, actor Identity) (Session, error)
}

// SnapshotService persists and serves snapshots for live groups.
type SnapshotService interface {
	Save(ctx context.Context, sessionID string, actor Identity, payload json.RawMessage, name string) (Snapshot, error)
	Latest(ctx context.Context, sessionID string) (*Snapshot, error)
}

// HubStats is a point-in-time view for health checks.
type HubStats struct {
	Groups      int   `json:"groups"`
	Connections int64 `json:"connections"`
}

// Hub is the connection manager. It keeps only the session to group index;
// each group's membership belongs to that group's actor.
type Hub struct {
	cfg       HubConfig
	registry  JoinAuthorizer
	snapshots SnapshotService
	protocol  *Protocol
	metrics   Metrics

	mu      sync.Mutex
	groups  map[string]*group
	ended   map[string]time.Time
	closing bool

	conns  atomic.Int64
	actors sync.WaitGroup
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHubMetrics records connection and broadcast metrics through m.
func WithHubMetrics(m Metrics) HubOption {
	return func(h *Hub) {
		if m != nil {
			h.metrics = m
		}
	}
}

// WithProtocol replaces the default frame protocol.
func WithProtocol(p *Protocol) HubOption {
	return func(h *Hub) {
		if p != nil {
			h.protocol = p
		}
	}
}

// NewHub creates a connection manager.
func NewHub(cfg HubConfig, registry JoinAuthorizer, snapshots SnapshotService, opts ...HubOption) *Hub {
	h := &Hub{
		cfg:       cfg.withDefaults(),
		registry:  registry,
		snapshots: snapshots,
		metrics:   NoopMetrics{},
		groups:    make(map[string]*group),
		ended:     make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.protocol == nil {
		h.protocol = NewProtocol(DefaultMaxSnapshotBytes)
	}
	return h
}

// Open runs one participant connection and returns when it is finished.
// Authorization is checked here regardless of any earlier REST check; a
// rejected connection receives a close frame carrying the reason code.
func (h *Hub) Open(ctx context.Context, conn *websocket.Conn, sessionID string, id Identity) error {
	logger := slogging.Get()

	if _, err := h.registry.AuthorizeJoin(ctx, sessionID, id); err != nil {
		logger.Info("Rejected connection of %s to session %s: %v", id.UserID, sessionID, err)
		Reject(conn, err, h.cfg.WriteTimeout)
		return err
	}

	snap, err := h.snapshots.Latest(ctx, sessionID)
	if err != nil {
		logger.Warn("Could not load latest snapshot for session %s, joining without one: %v", sessionID, err)
		snap = nil
	}

	c := newClient(h, conn, sessionID, id)
	h.conns.Add(1)
	h.metrics.ConnectionOpened()
	go c.writePump()

	g, err := h.join(c, snap)
	if err != nil {
		logger.Info("Connection of %s to session %s refused: %v", id.UserID, sessionID, err)
		c.setClose(CloseCodeFor(err), closeText(err))
		close(c.send)
		h.finish(c, err)
		return err
	}

	c.readPump(g)
	h.finish(c, nil)
	return nil
}

// finish waits for the writer to flush its close frame, bounded so a stuck
// peer cannot hold the caller.
func (h *Hub) finish(c *client, err error) {
	select {
	case <-c.writerDone:
	case <-time.After(h.cfg.WriteTimeout + h.cfg.EndGracePeriod):
		c.forceClose()
	}
	h.conns.Add(-1)
	reason := "closed"
	if err != nil {
		reason = "rejected"
	} else if ci := c.closing.Load(); ci != nil {
		reason = fmt.Sprintf("code_%d", ci.code)
	}
	h.metrics.ConnectionClosed(reason)
}

// join registers c with its session group, retrying when it raced a group
// that was just stopping.
func (h *Hub) join(c *client, snap *Snapshot) (*group, error) {
	for attempt := 0; attempt < 3; attempt++ {
		g, err := h.groupFor(c.session)
		if err != nil {
			return nil, err
		}
		reply := make(chan error, 1)
		if !g.submit(joinReq{c: c, snapshot: snap, reply: reply}) {
			continue
		}
		select {
		case err := <-reply:
			if err != nil {
				return nil, err
			}
			return g, nil
		case <-g.done:
			// The actor replies before it can exit, so a reply may be waiting.
			select {
			case err := <-reply:
				if err != nil {
					return nil, err
				}
				return g, nil
			default:
			}
		}
	}
	return nil, fmt.Errorf("could not join session %s: %w", c.session, ErrShuttingDown)
}

func (h *Hub) groupFor(sessionID string) (*group, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closing {
		return nil, ErrShuttingDown
	}
	if _, ok := h.ended[sessionID]; ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrAlreadyEnded)
	}
	if g, ok := h.groups[sessionID]; ok {
		return g, nil
	}
	g := newGroup(h, sessionID)
	h.groups[sessionID] = g
	h.actors.Add(1)
	go g.run()
	return g, nil
}

// removeGroup drops g from the index if it is still the current group.
func (h *Hub) removeGroup(g *group) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.groups[g.sessionID] != g {
		return false
	}
	delete(h.groups, g.sessionID)
	return true
}

func (h *Hub) groupExited() {
	h.actors.Done()
}

// TerminateSession sends session-ended to every member of the session and
// closes their connections; anything still open after the grace period is
// closed forcibly. Later joins on this instance fail with ErrAlreadyEnded.
// Safe to call more than once and for sessions with no live group.
func (h *Hub) TerminateSession(sessionID string) {
	h.mu.Lock()
	h.ended[sessionID] = time.Now()
	g := h.groups[sessionID]
	delete(h.groups, sessionID)
	h.mu.Unlock()

	if g == nil {
		return
	}
	slogging.Get().Info("Terminating whiteboard group %s", sessionID)
	g.stop(terminateReq{
		close:       closeInfo{code: CloseAlreadyEnded, text: closeText(ErrAlreadyEnded)},
		notifyEnded: true,
	})
}

// Shutdown closes every group with going-away and waits for the actors.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	groups := make([]*group, 0, len(h.groups))
	for id, g := range h.groups {
		groups = append(groups, g)
		delete(h.groups, id)
	}
	h.mu.Unlock()

	for _, g := range groups {
		g.stop(terminateReq{close: closeInfo{code: CloseGoingAway, text: closeText(ErrShuttingDown)}})
	}

	done := make(chan struct{})
	go func() {
		h.actors.Wait()
		close(done)
	}()
	select {
	case <-done:
		slogging.Get().Info("Whiteboard hub stopped (%d groups closed)", len(groups))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("whiteboard hub shutdown: %w", ctx.Err())
	}
}

// Stats reports live groups and connections.
func (h *Hub) Stats() HubStats {
	h.mu.Lock()
	groups := len(h.groups)
	h.mu.Unlock()
	return HubStats{Groups: groups, Connections: h.conns.Load()}
}

// StartCleanupTimer forgets ended sessions after EndedRetention until ctx
// is done. The database keeps rejecting joins to them afterwards.
func (h *Hub) StartCleanupTimer(ctx context.Context) {
	ticker := time.NewTicker(max(h.cfg.EndedRetention/2, time.Second))
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.pruneEnded(time.Now())
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) pruneEnded(now time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	pruned := 0
	for id, at := range h.ended {
		if now.Sub(at) >= h.cfg.EndedRetention {
			delete(h.ended, id)
			pruned++
		}
	}
	return pruned
}

// Reject closes conn with the close code for err. Used when a connection
// is refused before it joins a group.
func Reject(conn *websocket.Conn, err error, timeout time.Duration) {
	msg := websocket.FormatCloseMessage(CloseCodeFor(err), closeText(err))
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(timeout))
	_ = conn.Close()
}
