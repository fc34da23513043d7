package whiteboard

import (
	"context"
	"encoding/json"
	"errors"
	"runtime/debug"
	"time"

	"github.com/liveboard/liveboard/internal/db"
	"github.com/liveboard/liveboard/internal/slogging"
)

// Requests handled by the group actor.
type (
	joinReq struct {
		c        *client
		snapshot *Snapshot
		reply    chan error
	}
	leaveReq struct {
		c      *client
		reason string
	}
	publishReq struct {
		from  *client
		frame Inbound
	}
	snapshotResult struct {
		c    *client
		snap Snapshot
		err  error
	}
	terminateReq struct {
		close       closeInfo
		notifyEnded bool
	}
)

// group is the broadcast group of one session. Its member table is owned by
// the run goroutine; everything else talks to it through inbox.
type group struct {
	sessionID string
	hub       *Hub
	inbox     chan any
	terminate chan terminateReq
	done      chan struct{}

	// ctx is cancelled when the group stops, aborting pending saves.
	ctx    context.Context
	cancel context.CancelFunc

	members map[string]*client
}

func newGroup(h *Hub, sessionID string) *group {
	ctx, cancel := context.WithCancel(context.Background())
	return &group{
		sessionID: sessionID,
		hub:       h,
		inbox:     make(chan any, h.cfg.SendBuffer),
		terminate: make(chan terminateReq, 1),
		done:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		members:   make(map[string]*client),
	}
}

// submit hands msg to the actor. It reports false once the group is gone.
func (g *group) submit(msg any) bool {
	select {
	case g.inbox <- msg:
		return true
	case <-g.done:
		return false
	}
}

// stop asks the actor to end the group. Repeated calls are ignored.
func (g *group) stop(req terminateReq) {
	select {
	case g.terminate <- req:
	default:
	}
}

func (g *group) run() {
	logger := slogging.Get()
	g.hub.metrics.GroupOpened()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("PANIC in whiteboard group %s: %v, Stack: %s", g.sessionID, r, debug.Stack())
			g.shutdown(terminateReq{close: closeInfo{code: CloseTryAgainLater, text: "internal error"}})
			g.hub.removeGroup(g)
		}
		g.cancel()
		close(g.done)
		g.hub.metrics.GroupClosed()
		g.hub.groupExited()
	}()

	idle := time.NewTimer(g.hub.cfg.GroupIdleLinger)
	defer idle.Stop()

	for {
		// Termination wins over queued traffic.
		select {
		case req := <-g.terminate:
			g.shutdown(req)
			return
		default:
		}

		select {
		case req := <-g.terminate:
			g.shutdown(req)
			return
		case msg := <-g.inbox:
			g.handle(msg)
			if len(g.members) == 0 {
				resetTimer(idle, g.hub.cfg.GroupIdleLinger)
			}
		case <-idle.C:
			if len(g.members) == 0 && g.hub.removeGroup(g) {
				logger.Debug("Whiteboard group %s idle, stopping", g.sessionID)
				return
			}
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

func (g *group) handle(msg any) {
	switch m := msg.(type) {
	case joinReq:
		g.join(m)
	case leaveReq:
		if _, ok := g.members[m.c.id]; ok {
			g.remove(m.c, m.reason)
		}
	case publishReq:
		g.publish(m)
	case snapshotResult:
		g.snapshotDone(m)
	}
}

func (g *group) join(req joinReq) {
	limit := g.hub.cfg.MaxParticipants
	if limit > 0 && len(g.members) >= limit {
		req.reply <- ErrGroupFull
		return
	}
	c := req.c
	g.members[c.id] = c

	participants := make([]ParticipantInfo, 0, len(g.members))
	for _, m := range g.members {
		participants = append(participants, m.info())
	}
	// The joiner's queue is empty, so the snapshot is its first frame.
	g.offer(c, g.encode(FrameCurrentSnapshot, CurrentSnapshotPayload{
		SessionID:    g.sessionID,
		Snapshot:     req.snapshot,
		Participants: participants,
	}, nil))
	req.reply <- nil

	slogging.Get().Info("User %s joined whiteboard session %s (%d participants)", c.identity.UserID, g.sessionID, len(g.members))
	info := c.info()
	g.fanout(FrameJoinNotify, g.encode(FrameJoinNotify, MembershipPayload{
		Participant:       info,
		ParticipantsCount: len(g.members),
	}, &info), c)
}

// remove deregisters c, closes its queue and tells the others.
func (g *group) remove(c *client, reason string) {
	delete(g.members, c.id)
	close(c.send)

	slogging.Get().Info("User %s left whiteboard session %s (%s)", c.identity.UserID, g.sessionID, reason)
	info := c.info()
	g.fanout(FrameLeaveNotify, g.encode(FrameLeaveNotify, MembershipPayload{
		Participant:       info,
		ParticipantsCount: len(g.members),
		Reason:            reason,
	}, &info), nil)
}

func (g *group) publish(req publishReq) {
	c := req.from
	if _, ok := g.members[c.id]; !ok {
		return
	}
	if !req.frame.Broadcast() {
		go g.saveSnapshot(c, *req.frame.Snapshot)
		return
	}
	info := c.info()
	frame := g.encode(req.frame.Type, req.frame.Payload, &info)
	if g.hub.cfg.EchoToOrigin {
		g.fanout(req.frame.Type, frame, nil)
		return
	}
	g.fanout(req.frame.Type, frame, c)
}

// fanout enqueues frame to every member except skip. Members whose queue
// is full are dropped afterwards so the loop never blocks.
func (g *group) fanout(kind string, frame []byte, skip *client) {
	if frame == nil {
		return
	}
	var dropped []*client
	n := 0
	for _, m := range g.members {
		if m == skip {
			continue
		}
		if g.offer(m, frame) {
			n++
		} else {
			dropped = append(dropped, m)
		}
	}
	g.hub.metrics.FrameBroadcast(kind, n)

	for _, m := range dropped {
		if _, ok := g.members[m.id]; !ok {
			continue
		}
		slogging.Get().Warn("Dropping slow subscriber %s from session %s", m.identity.UserID, g.sessionID)
		g.hub.metrics.SubscriberDropped("backpressure")
		m.setClose(CloseTryAgainLater, closeText(ErrBackpressure))
		g.remove(m, "too_slow")
	}
}

func (g *group) offer(c *client, frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// offerFinal enqueues the last frame a member will get. A full queue gives
// up its oldest frames to make room, since nothing queued after it matters
// once the session is over.
func (g *group) offerFinal(c *client, frame []byte) {
	for {
		if g.offer(c, frame) {
			return
		}
		select {
		case <-c.send:
		default:
			// The writer drained the queue between the two attempts.
		}
	}
}

func (g *group) encode(kind string, payload any, origin *ParticipantInfo) []byte {
	data, err := json.Marshal(OutboundFrame{
		Type:              kind,
		Payload:           payload,
		OriginParticipant: origin,
		Timestamp:         time.Now().UTC(),
	})
	if err != nil {
		slogging.Get().Error("Failed to encode %s frame for session %s: %v", kind, g.sessionID, err)
		return nil
	}
	return data
}

// saveSnapshot runs off the actor so a slow database never stalls the
// group. Persistence failures are retried with backoff.
func (g *group) saveSnapshot(c *client, req SnapshotRequestPayload) {
	cfg := g.hub.cfg
	ctx, cancel := context.WithTimeout(g.ctx, cfg.SnapshotSaveTimeout)
	defer cancel()

	var snap Snapshot
	err := db.Retry(ctx, cfg.SnapshotRetry, func(err error) bool {
		return errors.Is(err, ErrPersistence)
	}, func(ctx context.Context) error {
		s, err := g.hub.snapshots.Save(ctx, g.sessionID, c.identity, req.Payload, req.Name)
		if err != nil {
			return err
		}
		snap = s
		return nil
	})
	g.submit(snapshotResult{c: c, snap: snap, err: err})
}

func (g *group) snapshotDone(res snapshotResult) {
	if res.err == nil {
		created := res.snap.CreatedAt
		g.fanout(FrameSnapshotSaved, g.encode(FrameSnapshotSaved, SnapshotSavedPayload{
			OK:        true,
			Sequence:  res.snap.Sequence,
			Author:    res.snap.AuthorID,
			Name:      res.snap.Name,
			CreatedAt: &created,
		}, nil), nil)
		return
	}

	slogging.Get().Warn("Snapshot request from %s in session %s failed: %v", res.c.identity.UserID, g.sessionID, res.err)
	if _, ok := g.members[res.c.id]; !ok {
		return
	}
	frame := g.encode(FrameSnapshotSaved, SnapshotSavedPayload{OK: false, Reason: snapshotFailureReason(res.err)}, nil)
	if frame != nil && !g.offer(res.c, frame) {
		g.hub.metrics.SubscriberDropped("backpressure")
		res.c.setClose(CloseTryAgainLater, closeText(ErrBackpressure))
		g.remove(res.c, "too_slow")
	}
}

func snapshotFailureReason(err error) string {
	switch {
	case errors.Is(err, ErrForbidden):
		return ReasonForbidden
	case errors.Is(err, ErrNotFound):
		return ReasonNotFound
	case errors.Is(err, ErrMalformedMessage):
		return ReasonInvalid
	default:
		return ReasonPersistenceFailure
	}
}

// shutdown ends every member connection. With notifyEnded each member gets
// session-ended as its final frame. Connections still open after the grace
// period are closed forcibly.
func (g *group) shutdown(req terminateReq) {
	var frame []byte
	if req.notifyEnded {
		frame = g.encode(FrameSessionEnded, SessionEndedPayload{SessionID: g.sessionID, Reason: "ended"}, nil)
	}

	conns := make([]*client, 0, len(g.members))
	for id, m := range g.members {
		if frame != nil {
			g.offerFinal(m, frame)
		}
		m.setClose(req.close.code, req.close.text)
		close(m.send)
		delete(g.members, id)
		conns = append(conns, m)
	}
	g.cancel()

	if len(conns) == 0 {
		return
	}
	slogging.Get().Info("Closing %d connections of whiteboard session %s (code %d)", len(conns), g.sessionID, req.close.code)
	time.AfterFunc(g.hub.cfg.EndGracePeriod, func() {
		for _, c := range conns {
			select {
			case <-c.writerDone:
			default:
				c.forceClose()
			}
		}
	})
}
