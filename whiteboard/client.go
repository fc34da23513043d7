package whiteboard

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/liveboard/liveboard/internal/slogging"
	"github.com/liveboard/liveboard/internal/uuidgen"
)

// closeInfo is the close frame a connection ends with.
type closeInfo struct {
	code int
	text string
}

// client is one participant connection. The reader runs in the goroutine
// that called Hub.Open; the writer is the only goroutine writing data
// frames. Once joined, send is owned by the group actor, which is the only
// party allowed to send on or close it.
type client struct {
	id       string
	identity Identity
	session  string
	joinedAt time.Time
	conn     *websocket.Conn
	hub      *Hub

	send       chan []byte
	writerDone chan struct{}
	closing    atomic.Pointer[closeInfo]
	closeOnce  sync.Once
}

func newClient(h *Hub, conn *websocket.Conn, sessionID string, id Identity) *client {
	return &client{
		id:         uuidgen.NewString(uuidgen.EntityTypeConnection),
		identity:   id,
		session:    sessionID,
		joinedAt:   time.Now().UTC(),
		conn:       conn,
		hub:        h,
		send:       make(chan []byte, h.cfg.SendBuffer),
		writerDone: make(chan struct{}),
	}
}

func (c *client) info() ParticipantInfo {
	name := c.identity.DisplayName
	if name == "" {
		name = c.identity.UserID
	}
	return ParticipantInfo{
		ConnectionID: c.id,
		UserID:       c.identity.UserID,
		DisplayName:  name,
		Role:         c.identity.Role,
		JoinedAt:     c.joinedAt,
	}
}

// setClose records why the connection ends. The first caller wins.
func (c *client) setClose(code int, text string) {
	c.closing.CompareAndSwap(nil, &closeInfo{code: code, text: text})
}

func (c *client) closeFrame() closeInfo {
	if ci := c.closing.Load(); ci != nil {
		return *ci
	}
	return closeInfo{code: CloseNormal}
}

// forceClose drops the transport, unblocking both pumps.
func (c *client) forceClose() {
	c.closeOnce.Do(func() {
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// writePump drains send to the socket and pings to keep the peer honest.
// A closed send channel ends the connection with the recorded close code.
func (c *client) writePump() {
	cfg := c.hub.cfg
	ticker := time.NewTicker(cfg.pingInterval())
	defer func() {
		ticker.Stop()
		c.forceClose()
		close(c.writerDone)
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if !ok {
				ci := c.closeFrame()
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(ci.code, ci.text))
				return
			}
			slogging.LogWebSocketMessage(slogging.WSMessageOutbound, c.session, c.identity.UserID, "", msg, cfg.Logging)
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				slogging.Get().Debug("Write to connection %s failed: %v", c.id, err)
				c.hub.metrics.SubscriberDropped("write_failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump feeds validated frames to the group in arrival order until the
// socket fails, the heartbeat lapses or the malformed frame limit is hit.
func (c *client) readPump(g *group) {
	cfg := c.hub.cfg
	logger := slogging.Get()

	c.conn.SetReadLimit(cfg.MaxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(cfg.HeartbeatTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.HeartbeatTimeout))
	})

	malformed := 0
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logger.Debug("Connection %s in session %s closed: %v", c.id, c.session, err)
			}
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(cfg.HeartbeatTimeout))

		in, err := c.hub.protocol.Parse(data)
		if err != nil {
			malformed++
			c.hub.metrics.FrameRejected("malformed")
			logger.Debug("Dropped frame %d/%d from %s in session %s: %v", malformed, cfg.MalformedFrameLimit, c.identity.UserID, c.session, err)
			if malformed >= cfg.MalformedFrameLimit {
				logger.Warn("Disconnecting %s from session %s after %d malformed frames", c.identity.UserID, c.session, malformed)
				c.setClose(CloseUnauthenticated, closeText(ErrMalformedMessage))
				break
			}
			continue
		}
		slogging.LogWebSocketMessage(slogging.WSMessageInbound, c.session, c.identity.UserID, in.Type, data, cfg.Logging)
		c.hub.metrics.FrameReceived(in.Type)

		if !g.submit(publishReq{from: c, frame: in}) {
			break
		}
	}
	g.submit(leaveReq{c: c, reason: "left"})
}
