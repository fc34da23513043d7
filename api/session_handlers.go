package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/liveboard/liveboard/whiteboard"
)

// CreateSession opens a session for a class.
func (s *Server) CreateSession(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleRequestError(c, InvalidInputError("class_id and centre_id are required"))
		return
	}

	session, err := s.registry.Create(c.Request.Context(), id, whiteboard.ClassRef{ClassID: req.ClassID, CentreID: req.CentreID}, req.Name)
	if err != nil {
		HandleRequestError(c, err)
		return
	}
	c.JSON(http.StatusCreated, CreateSessionResponse{
		SessionID:      session.ID,
		SocketEndpoint: socketEndpoint(session.ID),
		Session:        session,
	})
}

// ListSessions lists the sessions the caller may see. ?active=true limits
// the result to live sessions.
func (s *Server) ListSessions(c *gin.Context) {
	activeOnly := false
	if v := c.Query("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			HandleRequestError(c, InvalidInputError("active must be a boolean"))
			return
		}
		activeOnly = b
	}
	s.listSessions(c, activeOnly)
}

// ListActiveSessions lists live sessions the caller may see.
func (s *Server) ListActiveSessions(c *gin.Context) {
	s.listSessions(c, true)
}

func (s *Server) listSessions(c *gin.Context, activeOnly bool) {
	id, ok := identity(c)
	if !ok {
		return
	}
	sessions, err := s.registry.ListVisible(c.Request.Context(), id, activeOnly)
	if err != nil {
		HandleRequestError(c, err)
		return
	}
	out := make([]SessionResponse, 0, len(sessions))
	for _, session := range sessions {
		out = append(out, sessionResponse(session))
	}
	c.JSON(http.StatusOK, out)
}

// GetSession returns one session.
func (s *Server) GetSession(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	session, err := s.registry.Get(c.Request.Context(), c.Param("id"), id)
	if err != nil {
		HandleRequestError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionResponse(session))
}

// JoinSession checks that the caller may connect and returns the socket
// endpoint. The socket repeats the check when it opens.
func (s *Server) JoinSession(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	session, err := s.registry.AuthorizeJoin(c.Request.Context(), c.Param("id"), id)
	if err != nil {
		HandleRequestError(c, err)
		return
	}
	c.JSON(http.StatusOK, JoinResponse{
		SessionID:       session.ID,
		SocketEndpoint:  socketEndpoint(session.ID),
		ParticipantRole: id.Role,
	})
}

// EndSession ends a session and disconnects its participants.
func (s *Server) EndSession(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	session, err := s.registry.End(c.Request.Context(), c.Param("id"), id)
	if err != nil {
		HandleRequestError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionResponse(session))
}

// ListSnapshots returns a session's snapshots in sequence order.
func (s *Server) ListSnapshots(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	snaps, err := s.snapshots.ListVisible(c.Request.Context(), c.Param("id"), id)
	if err != nil {
		HandleRequestError(c, err)
		return
	}
	c.JSON(http.StatusOK, snaps)
}

// SaveSnapshot persists a snapshot outside a live connection.
func (s *Server) SaveSnapshot(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var req SaveSnapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleRequestError(c, InvalidInputError("payload is required"))
		return
	}
	snap, err := s.snapshots.Save(c.Request.Context(), c.Param("id"), id, req.Payload, req.Name)
	if err != nil {
		HandleRequestError(c, err)
		return
	}
	c.JSON(http.StatusCreated, snap)
}
