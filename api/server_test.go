package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/liveboard/liveboard/api/models"
	"github.com/liveboard/liveboard/auth"
	"github.com/liveboard/liveboard/internal/config"
	"github.com/liveboard/liveboard/internal/db"
	"github.com/liveboard/liveboard/whiteboard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testUser struct {
	sub, role, centre string
	taught, enrolled  []string
}

var (
	userTeacher = testUser{sub: "teacher-1", role: "TEACHER", centre: "centre-1", taught: []string{"class-5"}}
	userStudent = testUser{sub: "student-a", role: "STUDENT", enrolled: []string{"class-5"}}
	userOther   = testUser{sub: "student-z", role: "STUDENT", enrolled: []string{"class-9"}}
	userParent  = testUser{sub: "parent-1", role: "PARENT"}
	userManager = testUser{sub: "mgr-1", role: "CENTRE_MANAGER", centre: "centre-1"}
)

type apiFixture struct {
	t        *testing.T
	router   *gin.Engine
	verifier *auth.Verifier
	hub      *whiteboard.Hub
	healthy  error
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	g, err := db.NewGormDB(db.GormConfig{Type: db.DatabaseTypeSQLite, SQLitePath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	require.NoError(t, g.AutoMigrate(models.AllModels()...))

	verifier, err := auth.NewVerifier(config.JWTConfig{Secret: "api-test-secret-0123456789abcdef", SigningMethod: "HS256"})
	require.NoError(t, err)

	sessions := whiteboard.NewGormSessionStore(g.DB())
	registry := whiteboard.NewRegistry(sessions)
	snapshots := whiteboard.NewSnapshotStore(sessions, whiteboard.NewGormSnapshotRepository(g.DB()))
	cfg := whiteboard.DefaultHubConfig()
	cfg.EndGracePeriod = 300 * time.Millisecond
	hub := whiteboard.NewHub(cfg, registry, snapshots)
	registry.SetTerminator(hub)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hub.Shutdown(ctx)
	})

	f := &apiFixture{t: t, verifier: verifier, hub: hub}
	server := NewServer(Options{
		Registry:  registry,
		Snapshots: snapshots,
		Hub:       hub,
		Auth:      auth.NewMiddleware(verifier),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("liveboard_up 1\n"))
		}),
		HealthChecks: map[string]HealthCheck{
			"database": func(context.Context) error { return f.healthy },
		},
	})
	f.router = NewRouter(server, "liveboard-test")
	return f
}

func (f *apiFixture) token(u testUser) string {
	f.t.Helper()
	tok, err := f.verifier.Sign(&auth.Claims{
		Name:            u.sub,
		Role:            u.role,
		CentreID:        u.centre,
		ClassesTaught:   u.taught,
		ClassesEnrolled: u.enrolled,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	require.NoError(f.t, err)
	return tok
}

func (f *apiFixture) do(method, path string, u *testUser, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if u != nil {
		req.Header.Set("Authorization", "Bearer "+f.token(*u))
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *apiFixture) createSession(u testUser) CreateSessionResponse {
	f.t.Helper()
	w := f.do(http.MethodPost, "/whiteboard/sessions", &u, map[string]string{"class_id": "class-5", "centre_id": "centre-1", "name": "Algebra"})
	require.Equal(f.t, http.StatusCreated, w.Code, w.Body.String())
	var resp CreateSessionResponse
	require.NoError(f.t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) Error {
	t.Helper()
	var e Error
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
	return e
}

func TestCreateSession(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.createSession(userTeacher)
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, "/ws/whiteboard/"+resp.SessionID, resp.SocketEndpoint)
	assert.Equal(t, whiteboard.StatusActive, resp.Session.Status)
	assert.Equal(t, "Algebra", resp.Session.Name)

	w := f.do(http.MethodPost, "/whiteboard/sessions", &userManager, map[string]string{"class_id": "class-5", "centre_id": "centre-1"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "conflict", decodeError(t, w).Error)

	w = f.do(http.MethodPost, "/whiteboard/sessions", &userStudent, map[string]string{"class_id": "class-5", "centre_id": "centre-1"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(http.MethodPost, "/whiteboard/sessions", &userTeacher, map[string]string{"class_id": "class-5"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_input", decodeError(t, w).Error)

	w = f.do(http.MethodPost, "/whiteboard/sessions", nil, map[string]string{"class_id": "class-5", "centre_id": "centre-1"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))
}

func TestSessionLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	created := f.createSession(userTeacher)
	path := "/whiteboard/sessions/" + created.SessionID

	w := f.do(http.MethodGet, path, &userStudent, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, path, &userOther, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(http.MethodGet, "/whiteboard/sessions/missing", &userTeacher, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodPost, path+"/join", &userStudent, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var join JoinResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &join))
	assert.Equal(t, whiteboard.RoleStudent, join.ParticipantRole)
	assert.Equal(t, created.SocketEndpoint, join.SocketEndpoint)

	w = f.do(http.MethodPost, path+"/join", &userParent, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(http.MethodGet, "/whiteboard/sessions/active", &userStudent, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var active []SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &active))
	require.Len(t, active, 1)
	assert.Nil(t, active[0].DurationMinutes)

	w = f.do(http.MethodPost, path+"/end", &userStudent, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(http.MethodPost, path+"/end", &userTeacher, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var ended SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ended))
	assert.Equal(t, whiteboard.StatusEnded, ended.Status)
	require.NotNil(t, ended.DurationMinutes)
	assert.Equal(t, 0, *ended.DurationMinutes)

	w = f.do(http.MethodPost, path+"/end", &userTeacher, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_ended", decodeError(t, w).Error)

	w = f.do(http.MethodPost, path+"/join", &userStudent, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(http.MethodGet, "/whiteboard/sessions?active=true", &userTeacher, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = f.do(http.MethodGet, "/whiteboard/sessions", &userTeacher, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var all []SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	assert.Len(t, all, 1)

	w = f.do(http.MethodGet, "/whiteboard/sessions?active=maybe", &userTeacher, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSnapshotEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	created := f.createSession(userTeacher)
	path := "/whiteboard/sessions/" + created.SessionID + "/snapshots"

	w := f.do(http.MethodPost, path, &userTeacher, map[string]any{"payload": map[string]any{"objects": []int{1}}, "name": "first"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var snap whiteboard.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, int64(1), snap.Sequence)
	assert.Equal(t, "teacher-1", snap.AuthorID)

	w = f.do(http.MethodPost, path, &userTeacher, map[string]any{"payload": map[string]any{}})
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.do(http.MethodPost, path, &userStudent, map[string]any{"payload": map[string]any{}})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(http.MethodPost, path, &userTeacher, map[string]any{"name": "no payload"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodGet, path, &userStudent, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.EqualValues(t, 1, list[0]["sequence"])
	assert.EqualValues(t, 2, list[1]["sequence"])
	assert.Equal(t, "teacher-1", list[0]["author"])
	assert.Equal(t, "first", list[0]["name"])
	assert.Contains(t, list[0], "created_at")

	w = f.do(http.MethodGet, path, &userParent, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var h HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &h))
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "ok", h.Checks["database"])

	f.healthy = errors.New("connection refused")
	w = f.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &h))
	assert.Equal(t, "degraded", h.Status)

	w = f.do(http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "liveboard_up")
}

func TestRequestErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{whiteboard.ErrAuthentication, http.StatusUnauthorized},
		{whiteboard.ErrNotFound, http.StatusNotFound},
		{whiteboard.ErrForbidden, http.StatusForbidden},
		{whiteboard.ErrAlreadyEnded, http.StatusConflict},
		{whiteboard.ErrConflict, http.StatusConflict},
		{whiteboard.ErrMalformedMessage, http.StatusBadRequest},
		{whiteboard.ErrPersistence, http.StatusServiceUnavailable},
		{InvalidInputError("bad"), http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, requestErrorFor(tt.err).Status, "%v", tt.err)
	}
}

func TestCheckOrigin(t *testing.T) {
	check := checkOrigin([]string{"https://school.example"})
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws/whiteboard/x", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}
	assert.True(t, check(req("https://school.example")))
	assert.True(t, check(req("")))
	assert.False(t, check(req("https://evil.example")))
	assert.True(t, checkOrigin(nil)(req("https://anything.example")))
}

func readWire(t *testing.T, conn *websocket.Conn) (map[string]json.RawMessage, error) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &m))
	return m, nil
}

func frameType(m map[string]json.RawMessage) string {
	var s string
	_ = json.Unmarshal(m["type"], &s)
	return s
}

func closeCode(t *testing.T, err error) int {
	t.Helper()
	var ce *websocket.CloseError
	require.True(t, errors.As(err, &ce), "expected close error, got %v", err)
	return ce.Code
}

func TestWebSocketEndToEnd(t *testing.T) {
	f := newAPIFixture(t)
	created := f.createSession(userTeacher)

	srv := httptest.NewServer(f.router)
	t.Cleanup(srv.Close)
	base := "ws" + strings.TrimPrefix(srv.URL, "http")

	dial := func(u *testUser) *websocket.Conn {
		url := base + created.SocketEndpoint
		if u != nil {
			url += "?token=" + f.token(*u)
		}
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	}

	t.Run("missing token closes with 1008", func(t *testing.T) {
		_, err := readWire(t, dial(nil))
		assert.Equal(t, whiteboard.CloseUnauthenticated, closeCode(t, err))
	})

	t.Run("outsider closes with 3002", func(t *testing.T) {
		_, err := readWire(t, dial(&userOther))
		assert.Equal(t, whiteboard.CloseForbidden, closeCode(t, err))
	})

	student := dial(&userStudent)
	first, err := readWire(t, student)
	require.NoError(t, err)
	assert.Equal(t, whiteboard.FrameCurrentSnapshot, frameType(first))

	teacherConn := dial(&userTeacher)
	first, err = readWire(t, teacherConn)
	require.NoError(t, err)
	assert.Equal(t, whiteboard.FrameCurrentSnapshot, frameType(first))

	require.NoError(t, teacherConn.WriteMessage(websocket.TextMessage, []byte(`{"type":"draw","payload":{"x":10,"y":20,"color":"#000000","size":2}}`)))
	for {
		m, err := readWire(t, student)
		require.NoError(t, err)
		if frameType(m) == whiteboard.FrameDraw {
			assert.JSONEq(t, `{"x":10,"y":20,"color":"#000000","size":2}`, string(m["payload"]))
			break
		}
	}

	w := f.do(http.MethodPost, "/whiteboard/sessions/"+created.SessionID+"/end", &userTeacher, nil)
	require.Equal(t, http.StatusOK, w.Code)

	for _, conn := range []*websocket.Conn{student, teacherConn} {
		last := ""
		for {
			m, err := readWire(t, conn)
			if err != nil {
				assert.Equal(t, whiteboard.CloseAlreadyEnded, closeCode(t, err))
				break
			}
			last = frameType(m)
		}
		assert.Equal(t, whiteboard.FrameSessionEnded, last)
	}

	_, err = readWire(t, dial(&userStudent))
	assert.Equal(t, whiteboard.CloseAlreadyEnded, closeCode(t, err))

	require.Eventually(t, func() bool { return f.hub.Stats().Connections == 0 }, 2*time.Second, 10*time.Millisecond)
}
