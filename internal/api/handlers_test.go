package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livecollab/internal/models"
	"livecollab/internal/persistence"
	"livecollab/internal/room_management"
	"livecollab/internal/session"
	"livecollab/internal/utils"
)

const testSecret = "test-secret"

type mockCoordinator struct {
	mu           sync.Mutex
	submitted    []models.InboundFrame
	disconnected []string
	submitErr    error
	// when set, Disconnect waits for its context like a full inbox would
	stallDisconnect bool
	disconnectErr   error

	rooms  []models.LiveRoom
	detail models.LiveRoomDetail
	found  bool
	err    error
}

func (m *mockCoordinator) Submit(_ context.Context, _ string, frame models.InboundFrame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted = append(m.submitted, frame)
	return m.submitErr
}

func (m *mockCoordinator) Disconnect(ctx context.Context, connID string) error {
	var err error
	if m.stallDisconnect {
		<-ctx.Done()
		err = ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected = append(m.disconnected, connID)
	m.disconnectErr = err
	return err
}

func (m *mockCoordinator) LiveRooms(context.Context) ([]models.LiveRoom, error) {
	return m.rooms, m.err
}

func (m *mockCoordinator) LiveRoom(context.Context, string) (models.LiveRoomDetail, bool, error) {
	return m.detail, m.found, m.err
}

func (m *mockCoordinator) frames() []models.InboundFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.InboundFrame(nil), m.submitted...)
}

func (m *mockCoordinator) disconnects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.disconnected)
}

func withSecret(t *testing.T, secret string) {
	t.Helper()
	utils.SetJWTSecret([]byte(secret))
	t.Cleanup(func() { utils.SetJWTSecret(nil) })
}

func newTestHandlers(coord coordinator, opts Options) *Handlers {
	logger := utils.NewLogger()
	return NewHandlers(logger, coord, session.NewRegistry(), room_management.NewAccessManager(logger), opts)
}

func addRoomID(ctx context.Context, id string) context.Context {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	return context.WithValue(ctx, chi.RouteCtxKey, rctx)
}

func decodeBody(t *testing.T, body *bytes.Buffer, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(body.Bytes(), out); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
}

func serveWS(t *testing.T, h *Handlers) string {
	t.Helper()
	router := chi.NewRouter()
	router.Get("/ws", h.RoomWS)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	if err := conn.WriteJSON(models.WSFrame{Type: event, Data: data}); err != nil {
		t.Fatalf("send %s: %v", event, err)
	}
}

// readUntil skips frames until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, event string) json.RawMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var frame models.InboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("waiting for %s: %v", event, err)
		}
		if frame.Type == event {
			return frame.Data
		}
	}
}

func TestHealth(t *testing.T) {
	h := newTestHandlers(&mockCoordinator{}, Options{})
	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Body.String() != "ok" {
		t.Fatalf("expected ok, got %q", rec.Body.String())
	}
}

func TestNewHandlersUsesDefaults(t *testing.T) {
	h := newTestHandlers(&mockCoordinator{}, Options{})
	assert.Equal(t, 100, h.burst)
	assert.InDelta(t, 50, float64(h.limit), 0.001)
}

func TestLiveRooms(t *testing.T) {
	coord := &mockCoordinator{rooms: []models.LiveRoom{{RoomID: "r1", State: "active", Participants: 2}}}
	h := newTestHandlers(coord, Options{})

	rec := httptest.NewRecorder()
	h.LiveRooms(rec, httptest.NewRequest(http.MethodGet, "/api/v1/rooms/live", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var rooms []models.LiveRoom
	decodeBody(t, rec.Body, &rooms)
	assert.Equal(t, coord.rooms, rooms)
}

func TestLiveRoomsUnavailable(t *testing.T) {
	h := newTestHandlers(&mockCoordinator{err: session.ErrStopped}, Options{})
	rec := httptest.NewRecorder()
	h.LiveRooms(rec, httptest.NewRequest(http.MethodGet, "/api/v1/rooms/live", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestLiveRoom(t *testing.T) {
	coord := &mockCoordinator{
		found:  true,
		detail: models.LiveRoomDetail{RoomID: "r1", State: "active", Language: "go", Files: 3},
	}
	h := newTestHandlers(coord, Options{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/rooms/r1/live", nil)
	req = req.WithContext(addRoomID(req.Context(), "r1"))
	rec := httptest.NewRecorder()
	h.LiveRoom(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var detail models.LiveRoomDetail
	decodeBody(t, rec.Body, &detail)
	assert.Equal(t, coord.detail, detail)
}

func TestLiveRoomErrors(t *testing.T) {
	cases := []struct {
		name   string
		coord  *mockCoordinator
		roomID string
		want   int
	}{
		{"missing id", &mockCoordinator{}, "", http.StatusBadRequest},
		{"not live", &mockCoordinator{found: false}, "r1", http.StatusNotFound},
		{"stopped", &mockCoordinator{err: errors.New("stopped")}, "r1", http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandlers(tc.coord, Options{})
			req := httptest.NewRequest(http.MethodGet, "/api/v1/rooms/x/live", nil)
			req = req.WithContext(addRoomID(req.Context(), tc.roomID))
			rec := httptest.NewRecorder()
			h.LiveRoom(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

func TestRoomWSFlow(t *testing.T) {
	logger := utils.NewLogger()
	mem := persistence.NewMemory()
	mem.Seed("r1", models.RoomSnapshot{
		Files: []models.FileNode{{ID: "main", Name: "main.go", Kind: models.KindFile, Content: "package main"}},
	})
	registry := session.NewRegistry()
	coord := session.NewCoordinator(session.NewStore(), registry, session.Options{
		Reader:         mem,
		HydrateTimeout: time.Second,
		Log:            logger,
	})
	ctx, cancel := context.WithCancel(context.Background())
	go coord.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-coord.Done()
	})

	h := NewHandlers(logger, coord, registry, room_management.NewAccessManager(logger), Options{})
	url := serveWS(t, h)

	alice := dial(t, url)
	send(t, alice, models.EventJoinRoom, models.JoinRoom{RoomID: "r1", User: models.UserInfo{ID: "u1", Name: "Alice"}})

	var files []models.FileNode
	require.NoError(t, json.Unmarshal(readUntil(t, alice, models.EventFilesUpdate), &files))
	require.Len(t, files, 1)
	assert.Equal(t, "package main", files[0].Content)

	bob := dial(t, url)
	send(t, bob, models.EventJoinRoom, models.JoinRoom{RoomID: "r1", User: models.UserInfo{ID: "u2", Name: "Bob"}})

	var users []models.Participant
	require.NoError(t, json.Unmarshal(readUntil(t, alice, models.EventUserList), &users))
	require.Len(t, users, 2)
	assert.Equal(t, []string{"u1", "u2"}, []string{users[0].UserID, users[1].UserID})
	readUntil(t, bob, models.EventChatHistory)

	send(t, alice, models.EventFileCreate, models.FileCreate{
		RoomID: "r1",
		File:   models.FileNode{ID: "util", Name: "util.go", Kind: models.KindFile},
	})
	var created models.FileNode
	require.NoError(t, json.Unmarshal(readUntil(t, bob, models.EventFileCreated), &created))
	assert.Equal(t, "util", created.ID)

	require.NoError(t, alice.Close())

	var left string
	require.NoError(t, json.Unmarshal(readUntil(t, bob, models.EventUserLeft), &left))
	assert.Equal(t, users[0].ConnectionID, left)

	require.Eventually(t, func() bool { return registry.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestRoomWSMissingToken(t *testing.T) {
	withSecret(t, testSecret)
	h := newTestHandlers(&mockCoordinator{}, Options{})
	rec := httptest.NewRecorder()
	h.RoomWS(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRoomWSInvalidToken(t *testing.T) {
	withSecret(t, testSecret)
	h := newTestHandlers(&mockCoordinator{}, Options{})
	rec := httptest.NewRecorder()
	h.RoomWS(rec, httptest.NewRequest(http.MethodGet, "/ws?token=garbage", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRoomWSUpgradeError(t *testing.T) {
	coord := &mockCoordinator{}
	h := newTestHandlers(coord, Options{})
	rec := httptest.NewRecorder()
	h.RoomWS(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Empty(t, coord.frames())
	assert.Zero(t, coord.disconnects())
}

func TestRoomWSViewerCannotMutate(t *testing.T) {
	withSecret(t, testSecret)
	token, err := utils.SignRoomToken(&utils.RoomTokenClaims{RoomID: "r1", UserID: "viewer-1", Role: utils.RoleViewer})
	require.NoError(t, err)

	coord := &mockCoordinator{}
	h := newTestHandlers(coord, Options{})
	conn := dial(t, serveWS(t, h)+"?token="+token)

	send(t, conn, models.EventCodeChange, models.CodeChange{RoomID: "r1", FileID: "main", Code: "x"})
	var msg models.ErrorMessage
	require.NoError(t, json.Unmarshal(readUntil(t, conn, models.EventError), &msg))
	assert.Equal(t, models.EventCodeChange, msg.Event)

	send(t, conn, models.EventJoinRoom, models.JoinRoom{RoomID: "r1", User: models.UserInfo{ID: "spoofed", Name: "V"}})
	require.Eventually(t, func() bool { return len(coord.frames()) == 1 }, 2*time.Second, 10*time.Millisecond)

	frame := coord.frames()[0]
	assert.Equal(t, models.EventJoinRoom, frame.Type)
	var join models.JoinRoom
	require.NoError(t, json.Unmarshal(frame.Data, &join))
	assert.Equal(t, "viewer-1", join.User.ID)
}

func TestRoomWSRoomMismatch(t *testing.T) {
	withSecret(t, testSecret)
	token, err := utils.SignRoomToken(&utils.RoomTokenClaims{RoomID: "r1", UserID: "u1"})
	require.NoError(t, err)

	coord := &mockCoordinator{}
	h := newTestHandlers(coord, Options{})
	conn := dial(t, serveWS(t, h)+"?token="+token)

	send(t, conn, models.EventJoinRoom, models.JoinRoom{RoomID: "r2", User: models.UserInfo{ID: "u1"}})
	readUntil(t, conn, models.EventError)
	assert.Empty(t, coord.frames())
}

func TestRoomWSMalformedFrame(t *testing.T) {
	coord := &mockCoordinator{}
	h := newTestHandlers(coord, Options{})
	conn := dial(t, serveWS(t, h))

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	var msg models.ErrorMessage
	require.NoError(t, json.Unmarshal(readUntil(t, conn, models.EventError), &msg))
	assert.Equal(t, "malformed frame", msg.Message)
	assert.Empty(t, coord.frames())
}

func TestRoomWSRateLimit(t *testing.T) {
	coord := &mockCoordinator{}
	h := newTestHandlers(coord, Options{RatePerSec: 0.001, RateBurst: 1})
	conn := dial(t, serveWS(t, h))

	for i := 0; i < 3; i++ {
		send(t, conn, models.EventCursorMove, models.CursorMove{RoomID: "r1"})
	}
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool { return coord.disconnects() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, coord.frames(), 1)
}

func TestRoomWSStopsWhenCoordinatorStops(t *testing.T) {
	coord := &mockCoordinator{submitErr: session.ErrStopped}
	h := newTestHandlers(coord, Options{})
	conn := dial(t, serveWS(t, h))

	send(t, conn, models.EventJoinRoom, models.JoinRoom{RoomID: "r1"})
	require.Eventually(t, func() bool { return coord.disconnects() == 1 }, 2*time.Second, 10*time.Millisecond)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestRoomWSDisconnectIsBounded(t *testing.T) {
	coord := &mockCoordinator{stallDisconnect: true}
	h := newTestHandlers(coord, Options{})
	h.disconnectTimeout = 50 * time.Millisecond
	conn := dial(t, serveWS(t, h))

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool { return coord.disconnects() == 1 }, 2*time.Second, 10*time.Millisecond)
	coord.mu.Lock()
	defer coord.mu.Unlock()
	assert.ErrorIs(t, coord.disconnectErr, context.DeadlineExceeded)
}

func TestOriginChecker(t *testing.T) {
	cases := []struct {
		allowed []string
		origin  string
		want    bool
	}{
		{[]string{"*"}, "https://evil.example", true},
		{[]string{"https://app.example"}, "https://app.example", true},
		{[]string{"https://app.example"}, "https://evil.example", false},
		{[]string{"https://app.example"}, "", true},
		{nil, "https://app.example", false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if tc.origin != "" {
			req.Header.Set("Origin", tc.origin)
		}
		if got := originChecker(tc.allowed)(req); got != tc.want {
			t.Fatalf("allowed=%v origin=%q: expected %v, got %v", tc.allowed, tc.origin, tc.want, got)
		}
	}
}
