package websocket_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/roomcast/internal/auth"
	"github.com/nfrund/roomcast/internal/chat"
	"github.com/nfrund/roomcast/internal/domain"
	"github.com/nfrund/roomcast/internal/events"
	"github.com/nfrund/roomcast/internal/presence"
	"github.com/nfrund/roomcast/internal/testutils"
	ws "github.com/nfrund/roomcast/internal/websocket"
)

var secret = []byte("websocket-test-secret-0123456789")

type testFixture struct {
	store    *testutils.MemoryStore
	registry *presence.Registry
	chat     *chat.Service
	revoker  *auth.RevocationStore
	signer   *auth.TestSigner
	server   *httptest.Server
}

func setupTestFixture(t *testing.T, opts ...ws.Option) *testFixture {
	t.Helper()

	store := testutils.NewMemoryStore()
	store.AddTopic(&domain.Topic{ID: "calc-101", Name: "Calculus"})
	registry := presence.NewRegistry(store, store, store)
	svc := chat.NewService(chat.Dependencies{
		Members:       store,
		Messages:      store,
		Topics:        store,
		Notifications: store,
		Rooms:         registry,
	})
	revoker := auth.NewRevocationStore(store)
	gate := auth.NewGate(auth.NewHMACVerifier(secret), revoker)

	handler := ws.NewHandler(ws.Dependencies{Gate: gate, Registry: registry, Chat: svc}, opts...)

	e := echo.New()
	e.GET("/ws", handler.Handle)
	server := httptest.NewServer(e)

	t.Cleanup(func() {
		server.Close()
		svc.Wait()
		registry.Shutdown()
	})

	return &testFixture{
		store:    store,
		registry: registry,
		chat:     svc,
		revoker:  revoker,
		signer:   auth.NewHMACTestSigner(secret),
		server:   server,
	}
}

func (f *testFixture) wsURL() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
}

func (f *testFixture) token(t *testing.T, userID string) string {
	t.Helper()
	raw, err := f.signer.Issue(userID, "", time.Hour)
	require.NoError(t, err)
	return raw
}

func (f *testFixture) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.Dial(context.Background(), f.wsURL(), &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() {
		conn.Close(websocket.StatusNormalClosure, "test complete")
	})
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	frame, err := events.Encode(event, data)
	require.NoError(t, err)
	require.NoError(t, conn.Write(context.Background(), websocket.MessageText, frame))
}

// expect reads frames until one named event arrives.
func expect(t *testing.T, conn *websocket.Conn, event string) json.RawMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err, "waiting for %s", event)
		env, err := events.Decode(data)
		require.NoError(t, err)
		if env.Event == event {
			return env.Data
		}
	}
}

func TestHandler_RejectsBeforeUpgrade(t *testing.T) {
	f := setupTestFixture(t)

	revoked := f.token(t, "mallory")
	require.NoError(t, f.revoker.Revoke(context.Background(), revoked, domain.TokenAccess, nil))

	expired, err := f.signer.Issue("mallory", "", -time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
		reason string
	}{
		{name: "missing", header: "", status: http.StatusUnauthorized, reason: "missing credential"},
		{name: "garbage", header: "Bearer nope", status: http.StatusUnauthorized, reason: "invalid or expired credential"},
		{name: "expired", header: "Bearer " + expired, status: http.StatusUnauthorized, reason: "invalid or expired credential"},
		{name: "revoked", header: "Bearer " + revoked, status: http.StatusUnauthorized, reason: "revoked"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := websocket.Dial(context.Background(), f.wsURL(), &websocket.DialOptions{
				HTTPHeader: http.Header{"Authorization": []string{tt.header}},
			})
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, tt.status, resp.StatusCode)

			var body map[string]string
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.reason, body["error"])
		})
	}

	assert.Zero(t, f.registry.SessionCount())
	assert.Zero(t, f.registry.RoomCount())
}

func TestHandler_RevocationOutageFailsClosed(t *testing.T) {
	f := setupTestFixture(t)
	token := f.token(t, "alice")
	f.store.Fail(testutils.OpIsTokenRevoked, errors.New("connection refused"))

	_, resp, err := websocket.Dial(context.Background(), f.wsURL(), &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Zero(t, f.registry.SessionCount())
}

func TestHandler_TokenQueryParameter(t *testing.T) {
	f := setupTestFixture(t)
	conn, _, err := websocket.Dial(context.Background(), f.wsURL()+"?token="+f.token(t, "alice"), nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return f.registry.IsOnline("alice") }, time.Second, 10*time.Millisecond)
}

func TestHandler_JoinAndChat(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	f.store.SeedMessage("calc-101", "carol", "earlier", time.Now().Add(-time.Hour))

	alice := f.dial(t, f.token(t, "alice"))
	send(t, alice, events.JoinRoom, events.RoomPayload{RoomID: "calc-101"})

	var roster events.RoomUsersPayload
	require.NoError(t, json.Unmarshal(expect(t, alice, events.RoomUsers), &roster))
	assert.Equal(t, "calc-101", roster.RoomID)
	require.Len(t, roster.Users, 1)

	var history events.MessageHistoryPayload
	require.NoError(t, json.Unmarshal(expect(t, alice, events.MessageHistory), &history))
	require.Len(t, history.Messages, 1)
	assert.Equal(t, "earlier", history.Messages[0].Text)

	bob := f.dial(t, f.token(t, "bob"))
	send(t, bob, events.JoinRoom, events.RoomPayload{RoomID: "calc-101"})
	expect(t, bob, events.MessageHistory)

	var joined events.MembershipPayload
	require.NoError(t, json.Unmarshal(expect(t, alice, events.UserJoined), &joined))
	assert.Equal(t, "bob", joined.UserID)

	send(t, bob, events.Message, events.MessagePayload{RoomID: "calc-101", Text: "  hello room  "})

	var msg events.ChatMessage
	require.NoError(t, json.Unmarshal(expect(t, alice, events.Message), &msg))
	assert.Equal(t, "hello room", msg.Text)
	assert.Equal(t, "bob", msg.UserID)
	expect(t, bob, events.Message)

	send(t, alice, events.Typing, events.RoomPayload{RoomID: "calc-101"})
	var typing events.TypingPayload
	require.NoError(t, json.Unmarshal(expect(t, bob, events.UserTyping), &typing))
	assert.Equal(t, "alice", typing.UserID)

	require.NoError(t, alice.Close(websocket.StatusNormalClosure, "bye"))
	var left events.MembershipPayload
	require.NoError(t, json.Unmarshal(expect(t, bob, events.UserLeft), &left))
	assert.Equal(t, "alice", left.UserID)

	member, err := f.store.IsMember(ctx, "calc-101", "alice")
	require.NoError(t, err)
	assert.True(t, member, "joining enrolls the user")
}

func TestHandler_ErrorsKeepConnectionOpen(t *testing.T) {
	f := setupTestFixture(t)
	conn := f.dial(t, f.token(t, "alice"))

	require.NoError(t, conn.Write(context.Background(), websocket.MessageText, []byte(`{not json`)))
	expect(t, conn, events.Error)

	send(t, conn, events.PresenceUpdate, events.PresencePayload{UserID: "alice", Status: events.StatusOnline})
	var unsupported events.ErrorPayload
	require.NoError(t, json.Unmarshal(expect(t, conn, events.Error), &unsupported))
	assert.Equal(t, events.PresenceUpdate, unsupported.Event)

	send(t, conn, events.JoinRoom, events.RoomPayload{})
	var missing events.ErrorPayload
	require.NoError(t, json.Unmarshal(expect(t, conn, events.Error), &missing))
	assert.Equal(t, domain.ErrMissingRoom.Error(), missing.Message)

	// Posting to a room the user never joined nor belongs to.
	send(t, conn, events.Message, events.MessagePayload{RoomID: "calc-101", Text: "hi"})
	var notMember events.ErrorPayload
	require.NoError(t, json.Unmarshal(expect(t, conn, events.Error), &notMember))
	assert.Equal(t, domain.ErrNotMember.Error(), notMember.Message)
	assert.Equal(t, "calc-101", notMember.RoomID)

	send(t, conn, events.JoinRoom, events.RoomPayload{RoomID: "calc-101"})
	send(t, conn, events.Message, events.MessagePayload{RoomID: "calc-101", Text: "   "})
	var empty events.ErrorPayload
	require.NoError(t, json.Unmarshal(expect(t, conn, events.Error), &empty))
	assert.Equal(t, domain.ErrEmptyMessage.Error(), empty.Message)
	assert.Empty(t, f.store.Messages("calc-101"))

	// Still usable.
	send(t, conn, events.Message, events.MessagePayload{RoomID: "calc-101", Text: "finally"})
	expect(t, conn, events.Message)
}

func TestHandler_RateLimit(t *testing.T) {
	f := setupTestFixture(t, ws.WithRateLimit(0.001, 2))
	conn := f.dial(t, f.token(t, "alice"))

	for i := 0; i < 3; i++ {
		send(t, conn, events.LeaveRoom, events.RoomPayload{RoomID: "calc-101"})
	}

	var limited events.ErrorPayload
	require.NoError(t, json.Unmarshal(expect(t, conn, events.Error), &limited))
	assert.Contains(t, limited.Message, "too many events")
}

func TestHandler_DisconnectCleansUp(t *testing.T) {
	f := setupTestFixture(t)

	conns := make([]*websocket.Conn, 3)
	for i := range conns {
		conns[i] = f.dial(t, f.token(t, "alice"))
		send(t, conns[i], events.JoinRoom, events.RoomPayload{RoomID: "calc-101"})
		expect(t, conns[i], events.MessageHistory)
	}
	assert.Equal(t, 3, f.registry.SessionCount())
	assert.Len(t, f.registry.Roster("calc-101"), 1)

	for _, c := range conns {
		c.CloseNow()
	}

	require.Eventually(t, func() bool {
		return f.registry.SessionCount() == 0 && f.registry.RoomCount() == 0
	}, 3*time.Second, 10*time.Millisecond)
	assert.False(t, f.registry.IsOnline("alice"))
}

func TestHandler_OriginCheck(t *testing.T) {
	f := setupTestFixture(t, ws.WithAllowedOrigins([]string{"app.example.com"}))

	_, resp, err := websocket.Dial(context.Background(), f.wsURL(), &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + f.token(t, "alice")},
			"Origin":        []string{"https://evil.example.net"},
		},
	})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.Dial(context.Background(), f.wsURL(), &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + f.token(t, "alice")},
			"Origin":        []string{"https://app.example.com"},
		},
	})
	require.NoError(t, err)
	conn.Close(websocket.StatusNormalClosure, "")
}
