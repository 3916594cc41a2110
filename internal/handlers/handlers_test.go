package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/parley/internal/chat"
	"github.com/nfrund/parley/internal/database"
	"github.com/nfrund/parley/internal/domain"
	"github.com/nfrund/parley/internal/handlers"
	"github.com/nfrund/parley/internal/hub"
	"github.com/nfrund/parley/internal/middleware"
	"github.com/nfrund/parley/internal/presence"
	"github.com/nfrund/parley/internal/pubsub"
)

// tokenIsUserID treats the bearer token as the user id.
type tokenIsUserID struct {
	store database.Store
}

func (v tokenIsUserID) Verify(ctx context.Context, token string) (*domain.User, error) {
	if token == "" {
		return nil, &domain.AuthError{Reason: domain.AuthMissing}
	}
	u, err := v.store.FindUserByID(ctx, token)
	if err != nil {
		return nil, &domain.AuthError{Reason: domain.AuthInvalid, Err: err}
	}
	return u, nil
}

type apiFixture struct {
	e     *echo.Echo
	store database.Store
	conv  *domain.Conversation
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	ctx := context.Background()
	store, err := database.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	for _, u := range []*domain.User{
		{ID: "alice", Username: "alice", FirstName: "Alice", IsActive: true},
		{ID: "bob", Username: "bob", FirstName: "Bob", IsActive: true},
		{ID: "carol", Username: "carol", IsActive: true},
		{ID: "dormant", Username: "dormant", IsActive: false},
	} {
		require.NoError(t, store.SaveUser(ctx, u))
	}
	conv, err := store.CreateConversation(ctx, []string{"alice", "bob"})
	require.NoError(t, err)

	reg := hub.New()
	svc := chat.NewService(store, pubsub.Direct{Sink: reg}, reg, chat.WithMaxMessageLength(20))
	h := handlers.NewConversationHandler(svc)

	e := echo.New()
	e.HTTPErrorHandler = handlers.HTTPErrorHandler
	e.Validator = handlers.NewValidator()
	api := e.Group("/api", middleware.Auth(tokenIsUserID{store: store}))
	api.GET("/conversations", h.List)
	api.POST("/conversations", h.Create)
	api.GET("/conversations/:id", h.Get)
	api.GET("/conversations/:id/messages", h.Messages)
	api.POST("/conversations/:id/messages", h.Send)
	api.PATCH("/conversations/:id/messages/read", h.MarkRead)
	api.GET("/users/search", h.SearchUsers)

	return &apiFixture{e: e, store: store, conv: conv}
}

func (f *apiFixture) do(t *testing.T, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if user != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+user)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestSearchUsers(t *testing.T) {
	f := newAPI(t)

	rec := f.do(t, http.MethodGet, "/api/users/search?q=CAR", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	found := decode[[]domain.PublicProfile](t, rec)
	require.Len(t, found, 1)
	assert.Equal(t, "carol", found[0].ID)

	rec = f.do(t, http.MethodGet, "/api/users/search?q=c", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/users/search?q=alice", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String(), "the caller never finds themself")

	rec = f.do(t, http.MethodGet, "/api/users/search?q=dorm", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/users/search?q=car", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateConversation(t *testing.T) {
	f := newAPI(t)

	rec := f.do(t, http.MethodPost, "/api/conversations", "alice", `{"participantId":"bob"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	existing := decode[handlers.ConversationResponse](t, rec)
	assert.Equal(t, f.conv.ID, existing.ID)
	require.NotNil(t, existing.Participant)
	assert.Equal(t, "Bob", existing.Participant.FirstName)

	rec = f.do(t, http.MethodPost, "/api/conversations", "alice", `{"participantId":"carol"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	tests := []struct {
		name   string
		user   string
		body   string
		status int
	}{
		{"self", "alice", `{"participantId":"alice"}`, http.StatusBadRequest},
		{"missing participant", "alice", `{}`, http.StatusBadRequest},
		{"malformed body", "alice", `{`, http.StatusBadRequest},
		{"unknown participant", "alice", `{"participantId":"ghost"}`, http.StatusNotFound},
		{"inactive participant", "alice", `{"participantId":"dormant"}`, http.StatusNotFound},
		{"unauthenticated", "", `{"participantId":"bob"}`, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/conversations", tt.user, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			resp := decode[handlers.ErrorResponse](t, rec)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestSendAndReadOverREST(t *testing.T) {
	f := newAPI(t)
	base := "/api/conversations/" + f.conv.ID

	for _, content := range []string{"one", "two", "three"} {
		rec := f.do(t, http.MethodPost, base+"/messages", "alice", `{"content":"`+content+`"}`)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		msg := decode[domain.Message](t, rec)
		assert.Equal(t, content, msg.Content)
		assert.Equal(t, domain.MessageText, msg.Type)
	}

	rec := f.do(t, http.MethodPost, base+"/messages", "alice", `{"content":"`+strings.Repeat("x", 21)+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodPost, base+"/messages", "alice", `{"content":"hi","type":"VIDEO"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodPost, base+"/messages", "carol", `{"content":"hi"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", decode[handlers.ErrorResponse](t, rec).Code)

	rec = f.do(t, http.MethodGet, base+"/messages?page=1&limit=2", "bob", "")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[[]domain.Message](t, rec)
	require.Len(t, page, 2)
	assert.Equal(t, "two", page[0].Content)
	assert.Equal(t, "three", page[1].Content)

	rec = f.do(t, http.MethodGet, base+"/messages?page=2&limit=2", "bob", "")
	require.Equal(t, http.StatusOK, rec.Code)
	page = decode[[]domain.Message](t, rec)
	require.Len(t, page, 1)
	assert.Equal(t, "one", page[0].Content)

	rec = f.do(t, http.MethodGet, base+"/messages?page=-1", "bob", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/conversations", "bob", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]domain.ConversationSummary](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, 3, list[0].UnreadCount)

	rec = f.do(t, http.MethodPatch, base+"/messages/read", "bob", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, handlers.MarkReadResponse{UpdatedCount: 3, Success: true}, decode[handlers.MarkReadResponse](t, rec))

	rec = f.do(t, http.MethodPatch, base+"/messages/read", "bob", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[handlers.MarkReadResponse](t, rec).UpdatedCount)

	rec = f.do(t, http.MethodPatch, base+"/messages/read", "carol", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetConversation(t *testing.T) {
	f := newAPI(t)

	rec := f.do(t, http.MethodGet, "/api/conversations/"+f.conv.ID, "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[map[string]any](t, rec)
	assert.Equal(t, f.conv.ID, view["id"])
	other, ok := view["otherParticipant"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "bob", other["id"])

	rec = f.do(t, http.MethodGet, "/api/conversations/"+f.conv.ID, "carol", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHTTPErrorHandlerHidesInternals(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	handlers.HTTPErrorHandler(domain.Persistence("save message", errors.New("disk full at /var/lib")), c)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "disk full")
}

// mockPresence is a fixed presence view.
type mockPresence struct {
	users []string
}

func (m *mockPresence) GetOnlineUsers() []string { return m.users }

func (m *mockPresence) GetPresence(userID string) presence.Presence {
	for _, u := range m.users {
		if u == userID {
			return presence.Presence{UserID: userID, Status: presence.StatusOnline, Connections: 1}
		}
	}
	return presence.Presence{UserID: userID, Status: presence.StatusOffline}
}

func TestPresenceHandler(t *testing.T) {
	e := echo.New()
	h := handlers.NewPresenceHandler(&mockPresence{users: []string{"alice"}})
	e.GET("/api/presence", h.GetPresence)
	e.GET("/api/presence/:userID", h.GetUserPresence)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/presence", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"online_users":["alice"],"count":1}`, rec.Body.String())

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/presence/bob", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"userId":"bob","status":"offline","connections":0}`, rec.Body.String())
}

type failingPinger struct{ err error }

func (p failingPinger) Ping(context.Context) error { return p.err }

func TestHealthHandler(t *testing.T) {
	e := echo.New()
	reg := hub.New()

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), rec)
	require.NoError(t, handlers.NewHealthHandler(failingPinger{}, reg).Check(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), rec)
	require.NoError(t, handlers.NewHealthHandler(failingPinger{err: errors.New("down")}, reg).Check(c))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
