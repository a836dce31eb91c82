package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confeed/internal/session"
	"confeed/pkg/types"
)

type mockSessions struct {
	identity  *types.Identity
	lastToken string
	lastMeta  session.Metadata
	loginErr  error
}

func (m *mockSessions) Login(ctx context.Context, token string, meta session.Metadata) (*session.LoginResult, error) {
	m.lastToken = token
	m.lastMeta = meta
	if m.loginErr != nil {
		return nil, m.loginErr
	}
	return &session.LoginResult{Token: "issued", User: m.identity}, nil
}

func (m *mockSessions) Authenticate(ctx context.Context, token string) (*types.Identity, error) {
	if token != "good" {
		return nil, session.ErrInvalidToken
	}
	return m.identity, nil
}

type mockHistory struct {
	messages []*types.MessageView
	err      error
	limit    int
	offset   int
}

func (m *mockHistory) ChatHistory(ctx context.Context, limit, offset int) ([]*types.MessageView, error) {
	m.limit, m.offset = limit, offset
	if m.err != nil {
		return nil, m.err
	}
	if len(m.messages) > limit {
		return m.messages[:limit], nil
	}
	return m.messages, nil
}

type staticPresence types.Presence

func (p staticPresence) SnapshotPresence() types.Presence { return types.Presence(p) }

type mockHealth struct{ err error }

func (m mockHealth) HealthCheck(ctx context.Context) error { return m.err }

type staticStats map[string]int

func (s staticStats) GetStats() map[string]int { return s }

type fixture struct {
	server   *Server
	sessions *mockSessions
	history  *mockHistory
}

func newFixture(health error) *fixture {
	f := &fixture{
		sessions: &mockSessions{identity: &types.Identity{ID: "u1", Nickname: "anonimo#1"}},
		history:  &mockHistory{},
	}
	presence := staticPresence{Count: 2, List: []types.Participant{
		{ID: "u1", Nickname: "anonimo#1"},
		{ID: "ai", Nickname: "anonimo#4242", IsAI: true},
	}}
	f.server = NewServer(f.sessions, f.history, presence, mockHealth{err: health}, Options{
		Now: func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) },
	})
	f.server.AddStats("registry", staticStats{"total_connections": 1})
	return f
}

func (f *fixture) do(method, target, token string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestServer_Login(t *testing.T) {
	f := newFixture(nil)

	w := f.do(http.MethodPost, "/api/auth/login", "old", []byte(`{"platform":"ios","country":"MZ"}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	res := decode[LoginResponse](t, w)
	assert.Equal(t, "issued", res.Token)
	assert.Equal(t, "anonimo#1", res.User.Nickname)
	assert.Equal(t, "old", f.sessions.lastToken)
	assert.Equal(t, "MZ", f.sessions.lastMeta.Country)
}

func TestServer_LoginEmptyBody(t *testing.T) {
	f := newFixture(nil)
	w := f.do(http.MethodPost, "/api/auth/login", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_LoginErrors(t *testing.T) {
	f := newFixture(nil)
	w := f.do(http.MethodPost, "/api/auth/login", "", []byte(`{bad`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.sessions.loginErr = errors.New("database is locked")
	w = f.do(http.MethodPost, "/api/auth/login", "", []byte(`{}`))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "locked")
}

func TestServer_Me(t *testing.T) {
	f := newFixture(nil)

	w := f.do(http.MethodGet, "/api/auth/me", "good", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1", decode[MeResponse](t, w).User.ID)

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/auth/me", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/auth/me", "bad", nil).Code)
}

func TestServer_ChatHistory(t *testing.T) {
	f := newFixture(nil)
	for i := 0; i < 3; i++ {
		f.history.messages = append(f.history.messages, &types.MessageView{ID: string(rune('a' + i)), Text: "oi"})
	}

	w := f.do(http.MethodGet, "/api/chat/history?limit=2&offset=4", "good", nil)
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[HistoryResponse](t, w)
	assert.Len(t, res.Messages, 2)
	assert.True(t, res.HasMore)
	assert.Equal(t, 2, f.history.limit)
	assert.Equal(t, 4, f.history.offset)

	w = f.do(http.MethodGet, "/api/chat/history?limit=500", "good", nil)
	require.Equal(t, http.StatusOK, w.Code)
	res = decode[HistoryResponse](t, w)
	assert.Equal(t, MaxHistoryLimit, f.history.limit)
	assert.False(t, res.HasMore)

	w = f.do(http.MethodGet, "/api/chat/history", "good", nil)
	assert.Equal(t, MaxHistoryLimit, f.history.limit)
	assert.Equal(t, 0, f.history.offset)
}

func TestServer_ChatHistoryValidation(t *testing.T) {
	f := newFixture(nil)
	for _, target := range []string{
		"/api/chat/history?limit=abc",
		"/api/chat/history?limit=0",
		"/api/chat/history?offset=-1",
	} {
		assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, target, "good", nil).Code, target)
	}
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/chat/history", "", nil).Code)

	f.history.err = errors.New("disk I/O error")
	assert.Equal(t, http.StatusInternalServerError, f.do(http.MethodGet, "/api/chat/history", "good", nil).Code)
}

func TestServer_ChatPresence(t *testing.T) {
	f := newFixture(nil)
	w := f.do(http.MethodGet, "/api/chat/presence", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	p := decode[types.Presence](t, w)
	assert.Equal(t, 2, p.Count)
	require.Len(t, p.List, 2)
	assert.True(t, p.List[1].IsAI)
}

func TestServer_Health(t *testing.T) {
	f := newFixture(nil)
	w := f.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[HealthResponse](t, w)
	assert.Equal(t, "healthy", res.Status)
	assert.Equal(t, 1, res.Stats["registry"]["total_connections"])

	f = newFixture(errors.New("database ping failed"))
	w = f.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unhealthy", decode[HealthResponse](t, w).Status)
}

func TestServer_CORSPreflight(t *testing.T) {
	f := newFixture(nil)
	w := f.do(http.MethodOptions, "/api/auth/login", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}

func TestServer_MethodNotAllowed(t *testing.T) {
	f := newFixture(nil)
	w := f.do(http.MethodGet, "/api/auth/login", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
