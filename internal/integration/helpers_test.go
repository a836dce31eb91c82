package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"confeed/internal/ai"
	"confeed/internal/api"
	"confeed/internal/app"
	"confeed/internal/config"
	"confeed/pkg/llm"
	"confeed/pkg/types"
)

// alwaysRand makes every probabilistic pool decision take the positive branch.
type alwaysRand struct{}

func (alwaysRand) Float64() float64 { return 0.1 }
func (alwaysRand) IntN(n int) int   { return 0 }

type server struct {
	t    *testing.T
	app  *app.Application
	base string
}

func startServer(t *testing.T, reply string) *server {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "confeed.db")
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.AI.ResponseCooldown = 0
	cfg.AI.TypingDelayMin = 10 * time.Millisecond
	cfg.AI.TypingDelayMax = 20 * time.Millisecond

	provider := llm.ProviderFunc(func(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
		return &llm.Response{Content: reply}, nil
	})

	application, err := app.NewApplication(cfg,
		app.WithProvider(provider),
		app.WithPoolOptions(ai.WithRand(alwaysRand{})),
	)
	require.NoError(t, err)
	require.NoError(t, application.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = application.Stop(ctx)
	})

	return &server{t: t, app: application, base: "http://" + application.Addr()}
}

func (s *server) login() api.LoginResponse {
	s.t.Helper()
	resp, err := http.Post(s.base+"/api/auth/login", "application/json", bytes.NewReader([]byte(`{"platform":"web"}`)))
	require.NoError(s.t, err)
	defer resp.Body.Close()
	require.Equal(s.t, http.StatusOK, resp.StatusCode)

	var out api.LoginResponse
	require.NoError(s.t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (s *server) get(path, token string, out interface{}) int {
	s.t.Helper()
	req, err := http.NewRequest(http.MethodGet, s.base+path, nil)
	require.NoError(s.t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(s.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (s *server) wsURL() string {
	return "ws" + strings.TrimPrefix(s.base, "http") + "/ws"
}

type client struct {
	t    *testing.T
	conn *websocket.Conn
}

func (s *server) dial(token string) *client {
	s.t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(s.wsURL()+"?token="+token, nil)
	require.NoError(s.t, err)
	resp.Body.Close()
	s.t.Cleanup(func() { _ = conn.Close() })
	return &client{t: s.t, conn: conn}
}

func (c *client) send(event string, data interface{}) {
	c.t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteJSON(types.Envelope{Event: event, Data: raw}))
}

// waitFor reads frames until one named event satisfies match.
func (c *client) waitFor(event string, match func(json.RawMessage) bool) json.RawMessage {
	c.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.NoError(c.t, c.conn.SetReadDeadline(deadline))
		var env types.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			c.t.Fatalf("waiting for %s: %v", event, err)
		}
		if env.Event == event && (match == nil || match(env.Data)) {
			return env.Data
		}
	}
}
