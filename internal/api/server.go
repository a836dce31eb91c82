package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"confeed/internal/session"
	"confeed/pkg/types"
)

// MaxHistoryLimit caps GET /api/chat/history.
const MaxHistoryLimit = 100

// Sessions issues and verifies bearer tokens.
type Sessions interface {
	Login(ctx context.Context, token string, meta session.Metadata) (*session.LoginResult, error)
	Authenticate(ctx context.Context, token string) (*types.Identity, error)
}

// History reads persisted chat messages.
type History interface {
	ChatHistory(ctx context.Context, limit, offset int) ([]*types.MessageView, error)
}

// Presence exposes the combined human and AI presence snapshot.
type Presence interface {
	SnapshotPresence() types.Presence
}

// HealthChecker reports storage health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// StatsProvider contributes counters to /health.
type StatsProvider interface {
	GetStats() map[string]int
}

// Options configures the REST surface.
type Options struct {
	CORSOrigin   string
	HistoryLimit int
	Now          func() time.Time
}

// Server serves the REST API. Handlers hold no business logic.
type Server struct {
	sessions Sessions
	history  History
	presence Presence
	health   HealthChecker
	stats    map[string]StatsProvider
	opts     Options
	started  time.Time
	mux      *http.ServeMux
}

// NewServer creates the REST server and registers its routes.
func NewServer(sessions Sessions, history History, presence Presence, health HealthChecker, opts Options) *Server {
	if opts.CORSOrigin == "" {
		opts.CORSOrigin = "*"
	}
	if opts.HistoryLimit <= 0 || opts.HistoryLimit > MaxHistoryLimit {
		opts.HistoryLimit = MaxHistoryLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Server{
		sessions: sessions,
		history:  history,
		presence: presence,
		health:   health,
		stats:    make(map[string]StatsProvider),
		opts:     opts,
		started:  opts.Now(),
		mux:      http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

// AddStats registers a counter source under name in the health report.
func (s *Server) AddStats(name string, provider StatsProvider) {
	s.stats[name] = provider
}

// Handle mounts an extra handler, such as the WebSocket endpoint, on the
// server's mux without the JSON middleware.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

func (s *Server) setupRoutes() {
	s.route("POST /api/auth/login", s.login)
	s.route("GET /api/auth/me", s.requireAuth(s.me))
	s.route("GET /api/chat/history", s.requireAuth(s.chatHistory))
	s.route("GET /api/chat/presence", s.chatPresence)
	s.route("GET /health", s.healthCheck)
}

func (s *Server) route(pattern string, h http.HandlerFunc) {
	s.mux.Handle(pattern, s.jsonMiddleware(h))
}

// ServeHTTP applies CORS to every route, including preflight requests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.corsMiddleware(s.mux).ServeHTTP(w, r)
}

type identityKey struct{}

// IdentityFrom returns the identity attached by requireAuth.
func IdentityFrom(ctx context.Context) (*types.Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*types.Identity)
	return identity, ok
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

type LoginResponse struct {
	Token string          `json:"token"`
	User  *types.Identity `json:"user"`
}

type MeResponse struct {
	User *types.Identity `json:"user"`
}

type HistoryResponse struct {
	Messages []*types.MessageView `json:"messages"`
	HasMore  bool                 `json:"hasMore"`
	Limit    int                  `json:"limit"`
	Offset   int                  `json:"offset"`
}

type HealthResponse struct {
	Status    string                    `json:"status"`
	Timestamp time.Time                 `json:"timestamp"`
	Uptime    string                    `json:"uptime"`
	Database  string                    `json:"database"`
	Stats     map[string]map[string]int `json:"stats"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var meta session.Metadata
	if err := json.NewDecoder(r.Body).Decode(&meta); err != nil && !errors.Is(err, io.EOF) {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	res, err := s.sessions.Login(r.Context(), BearerToken(r), meta)
	if err != nil {
		slog.Error("login failed", "error", err)
		s.sendError(w, "Login failed", http.StatusInternalServerError)
		return
	}
	s.sendJSON(w, http.StatusOK, LoginResponse{Token: res.Token, User: res.User})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	s.sendJSON(w, http.StatusOK, MeResponse{User: identity})
}

func (s *Server) chatHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", s.opts.HistoryLimit)
	if err != nil || limit <= 0 {
		s.sendError(w, "Invalid limit", http.StatusBadRequest)
		return
	}
	if limit > s.opts.HistoryLimit {
		limit = s.opts.HistoryLimit
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		s.sendError(w, "Invalid offset", http.StatusBadRequest)
		return
	}

	messages, err := s.history.ChatHistory(r.Context(), limit, offset)
	if err != nil {
		slog.Error("failed to load chat history", "error", err)
		s.sendError(w, "Failed to load history", http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []*types.MessageView{}
	}
	s.sendJSON(w, http.StatusOK, HistoryResponse{
		Messages: messages,
		HasMore:  len(messages) == limit,
		Limit:    limit,
		Offset:   offset,
	})
}

func (s *Server) chatPresence(w http.ResponseWriter, r *http.Request) {
	p := s.presence.SnapshotPresence()
	if p.List == nil {
		p.List = []types.Participant{}
	}
	s.sendJSON(w, http.StatusOK, p)
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.health.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	stats := make(map[string]map[string]int, len(s.stats))
	for name, provider := range s.stats {
		stats[name] = provider.GetStats()
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	now := s.opts.Now()
	s.sendJSON(w, code, HealthResponse{
		Status:    status,
		Timestamp: now,
		Uptime:    now.Sub(s.started).Truncate(time.Second).String(),
		Database:  dbStatus,
		Stats:     stats,
	})
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v interface{}) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write response", "error", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.sendJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := BearerToken(r)
		if token == "" {
			s.sendError(w, "Missing bearer token", http.StatusUnauthorized)
			return
		}
		identity, err := s.sessions.Authenticate(r.Context(), token)
		if err != nil {
			if !errors.Is(err, session.ErrInvalidToken) {
				slog.Error("token verification failed", "error", err)
			}
			s.sendError(w, "Invalid token", http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, identity)))
	}
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.opts.CORSOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
