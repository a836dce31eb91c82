package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	dbconfig "confeed/pkg/database"
	"confeed/pkg/interfaces"
	"confeed/pkg/types"
)

// ErrManagerClosed is returned for writes issued after Close.
var ErrManagerClosed = errors.New("database manager is closed")

// Manager implements interfaces.Store on SQLite. Reads run concurrently on the
// pool; writes are serialized through a single writer goroutine.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database and starts the writer goroutine.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	m := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	m.wg.Add(1)
	go m.writeLoop()

	return m, nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			op.result <- op.operation(m.db)
		case <-m.shutdown:
			slog.Debug("database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write and waits for its result. Failed writes are not
// retried.
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	timer := time.NewTimer(m.config.WriteTimeout)
	defer timer.Stop()

	result := make(chan error, 1)
	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-timer.C:
		return fmt.Errorf("write operation timeout")
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrManagerClosed
	}

	select {
	case err := <-result:
		return err
	case <-m.shutdown:
		return ErrManagerClosed
	}
}

// CreateIdentity inserts a new identity.
func (m *Manager) CreateIdentity(ctx context.Context, identity *types.Identity) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO users (id, nickname, avatar_url, is_ai, ai_personality,
				platform, language, timezone, country, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			identity.ID,
			identity.Nickname,
			identity.AvatarURL,
			identity.IsAI,
			identity.AIPersonality,
			identity.Platform,
			identity.Language,
			identity.Timezone,
			identity.Country,
			identity.CreatedAt.UTC(),
			identity.UpdatedAt.UTC(),
		)
		if err != nil {
			if isConstraint(err, sqlite3.ErrConstraintUnique) {
				return interfaces.ErrNicknameTaken
			}
			return fmt.Errorf("failed to insert identity: %w", err)
		}
		return nil
	})
}

// GetIdentity loads an identity by id.
func (m *Manager) GetIdentity(ctx context.Context, id string) (*types.Identity, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT id, nickname, avatar_url, is_ai, ai_personality,
			platform, language, timezone, country, created_at, updated_at
		FROM users
		WHERE id = ?
	`, id)

	var identity types.Identity
	err := row.Scan(
		&identity.ID,
		&identity.Nickname,
		&identity.AvatarURL,
		&identity.IsAI,
		&identity.AIPersonality,
		&identity.Platform,
		&identity.Language,
		&identity.Timezone,
		&identity.Country,
		&identity.CreatedAt,
		&identity.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrIdentityNotFound
		}
		return nil, fmt.Errorf("failed to query identity: %w", err)
	}
	return &identity, nil
}

// UpdateIdentityMetadata overwrites the client-reported metadata columns.
func (m *Manager) UpdateIdentityMetadata(ctx context.Context, identity *types.Identity) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			UPDATE users
			SET avatar_url = ?, platform = ?, language = ?, timezone = ?, country = ?, updated_at = ?
			WHERE id = ?
		`,
			identity.AvatarURL,
			identity.Platform,
			identity.Language,
			identity.Timezone,
			identity.Country,
			identity.UpdatedAt.UTC(),
			identity.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update identity: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return interfaces.ErrIdentityNotFound
		}
		return nil
	})
}

// CountIdentities returns the number of stored identities.
func (m *Manager) CountIdentities(ctx context.Context) (int, error) {
	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count identities: %w", err)
	}
	return count, nil
}

// StoreToken records a bearer token for an identity.
func (m *Manager) StoreToken(ctx context.Context, token, identityID string, expiresAt time.Time) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO auth_tokens (token, user_id, created_at, expires_at)
			VALUES (?, ?, ?, ?)
		`, token, identityID, time.Now().UTC(), expiresAt.UTC())
		if err != nil {
			if isConstraint(err, sqlite3.ErrConstraintForeignKey) {
				return interfaces.ErrIdentityNotFound
			}
			return fmt.Errorf("failed to insert token: %w", err)
		}
		return nil
	})
}

// LookupToken resolves a token that has not expired at now.
func (m *Manager) LookupToken(ctx context.Context, token string, now time.Time) (string, error) {
	var (
		identityID string
		expiresAt  time.Time
	)
	err := m.db.QueryRowContext(ctx,
		"SELECT user_id, expires_at FROM auth_tokens WHERE token = ?", token,
	).Scan(&identityID, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", interfaces.ErrTokenNotFound
		}
		return "", fmt.Errorf("failed to query token: %w", err)
	}
	if !now.Before(expiresAt) {
		return "", interfaces.ErrTokenNotFound
	}
	return identityID, nil
}

// HealthCheck validates connectivity and a basic read.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying pool for migrations and schema validation.
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close stops the writer and closes the pool. It is safe to call twice.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func isConstraint(err error, code sqlite3.ErrNoExtended) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == code
}

func applySQLiteOptimizations(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}
