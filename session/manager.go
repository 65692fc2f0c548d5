package session

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/pixvoice/pixvoice/config"
	"github.com/pixvoice/pixvoice/imageedit"
	"github.com/pixvoice/pixvoice/relay"
)

const upstreamHandshakeTimeout = 10 * time.Second

// Manager tracks all live relay sessions and their Redis metadata.
type Manager struct {
	sessions map[string]*relay.Session
	mu       sync.RWMutex
	redis    *redis.Client
	config   *config.Config
	editor   imageedit.Editor
}

// NewManager creates a session manager. Redis is optional: if it cannot be
// reached the manager runs with in-memory state only.
func NewManager(cfg *config.Config, editor imageedit.Editor) (*Manager, error) {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		// Redis unavailable, continue without it
		redisClient = nil
	}

	return &Manager{
		sessions: make(map[string]*relay.Session),
		redis:    redisClient,
		config:   cfg,
		editor:   editor,
	}, nil
}

// dialUpstream returns the dialer each session uses to open its dedicated
// upstream connection.
func (sm *Manager) dialUpstream() relay.UpstreamDialer {
	target := sm.config.UpstreamURL + "?key=" + url.QueryEscape(sm.config.GeminiAPIKey)
	return func(ctx context.Context) (*websocket.Conn, error) {
		dialer := websocket.Dialer{
			HandshakeTimeout:  upstreamHandshakeTimeout,
			EnableCompression: true,
		}
		conn, _, err := dialer.DialContext(ctx, target, nil)
		return conn, err
	}
}

// CreateSession registers a relay session for an accepted client connection.
func (sm *Manager) CreateSession(ctx context.Context, clientConn *websocket.Conn) (*relay.Session, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if len(sm.sessions) >= sm.config.MaxSessions {
		return nil, fmt.Errorf("maximum sessions reached")
	}

	sessionID := uuid.New().String()

	session := relay.NewSession(sessionID, clientConn, sm.dialUpstream(), sm.editor, relay.Options{
		HeartbeatPeriod: sm.config.HeartbeatPeriod,
		MaxQueued:       sm.config.MaxQueuedMsgs,
	})

	sm.storeSession(ctx, sessionID, session)
	return session, nil
}

// storeSession saves a session to memory and Redis
func (sm *Manager) storeSession(ctx context.Context, sessionID string, session *relay.Session) {
	sm.sessions[sessionID] = session

	if sm.redis != nil {
		sm.redis.HSet(ctx, "session:"+sessionID, map[string]interface{}{
			"created_at":    session.CreatedAt.Format(time.RFC3339),
			"last_activity": session.LastActive().Format(time.RFC3339),
			"status":        "active",
		})
		sm.redis.SAdd(ctx, "active_sessions", sessionID)
		sm.redis.Expire(ctx, "session:"+sessionID, sm.config.SessionTimeout)
	}
}

// GetSession retrieves a session by ID
func (sm *Manager) GetSession(sessionID string) (*relay.Session, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, exists := sm.sessions[sessionID]
	return session, exists
}

// RemoveSession cleans up and removes a session
func (sm *Manager) RemoveSession(ctx context.Context, sessionID string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	session, exists := sm.sessions[sessionID]
	if !exists {
		return nil
	}

	session.Close()
	delete(sm.sessions, sessionID)

	if sm.redis != nil {
		sm.redis.Del(ctx, "session:"+sessionID)
		sm.redis.SRem(ctx, "active_sessions", sessionID)
	}

	return nil
}

// GetActiveSessionCount returns current session count
func (sm *Manager) GetActiveSessionCount() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// CleanupInactiveSessions removes sessions that are closed or have been idle
// past the configured timeout.
func (sm *Manager) CleanupInactiveSessions(ctx context.Context) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	now := time.Now()
	for id, session := range sm.sessions {
		if !session.IsClosed() && now.Sub(session.LastActive()) <= sm.config.SessionTimeout {
			continue
		}
		session.Close()
		delete(sm.sessions, id)

		if sm.redis != nil {
			sm.redis.Del(ctx, "session:"+id)
			sm.redis.SRem(ctx, "active_sessions", id)
		}
	}
}

// StartCleanupRoutine starts periodic cleanup of inactive sessions
func (sm *Manager) StartCleanupRoutine(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sm.CleanupInactiveSessions(ctx)
		}
	}
}

// Shutdown closes all sessions
func (sm *Manager) Shutdown() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for id, session := range sm.sessions {
		session.Close()
		delete(sm.sessions, id)
	}

	if sm.redis != nil {
		sm.redis.Close()
	}
}
