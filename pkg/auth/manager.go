// Package auth holds the process-wide credential state: one token attached
// to every outgoing API request, cleared on logout together with the entity
// store.
package auth

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Manager is a thread-safe token holder. It implements api.TokenSource.
type Manager struct {
	mu      sync.RWMutex
	token   string
	onClear []func()
	logger  *zap.Logger
}

// NewManager creates an unauthenticated manager.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{logger: logger.Named("auth")}
}

// Token returns the current token; ok is false while unauthenticated.
func (m *Manager) Token() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token, m.token != ""
}

// Authenticated reports whether a token is set.
func (m *Manager) Authenticated() bool {
	_, ok := m.Token()
	return ok
}

// SetToken stores a freshly issued (or rehydrated) token.
func (m *Manager) SetToken(token string) {
	m.mu.Lock()
	m.token = token
	m.mu.Unlock()

	if expiry, ok := m.TokenExpiry(); ok {
		m.logger.Debug("token set", zap.Time("expires_at", expiry))
	} else {
		m.logger.Debug("token set")
	}
}

// OnClear registers a hook to run whenever the credential state is cleared.
// The sync layer registers the store reset here, so logout wipes cache and
// credentials together.
func (m *Manager) OnClear(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClear = append(m.onClear, fn)
}

// Clear drops the token and runs the registered hooks.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.token = ""
	hooks := make([]func(), len(m.onClear))
	copy(hooks, m.onClear)
	m.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
	m.logger.Debug("credentials cleared")
}

// TokenExpiry inspects the token's exp claim without verifying the
// signature; verification is the server's job, the client only needs the
// deadline. ok is false for opaque (non-JWT) tokens.
func (m *Manager) TokenExpiry() (time.Time, bool) {
	token, hasToken := m.Token()
	if !hasToken {
		return time.Time{}, false
	}

	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	parsed, _, err := parser.ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	expiry, err := parsed.Claims.GetExpirationTime()
	if err != nil || expiry == nil {
		return time.Time{}, false
	}
	return expiry.Time, true
}
