package ucs

import (
	"context"
	"sync"
	"time"

	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/remote"
	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/stores"
)

// Default session ages, measured from the time the cookie was issued.
// The controller's login handshake is expensive, so cookies are reused
// inside the refresh threshold and refreshed (not re-logged-in) between
// the two thresholds.
const (
	DefaultSessionTTL = 100 * time.Minute
	DefaultRefreshTTL = 10 * time.Minute
)

// Authenticator performs the raw login and refresh calls against a
// controller. The Client implements it; tests substitute fakes.
type Authenticator interface {
	Login(ctx context.Context, ep *stores.Endpoint) (string, error)
	Refresh(ctx context.Context, ep *stores.Endpoint, cookie string) (string, error)
}

type session struct {
	cookie   string
	issuedAt time.Time
}

// SessionManager caches one session cookie per endpoint and decides,
// per call, whether to log in, refresh, or reuse. It is safe for
// concurrent use; concurrent refreshes are last-writer-wins, and a read
// never observes a half-written entry.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]session

	auth       Authenticator
	clock      remote.Clock
	ttl        time.Duration
	refreshTTL time.Duration
}

// NewSessionManager creates a session manager. Zero durations fall back
// to the defaults.
func NewSessionManager(auth Authenticator, clock remote.Clock, ttl, refreshTTL time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTTL
	}
	if clock == nil {
		clock = remote.RealClock{}
	}
	return &SessionManager{
		sessions:   make(map[string]session),
		auth:       auth,
		clock:      clock,
		ttl:        ttl,
		refreshTTL: refreshTTL,
	}
}

// Token returns a valid session cookie for the endpoint, performing a
// full login or a refresh when the cached cookie's age requires it.
// Failures are auth errors callers must not swallow.
func (m *SessionManager) Token(ctx context.Context, ep *stores.Endpoint) (string, error) {
	now := m.clock.Now()

	m.mu.Lock()
	cached, ok := m.sessions[ep.ID]
	m.mu.Unlock()

	var (
		cookie string
		err    error
	)
	switch {
	case !ok || now.Sub(cached.issuedAt) > m.ttl:
		cookie, err = m.auth.Login(ctx, ep)
	case now.Sub(cached.issuedAt) > m.refreshTTL:
		// Refresh extends freshness fully: issuedAt resets to now, so a
		// chain of successful refreshes keeps a session alive without a
		// full re-login.
		cookie, err = m.auth.Refresh(ctx, ep, cached.cookie)
	default:
		return cached.cookie, nil
	}

	if err != nil {
		if remote.IsAuth(err) {
			return "", err
		}
		return "", remote.NewAuthError("cannot obtain session for endpoint "+ep.ID, err)
	}

	m.mu.Lock()
	m.sessions[ep.ID] = session{cookie: cookie, issuedAt: now}
	m.mu.Unlock()

	return cookie, nil
}

// Invalidate drops the cached session for an endpoint, forcing a full
// login on the next call. Used when an endpoint is removed.
func (m *SessionManager) Invalidate(endpointID string) {
	m.mu.Lock()
	delete(m.sessions, endpointID)
	m.mu.Unlock()
}
