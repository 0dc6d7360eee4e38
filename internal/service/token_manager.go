package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/arturoeanton/storefront-dashboard/internal/domain"
	"github.com/arturoeanton/storefront-dashboard/internal/port"
	"golang.org/x/sync/singleflight"
)

// Default refresh tuning.
const (
	DefaultRefreshMargin      = 300 * time.Second
	DefaultMinRefreshInterval = 30 * time.Second
	DefaultRefreshGrace       = 100 * time.Millisecond
	DefaultRefreshTimeout     = 15 * time.Second

	pruneThreshold = 1024
)

// TokenManagerConfig tunes when and how often access tokens are refreshed.
type TokenManagerConfig struct {
	Margin             time.Duration // refresh this long before expiry
	MinRefreshInterval time.Duration // minimum spacing between attempts per subject
	Grace              time.Duration // how long a failed refresh is still shared with late callers
	Timeout            time.Duration // upper bound on a single refresh call
}

// refreshState is the coordination state for one subject. A failure belongs to
// the refresh token that was rejected; other sessions of the subject never inherit it.
type refreshState struct {
	inFlight    bool
	flightToken string
	lastAttempt time.Time
	cached      *refreshed
	failedAt    time.Time
	failed      bool
	failedToken string
}

// refreshed is the outcome of a successful refresh, independent of any caller's credential.
type refreshed struct {
	accessToken  string
	refreshToken string
	expiresAt    int64
}

func (r *refreshed) apply(cred domain.SessionCredential) domain.SessionCredential {
	cred.AccessToken = r.accessToken
	cred.RefreshToken = r.refreshToken
	cred.AccessTokenExpiresAt = r.expiresAt
	cred.Error = domain.CredentialOK
	return cred
}

// TokenManager keeps session credentials valid. It refreshes an access token when it
// enters the expiry margin and guarantees at most one refresh call per subject at a time.
type TokenManager struct {
	refresher port.TokenRefresher
	cfg       TokenManagerConfig
	now       func() time.Time
	logger    *slog.Logger

	group singleflight.Group

	mu       sync.Mutex
	subjects map[string]*refreshState
}

// NewTokenManager creates a TokenManager. Zero config fields take the defaults.
func NewTokenManager(refresher port.TokenRefresher, cfg TokenManagerConfig) *TokenManager {
	if cfg.Margin == 0 {
		cfg.Margin = DefaultRefreshMargin
	}
	if cfg.MinRefreshInterval == 0 {
		cfg.MinRefreshInterval = DefaultMinRefreshInterval
	}
	if cfg.Grace == 0 {
		cfg.Grace = DefaultRefreshGrace
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultRefreshTimeout
	}
	return &TokenManager{
		refresher: refresher,
		cfg:       cfg,
		now:       time.Now,
		logger:    slog.Default(),
		subjects:  make(map[string]*refreshState),
	}
}

// Margin returns the configured refresh margin.
func (m *TokenManager) Margin() time.Duration {
	return m.cfg.Margin
}

// GetValidToken returns a credential whose access token is outside the refresh margin,
// refreshing it when needed. Failures are reported through the returned credential's
// Error field, never through an error value: a RefreshFailed credential is terminal and
// is returned as-is on every later call.
func (m *TokenManager) GetValidToken(ctx context.Context, cred domain.SessionCredential) domain.SessionCredential {
	if cred.Failed() {
		return cred
	}
	now := m.now()
	if !cred.NeedsRefresh(now, m.cfg.Margin) {
		return cred
	}

	key := subjectKey(cred)

	m.mu.Lock()
	if len(m.subjects) >= pruneThreshold {
		m.pruneLocked(now)
	}
	st := m.subjects[key]
	if st == nil {
		st = &refreshState{}
		m.subjects[key] = st
	}

	if st.cached != nil && !cachedNeedsRefresh(st.cached, now, m.cfg.Margin) {
		result := st.cached.apply(cred)
		m.mu.Unlock()
		return result
	}

	if !st.inFlight {
		if st.failed && st.failedToken == cred.RefreshToken && now.Sub(st.failedAt) < m.cfg.Grace {
			m.mu.Unlock()
			return failedCredential(cred)
		}
		if !st.lastAttempt.IsZero() && now.Sub(st.lastAttempt) < m.cfg.MinRefreshInterval {
			m.mu.Unlock()
			m.logger.Debug("token refresh deferred", "subject", cred.SubjectID)
			return cred
		}
		st.inFlight = true
		st.flightToken = cred.RefreshToken
		st.lastAttempt = now
	}
	flightToken := st.flightToken

	// The flight is registered while m.mu is held, so a caller that saw inFlight
	// always joins the same call.
	subject, refreshToken := cred.SubjectID, cred.RefreshToken
	ch := m.group.DoChan(key, func() (any, error) {
		return m.refresh(ctx, key, subject, refreshToken)
	})
	m.mu.Unlock()

	select {
	case res := <-ch:
		if res.Err != nil {
			if flightToken != cred.RefreshToken {
				return cred
			}
			return failedCredential(cred)
		}
		return res.Val.(*refreshed).apply(cred)
	case <-ctx.Done():
		return cred
	}
}

func (m *TokenManager) refresh(ctx context.Context, key, subject, refreshToken string) (*refreshed, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.Timeout)
	defer cancel()

	var (
		result *refreshed
		err    error
	)
	if refreshToken == "" {
		err = port.ErrNoRefreshToken
	} else {
		var tokens *domain.TokenPair
		tokens, err = m.refresher.RefreshToken(callCtx, refreshToken)
		if err == nil {
			result = &refreshed{
				accessToken:  tokens.AccessToken,
				refreshToken: refreshToken,
				expiresAt:    m.now().Unix() + int64(tokens.ExpiresIn),
			}
			if tokens.RefreshToken != "" {
				result.refreshToken = tokens.RefreshToken
			}
		}
	}

	m.mu.Lock()
	if st, ok := m.subjects[key]; ok {
		st.inFlight = false
		if err != nil {
			st.failed = true
			st.failedAt = m.now()
			st.failedToken = refreshToken
		} else {
			st.cached = result
			st.failed = false
		}
	}
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("token refresh failed", "subject", subject, "error", err)
		return nil, err
	}
	m.logger.Info("token refreshed", "subject", subject, "expires_at", time.Unix(result.expiresAt, 0).UTC())
	return result, nil
}

// pruneLocked drops subjects whose state no longer affects any decision.
func (m *TokenManager) pruneLocked(now time.Time) {
	for key, st := range m.subjects {
		if st.inFlight {
			continue
		}
		if st.cached != nil && !cachedNeedsRefresh(st.cached, now, m.cfg.Margin) {
			continue
		}
		if now.Sub(st.lastAttempt) < m.cfg.MinRefreshInterval {
			continue
		}
		delete(m.subjects, key)
	}
}

// Forget drops the refresh state of a subject, e.g. on logout.
func (m *TokenManager) Forget(subjectID string) {
	m.mu.Lock()
	delete(m.subjects, subjectID)
	m.mu.Unlock()
}

func subjectKey(cred domain.SessionCredential) string {
	if cred.SubjectID != "" {
		return cred.SubjectID
	}
	return "rt:" + cred.RefreshToken
}

func cachedNeedsRefresh(r *refreshed, now time.Time, margin time.Duration) bool {
	return domain.SessionCredential{AccessTokenExpiresAt: r.expiresAt}.NeedsRefresh(now, margin)
}

func failedCredential(cred domain.SessionCredential) domain.SessionCredential {
	cred.Error = domain.CredentialRefreshFailed
	return cred
}
