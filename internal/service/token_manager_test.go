package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arturoeanton/storefront-dashboard/internal/domain"
)

func newTestManager(refresher *fakeRefresher, clock *fakeClock) *TokenManager {
	m := NewTokenManager(refresher, TokenManagerConfig{})
	m.now = clock.Now
	return m
}

func expiringCredential(clock *fakeClock, in time.Duration) domain.SessionCredential {
	return domain.SessionCredential{
		AccessToken:          "old",
		RefreshToken:         "rt-1",
		AccessTokenExpiresAt: clock.Now().Add(in).Unix(),
		SubjectID:            "user-1",
		Email:                "owner@acme.test",
	}
}

func TestGetValidTokenRefreshesInsideMargin(t *testing.T) {
	clock := newFakeClock()
	refresher := newFakeRefresher(&domain.TokenPair{AccessToken: "new", ExpiresIn: 3600}, nil)
	m := newTestManager(refresher, clock)

	got := m.GetValidToken(context.Background(), expiringCredential(clock, 100*time.Second))

	require.Equal(t, int32(1), refresher.calls.Load())
	require.Equal(t, "new", got.AccessToken)
	require.Equal(t, clock.Now().Unix()+3600, got.AccessTokenExpiresAt)
	require.Equal(t, domain.CredentialOK, got.Error)
	require.Equal(t, "rt-1", got.RefreshToken, "refresh token is retained when not rotated")
	require.Equal(t, "owner@acme.test", got.Email)
}

func TestGetValidTokenRotatesRefreshToken(t *testing.T) {
	clock := newFakeClock()
	refresher := newFakeRefresher(&domain.TokenPair{AccessToken: "new", ExpiresIn: 3600, RefreshToken: "rt-2"}, nil)
	m := newTestManager(refresher, clock)

	got := m.GetValidToken(context.Background(), expiringCredential(clock, time.Second))
	require.Equal(t, "rt-2", got.RefreshToken)
}

func TestGetValidTokenRespectsMargin(t *testing.T) {
	clock := newFakeClock()
	refresher := newFakeRefresher(&domain.TokenPair{AccessToken: "new", ExpiresIn: 3600}, nil)
	m := newTestManager(refresher, clock)

	valid := expiringCredential(clock, 301*time.Second)
	require.Equal(t, valid, m.GetValidToken(context.Background(), valid))
	require.Zero(t, refresher.calls.Load())

	atMargin := expiringCredential(clock, 300*time.Second)
	got := m.GetValidToken(context.Background(), atMargin)
	require.Equal(t, int32(1), refresher.calls.Load())
	require.Equal(t, "new", got.AccessToken)
}

func TestGetValidTokenWithoutExpiryIsNeverRefreshed(t *testing.T) {
	clock := newFakeClock()
	refresher := newFakeRefresher(&domain.TokenPair{AccessToken: "new", ExpiresIn: 3600}, nil)
	m := newTestManager(refresher, clock)

	cred := domain.SessionCredential{AccessToken: "old", RefreshToken: "rt-1", SubjectID: "user-1"}
	require.Equal(t, cred, m.GetValidToken(context.Background(), cred))
	require.Zero(t, refresher.calls.Load())
}

func TestGetValidTokenSingleFlight(t *testing.T) {
	clock := newFakeClock()
	refresher := newFakeRefresher(&domain.TokenPair{AccessToken: "new", ExpiresIn: 3600}, nil)
	refresher.hold()
	m := newTestManager(refresher, clock)
	cred := expiringCredential(clock, 10*time.Second)

	const n = 25
	results := make([]domain.SessionCredential, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = m.GetValidToken(context.Background(), cred)
		}(i)
	}

	<-refresher.started
	time.Sleep(20 * time.Millisecond)
	close(refresher.release)
	wg.Wait()

	require.Equal(t, int32(1), refresher.calls.Load())
	for _, r := range results {
		require.Equal(t, results[0], r)
		require.Equal(t, "new", r.AccessToken)
	}
}

func TestGetValidTokenSingleFlightFailure(t *testing.T) {
	clock := newFakeClock()
	refresher := newFakeRefresher(nil, errProviderDown)
	refresher.hold()
	m := newTestManager(refresher, clock)
	cred := expiringCredential(clock, 10*time.Second)

	const n = 10
	results := make([]domain.SessionCredential, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = m.GetValidToken(context.Background(), cred)
		}(i)
	}

	<-refresher.started
	close(refresher.release)
	wg.Wait()

	require.Equal(t, int32(1), refresher.calls.Load())
	for _, r := range results {
		require.Equal(t, domain.CredentialRefreshFailed, r.Error)
		require.Equal(t, "old", r.AccessToken)
	}
}

func TestGetValidTokenRateLimitsAttempts(t *testing.T) {
	clock := newFakeClock()
	// The new token is itself inside the margin, so the cache cannot serve it.
	refresher := newFakeRefresher(&domain.TokenPair{AccessToken: "short", ExpiresIn: 100}, nil)
	m := newTestManager(refresher, clock)
	cred := expiringCredential(clock, 10*time.Second)

	first := m.GetValidToken(context.Background(), cred)
	require.Equal(t, "short", first.AccessToken)

	clock.Advance(10 * time.Second)
	second := m.GetValidToken(context.Background(), cred)
	require.Equal(t, cred, second)
	require.Equal(t, int32(1), refresher.calls.Load())

	clock.Advance(DefaultMinRefreshInterval)
	m.GetValidToken(context.Background(), cred)
	require.Equal(t, int32(2), refresher.calls.Load())
}

func TestGetValidTokenFailureSharedDuringGraceThenDeferred(t *testing.T) {
	clock := newFakeClock()
	refresher := newFakeRefresher(nil, errProviderDown)
	m := newTestManager(refresher, clock)
	cred := expiringCredential(clock, 10*time.Second)

	require.True(t, m.GetValidToken(context.Background(), cred).Failed())

	clock.Advance(50 * time.Millisecond)
	require.True(t, m.GetValidToken(context.Background(), cred).Failed(), "late caller inside the grace window shares the failure")

	clock.Advance(time.Second)
	require.Equal(t, cred, m.GetValidToken(context.Background(), cred), "outside the grace window the attempt is rate limited")
	require.Equal(t, int32(1), refresher.calls.Load())
}

func TestGetValidTokenFailureIsSticky(t *testing.T) {
	clock := newFakeClock()
	refresher := newFakeRefresher(nil, errProviderDown)
	m := newTestManager(refresher, clock)

	failed := m.GetValidToken(context.Background(), expiringCredential(clock, 10*time.Second))
	require.True(t, failed.Failed())

	for i := 0; i < 3; i++ {
		clock.Advance(time.Hour)
		got := m.GetValidToken(context.Background(), failed)
		require.Equal(t, domain.CredentialRefreshFailed, got.Error)
	}
	require.Equal(t, int32(1), refresher.calls.Load())
}

func TestGetValidTokenWithoutRefreshTokenFails(t *testing.T) {
	clock := newFakeClock()
	refresher := newFakeRefresher(&domain.TokenPair{AccessToken: "new", ExpiresIn: 3600}, nil)
	m := newTestManager(refresher, clock)

	cred := expiringCredential(clock, 10*time.Second)
	cred.RefreshToken = ""

	got := m.GetValidToken(context.Background(), cred)
	require.True(t, got.Failed())
	require.Zero(t, refresher.calls.Load())
}

func TestGetValidTokenServesCachedResult(t *testing.T) {
	clock := newFakeClock()
	refresher := newFakeRefresher(&domain.TokenPair{AccessToken: "new", ExpiresIn: 3600}, nil)
	m := newTestManager(refresher, clock)
	stale := expiringCredential(clock, 10*time.Second)

	first := m.GetValidToken(context.Background(), stale)

	clock.Advance(time.Second)
	second := m.GetValidToken(context.Background(), stale)
	require.Equal(t, first.AccessToken, second.AccessToken)
	require.Equal(t, int32(1), refresher.calls.Load())
}

func TestGetValidTokenIsolatesSubjects(t *testing.T) {
	clock := newFakeClock()
	refresher := newFakeRefresher(&domain.TokenPair{AccessToken: "for-user-1", ExpiresIn: 3600}, nil)
	m := newTestManager(refresher, clock)

	one := expiringCredential(clock, 10*time.Second)
	got := m.GetValidToken(context.Background(), one)
	require.Equal(t, "for-user-1", got.AccessToken)

	refresher.tokens = &domain.TokenPair{AccessToken: "for-user-2", ExpiresIn: 3600}
	two := expiringCredential(clock, 10*time.Second)
	two.SubjectID = "user-2"
	two.RefreshToken = "rt-user-2"

	got = m.GetValidToken(context.Background(), two)
	require.Equal(t, "for-user-2", got.AccessToken, "another subject never receives a cached token")
	require.Equal(t, "user-2", got.SubjectID)
	require.Equal(t, int32(2), refresher.calls.Load())
}

func TestGetValidTokenCancelledWaiterKeepsInput(t *testing.T) {
	clock := newFakeClock()
	refresher := newFakeRefresher(&domain.TokenPair{AccessToken: "new", ExpiresIn: 3600}, nil)
	refresher.hold()
	m := newTestManager(refresher, clock)
	cred := expiringCredential(clock, 10*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan domain.SessionCredential)
	go func() { done <- m.GetValidToken(ctx, cred) }()

	<-refresher.started
	cancel()
	require.Equal(t, cred, <-done)

	close(refresher.release)
	require.Eventually(t, func() bool {
		return m.GetValidToken(context.Background(), cred).AccessToken == "new"
	}, time.Second, 5*time.Millisecond, "the refresh completes and is cached for later callers")
}

func TestForgetClearsSubjectState(t *testing.T) {
	clock := newFakeClock()
	refresher := newFakeRefresher(&domain.TokenPair{AccessToken: "short", ExpiresIn: 100}, nil)
	m := newTestManager(refresher, clock)
	cred := expiringCredential(clock, 10*time.Second)

	m.GetValidToken(context.Background(), cred)
	m.Forget(cred.SubjectID)
	m.GetValidToken(context.Background(), cred)

	require.Equal(t, int32(2), refresher.calls.Load())
}

func TestRefreshFailureStaysWithItsRefreshToken(t *testing.T) {
	clock := newFakeClock()
	refresher := newFakeRefresher(&domain.TokenPair{AccessToken: "new", ExpiresIn: 3600}, nil)
	refresher.reject = "rt-revoked"
	refresher.hold()
	m := newTestManager(refresher, clock)
	ctx := context.Background()

	// Two sessions of the same subject; only one of them holds a revoked refresh token.
	revoked := expiringCredential(clock, 10*time.Second)
	revoked.RefreshToken = "rt-revoked"
	healthy := expiringCredential(clock, 10*time.Second)

	revokedResult := make(chan domain.SessionCredential, 1)
	go func() { revokedResult <- m.GetValidToken(ctx, revoked) }()
	<-refresher.started

	healthyResult := make(chan domain.SessionCredential, 1)
	go func() { healthyResult <- m.GetValidToken(ctx, healthy) }()
	time.Sleep(20 * time.Millisecond)
	close(refresher.release)

	require.Equal(t, domain.CredentialRefreshFailed, (<-revokedResult).Error)
	got := <-healthyResult
	require.Equal(t, domain.CredentialOK, got.Error)
	require.Equal(t, "old", got.AccessToken)

	// Inside the grace window only the rejected token sees the failure.
	require.Equal(t, domain.CredentialRefreshFailed, m.GetValidToken(ctx, revoked).Error)
	require.Equal(t, healthy, m.GetValidToken(ctx, healthy))

	clock.Advance(31 * time.Second)
	got = m.GetValidToken(ctx, healthy)
	require.Equal(t, "new", got.AccessToken)
	require.Equal(t, domain.CredentialOK, got.Error)
	require.Equal(t, int32(2), refresher.calls.Load())
}
