package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arturoeanton/storefront-dashboard/internal/domain"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var errProviderDown = errors.New("provider down")

// fakeRefresher counts refresh calls and can be held open until released.
type fakeRefresher struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	tokens  *domain.TokenPair
	err     error
	reject  string // refresh token that always fails
}

func newFakeRefresher(tokens *domain.TokenPair, err error) *fakeRefresher {
	return &fakeRefresher{
		started: make(chan struct{}, 16),
		tokens:  tokens,
		err:     err,
	}
}

func (f *fakeRefresher) hold() {
	f.release = make(chan struct{})
}

func (f *fakeRefresher) RefreshToken(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	f.calls.Add(1)
	f.started <- struct{}{}
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.reject != "" && refreshToken == f.reject {
		return nil, errProviderDown
	}
	tokens := *f.tokens
	return &tokens, nil
}
