package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arturoeanton/storefront-dashboard/internal/domain"
	"github.com/arturoeanton/storefront-dashboard/internal/port"
)

// Poll bounds.
const (
	DefaultPollMaxAttempts = 240
	DefaultPollTimeout     = 15 * time.Minute

	historyTimeout = 5 * time.Second
)

// PollInterval returns the wait before the next status check once attempt checks
// have been made: fast at first, then backing off to a steady 5s.
func PollInterval(attempt int) time.Duration {
	switch {
	case attempt <= 2:
		return 1 * time.Second
	case attempt <= 4:
		return 2 * time.Second
	case attempt <= 6:
		return 3 * time.Second
	default:
		return 5 * time.Second
	}
}

// PollerConfig bounds how long a deployment is polled.
type PollerConfig struct {
	MaxAttempts int
	Timeout     time.Duration
	History     port.DeploymentHistory // optional
}

type trackedDeployment struct {
	record domain.DeploymentRecord
	tokens port.TokenSource
	cancel context.CancelFunc
	gen    uint64
}

// DeploymentPoller tracks storefront deployments and polls the gateway for each
// one on its own goroutine until it reaches a terminal state. Every record belongs
// to the subject that started it, and all reads and controls are scoped to an owner.
type DeploymentPoller struct {
	api    port.DeploymentStatusChecker
	cfg    PollerConfig
	now    func() time.Time
	after  func(time.Duration) <-chan time.Time
	logger *slog.Logger

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu      sync.Mutex
	tracked map[string]*trackedDeployment
	order   []string
	gen     uint64
	subs    map[chan domain.DeploymentSnapshot]string // channel -> owner
	closed  bool
}

// NewDeploymentPoller creates a poller. Zero config bounds take the defaults.
func NewDeploymentPoller(api port.DeploymentStatusChecker, cfg PollerConfig) *DeploymentPoller {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultPollMaxAttempts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultPollTimeout
	}
	ctx, stop := context.WithCancel(context.Background())
	return &DeploymentPoller{
		api:     api,
		cfg:     cfg,
		now:     time.Now,
		after:   time.After,
		logger:  slog.Default(),
		ctx:     ctx,
		stop:    stop,
		tracked: make(map[string]*trackedDeployment),
		subs:    make(map[chan domain.DeploymentSnapshot]string),
	}
}

// StartDeployment starts tracking a deployment of tenant on behalf of owner,
// replacing any previous record for the same shop, and begins polling it immediately.
func (p *DeploymentPoller) StartDeployment(owner string, tenant domain.Tenant, tokens port.TokenSource) domain.DeploymentRecord {
	p.mu.Lock()
	notify := []string{owner}
	if old, ok := p.tracked[tenant.ShopID]; ok {
		old.cancel()
		p.removeOrderLocked(tenant.ShopID)
		if old.record.OwnerID != owner {
			notify = append(notify, old.record.OwnerID)
		}
	}

	p.gen++
	ctx, cancel := context.WithCancel(p.ctx)
	t := &trackedDeployment{
		record: domain.DeploymentRecord{
			OwnerID:   owner,
			ShopID:    tenant.ShopID,
			Subdomain: tenant.Subdomain,
			Status:    domain.DeploymentDeploying,
			StartedAt: p.now(),
		},
		tokens: tokens,
		cancel: cancel,
		gen:    p.gen,
	}
	p.tracked[tenant.ShopID] = t
	p.order = append(p.order, tenant.ShopID)
	rec := t.record
	p.publishLocked(notify...)

	p.wg.Add(1)
	p.mu.Unlock()

	p.logger.Info("deployment started", "shop_id", tenant.ShopID, "subdomain", tenant.Subdomain, "owner", owner)
	go p.run(ctx, tenant.ShopID, t.gen)
	return rec
}

// run polls one deployment. The record's Attempts counter drives both the
// backoff and the attempt bound, so manual checks count too.
func (p *DeploymentPoller) run(ctx context.Context, shopID string, gen uint64) {
	defer p.wg.Done()

	started := p.now()
	for {
		rec, err := p.check(ctx, shopID, gen)
		if rec == nil {
			return // replaced or removed
		}
		if rec.Status.Terminal() {
			return
		}
		if err != nil && ctx.Err() == nil {
			p.logger.Warn("deployment status check failed", "shop_id", shopID, "attempt", rec.Attempts, "error", err)
		}

		if rec.Attempts >= p.cfg.MaxAttempts || p.now().Sub(started) >= p.cfg.Timeout {
			p.timeOut(shopID, gen)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-p.after(PollInterval(rec.Attempts)):
		}
	}
}

// CheckStatus performs one status check for a shop tracked by owner and returns
// its record. Transport errors leave the record unchanged and are returned alongside it.
func (p *DeploymentPoller) CheckStatus(ctx context.Context, owner, shopID string) (*domain.DeploymentRecord, error) {
	p.mu.Lock()
	t, ok := p.tracked[shopID]
	if !ok || t.record.OwnerID != owner {
		p.mu.Unlock()
		return nil, port.ErrDeploymentNotFound
	}
	gen := t.gen
	p.mu.Unlock()

	rec, err := p.check(ctx, shopID, gen)
	if rec == nil {
		return nil, port.ErrDeploymentNotFound
	}
	return rec, err
}

// check issues one status request. A nil record means the shop is no longer
// tracked under gen.
func (p *DeploymentPoller) check(ctx context.Context, shopID string, gen uint64) (*domain.DeploymentRecord, error) {
	p.mu.Lock()
	t, ok := p.tracked[shopID]
	if !ok || t.gen != gen {
		p.mu.Unlock()
		return nil, nil
	}
	if t.record.Status.Terminal() {
		rec := t.record
		p.mu.Unlock()
		return &rec, nil
	}
	tokens := t.tokens
	p.mu.Unlock()

	report, err := p.fetch(ctx, tokens, shopID)

	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok = p.tracked[shopID]
	if !ok || t.gen != gen {
		return nil, nil
	}
	if t.record.Status.Terminal() {
		// A concurrent check got there first.
		rec := t.record
		return &rec, nil
	}

	t.record.Attempts++
	if err == nil {
		p.applyLocked(t, report)
	}
	rec := t.record
	p.publishLocked(rec.OwnerID)
	return &rec, err
}

func (p *DeploymentPoller) fetch(ctx context.Context, tokens port.TokenSource, shopID string) (*domain.StatusReport, error) {
	token, err := tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve token: %w", err)
	}
	return p.api.DeploymentStatus(ctx, token, shopID)
}

func (p *DeploymentPoller) applyLocked(t *trackedDeployment, report *domain.StatusReport) {
	switch domain.DeploymentStatus(report.Status) {
	case domain.DeploymentDeployed:
		t.record.Status = domain.DeploymentDeployed
		t.record.URL = report.URL
	case domain.DeploymentFailed:
		t.record.Status = domain.DeploymentFailed
		t.record.Message = report.Message
	default:
		return
	}
	p.finishLocked(t)
	p.logger.Info("deployment finished",
		"shop_id", t.record.ShopID,
		"status", t.record.Status,
		"attempts", t.record.Attempts,
	)
}

func (p *DeploymentPoller) timeOut(shopID string, gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.tracked[shopID]
	if !ok || t.gen != gen || t.record.Status.Terminal() {
		return
	}
	t.record.Status = domain.DeploymentTimedOut
	t.record.Message = fmt.Sprintf("no terminal status after %d checks", t.record.Attempts)
	p.finishLocked(t)
	p.publishLocked(t.record.OwnerID)
	p.logger.Warn("deployment polling timed out", "shop_id", shopID, "attempts", t.record.Attempts)
}

// finishLocked stamps a terminal record, stops its loop and hands it to history.
func (p *DeploymentPoller) finishLocked(t *trackedDeployment) {
	completed := p.now()
	t.record.CompletedAt = &completed
	t.cancel()

	if p.cfg.History == nil {
		return
	}
	rec := t.record
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
		defer cancel()
		if err := p.cfg.History.RecordDeployment(ctx, rec); err != nil {
			p.logger.Error("failed to record deployment", "shop_id", rec.ShopID, "error", err)
		}
	}()
}

// Get returns the current record for a shop tracked by owner.
func (p *DeploymentPoller) Get(owner, shopID string) (*domain.DeploymentRecord, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tracked[shopID]
	if !ok || t.record.OwnerID != owner {
		return nil, false
	}
	rec := t.record
	return &rec, true
}

// Snapshot returns owner's tracked deployments in start order.
func (p *DeploymentPoller) Snapshot(owner string) domain.DeploymentSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked(owner)
}

// Remove stops tracking a shop's deployment if owner started it.
func (p *DeploymentPoller) Remove(owner, shopID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tracked[shopID]
	if !ok || t.record.OwnerID != owner {
		return false
	}
	t.cancel()
	delete(p.tracked, shopID)
	p.removeOrderLocked(shopID)
	p.publishLocked(owner)
	return true
}

// ClearAll stops the poll loops of owner's deployments and forgets them.
func (p *DeploymentPoller) ClearAll(owner string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	removed := false
	for shopID, t := range p.tracked {
		if t.record.OwnerID != owner {
			continue
		}
		t.cancel()
		delete(p.tracked, shopID)
		p.removeOrderLocked(shopID)
		removed = true
	}
	if removed {
		p.publishLocked(owner)
	}
}

// Close stops all polling, closes every subscription and waits for in-flight
// work to finish.
func (p *DeploymentPoller) Close() {
	p.stop()

	p.mu.Lock()
	p.closed = true
	for ch := range p.subs {
		delete(p.subs, ch)
		close(ch)
	}
	p.mu.Unlock()

	p.wg.Wait()
}

// Subscribe returns a channel that receives owner's current snapshot immediately
// and again after every change to owner's deployments. Slow subscribers only see
// the latest snapshot. The channel is closed by the returned func or by Close.
func (p *DeploymentPoller) Subscribe(owner string) (<-chan domain.DeploymentSnapshot, func()) {
	ch := make(chan domain.DeploymentSnapshot, 8)

	p.mu.Lock()
	defer p.mu.Unlock()
	ch <- p.snapshotLocked(owner)
	if p.closed {
		close(ch)
		return ch, func() {}
	}
	p.subs[ch] = owner

	return ch, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if _, ok := p.subs[ch]; ok {
			delete(p.subs, ch)
			close(ch)
		}
	}
}

func (p *DeploymentPoller) snapshotLocked(owner string) domain.DeploymentSnapshot {
	snap := domain.DeploymentSnapshot{Deployments: []domain.DeploymentRecord{}}
	for _, id := range p.order {
		rec := p.tracked[id].record
		if rec.OwnerID != owner {
			continue
		}
		if rec.Status == domain.DeploymentDeploying {
			snap.IsDeploying = true
		}
		snap.Deployments = append(snap.Deployments, rec)
	}
	return snap
}

// publishLocked sends each listed owner's snapshot to that owner's subscribers,
// replacing the oldest queued snapshot when a subscriber's buffer is full.
func (p *DeploymentPoller) publishLocked(owners ...string) {
	if len(p.subs) == 0 {
		return
	}
	for _, owner := range owners {
		var snap *domain.DeploymentSnapshot
		for ch, subOwner := range p.subs {
			if subOwner != owner {
				continue
			}
			if snap == nil {
				s := p.snapshotLocked(owner)
				snap = &s
			}
			select {
			case ch <- *snap:
			default:
				select {
				case <-ch:
				default:
				}
				select {
				case ch <- *snap:
				default:
				}
			}
		}
	}
}

func (p *DeploymentPoller) removeOrderLocked(shopID string) {
	for i, id := range p.order {
		if id == shopID {
			p.order = append(p.order[:i], p.order[i+1:]...)
			return
		}
	}
}
