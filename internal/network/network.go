package network

import (
	"context"
	"net/http"
	"sync"
	"time"

	"pinnit-go/internal/pinnit"
)

// Observer reports whether the remote store is reachable.
type Observer interface {
	// Online samples current reachability.
	Online(ctx context.Context) bool

	// Subscribe registers fn to be called when reachability changes.
	// The returned function removes the subscription.
	Subscribe(fn func(online bool)) (cancel func())
}

// Static is an Observer with a fixed answer, used for --offline and tests.
type Static struct {
	online bool
}

var _ Observer = (*Static)(nil)

// NewStatic creates a Static observer.
func NewStatic(online bool) *Static {
	return &Static{online: online}
}

func (s *Static) Online(context.Context) bool { return s.online }

func (s *Static) Subscribe(func(bool)) func() { return func() {} }

// Prober decides reachability by issuing GET requests to a health URL.
// With no URL configured it always reports online and leaves failures to
// the remote calls themselves.
type Prober struct {
	url      string
	client   *http.Client
	interval time.Duration
	logger   pinnit.Logger

	mu     sync.Mutex
	last   *bool
	nextID int
	subs   map[int]func(bool)
}

var _ Observer = (*Prober)(nil)

// NewProber creates a Prober. timeout bounds each probe; interval is the
// polling period used by Run.
func NewProber(url string, timeout, interval time.Duration, logger pinnit.Logger) *Prober {
	return &Prober{
		url:      url,
		client:   &http.Client{Timeout: timeout},
		interval: interval,
		logger:   logger,
		subs:     make(map[int]func(bool)),
	}
}

// Online probes once and notifies subscribers if the answer changed.
func (p *Prober) Online(ctx context.Context) bool {
	online := p.probe(ctx)
	p.record(online)
	return online
}

func (p *Prober) probe(ctx context.Context) bool {
	if p.url == "" {
		return true
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		p.logger.Warn("building probe request failed", "url", p.url, "error", err)
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("probe failed", "url", p.url, "error", err)
		return false
	}
	resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (p *Prober) record(online bool) {
	p.mu.Lock()
	changed := p.last == nil || *p.last != online
	p.last = &online
	var notify []func(bool)
	if changed {
		for _, fn := range p.subs {
			notify = append(notify, fn)
		}
	}
	p.mu.Unlock()

	if changed {
		p.logger.Info("connectivity changed", "online", online)
	}
	for _, fn := range notify {
		fn(online)
	}
}

func (p *Prober) Subscribe(fn func(bool)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++
	p.subs[id] = fn

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs, id)
	}
}

// Run probes every interval until ctx is done. Subscribers are called from
// this goroutine.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Online(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Online(ctx)
		}
	}
}
