package query

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Zerofisher/haestore/pkg/model"
)

// FilterState is the consumer-controlled filter, page position and version.
// Query tasks receive it by value.
type FilterState struct {
	Filter
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
	Version  uint64 `json:"version"`
}

// Page is a published, internally consistent query result.
type Page struct {
	Version    uint64                  `json:"version"`
	State      FilterState             `json:"state"`
	Records    []model.MessageMetadata `json:"records"`
	Pagination Pagination              `json:"pagination"`
}

// Coordinator owns the FilterState and keeps at most one live query.
//
// Every state change bumps the version, cancels the previous task and submits
// a new count+fetch. A task whose version is no longer current when it
// finishes is dropped, so only the latest request is ever published.
type Coordinator struct {
	src      PageSource
	pool     *Pool
	ownsPool bool
	log      *slog.Logger

	mu        sync.Mutex
	state     FilterState
	version   atomic.Uint64
	cancel    context.CancelFunc
	latest    Page
	published chan struct{} // closed and replaced on every publish
	closed    bool

	pubMu     sync.Mutex
	onPublish func(Page)
	delivered uint64
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPool runs query tasks on a shared pool instead of a private one.
func WithPool(p *Pool) Option {
	return func(c *Coordinator) { c.pool = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// WithPublisher registers a callback receiving every published page in
// version order. It runs on a worker goroutine.
func WithPublisher(fn func(Page)) Option {
	return func(c *Coordinator) { c.onPublish = fn }
}

// WithPageSize sets the initial page size. Invalid sizes are ignored.
func WithPageSize(n int) Option {
	return func(c *Coordinator) {
		if ValidPageSize(n) {
			c.state.PageSize = n
		}
	}
}

// NewCoordinator creates a coordinator with default filters. No query is
// issued until the first state change, Refresh or Reload.
func NewCoordinator(src PageSource, opts ...Option) *Coordinator {
	c := &Coordinator{
		src: src,
		state: FilterState{
			Filter:   Filter{Host: AllToken},
			Page:     1,
			PageSize: DefaultPageSize,
		},
		published: make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.pool == nil {
		c.pool = NewPool(1)
		c.ownsPool = true
	}
	c.latest = Page{
		State:      c.state,
		Pagination: Paginate(0, c.state.PageSize, 1),
	}
	return c
}

// ────────────────────────────────────────────────────────────────────────────────
// State transitions
// ────────────────────────────────────────────────────────────────────────────────

// SetHostFilter filters by host pattern, clears the rule filter and returns to page 1.
func (c *Coordinator) SetHostFilter(pattern string) (uint64, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		pattern = AllToken
	}
	return c.mutate(func(s *FilterState) {
		s.Host = pattern
		clearRule(s)
		s.Page = 1
	})
}

// SetCommentFilter filters by comment keyword, clears the rule filter and returns to page 1.
// Surrounding spaces are part of the keyword; a blank keyword disables the filter.
func (c *Coordinator) SetCommentFilter(keyword string) (uint64, error) {
	if strings.TrimSpace(keyword) == "" {
		keyword = ""
	}
	return c.mutate(func(s *FilterState) {
		s.Comment = keyword
		clearRule(s)
		s.Page = 1
	})
}

// SetRuleFilter filters by an exact rule name and extracted value. A half
// specified pair, or "*" for either, clears the rule filter.
func (c *Coordinator) SetRuleFilter(name, value string) (uint64, error) {
	name = strings.TrimSpace(name)
	value = strings.TrimSpace(value)
	return c.mutate(func(s *FilterState) {
		s.RuleName, s.RuleValue = name, value
		if !s.RuleActive() {
			clearRule(s)
		}
		s.Page = 1
	})
}

// SetPage requests a 1-based page. The task clamps it to the last page.
func (c *Coordinator) SetPage(page int) (uint64, error) {
	return c.mutate(func(s *FilterState) {
		s.Page = max(1, page)
	})
}

// NextPage advances one page if the last published page was not the last.
func (c *Coordinator) NextPage() (bool, error) {
	c.mu.Lock()
	if c.state.Page >= c.latest.Pagination.TotalPages {
		c.mu.Unlock()
		return false, nil
	}
	c.state.Page++
	_, err := c.launchLocked()
	c.mu.Unlock()
	return err == nil, err
}

// PrevPage steps back one page if not already on page 1.
func (c *Coordinator) PrevPage() (bool, error) {
	c.mu.Lock()
	if c.state.Page <= 1 {
		c.mu.Unlock()
		return false, nil
	}
	c.state.Page--
	_, err := c.launchLocked()
	c.mu.Unlock()
	return err == nil, err
}

// SetPageSize changes the page size and always returns to page 1.
func (c *Coordinator) SetPageSize(n int) (uint64, error) {
	if !ValidPageSize(n) {
		return 0, ErrPageSize
	}
	return c.mutate(func(s *FilterState) {
		s.PageSize = n
		s.Page = 1
	})
}

// Refresh re-runs the query under the current state. Called after writes so
// filters persist across new captures.
func (c *Coordinator) Refresh() (uint64, error) {
	return c.mutate(func(*FilterState) {})
}

// Reload clears the rule filter and returns to page 1, keeping host and
// comment filters.
func (c *Coordinator) Reload() (uint64, error) {
	return c.mutate(func(s *FilterState) {
		clearRule(s)
		s.Page = 1
	})
}

func clearRule(s *FilterState) {
	s.RuleName = ""
	s.RuleValue = ""
}

func (c *Coordinator) mutate(fn func(*FilterState)) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, ErrClosed
	}
	fn(&c.state)
	return c.launchLocked()
}

// launchLocked bumps the version, cancels the running task and submits a new
// one over a snapshot of the state. c.mu must be held.
func (c *Coordinator) launchLocked() (uint64, error) {
	if c.closed {
		return 0, ErrClosed
	}

	v := c.version.Add(1)
	c.state.Version = v
	if c.cancel != nil {
		c.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	snap := c.state
	if err := c.pool.Submit(func() { c.run(ctx, cancel, snap) }); err != nil {
		cancel()
		return 0, err
	}
	return v, nil
}

// ────────────────────────────────────────────────────────────────────────────────
// Task execution
// ────────────────────────────────────────────────────────────────────────────────

func (c *Coordinator) run(ctx context.Context, cancel context.CancelFunc, snap FilterState) {
	defer cancel()

	if ctx.Err() != nil {
		c.log.Debug("query superseded before start", "version", snap.Version)
		return
	}
	res := c.src.QueryPage(ctx, snap.Filter, snap.Page, snap.PageSize)
	c.complete(snap, res)
}

func (c *Coordinator) complete(snap FilterState, res PageResult) {
	c.mu.Lock()
	if c.closed || snap.Version != c.version.Load() {
		c.mu.Unlock()
		c.log.Debug("stale query result dropped", "version", snap.Version)
		return
	}

	c.state.Page = res.Pagination.Page
	snap.Page = res.Pagination.Page
	page := Page{
		Version:    snap.Version,
		State:      snap,
		Records:    res.Records,
		Pagination: res.Pagination,
	}
	c.latest = page
	close(c.published)
	c.published = make(chan struct{})
	c.mu.Unlock()

	c.deliver(page)
}

// deliver hands page to the publisher, never going back in version.
func (c *Coordinator) deliver(page Page) {
	if c.onPublish == nil {
		return
	}
	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	if page.Version <= c.delivered {
		return
	}
	c.delivered = page.Version
	c.onPublish(page)
}

// ────────────────────────────────────────────────────────────────────────────────
// Observation
// ────────────────────────────────────────────────────────────────────────────────

// Snapshot returns a copy of the current FilterState.
func (c *Coordinator) Snapshot() FilterState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Latest returns the most recently published page.
func (c *Coordinator) Latest() Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest
}

// Await blocks until the page for the latest request is published.
func (c *Coordinator) Await(ctx context.Context) (Page, error) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return Page{}, ErrClosed
		}
		if c.latest.Version == c.version.Load() {
			p := c.latest
			c.mu.Unlock()
			return p, nil
		}
		ch := c.published
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return Page{}, ctx.Err()
		case <-ch:
		}
	}
}

// Close cancels any running query and stops publishing. A private pool is
// shut down; a shared one is left to its owner.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.cancel != nil {
		c.cancel()
	}
	close(c.published)
	c.mu.Unlock()

	if c.ownsPool {
		c.pool.Close()
	}
}
