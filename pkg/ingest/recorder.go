// Package ingest turns captured transactions into stored message records:
// extraction, highlight derivation, content hashing, duplicate suppression
// and persistence, one capture at a time or in bulk from a JSONL stream.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strconv"
	"strings"

	"github.com/Zerofisher/haestore/pkg/extract"
	"github.com/Zerofisher/haestore/pkg/model"
	"github.com/Zerofisher/haestore/pkg/query"
	"github.com/Zerofisher/haestore/pkg/store"
)

// Capture is one intercepted request/response pair as handed over by the
// interception layer. Empty Comment or Color are derived from the rules.
type Capture struct {
	URL      string
	Method   string
	Status   string
	Length   string
	Comment  string
	Color    string
	Endpoint model.Endpoint
	Request  []byte
	Response []byte
}

// Outcome says what Record did with a capture.
type Outcome int

const (
	Saved Outcome = iota
	Duplicate
	Skipped
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Saved:
		return "saved"
	case Duplicate:
		return "duplicate"
	case Skipped:
		return "skipped"
	default:
		return "failed"
	}
}

// Highlighter derives comment and color from the matches of a capture.
type Highlighter interface {
	Highlight(m *extract.Matches) (comment, color string)
}

// Refresher is notified after a record was stored.
type Refresher interface {
	Refresh() (uint64, error)
}

// HashFunc computes the content hash of request‖response.
type HashFunc func(payload []byte) string

// SHA256Hex is the default content hash.
func SHA256Hex(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Recorder validates, enriches and saves captures.
type Recorder struct {
	store     store.Store
	agg       *extract.Aggregator
	engine    extract.Engine
	highlight Highlighter
	hash      HashFunc
	dedup     bool
	scope     string
	refresher Refresher
	pool      *query.Pool
	log       *slog.Logger
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithEngine sets the rule engine run over both directions.
func WithEngine(e extract.Engine) Option { return func(r *Recorder) { r.engine = e } }

// WithHighlighter derives missing comment/color from matches.
func WithHighlighter(h Highlighter) Option { return func(r *Recorder) { r.highlight = h } }

// WithAggregator sets the aggregator that splits engine output.
func WithAggregator(a *extract.Aggregator) Option { return func(r *Recorder) { r.agg = a } }

// WithHash replaces the content hash function.
func WithHash(h HashFunc) Option { return func(r *Recorder) { r.hash = h } }

// WithDedup toggles duplicate suppression. On by default.
func WithDedup(on bool) Option { return func(r *Recorder) { r.dedup = on } }

// WithScope limits recording to hosts matching a host pattern.
func WithScope(pattern string) Option { return func(r *Recorder) { r.scope = pattern } }

// WithRefresher is notified after each save.
func WithRefresher(rf Refresher) Option { return func(r *Recorder) { r.refresher = rf } }

// WithPool sets the pool used by Submit.
func WithPool(p *query.Pool) Option { return func(r *Recorder) { r.pool = p } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Recorder) { r.log = l } }

// NewRecorder creates a Recorder writing to st.
func NewRecorder(st store.Store, opts ...Option) *Recorder {
	r := &Recorder{
		store: st,
		hash:  SHA256Hex,
		dedup: true,
		scope: query.AllToken,
		log:   slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	if r.agg == nil {
		r.agg = extract.NewAggregator("")
	}
	return r
}

// Result reports the outcome of one capture.
type Result struct {
	Outcome Outcome
	ID      string
	Comment string
	Color   string
}

// Record processes c synchronously. Captures without a comment or color
// after highlight derivation, or outside the scope, are skipped without
// error. Storage failures are reported as Failed with the store's error.
func (r *Recorder) Record(ctx context.Context, c Capture) (Result, error) {
	res, err := r.record(ctx, c)
	if res.Outcome == Saved {
		r.refresh()
	}
	return res, err
}

func (r *Recorder) refresh() {
	if r.refresher == nil {
		return
	}
	if _, err := r.refresher.Refresh(); err != nil {
		r.log.Debug("refresh after save skipped", "error", err)
	}
}

// Submit runs Record on the pool and reports to done, which may be nil.
// Without a pool the capture is recorded on the calling goroutine.
func (r *Recorder) Submit(ctx context.Context, c Capture, done func(Result, error)) error {
	task := func() {
		res, err := r.Record(ctx, c)
		if done != nil {
			done(res, err)
		}
	}
	if r.pool == nil {
		task()
		return nil
	}
	return r.pool.Submit(task)
}

func (r *Recorder) record(ctx context.Context, c Capture) (Result, error) {
	host := model.HostFromURL(c.URL, c.Endpoint.Host)
	if !query.MatchHost(host, r.scope) {
		return Result{Outcome: Skipped}, nil
	}

	var matches *extract.Matches
	comment := strings.TrimSpace(c.Comment)
	color := strings.TrimSpace(c.Color)
	if (comment == "" || color == "") && r.highlight != nil {
		matches = r.agg.Collect(ctx, r.engine, host, c.Request, c.Response)
		dc, dcol := r.highlight.Highlight(matches)
		if comment == "" {
			comment = dc
		}
		if color == "" {
			color = dcol
		}
	}
	if comment == "" || color == "" {
		return Result{Outcome: Skipped}, nil
	}

	payload := make([]byte, 0, len(c.Request)+len(c.Response))
	payload = append(payload, c.Request...)
	payload = append(payload, c.Response...)
	hash := r.hash(payload)

	if r.dedup && r.store.ExistsDuplicate(ctx, c.URL, comment, color, hash) {
		r.log.Debug("duplicate capture skipped", "url", c.URL, "comment", comment)
		return Result{Outcome: Duplicate, Comment: comment, Color: color}, nil
	}

	if matches == nil {
		matches = r.agg.Collect(ctx, r.engine, host, c.Request, c.Response)
	}

	length := c.Length
	if length == "" {
		length = strconv.Itoa(len(c.Response))
	}

	rec := &model.MessageRecord{
		Host:        host,
		URL:         c.URL,
		Method:      c.Method,
		Status:      c.Status,
		Length:      length,
		Comment:     comment,
		Color:       color,
		ContentHash: hash,
		Endpoint:    c.Endpoint,
		Request:     c.Request,
		Response:    c.Response,
	}
	id, err := r.store.Save(ctx, rec, matches.Entries())
	if err != nil {
		return Result{Outcome: Failed, Comment: comment, Color: color}, err
	}
	return Result{Outcome: Saved, ID: id, Comment: comment, Color: color}, nil
}
