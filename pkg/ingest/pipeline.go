package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Config holds configuration for the import pipeline.
type Config struct {
	// Workers is the number of parallel record workers.
	// Defaults to runtime.GOMAXPROCS(0) if <= 0.
	Workers int

	// ProgressCallback is called every 100 captures.
	ProgressCallback func(processed int, elapsed time.Duration)

	Logger *slog.Logger
}

// ImportResult holds the totals of one import run.
type ImportResult struct {
	Total      int
	Saved      int
	Duplicates int
	Skipped    int
	Failed     int
	Malformed  int
	Duration   time.Duration
}

// Progress holds progress information during an import.
type Progress struct {
	Processed int
	Elapsed   time.Duration
	Rate      float64 // captures per second
}

// Pipeline bulk-imports captures through a Recorder.
type Pipeline struct {
	cfg    Config
	rec    *Recorder
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	start  time.Time // set once by NewPipeline

	processed  atomic.Int64
	saved      atomic.Int64
	duplicates atomic.Int64
	skipped    atomic.Int64
	failed     atomic.Int64
}

// NewPipeline creates an import pipeline feeding rec.
func NewPipeline(rec *Recorder, cfg Config) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		cfg:    cfg,
		rec:    rec,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		start:  time.Now(),
	}
}

// Run imports every capture of the JSONL stream r. Malformed lines are
// counted and skipped. The coordinator, if any, is refreshed once at the end.
func (p *Pipeline) Run(r io.Reader) (*ImportResult, error) {
	result := &ImportResult{}

	captures := make(chan Capture, p.cfg.Workers*2)

	var wg sync.WaitGroup
	for range p.cfg.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.workerLoop(captures)
		}()
	}

	reader := NewJSONLReader(r)
	var readErr error
read:
	for {
		c, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		var lineErr *LineError
		if errors.As(err, &lineErr) {
			result.Malformed++
			p.log.Warn("skipping malformed capture", "line", lineErr.Line, "error", lineErr.Err)
			continue
		}
		if err != nil {
			readErr = fmt.Errorf("read captures: %w", err)
			break
		}

		select {
		case captures <- c:
		case <-p.ctx.Done():
			break read
		}
	}

	close(captures)
	wg.Wait()

	result.Total = int(p.processed.Load()) + result.Malformed
	result.Saved = int(p.saved.Load())
	result.Duplicates = int(p.duplicates.Load())
	result.Skipped = int(p.skipped.Load())
	result.Failed = int(p.failed.Load())
	result.Duration = time.Since(p.start)

	if result.Saved > 0 {
		p.rec.refresh()
	}
	if readErr != nil {
		return result, readErr
	}
	return result, p.ctx.Err()
}

func (p *Pipeline) workerLoop(captures <-chan Capture) {
	for c := range captures {
		if p.ctx.Err() != nil {
			continue
		}
		res, err := p.rec.record(p.ctx, c)
		switch res.Outcome {
		case Saved:
			p.saved.Add(1)
		case Duplicate:
			p.duplicates.Add(1)
		case Skipped:
			p.skipped.Add(1)
		default:
			p.failed.Add(1)
			p.log.Error("capture not saved", "url", c.URL, "error", err)
		}

		n := p.processed.Add(1)
		if p.cfg.ProgressCallback != nil && n%100 == 0 {
			p.cfg.ProgressCallback(int(n), time.Since(p.start))
		}
	}
}

// Stop cancels the pipeline. Captures already queued are dropped.
func (p *Pipeline) Stop() {
	p.cancel()
}

// Progress returns current progress.
func (p *Pipeline) Progress() Progress {
	n := int(p.processed.Load())
	elapsed := time.Since(p.start)
	var rate float64
	if elapsed > 0 {
		rate = float64(n) / elapsed.Seconds()
	}
	return Progress{Processed: n, Elapsed: elapsed, Rate: rate}
}
