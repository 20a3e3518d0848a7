// Package api exposes the message history over HTTP: filtered listing,
// single-message retrieval, capture submission and deletion.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Zerofisher/haestore/pkg/ingest"
	"github.com/Zerofisher/haestore/pkg/model"
	"github.com/Zerofisher/haestore/pkg/query"
	"github.com/Zerofisher/haestore/pkg/store/sqlite"
)

// Service is the storage surface the handlers need.
type Service interface {
	QueryPage(ctx context.Context, f query.Filter, page, pageSize int) query.PageResult
	CountMatching(ctx context.Context, f query.Filter) int
	LoadByID(ctx context.Context, id string) (*model.Transaction, bool)
	Matches(ctx context.Context, id string) []model.MatchEntry
	DeleteByHostPattern(ctx context.Context, pattern string) int
	DeleteAll(ctx context.Context) int
	DatabaseLocation() string
	Available() bool
	SchemaVersion(ctx context.Context) (int, error)
}

// Recorder stores submitted captures.
type Recorder interface {
	Record(ctx context.Context, c ingest.Capture) (ingest.Result, error)
}

// Option configures the server.
type Option func(*server)

// WithRecorder enables POST /api/messages.
func WithRecorder(r Recorder) Option { return func(s *server) { s.rec = r } }

// WithRefresher is notified after deletions so an attached coordinator
// re-runs its query.
func WithRefresher(r ingest.Refresher) Option { return func(s *server) { s.refresher = r } }

// WithLogger sets the request and error logger.
func WithLogger(l *slog.Logger) Option { return func(s *server) { s.log = l } }

type server struct {
	svc       Service
	rec       Recorder
	refresher ingest.Refresher
	log       *slog.Logger
}

// NewServer builds the HTTP handler over svc.
func NewServer(svc Service, opts ...Option) http.Handler {
	s := &server{svc: svc, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}

	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger(s.log))
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("haestore message history API", "1.0.0")
	api := humachi.New(router, cfg)

	s.registerMessageHandlers(api)
	s.registerStorageHandlers(api)

	return router
}

func (s *server) refresh() {
	if s.refresher == nil {
		return
	}
	if _, err := s.refresher.Refresh(); err != nil {
		s.log.Debug("refresh after delete skipped", "error", err)
	}
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, query.ErrPageSize):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, ingest.ErrMalformed), errors.Is(err, model.ErrInvalidRecord):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, sqlite.ErrStorage):
		return huma.Error503ServiceUnavailable(err.Error())
	}
	return huma.Error500InternalServerError(err.Error())
}
