// Package store defines the message history storage interface.
package store

import (
	"context"

	"github.com/Zerofisher/haestore/pkg/model"
	"github.com/Zerofisher/haestore/pkg/query"
)

// SchemaVersion is incremented when the on-disk schema changes.
const SchemaVersion = 1

// Store is the persistence surface consumed by the presentation layer.
// Storage failures are absorbed and logged by implementations; callers get
// empty, zero or false results instead.
type Store interface {
	// Lifecycle
	Close() error

	// DatabaseLocation returns the resolved storage path, for display only.
	DatabaseLocation() string

	Writer
	Reader
}

// Writer holds the mutating operations. They are mutually exclusive with
// each other and with compound reads.
type Writer interface {
	// Save inserts rec and replaces all of its match entries atomically.
	// It assigns rec.ID and rec.CreatedAt and returns the ID.
	Save(ctx context.Context, rec *model.MessageRecord, matches []model.MatchEntry) (string, error)

	// DeleteByHostPattern removes every record whose host matches pattern,
	// together with its match entries. "*" deletes everything.
	DeleteByHostPattern(ctx context.Context, pattern string) int

	// DeleteAll empties both tables and returns the number of records removed.
	DeleteAll(ctx context.Context) int
}

// Reader holds the read operations.
type Reader interface {
	query.PageSource

	// ExistsDuplicate reports whether a record with exactly this 4-tuple exists.
	// Storage errors yield false.
	ExistsDuplicate(ctx context.Context, url, comment, color, contentHash string) bool

	// CountMatching counts records matching f.
	CountMatching(ctx context.Context, f query.Filter) int

	// FetchPage returns metadata rows ordered by (created_at, message_id).
	FetchPage(ctx context.Context, f query.Filter, limit, offset int) []model.MessageMetadata

	// LoadAllMetadata returns every matching row in listing order.
	LoadAllMetadata(ctx context.Context, f query.Filter) []model.MessageMetadata

	// LoadByID returns the payloads and endpoint for id, or false if absent.
	LoadByID(ctx context.Context, id string) (*model.Transaction, bool)

	// Matches returns the match entries stored for id.
	Matches(ctx context.Context, id string) []model.MatchEntry
}
