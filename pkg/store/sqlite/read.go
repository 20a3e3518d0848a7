package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Zerofisher/haestore/pkg/model"
	"github.com/Zerofisher/haestore/pkg/query"
)

const metadataColumns = `message_id, method, url, comment, length, color, status, content_hash`

// Listing order. message_id breaks ties between rows saved in the same
// millisecond; UUIDv7 ids keep that tie-break chronological too.
const listingOrder = ` ORDER BY created_at ASC, message_id ASC`

// ExistsDuplicate reports whether a record with the exact (url, comment,
// color, content hash) tuple is stored. Failures answer false so capture is
// never blocked.
func (s *SQLiteStore) ExistsDuplicate(ctx context.Context, url, comment, color, contentHash string) bool {
	if s.ready() != nil {
		return false
	}
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM `+query.MessageTable+`
		WHERE url = ? AND comment = ? AND color = ? AND content_hash = ? LIMIT 1`,
		url, comment, color, contentHash).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false
	}
	if err != nil {
		s.fail(opExistsDuplicate, err)
		return false
	}
	return true
}

// CountMatching counts records matching f.
func (s *SQLiteStore) CountMatching(ctx context.Context, f query.Filter) int {
	if s.ready() != nil {
		return 0
	}
	s.rw.RLock()
	defer s.rw.RUnlock()
	return s.countLocked(ctx, query.BuildPredicate(f))
}

// FetchPage returns up to limit metadata rows matching f, skipping offset.
// A limit below 1 is treated as 1 and a negative offset as 0.
func (s *SQLiteStore) FetchPage(ctx context.Context, f query.Filter, limit, offset int) []model.MessageMetadata {
	if s.ready() != nil {
		return []model.MessageMetadata{}
	}
	s.rw.RLock()
	defer s.rw.RUnlock()
	return s.fetchLocked(ctx, query.BuildPredicate(f), max(1, limit), max(0, offset))
}

// QueryPage counts and fetches one page under a single read lock, so the
// row range always agrees with the total.
func (s *SQLiteStore) QueryPage(ctx context.Context, f query.Filter, page, pageSize int) query.PageResult {
	if s.ready() != nil {
		return query.PageResult{
			Records:    []model.MessageMetadata{},
			Pagination: query.Paginate(0, pageSize, page),
		}
	}
	pred := query.BuildPredicate(f)

	s.rw.RLock()
	defer s.rw.RUnlock()

	total := s.countLocked(ctx, pred)
	pg := query.Paginate(total, pageSize, page)
	if total == 0 || ctx.Err() != nil {
		return query.PageResult{Records: []model.MessageMetadata{}, Pagination: pg}
	}
	return query.PageResult{
		Records:    s.fetchLocked(ctx, pred, pg.PageSize, pg.Offset()),
		Pagination: pg,
	}
}

// LoadAllMetadata returns every row matching f in listing order.
func (s *SQLiteStore) LoadAllMetadata(ctx context.Context, f query.Filter) []model.MessageMetadata {
	if s.ready() != nil {
		return []model.MessageMetadata{}
	}
	pred := query.BuildPredicate(f)

	s.rw.RLock()
	defer s.rw.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+metadataColumns+` FROM `+query.MessageTable+` WHERE `+pred.Where()+listingOrder,
		pred.Args()...)
	if err != nil {
		s.fail(opLoadAll, err)
		return []model.MessageMetadata{}
	}
	out, err := scanMetadataRows(rows)
	if err != nil {
		s.fail(opLoadAll, err)
		return []model.MessageMetadata{}
	}
	return out
}

// LoadByID returns the endpoint and decoded payloads of id.
func (s *SQLiteStore) LoadByID(ctx context.Context, id string) (*model.Transaction, bool) {
	if id == "" {
		return nil, false
	}
	s.rw.RLock()
	defer s.rw.RUnlock()
	if s.ready() != nil {
		return nil, false
	}

	var (
		tx        model.Transaction
		req, resp []byte
		codec     int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT service_host, service_port, service_secure, request_bytes, response_bytes, payload_codec
		FROM `+query.MessageTable+` WHERE message_id = ?`, id).Scan(
		&tx.Endpoint.Host, &tx.Endpoint.Port, &tx.Endpoint.Secure, &req, &resp, &codec)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false
	}
	if err != nil {
		s.fail(opLoadByID, err)
		return nil, false
	}

	if tx.Request, err = s.codec.decode(req, codec); err != nil {
		s.fail(opLoadByID, fmt.Errorf("request of %s: %w", id, err))
		return nil, false
	}
	if tx.Response, err = s.codec.decode(resp, codec); err != nil {
		s.fail(opLoadByID, fmt.Errorf("response of %s: %w", id, err))
		return nil, false
	}
	return &tx, true
}

// Matches returns the match entries stored for id in insertion order.
func (s *SQLiteStore) Matches(ctx context.Context, id string) []model.MatchEntry {
	out := []model.MatchEntry{}
	if id == "" || s.ready() != nil {
		return out
	}
	rows, err := s.db.QueryContext(ctx, `SELECT message_id, rule_name, extracted_value
		FROM `+query.MatchTable+` WHERE message_id = ? ORDER BY id`, id)
	if err != nil {
		s.fail(opMatches, err)
		return out
	}
	defer rows.Close()

	for rows.Next() {
		var m model.MatchEntry
		if err := rows.Scan(&m.MessageID, &m.RuleName, &m.Value); err != nil {
			s.fail(opMatches, err)
			return []model.MatchEntry{}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		s.fail(opMatches, err)
		return []model.MatchEntry{}
	}
	return out
}

func (s *SQLiteStore) countLocked(ctx context.Context, pred query.Predicate) int {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM `+query.MessageTable+` WHERE `+pred.Where(), pred.Args()...).Scan(&n)
	if err != nil {
		s.fail(opCount, err)
		return 0
	}
	return n
}

func (s *SQLiteStore) fetchLocked(ctx context.Context, pred query.Predicate, limit, offset int) []model.MessageMetadata {
	args := append(pred.Args(), limit, offset)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+metadataColumns+` FROM `+query.MessageTable+` WHERE `+pred.Where()+listingOrder+` LIMIT ? OFFSET ?`,
		args...)
	if err != nil {
		s.fail(opFetch, err)
		return []model.MessageMetadata{}
	}
	out, err := scanMetadataRows(rows)
	if err != nil {
		s.fail(opFetch, err)
		return []model.MessageMetadata{}
	}
	return out
}

// ────────────────────────────────────────────────────────────────────────────────
// Scan helpers
// ────────────────────────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMetadata(row rowScanner) (model.MessageMetadata, error) {
	var m model.MessageMetadata
	err := row.Scan(&m.ID, &m.Method, &m.URL, &m.Comment, &m.Length, &m.Color, &m.Status, &m.ContentHash)
	return m, err
}

// scanMetadataRows drains and closes rows.
func scanMetadataRows(rows *sql.Rows) ([]model.MessageMetadata, error) {
	defer rows.Close()
	out := []model.MessageMetadata{}
	for rows.Next() {
		m, err := scanMetadata(rows)
		if err != nil {
			return out, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
