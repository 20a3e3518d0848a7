package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Zerofisher/haestore/pkg/model"
	"github.com/Zerofisher/haestore/pkg/query"
)

const insertMessageSQL = `INSERT INTO ` + query.MessageTable + ` (
	message_id, created_at, host, url, method, status, length, comment, color,
	content_hash, service_host, service_port, service_secure,
	request_bytes, response_bytes, payload_codec
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const insertMatchSQL = `INSERT INTO ` + query.MatchTable + ` (message_id, rule_name, extracted_value) VALUES (?, ?, ?)`

// Save inserts rec and its match entries in one transaction. On success
// rec.ID, rec.CreatedAt and rec.Host are filled in.
func (s *SQLiteStore) Save(ctx context.Context, rec *model.MessageRecord, matches []model.MatchEntry) (string, error) {
	if rec == nil {
		return "", model.ErrInvalidRecord
	}
	if err := rec.Validate(); err != nil {
		return "", err
	}
	if err := s.ready(); err != nil {
		return "", err
	}

	id := s.newID()
	createdAt := s.now().UnixMilli()
	host := rec.Host
	if host == "" {
		host = model.HostFromURL(rec.URL, rec.Endpoint.Host)
	}

	s.rw.Lock()
	defer s.rw.Unlock()

	err := s.runTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, insertMessageSQL,
			id, createdAt, host, rec.URL, rec.Method, rec.Status, rec.Length,
			rec.Comment, rec.Color, rec.ContentHash,
			rec.Endpoint.Host, rec.Endpoint.Port, rec.Endpoint.Secure,
			s.codec.encode(rec.Request), s.codec.encode(rec.Response), s.codec.id())
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		return replaceMatches(ctx, tx, id, matches)
	})
	if err != nil {
		return "", s.fail(opSave, err)
	}

	rec.ID = id
	rec.CreatedAt = createdAt
	rec.Host = host
	return id, nil
}

// replaceMatches swaps the match set of id for entries, skipping blank or
// repeated pairs.
func replaceMatches(ctx context.Context, tx *sql.Tx, id string, entries []model.MatchEntry) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+query.MatchTable+` WHERE message_id = ?`, id); err != nil {
		return fmt.Errorf("clear matches: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, insertMatchSQL)
	if err != nil {
		return fmt.Errorf("prepare match insert: %w", err)
	}
	defer stmt.Close()

	seen := make(map[[2]string]bool, len(entries))
	for _, e := range entries {
		name := strings.TrimSpace(e.RuleName)
		value := strings.TrimSpace(e.Value)
		if name == "" || value == "" {
			continue
		}
		key := [2]string{name, value}
		if seen[key] {
			continue
		}
		seen[key] = true
		if _, err := stmt.ExecContext(ctx, id, name, value); err != nil {
			return fmt.Errorf("insert match: %w", err)
		}
	}
	return nil
}

// DeleteByHostPattern removes records whose host matches pattern according
// to query.MatchHost. A blank pattern deletes nothing and "*" deletes
// everything.
func (s *SQLiteStore) DeleteByHostPattern(ctx context.Context, pattern string) int {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return 0
	}
	if pattern == query.AllToken {
		return s.DeleteAll(ctx)
	}
	if pattern == "*." {
		// Names no suffix: refuse instead of deleting everything.
		return 0
	}
	if s.ready() != nil {
		return 0
	}

	s.rw.Lock()
	defer s.rw.Unlock()

	var deleted int
	err := s.runTx(ctx, func(tx *sql.Tx) error {
		ids, err := matchingHostIDs(ctx, tx, pattern)
		if err != nil {
			return err
		}
		delMatches, err := tx.PrepareContext(ctx, `DELETE FROM `+query.MatchTable+` WHERE message_id = ?`)
		if err != nil {
			return fmt.Errorf("prepare delete matches: %w", err)
		}
		defer delMatches.Close()
		delMessage, err := tx.PrepareContext(ctx, `DELETE FROM `+query.MessageTable+` WHERE message_id = ?`)
		if err != nil {
			return fmt.Errorf("prepare delete message: %w", err)
		}
		defer delMessage.Close()

		deleted = 0
		for _, id := range ids {
			if _, err := delMatches.ExecContext(ctx, id); err != nil {
				return fmt.Errorf("delete matches: %w", err)
			}
			res, err := delMessage.ExecContext(ctx, id)
			if err != nil {
				return fmt.Errorf("delete message: %w", err)
			}
			n, _ := res.RowsAffected()
			deleted += int(n)
		}
		return nil
	})
	if err != nil {
		s.fail(opDeleteHost, err)
		return 0
	}
	return deleted
}

func matchingHostIDs(ctx context.Context, tx *sql.Tx, pattern string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT message_id, host FROM `+query.MessageTable)
	if err != nil {
		return nil, fmt.Errorf("scan hosts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id, host string
		if err := rows.Scan(&id, &host); err != nil {
			return nil, fmt.Errorf("scan hosts: %w", err)
		}
		if query.MatchHost(host, pattern) {
			ids = append(ids, id)
		}
	}
	return ids, rows.Err()
}

// DeleteAll empties both tables and returns the number of records removed.
func (s *SQLiteStore) DeleteAll(ctx context.Context) int {
	if s.ready() != nil {
		return 0
	}

	s.rw.Lock()
	defer s.rw.Unlock()

	var deleted int64
	err := s.runTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+query.MatchTable); err != nil {
			return fmt.Errorf("delete matches: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM `+query.MessageTable)
		if err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		deleted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		s.fail(opDeleteAll, err)
		return 0
	}
	return int(deleted)
}
