// Package sqlite provides the SQLite implementation of store.Store.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/Zerofisher/haestore/pkg/query"
	"github.com/Zerofisher/haestore/pkg/store"
)

// Config holds configuration for the SQLite store.
type Config struct {
	// Path to the SQLite database file.
	DBPath string

	// ReadOnly opens the database in read-only mode and skips schema setup.
	ReadOnly bool

	// WAL enables WAL mode for better read concurrency.
	WAL bool

	// CompressPayloads stores request/response blobs zstd-compressed.
	// Rows written either way stay readable.
	CompressPayloads bool

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// NewID generates message ids. Defaults to UUIDv7.
	NewID func() string

	// Now defaults to time.Now.
	Now func() time.Time
}

// SQLiteStore is the SQLite implementation of store.Store.
//
// Mutations take rw exclusively; count+fetch reads take it shared so a count
// is never paired with rows fetched after a concurrent delete. Single
// statement reads take no lock, except LoadByID which holds it shared while
// decoding payloads so Close cannot release the codec underneath it.
type SQLiteStore struct {
	db    *sql.DB
	path  string
	cfg   Config
	log   *slog.Logger
	codec *blobCodec
	newID func() string
	now   func() time.Time

	rw sync.RWMutex

	closed            atomic.Bool
	unavailable       atomic.Bool
	unavailableLogged atomic.Bool
}

var _ store.Store = (*SQLiteStore)(nil)

const driverName = "sqlite3_haestore"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc(query.LowerFunc, strings.ToLower, true)
		},
	})
}

// New opens (creating if needed) the database at cfg.DBPath.
func New(cfg Config) (*SQLiteStore, error) {
	s := newStore(cfg)

	if !cfg.ReadOnly {
		dir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	codec, err := newBlobCodec(cfg.CompressPayloads)
	if err != nil {
		return nil, fmt.Errorf("init payload codec: %w", err)
	}

	db, err := sql.Open(driverName, buildDSN(cfg))
	if err != nil {
		codec.close()
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Single connection: SQLite allows one writer and this keeps the
	// transaction discipline simple.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s.db = db
	s.codec = codec

	if cfg.ReadOnly {
		if err := db.Ping(); err != nil {
			s.Close()
			return nil, fmt.Errorf("ping: %w", err)
		}
		return s, nil
	}
	if err := s.initSchema(); err != nil {
		s.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// Open is like New but never fails: when the database cannot be opened it
// returns a degraded store whose operations fail fast with empty results,
// logging the cause once.
func Open(cfg Config) *SQLiteStore {
	s, err := New(cfg)
	if err == nil {
		return s
	}
	d := newStore(cfg)
	d.unavailable.Store(true)
	d.fail(opOpen, err)
	return d
}

func newStore(cfg Config) *SQLiteStore {
	s := &SQLiteStore{
		path:  cfg.DBPath,
		cfg:   cfg,
		log:   cfg.Logger,
		newID: cfg.NewID,
		now:   cfg.Now,
	}
	if abs, err := filepath.Abs(cfg.DBPath); err == nil {
		s.path = abs
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.newID == nil {
		s.newID = func() string { return uuid.Must(uuid.NewV7()).String() }
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func buildDSN(cfg Config) string {
	params := "?_foreign_keys=on&_busy_timeout=10000"
	if cfg.ReadOnly {
		params += "&mode=ro"
	}
	if cfg.WAL && !cfg.ReadOnly {
		params += "&_journal_mode=WAL&_synchronous=NORMAL"
	}
	return "file:" + cfg.DBPath + params
}

// Close closes the database. It waits for in-progress writes and shared
// reads; later operations behave as in degraded mode.
func (s *SQLiteStore) Close() error {
	s.rw.Lock()
	defer s.rw.Unlock()
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.codec != nil {
		s.codec.close()
	}
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DatabaseLocation returns the absolute database file path.
func (s *SQLiteStore) DatabaseLocation() string {
	return s.path
}

// Available reports whether the store is not in degraded mode.
func (s *SQLiteStore) Available() bool {
	return s.ready() == nil
}

// ────────────────────────────────────────────────────────────────────────────────
// Schema Initialization
// ────────────────────────────────────────────────────────────────────────────────

const schema = `
-- Meta table for store metadata
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT
);

-- One row per captured transaction
CREATE TABLE IF NOT EXISTS ` + query.MessageTable + ` (
	message_id     TEXT PRIMARY KEY,
	created_at     INTEGER NOT NULL,
	host           TEXT NOT NULL,
	url            TEXT NOT NULL,
	method         TEXT NOT NULL,
	status         TEXT NOT NULL,
	length         TEXT NOT NULL,
	comment        TEXT NOT NULL,
	color          TEXT NOT NULL,
	content_hash   TEXT NOT NULL,
	service_host   TEXT NOT NULL,
	service_port   INTEGER NOT NULL,
	service_secure INTEGER NOT NULL,
	request_bytes  BLOB NOT NULL,
	response_bytes BLOB NOT NULL,
	payload_codec  INTEGER NOT NULL DEFAULT 0
);

-- Rule name / extracted value pairs, replaced as a set on every save
CREATE TABLE IF NOT EXISTS ` + query.MatchTable + ` (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id      TEXT NOT NULL REFERENCES ` + query.MessageTable + `(message_id) ON DELETE CASCADE,
	rule_name       TEXT NOT NULL,
	extracted_value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_message_history_created_at ON ` + query.MessageTable + `(created_at);
CREATE INDEX IF NOT EXISTS idx_message_history_host ON ` + query.MessageTable + `(host);
CREATE INDEX IF NOT EXISTS idx_message_history_hash ON ` + query.MessageTable + `(content_hash);
CREATE INDEX IF NOT EXISTS idx_message_history_dedup ON ` + query.MessageTable + `(url, comment, color, content_hash);

CREATE INDEX IF NOT EXISTS idx_message_match_message_id ON ` + query.MatchTable + `(message_id);
CREATE INDEX IF NOT EXISTS idx_message_match_rule_value ON ` + query.MatchTable + `(rule_name, extracted_value);
`

func (s *SQLiteStore) initSchema() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}

	_, err := s.db.Exec(`INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`,
		"schema_version", strconv.Itoa(store.SchemaVersion))
	return err
}

// SchemaVersion returns the schema version recorded in the meta table.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, "schema_version").Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("query meta: %w", err)
	}
	return strconv.Atoi(value)
}
