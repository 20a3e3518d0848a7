package sqlite

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Zerofisher/haestore/pkg/model"
	"github.com/Zerofisher/haestore/pkg/query"
)

// newTestStore opens a store with sequential ids and a clock that advances
// one millisecond per save.
func newTestStore(t *testing.T, mutate ...func(*Config)) *SQLiteStore {
	t.Helper()
	var n int
	base := time.UnixMilli(1_700_000_000_000)
	cfg := Config{
		DBPath: filepath.Join(t.TempDir(), "History.db"),
		NewID: func() string {
			n++
			return fmt.Sprintf("id-%04d", n)
		},
		Now: func() time.Time { return base.Add(time.Duration(n) * time.Millisecond) },
	}
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func record(url, comment string) *model.MessageRecord {
	return &model.MessageRecord{
		URL:         url,
		Method:      "GET",
		Status:      "200",
		Length:      "5",
		Comment:     comment,
		Color:       "red",
		ContentHash: "h-" + url,
		Endpoint:    model.Endpoint{Host: "example.com", Port: 443, Secure: true},
		Request:     []byte("GET / HTTP/1.1\r\n\r\n"),
		Response:    []byte("HTTP/1.1 200 OK\r\n\r\nhello"),
	}
}

func mustSave(t *testing.T, s *SQLiteStore, rec *model.MessageRecord, matches ...model.MatchEntry) string {
	t.Helper()
	id, err := s.Save(context.Background(), rec, matches)
	if err != nil {
		t.Fatalf("Save(%s): %v", rec.URL, err)
	}
	return id
}

func ids(rows []model.MessageMetadata) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.ID
	}
	return out
}

func TestSchemaVersion(t *testing.T) {
	s := newTestStore(t)
	v, err := s.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != 1 {
		t.Errorf("expected schema version 1, got %d", v)
	}
}

func TestSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rec := record("https://api.example.com:8443/v1/users?id=1", "Email, Token")
	id := mustSave(t, s, rec,
		model.MatchEntry{RuleName: "Email", Value: "a@b.c"},
		model.MatchEntry{RuleName: "Email", Value: "a@b.c"},
		model.MatchEntry{RuleName: "Token", Value: "  "},
		model.MatchEntry{RuleName: "", Value: "orphan"},
		model.MatchEntry{RuleName: "Token", Value: "xyz"},
	)

	if id == "" || rec.ID != id {
		t.Fatalf("record id not assigned: %q / %q", id, rec.ID)
	}
	if rec.CreatedAt == 0 {
		t.Errorf("CreatedAt not assigned")
	}
	if rec.Host != "api.example.com:8443" {
		t.Errorf("host should come from the URL authority, got %q", rec.Host)
	}

	tx, ok := s.LoadByID(ctx, id)
	if !ok {
		t.Fatalf("LoadByID(%s) not found", id)
	}
	if !bytes.Equal(tx.Request, rec.Request) || !bytes.Equal(tx.Response, rec.Response) {
		t.Errorf("payload mismatch: %q / %q", tx.Request, tx.Response)
	}
	if tx.Endpoint != rec.Endpoint {
		t.Errorf("endpoint mismatch: %+v", tx.Endpoint)
	}

	matches := s.Matches(ctx, id)
	if len(matches) != 2 {
		t.Fatalf("expected 2 stored matches, got %+v", matches)
	}
	if matches[0].RuleName != "Email" || matches[1].Value != "xyz" || matches[0].MessageID != id {
		t.Errorf("unexpected matches: %+v", matches)
	}

	if _, ok := s.LoadByID(ctx, "missing"); ok {
		t.Errorf("LoadByID of unknown id must report absent")
	}
}

func TestSaveEmptyPayloads(t *testing.T) {
	s := newTestStore(t)
	rec := record("http://example.com/", "Ping")
	rec.Request, rec.Response = nil, nil
	id := mustSave(t, s, rec)

	tx, ok := s.LoadByID(context.Background(), id)
	if !ok {
		t.Fatal("record not found")
	}
	if tx.Request == nil || tx.Response == nil || len(tx.Request) != 0 || len(tx.Response) != 0 {
		t.Errorf("absent payloads must load as empty, got %v / %v", tx.Request, tx.Response)
	}
}

func TestSaveRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, rec := range []*model.MessageRecord{
		nil,
		{URL: "http://a/", Comment: " ", Color: "red"},
		{URL: "http://a/", Comment: "Email", Color: ""},
	} {
		if _, err := s.Save(ctx, rec, nil); !errors.Is(err, model.ErrInvalidRecord) {
			t.Errorf("expected ErrInvalidRecord, got %v", err)
		}
	}
	if n := s.CountMatching(ctx, query.Filter{}); n != 0 {
		t.Errorf("invalid records must not be stored, count=%d", n)
	}
}

func TestExistsDuplicate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rec := record("http://example.com/a", "Email")
	mustSave(t, s, rec)

	if !s.ExistsDuplicate(ctx, rec.URL, "Email", "red", rec.ContentHash) {
		t.Errorf("exact tuple should be a duplicate")
	}
	for _, tuple := range [][4]string{
		{rec.URL, "Email", "red", "other"},
		{rec.URL, "Email", "blue", rec.ContentHash},
		{rec.URL, "Email, Token", "red", rec.ContentHash},
		{"http://example.com/b", "Email", "red", rec.ContentHash},
	} {
		if s.ExistsDuplicate(ctx, tuple[0], tuple[1], tuple[2], tuple[3]) {
			t.Errorf("tuple %v must not be a duplicate", tuple)
		}
	}

	// Unrelated saves and deletes leave the answer unchanged.
	other := mustSave(t, s, record("http://other.org/x", "Token"))
	if n := s.DeleteByHostPattern(ctx, "other.org"); n != 1 {
		t.Fatalf("delete other host: %d", n)
	}
	if _, ok := s.LoadByID(ctx, other); ok {
		t.Fatalf("unrelated record should be gone")
	}
	if !s.ExistsDuplicate(ctx, rec.URL, "Email", "red", rec.ContentHash) {
		t.Errorf("duplicate must survive unrelated writes")
	}
}

func TestQueryPageOrderAndPaging(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var want []string
	for i := range 120 {
		want = append(want, mustSave(t, s, record(fmt.Sprintf("http://example.com/%d", i), "Email")))
	}

	res := s.QueryPage(ctx, query.Filter{Host: "*"}, 2, 50)
	if res.Pagination.String() != "Page 2/3 · Rows 51-100/120" {
		t.Errorf("unexpected pagination: %s", res.Pagination)
	}
	got := ids(res.Records)
	if len(got) != 50 || got[0] != want[50] || got[49] != want[99] {
		t.Errorf("page 2 rows out of order: first=%v last=%v", got[0], got[len(got)-1])
	}

	res = s.QueryPage(ctx, query.Filter{}, 99, 50)
	if res.Pagination.Page != 3 || len(res.Records) != 20 {
		t.Errorf("out of range page must clamp to last: %s, %d rows", res.Pagination, len(res.Records))
	}

	all := s.LoadAllMetadata(ctx, query.Filter{})
	if len(all) != 120 || all[0].ID != want[0] || all[119].ID != want[119] {
		t.Errorf("LoadAllMetadata order mismatch")
	}

	if rows := s.FetchPage(ctx, query.Filter{}, 0, -5); len(rows) != 1 || rows[0].ID != want[0] {
		t.Errorf("FetchPage must clamp limit and offset, got %v", ids(rows))
	}

	empty := s.QueryPage(ctx, query.Filter{Comment: "nothing"}, 1, 100)
	if empty.Pagination.String() != "Page 1/1 · Rows 0-0/0" || len(empty.Records) != 0 {
		t.Errorf("unexpected empty page: %s", empty.Pagination)
	}
}

func TestFilters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := mustSave(t, s, record("https://api.example.com/x", "Email"),
		model.MatchEntry{RuleName: "Email", Value: "a@b.c"})
	b := mustSave(t, s, record("https://example.com:8443/y", "Email, Token"),
		model.MatchEntry{RuleName: "Email", Value: "z@y.x"},
		model.MatchEntry{RuleName: "Token", Value: "t1"})
	c := mustSave(t, s, record("http://notexample.com/z", "Internal IP"),
		model.MatchEntry{RuleName: "Internal IP", Value: "10.0.0.1"})
	d := mustSave(t, s, record("http://MyAPI.internal:8080/", "token lower"))

	tests := []struct {
		name   string
		filter query.Filter
		want   []string
	}{
		{"none", query.Filter{}, []string{a, b, c, d}},
		{"star", query.Filter{Host: "*"}, []string{a, b, c, d}},
		{"suffix", query.Filter{Host: "*.example.com"}, []string{a, b}},
		{"suffix case", query.Filter{Host: "*.EXAMPLE.com"}, []string{a, b}},
		{"substring", query.Filter{Host: "api"}, []string{a, d}},
		{"substring port", query.Filter{Host: "8443"}, []string{b}},
		{"comment", query.Filter{Comment: "Token"}, []string{b}},
		{"comment keeps spaces", query.Filter{Comment: "Email "}, nil},
		{"comment leading space", query.Filter{Comment: " Token"}, []string{b}},
		{"comment blank", query.Filter{Comment: "   "}, []string{a, b, c, d}},
		{"rule", query.Filter{RuleName: "Email", RuleValue: "a@b.c"}, []string{a}},
		{"rule wrong pair", query.Filter{RuleName: "Token", RuleValue: "a@b.c"}, nil},
		{"rule half", query.Filter{RuleName: "Email"}, []string{a, b, c, d}},
		{"rule star", query.Filter{RuleName: "*", RuleValue: "*"}, []string{a, b, c, d}},
		{"combined", query.Filter{Host: "*.example.com", Comment: "Token", RuleName: "Token", RuleValue: "t1"}, []string{b}},
		{"like metachar", query.Filter{Host: "%"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(s.LoadAllMetadata(ctx, tt.filter))
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("got %v, want %v", got, tt.want)
			}
			if n := s.CountMatching(ctx, tt.filter); n != len(tt.want) {
				t.Errorf("CountMatching = %d, want %d", n, len(tt.want))
			}
		})
	}
}

func matchRows(t *testing.T, s *SQLiteStore) int {
	t.Helper()
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM ` + query.MatchTable).Scan(&n); err != nil {
		t.Fatalf("count matches: %v", err)
	}
	return n
}

func TestDeleteByHostPattern(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	m := model.MatchEntry{RuleName: "Email", Value: "a@b.c"}
	mustSave(t, s, record("https://api.example.com/1", "Email"), m)
	mustSave(t, s, record("https://example.com/2", "Email"), m)
	keep := mustSave(t, s, record("https://notexample.com/3", "Email"), m)

	if n := s.DeleteByHostPattern(ctx, "   "); n != 0 {
		t.Errorf("blank pattern deleted %d rows", n)
	}
	if n := s.DeleteByHostPattern(ctx, "*.example.com"); n != 2 {
		t.Errorf("expected 2 deleted, got %d", n)
	}
	if got := ids(s.LoadAllMetadata(ctx, query.Filter{})); len(got) != 1 || got[0] != keep {
		t.Errorf("unexpected survivors: %v", got)
	}
	if n := matchRows(t, s); n != 1 {
		t.Errorf("orphan match rows left: %d", n)
	}
	if n := s.DeleteByHostPattern(ctx, "*.example.com"); n != 0 {
		t.Errorf("second delete should remove nothing, got %d", n)
	}
}

func TestHostPatternUnicodeCase(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	mustSave(t, s, record("https://ÄPI.example/x", "Email"))
	mustSave(t, s, record("https://other.example/y", "Email"))

	for _, pattern := range []string{"ÄPI", "äpi", "*.ÄPI.EXAMPLE", "*.äpi.example"} {
		f := query.Filter{Host: pattern}
		if n := s.CountMatching(ctx, f); n != 1 {
			t.Errorf("CountMatching(%q) = %d, want 1", pattern, n)
		}
		if n := len(s.LoadAllMetadata(ctx, f)); n != 1 {
			t.Errorf("LoadAllMetadata(%q) returned %d rows, want 1", pattern, n)
		}
	}
	for _, m := range s.LoadAllMetadata(ctx, query.Filter{}) {
		if query.MatchHost(m.Host, "äpi") != strings.Contains(m.URL, "ÄPI") {
			t.Errorf("MatchHost disagrees with the store for host %q", m.Host)
		}
	}

	if n := s.DeleteByHostPattern(ctx, "äpi"); n != 1 {
		t.Errorf("DeleteByHostPattern(äpi) = %d, want 1", n)
	}
	if n := s.CountMatching(ctx, query.Filter{}); n != 1 {
		t.Errorf("%d records left, want 1", n)
	}
}

func TestDeleteByHostPatternRefusesBareSuffix(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustSave(t, s, record("https://api.example.com/1", "Email"))

	if n := s.DeleteByHostPattern(ctx, "*."); n != 0 {
		t.Errorf("\"*.\" deleted %d rows", n)
	}
	if n := s.CountMatching(ctx, query.Filter{}); n != 1 {
		t.Errorf("%d records left, want 1", n)
	}
}

func TestCloseDuringReads(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, func(c *Config) { c.CompressPayloads = true })
	id := mustSave(t, s, record("http://example.com/a", "Email"))

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				s.LoadByID(ctx, id)
				s.QueryPage(ctx, query.Filter{}, 1, 100)
				s.ExistsDuplicate(ctx, "http://example.com/a", "Email", "red", "h")
			}
		}()
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	wg.Wait()

	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if s.Available() {
		t.Errorf("closed store must report unavailable")
	}
	if _, ok := s.LoadByID(ctx, id); ok {
		t.Errorf("LoadByID after Close must report absent")
	}
	if res := s.QueryPage(ctx, query.Filter{}, 1, 100); len(res.Records) != 0 {
		t.Errorf("QueryPage after Close returned %d rows", len(res.Records))
	}
}

func TestDeleteAll(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i := range 3 {
		mustSave(t, s, record(fmt.Sprintf("http://h%d/", i), "Email"), model.MatchEntry{RuleName: "Email", Value: "v"})
	}
	if n := s.DeleteByHostPattern(ctx, "*"); n != 3 {
		t.Errorf("\"*\" should delete everything, got %d", n)
	}
	if matchRows(t, s) != 0 || s.CountMatching(ctx, query.Filter{}) != 0 {
		t.Errorf("tables not empty after delete-all")
	}
	if n := s.DeleteAll(ctx); n != 0 {
		t.Errorf("DeleteAll on empty store returned %d", n)
	}
}

func TestCompressedPayloads(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "History.db")
	body := bytes.Repeat([]byte("compressible payload "), 500)

	s := newTestStore(t, func(c *Config) { c.DBPath = path; c.CompressPayloads = true })
	rec := record("http://example.com/big", "Email")
	rec.Response = body
	id := mustSave(t, s, rec)

	var stored int
	var codec int
	if err := s.db.QueryRow(`SELECT length(response_bytes), payload_codec FROM `+query.MessageTable+
		` WHERE message_id = ?`, id).Scan(&stored, &codec); err != nil {
		t.Fatalf("inspect row: %v", err)
	}
	if codec != codecZstd || stored >= len(body) {
		t.Errorf("expected compressed row, codec=%d stored=%d", codec, stored)
	}
	s.Close()

	// Reopen without compression: old rows stay readable.
	r := newTestStore(t, func(c *Config) { c.DBPath = path })
	tx, ok := r.LoadByID(ctx, id)
	if !ok || !bytes.Equal(tx.Response, body) {
		t.Fatalf("compressed payload not restored")
	}
}

func TestOpenDegraded(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "History.db")
	if err := os.WriteFile(path, bytes.Repeat([]byte("not a database "), 200), 0644); err != nil {
		t.Fatal(err)
	}

	var logs bytes.Buffer
	s := Open(Config{DBPath: path, Logger: slog.New(slog.NewTextHandler(&logs, nil))})
	defer s.Close()

	if s.Available() {
		t.Fatal("store over a corrupt file must be degraded")
	}
	if _, err := s.Save(ctx, record("http://a/", "Email"), nil); !errors.Is(err, ErrStorage) {
		t.Errorf("Save in degraded mode: expected ErrStorage, got %v", err)
	}
	if s.ExistsDuplicate(ctx, "http://a/", "Email", "red", "h") {
		t.Errorf("duplicate check must fail open")
	}
	res := s.QueryPage(ctx, query.Filter{}, 3, 100)
	if res.Pagination.String() != "Page 1/1 · Rows 0-0/0" || len(res.Records) != 0 {
		t.Errorf("unexpected degraded page: %s", res.Pagination)
	}
	if s.DeleteAll(ctx) != 0 || s.DeleteByHostPattern(ctx, "a") != 0 {
		t.Errorf("deletes must report zero in degraded mode")
	}
	if _, ok := s.LoadByID(ctx, "x"); ok {
		t.Errorf("LoadByID must report absent in degraded mode")
	}
	if s.DatabaseLocation() != path {
		t.Errorf("DatabaseLocation = %q, want %q", s.DatabaseLocation(), path)
	}

	if n := strings.Count(logs.String(), "sqlite unavailable"); n != 1 {
		t.Errorf("degraded mode should be logged once, got %d:\n%s", n, logs.String())
	}
}
