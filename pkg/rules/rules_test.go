package rules

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/Zerofisher/haestore/pkg/extract"
)

const sampleRules = `
rules:
  - name: Email
    pattern: '([a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,})'
    color: orange
  - name: Internal IP
    pattern: '\b(10\.\d{1,3}\.\d{1,3}\.\d{1,3})\b'
    scope: response
    color: RED
  - name: Bearer
    pattern: 'Authorization: Bearer ([A-Za-z0-9._-]+)'
    scope: request
  - name: Big Body
    pattern: 'secret'
    scope: response
    color: blue
    when: size > 64 && host endsWith "example.com"
`

func loadSample(t *testing.T) *Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Rules.yml")
	if err := os.WriteFile(path, []byte(sampleRules), 0644); err != nil {
		t.Fatal(err)
	}
	e, err := Load(path, extract.NewAggregator(""))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return e
}

func TestLoadNormalizes(t *testing.T) {
	e := loadSample(t)
	rs := e.Rules()
	if len(rs) != 4 {
		t.Fatalf("expected 4 rules, got %d", len(rs))
	}
	if rs[0].Scope != ScopeAny {
		t.Errorf("default scope should be any, got %q", rs[0].Scope)
	}
	if rs[1].Color != "red" {
		t.Errorf("color should be lowercased, got %q", rs[1].Color)
	}
	if rs[2].Color != DefaultColor {
		t.Errorf("missing color should default to %s, got %q", DefaultColor, rs[2].Color)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no name", "rules:\n  - pattern: a\n"},
		{"duplicate", "rules:\n  - name: A\n    pattern: a\n  - name: A\n    pattern: b\n"},
		{"bad scope", "rules:\n  - name: A\n    pattern: a\n    scope: header\n"},
		{"bad color", "rules:\n  - name: A\n    pattern: a\n    color: purple\n"},
		{"bad regex", "rules:\n  - name: A\n    pattern: '('\n"},
		{"bad guard", "rules:\n  - name: A\n    pattern: a\n    when: 'size +'\n"},
		{"not yaml", "rules: [\n"},
	}
	for _, tt := range tests {
		if _, err := Parse([]byte(tt.yaml), nil); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
	if _, err := Parse([]byte("rules: []\n"), nil); !errors.Is(err, ErrNoRules) {
		t.Errorf("expected ErrNoRules, got %v", err)
	}
}

func TestProcessScopesAndGroups(t *testing.T) {
	e := loadSample(t)
	agg := extract.NewAggregator("")
	ctx := context.Background()

	req := []byte("GET /?to=bob@example.com HTTP/1.1\r\nAuthorization: Bearer abc.def\r\n\r\nfrom 10.0.0.1")
	resp := []byte("HTTP/1.1 200 OK\r\n\r\nalice@example.com 10.1.2.3 bob@example.com")

	m := agg.Merge(
		e.Process(ctx, "api.example.com", extract.Request, req),
		e.Process(ctx, "api.example.com", extract.Response, resp),
	)

	if got := m.Values("Email"); !slices.Equal(got, []string{"bob@example.com", "alice@example.com"}) {
		t.Errorf("Email = %q", got)
	}
	if got := m.Values("Bearer"); !slices.Equal(got, []string{"abc.def"}) {
		t.Errorf("Bearer = %q", got)
	}
	// Internal IP is response-only: the request body address is ignored.
	if got := m.Values("Internal IP"); !slices.Equal(got, []string{"10.1.2.3"}) {
		t.Errorf("Internal IP = %q", got)
	}

	if out := e.Process(ctx, "h", extract.Request, nil); out != nil {
		t.Errorf("empty payload should produce nothing, got %v", out)
	}
}

func TestProcessGuard(t *testing.T) {
	e := loadSample(t)
	ctx := context.Background()
	small := []byte("secret")
	large := append([]byte("secret "), make([]byte, 100)...)

	tests := []struct {
		host    string
		payload []byte
		want    bool
	}{
		{"api.example.com", large, true},
		{"api.example.com", small, false},
		{"other.org", large, false},
	}
	for _, tt := range tests {
		out := e.Process(ctx, tt.host, extract.Response, tt.payload)
		got := len(out) > 0 && out[0]["Big Body"] != ""
		if got != tt.want {
			t.Errorf("guard(%s, %d bytes) = %v, want %v", tt.host, len(tt.payload), got, tt.want)
		}
	}
}

func TestHighlight(t *testing.T) {
	e := loadSample(t)

	m := extract.NewMatches()
	if c, col := e.Highlight(m); c != "" || col != "" {
		t.Errorf("no matches should give empty highlight, got %q %q", c, col)
	}

	m.Add("Bearer", "x")
	m.Add("Email", "a@b.c")
	comment, color := e.Highlight(m)
	if comment != "Bearer, Email" || color != "orange" {
		t.Errorf("Highlight = %q %q", comment, color)
	}

	m.Add("Internal IP", "10.0.0.1")
	if _, color := e.Highlight(m); color != "red" {
		t.Errorf("red should win, got %q", color)
	}
}

func TestCompileGuard(t *testing.T) {
	pass, err := CompileGuard("")
	if err != nil || !pass(Env{}) {
		t.Fatalf("empty guard must pass")
	}
	g, err := CompileGuard(`direction == "request" && body contains "token"`)
	if err != nil {
		t.Fatalf("CompileGuard: %v", err)
	}
	if !g(Env{Direction: "request", Body: "a token"}) || g(Env{Direction: "response", Body: "a token"}) {
		t.Errorf("guard evaluated incorrectly")
	}
	if _, err := CompileGuard(`size`); err == nil {
		t.Errorf("non-boolean guard must be rejected")
	}
}
