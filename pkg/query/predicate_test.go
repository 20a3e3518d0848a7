package query

import (
	"reflect"
	"strings"
	"testing"
)

func TestBuildPredicateNoFilter(t *testing.T) {
	tests := []Filter{
		{},
		{Host: "*"},
		{Host: "  "},
		{Host: "*", Comment: " "},
		{RuleName: "Email"},
		{RuleValue: "a@b.c"},
		{RuleName: "*", RuleValue: "a@b.c"},
		{RuleName: "Email", RuleValue: "*"},
	}

	for _, f := range tests {
		p := BuildPredicate(f)
		if !p.Empty() {
			t.Errorf("%+v: expected empty predicate, got %q", f, p.Where())
		}
		if p.Where() != "1=1" {
			t.Errorf("%+v: expected 1=1, got %q", f, p.Where())
		}
		if len(p.Args()) != 0 {
			t.Errorf("%+v: expected no args, got %v", f, p.Args())
		}
	}
}

func TestBuildPredicateHost(t *testing.T) {
	p := BuildPredicate(Filter{Host: "  API.Example "})
	if p.Where() != "instr(haestore_lower(host), ?) > 0" {
		t.Errorf("unexpected where: %s", p.Where())
	}
	if !reflect.DeepEqual(p.Args(), []any{"api.example"}) {
		t.Errorf("unexpected args: %v", p.Args())
	}

	p = BuildPredicate(Filter{Host: "*.Example.com"})
	if !strings.Contains(p.Where(), hostnameExpr+" = ?") || !strings.Contains(p.Where(), "LIKE ?") {
		t.Errorf("unexpected where: %s", p.Where())
	}
	if !reflect.DeepEqual(p.Args(), []any{"example.com", "%.example.com"}) {
		t.Errorf("unexpected args: %v", p.Args())
	}

	p = BuildPredicate(Filter{Host: "*.my_host"})
	if !reflect.DeepEqual(p.Args(), []any{"my_host", `%.my\_host`}) {
		t.Errorf("LIKE metacharacters not escaped: %v", p.Args())
	}
}

func TestBuildPredicateCombined(t *testing.T) {
	p := BuildPredicate(Filter{
		Host:      "api",
		Comment:   "Token",
		RuleName:  "Email",
		RuleValue: "a@b.c",
	})

	where := p.Where()
	parts := strings.Split(where, " AND ")
	if len(parts) < 3 {
		t.Fatalf("expected three clauses, got %q", where)
	}
	if !strings.HasPrefix(where, "instr(haestore_lower(host), ?) > 0 AND instr(comment, ?) > 0 AND EXISTS (") {
		t.Errorf("clauses out of order: %s", where)
	}
	if !strings.Contains(where, "mm.rule_name = ? AND mm.extracted_value = ?") {
		t.Errorf("rule clause must be exact match: %s", where)
	}

	want := []any{"api", "Token", "Email", "a@b.c"}
	if !reflect.DeepEqual(p.Args(), want) {
		t.Errorf("Args() = %v, want %v", p.Args(), want)
	}
	if strings.Count(where, "?") != len(want) {
		t.Errorf("placeholder count %d does not match %d args", strings.Count(where, "?"), len(want))
	}
}

func TestBuildPredicateCommentCaseSensitive(t *testing.T) {
	p := BuildPredicate(Filter{Comment: "JWT"})
	if p.Where() != "instr(comment, ?) > 0" {
		t.Errorf("unexpected where: %s", p.Where())
	}
	if !reflect.DeepEqual(p.Args(), []any{"JWT"}) {
		t.Errorf("comment keyword must keep its case: %v", p.Args())
	}
}

func TestBuildPredicateCommentKeepsSpaces(t *testing.T) {
	p := BuildPredicate(Filter{Comment: " Token "})
	if !reflect.DeepEqual(p.Args(), []any{" Token "}) {
		t.Errorf("comment keyword must be bound as typed: %q", p.Args())
	}
}
