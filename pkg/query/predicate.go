package query

import (
	"strings"
)

// LowerFunc names the SQL function the store registers on every connection.
// It lowercases with Go's Unicode rules, so SQL host filters agree with
// MatchHost where SQLite's lower() would only fold ASCII.
const LowerFunc = "haestore_lower"

// hostnameExpr is the lowercased host column with any ":port" suffix removed.
const hostnameExpr = LowerFunc + `(CASE WHEN instr(host, ':') > 0 THEN substr(host, 1, instr(host, ':') - 1) ELSE host END)`

// Predicate is a parameterized WHERE fragment built from a Filter.
// User values only ever travel as bound arguments.
type Predicate struct {
	clauses []clause
}

type clause struct {
	sql  string
	args []any
}

// BuildPredicate translates f into an ordered list of clauses joined with AND.
func BuildPredicate(f Filter) Predicate {
	var p Predicate

	if f.HostActive() {
		pattern := strings.ToLower(strings.TrimSpace(f.Host))
		if suffix, ok := strings.CutPrefix(pattern, "*."); ok {
			if suffix != "" {
				p.add("("+hostnameExpr+" = ? OR "+hostnameExpr+` LIKE ? ESCAPE '\')`,
					suffix, "%."+escapeLike(suffix))
			}
		} else {
			p.add("instr("+LowerFunc+"(host), ?) > 0", pattern)
		}
	}

	if f.CommentActive() {
		p.add("instr(comment, ?) > 0", f.Comment)
	}

	if f.RuleActive() {
		p.add("EXISTS (SELECT 1 FROM "+MatchTable+" mm WHERE mm.message_id = "+MessageTable+
			".message_id AND mm.rule_name = ? AND mm.extracted_value = ?)",
			strings.TrimSpace(f.RuleName), strings.TrimSpace(f.RuleValue))
	}

	return p
}

func (p *Predicate) add(sql string, args ...any) {
	p.clauses = append(p.clauses, clause{sql: sql, args: args})
}

// Empty reports whether no filter dimension is active.
func (p Predicate) Empty() bool {
	return len(p.clauses) == 0
}

// Where returns the WHERE body; "1=1" when no filter is active.
func (p Predicate) Where() string {
	if p.Empty() {
		return "1=1"
	}
	parts := make([]string, len(p.clauses))
	for i, c := range p.clauses {
		parts[i] = c.sql
	}
	return strings.Join(parts, " AND ")
}

// Args returns the bound values in placeholder order.
func (p Predicate) Args() []any {
	var args []any
	for _, c := range p.clauses {
		args = append(args, c.args...)
	}
	return args
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
