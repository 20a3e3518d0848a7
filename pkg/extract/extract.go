// Package extract normalizes the per-direction output of a rule engine into
// the rule name → distinct values mapping that is persisted as match entries.
package extract

import (
	"context"
	"maps"
	"slices"
	"strings"

	"github.com/Zerofisher/haestore/pkg/model"
)

// DefaultBoundary separates values joined into one string by the rule engine.
const DefaultBoundary = "\n\t\n"

// Direction identifies which half of a transaction a rule ran over.
type Direction string

const (
	Request  Direction = "request"
	Response Direction = "response"
)

// Engine produces, per direction, a list of rule name → joined values maps.
type Engine interface {
	Process(ctx context.Context, host string, dir Direction, payload []byte) []map[string]string
}

// Matches is an insertion-ordered mapping of rule name to distinct values.
type Matches struct {
	order  []string
	values map[string][]string
	seen   map[string]map[string]bool
}

// NewMatches returns an empty mapping.
func NewMatches() *Matches {
	return &Matches{
		values: make(map[string][]string),
		seen:   make(map[string]map[string]bool),
	}
}

// Add records value under rule unless it is blank or already present.
func (m *Matches) Add(rule, value string) {
	rule = strings.TrimSpace(rule)
	value = strings.TrimSpace(value)
	if rule == "" || value == "" {
		return
	}
	set, ok := m.seen[rule]
	if !ok {
		set = make(map[string]bool)
		m.seen[rule] = set
		m.order = append(m.order, rule)
	}
	if set[value] {
		return
	}
	set[value] = true
	m.values[rule] = append(m.values[rule], value)
}

// Rules returns rule names in first-seen order.
func (m *Matches) Rules() []string {
	return slices.Clone(m.order)
}

// Values returns the distinct values of rule in first-seen order.
func (m *Matches) Values(rule string) []string {
	return m.values[strings.TrimSpace(rule)]
}

// Len is the total number of distinct (rule, value) pairs.
func (m *Matches) Len() int {
	n := 0
	for _, v := range m.values {
		n += len(v)
	}
	return n
}

// Entries flattens the mapping into match entries in rule then value order.
func (m *Matches) Entries() []model.MatchEntry {
	out := make([]model.MatchEntry, 0, m.Len())
	for _, r := range m.Rules() {
		for _, v := range m.values[r] {
			out = append(out, model.MatchEntry{RuleName: r, Value: v})
		}
	}
	return out
}

// Aggregator splits joined engine output on a boundary token and merges it.
type Aggregator struct {
	boundary string
}

// NewAggregator returns an Aggregator splitting on boundary, or on
// DefaultBoundary when boundary is empty.
func NewAggregator(boundary string) *Aggregator {
	if boundary == "" {
		boundary = DefaultBoundary
	}
	return &Aggregator{boundary: boundary}
}

// Boundary returns the token values are split on.
func (a *Aggregator) Boundary() string {
	return a.boundary
}

// Merge folds every direction's output into one mapping. Earlier directions
// win the ordering of rules and values.
func (a *Aggregator) Merge(directions ...[]map[string]string) *Matches {
	m := NewMatches()
	for _, list := range directions {
		a.append(m, list)
	}
	return m
}

func (a *Aggregator) append(m *Matches, list []map[string]string) {
	for _, extracted := range list {
		// Rules within one map are taken in name order.
		for _, rule := range slices.Sorted(maps.Keys(extracted)) {
			joined := extracted[rule]
			if strings.TrimSpace(joined) == "" {
				continue
			}
			for _, v := range strings.Split(joined, a.boundary) {
				m.Add(rule, v)
			}
		}
	}
}

// Join is the inverse of the split performed by Merge, used by engines.
func (a *Aggregator) Join(values []string) string {
	return strings.Join(values, a.boundary)
}

// Collect runs engine over both directions of a transaction and merges the
// output, request first.
func (a *Aggregator) Collect(ctx context.Context, engine Engine, host string, req, resp []byte) *Matches {
	if engine == nil {
		return NewMatches()
	}
	return a.Merge(
		engine.Process(ctx, host, Request, req),
		engine.Process(ctx, host, Response, resp),
	)
}
