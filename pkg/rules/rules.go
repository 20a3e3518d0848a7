// Package rules is a regex rule engine that extracts values from captured
// payloads and derives the highlight (comment and color) of a transaction.
package rules

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Zerofisher/haestore/pkg/extract"
)

// Scope restricts a rule to one direction of a transaction.
type Scope string

const (
	ScopeRequest  Scope = "request"
	ScopeResponse Scope = "response"
	ScopeAny      Scope = "any"
)

// Palette lists highlight colors from highest to lowest priority.
var Palette = []string{"red", "orange", "yellow", "green", "cyan", "blue", "pink", "magenta", "gray"}

// DefaultColor is used by rules that do not name a color.
const DefaultColor = "gray"

// ErrNoRules is returned when a rules file defines nothing.
var ErrNoRules = errors.New("rules: no rules defined")

// Rule extracts values matching Pattern. When the pattern has a capture
// group, the first group is the value; otherwise the whole match is.
type Rule struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
	Scope   Scope  `yaml:"scope"`
	Color   string `yaml:"color"`
	When    string `yaml:"when"`
}

type file struct {
	Rules []Rule `yaml:"rules"`
}

type compiled struct {
	Rule
	re    *regexp.Regexp
	guard func(Env) bool
}

// Engine runs a fixed set of compiled rules.
type Engine struct {
	rules []compiled
	agg   *extract.Aggregator
}

var _ extract.Engine = (*Engine)(nil)

// Load reads and compiles the YAML rules file at path.
func Load(path string, agg *extract.Aggregator) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return Parse(data, agg)
}

// Parse compiles rules from YAML.
func Parse(data []byte, agg *extract.Aggregator) (*Engine, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if len(f.Rules) == 0 {
		return nil, ErrNoRules
	}
	return New(f.Rules, agg)
}

// New compiles rules. Values are joined with agg's boundary, so agg must be
// the aggregator that later merges the engine's output.
func New(rules []Rule, agg *extract.Aggregator) (*Engine, error) {
	if agg == nil {
		agg = extract.NewAggregator("")
	}
	e := &Engine{agg: agg}
	seen := make(map[string]bool, len(rules))

	for i, r := range rules {
		r.Name = strings.TrimSpace(r.Name)
		if r.Name == "" {
			return nil, fmt.Errorf("rule %d: name is required", i)
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("rule %q: duplicate name", r.Name)
		}
		seen[r.Name] = true

		if r.Scope == "" {
			r.Scope = ScopeAny
		}
		switch r.Scope {
		case ScopeRequest, ScopeResponse, ScopeAny:
		default:
			return nil, fmt.Errorf("rule %q: unknown scope %q", r.Name, r.Scope)
		}

		r.Color = strings.ToLower(strings.TrimSpace(r.Color))
		if r.Color == "" {
			r.Color = DefaultColor
		}
		if !slices.Contains(Palette, r.Color) {
			return nil, fmt.Errorf("rule %q: unknown color %q", r.Name, r.Color)
		}

		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Name, err)
		}
		guard, err := CompileGuard(r.When)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Name, err)
		}
		e.rules = append(e.rules, compiled{Rule: r, re: re, guard: guard})
	}
	return e, nil
}

// Rules returns the normalized rule definitions.
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	for i, r := range e.rules {
		out[i] = r.Rule
	}
	return out
}

// Process runs every rule in scope for dir over payload and returns one
// map of rule name to values joined by the aggregator boundary.
func (e *Engine) Process(ctx context.Context, host string, dir extract.Direction, payload []byte) []map[string]string {
	if len(payload) == 0 {
		return nil
	}
	env := newEnv(host, dir, payload)
	out := make(map[string]string)

	for _, r := range e.rules {
		if ctx.Err() != nil {
			break
		}
		if r.Scope != ScopeAny && string(r.Scope) != string(dir) {
			continue
		}
		if !r.guard(env) {
			continue
		}
		if values := r.extract(payload); len(values) > 0 {
			out[r.Name] = e.agg.Join(values)
		}
	}

	if len(out) == 0 {
		return nil
	}
	return []map[string]string{out}
}

func (r compiled) extract(payload []byte) []string {
	var values []string
	for _, m := range r.re.FindAllSubmatch(payload, -1) {
		v := m[0]
		if len(m) > 1 {
			v = m[1]
		}
		if len(v) > 0 {
			values = append(values, string(v))
		}
	}
	return values
}

// Highlight derives the comment and color of a transaction from the rules
// that matched it. The comment lists rule names in match order; the color is
// the highest-priority color among them. Both are empty when nothing matched.
func (e *Engine) Highlight(m *extract.Matches) (comment, color string) {
	names := m.Rules()
	if len(names) == 0 {
		return "", ""
	}

	best := len(Palette)
	for _, name := range names {
		for _, r := range e.rules {
			if r.Name != name {
				continue
			}
			if p := slices.Index(Palette, r.Color); p >= 0 && p < best {
				best = p
			}
		}
	}
	if best < len(Palette) {
		color = Palette[best]
	} else {
		color = DefaultColor
	}
	return strings.Join(names, ", "), color
}
