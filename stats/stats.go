// Package stats summarizes the stored message history by host, color and rule
package stats

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/Zerofisher/haestore/pkg/model"
)

// Manager collects and reports history statistics
type Manager struct {
	hosts      map[string]*Counter
	colors     map[string]*Counter
	rules      map[string]*Counter
	totalMsgs  int
	totalBytes int64
}

// Counter is the number of messages and response bytes seen for one key
type Counter struct {
	Key      string
	Messages int
	Bytes    int64
}

// NewManager creates a new statistics manager
func NewManager() *Manager {
	return &Manager{
		hosts:  make(map[string]*Counter),
		colors: make(map[string]*Counter),
		rules:  make(map[string]*Counter),
	}
}

// Add updates statistics with one listing row
func (m *Manager) Add(msg model.MessageMetadata) {
	size, _ := strconv.ParseInt(msg.Length, 10, 64)

	m.totalMsgs++
	m.totalBytes += size

	bump(m.hosts, model.HostFromURL(msg.URL, "(unknown)"), size)
	bump(m.colors, msg.Color, size)

	// The comment is the ", "-joined list of rules that matched.
	for _, rule := range strings.Split(msg.Comment, ",") {
		if rule = strings.TrimSpace(rule); rule != "" {
			bump(m.rules, rule, size)
		}
	}
}

func bump(set map[string]*Counter, key string, size int64) {
	c, ok := set[key]
	if !ok {
		c = &Counter{Key: key}
		set[key] = c
	}
	c.Messages++
	c.Bytes += size
}

// Total returns the number of messages and bytes added.
func (m *Manager) Total() (messages int, bytes int64) {
	return m.totalMsgs, m.totalBytes
}

// Hosts returns per-host counters, busiest first.
func (m *Manager) Hosts() []Counter { return sorted(m.hosts) }

// Colors returns per-color counters, busiest first.
func (m *Manager) Colors() []Counter { return sorted(m.colors) }

// Rules returns per-rule counters, busiest first.
func (m *Manager) Rules() []Counter { return sorted(m.rules) }

func sorted(set map[string]*Counter) []Counter {
	out := make([]Counter, 0, len(set))
	for _, c := range set {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Messages != out[j].Messages {
			return out[i].Messages > out[j].Messages
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// PrintHosts writes host statistics to the writer
func (m *Manager) PrintHosts(w io.Writer) { m.print(w, "Hosts", "Host", m.Hosts()) }

// PrintColors writes color statistics to the writer
func (m *Manager) PrintColors(w io.Writer) { m.print(w, "Colors", "Color", m.Colors()) }

// PrintRules writes rule statistics to the writer
func (m *Manager) PrintRules(w io.Writer) { m.print(w, "Rules", "Rule", m.Rules()) }

func (m *Manager) print(w io.Writer, title, column string, rows []Counter) {
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintln(w, title)
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintf(w, "%-50s %10s %12s %6s\n", column, "Messages", "Bytes", "%")

	for _, c := range rows {
		share := 0.0
		if m.totalMsgs > 0 {
			share = float64(c.Messages) * 100 / float64(m.totalMsgs)
		}
		fmt.Fprintf(w, "%-50s %10d %12s %5.1f%%\n",
			truncate(c.Key, 50),
			c.Messages,
			formatBytes(c.Bytes),
			share,
		)
	}

	fmt.Fprintln(w, strings.Repeat("-", 80))
	fmt.Fprintf(w, "%-50s %10d %12s\n", "Total", m.totalMsgs, formatBytes(m.totalBytes))
	fmt.Fprintln(w, "================================================================================")
}

// Helper functions

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
