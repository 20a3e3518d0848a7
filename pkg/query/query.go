// Package query provides filtering, pagination and the asynchronous page
// coordinator used by interactive consumers of the message store.
package query

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/Zerofisher/haestore/pkg/model"
)

// Table names shared by the predicate builder and the SQLite store.
const (
	MessageTable = "message_history"
	MatchTable   = "message_match"
)

// AllToken is the wildcard meaning "no filter" for host and rule filters.
const AllToken = "*"

// DefaultPageSize is the page size used until the consumer picks another.
const DefaultPageSize = 100

// PageSizes lists the page sizes a consumer may choose from.
var PageSizes = []int{50, 100, 200, 500, 1000}

var (
	// ErrPageSize is returned for a page size outside PageSizes.
	ErrPageSize = errors.New("unsupported page size")
	// ErrClosed is returned when submitting work after Close.
	ErrClosed = errors.New("query: closed")
)

// ValidPageSize reports whether n is one of PageSizes.
func ValidPageSize(n int) bool {
	return slices.Contains(PageSizes, n)
}

// Filter is the four independent, optional filter dimensions.
type Filter struct {
	// Host pattern: "" or "*" disables, "*.suffix" matches subdomains,
	// anything else is a case-insensitive substring match.
	Host string `json:"host,omitempty"`

	// Comment is a case-sensitive substring of the record comment.
	Comment string `json:"comment,omitempty"`

	// RuleName and RuleValue must both be set (and not "*") to take effect.
	RuleName  string `json:"rule_name,omitempty"`
	RuleValue string `json:"rule_value,omitempty"`
}

// HostActive reports whether the host dimension filters anything.
func (f Filter) HostActive() bool {
	h := strings.TrimSpace(f.Host)
	return h != "" && h != AllToken
}

// CommentActive reports whether the comment dimension filters anything.
func (f Filter) CommentActive() bool {
	return strings.TrimSpace(f.Comment) != ""
}

// RuleActive reports whether the rule name/value dimension filters anything.
func (f Filter) RuleActive() bool {
	name := strings.TrimSpace(f.RuleName)
	value := strings.TrimSpace(f.RuleValue)
	return name != "" && value != "" && name != AllToken && value != AllToken
}

// ────────────────────────────────────────────────────────────────────────────────
// Pagination
// ────────────────────────────────────────────────────────────────────────────────

// Pagination holds the display values derived from a count and page request.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalPages int `json:"total_pages"`
	Total      int `json:"total"`
	FirstRow   int `json:"first_row"`
	LastRow    int `json:"last_row"`
}

// Paginate clamps page into [1, totalPages] and computes the row range.
// An empty result collapses to page 1 of 1 with a 0-0 row range.
func Paginate(total, pageSize, page int) Pagination {
	if pageSize < 1 {
		pageSize = 1
	}
	if total < 0 {
		total = 0
	}
	totalPages := max(1, (total+pageSize-1)/pageSize)
	page = max(1, min(page, totalPages))

	p := Pagination{
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
		Total:      total,
	}
	if total > 0 {
		p.FirstRow = (page-1)*pageSize + 1
		p.LastRow = min(page*pageSize, total)
	}
	return p
}

// Offset returns the row offset of the page.
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PageSize
}

func (p Pagination) String() string {
	return fmt.Sprintf("Page %d/%d · Rows %d-%d/%d", p.Page, p.TotalPages, p.FirstRow, p.LastRow, p.Total)
}

// PageResult is one consistent count+fetch result.
type PageResult struct {
	Records    []model.MessageMetadata `json:"records"`
	Pagination Pagination              `json:"pagination"`
}

// PageSource runs the compound count+fetch read for one page.
// Implementations must not let a write interleave between the count and the fetch.
type PageSource interface {
	QueryPage(ctx context.Context, f Filter, page, pageSize int) PageResult
}
