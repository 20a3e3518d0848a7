package app

import (
	"context"
	"fmt"
	"io"

	"github.com/Zerofisher/haestore/export"
	"github.com/Zerofisher/haestore/pkg/query"
)

// ListConfig selects which messages RunList prints and how.
type ListConfig struct {
	Host      string
	Comment   string
	RuleName  string
	RuleValue string
	Page      int
	PageSize  int
	All       bool // ignore paging and print every match
	Format    export.OutputFormat
	Fields    []string
	MaxCount  int
}

// RunList resolves one page through the coordinator (or every row with All)
// and writes it with an Exporter. The returned Pagination describes the page
// printed; it is zero when All is set.
func (a *App) RunList(ctx context.Context, out io.Writer, cfg ListConfig) (query.Pagination, error) {
	exporter := export.NewExporter(out, cfg.Format)
	exporter.SetMaxCount(cfg.MaxCount)
	if cfg.Format == export.FormatFields {
		if err := export.ValidateFields(cfg.Fields); err != nil {
			return query.Pagination{}, err
		}
		exporter.SetFields(cfg.Fields)
	}

	filter := query.Filter{Host: cfg.Host, Comment: cfg.Comment, RuleName: cfg.RuleName, RuleValue: cfg.RuleValue}

	var page query.Page
	if cfg.All {
		page.Records = a.Store.LoadAllMetadata(ctx, filter)
	} else {
		var err error
		if page, err = a.resolvePage(ctx, filter, cfg.Page, cfg.PageSize); err != nil {
			return query.Pagination{}, err
		}
	}

	if err := exporter.Start(); err != nil {
		return query.Pagination{}, fmt.Errorf("error starting export: %w", err)
	}
	for _, m := range page.Records {
		if exporter.ShouldStop() {
			break
		}
		if err := exporter.ExportRecord(m); err != nil {
			return query.Pagination{}, fmt.Errorf("error exporting record: %w", err)
		}
	}
	return page.Pagination, exporter.Finish()
}

// resolvePage applies the filter dimensions in the order the coordinator
// expects: host and comment reset the rule filter, so it goes last.
func (a *App) resolvePage(ctx context.Context, f query.Filter, page, size int) (query.Page, error) {
	c := a.Coordinator
	if _, err := c.SetHostFilter(f.Host); err != nil {
		return query.Page{}, err
	}
	if _, err := c.SetCommentFilter(f.Comment); err != nil {
		return query.Page{}, err
	}
	if _, err := c.SetRuleFilter(f.RuleName, f.RuleValue); err != nil {
		return query.Page{}, err
	}
	if size > 0 {
		if _, err := c.SetPageSize(size); err != nil {
			return query.Page{}, err
		}
	}
	if page > 1 {
		if _, err := c.SetPage(page); err != nil {
			return query.Page{}, err
		}
	}
	return c.Await(ctx)
}
