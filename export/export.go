// Package export renders stored messages for the terminal in various formats
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/Zerofisher/haestore/pkg/model"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatText   OutputFormat = "text"
	FormatJSON   OutputFormat = "json"
	FormatFields OutputFormat = "fields"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (OutputFormat, error) {
	f := OutputFormat(strings.ToLower(s))
	switch f {
	case FormatText, FormatJSON, FormatFields:
		return f, nil
	}
	return "", fmt.Errorf("unknown output format %q (text, json, fields)", s)
}

// FieldNames lists the columns selectable with the fields format.
var FieldNames = []string{"id", "method", "url", "comment", "length", "color", "status", "hash"}

// ValidateFields checks that every requested field exists.
func ValidateFields(fields []string) error {
	if len(fields) == 0 {
		return fmt.Errorf("at least one field must be specified with -e")
	}
	for _, f := range fields {
		if !slices.Contains(FieldNames, f) {
			return fmt.Errorf("unknown field %q (available: %s)", f, strings.Join(FieldNames, ", "))
		}
	}
	return nil
}

// Exporter writes message rows
type Exporter struct {
	format      OutputFormat
	writer      io.Writer
	fields      []string // for -e field extraction
	count       int      // rows exported
	maxCount    int      // -c limit (0 = unlimited)
	firstRecord bool     // track first row for JSON array
}

// NewExporter creates a new exporter
func NewExporter(w io.Writer, format OutputFormat) *Exporter {
	return &Exporter{
		format:      format,
		writer:      w,
		firstRecord: true,
	}
}

// SetFields sets the fields to extract (for -T fields -e)
func (e *Exporter) SetFields(fieldNames []string) {
	e.fields = fieldNames
}

// SetMaxCount sets the maximum row count
func (e *Exporter) SetMaxCount(n int) {
	e.maxCount = n
}

// ShouldStop returns true if we've reached the row limit
func (e *Exporter) ShouldStop() bool {
	return e.maxCount > 0 && e.count >= e.maxCount
}

// Count returns the number of rows written.
func (e *Exporter) Count() int {
	return e.count
}

// Start writes any header needed for the format
func (e *Exporter) Start() error {
	switch e.format {
	case FormatJSON:
		_, err := fmt.Fprintln(e.writer, "[")
		return err
	case FormatText:
		_, err := fmt.Fprintln(e.writer, "ID\tMETHOD\tSTATUS\tLENGTH\tCOLOR\tCOMMENT\tURL")
		return err
	}
	return nil
}

// Finish writes any footer needed for the format
func (e *Exporter) Finish() error {
	if e.format == FormatJSON {
		if !e.firstRecord {
			fmt.Fprintln(e.writer)
		}
		_, err := fmt.Fprintln(e.writer, "]")
		return err
	}
	return nil
}

// ExportRecord exports a single listing row
func (e *Exporter) ExportRecord(m model.MessageMetadata) error {
	if e.ShouldStop() {
		return nil
	}

	var err error
	switch e.format {
	case FormatJSON:
		err = e.exportJSON(m)
	case FormatFields:
		err = e.exportFields(m)
	default:
		err = e.exportText(m)
	}

	if err == nil {
		e.count++
	}
	return err
}

func (e *Exporter) exportText(m model.MessageMetadata) error {
	_, err := fmt.Fprintf(e.writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
		m.ID, m.Method, m.Status, m.Length, m.Color, m.Comment, m.URL)
	return err
}

func (e *Exporter) exportJSON(m model.MessageMetadata) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}

	// Handle JSON array formatting
	if e.firstRecord {
		e.firstRecord = false
		_, err = fmt.Fprintf(e.writer, "  %s", data)
	} else {
		_, err = fmt.Fprintf(e.writer, ",\n  %s", data)
	}
	return err
}

func (e *Exporter) exportFields(m model.MessageMetadata) error {
	values := make([]string, len(e.fields))
	for i, name := range e.fields {
		values[i] = field(m, name)
	}
	_, err := fmt.Fprintln(e.writer, strings.Join(values, "\t"))
	return err
}

func field(m model.MessageMetadata, name string) string {
	switch name {
	case "id":
		return m.ID
	case "method":
		return m.Method
	case "url":
		return m.URL
	case "comment":
		return m.Comment
	case "length":
		return m.Length
	case "color":
		return m.Color
	case "status":
		return m.Status
	case "hash":
		return m.ContentHash
	}
	return ""
}

// WriteTransaction prints the endpoint, matches and payloads of one message.
// Payloads are printed verbatim, or as a hex dump when hex is set.
func WriteTransaction(w io.Writer, id string, tx *model.Transaction, matches []model.MatchEntry, hex bool) {
	fmt.Fprintf(w, "Message %s\n", id)
	fmt.Fprintf(w, "    Service: %s\n", tx.Endpoint.URL())

	if len(matches) > 0 {
		fmt.Fprintln(w, "\nMatches:")
		for _, m := range matches {
			fmt.Fprintf(w, "    %s: %s\n", m.RuleName, m.Value)
		}
	}

	for _, part := range []struct {
		name string
		data []byte
	}{{"Request", tx.Request}, {"Response", tx.Response}} {
		fmt.Fprintf(w, "\n%s (%d bytes):\n", part.name, len(part.data))
		if hex {
			HexDump(w, part.data)
		} else {
			w.Write(part.data)
			fmt.Fprintln(w)
		}
	}
}

// HexDump writes data as offset / hex / ASCII lines.
func HexDump(w io.Writer, data []byte) {
	bytesPerLine := 16
	for i := 0; i < len(data); i += bytesPerLine {
		// Offset
		fmt.Fprintf(w, "%08x  ", i)

		// Hex bytes
		for j := 0; j < bytesPerLine; j++ {
			if i+j < len(data) {
				fmt.Fprintf(w, "%02x ", data[i+j])
			} else {
				fmt.Fprint(w, "   ")
			}
			if j == 7 {
				fmt.Fprint(w, " ")
			}
		}

		// ASCII
		fmt.Fprint(w, " |")
		for j := 0; j < bytesPerLine && i+j < len(data); j++ {
			b := data[i+j]
			if b >= 32 && b <= 126 {
				fmt.Fprintf(w, "%c", b)
			} else {
				fmt.Fprint(w, ".")
			}
		}
		fmt.Fprintln(w, "|")
	}
}
