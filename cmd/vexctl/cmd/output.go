package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// Output format constants.
const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

var stdout io.Writer = os.Stdout

// render prints v as JSON or YAML when requested, otherwise calls table.
func render(v any, table func()) error {
	switch flagOutput {
	case outputJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal JSON: %w", err)
		}
		fmt.Fprintln(stdout, string(data))
	case outputYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal YAML: %w", err)
		}
		fmt.Fprint(stdout, string(data))
	case outputTable, "":
		table()
	default:
		return fmt.Errorf("unknown output format %q (want table, json or yaml)", flagOutput)
	}
	return nil
}

func decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

type tableWriter struct {
	w *tabwriter.Writer
}

func newTable(headers ...string) *tableWriter {
	w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(headers, "\t"))
	return &tableWriter{w: w}
}

func (t *tableWriter) AddRow(values ...string) {
	fmt.Fprintln(t.w, strings.Join(values, "\t"))
}

func (t *tableWriter) Flush() {
	_ = t.w.Flush()
}

func printPagination(p pageHeader) {
	if p.Total == 0 {
		fmt.Fprintln(stdout, "No resources found.")
		return
	}
	start := (p.Page-1)*p.PerPage + 1
	end := min(int64(p.Page*p.PerPage), p.Total)
	if int64(start) > p.Total {
		fmt.Fprintf(stdout, "\nPage %d is past the last page (%d).\n", p.Page, p.TotalPages)
		return
	}
	fmt.Fprintf(stdout, "\nShowing %d-%d of %d results (page %d/%d)\n", start, end, p.Total, p.Page, p.TotalPages)
}

func ptrStr(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func hours(h *float64) string {
	if h == nil {
		return "-"
	}
	return strconv.FormatFloat(*h, 'f', 1, 64) + "h"
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

func shortTime(t string) string {
	if len(t) >= 19 {
		return strings.Replace(t[:19], "T", " ", 1)
	}
	return t
}

func labelTexts(labels []Label) string {
	if len(labels) == 0 {
		return "-"
	}
	out := make([]string, len(labels))
	for i, l := range labels {
		out[i] = l.Text
	}
	return strings.Join(out, ",")
}
