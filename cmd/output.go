package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"sigs.k8s.io/yaml"
)

// Output formats accepted by --output.
const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

// writeStructured prints v as JSON or YAML. Types with a MarshalJSON method
// keep their JSON field names in YAML output.
func writeStructured(w io.Writer, format string, v any) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal YAML: %w", err)
		}
		_, err = w.Write(data)
		return err
	default:
		return fmt.Errorf("unsupported output format %q (use %s, %s or %s)", format, outputTable, outputJSON, outputYAML)
	}
}

// newTable creates a table with the standard styling.
func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	return t
}

func header(columns ...string) table.Row {
	row := make(table.Row, len(columns))
	for i, c := range columns {
		row[i] = text.FgHiCyan.Sprint(c)
	}
	return row
}

// writeKeyValues renders a map as a two column table sorted by key.
func writeKeyValues(w io.Writer, values map[string]string) {
	keys := make([]string, 0, len(values))
	for k, v := range values {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	t := newTable(w)
	t.AppendHeader(header("KEY", "VALUE"))
	for _, k := range keys {
		t.AppendRow(table.Row{text.FgHiCyan.Sprint(k), values[k]})
	}
	t.Render()
}
