package display

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/gosuda/multimodal/internal/modality"
)

const maxBarWidth = 40

// renderValue renders a ready artifact for the terminal.
func renderValue(kind modality.Kind, value json.RawMessage, th theme) string {
	switch kind {
	case modality.KindChart:
		return renderChart(value, th)
	case modality.KindDescription:
		return renderDescription(value)
	case modality.KindTable:
		return renderTable(value)
	default:
		return indentJSON(value)
	}
}

// vegaSpec is the subset of a Vega-Lite spec the terminal can draw.
type vegaSpec struct {
	Title    any                     `json:"title"`
	Mark     json.RawMessage         `json:"mark"`
	Encoding map[string]vegaEncoding `json:"encoding"`
	Data     vegaData                `json:"data"`
}

type vegaData struct {
	Values []map[string]any `json:"values"`
}

type vegaEncoding struct {
	Field string `json:"field"`
	Type  string `json:"type"`
}

func (s vegaSpec) markType() string {
	var name string
	if json.Unmarshal(s.Mark, &name) == nil {
		return name
	}
	var def struct {
		Type string `json:"type"`
	}
	if json.Unmarshal(s.Mark, &def) == nil {
		return def.Type
	}
	return ""
}

// renderChart draws bar charts with a nominal axis and a quantitative axis
// as horizontal bars. Anything else is shown as the indented spec.
func renderChart(value json.RawMessage, th theme) string {
	var spec vegaSpec
	if err := json.Unmarshal(value, &spec); err != nil {
		return indentJSON(value)
	}

	label, measure, ok := barAxes(spec)
	if spec.markType() != "bar" || !ok || len(spec.Data.Values) == 0 {
		return indentJSON(value)
	}

	type bar struct {
		label string
		value float64
	}
	bars := make([]bar, 0, len(spec.Data.Values))
	peak, width := 0.0, 0
	for _, row := range spec.Data.Values {
		v, isNum := row[measure].(float64)
		if !isNum {
			continue
		}
		l := fmt.Sprint(row[label])
		bars = append(bars, bar{label: l, value: v})
		peak = math.Max(peak, math.Abs(v))
		width = max(width, lipgloss.Width(l))
	}
	if len(bars) == 0 {
		return indentJSON(value)
	}

	var b strings.Builder
	if title, isStr := spec.Title.(string); isStr && title != "" {
		b.WriteString(title + "\n\n")
	}
	for _, br := range bars {
		n := 0
		if peak > 0 {
			n = int(math.Round(math.Abs(br.value) / peak * maxBarWidth))
		}
		fmt.Fprintf(&b, "%-*s %s %g\n", width, br.label, th.bar.Render(strings.Repeat("█", n)), br.value)
	}
	fmt.Fprintf(&b, "\n%s", th.muted.Render(fmt.Sprintf("%s by %s", measure, label)))
	return b.String()
}

func barAxes(spec vegaSpec) (label, measure string, ok bool) {
	x, y := spec.Encoding["x"], spec.Encoding["y"]
	switch {
	case x.Type == "quantitative" && y.Field != "" && y.Type != "quantitative":
		return y.Field, x.Field, x.Field != ""
	case y.Type == "quantitative" && x.Field != "":
		return x.Field, y.Field, y.Field != ""
	default:
		return "", "", false
	}
}

func renderDescription(value json.RawMessage) string {
	var text string
	if err := json.Unmarshal(value, &text); err != nil {
		return string(value)
	}
	return text
}

type tableDoc struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	TotalRows int      `json:"totalRows"`
}

func renderTable(value json.RawMessage) string {
	var doc tableDoc
	if err := json.Unmarshal(value, &doc); err != nil {
		return indentJSON(value)
	}
	if len(doc.Columns) == 0 && len(doc.Rows) == 0 {
		return "No data"
	}

	rows := make([][]string, len(doc.Rows))
	for i, r := range doc.Rows {
		cells := make([]string, len(r))
		for j, c := range r {
			cells[j] = formatCell(c)
		}
		rows[i] = cells
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(doc.Columns...).
		Rows(rows...)

	out := t.Render()
	if doc.TotalRows > len(doc.Rows) {
		out += fmt.Sprintf("\n%d rows", doc.TotalRows)
	}
	return out
}

func formatCell(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case float64:
		return fmt.Sprintf("%g", c)
	default:
		raw, err := json.Marshal(c)
		if err != nil {
			return fmt.Sprint(c)
		}
		return string(raw)
	}
}

func indentJSON(value json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, value, "", "  "); err != nil {
		return string(value)
	}
	return buf.String()
}
