// Package host is the producing end of the widget protocol: it answers
// request envelopes, computes and caches artifacts per session, and
// publishes production events for event-stream clients.
package host

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"os"
	"slices"

	"github.com/gosuda/multimodal/internal/modality"
)

// ErrNoArtifact is returned when a producer has nothing for a modality.
var ErrNoArtifact = errors.New("host: no artifact for modality") //nolint:gochecknoglobals // sentinel error

const (
	tableRowLimit = 20
	tableEdgeRows = 10
)

// Producer computes the artifact for a modality. Chart artifacts are
// Vega-Lite specs, descriptions are JSON strings, tables are Table documents.
type Producer interface {
	Kinds() []modality.Kind
	Produce(ctx context.Context, kind modality.Kind) (json.RawMessage, error)
}

// Table is the tabular artifact.
type Table struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	TotalRows int      `json:"totalRows,omitempty"`
}

// Truncate keeps the first and last ten rows of tables longer than twenty,
// separated by a row of "..." cells. TotalRows records the original length.
func (t Table) Truncate() Table {
	if len(t.Rows) <= tableRowLimit {
		return t
	}

	width := len(t.Columns)
	if width == 0 && len(t.Rows) > 0 {
		width = len(t.Rows[0])
	}
	sep := make([]any, width)
	for i := range sep {
		sep[i] = "..."
	}

	rows := make([][]any, 0, 2*tableEdgeRows+1)
	rows = append(rows, t.Rows[:tableEdgeRows]...)
	rows = append(rows, sep)
	rows = append(rows, t.Rows[len(t.Rows)-tableEdgeRows:]...)

	return Table{Columns: slices.Clone(t.Columns), Rows: rows, TotalRows: len(t.Rows)}
}

var tableTemplate = template.Must(template.New("table").Parse( //nolint:gochecknoglobals // parsed once
	`<table class="dataframe">` +
		`<thead><tr>{{range .Columns}}<th>{{.}}</th>{{end}}</tr></thead>` +
		`<tbody>{{range .Rows}}<tr>{{range .}}<td>{{.}}</td>{{end}}</tr>{{end}}</tbody>` +
		`</table>`))

// HTML renders the table as an escaped HTML fragment.
func (t Table) HTML() (string, error) {
	if len(t.Rows) == 0 && len(t.Columns) == 0 {
		return "<i>No data</i>", nil
	}
	var buf bytes.Buffer
	if err := tableTemplate.Execute(&buf, t); err != nil {
		return "", fmt.Errorf("host.Table.HTML: %w", err)
	}
	return buf.String(), nil
}

// StaticProducer serves artifacts loaded from a JSON document keyed by
// modality name.
type StaticProducer struct {
	kinds     []modality.Kind
	artifacts map[modality.Kind]json.RawMessage
}

// LoadStaticProducer reads an artifacts file such as
//
//	{"chart": {...}, "description": "...", "table": {"columns": [...], "rows": [[...]]}}
func LoadStaticProducer(path string) (*StaticProducer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("host.LoadStaticProducer: %w", err)
	}
	p, err := NewStaticProducer(data)
	if err != nil {
		return nil, fmt.Errorf("host.LoadStaticProducer(%s): %w", path, err)
	}
	return p, nil
}

// NewStaticProducer parses an artifacts document. Table artifacts are
// truncated at load time.
func NewStaticProducer(data []byte) (*StaticProducer, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("host.NewStaticProducer: %w", err)
	}

	p := &StaticProducer{artifacts: make(map[modality.Kind]json.RawMessage, len(doc))}
	for _, kind := range modality.DefaultKinds() {
		raw, ok := doc[string(kind)]
		if !ok {
			continue
		}
		if kind == modality.KindTable {
			var t Table
			var err error
			if err := json.Unmarshal(raw, &t); err != nil {
				return nil, fmt.Errorf("host.NewStaticProducer: table: %w", err)
			}
			if raw, err = json.Marshal(t.Truncate()); err != nil {
				return nil, fmt.Errorf("host.NewStaticProducer: table: %w", err)
			}
		}
		p.kinds = append(p.kinds, kind)
		p.artifacts[kind] = raw
	}
	return p, nil
}

func (p *StaticProducer) Kinds() []modality.Kind {
	return slices.Clone(p.kinds)
}

func (p *StaticProducer) Produce(ctx context.Context, kind modality.Kind) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("host.StaticProducer.Produce: %w", err)
	}
	raw, ok := p.artifacts[kind]
	if !ok {
		return nil, fmt.Errorf("host.StaticProducer.Produce(%s): %w", kind, ErrNoArtifact)
	}
	return raw, nil
}
