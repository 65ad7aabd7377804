package host

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gosuda/multimodal/internal/modality"
)

// ViewerData is the snapshot injected into the standalone viewer page.
type ViewerData struct {
	Spec                 json.RawMessage `json:"spec"`
	Text                 string          `json:"text"`
	DataframeHTMLContent string          `json:"dataframeHtmlContent"`
}

// ViewerData produces every modality and assembles the viewer snapshot.
// Modalities that fail to produce are left empty.
func (s *Session) ViewerData(ctx context.Context) (ViewerData, error) {
	s.ProduceAll(ctx)
	if err := ctx.Err(); err != nil {
		return ViewerData{}, fmt.Errorf("host.Session.ViewerData: %w", err)
	}

	artifacts := s.Artifacts()
	data := ViewerData{Spec: json.RawMessage("null")}

	if spec, ok := artifacts[modality.KindChart]; ok {
		data.Spec = spec
	}
	if text, ok := artifacts[modality.KindDescription]; ok {
		if err := json.Unmarshal(text, &data.Text); err != nil {
			// Non-string descriptions are shown verbatim.
			data.Text = string(text)
		}
	}

	var table Table
	if raw, ok := artifacts[modality.KindTable]; ok {
		if err := json.Unmarshal(raw, &table); err != nil {
			return ViewerData{}, fmt.Errorf("host.Session.ViewerData: table: %w", err)
		}
	}
	html, err := table.HTML()
	if err != nil {
		return ViewerData{}, fmt.Errorf("host.Session.ViewerData: %w", err)
	}
	data.DataframeHTMLContent = html

	return data, nil
}
