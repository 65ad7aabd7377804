package host_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/multimodal/internal/host"
	"github.com/gosuda/multimodal/internal/modality"
	"github.com/gosuda/multimodal/internal/protocol"
	"github.com/gosuda/multimodal/internal/store/memory"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

const artifactsDoc = `{
	"chart": {"mark": "bar"},
	"description": "Sales grew 12%",
	"table": {"columns": ["region", "sales"], "rows": [["north", 10], ["south", 20]]}
}`

// countingProducer wraps a producer and counts Produce calls.
type countingProducer struct {
	host.Producer
	calls atomic.Int32
	fail  error
}

func (p *countingProducer) Produce(ctx context.Context, kind modality.Kind) (json.RawMessage, error) {
	p.calls.Add(1)
	if p.fail != nil {
		return nil, p.fail
	}
	return p.Producer.Produce(ctx, kind)
}

func newProducer(t *testing.T) *countingProducer {
	t.Helper()
	p, err := host.NewStaticProducer([]byte(artifactsDoc))
	require.NoError(t, err)
	return &countingProducer{Producer: p}
}

func newSession(t *testing.T, producer host.Producer) (*host.Session, *memory.Broker) {
	t.Helper()
	broker := memory.New()
	t.Cleanup(func() { _ = broker.Close() })
	sessions := host.NewSessions(producer, broker, time.Hour, prometheus.NewRegistry())
	return sessions.Create(), broker
}

func request(t *testing.T, action string, payload any) []byte {
	t.Helper()
	req, err := protocol.NewRequest(action, payload)
	require.NoError(t, err)
	raw, err := protocol.Encode(req)
	require.NoError(t, err)
	return raw
}

func decode(t *testing.T, raw []byte) protocol.Response {
	t.Helper()
	require.NotNil(t, raw)
	resp, err := protocol.Decode(raw)
	require.NoError(t, err)
	return resp
}

func makeRows(n int) [][]any {
	rows := make([][]any, n)
	for i := range rows {
		rows[i] = []any{fmt.Sprintf("r%d", i), float64(i)}
	}
	return rows
}

// ---------------------------------------------------------------------------
// Table
// ---------------------------------------------------------------------------

func TestTable_Truncate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		rows      int
		wantRows  int
		wantTotal int
	}{
		{name: "empty", rows: 0, wantRows: 0},
		{name: "at limit", rows: 20, wantRows: 20},
		{name: "over limit", rows: 25, wantRows: 21, wantTotal: 25},
		{name: "large", rows: 1000, wantRows: 21, wantTotal: 1000},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			table := host.Table{Columns: []string{"name", "n"}, Rows: makeRows(tc.rows)}
			got := table.Truncate()
			assert.Len(t, got.Rows, tc.wantRows)
			assert.Equal(t, tc.wantTotal, got.TotalRows)

			if tc.wantTotal > 0 {
				assert.Equal(t, []any{"...", "..."}, got.Rows[10])
				assert.Equal(t, "r9", got.Rows[9][0])
				assert.Equal(t, fmt.Sprintf("r%d", tc.rows-10), got.Rows[11][0])
				assert.Equal(t, fmt.Sprintf("r%d", tc.rows-1), got.Rows[20][0])
			}
		})
	}
}

func TestTable_HTML(t *testing.T) {
	t.Parallel()

	html, err := host.Table{}.HTML()
	require.NoError(t, err)
	assert.Equal(t, "<i>No data</i>", html)

	html, err = host.Table{Columns: []string{"<b>col</b>"}, Rows: [][]any{{"x&y"}}}.HTML()
	require.NoError(t, err)
	assert.Contains(t, html, "&lt;b&gt;col&lt;/b&gt;")
	assert.Contains(t, html, "<td>x&amp;y</td>")
}

// ---------------------------------------------------------------------------
// StaticProducer
// ---------------------------------------------------------------------------

func TestStaticProducer(t *testing.T) {
	t.Parallel()

	t.Run("load file", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "artifacts.json")
		require.NoError(t, os.WriteFile(path, []byte(artifactsDoc), 0o600))

		p, err := host.LoadStaticProducer(path)
		require.NoError(t, err)
		assert.Equal(t, modality.DefaultKinds(), p.Kinds())

		chart, err := p.Produce(t.Context(), modality.KindChart)
		require.NoError(t, err)
		assert.JSONEq(t, `{"mark":"bar"}`, string(chart))
	})

	t.Run("missing modality", func(t *testing.T) {
		t.Parallel()

		p, err := host.NewStaticProducer([]byte(`{"description":"only text"}`))
		require.NoError(t, err)
		assert.Equal(t, []modality.Kind{modality.KindDescription}, p.Kinds())

		_, err = p.Produce(t.Context(), modality.KindChart)
		require.ErrorIs(t, err, host.ErrNoArtifact)
	})

	t.Run("tables are truncated", func(t *testing.T) {
		t.Parallel()

		doc, err := json.Marshal(map[string]any{"table": host.Table{Columns: []string{"a", "b"}, Rows: makeRows(30)}})
		require.NoError(t, err)
		p, err := host.NewStaticProducer(doc)
		require.NoError(t, err)

		raw, err := p.Produce(t.Context(), modality.KindTable)
		require.NoError(t, err)
		var table host.Table
		require.NoError(t, json.Unmarshal(raw, &table))
		assert.Len(t, table.Rows, 21)
		assert.Equal(t, 30, table.TotalRows)
	})

	t.Run("invalid document", func(t *testing.T) {
		t.Parallel()

		_, err := host.NewStaticProducer([]byte(`[1,2]`))
		require.Error(t, err)
		_, err = host.NewStaticProducer([]byte(`{"table": "not a table"}`))
		require.Error(t, err)
		_, err = host.LoadStaticProducer(filepath.Join(t.TempDir(), "missing.json"))
		require.Error(t, err)
	})
}

// ---------------------------------------------------------------------------
// Dispatcher
// ---------------------------------------------------------------------------

func TestDispatcher_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		raw        string
		wantAction string
		wantError  string
	}{
		{
			name:      "not a request",
			raw:       `{"type":"response","messageId":"m1","action":{"type":"INIT_WIDGET"}}`,
			wantError: "Unknown message event",
		},
		{
			name:      "missing action",
			raw:       `{"type":"request","messageId":"m1","action":{}}`,
			wantError: "Missing action type",
		},
		{
			name:       "unknown action",
			raw:        `{"type":"request","messageId":"m1","action":{"type":"EXPORT"}}`,
			wantAction: "EXPORT",
			wantError:  "Unknown action: EXPORT",
		},
		{
			name:       "unknown modality",
			raw:        `{"type":"request","messageId":"m1","action":{"type":"SELECT_MODALITY","payload":{"modality":"hologram"}}}`,
			wantAction: protocol.ActionSelectModality,
			wantError:  "Unknown modality: hologram",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			session, _ := newSession(t, newProducer(t))
			resp := decode(t, host.NewDispatcher(session).Handle(t.Context(), []byte(tc.raw)))

			assert.Equal(t, "m1", resp.MessageID)
			assert.False(t, resp.Success)
			assert.Equal(t, tc.wantError, resp.Error)
			assert.Equal(t, tc.wantAction, resp.Action.Type)
		})
	}
}

func TestDispatcher_IgnoresUnanswerable(t *testing.T) {
	t.Parallel()

	session, _ := newSession(t, newProducer(t))
	d := host.NewDispatcher(session)

	assert.Nil(t, d.Handle(t.Context(), []byte(`not json`)))
	assert.Nil(t, d.Handle(t.Context(), []byte(`{"type":"request","action":{"type":"INIT_WIDGET"}}`)))
}

func TestDispatcher_InitWidget(t *testing.T) {
	t.Parallel()

	session, _ := newSession(t, newProducer(t))
	assert.Equal(t, host.StatusInitializing, session.Status())

	resp := decode(t, host.NewDispatcher(session).Handle(t.Context(), request(t, protocol.ActionInitWidget, nil)))
	assert.True(t, resp.Success)
	assert.Equal(t, protocol.ActionInitWidget, resp.Action.Type)
	assert.Equal(t, host.StatusInitialized, session.Status())
}

func TestDispatcher_SelectProducesAndCaches(t *testing.T) {
	t.Parallel()

	producer := newProducer(t)
	session, _ := newSession(t, producer)
	d := host.NewDispatcher(session)

	for range 2 {
		resp := decode(t, d.Handle(t.Context(), request(t, protocol.ActionSelectModality, protocol.SelectPayload{Modality: "chart"})))
		assert.True(t, resp.Success)
		assert.JSONEq(t, `{"mark":"bar"}`, string(resp.Payload))
	}
	assert.Equal(t, int32(1), producer.calls.Load())
	assert.Equal(t, host.StatusComputed, session.Status())
}

func TestDispatcher_SelectLegacyTabName(t *testing.T) {
	t.Parallel()

	session, _ := newSession(t, newProducer(t))

	resp := decode(t, host.NewDispatcher(session).Handle(t.Context(), request(t, protocol.ActionSelectModality, "DATAFRAME")))
	require.True(t, resp.Success, resp.Error)

	var table host.Table
	require.NoError(t, json.Unmarshal(resp.Payload, &table))
	assert.Equal(t, []string{"region", "sales"}, table.Columns)
}

func TestDispatcher_SelectOutsideServedKinds(t *testing.T) {
	t.Parallel()

	p, err := host.NewStaticProducer([]byte(`{"chart": {"mark": "bar"}}`))
	require.NoError(t, err)
	producer := &countingProducer{Producer: p}
	session, _ := newSession(t, producer)
	d := host.NewDispatcher(session)

	for _, label := range []string{"table", "dataframe"} {
		resp := decode(t, d.Handle(t.Context(), request(t, protocol.ActionSelectModality, protocol.SelectPayload{Modality: label})))
		assert.False(t, resp.Success)
		assert.Equal(t, "Unknown modality: "+label, resp.Error)
	}
	assert.Zero(t, producer.calls.Load())
}

func TestDispatcher_ProductionFailure(t *testing.T) {
	t.Parallel()

	producer := newProducer(t)
	producer.fail = errors.New("query failed")
	session, _ := newSession(t, producer)

	resp := decode(t, host.NewDispatcher(session).Handle(t.Context(), request(t, protocol.ActionSelectModality, protocol.SelectPayload{Modality: "table"})))
	assert.False(t, resp.Success)
	assert.Equal(t, "query failed", resp.Error)
	assert.Equal(t, host.StatusFailed, session.Status())
}

func TestDispatcher_Available(t *testing.T) {
	t.Parallel()

	session, _ := newSession(t, newProducer(t))
	raw, err := host.NewDispatcher(session).Available()
	require.NoError(t, err)

	avail, err := protocol.DecodeAvailable(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"chart", "description", "table"}, avail.Modalities)
}

// ---------------------------------------------------------------------------
// Session
// ---------------------------------------------------------------------------

func TestSession_PublishesEvents(t *testing.T) {
	t.Parallel()

	session, broker := newSession(t, newProducer(t))
	events, cleanup, err := broker.Subscribe(t.Context(), session.Channel())
	require.NoError(t, err)
	t.Cleanup(cleanup)

	next := func() protocol.Event {
		select {
		case raw := <-events:
			evt, err := protocol.DecodeEvent(raw)
			require.NoError(t, err)
			return evt
		case <-time.After(time.Second):
			t.Fatal("no event published")
			return protocol.Event{}
		}
	}

	_, err = session.Produce(t.Context(), modality.KindDescription)
	require.NoError(t, err)

	loading := next()
	assert.Equal(t, "description", loading.Type)
	assert.Equal(t, protocol.EventLoading, loading.Status)

	loaded := next()
	assert.Equal(t, protocol.EventLoaded, loaded.Status)
	assert.Equal(t, `"Sales grew 12%"`, loaded.Data)

	// Cached productions only republish the result.
	_, err = session.Produce(t.Context(), modality.KindDescription)
	require.NoError(t, err)
	assert.Equal(t, protocol.EventLoaded, next().Status)
}

func TestSession_ViewerData(t *testing.T) {
	t.Parallel()

	session, _ := newSession(t, newProducer(t))

	data, err := session.ViewerData(t.Context())
	require.NoError(t, err)
	assert.JSONEq(t, `{"mark":"bar"}`, string(data.Spec))
	assert.Equal(t, "Sales grew 12%", data.Text)
	assert.Contains(t, data.DataframeHTMLContent, "<th>region</th>")
	assert.Len(t, session.Artifacts(), 3)
}

func TestSessions_Lookup(t *testing.T) {
	t.Parallel()

	producer := newProducer(t)

	t.Run("unknown id", func(t *testing.T) {
		t.Parallel()

		sessions := host.NewSessions(producer, nil, time.Hour, nil)
		_, err := sessions.Get(uuid.New())
		require.ErrorIs(t, err, host.ErrSessionNotFound)
	})

	t.Run("created session is found", func(t *testing.T) {
		t.Parallel()

		sessions := host.NewSessions(producer, nil, time.Hour, nil)
		s := sessions.Create()
		got, err := sessions.Get(s.ID)
		require.NoError(t, err)
		assert.Same(t, s, got)
		assert.Equal(t, 1, sessions.Len())
	})

	t.Run("expired session", func(t *testing.T) {
		t.Parallel()

		sessions := host.NewSessions(producer, nil, 10*time.Millisecond, nil)
		s := sessions.Create()
		require.Eventually(t, func() bool {
			_, err := sessions.Get(s.ID)
			return errors.Is(err, host.ErrSessionNotFound)
		}, time.Second, 5*time.Millisecond)
		assert.Equal(t, 0, sessions.Len())
	})
}
