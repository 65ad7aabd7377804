package protocol_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/multimodal/internal/protocol"
)

func TestDecodeEvent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    protocol.Event
		wantErr bool
	}{
		{
			name: "loaded with data",
			raw:  `{"type":"chart","status":"loaded","data":"{\"mark\":\"bar\"}"}`,
			want: protocol.Event{Type: "chart", Status: protocol.EventLoaded, Data: `{"mark":"bar"}`},
		},
		{
			name: "failed with error",
			raw:  `{"type":"table","status":"failed","error":"no rows"}`,
			want: protocol.Event{Type: "table", Status: protocol.EventFailed, Error: "no rows"},
		},
		{
			name: "loading",
			raw:  `{"type":"description","status":"loading"}`,
			want: protocol.Event{Type: "description", Status: protocol.EventLoading},
		},
		{name: "unknown status", raw: `{"type":"chart","status":"done"}`, wantErr: true},
		{name: "missing type", raw: `{"status":"loaded"}`, wantErr: true},
		{name: "garbage", raw: `:)`, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := protocol.DecodeEvent([]byte(tc.raw))
			if tc.wantErr {
				require.ErrorIs(t, err, protocol.ErrMalformedMessage)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEventStatus_Terminal(t *testing.T) {
	t.Parallel()

	assert.False(t, protocol.EventLoading.Terminal())
	assert.True(t, protocol.EventLoaded.Terminal())
	assert.True(t, protocol.EventFailed.Terminal())
}

func TestEvent_Payload(t *testing.T) {
	t.Parallel()

	p, err := protocol.Event{Data: `{"a":1}`}.Payload()
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(p))

	p, err = protocol.Event{}.Payload()
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = protocol.Event{Data: `{oops`}.Payload()
	require.ErrorIs(t, err, protocol.ErrMalformedMessage)
}

func TestParseSelectPayload(t *testing.T) {
	t.Parallel()

	name, err := protocol.ParseSelectPayload([]byte(`{"modality":"chart"}`))
	require.NoError(t, err)
	assert.Equal(t, "chart", name)

	name, err = protocol.ParseSelectPayload([]byte(`"table"`))
	require.NoError(t, err)
	assert.Equal(t, "table", name)

	_, err = protocol.ParseSelectPayload(nil)
	require.ErrorIs(t, err, protocol.ErrMalformedMessage)

	_, err = protocol.ParseSelectPayload([]byte(`{}`))
	require.ErrorIs(t, err, protocol.ErrMalformedMessage)
}

func TestAvailable(t *testing.T) {
	t.Parallel()

	data, err := protocol.EncodeAvailable([]string{"chart", "table"})
	require.NoError(t, err)

	typ, err := protocol.PeekType(data)
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeAvailable, typ)

	a, err := protocol.DecodeAvailable(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"chart", "table"}, a.Modalities)

	_, err = protocol.DecodeAvailable([]byte(`{"type":"response"}`))
	require.ErrorIs(t, err, protocol.ErrMalformedMessage)

	_, err = protocol.PeekType([]byte(`nope`))
	require.ErrorIs(t, err, protocol.ErrMalformedMessage)
}
