package selection_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/multimodal/internal/modality"
	"github.com/gosuda/multimodal/internal/protocol"
	"github.com/gosuda/multimodal/internal/router"
	"github.com/gosuda/multimodal/internal/selection"
	"github.com/gosuda/multimodal/internal/transport"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

type harness struct {
	host   *transport.PipeHost
	router *router.Router
	store  *modality.Store
	ctrl   *selection.Controller
}

func newHarness(t *testing.T, timeout time.Duration) *harness {
	t.Helper()

	pipe, host := transport.NewPipe(16)
	r := router.New(pipe)
	t.Cleanup(func() {
		_ = r.Close()
		_ = pipe.Close()
	})

	store := modality.NewStore(modality.DefaultKinds())
	return &harness{
		host:   host,
		router: r,
		store:  store,
		ctrl:   selection.New(r, store, timeout),
	}
}

// nextRequest returns the next request the client sent.
func (h *harness) nextRequest(t *testing.T) protocol.Request {
	t.Helper()
	select {
	case raw := <-h.host.Requests():
		req, err := protocol.DecodeRequest(raw)
		require.NoError(t, err)
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("no request reached the host")
		return protocol.Request{}
	}
}

func (h *harness) reply(t *testing.T, resp protocol.Response) {
	t.Helper()
	resp.Action = protocol.ResponseAction{Type: protocol.ActionSelectModality}
	raw, err := protocol.EncodeResponse(resp)
	require.NoError(t, err)
	require.NoError(t, h.host.Reply(t.Context(), raw))
}

func (h *harness) waitStatus(t *testing.T, kind modality.Kind, want modality.Status) modality.State {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.store.Get(kind).Status == want
	}, 2*time.Second, 5*time.Millisecond, "modality %s never reached %s", kind, want)
	return h.store.Get(kind)
}

// ---------------------------------------------------------------------------
// Scenarios
// ---------------------------------------------------------------------------

func TestSelect_ChartResolves(t *testing.T) {
	t.Parallel()

	h := newHarness(t, time.Second)

	require.True(t, h.ctrl.Select(t.Context(), modality.KindChart))
	assert.Equal(t, modality.KindChart, h.ctrl.Active())
	assert.Equal(t, modality.StatusLoading, h.store.Get(modality.KindChart).Status)

	req := h.nextRequest(t)
	assert.Equal(t, protocol.ActionSelectModality, req.Action.Type)
	assert.JSONEq(t, `{"modality":"chart"}`, string(req.Action.Payload))

	h.reply(t, protocol.Response{MessageID: req.MessageID, Success: true, Payload: json.RawMessage(`{"mark":"bar"}`)})

	state := h.waitStatus(t, modality.KindChart, modality.StatusReady)
	assert.JSONEq(t, `{"mark":"bar"}`, string(state.Value))
	assert.Empty(t, state.Error)
}

func TestSelect_TableTimesOut(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 50*time.Millisecond)

	start := time.Now()
	require.True(t, h.ctrl.Select(t.Context(), modality.KindTable))
	h.nextRequest(t)

	state := h.waitStatus(t, modality.KindTable, modality.StatusFailed)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, "Timeout", state.Error)
	assert.Nil(t, state.Value)
}

func TestSelect_ReselectSupersedes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		firstBefore bool
	}{
		{name: "first reply arrives first", firstBefore: true},
		{name: "first reply arrives last", firstBefore: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, time.Second)

			var (
				mu    sync.Mutex
				ready []string
			)
			h.store.Subscribe(func(c modality.Change) {
				if c.Kind == modality.KindDescription && c.State.Status == modality.StatusReady {
					mu.Lock()
					ready = append(ready, string(c.State.Value))
					mu.Unlock()
				}
			})

			require.True(t, h.ctrl.Select(t.Context(), modality.KindDescription))
			require.True(t, h.ctrl.Select(t.Context(), modality.KindDescription))
			first := h.nextRequest(t)
			second := h.nextRequest(t)
			require.NotEqual(t, first.MessageID, second.MessageID)

			firstResp := protocol.Response{MessageID: first.MessageID, Success: true, Payload: json.RawMessage(`"first"`)}
			secondResp := protocol.Response{MessageID: second.MessageID, Success: true, Payload: json.RawMessage(`"second"`)}
			if tc.firstBefore {
				h.reply(t, firstResp)
				h.reply(t, secondResp)
			} else {
				h.reply(t, secondResp)
				h.reply(t, firstResp)
			}

			state := h.waitStatus(t, modality.KindDescription, modality.StatusReady)
			assert.JSONEq(t, `"second"`, string(state.Value))

			// Both replies are consumed once the router tracks nothing.
			require.Eventually(t, func() bool { return h.router.Pending() == 0 }, time.Second, 5*time.Millisecond)
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, []string{`"second"`}, ready)
		})
	}
}

func TestSelect_ApplicationFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, time.Second)

	require.True(t, h.ctrl.Select(t.Context(), modality.KindChart))
	req := h.nextRequest(t)
	h.reply(t, protocol.Response{MessageID: req.MessageID, Success: false, Error: "boom"})

	state := h.waitStatus(t, modality.KindChart, modality.StatusFailed)
	assert.Equal(t, "boom", state.Error)
}

// ---------------------------------------------------------------------------
// Controller behaviour
// ---------------------------------------------------------------------------

func TestSelect_UnknownModalityIsNoop(t *testing.T) {
	t.Parallel()

	h := newHarness(t, time.Second)

	assert.False(t, h.ctrl.Select(t.Context(), "hologram"))
	assert.Equal(t, modality.Kind(""), h.ctrl.Active())

	select {
	case raw := <-h.host.Requests():
		t.Fatalf("unexpected request: %s", raw)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestSelect_OnChange(t *testing.T) {
	t.Parallel()

	h := newHarness(t, time.Second)

	var changes []modality.Kind
	h.ctrl.OnChange(func(k modality.Kind) { changes = append(changes, k) })

	h.ctrl.Select(t.Context(), modality.KindChart)
	h.ctrl.Select(t.Context(), modality.KindChart)
	h.ctrl.Select(t.Context(), modality.KindTable)

	assert.Equal(t, []modality.Kind{modality.KindChart, modality.KindTable}, changes)
}

func TestAvailable_AutoSelectsFirstTracked(t *testing.T) {
	t.Parallel()

	h := newHarness(t, time.Second)

	h.ctrl.Available(t.Context(), []string{"hologram", "Table", "chart"})
	assert.Equal(t, modality.KindTable, h.ctrl.Active())
	assert.Equal(t, []modality.Kind{modality.KindTable, modality.KindChart}, h.ctrl.AvailableKinds())

	req := h.nextRequest(t)
	assert.JSONEq(t, `{"modality":"table"}`, string(req.Action.Payload))

	// Later pushes extend the set without stealing the selection.
	h.ctrl.Available(t.Context(), []string{"description"})
	assert.Equal(t, modality.KindTable, h.ctrl.Active())
	assert.Len(t, h.ctrl.AvailableKinds(), 3)
}

func TestAvailable_ViaRouterPush(t *testing.T) {
	t.Parallel()

	h := newHarness(t, time.Second)
	h.router.OnAvailable(func(kinds []string) { h.ctrl.Available(context.Background(), kinds) })

	raw, err := protocol.EncodeAvailable([]string{"description"})
	require.NoError(t, err)
	require.NoError(t, h.host.Reply(t.Context(), raw))

	req := h.nextRequest(t)
	assert.JSONEq(t, `{"modality":"description"}`, string(req.Action.Payload))
	assert.Equal(t, modality.KindDescription, h.ctrl.Active())
}

func TestInit(t *testing.T) {
	t.Parallel()

	h := newHarness(t, time.Second)

	errs := make(chan error, 1)
	go func() { errs <- h.ctrl.Init(t.Context()) }()

	req := h.nextRequest(t)
	assert.Equal(t, protocol.ActionInitWidget, req.Action.Type)
	raw, err := protocol.EncodeResponse(protocol.Response{
		MessageID: req.MessageID,
		Success:   true,
		Action:    protocol.ResponseAction{Type: protocol.ActionInitWidget},
	})
	require.NoError(t, err)
	require.NoError(t, h.host.Reply(t.Context(), raw))

	select {
	case err := <-errs:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("init never returned")
	}
}

// failingDispatcher refuses every dispatch.
type failingDispatcher struct{}

func (failingDispatcher) NewRequest(actionType string, payload any) (protocol.Request, error) {
	return protocol.NewRequest(actionType, payload)
}

func (failingDispatcher) Dispatch(context.Context, protocol.Request, time.Duration, router.Settle) error {
	return router.ErrClosed
}

func TestSelect_DispatchRefusedMarksFailed(t *testing.T) {
	t.Parallel()

	store := modality.NewStore(modality.DefaultKinds())
	ctrl := selection.New(failingDispatcher{}, store, time.Second)

	require.True(t, ctrl.Select(t.Context(), modality.KindChart))
	state := store.Get(modality.KindChart)
	assert.Equal(t, modality.StatusFailed, state.Status)
	assert.Equal(t, router.Describe(router.ErrClosed), state.Error)

	err := ctrl.Init(t.Context())
	require.ErrorIs(t, err, router.ErrClosed)
}

// ---------------------------------------------------------------------------
// Event stream
// ---------------------------------------------------------------------------

// pushSubscriber feeds the event stream from a channel the test publishes into.
type pushSubscriber struct {
	ch chan []byte
}

func (p *pushSubscriber) Subscribe(context.Context, string) (<-chan []byte, func(), error) {
	return p.ch, func() {}, nil
}

func (p *pushSubscriber) publish(t *testing.T, evt protocol.Event) {
	t.Helper()
	raw, err := protocol.EncodeEvent(evt)
	require.NoError(t, err)
	p.ch <- raw
}

func newStreamHarness(t *testing.T, timeout time.Duration) (*pushSubscriber, *router.Router, *modality.Store, *selection.Controller) {
	t.Helper()

	sub := &pushSubscriber{ch: make(chan []byte, 16)}
	es, err := transport.NewEventStream(t.Context(), sub, "artifacts:s1")
	require.NoError(t, err)

	r := router.New(es)
	t.Cleanup(func() {
		_ = r.Close()
		_ = es.Close()
	})

	store := modality.NewStore(modality.DefaultKinds())
	return sub, r, store, selection.New(r, store, timeout)
}

func TestSelect_EventStreamReselectUsesLoadedResult(t *testing.T) {
	t.Parallel()

	sub, r, store, ctrl := newStreamHarness(t, 200*time.Millisecond)

	require.True(t, ctrl.Select(t.Context(), modality.KindChart))
	sub.publish(t, protocol.Event{Type: "chart", Status: protocol.EventLoaded, Data: `{"mark":"bar"}`})
	require.Eventually(t, func() bool {
		return store.Get(modality.KindChart).Status == modality.StatusReady
	}, 2*time.Second, 5*time.Millisecond)

	// Leave the tab and come back to it.
	require.True(t, ctrl.Select(t.Context(), modality.KindTable))
	require.True(t, ctrl.Select(t.Context(), modality.KindChart))
	require.Eventually(t, func() bool {
		return store.Get(modality.KindChart).Status == modality.StatusReady
	}, 2*time.Second, 5*time.Millisecond)

	// Past the request deadline the revisited tab is still ready.
	time.Sleep(300 * time.Millisecond)
	state := store.Get(modality.KindChart)
	assert.Equal(t, modality.StatusReady, state.Status)
	assert.JSONEq(t, `{"mark":"bar"}`, string(state.Value))
	assert.Empty(t, state.Error)
	assert.Zero(t, r.Pending())
}

func TestAvailable_EventStreamAutoSelectAnsweredImmediately(t *testing.T) {
	t.Parallel()

	sub, r, store, ctrl := newStreamHarness(t, time.Second)
	r.OnAvailable(func(labels []string) { ctrl.Available(t.Context(), labels) })

	sub.publish(t, protocol.Event{Type: "description", Status: protocol.EventLoaded, Data: `"Sales rose."`})

	require.Eventually(t, func() bool {
		return store.Get(modality.KindDescription).Status == modality.StatusReady
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, modality.KindDescription, ctrl.Active())
	assert.JSONEq(t, `"Sales rose."`, string(store.Get(modality.KindDescription).Value))
}

