package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/multimodal/internal/protocol"
)

const (
	toolCallPath       = "/api/v1/tools/call"
	toolResultMaxBytes = 16 * 1024 * 1024
	toolCallTimeout    = 5 * time.Minute
)

// ToolHost is the extension-host binding. Each Send becomes a tool
// invocation; the response envelope is located inside the tool result and
// delivered to the handler. Failed invocations deliver nothing.
type ToolHost struct {
	endpoint string
	token    string
	client   *http.Client
	slot     handlerSlot

	ctx    context.Context
	cancel context.CancelFunc

	// mu orders Send's wg.Add against Close's wg.Wait.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewToolHostAdapter creates a tool-host binding for opts.HostURL.
func NewToolHostAdapter(_ context.Context, opts Options) (Adapter, error) {
	if opts.HostURL == "" {
		return nil, errors.New("transport.NewToolHostAdapter: host url is required")
	}
	return NewToolHost(opts.HostURL, opts.Token, opts.httpClient()), nil
}

// NewToolHost creates a tool-host binding posting to {baseURL}/api/v1/tools/call.
func NewToolHost(baseURL, token string, client *http.Client) *ToolHost {
	if client == nil {
		client = &http.Client{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ToolHost{
		endpoint: strings.TrimRight(baseURL, "/") + toolCallPath,
		token:    token,
		client:   client,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (t *ToolHost) Kind() Kind { return KindToolHost }

// Send starts the invocation in the background and returns once it is queued.
func (t *ToolHost) Send(_ context.Context, envelope []byte) error {
	call, err := protocol.NewToolCall(envelope)
	if err != nil {
		return fmt.Errorf("transport.ToolHost.Send: %w", err)
	}
	body, err := json.Marshal(call)
	if err != nil {
		return fmt.Errorf("transport.ToolHost.Send: %w", err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return fmt.Errorf("transport.ToolHost.Send: %w", ErrClosed)
	}
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		t.invoke(body)
	}()
	return nil
}

func (t *ToolHost) OnMessage(handler Handler) {
	t.slot.set(handler)
}

func (t *ToolHost) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	t.wg.Wait()
	return nil
}

func (t *ToolHost) invoke(body []byte) {
	ctx, cancel := context.WithTimeout(t.ctx, toolCallTimeout)
	defer cancel()

	result, err := t.call(ctx, body)
	if err != nil {
		if t.ctx.Err() == nil {
			log.Warn().Err(err).Str("endpoint", t.endpoint).Msg("transport.ToolHost: tool call failed")
		}
		return
	}

	raw, ok := protocol.FindResponse(result)
	if !ok {
		log.Warn().Bool("is_error", result.IsError).Int("items", len(result.Content)).Msg("transport.ToolHost: no response envelope in tool result")
		return
	}
	t.slot.emit(KindToolHost, raw)
}

func (t *ToolHost) call(ctx context.Context, body []byte) (protocol.ToolResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return protocol.ToolResult{}, fmt.Errorf("transport.ToolHost.call: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return protocol.ToolResult{}, fmt.Errorf("transport.ToolHost.call: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, toolResultMaxBytes))
	if err != nil {
		return protocol.ToolResult{}, fmt.Errorf("transport.ToolHost.call: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return protocol.ToolResult{}, fmt.Errorf("transport.ToolHost.call: http %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var result protocol.ToolResult
	if err := json.Unmarshal(data, &result); err != nil {
		return protocol.ToolResult{}, fmt.Errorf("transport.ToolHost.call: decode result: %w", err)
	}
	return result, nil
}
