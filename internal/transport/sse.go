package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	sseScannerInitialBuffer = 64 * 1024
	sseScannerMaxBuffer     = 4 * 1024 * 1024
)

// SSESubscriber reads a host's server-sent-event stream. Each event's data
// lines are joined and delivered as one message.
type SSESubscriber struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewSSESubscriber creates a subscriber for the host at baseURL.
func NewSSESubscriber(baseURL, token string, client *http.Client) *SSESubscriber {
	if client == nil {
		client = &http.Client{}
	}
	return &SSESubscriber{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

// Subscribe opens GET {base}/events?channel=... and streams event payloads.
func (s *SSESubscriber) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	streamCtx, cancel := context.WithCancel(ctx)

	endpoint := s.baseURL + "/events?channel=" + url.QueryEscape(channel)
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("transport.SSESubscriber.Subscribe: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("transport.SSESubscriber.Subscribe: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		cancel()
		return nil, nil, fmt.Errorf("transport.SSESubscriber.Subscribe: http %d", resp.StatusCode)
	}

	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, sseScannerInitialBuffer), sseScannerMaxBuffer)

		var data bytes.Buffer
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "":
				if data.Len() == 0 {
					continue
				}
				payload := bytes.Clone(data.Bytes())
				data.Reset()
				select {
				case out <- payload:
				case <-streamCtx.Done():
					return
				}
			case strings.HasPrefix(line, ":"):
				// comment / keepalive
			case strings.HasPrefix(line, "data:"):
				if data.Len() > 0 {
					data.WriteByte('\n')
				}
				data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			}
		}
		if err := scanner.Err(); err != nil && streamCtx.Err() == nil {
			log.Warn().Err(err).Str("channel", channel).Msg("transport.SSESubscriber: stream error")
		}
	}()

	return out, cancel, nil
}
