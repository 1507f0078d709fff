package httpclient

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"
)

const (
	sseDataPrefix  = "data: "
	maxSSELineSize = 4 * 1024 * 1024
)

// StreamClient follows the admin notification feed over Server-Sent Events,
// reconnecting when the connection drops.
type StreamClient struct {
	client *Client
	config StreamConfig

	events chan AdminStreamMessage
	errors chan error
	done   chan struct{}
	cancel context.CancelFunc

	lastSeq atomic.Int64
	dropped atomic.Int64
}

// StreamConfig configures the streaming client
type StreamConfig struct {
	// NoMessages asks the server to leave published payloads out
	NoMessages bool

	// BufferSize of the Events channel; notifications arriving while it is
	// full are dropped and counted
	BufferSize int

	// ReconnectDelay between connection attempts
	ReconnectDelay time.Duration

	// MaxReconnectAttempts bounds consecutive failed connections (0 = no limit)
	MaxReconnectAttempts int
}

// SetDefaults fills zero fields with defaults
func (sc *StreamConfig) SetDefaults() {
	if sc.BufferSize == 0 {
		sc.BufferSize = 100
	}
	if sc.ReconnectDelay == 0 {
		sc.ReconnectDelay = 2 * time.Second
	}
}

// StreamAdmin opens the admin notification stream. Every (re)connection
// starts with a snapshot notification of the whole topology.
func (c *Client) StreamAdmin(ctx context.Context, config StreamConfig) (*StreamClient, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}
	config.SetDefaults()

	ctx, cancel := context.WithCancel(ctx)
	sc := &StreamClient{
		client: c,
		config: config,
		events: make(chan AdminStreamMessage, config.BufferSize),
		errors: make(chan error, 10),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go sc.run(ctx)
	return sc, nil
}

// Events delivers notifications in server order
func (sc *StreamClient) Events() <-chan AdminStreamMessage { return sc.events }

// Errors reports connection and parse failures. It never blocks the stream.
func (sc *StreamClient) Errors() <-chan error { return sc.errors }

// Done is closed once the stream has stopped for good
func (sc *StreamClient) Done() <-chan struct{} { return sc.done }

// LastSequence is the sequence number of the last notification received.
func (sc *StreamClient) LastSequence() int64 { return sc.lastSeq.Load() }

// Dropped counts notifications discarded because Events was full.
func (sc *StreamClient) Dropped() int64 { return sc.dropped.Load() }

// Close stops the stream and waits for it to finish
func (sc *StreamClient) Close() error {
	sc.cancel()
	<-sc.done
	return nil
}

func (sc *StreamClient) run(ctx context.Context) {
	defer close(sc.done)
	defer close(sc.events)
	defer close(sc.errors)

	failures := 0
	for ctx.Err() == nil {
		connected, err := sc.stream(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			failures = 0
		}
		if err != nil {
			sc.report(fmt.Errorf("streaming error: %w", err))
			failures++
		}

		if limit := sc.config.MaxReconnectAttempts; limit > 0 && failures > limit {
			sc.report(fmt.Errorf("max reconnect attempts (%d) exceeded", limit))
			return
		}

		select {
		case <-time.After(sc.config.ReconnectDelay):
		case <-ctx.Done():
			return
		}
	}
}

// report hands err to Errors unless the channel is full.
func (sc *StreamClient) report(err error) {
	select {
	case sc.errors <- err:
	default:
	}
}

func (sc *StreamClient) streamURL() string {
	u := sc.client.baseURL.ResolveReference(&url.URL{Path: "/api/v1/admin/stream"})
	if sc.config.NoMessages {
		u.RawQuery = url.Values{"no_msgs": {"true"}}.Encode()
	}
	return u.String()
}

// stream runs one connection until it ends. connected reports whether the
// server accepted the stream.
func (sc *StreamClient) stream(ctx context.Context) (connected bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sc.streamURL(), nil)
	if err != nil {
		return false, fmt.Errorf("failed to create streaming request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Authorization", "Bearer "+sc.client.token)

	// the stream outlives the request timeout of the regular client
	httpClient := *sc.client.httpClient
	httpClient.Timeout = 0
	resp, err := httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to connect to stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return false, fmt.Errorf("streaming failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return true, sc.consume(ctx, resp.Body)
}

// consume reads SSE frames from r. Only data lines matter: the event name
// repeats the notification kind and comment lines are keepalives.
func (sc *StreamClient) consume(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxSSELineSize)

	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), sseDataPrefix)
		if !ok {
			continue
		}

		var msg AdminStreamMessage
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			sc.report(fmt.Errorf("failed to parse notification: %w", err))
			continue
		}
		sc.lastSeq.Store(msg.Sequence)

		select {
		case sc.events <- msg:
		case <-ctx.Done():
			return ctx.Err()
		default:
			sc.dropped.Add(1)
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("error reading SSE stream: %w", err)
	}
	return nil
}
