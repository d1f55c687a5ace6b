package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// maxStreamRetries is the number of consecutive event-stream failures
// tolerated before the subscription gives up and closes. The pull channel
// remains the fallback, so a dead stream never fails the attempt by itself.
const maxStreamRetries = 5

// longPollTimeoutMs is the server-side hold time for normal event-stream
// calls. The server returns immediately when frames arrive.
const longPollTimeoutMs = 30000

// retryTimeoutMs is the server-side timeout used right after a stream error,
// short so the retry completes quickly.
const retryTimeoutMs = 1000

// Subscription is one push-channel attachment for a verification attempt.
// Frames are delivered on Frames until the subscription is closed or the
// retry budget is exhausted; either way the channel is closed so consumers
// can range over it.
type Subscription struct {
	frames chan PushFrame
	cancel context.CancelFunc
	once   sync.Once
}

// Frames returns the delivery channel.
func (s *Subscription) Frames() <-chan PushFrame {
	return s.frames
}

// Close tears down the subscription. Safe to call multiple times.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
}

// Subscribe opens the push channel for an attempt. The initial call captures
// the current stream position without blocking; subsequent long-polls hold on
// the server until frames arrive.
func (c *Client) Subscribe(ctx context.Context, sessionID string) (*Subscription, error) {
	page, err := c.pollEvents(ctx, sessionID, "", 0)
	if err != nil {
		return nil, fmt.Errorf("provider: open event stream: %w", err)
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &Subscription{
		frames: make(chan PushFrame, 16),
		cancel: cancel,
	}

	go c.streamLoop(streamCtx, sub, sessionID, page.Next)
	return sub, nil
}

func (c *Client) streamLoop(ctx context.Context, sub *Subscription, sessionID, next string) {
	defer close(sub.frames)

	failures := 0
	timeout := longPollTimeoutMs
	for {
		page, err := c.pollEvents(ctx, sessionID, next, timeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			if failures >= maxStreamRetries {
				c.logger.Warn("event stream closed after repeated failures",
					"session_id", sessionID, "failures", failures, "error", err)
				return
			}
			timeout = retryTimeoutMs
			continue
		}
		failures = 0
		timeout = longPollTimeoutMs
		next = page.Next

		for _, frame := range page.Frames {
			select {
			case sub.frames <- frame:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (c *Client) pollEvents(ctx context.Context, sessionID, since string, timeoutMs int) (eventsResponse, error) {
	query := url.Values{}
	query.Set("timeout", strconv.Itoa(timeoutMs))
	if since != "" {
		query.Set("since", since)
	}
	path := "/session/" + url.PathEscape(sessionID) + "/events?" + query.Encode()

	// Bound the round-trip a little past the server-side hold so a stalled
	// connection cannot hang the stream loop.
	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond+5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return eventsResponse{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return eventsResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return eventsResponse{}, fmt.Errorf("event stream: %s", resp.Status)
	}

	var page eventsResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return eventsResponse{}, fmt.Errorf("decode event page: %w", err)
	}
	return page, nil
}
