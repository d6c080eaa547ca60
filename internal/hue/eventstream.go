package hue

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/tmaxmax/go-sse"
)

// EventStreamConfig contains configuration for event stream reconnection.
type EventStreamConfig struct {
	MinBackoff    time.Duration // Minimum backoff between reconnects
	MaxBackoff    time.Duration // Maximum backoff between reconnects
	Multiplier    float64       // Backoff multiplier
	MaxReconnects int           // Max reconnect attempts, 0 = infinite
}

func (c EventStreamConfig) withDefaults() EventStreamConfig {
	if c.MinBackoff <= 0 {
		c.MinBackoff = time.Second
	}
	if c.MaxBackoff < c.MinBackoff {
		c.MaxBackoff = c.MinBackoff
	}
	if c.Multiplier < 1 {
		c.Multiplier = 2.0
	}
	return c
}

// EventHandler receives one decoded batch of bridge events.
type EventHandler func(events []Event)

// EventStream reads the CLIP v2 server-sent event stream.
type EventStream struct {
	client *Client
	sse    *sse.Client
	config EventStreamConfig
	logger zerolog.Logger
}

// NewEventStream creates an event stream reader. The SSE connection has no
// timeout since it is long-lived.
func NewEventStream(client *Client, config EventStreamConfig, logger zerolog.Logger) *EventStream {
	httpClient := &http.Client{
		Transport: client.httpClient.Transport,
	}

	return &EventStream{
		client: client,
		sse:    &sse.Client{HTTPClient: httpClient},
		config: config.withDefaults(),
		logger: logger,
	}
}

// Run reads the stream with automatic reconnection until ctx is cancelled.
// Returns ErrMaxReconnectsExceeded when the retry budget is spent.
func (e *EventStream) Run(ctx context.Context, handle EventHandler) error {
	retryCount := 0
	currentBackoff := e.config.MinBackoff

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		started := time.Now()
		err := e.connect(ctx, handle)
		if ctx.Err() != nil {
			return nil
		}

		// A connection that stayed up for a while counts as success.
		if time.Since(started) > e.config.MaxBackoff {
			retryCount = 0
			currentBackoff = e.config.MinBackoff
		}

		retryCount++
		if e.config.MaxReconnects > 0 && retryCount > e.config.MaxReconnects {
			e.logger.Error().
				Int("max_reconnects", e.config.MaxReconnects).
				Msg("Event stream: max reconnects exceeded, terminating")
			return ErrMaxReconnectsExceeded
		}

		e.logger.Warn().
			Err(err).
			Dur("backoff", currentBackoff).
			Int("retry", retryCount).
			Int("max_reconnects", e.config.MaxReconnects).
			Msg("Event stream disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(currentBackoff):
		}

		nextBackoff := time.Duration(float64(currentBackoff) * e.config.Multiplier)
		if nextBackoff > e.config.MaxBackoff {
			nextBackoff = e.config.MaxBackoff
		}
		currentBackoff = nextBackoff
	}
}

func (e *EventStream) connect(ctx context.Context, handle EventHandler) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.client.url("/eventstream/clip/v2"), nil)
	if err != nil {
		return err
	}
	req.Header.Set(appKeyHeader, e.client.token)
	req.Header.Set("Accept", "text/event-stream")

	conn := e.sse.NewConnection(req)
	conn.SubscribeToAll(func(ev sse.Event) {
		if len(ev.Data) == 0 {
			return
		}
		batch, err := DecodeEvents(ev.Data)
		if err != nil {
			e.logger.Warn().Err(err).Str("data", string(ev.Data)).Msg("Failed to parse event")
			return
		}
		if len(batch) > 0 {
			handle(batch)
		}
	})

	e.logger.Info().Str("bridge", e.client.Address()).Msg("Listening for bridge events")
	return conn.Connect()
}

// DecodeEvents decodes the JSON array carried by one SSE data frame.
func DecodeEvents(data []byte) ([]Event, error) {
	var batch []Event
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, err
	}
	return batch, nil
}
