package hue

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Bridge is one connected session against a bridge.
type Bridge interface {
	// Subscribe registers handler for event batches. The returned function
	// removes it again and is safe to call more than once.
	Subscribe(handler EventHandler) (unsubscribe func())
	Enumerate(ctx context.Context, rtype ResourceType) ([]Resource, error)
	Send(ctx context.Context, cmd Command) error
	Info() BridgeInfo
	// Done yields the reason the session ended on its own, then closes.
	Done() <-chan error
	Close()
}

// Connector opens bridge sessions.
type Connector interface {
	Connect(ctx context.Context) (Bridge, error)
}

// Dialer connects to a bridge over CLIP v2.
type Dialer struct {
	client *Client
	stream EventStreamConfig
	logger zerolog.Logger
}

// NewDialer creates a connector backed by client.
func NewDialer(client *Client, stream EventStreamConfig, logger zerolog.Logger) *Dialer {
	return &Dialer{client: client, stream: stream, logger: logger}
}

// Connect checks credentials, reads the bridge identity and starts the event
// stream. The stream runs until the session is closed.
func (d *Dialer) Connect(ctx context.Context) (Bridge, error) {
	if err := d.client.Check(ctx); err != nil {
		return nil, err
	}

	info, err := d.client.Info()
	if err != nil {
		d.logger.Warn().Err(err).Msg("Failed to read bridge config")
	} else {
		d.logger.Info().
			Str("name", info.Name).
			Str("model", info.ModelID).
			Str("sw_version", info.SwVersion).
			Str("api_version", info.APIVersion).
			Msg("Connected to Hue bridge")
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		client:   d.client,
		info:     info,
		handlers: make(map[int]EventHandler),
		done:     make(chan error, 1),
		cancel:   cancel,
	}

	stream := NewEventStream(d.client, d.stream, d.logger)
	go func() {
		err := stream.Run(streamCtx, s.publish)
		if err != nil {
			s.done <- err
		}
		close(s.done)
	}()

	return s, nil
}

// Session is a live connection: a REST client plus one running event stream.
type Session struct {
	client *Client
	info   BridgeInfo

	mu       sync.RWMutex
	handlers map[int]EventHandler
	nextID   int

	done      chan error
	cancel    context.CancelFunc
	closeOnce sync.Once
	closed    bool
}

func (s *Session) Subscribe(handler EventHandler) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.handlers[id] = handler
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.handlers, id)
			s.mu.Unlock()
		})
	}
}

func (s *Session) publish(batch []Event) {
	s.mu.RLock()
	handlers := make([]EventHandler, 0, len(s.handlers))
	for _, h := range s.handlers {
		handlers = append(handlers, h)
	}
	s.mu.RUnlock()

	for _, h := range handlers {
		h(batch)
	}
}

func (s *Session) Enumerate(ctx context.Context, rtype ResourceType) ([]Resource, error) {
	if s.isClosed() {
		return nil, ErrSessionClosed
	}
	return s.client.Enumerate(ctx, rtype)
}

func (s *Session) Send(ctx context.Context, cmd Command) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	return s.client.Send(ctx, cmd)
}

func (s *Session) Info() BridgeInfo {
	return s.info
}

func (s *Session) Done() <-chan error {
	return s.done
}

// Close stops the event stream and drops idle connections.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.handlers = make(map[int]EventHandler)
		s.mu.Unlock()
		s.cancel()
		s.client.Close()
	})
}

func (s *Session) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}
