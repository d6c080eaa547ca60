// Package session owns the connection to the bridge: it subscribes the
// inbound path, seeds items from a full enumeration and holds the session
// until it is stopped or the transport fails.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/dokzlo13/huelink/internal/classify"
	"github.com/dokzlo13/huelink/internal/dispatch"
	"github.com/dokzlo13/huelink/internal/hue"
	"github.com/dokzlo13/huelink/internal/loop"
	"github.com/dokzlo13/huelink/internal/resources"
)

// ErrAuthentication is returned when the bridge refuses the application key.
// It is the only error a restart cannot fix.
var ErrAuthentication = errors.New("bridge authentication failed")

// State is the lifecycle state of a session.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Structural types only feed the ownership graph; they are loaded before
// anything is replayed so names resolve.
var structuralTypes = []hue.ResourceType{
	hue.TypeDevice,
	hue.TypeRoom,
	hue.TypeZone,
	hue.TypeBridgeHome,
}

var replayTypes = []hue.ResourceType{
	hue.TypeLight,
	hue.TypeGroupedLight,
	hue.TypeZigbeeConnectivity,
	hue.TypeButton,
	hue.TypeDevicePower,
	hue.TypeGeofenceClient,
	hue.TypeScene,
}

// Manager runs sessions. A Manager runs at most one session at a time.
type Manager struct {
	connector  hue.Connector
	loop       *loop.Loop
	cache      *resources.Cache
	classifier *classify.Classifier
	dispatcher *dispatch.Dispatcher
	logger     zerolog.Logger

	state atomic.Int32

	mu     sync.RWMutex
	bridge hue.Bridge
	info   hue.BridgeInfo
}

// NewManager creates a session manager.
func NewManager(
	connector hue.Connector,
	l *loop.Loop,
	cache *resources.Cache,
	classifier *classify.Classifier,
	dispatcher *dispatch.Dispatcher,
	logger zerolog.Logger,
) *Manager {
	return &Manager{
		connector:  connector,
		loop:       l,
		cache:      cache,
		classifier: classifier,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// State returns the current state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

func (m *Manager) setState(s State) {
	prev := State(m.state.Swap(int32(s)))
	if prev != s {
		m.logger.Info().Str("from", prev.String()).Str("to", s.String()).Msg("Session state changed")
	}
}

// Bridge returns the connected bridge, or nil while not connected.
func (m *Manager) Bridge() hue.Bridge {
	if m.State() != Connected {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bridge
}

// Info returns the identity of the last connected bridge.
func (m *Manager) Info() (hue.BridgeInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.info, m.info != (hue.BridgeInfo{})
}

// Run connects, initializes and blocks until ctx is cancelled (returns nil)
// or the session fails. An ErrAuthentication error is fatal; any other
// error means the transport went away.
func (m *Manager) Run(ctx context.Context) error {
	m.setState(Connecting)
	defer m.setState(Disconnected)

	bridge, err := m.connector.Connect(ctx)
	if err != nil {
		if errors.Is(err, hue.ErrUnauthorized) {
			return fmt.Errorf("%w: %w", ErrAuthentication, err)
		}
		return err
	}

	unsubscribe := bridge.Subscribe(func(batch []hue.Event) {
		err := m.loop.DoSync(ctx, func(context.Context) { m.handleBatch(batch) })
		if err != nil {
			m.logger.Debug().Err(err).Int("events", len(batch)).Msg("Dropping event batch")
		}
	})
	defer func() {
		unsubscribe()
		m.mu.Lock()
		m.bridge = nil
		m.mu.Unlock()
		bridge.Close()
	}()

	m.mu.Lock()
	m.bridge = bridge
	m.info = bridge.Info()
	m.mu.Unlock()
	m.setState(Connected)

	m.initialize(ctx, bridge)

	select {
	case <-ctx.Done():
		m.logger.Info().Msg("Session stopping")
		return nil
	case err, ok := <-bridge.Done():
		if ctx.Err() != nil {
			return nil
		}
		if !ok || err == nil {
			err = &hue.TransportError{Op: "event stream", Err: errors.New("closed")}
		}
		if errors.Is(err, hue.ErrUnauthorized) {
			return fmt.Errorf("%w: %w", ErrAuthentication, err)
		}
		return err
	}
}

// initialize enumerates the bridge and replays every record with the
// initialize flag. Failures are logged per resource type or per record and
// never end the session.
func (m *Manager) initialize(ctx context.Context, bridge hue.Bridge) {
	err := m.loop.DoSyncWithResult(ctx, func(context.Context) error {
		m.cache.Reset()
		return nil
	})
	if err != nil {
		m.logger.Warn().Err(err).Msg("Initialization aborted")
		return
	}

	for _, rtype := range structuralTypes {
		records, ok := m.enumerate(ctx, bridge, rtype)
		if !ok {
			continue
		}
		err := m.loop.DoSyncWithResult(ctx, func(context.Context) error {
			for _, r := range records {
				m.cache.Observe(r)
			}
			return nil
		})
		if err != nil {
			m.logger.Warn().Err(err).Msg("Initialization aborted")
			return
		}
	}

	resourceCount, writeCount := 0, 0
	for _, rtype := range replayTypes {
		records, ok := m.enumerate(ctx, bridge, rtype)
		if !ok {
			continue
		}
		err := m.loop.DoSyncWithResult(ctx, func(context.Context) error {
			for _, r := range records {
				writeCount += m.replay(r)
				resourceCount++
			}
			return nil
		})
		if err != nil {
			m.logger.Warn().Err(err).Msg("Initialization aborted")
			return
		}
	}

	m.logger.Info().
		Int("resources", resourceCount).
		Int("item_writes", writeCount).
		Msg("Initialized items from bridge")
}

func (m *Manager) enumerate(ctx context.Context, bridge hue.Bridge, rtype hue.ResourceType) ([]hue.Resource, bool) {
	records, err := bridge.Enumerate(ctx, rtype)
	if err != nil {
		m.logger.Error().Err(err).Str("type", string(rtype)).Msg("Failed to enumerate resources")
		return nil, false
	}
	return records, true
}

func (m *Manager) replay(r hue.Resource) (writes int) {
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error().
				Interface("panic", rec).
				Str("id", r.ID).
				Str("type", string(r.Type)).
				Msg("Failed to initialize resource")
		}
	}()
	return m.dispatcher.Dispatch(m.classifier.Classify(r, true))
}

func (m *Manager) handleBatch(batch []hue.Event) {
	for _, ev := range batch {
		m.handleEvent(ev)
	}
}

func (m *Manager) handleEvent(ev hue.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error().Interface("panic", rec).Str("event_id", ev.ID).Msg("Failed to handle event")
		}
	}()
	m.dispatcher.Dispatch(m.classifier.HandleEvent(ev))
}
