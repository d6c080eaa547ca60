package mqtt

import (
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dokzlo13/huelink/internal/item"
)

// Caller is the caller identity of item writes received over MQTT.
const Caller = "mqtt"

// Exposer mirrors items to <prefix>/<item>/state and accepts writes on
// <prefix>/<item>/set.
type Exposer struct {
	broker   Broker
	registry *item.Registry
	prefix   string
	qos      byte
	retain   bool
	logger   zerolog.Logger
}

// NewExposer creates an exposer for every item in registry.
func NewExposer(broker Broker, registry *item.Registry, prefix string, qos byte, retain bool, logger zerolog.Logger) *Exposer {
	return &Exposer{
		broker:   broker,
		registry: registry,
		prefix:   strings.TrimSuffix(prefix, "/"),
		qos:      qos,
		retain:   retain,
		logger:   logger,
	}
}

func (e *Exposer) stateTopic(name string) string {
	return e.prefix + "/" + name + "/state"
}

// Start subscribes to set topics and publishes the current value of every item.
func (e *Exposer) Start() error {
	if err := e.broker.Subscribe(e.prefix+"/+/set", e.qos, e.handleSet); err != nil {
		return err
	}
	for _, v := range e.registry.All() {
		e.publish(v)
	}
	return nil
}

// OnItemWrite publishes the new state of it.
func (e *Exposer) OnItemWrite(it item.Item, _ string) {
	e.publish(it)
}

func (e *Exposer) publish(it item.Item) {
	payload, err := json.Marshal(it.Read())
	if err != nil {
		e.logger.Warn().Err(err).Str("item", it.Name()).Msg("Item value is not JSON encodable")
		return
	}
	if err := e.broker.Publish(e.stateTopic(it.Name()), payload, e.qos, e.retain); err != nil {
		e.logger.Debug().Err(err).Str("item", it.Name()).Msg("Failed to publish item state")
	}
}

func (e *Exposer) handleSet(topic string, payload []byte) {
	name, ok := e.itemFromSetTopic(topic)
	if !ok {
		return
	}
	v, ok := e.registry.Get(name)
	if !ok {
		e.logger.Warn().Str("item", name).Msg("MQTT write for unknown item")
		return
	}

	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		// bare strings like ON or a scene id are accepted as-is
		value = string(payload)
	}
	v.Write(value, Caller)
}

func (e *Exposer) itemFromSetTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, e.prefix+"/")
	if !ok {
		return "", false
	}
	name, ok := strings.CutSuffix(rest, "/set")
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}
