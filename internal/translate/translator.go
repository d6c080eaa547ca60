package translate

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/huelink/internal/binding"
	"github.com/dokzlo13/huelink/internal/hue"
	"github.com/dokzlo13/huelink/internal/item"
	"github.com/dokzlo13/huelink/internal/ledger"
	"github.com/dokzlo13/huelink/internal/loop"
)

// Link exposes the current bridge session.
type Link interface {
	// Bridge returns the connected bridge, or nil while no session is connected.
	Bridge() hue.Bridge
}

// Recorder stores command outcomes.
type Recorder interface {
	Append(e ledger.Entry) error
}

type pendingKey struct {
	rtype    hue.ResourceType
	id       string
	function string
}

type pendingCommand struct {
	cmd  hue.Command
	item string
}

// Config configures a Translator.
type Config struct {
	Identity string
	Defaults Defaults
	// RateLimit caps commands per second. Zero disables limiting.
	RateLimit float64
}

// Translator sends item writes to the bridge. Commands for the same
// attribute that queue up before the loop gets to them collapse into the
// latest one.
type Translator struct {
	table    *binding.Table
	loop     *loop.Loop
	link     Link
	recorder Recorder
	limiter  *rate.Limiter
	cfg      Config
	logger   zerolog.Logger

	mu      sync.Mutex
	pending map[pendingKey]pendingCommand
}

// NewTranslator creates a translator. recorder may be nil.
func NewTranslator(table *binding.Table, l *loop.Loop, link Link, recorder Recorder, cfg Config, logger zerolog.Logger) *Translator {
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Translator{
		table:    table,
		loop:     l,
		link:     link,
		recorder: recorder,
		limiter:  limiter,
		cfg:      cfg,
		logger:   logger,
		pending:  make(map[pendingKey]pendingCommand),
	}
}

// OnItemWrite is the item write listener. It never blocks on the network.
func (t *Translator) OnItemWrite(it item.Item, caller string) {
	if caller == t.cfg.Identity {
		return
	}

	b, ok := t.table.ForItem(it.Name())
	if !ok {
		return
	}

	if t.link.Bridge() == nil {
		t.logger.Debug().Str("item", it.Name()).Msg("No bridge session, ignoring item write")
		return
	}

	cmd, err := Translate(b, it.Read(), t.cfg.Defaults)
	if err != nil {
		t.logRejection(it.Name(), b, err)
		return
	}
	if cmd == nil {
		return
	}

	t.enqueue(pendingKey{rtype: cmd.ResourceType, id: cmd.ResourceID, function: b.Key.Function}, pendingCommand{cmd: *cmd, item: it.Name()})
}

func (t *Translator) logRejection(name string, b binding.Binding, err error) {
	ev := t.logger.Warn()
	msg := "Item value not sent"
	if errors.Is(err, ErrNotImplemented) {
		msg = "Function not implemented"
	}
	ev.Err(err).
		Str("item", name).
		Str("key", b.Key.String()).
		Msg(msg)
}

func (t *Translator) enqueue(key pendingKey, p pendingCommand) {
	t.mu.Lock()
	prev, queued := t.pending[key]
	if queued && key.function == "dict" {
		p.cmd.Body = mergeBodies(prev.cmd.Body, p.cmd.Body)
	}
	t.pending[key] = p
	t.mu.Unlock()

	if queued {
		return
	}

	if !t.loop.Do(context.Background(), func(ctx context.Context) { t.flush(ctx, key) }) {
		t.mu.Lock()
		delete(t.pending, key)
		t.mu.Unlock()
	}
}

// mergeBodies folds a newer composite write into the queued one so fields
// set only by the older write still reach the bridge.
func mergeBodies(older, newer any) any {
	o, ok := older.(hue.LightUpdate)
	if !ok {
		return newer
	}
	n, ok := newer.(hue.LightUpdate)
	if !ok {
		return newer
	}
	return o.Merge(n)
}

// flush sends the latest queued command for key. Runs on the event loop.
func (t *Translator) flush(ctx context.Context, key pendingKey) {
	t.mu.Lock()
	p, ok := t.pending[key]
	delete(t.pending, key)
	t.mu.Unlock()
	if !ok {
		return
	}

	entry := ledger.Entry{
		Item:         p.item,
		ResourceType: string(p.cmd.ResourceType),
		ResourceID:   p.cmd.ResourceID,
		Function:     key.function,
		Payload:      p.cmd.Body,
	}

	bridge := t.link.Bridge()
	if bridge == nil {
		t.logger.Info().Str("command", p.cmd.String()).Msg("Bridge session gone, dropping command")
		entry.Outcome = ledger.OutcomeDropped
		t.record(entry)
		return
	}

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			t.logger.Info().Err(err).Str("command", p.cmd.String()).Msg("Rate limit wait aborted, dropping command")
			entry.Outcome = ledger.OutcomeDropped
			entry.Error = err.Error()
			t.record(entry)
			return
		}
	}

	err := bridge.Send(ctx, p.cmd)

	var rejected *hue.BridgeRejected
	switch {
	case err == nil:
		entry.Outcome = ledger.OutcomeSent
		t.logger.Debug().Str("item", p.item).Str("command", p.cmd.String()).Msg("Command sent")
	case errors.As(err, &rejected):
		entry.Outcome = ledger.OutcomeRejected
		entry.Error = err.Error()
		t.logger.Warn().Err(err).Str("item", p.item).Str("command", p.cmd.String()).Msg("Bridge rejected command")
	default:
		entry.Outcome = ledger.OutcomeFailed
		entry.Error = err.Error()
		t.logger.Error().Err(err).Str("item", p.item).Str("command", p.cmd.String()).Msg("Failed to send command")
	}
	t.record(entry)
}

func (t *Translator) record(e ledger.Entry) {
	if t.recorder == nil {
		return
	}
	if err := t.recorder.Append(e); err != nil {
		t.logger.Warn().Err(err).Msg("Failed to record command")
	}
}
