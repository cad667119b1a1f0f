package coproc

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/atrniv/coproc/protocol"
	"github.com/rs/zerolog"
	uuid "github.com/satori/go.uuid"
)

// ErrUnknownScript is returned when dispatching to an id that is not
// registered.
var ErrUnknownScript = errors.New("coproc: unknown script")

// ErrDuplicateScript is returned when registering an id that is already in
// use.
var ErrDuplicateScript = errors.New("coproc: script id already registered")

// Engine dispatches batches to registered scripts. Different scripts may run
// concurrently; each script still sees its batches one at a time.
type Engine struct {
	scripts map[uuid.UUID]*Script
	log     zerolog.Logger
	probe   *Probe
	sync.RWMutex
}

// Reply pairs a script's result with the error, if any, it returned.
type Reply struct {
	Result Result
	Err    error
}

func NewEngine(logger zerolog.Logger, probe *Probe) *Engine {
	return &Engine{
		scripts: map[uuid.UUID]*Script{},
		log:     logger,
		probe:   probe,
	}
}

// Register wraps t in a new Script sharing the engine's logger and probe,
// unless opts override them, and returns its id. A script already registered
// under the same id is left in place.
func (e *Engine) Register(t Transform, opts ...Option) (uuid.UUID, error) {
	script := NewScript(t, append([]Option{WithLogger(e.log), WithProbe(e.probe)}, opts...)...)
	e.Lock()
	if _, ok := e.scripts[script.ID]; ok {
		e.Unlock()
		e.log.Error().Str("script_id", script.ID.String()).Msg("Script id already registered")
		return script.ID, ErrDuplicateScript
	}
	e.scripts[script.ID] = script
	active := len(e.scripts)
	e.Unlock()
	e.log.Info().Str("script_id", script.ID.String()).Int("active", active).Msg("Script registered")
	return script.ID, nil
}

// Deregister removes a script from dispatch. It reports whether the script
// was registered.
func (e *Engine) Deregister(id uuid.UUID) bool {
	e.Lock()
	_, ok := e.scripts[id]
	delete(e.scripts, id)
	active := len(e.scripts)
	e.Unlock()
	if ok {
		e.log.Info().Str("script_id", id.String()).Int("active", active).Msg("Script deregistered")
	}
	return ok
}

func (e *Engine) Script(id uuid.UUID) (*Script, bool) {
	e.RLock()
	defer e.RUnlock()
	script, ok := e.scripts[id]
	return script, ok
}

// Scripts returns the registered ids in a stable order.
func (e *Engine) Scripts() []uuid.UUID {
	e.RLock()
	ids := make([]uuid.UUID, 0, len(e.scripts))
	for id := range e.scripts {
		ids = append(ids, id)
	}
	e.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// Process runs one framed batch through a single script.
func (e *Engine) Process(ctx context.Context, id uuid.UUID, data []byte) (Result, error) {
	script, ok := e.Script(id)
	if !ok {
		return Result{}, ErrUnknownScript
	}
	result, err := script.ProcessBatch(ctx, data)
	e.settle(id, result, err)
	return result, err
}

// ProcessAll decodes data once and hands the batch to every registered
// script concurrently. Malformed input fails the whole call.
func (e *Engine) ProcessAll(ctx context.Context, data []byte) (map[uuid.UUID]Reply, error) {
	batch, err := protocol.DecodeRecordBatch(data)
	if err != nil {
		e.probe.decodeError()
		e.log.Error().Err(err).Int("size", len(data)).Msg("Rejected malformed record batch")
		return nil, err
	}

	e.RLock()
	scripts := make([]*Script, 0, len(e.scripts))
	for _, script := range e.scripts {
		scripts = append(scripts, script)
	}
	e.RUnlock()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		replies = make(map[uuid.UUID]Reply, len(scripts))
	)
	for _, script := range scripts {
		wg.Add(1)
		go func(script *Script) {
			defer wg.Done()
			result, err := script.ProcessRecordBatch(ctx, batch)
			e.settle(script.ID, result, err)
			mu.Lock()
			replies[script.ID] = Reply{Result: result, Err: err}
			mu.Unlock()
		}(script)
	}
	wg.Wait()
	return replies, nil
}

// settle drops scripts that asked to be removed.
func (e *Engine) settle(id uuid.UUID, result Result, err error) {
	if result.Status == StatusDeregistered || errors.Is(err, ErrScriptDeregistered) {
		e.Deregister(id)
	}
}
