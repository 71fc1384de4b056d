// Package interpreter runs the model/update loop of runtime-style
// extensions. The extension owns the pure functions (init, update,
// subscriptions); the interpreter owns the state between calls: it holds
// the current model, replays it into every update, dispatches the commands
// each reply requests, and keeps the declared subscription set running on
// host timers. One interpreter belongs to exactly one isolation unit and
// is driven solely from that unit's goroutine; it is not safe for
// concurrent use.
package interpreter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gantry-dev/gantry/domain/entities"
	domerrors "github.com/gantry-dev/gantry/domain/errors"
	"github.com/gantry-dev/gantry/domain/ports"
	"github.com/gantry-dev/gantry/envelope"
	"github.com/gantry-dev/gantry/wireformat"
)

// State is the lifecycle position of an interpreter. Transitions only move
// forward: Uninitialized to Ready on a successful Init, Ready to Updating
// and back for the duration of each Update call, and any state to
// Terminated on Teardown.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateUpdating
	StateTerminated
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateUpdating:
		return "updating"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Lifecycle misuse errors.
var (
	ErrAlreadyInitialized = errors.New("interpreter: already initialized")
	ErrNotInitialized     = errors.New("interpreter: not initialized")
	ErrTerminated         = errors.New("interpreter: terminated")
)

// DeliverFunc posts a message back into the owning unit's mailbox, where it
// re-enters the loop as the msg of a future update. It reports false when
// the message was dropped. Implementations must be safe for concurrent use,
// must not block, and must tolerate calls after the unit has shut down.
type DeliverFunc func(msg envelope.Envelope) bool

// CommandDispatcher executes one tagged command against the host function
// surface and returns the raw result payload. *hostfuncs.HandlerRegistry
// satisfies it.
type CommandDispatcher interface {
	Invoke(ctx context.Context, name string, payload []byte) ([]byte, error)
}

// Interpreter drives one extension's loop through a protocol adapter. The
// zero value is not usable; construct with New.
type Interpreter struct {
	runtime  ports.ExtensionRuntime
	id       entities.ExtensionID
	deliver  DeliverFunc
	dispatch CommandDispatcher
	logger   *slog.Logger

	state State
	model envelope.Envelope

	// noSubs is set once the extension answers subscriptions with method
	// not found, so the loop stops asking.
	noSubs bool
	subs   map[string]*runningSub

	// baseCtx bounds subscription tickers and in-flight commands to the
	// interpreter's lifetime rather than to any single call.
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(i *Interpreter) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// WithDispatcher sets the host function surface commands are executed
// against. Without one, every command fails with an internal error result.
func WithDispatcher(d CommandDispatcher) Option {
	return func(i *Interpreter) { i.dispatch = d }
}

// New creates an interpreter for one loaded extension. deliver must be
// non-nil: command results and subscription fires have nowhere else to go.
func New(runtime ports.ExtensionRuntime, id entities.ExtensionID, deliver DeliverFunc, opts ...Option) (*Interpreter, error) {
	if runtime == nil {
		return nil, errors.New("interpreter: nil runtime")
	}
	if deliver == nil {
		return nil, errors.New("interpreter: nil deliver func")
	}
	ctx, cancel := context.WithCancel(context.Background())
	i := &Interpreter{
		runtime: runtime,
		id:      id,
		deliver: deliver,
		logger:  slog.Default(),
		subs:    make(map[string]*runningSub),
		baseCtx: ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(i)
	}
	i.logger = i.logger.With("extension_id", uint64(id))
	return i, nil
}

// State returns the current lifecycle state.
func (i *Interpreter) State() State { return i.state }

// Model returns the last committed model envelope. Zero before Init.
func (i *Interpreter) Model() envelope.Envelope { return i.model }

// Init performs the extension's init call with the given flags, commits the
// returned model, dispatches its commands, and starts its initial
// subscriptions. It succeeds at most once; a failed Init leaves the
// interpreter Uninitialized and may be retried.
func (i *Interpreter) Init(ctx context.Context, flags envelope.Envelope) ([]wireformat.CommandWire, error) {
	switch i.state {
	case StateTerminated:
		return nil, ErrTerminated
	case StateReady, StateUpdating:
		return nil, ErrAlreadyInitialized
	}

	res, err := i.runtime.Call(ctx, i.id, wireformat.MethodInit, flags)
	if err != nil {
		return nil, err
	}
	model, cmds, err := decodeModelResult(res, "decode init result")
	if err != nil {
		return nil, err
	}

	i.model = model
	i.state = StateReady
	i.dispatchCommands(cmds)
	i.syncSubscriptions(ctx)
	return cmds, nil
}

// Update feeds one message through the extension's update function. The
// current model rides along: both msg and model are encoded as complete
// envelope JSON inside one merged application/json envelope. The model is
// replaced only when the call succeeds and its reply decodes; on any
// failure the last good model is preserved and the error surfaces to the
// caller.
func (i *Interpreter) Update(ctx context.Context, msg envelope.Envelope) ([]wireformat.CommandWire, error) {
	switch i.state {
	case StateTerminated:
		return nil, ErrTerminated
	case StateUninitialized:
		return nil, ErrNotInitialized
	}

	merged, err := mergeUpdateParams(msg, i.model)
	if err != nil {
		return nil, err
	}

	i.state = StateUpdating
	defer func() { i.state = StateReady }()

	res, err := i.runtime.Call(ctx, i.id, wireformat.MethodUpdate, merged)
	if err != nil {
		return nil, err
	}
	model, cmds, err := decodeModelResult(res, "decode update result")
	if err != nil {
		return nil, err
	}

	i.model = model
	i.dispatchCommands(cmds)
	i.syncSubscriptions(ctx)
	return cmds, nil
}

// Subscriptions queries the extension with the current model and applies
// the reply: new ids start, missing ids cancel, unchanged ids keep their
// running timers. It returns the active set after the diff, sorted by id.
// Extensions that do not implement the method are treated as declaring an
// empty set.
func (i *Interpreter) Subscriptions(ctx context.Context) ([]wireformat.SubscriptionWire, error) {
	switch i.state {
	case StateTerminated:
		return nil, ErrTerminated
	case StateUninitialized:
		return nil, ErrNotInitialized
	}
	if err := i.querySubscriptions(ctx); err != nil {
		return nil, err
	}
	return i.Active(), nil
}

// Teardown cancels every running subscription and in-flight command, sends
// the best-effort teardown call, and transitions to Terminated. It is
// idempotent; the returned error is informational and the interpreter is
// terminated regardless.
func (i *Interpreter) Teardown(ctx context.Context) error {
	if i.state == StateTerminated {
		return nil
	}
	wasReady := i.state != StateUninitialized
	i.state = StateTerminated

	i.cancel()
	for id, rs := range i.subs {
		rs.cancel()
		delete(i.subs, id)
	}
	i.wg.Wait()

	if !wasReady {
		return nil
	}
	empty, err := envelope.JSON(struct{}{})
	if err != nil {
		return err
	}
	if _, err := i.runtime.Call(ctx, i.id, wireformat.MethodTeardown, empty); err != nil {
		if errors.Is(err, domerrors.ErrMethodNotFound) {
			return nil
		}
		return fmt.Errorf("teardown: %w", err)
	}
	return nil
}

// mergeUpdateParams builds the merged update envelope. Msg and model are
// complete envelope JSON objects so headers survive the round trip.
func mergeUpdateParams(msg, model envelope.Envelope) (envelope.Envelope, error) {
	msgRaw, err := envelope.Encode(msg)
	if err != nil {
		return envelope.Envelope{}, &domerrors.SerializationError{Err: err, Operation: "encode update msg"}
	}
	modelRaw, err := envelope.Encode(model)
	if err != nil {
		return envelope.Envelope{}, &domerrors.SerializationError{Err: err, Operation: "encode update model"}
	}
	merged, err := envelope.JSON(wireformat.ModelUpdateWire{Msg: msgRaw, Model: modelRaw})
	if err != nil {
		return envelope.Envelope{}, &domerrors.SerializationError{Err: err, Operation: "encode update params"}
	}
	return merged, nil
}

// decodeModelResult unpacks a {model, cmds} reply and the model envelope
// inside it.
func decodeModelResult(res envelope.Envelope, op string) (envelope.Envelope, []wireformat.CommandWire, error) {
	out, err := envelope.AsJSON[wireformat.ModelResultWire](res)
	if err != nil {
		return envelope.Envelope{}, nil, &domerrors.SerializationError{Err: err, Operation: op}
	}
	if len(out.Model) == 0 {
		return envelope.Envelope{}, nil, &domerrors.SerializationError{
			Err:       errors.New("reply missing model"),
			Operation: op,
		}
	}
	model, err := envelope.Decode(out.Model)
	if err != nil {
		return envelope.Envelope{}, nil, &domerrors.SerializationError{Err: err, Operation: op}
	}
	return model, out.Cmds, nil
}

// dispatchCommands launches one goroutine per command against the host
// function surface. Results re-enter the loop through deliver; the command
// outlives the Init or Update call that requested it, so it runs on the
// interpreter's base context.
func (i *Interpreter) dispatchCommands(cmds []wireformat.CommandWire) {
	for _, cmd := range cmds {
		if cmd.Name == "" {
			i.logger.Warn("dropping command without a name", "command_id", cmd.ID)
			continue
		}
		i.wg.Add(1)
		go func(cmd wireformat.CommandWire) {
			defer i.wg.Done()
			i.runCommand(cmd)
		}(cmd)
	}
}

func (i *Interpreter) runCommand(cmd wireformat.CommandWire) {
	result := wireformat.CommandResultWire{ID: cmd.ID, Name: cmd.Name}
	if i.dispatch == nil {
		result.Error = &wireformat.ErrorWire{
			Code:    domerrors.CodeInternalError,
			Message: "no host function surface configured",
		}
	} else {
		out, err := i.dispatch.Invoke(i.baseCtx, cmd.Name, cmd.Payload)
		if err != nil {
			result.Error = &wireformat.ErrorWire{Code: domerrors.CodeOf(err), Message: err.Error()}
		} else {
			result.Result = out
		}
	}

	msg, err := envelope.JSON(result)
	if err != nil {
		i.logger.Error("encode command result", "command", cmd.Name, "error", err)
		return
	}
	if !i.deliver(msg.WithKind(wireformat.KindCommandResult)) {
		i.logger.Warn("command result dropped", "command", cmd.Name, "command_id", cmd.ID)
	}
}
