package host

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gantry-dev/gantry/application/interpreter"
	"github.com/gantry-dev/gantry/domain/entities"
	domerrors "github.com/gantry-dev/gantry/domain/errors"
	"github.com/gantry-dev/gantry/domain/ports"
	"github.com/gantry-dev/gantry/envelope"
)

// DefaultMailboxSize bounds each unit's mailbox.
const DefaultMailboxSize = 64

// healthProbeTimeout bounds the liveness probe that follows a failed call.
const healthProbeTimeout = 2 * time.Second

type msgKind int

const (
	msgCall msgKind = iota
	msgProgram
)

type unitMsg struct {
	kind   msgKind
	ctx    context.Context
	method string
	params envelope.Envelope
	reply  chan callReply
}

type callReply struct {
	result envelope.Envelope
	err    error
}

// unit is the isolation boundary around one loaded extension: a single
// goroutine draining a bounded FIFO mailbox. Calls and program messages for
// the extension serialize here; units share no state with each other.
type unit struct {
	id      entities.ExtensionID
	name    string
	runtime ports.ExtensionRuntime
	interp  *interpreter.Interpreter // nil unless the extension hosts a program loop
	logger  *slog.Logger

	mailbox chan unitMsg
	baseCtx context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	onFailure func(err error)
	failOnce  sync.Once
}

// newUnit builds and starts the isolation unit for a loaded extension.
// Extensions that declare the program surface get an interpreter, and its
// init runs here so a program that cannot start fails the load.
func (m *Manager) newUnit(ctx context.Context, rt ports.ExtensionRuntime, id entities.ExtensionID, cfg entities.ExtensionConfig, manifest entities.ExtensionManifest) (*unit, error) {
	nameLogger := m.logger.With("extension", cfg.Name)
	base, cancel := context.WithCancel(context.Background())
	u := &unit{
		id:      id,
		name:    cfg.Name,
		runtime: rt,
		logger:  nameLogger.With("id", uint64(id)),
		mailbox: make(chan unitMsg, DefaultMailboxSize),
		baseCtx: base,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	u.onFailure = func(err error) { m.reportFailure(u, err) }

	if manifest.Type == entities.ExtensionTypeRuntime || manifest.Flags.Program {
		opts := []interpreter.Option{interpreter.WithLogger(nameLogger)}
		if m.hostFns != nil {
			opts = append(opts, interpreter.WithDispatcher(m.hostFns))
		}
		interp, err := interpreter.New(rt, id, u.deliver, opts...)
		if err != nil {
			cancel()
			return nil, err
		}
		u.interp = interp

		flags := envelope.New(envelope.ContentTypeJSON, initFlags(cfg))
		if _, err := interp.Init(ctx, flags); err != nil {
			cancel()
			return nil, &domerrors.InitializationFailedError{Extension: cfg.Name, Err: err}
		}
	}

	go u.run()
	return u, nil
}

// initFlags is the init payload for a program extension: the declaration's
// opaque config, or JSON null when none was declared.
func initFlags(cfg entities.ExtensionConfig) []byte {
	if len(cfg.Config) > 0 {
		return []byte(cfg.Config)
	}
	return []byte("null")
}

func (u *unit) run() {
	defer close(u.done)
	for {
		select {
		case <-u.baseCtx.Done():
			return
		case msg := <-u.mailbox:
			switch msg.kind {
			case msgCall:
				u.handleCall(msg)
			case msgProgram:
				u.handleProgram(msg)
			}
		}
	}
}

// call submits one method call through the mailbox and waits for its reply.
// A late reply after ctx expires is silently discarded.
func (u *unit) call(ctx context.Context, method string, params envelope.Envelope) (envelope.Envelope, error) {
	reply := make(chan callReply, 1)
	msg := unitMsg{kind: msgCall, ctx: ctx, method: method, params: params, reply: reply}

	select {
	case u.mailbox <- msg:
	case <-ctx.Done():
		return envelope.Envelope{}, ctx.Err()
	case <-u.done:
		return envelope.Envelope{}, &domerrors.ExtensionError{Extension: u.name, Method: method, Msg: "extension unit stopped"}
	}

	select {
	case r := <-reply:
		return r.result, r.err
	case <-ctx.Done():
		return envelope.Envelope{}, ctx.Err()
	case <-u.done:
		return envelope.Envelope{}, &domerrors.ExtensionError{Extension: u.name, Method: method, Msg: "extension unit stopped"}
	}
}

func (u *unit) handleCall(msg unitMsg) {
	// Unloading the extension cancels the in-flight call as well.
	callCtx, cancelCall := context.WithCancel(msg.ctx)
	stop := context.AfterFunc(u.baseCtx, cancelCall)
	result, err := u.runtime.Call(callCtx, u.id, msg.method, msg.params)
	stop()
	cancelCall()

	msg.reply <- callReply{result: result, err: err}
	if err != nil {
		u.checkLiveness(err)
	}
}

func (u *unit) handleProgram(msg unitMsg) {
	if u.interp == nil {
		return
	}
	if _, err := u.interp.Update(u.baseCtx, msg.params); err != nil {
		u.logger.Warn("program update failed", "error", err)
		u.checkLiveness(err)
	}
}

// deliver feeds command results and subscription fires back into the
// mailbox as future program messages. It never blocks; a full mailbox drops
// the message.
func (u *unit) deliver(msg envelope.Envelope) bool {
	select {
	case u.mailbox <- unitMsg{kind: msgProgram, params: msg}:
		return true
	case <-u.baseCtx.Done():
		return false
	default:
		u.logger.Warn("mailbox full, dropping program message")
		return false
	}
}

// checkLiveness distinguishes a failed call from a dead extension. Only an
// offline report counts as a unit failure; method errors and timeouts
// against a live transport stay with the caller.
func (u *unit) checkLiveness(callErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), healthProbeTimeout)
	defer cancel()
	if report := u.runtime.HealthCheck(ctx, u.id); report.Status != entities.HealthOffline {
		return
	}
	u.fail(callErr)
}

// fail reports the unit dead exactly once. The report runs off the unit
// goroutine so the mailbox keeps draining while the supervisor takes over.
func (u *unit) fail(err error) {
	u.failOnce.Do(func() {
		u.logger.Error("extension unit failed", "error", err)
		if u.onFailure != nil {
			go u.onFailure(err)
		}
	})
}

// stop tears the unit down: cancels in-flight work, runs program teardown,
// and unloads the extension from its adapter.
func (u *unit) stop(ctx context.Context) {
	u.cancel()
	<-u.done

	if u.interp != nil {
		if err := u.interp.Teardown(ctx); err != nil {
			u.logger.Warn("program teardown failed", "error", err)
		}
	}
	if err := u.runtime.Unload(ctx, u.id); err != nil {
		u.logger.Warn("unload failed", "error", err)
	}
}
