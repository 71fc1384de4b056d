// Package program builds runtime-style extensions around a model/update
// loop. An extension declares pure functions over a model type; Attach
// wires them to the init, update, subscriptions and teardown methods the
// host interpreter drives, including the merged-envelope update convention
// and the command and subscription framing. The host owns the state
// between calls, so the functions here receive the model, return the next
// one, and hold nothing.
package program

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gantry-dev/gantry"
	"github.com/gantry-dev/gantry/envelope"
	"github.com/gantry-dev/gantry/wireformat"
)

// Msg is one message entering the update loop. Kind mirrors the envelope
// header kind stamped by the host: subscription fires, command results, and
// anything an external caller posted into the mailbox.
type Msg struct {
	// Kind is the envelope kind, empty for plain messages.
	Kind string

	// Envelope carries the message content.
	Envelope envelope.Envelope
}

// IsSubscription reports whether the message is a subscription fire.
func (m Msg) IsSubscription() bool { return m.Kind == wireformat.KindSubscription }

// IsCommandResult reports whether the message is a completed command.
func (m Msg) IsCommandResult() bool { return m.Kind == wireformat.KindCommandResult }

// AsSubscription decodes a subscription fire. The host echoes the declared
// payload verbatim, so the Payload field is whatever the subscription was
// registered with.
func (m Msg) AsSubscription() (wireformat.SubscriptionFiredWire, error) {
	if !m.IsSubscription() {
		return wireformat.SubscriptionFiredWire{}, fmt.Errorf("program: message kind %q is not a subscription fire", m.Kind)
	}
	return envelope.AsJSON[wireformat.SubscriptionFiredWire](m.Envelope)
}

// AsCommandResult decodes a completed command. Exactly one of Result and
// Error is set; Error carries the host-side failure.
func (m Msg) AsCommandResult() (wireformat.CommandResultWire, error) {
	if !m.IsCommandResult() {
		return wireformat.CommandResultWire{}, fmt.Errorf("program: message kind %q is not a command result", m.Kind)
	}
	return envelope.AsJSON[wireformat.CommandResultWire](m.Envelope)
}

// DecodeMsg decodes a plain message's JSON content into T.
func DecodeMsg[T any](m Msg) (T, error) {
	return envelope.AsJSON[T](m.Envelope)
}

// Cmd is one instruction for the host to run after the current call
// returns. The host executes it against its function surface and feeds the
// result back into update as a command-result message carrying the same id.
type Cmd struct {
	wire wireformat.CommandWire
}

// NewCmd builds a command invoking the named host function. A nil payload
// sends no arguments; anything else must marshal to JSON.
func NewCmd(name string, payload any) (Cmd, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Cmd{}, fmt.Errorf("program: encode %s command payload: %w", name, err)
		}
		raw = data
	}
	return Cmd{wire: wireformat.CommandWire{
		ID:      uuid.NewString(),
		Name:    name,
		Payload: raw,
	}}, nil
}

// MustCmd is NewCmd for payloads known to marshal. It panics on error and
// suits literal payloads built in init and update bodies.
func MustCmd(name string, payload any) Cmd {
	c, err := NewCmd(name, payload)
	if err != nil {
		panic(err)
	}
	return c
}

// ID returns the correlation id the matching command result will carry.
func (c Cmd) ID() string { return c.wire.ID }

// Name returns the host function the command invokes.
func (c Cmd) Name() string { return c.wire.Name }

// Sub is one entry in the declared subscription set. The host diffs
// declarations by id between calls: new ids start, missing ids cancel,
// unchanged ids keep running undisturbed. Declaring a stable set every call
// is therefore free.
type Sub struct {
	wire wireformat.SubscriptionWire
}

// Every declares a timer subscription firing at the given interval. The
// payload, when non-nil, must marshal to JSON and is echoed verbatim in
// every fire.
func Every(id string, interval time.Duration, payload any) Sub {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			panic(fmt.Sprintf("program: encode %s subscription payload: %v", id, err))
		}
		raw = data
	}
	return Sub{wire: wireformat.SubscriptionWire{
		ID:         id,
		Kind:       wireformat.SubscriptionTimer,
		IntervalMs: interval.Milliseconds(),
		Payload:    raw,
	}}
}

// Watch declares a path watch polled at the given interval. The host fires
// whenever the path's modification time or size changes.
func Watch(id, path string, interval time.Duration) Sub {
	return Sub{wire: wireformat.SubscriptionWire{
		ID:         id,
		Kind:       wireformat.SubscriptionWatch,
		IntervalMs: interval.Milliseconds(),
		Path:       path,
	}}
}

// Program is the pure half of a runtime-style extension over model type M.
// M must round-trip through JSON; the host stores it between calls as an
// opaque envelope.
type Program[M any] struct {
	// Init builds the first model from the host-supplied flags. Returned
	// commands are dispatched after the model commits. Required.
	Init func(ctx context.Context, flags gantry.Config) (M, []Cmd, error)

	// Update folds one message into the model. Required.
	Update func(ctx context.Context, msg Msg, model M) (M, []Cmd, error)

	// Subscriptions declares the wanted subscription set for a model. Nil
	// means the extension has none and the host stops asking after the
	// first query.
	Subscriptions func(model M) []Sub

	// OnTeardown runs before the host discards the extension. Optional and
	// best effort; the model passed is the last committed one.
	OnTeardown func(ctx context.Context, model M) error
}

// Attach registers the program's loop methods on the extension and marks
// its manifest as a runtime program. The extension keeps any directly
// registered methods alongside the loop.
func Attach[M any](e *gantry.Extension, p Program[M]) {
	if p.Init == nil {
		panic("program: Attach requires an Init func")
	}
	if p.Update == nil {
		panic("program: Attach requires an Update func")
	}
	e.EnableProgram()

	e.HandleEnvelope(wireformat.MethodInit, func(ctx context.Context, params envelope.Envelope) (envelope.Envelope, error) {
		flags, err := decodeFlags(params)
		if err != nil {
			return envelope.Envelope{}, err
		}
		model, cmds, err := p.Init(ctx, flags)
		if err != nil {
			return envelope.Envelope{}, err
		}
		return modelResult(model, cmds)
	}, gantry.WithDescription("build the initial model from host flags"))

	e.HandleEnvelope(wireformat.MethodUpdate, func(ctx context.Context, params envelope.Envelope) (envelope.Envelope, error) {
		msg, model, err := splitUpdateParams[M](params)
		if err != nil {
			return envelope.Envelope{}, err
		}
		next, cmds, err := p.Update(ctx, msg, model)
		if err != nil {
			return envelope.Envelope{}, err
		}
		return modelResult(next, cmds)
	}, gantry.WithDescription("fold one message into the model"))

	// No Subscriptions func means no handler: the host's method-not-found
	// probe then settles the question once instead of on every commit.
	if p.Subscriptions != nil {
		e.HandleEnvelope(wireformat.MethodSubscriptions, func(ctx context.Context, params envelope.Envelope) (envelope.Envelope, error) {
			model, err := envelope.AsJSON[M](params)
			if err != nil {
				return envelope.Envelope{}, fmt.Errorf("program: decode model for subscriptions: %w", err)
			}
			subs := p.Subscriptions(model)
			wires := make([]wireformat.SubscriptionWire, 0, len(subs))
			for _, s := range subs {
				wires = append(wires, s.wire)
			}
			return envelope.JSON(wireformat.SubscriptionsResultWire{Subs: wires})
		}, gantry.WithDescription("declare the wanted subscription set"))
	}

	e.HandleEnvelope(wireformat.MethodTeardown, func(ctx context.Context, params envelope.Envelope) (envelope.Envelope, error) {
		if p.OnTeardown != nil {
			var model M
			if m, err := envelope.AsJSON[M](params); err == nil {
				model = m
			}
			if err := p.OnTeardown(ctx, model); err != nil {
				return envelope.Envelope{}, err
			}
		}
		return envelope.JSON(struct{}{})
	}, gantry.WithDescription("release resources before unload"))
}

// decodeFlags reads the init flags envelope into a Config. Hosts send
// JSON null when the extension entry declared no flags.
func decodeFlags(params envelope.Envelope) (gantry.Config, error) {
	flags, err := envelope.AsJSON[gantry.Config](params)
	if err != nil {
		return nil, fmt.Errorf("program: decode init flags: %w", err)
	}
	if flags == nil {
		flags = gantry.Config{}
	}
	return flags, nil
}

// splitUpdateParams unpacks the merged update envelope: msg and model ride
// as complete encoded envelopes so their headers survive the round trip.
func splitUpdateParams[M any](params envelope.Envelope) (Msg, M, error) {
	var model M
	merged, err := envelope.AsJSON[wireformat.ModelUpdateWire](params)
	if err != nil {
		return Msg{}, model, fmt.Errorf("program: decode update params: %w", err)
	}
	msgEnv, err := envelope.Decode(merged.Msg)
	if err != nil {
		return Msg{}, model, fmt.Errorf("program: decode update msg envelope: %w", err)
	}
	modelEnv, err := envelope.Decode(merged.Model)
	if err != nil {
		return Msg{}, model, fmt.Errorf("program: decode update model envelope: %w", err)
	}
	model, err = envelope.AsJSON[M](modelEnv)
	if err != nil {
		return Msg{}, model, fmt.Errorf("program: decode model: %w", err)
	}
	return Msg{Kind: msgEnv.Header.Kind, Envelope: msgEnv}, model, nil
}

// modelResult frames the next model and its commands as a {model, cmds}
// reply. The model travels as a complete encoded envelope.
func modelResult[M any](model M, cmds []Cmd) (envelope.Envelope, error) {
	modelEnv, err := envelope.JSON(model)
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("program: encode model: %w", err)
	}
	raw, err := envelope.Encode(modelEnv)
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("program: encode model envelope: %w", err)
	}
	wires := make([]wireformat.CommandWire, 0, len(cmds))
	for _, c := range cmds {
		wires = append(wires, c.wire)
	}
	return envelope.JSON(wireformat.ModelResultWire{Model: raw, Cmds: wires})
}
