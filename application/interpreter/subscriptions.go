package interpreter

import (
	"context"
	"errors"
	"os"
	"sort"
	"time"

	domerrors "github.com/gantry-dev/gantry/domain/errors"
	"github.com/gantry-dev/gantry/envelope"
	"github.com/gantry-dev/gantry/wireformat"
)

// DefaultInterval is used when a subscription declares no interval or a
// non-positive one.
const DefaultInterval = time.Second

// runningSub is one live subscription. The goroutine behind it exits when
// cancel fires; the definition is what the diff compares against.
type runningSub struct {
	def    wireformat.SubscriptionWire
	cancel context.CancelFunc
}

// Active returns the definitions of every running subscription, sorted by
// id.
func (i *Interpreter) Active() []wireformat.SubscriptionWire {
	out := make([]wireformat.SubscriptionWire, 0, len(i.subs))
	for _, rs := range i.subs {
		out = append(out, rs.def)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

// syncSubscriptions refreshes the subscription set after a committed init
// or update. A failed query keeps the previous set running and is retried
// on the next update, so it logs instead of failing the loop.
func (i *Interpreter) syncSubscriptions(ctx context.Context) {
	if err := i.querySubscriptions(ctx); err != nil {
		i.logger.Warn("subscription query failed", "error", err)
	}
}

// querySubscriptions asks the extension for its subscription set given the
// current model and applies the diff. An extension without the method is
// remembered and never asked again.
func (i *Interpreter) querySubscriptions(ctx context.Context) error {
	if i.noSubs {
		return nil
	}

	res, err := i.runtime.Call(ctx, i.id, wireformat.MethodSubscriptions, i.model)
	if err != nil {
		if errors.Is(err, domerrors.ErrMethodNotFound) {
			i.noSubs = true
			i.applySubs(nil)
			return nil
		}
		return err
	}
	out, err := envelope.AsJSON[wireformat.SubscriptionsResultWire](res)
	if err != nil {
		return &domerrors.SerializationError{Err: err, Operation: "decode subscriptions result"}
	}
	i.applySubs(out.Subs)
	return nil
}

// applySubs diffs the declared set against the running one by id. Unchanged
// entries keep their timers untouched, so re-declaring the same set is a
// no-op. A re-declared id with a different definition is restarted.
func (i *Interpreter) applySubs(defs []wireformat.SubscriptionWire) {
	declared := make(map[string]bool, len(defs))
	for _, def := range defs {
		if def.ID == "" {
			i.logger.Warn("dropping subscription without an id", "kind", def.Kind)
			continue
		}
		if declared[def.ID] {
			i.logger.Warn("dropping duplicate subscription", "subscription", def.ID)
			continue
		}
		declared[def.ID] = true

		if rs, ok := i.subs[def.ID]; ok {
			if subDefEqual(rs.def, def) {
				continue
			}
			rs.cancel()
			delete(i.subs, def.ID)
		}
		i.startSub(def)
	}

	for id, rs := range i.subs {
		if !declared[id] {
			rs.cancel()
			delete(i.subs, id)
		}
	}
}

func subDefEqual(a, b wireformat.SubscriptionWire) bool {
	return a.ID == b.ID &&
		a.Kind == b.Kind &&
		a.IntervalMs == b.IntervalMs &&
		a.Path == b.Path &&
		string(a.Payload) == string(b.Payload)
}

func (i *Interpreter) startSub(def wireformat.SubscriptionWire) {
	interval := time.Duration(def.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = DefaultInterval
	}

	ctx, cancel := context.WithCancel(i.baseCtx)
	switch def.Kind {
	case wireformat.SubscriptionTimer:
		i.wg.Add(1)
		go func() {
			defer i.wg.Done()
			i.runTimer(ctx, def, interval)
		}()
	case wireformat.SubscriptionWatch:
		// The baseline signature is taken before the goroutine starts so
		// a change racing the sync is never missed.
		initial := statSignature(def.Path)
		i.wg.Add(1)
		go func() {
			defer i.wg.Done()
			i.runWatch(ctx, def, interval, initial)
		}()
	default:
		// Kept in the map so the unknown kind is logged once, not on
		// every sync.
		i.logger.Warn("ignoring subscription with unknown kind",
			"subscription", def.ID, "kind", def.Kind)
	}
	i.subs[def.ID] = &runningSub{def: def, cancel: cancel}
}

func (i *Interpreter) runTimer(ctx context.Context, def wireformat.SubscriptionWire, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			i.fire(def)
		}
	}
}

// runWatch polls the subscribed path on the declared interval and fires
// when its size or mtime changes, including appearing and disappearing.
func (i *Interpreter) runWatch(ctx context.Context, def wireformat.SubscriptionWire, interval time.Duration, prev watchSignature) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur := statSignature(def.Path)
			if cur != prev {
				prev = cur
				i.fire(def)
			}
		}
	}
}

type watchSignature struct {
	exists  bool
	size    int64
	modTime int64
}

func statSignature(path string) watchSignature {
	fi, err := os.Stat(path)
	if err != nil {
		return watchSignature{}
	}
	return watchSignature{exists: true, size: fi.Size(), modTime: fi.ModTime().UnixNano()}
}

// fire delivers one subscription message into the mailbox. Drops are
// logged, not retried; the next tick brings a fresh one.
func (i *Interpreter) fire(def wireformat.SubscriptionWire) {
	msg, err := envelope.JSON(wireformat.SubscriptionFiredWire{
		ID:      def.ID,
		Kind:    def.Kind,
		Path:    def.Path,
		Payload: def.Payload,
	})
	if err != nil {
		i.logger.Error("encode subscription message", "subscription", def.ID, "error", err)
		return
	}
	if !i.deliver(msg.WithKind(wireformat.KindSubscription)) {
		i.logger.Warn("subscription message dropped", "subscription", def.ID)
	}
}
