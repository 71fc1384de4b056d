package host

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/gantry-dev/gantry/domain/entities"
	domerrors "github.com/gantry-dev/gantry/domain/errors"
	"github.com/gantry-dev/gantry/domain/ports"
)

// loadWithRetry performs the initial load under the declaration's restart
// budget: Never tries once, Immediate and Exponential try MaxAttempts times
// in total. Configuration problems are permanent and never retried.
func (m *Manager) loadWithRetry(ctx context.Context, rt ports.ExtensionRuntime, cfg entities.ExtensionConfig) (entities.ExtensionID, error) {
	op := func() (entities.ExtensionID, error) {
		id, err := rt.Load(ctx, cfg)
		if err != nil {
			if !retryable(err) {
				return 0, backoff.Permanent(err)
			}
			return 0, err
		}
		return id, nil
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoffFor(cfg.Restart)),
		backoff.WithMaxTries(uint(cfg.Restart.MaxAttempts())),
		backoff.WithNotify(func(err error, wait time.Duration) {
			m.logger.Warn("extension load failed, retrying",
				"extension", cfg.Name,
				"wait", wait,
				"error", err,
			)
		}),
	)
}

// retryable reports whether a load failure is worth another attempt. A bad
// declaration fails the same way every time; transport and handshake
// failures may not.
func retryable(err error) bool {
	return !errors.Is(err, domerrors.ErrInvalidSource)
}

// backoffFor translates a restart declaration into the delay sequence
// applied between attempts.
func backoffFor(strategy entities.RestartStrategy) backoff.BackOff {
	if strategy.Kind == entities.RestartExponential {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = strategy.InitialDelay
		if strategy.MaxDelay > 0 {
			b.MaxInterval = strategy.MaxDelay
		}
		return b
	}
	return &backoff.ZeroBackOff{}
}

// reportFailure begins a restart incident for a dead unit. The first report
// per unit wins; the unit leaves the registry, and the declaration's budget
// is applied on a supervisor goroutine. The crashed run counts as the
// incident's first attempt.
func (m *Manager) reportFailure(u *unit, cause error) {
	m.enqueueAsync(func() {
		meta := m.meta[u.id]
		if meta == nil || m.units[u.id] != u {
			// Unloaded or already superseded; nothing to supervise.
			return
		}
		delete(m.units, u.id)
		meta.LastError = cause.Error()

		if meta.Config.Restart.MaxAttempts() <= 1 {
			meta.Status = entities.StatusFailed
			m.failPermanently(meta, cause)
			return
		}

		meta.Status = entities.StatusRestarting
		m.wg.Add(1)
		go m.superviseRestart(meta.ID, meta.Config, cause)
	})

	// Reap the dead unit off the loop. Its adapter handle may still hold a
	// zombie process or a closed sandbox.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), healthProbeTimeout)
		defer cancel()
		u.stop(ctx)
	}()
}

// superviseRestart drives one incident's reload attempts. Attempt one was
// the run that crashed; the loop spends the rest of the budget.
func (m *Manager) superviseRestart(oldID entities.ExtensionID, cfg entities.ExtensionConfig, cause error) {
	defer m.wg.Done()

	logger := m.logger.With("extension", cfg.Name)
	b := backoffFor(cfg.Restart)
	maxAttempts := cfg.Restart.MaxAttempts()

	for attempt := 2; attempt <= maxAttempts; attempt++ {
		if !sleepContext(m.baseCtx, b.NextBackOff()) {
			return
		}
		logger.Info("restarting extension", "attempt", attempt, "max_attempts", maxAttempts)

		newID, err := m.reload(cfg, oldID)
		if err != nil {
			if errors.Is(err, errIncidentAbandoned) || errors.Is(err, ErrManagerClosed) {
				return
			}
			logger.Warn("restart attempt failed", "attempt", attempt, "error", err)
			cause = err
			continue
		}

		m.publish(entities.NewEvent(entities.EventExtensionRestarted, cfg.Name, newID).
			WithDetail("attempt", attempt))
		logger.Info("extension restarted", "id", uint64(newID), "attempt", attempt)
		return
	}

	exhausted := cause
	m.enqueueAsync(func() {
		meta := m.meta[oldID]
		if meta == nil || meta.Status != entities.StatusRestarting {
			return
		}
		meta.Status = entities.StatusFailed
		meta.LastError = exhausted.Error()
		m.failPermanently(meta, exhausted)
	})
}

// errIncidentAbandoned means the extension was unloaded while its
// supervisor was still retrying.
var errIncidentAbandoned = errors.New("host: restart incident abandoned")

// reload performs one restart attempt: a fresh adapter load with a fresh
// id, then an atomic swap of the registry records. Counters carry across
// restarts; the id and load time do not.
func (m *Manager) reload(cfg entities.ExtensionConfig, oldID entities.ExtensionID) (entities.ExtensionID, error) {
	limits := cfg.Limits.OrDefaults()
	ctx, cancel := context.WithTimeout(m.baseCtx, limits.CallTimeout)
	defer cancel()

	rt, ok := m.runtimes[cfg.Source.Protocol()]
	if !ok {
		return 0, &domerrors.ProtocolError{
			Protocol: string(cfg.Source.Protocol()),
			Msg:      "no runtime registered for this protocol",
		}
	}

	id, err := rt.Load(ctx, cfg)
	if err != nil {
		return 0, err
	}
	u, meta, err := m.assemble(ctx, rt, id, cfg)
	if err != nil {
		_ = rt.Unload(ctx, id)
		return 0, err
	}

	var swapErr error
	if err := m.submit(ctx, func() {
		old := m.meta[oldID]
		if old == nil || old.Status != entities.StatusRestarting {
			swapErr = errIncidentAbandoned
			return
		}
		meta.CallCount = old.CallCount
		meta.ErrorCount = old.ErrorCount
		delete(m.meta, oldID)
		m.meta[id] = meta
		m.units[id] = u
		m.byName[cfg.Name] = id
	}); err != nil {
		u.stop(context.WithoutCancel(ctx))
		return 0, err
	}
	if swapErr != nil {
		u.stop(ctx)
		return 0, swapErr
	}
	return id, nil
}

// failPermanently reports an exhausted incident exactly once. Runs on the
// manager loop.
func (m *Manager) failPermanently(meta *entities.ExtensionMetadata, cause error) {
	m.logger.Error("extension permanently failed",
		"extension", meta.Name,
		"id", uint64(meta.ID),
		"error", cause,
	)
	m.publish(entities.NewEvent(entities.EventExtensionFailed, meta.Name, meta.ID).
		WithDetail("error", cause.Error()))
	m.obs.ExtensionUnloaded(context.Background(), meta.Name)
}

// sleepContext waits out the delay, reporting false when ctx ends first.
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
