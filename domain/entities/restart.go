package entities

import "time"

// RestartKind selects the supervision policy applied after an extension
// failure.
type RestartKind string

const (
	// RestartNever gives up after the first failure.
	RestartNever RestartKind = "never"

	// RestartImmediate retries without delay, up to MaxRetries times.
	RestartImmediate RestartKind = "immediate"

	// RestartExponential retries with exponentially growing delays,
	// starting at InitialDelay and capped at MaxDelay, up to MaxRetries
	// times.
	RestartExponential RestartKind = "exponential"
)

// RestartStrategy declares how the manager responds when an extension
// fails. The retry budget counts retries, not attempts: MaxRetries of 3
// yields four attempts in total. The budget is fresh for every new
// failure incident.
type RestartStrategy struct {
	Kind         RestartKind   `json:"kind" yaml:"kind"`
	MaxRetries   int           `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	InitialDelay time.Duration `json:"initial_delay,omitempty" yaml:"initial_delay,omitempty"`
	MaxDelay     time.Duration `json:"max_delay,omitempty" yaml:"max_delay,omitempty"`
}

// NeverRestart returns the policy that gives up on first failure.
func NeverRestart() RestartStrategy {
	return RestartStrategy{Kind: RestartNever}
}

// ImmediateRestart returns the policy that retries without delay.
func ImmediateRestart(maxRetries int) RestartStrategy {
	return RestartStrategy{Kind: RestartImmediate, MaxRetries: maxRetries}
}

// ExponentialRestart returns the policy that retries with growing delays.
func ExponentialRestart(initial, max time.Duration, maxRetries int) RestartStrategy {
	return RestartStrategy{
		Kind:         RestartExponential,
		MaxRetries:   maxRetries,
		InitialDelay: initial,
		MaxDelay:     max,
	}
}

// MaxAttempts returns the total number of load attempts the policy allows
// for one incident, including the first.
func (r RestartStrategy) MaxAttempts() int {
	switch r.Kind {
	case RestartImmediate, RestartExponential:
		return r.MaxRetries + 1
	default:
		return 1
	}
}

// Validate checks the strategy declaration.
func (r RestartStrategy) Validate() ValidationResult {
	var errs []ValidationError
	switch r.Kind {
	case RestartNever, "":
	case RestartImmediate:
		if r.MaxRetries < 0 {
			errs = append(errs, ValidationError{Field: "restart.max_retries", Message: "must not be negative"})
		}
	case RestartExponential:
		if r.MaxRetries < 0 {
			errs = append(errs, ValidationError{Field: "restart.max_retries", Message: "must not be negative"})
		}
		if r.InitialDelay <= 0 {
			errs = append(errs, ValidationError{Field: "restart.initial_delay", Message: "must be positive"})
		}
		if r.MaxDelay > 0 && r.MaxDelay < r.InitialDelay {
			errs = append(errs, ValidationError{Field: "restart.max_delay", Message: "must not be below initial_delay"})
		}
	default:
		errs = append(errs, ValidationError{Field: "restart.kind", Message: "unknown restart kind"})
	}
	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}
