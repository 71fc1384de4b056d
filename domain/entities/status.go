package entities

import "time"

// ExtensionStatus is the lifecycle state of a loaded extension instance.
type ExtensionStatus string

const (
	// StatusLoading means the load handshake is in progress.
	StatusLoading ExtensionStatus = "loading"

	// StatusReady means the extension is callable.
	StatusReady ExtensionStatus = "ready"

	// StatusRestarting means the extension failed and its restart policy
	// is being applied.
	StatusRestarting ExtensionStatus = "restarting"

	// StatusFailed means the extension failed and its restart budget is
	// exhausted.
	StatusFailed ExtensionStatus = "failed"

	// StatusStopped means the extension was unloaded.
	StatusStopped ExtensionStatus = "stopped"
)

// HealthStatus grades an extension's responsiveness.
type HealthStatus string

const (
	// HealthHealthy means the extension answers within its deadline.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded means the extension answers but reports trouble.
	HealthDegraded HealthStatus = "degraded"

	// HealthUnhealthy means the extension answers incorrectly or slowly.
	HealthUnhealthy HealthStatus = "unhealthy"

	// HealthOffline means the extension does not answer at all.
	HealthOffline HealthStatus = "offline"
)

// HealthReport is the result of a health probe against one extension.
type HealthReport struct {
	Status    HealthStatus  `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ns,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
}

// Healthy returns a healthy report with the given probe latency.
func Healthy(latency time.Duration) HealthReport {
	return HealthReport{Status: HealthHealthy, Latency: latency, CheckedAt: time.Now()}
}

// Offline returns an offline report carrying the probe failure message.
func Offline(message string) HealthReport {
	return HealthReport{Status: HealthOffline, Message: message, CheckedAt: time.Now()}
}
