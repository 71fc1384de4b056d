// Package entities provides core domain entities for the extension runtime.
// These are general-purpose types shared by every protocol adapter and the
// host manager. Protocol-specific frame layouts belong in the adapters.
package entities
