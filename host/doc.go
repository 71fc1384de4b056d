// Package host orchestrates loaded extensions. A Manager owns the registry
// of names, ids, and metadata behind a single sequential event loop; each
// loaded extension runs inside its own isolation unit, a goroutine draining
// a bounded FIFO mailbox; failures feed a supervisor that applies the
// declaration's restart policy.
//
// Extension work never runs on the manager loop. Calls travel through the
// owning unit, which serializes work per extension while leaving extensions
// fully parallel to each other. The loop only touches maps, so every task on
// it is short.
package host
