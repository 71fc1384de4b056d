// Package ports holds the interfaces the rest of the runtime is written
// against: extension runtimes, process launchers, cache stores, policies,
// event sinks. Adapters under infrastructure implement them; the manager
// and interpreter only ever see these types.
package ports
