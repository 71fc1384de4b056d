package ports

// DenialHandler observes refused policy checks. Implementations log the
// denial, count it, or fan it out to the embedder.
type DenialHandler interface {
	// OnDenial reports one refused request. Kind is "network", "fs" or
	// "env"; request is the denied entities request value; reason names
	// the part of the check that failed.
	OnDenial(kind string, request any, reason string)
}
