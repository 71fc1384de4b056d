//go:build !wasip1

package gantry

// Serve binds the extension to the module exports. Outside wasip1 builds
// there are no exports to bind, so extensions and their tests build and run
// on the host unchanged.
func Serve(e *Extension) {}
