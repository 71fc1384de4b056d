//go:build !wasip1

package log

import (
	"fmt"
	"os"
	"sort"

	"github.com/gantry-dev/gantry/domain/entities"
)

// emit outside wasip1 builds writes a plain text line to stderr, so
// extension code exercised in host tests still shows its logs.
var emit = func(req entities.LogRequest) {
	keys := make([]string, 0, len(req.Attrs))
	for k := range req.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(os.Stderr, "%s %s", req.Level, req.Message)
	for _, k := range keys {
		fmt.Fprintf(os.Stderr, " %s=%s", k, req.Attrs[k])
	}
	fmt.Fprintln(os.Stderr)
}
