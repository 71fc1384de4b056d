//go:build wasip1

package log

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/gantry-dev/gantry/domain/entities"
	"github.com/gantry-dev/gantry/internal/abi"
)

// hostLog is the host's log function. Request and response are packed
// pointers into guest memory.
//
//go:wasmimport gantry_host log
func hostLog(packed uint64) uint64

// emit ships one record to the host. Logging is fire and forget; the
// response is released without inspection.
var emit = func(req entities.LogRequest) {
	raw, err := json.Marshal(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "log: marshal record %q: %v\n", req.Message, err)
		return
	}
	packed := abi.PtrFromBytes(raw)
	resp := hostLog(packed)
	abi.ReleasePacked(packed)
	abi.ReleasePacked(resp)
}
