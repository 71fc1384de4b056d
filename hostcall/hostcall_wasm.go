//go:build wasip1

package hostcall

import (
	"fmt"

	"github.com/gantry-dev/gantry/internal/abi"
	"github.com/gantry-dev/gantry/wireformat"
)

//go:wasmimport gantry_host get_env_var
func hostEnvGet(packed uint64) uint64

//go:wasmimport gantry_host set_env_var
func hostEnvSet(packed uint64) uint64

//go:wasmimport gantry_host get_workspace_info
func hostWorkspaceInfo(packed uint64) uint64

//go:wasmimport gantry_host cache_ir
func hostCachePut(packed uint64) uint64

//go:wasmimport gantry_host get_cached_ir
func hostCacheGet(packed uint64) uint64

//go:wasmimport gantry_host http_fetch
func hostFetch(packed uint64) uint64

// invoke pins the request, calls the named import and copies the reply out.
// Both allocations are released before returning.
var invoke = func(name string, payload []byte) ([]byte, error) {
	var fn func(uint64) uint64
	switch name {
	case wireformat.FuncEnvGet:
		fn = hostEnvGet
	case wireformat.FuncEnvSet:
		fn = hostEnvSet
	case wireformat.FuncWorkspaceInfo:
		fn = hostWorkspaceInfo
	case wireformat.FuncCachePut:
		fn = hostCachePut
	case wireformat.FuncCacheGet:
		fn = hostCacheGet
	case wireformat.FuncFetch:
		fn = hostFetch
	default:
		return nil, fmt.Errorf("hostcall: no import for %q", name)
	}

	packed := abi.PtrFromBytes(payload)
	respPacked := fn(packed)
	abi.ReleasePacked(packed)

	resp := abi.BytesFromPtr(respPacked)
	abi.ReleasePacked(respPacked)
	return resp, nil
}
