package hostfuncs

import (
	"context"
	"log/slog"
	"maps"

	"github.com/gantry-dev/gantry/domain/entities"
	"github.com/gantry-dev/gantry/domain/ports"
	"github.com/gantry-dev/gantry/wireformat"
)

// Host function names as extensions import them, re-exported from the wire
// contract.
const (
	FuncLog           = wireformat.FuncLog
	FuncEnvGet        = wireformat.FuncEnvGet
	FuncEnvSet        = wireformat.FuncEnvSet
	FuncWorkspaceInfo = wireformat.FuncWorkspaceInfo
	FuncCachePut      = wireformat.FuncCachePut
	FuncCacheGet      = wireformat.FuncCacheGet
	FuncFetch         = wireformat.FuncFetch
)

// A HostFuncBundle groups host functions that ship together. Hosts assemble
// a registry from bundles, picking CoreBundle, CacheBundle and FetchBundle
// (or DefaultBundle for all seven functions) rather than wiring handlers one
// at a time.
type HostFuncBundle interface {
	// Handlers returns the bundled handlers keyed by host function name.
	Handlers() map[string]ByteHandler
}

// fixedBundle serves a handler set decided at construction time.
type fixedBundle struct {
	byName map[string]ByteHandler
}

func (b *fixedBundle) Handlers() map[string]ByteHandler {
	return b.byName
}

// CoreBundle returns the always-present host functions: log, get_env_var,
// set_env_var and get_workspace_info. The env store and workspace snapshot
// are per extension, so each loaded extension gets its own bundle.
func CoreBundle(logger *slog.Logger, env *EnvStore, workspace WorkspaceInfo) HostFuncBundle {
	logOpts := []LogOption{WithLogLogger(logger), WithLogExtension(workspace.Extension)}
	return &fixedBundle{
		byName: map[string]ByteHandler{
			FuncLog: NewJSONHandler(func(ctx context.Context, req entities.LogRequest) entities.LogResponse {
				return PerformLog(ctx, req, logOpts...)
			}),
			FuncEnvGet: NewJSONHandler(func(ctx context.Context, req entities.EnvGetRequest) entities.EnvGetResponse {
				return PerformEnvGet(ctx, env, req)
			}),
			FuncEnvSet: NewJSONHandler(func(ctx context.Context, req entities.EnvSetRequest) entities.EnvSetResponse {
				return PerformEnvSet(ctx, env, req)
			}),
			FuncWorkspaceInfo: NewJSONHandler(func(ctx context.Context, req entities.WorkspaceInfoRequest) entities.WorkspaceInfoResponse {
				return PerformWorkspaceInfo(ctx, workspace, req)
			}),
		},
	}
}

// CacheBundle returns the artifact cache host functions: cache_ir and
// get_cached_ir.
func CacheBundle(cache Cache) HostFuncBundle {
	return &fixedBundle{
		byName: map[string]ByteHandler{
			FuncCachePut: NewJSONHandler(func(ctx context.Context, req entities.CachePutRequest) entities.CachePutResponse {
				return PerformCachePut(ctx, cache, req)
			}),
			FuncCacheGet: NewJSONHandler(func(ctx context.Context, req entities.CacheGetRequest) entities.CacheGetResponse {
				return PerformCacheGet(ctx, cache, req)
			}),
		},
	}
}

// FetchBundle returns the outbound HTTP host function: http_fetch. Pass
// WithFetchPolicy to grant network access; without it every fetch is denied.
func FetchBundle(opts ...FetchOption) HostFuncBundle {
	return &fixedBundle{
		byName: map[string]ByteHandler{
			FuncFetch: NewJSONHandler(func(ctx context.Context, req entities.FetchRequest) entities.FetchResponse {
				return PerformFetch(ctx, req, opts...)
			}),
		},
	}
}

// DefaultBundle returns the complete seven-function surface extensions
// compile against: the core four, the artifact cache pair backed by the
// given store, and http_fetch. Pass fetch options to grant network access;
// without WithFetchPolicy every fetch is denied.
func DefaultBundle(logger *slog.Logger, env *EnvStore, workspace WorkspaceInfo, store ports.CacheStore, fetchOpts ...FetchOption) HostFuncBundle {
	return CombineBundles(
		CoreBundle(logger, env, workspace),
		CacheBundle(store),
		FetchBundle(fetchOpts...),
	)
}

// bundleUnion flattens several bundles into one handler map on demand.
type bundleUnion struct {
	parts []HostFuncBundle
}

func (b *bundleUnion) Handlers() map[string]ByteHandler {
	merged := make(map[string]ByteHandler)
	for _, part := range b.parts {
		maps.Copy(merged, part.Handlers())
	}
	return merged
}

// CombineBundles merges several bundles into one. Later bundles win on name
// collisions, matching map overwrite semantics.
func CombineBundles(bundles ...HostFuncBundle) HostFuncBundle {
	return &bundleUnion{parts: bundles}
}

// WithBundle registers every handler a bundle provides.
func WithBundle(bundle HostFuncBundle) RegistryOption {
	return func(c *registryConfig) {
		for name, handler := range bundle.Handlers() {
			c.add(name, handler)
		}
	}
}

// WithHandler registers one typed host function under the given name; the
// request and response are framed as JSON via NewJSONHandler.
//
//	WithHandler("render_badge", func(ctx context.Context, req BadgeRequest) BadgeResponse {
//	    return BadgeResponse{SVG: render(req.Label)}
//	})
func WithHandler[Req any, Resp any](name string, fn HostFunc[Req, Resp]) RegistryOption {
	return func(c *registryConfig) {
		c.add(name, NewJSONHandler(fn))
	}
}
