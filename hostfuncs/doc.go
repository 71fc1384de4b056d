// Package hostfuncs implements the host function surface extensions call
// back into: log, get_env_var, set_env_var, get_workspace_info, cache_ir,
// get_cached_ir and http_fetch. The implementations carry no sandbox runtime
// dependencies, so the same registry serves WASM host imports and runtime
// command dispatch alike.
package hostfuncs
