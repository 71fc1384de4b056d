// Package hostcall is the typed client for the host function surface.
// Each call marshals a request, crosses the boundary through the packed
// ABI and decodes the host's reply, so extension code works with plain Go
// values instead of wire frames. Outside wasip1 builds every call reports
// ErrUnavailable.
package hostcall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gantry-dev/gantry/domain/entities"
	"github.com/gantry-dev/gantry/internal/wasmcontext"
	"github.com/gantry-dev/gantry/wireformat"
)

// ErrUnavailable reports a host call made outside a wasip1 build.
var ErrUnavailable = errors.New("hostcall: host functions require a wasip1 build")

// call crosses the boundary once: marshal, invoke, decode. Replies that do
// not match the typed response are retried as the registry's flat error
// shape before giving up.
func call[Req, Resp any](name string, req Req) (Resp, error) {
	var resp Resp
	raw, err := json.Marshal(req)
	if err != nil {
		return resp, fmt.Errorf("hostcall: marshal %s request: %w", name, err)
	}
	out, err := invoke(name, raw)
	if err != nil {
		return resp, err
	}
	if len(out) == 0 {
		return resp, fmt.Errorf("hostcall: empty %s reply", name)
	}
	if err := json.Unmarshal(out, &resp); err != nil {
		if rerr := registryError(name, out); rerr != nil {
			return resp, rerr
		}
		return resp, fmt.Errorf("hostcall: decode %s reply: %w", name, err)
	}
	return resp, nil
}

// registryError decodes the flat error the host registry sends when a
// request never reached its handler: unknown function, malformed JSON or a
// recovered panic.
func registryError(name string, out []byte) error {
	var we struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Code    int    `json:"code"`
	}
	if err := json.Unmarshal(out, &we); err != nil || we.Error == "" {
		return nil
	}
	return fmt.Errorf("hostcall: %s rejected: %s (%s %d)", name, we.Message, we.Error, we.Code)
}

// EnvGet reads one variable from the extension's environment overlay.
func EnvGet(ctx context.Context, name string) (string, bool, error) {
	resp, err := call[entities.EnvGetRequest, entities.EnvGetResponse](
		wireformat.FuncEnvGet,
		entities.EnvGetRequest{Name: name, Context: wasmcontext.ToWire(ctx)},
	)
	if err != nil {
		return "", false, err
	}
	if resp.Error != nil {
		return "", false, resp.Error
	}
	return resp.Value, resp.Found, nil
}

// EnvSet writes one variable into the extension's environment overlay. The
// host process environment is never touched.
func EnvSet(ctx context.Context, name, value string) error {
	resp, err := call[entities.EnvSetRequest, entities.EnvSetResponse](
		wireformat.FuncEnvSet,
		entities.EnvSetRequest{Name: name, Value: value, Context: wasmcontext.ToWire(ctx)},
	)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	return nil
}

// Workspace describes the host side of the sandbox boundary.
type Workspace struct {
	Root        string
	OS          string
	Arch        string
	HostVersion string
	Extension   string
}

// WorkspaceInfo reports the workspace snapshot the host granted this
// extension.
func WorkspaceInfo(ctx context.Context) (Workspace, error) {
	resp, err := call[entities.WorkspaceInfoRequest, entities.WorkspaceInfoResponse](
		wireformat.FuncWorkspaceInfo,
		entities.WorkspaceInfoRequest{Context: wasmcontext.ToWire(ctx)},
	)
	if err != nil {
		return Workspace{}, err
	}
	if resp.Error != nil {
		return Workspace{}, resp.Error
	}
	return Workspace{
		Root:        resp.Root,
		OS:          resp.OS,
		Arch:        resp.Arch,
		HostVersion: resp.HostVersion,
		Extension:   resp.Extension,
	}, nil
}

// CachePut stores a payload in the host artifact cache and returns the
// stored size, which is smaller than the payload when the host compressed
// it.
func CachePut(ctx context.Context, key string, payload []byte) (int64, error) {
	resp, err := call[entities.CachePutRequest, entities.CachePutResponse](
		wireformat.FuncCachePut,
		entities.CachePutRequest{Key: key, Payload: payload, Context: wasmcontext.ToWire(ctx)},
	)
	if err != nil {
		return 0, err
	}
	if resp.Error != nil {
		return 0, resp.Error
	}
	return resp.StoredSize, nil
}

// CacheGet reads a payload from the host artifact cache. A missing key is
// not an error.
func CacheGet(ctx context.Context, key string) ([]byte, bool, error) {
	resp, err := call[entities.CacheGetRequest, entities.CacheGetResponse](
		wireformat.FuncCacheGet,
		entities.CacheGetRequest{Key: key, Context: wasmcontext.ToWire(ctx)},
	)
	if err != nil {
		return nil, false, err
	}
	if resp.Error != nil {
		return nil, false, resp.Error
	}
	if !resp.Found {
		return nil, false, nil
	}
	return resp.Payload, true, nil
}

// FetchRequest describes one outbound HTTP request. The host enforces its
// network policy before anything leaves the machine.
type FetchRequest struct {
	Method  string
	URL     string
	Headers map[string][]string
	Body    string
}

// FetchResponse is the host's view of the HTTP response. Body is truncated
// at the host's response cap; BodyTruncated reports when that happened.
type FetchResponse struct {
	StatusCode    int
	Headers       map[string][]string
	Body          string
	BodyTruncated bool
}

// Fetch performs an HTTP request through the host. The context deadline
// travels with the request and bounds the host-side round trip.
func Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error) {
	resp, err := call[entities.FetchRequest, entities.FetchResponse](
		wireformat.FuncFetch,
		entities.FetchRequest{
			Method:  req.Method,
			URL:     req.URL,
			Headers: req.Headers,
			Body:    req.Body,
			Context: wasmcontext.ToWire(ctx),
		},
	)
	if err != nil {
		return FetchResponse{}, err
	}
	if resp.Error != nil {
		return FetchResponse{}, resp.Error
	}
	return FetchResponse{
		StatusCode:    resp.StatusCode,
		Headers:       resp.Headers,
		Body:          resp.Body,
		BodyTruncated: resp.BodyTruncated,
	}, nil
}
