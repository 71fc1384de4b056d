package hostcall

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantry-dev/gantry/domain/entities"
	"github.com/gantry-dev/gantry/internal/wasmcontext"
	"github.com/gantry-dev/gantry/wireformat"
)

// fakeHost swaps the invoke hook for one test and records what crossed.
type fakeHost struct {
	name    string
	request []byte
	reply   any
	err     error
	raw     []byte
}

func (f *fakeHost) install(t *testing.T) {
	t.Helper()
	old := invoke
	invoke = func(name string, payload []byte) ([]byte, error) {
		f.name = name
		f.request = payload
		if f.err != nil {
			return nil, f.err
		}
		if f.raw != nil {
			return f.raw, nil
		}
		out, err := json.Marshal(f.reply)
		require.NoError(t, err)
		return out, nil
	}
	t.Cleanup(func() { invoke = old })
}

func TestEnvGet(t *testing.T) {
	fake := &fakeHost{reply: entities.EnvGetResponse{Value: "tok-123", Found: true}}
	fake.install(t)

	ctx := wasmcontext.WithRequestID(context.Background(), "sess-1")
	value, found, err := EnvGet(ctx, "API_TOKEN")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "tok-123", value)

	assert.Equal(t, wireformat.FuncEnvGet, fake.name)
	var req entities.EnvGetRequest
	require.NoError(t, json.Unmarshal(fake.request, &req))
	assert.Equal(t, "API_TOKEN", req.Name)
	assert.Equal(t, "sess-1", req.Context.RequestID)
}

func TestEnvGet_Missing(t *testing.T) {
	fake := &fakeHost{reply: entities.EnvGetResponse{Found: false}}
	fake.install(t)

	_, found, err := EnvGet(context.Background(), "ABSENT")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestEnvGet_HostError(t *testing.T) {
	fake := &fakeHost{reply: entities.EnvGetResponse{
		Error: &entities.ErrorDetail{Type: "permission", Message: "env access denied"},
	}}
	fake.install(t)

	_, _, err := EnvGet(context.Background(), "SECRET")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "env access denied")
}

func TestEnvSet(t *testing.T) {
	fake := &fakeHost{reply: entities.EnvSetResponse{}}
	fake.install(t)

	require.NoError(t, EnvSet(context.Background(), "MODE", "fast"))

	assert.Equal(t, wireformat.FuncEnvSet, fake.name)
	var req entities.EnvSetRequest
	require.NoError(t, json.Unmarshal(fake.request, &req))
	assert.Equal(t, "MODE", req.Name)
	assert.Equal(t, "fast", req.Value)
}

func TestWorkspaceInfo(t *testing.T) {
	fake := &fakeHost{reply: entities.WorkspaceInfoResponse{
		Root: "/work", OS: "linux", Arch: "amd64", HostVersion: "1.0.0", Extension: "scanner",
	}}
	fake.install(t)

	ws, err := WorkspaceInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Workspace{
		Root: "/work", OS: "linux", Arch: "amd64", HostVersion: "1.0.0", Extension: "scanner",
	}, ws)
	assert.Equal(t, wireformat.FuncWorkspaceInfo, fake.name)
}

func TestCachePut(t *testing.T) {
	fake := &fakeHost{reply: entities.CachePutResponse{Stored: true, StoredSize: 48}}
	fake.install(t)

	size, err := CachePut(context.Background(), "sha256:abc", []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, int64(48), size)

	var req entities.CachePutRequest
	require.NoError(t, json.Unmarshal(fake.request, &req))
	assert.Equal(t, "sha256:abc", req.Key)
	assert.Equal(t, []byte("payload"), req.Payload)
}

func TestCachePut_Rejected(t *testing.T) {
	fake := &fakeHost{reply: entities.CachePutResponse{
		Error: &entities.ErrorDetail{Type: "validation", Code: "EMPTY_KEY", Message: "cache key is required"},
	}}
	fake.install(t)

	_, err := CachePut(context.Background(), "", []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache key is required")
}

func TestCacheGet(t *testing.T) {
	fake := &fakeHost{reply: entities.CacheGetResponse{Payload: []byte("cached"), Found: true}}
	fake.install(t)

	payload, found, err := CacheGet(context.Background(), "sha256:abc")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("cached"), payload)
}

func TestCacheGet_Miss(t *testing.T) {
	fake := &fakeHost{reply: entities.CacheGetResponse{Found: false}}
	fake.install(t)

	payload, found, err := CacheGet(context.Background(), "sha256:missing")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, payload)
}

func TestFetch(t *testing.T) {
	fake := &fakeHost{reply: entities.FetchResponse{
		StatusCode:    200,
		Headers:       map[string][]string{"Content-Type": {"application/json"}},
		Body:          `{"ok":true}`,
		BodyTruncated: true,
	}}
	fake.install(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := Fetch(ctx, FetchRequest{
		Method:  "POST",
		URL:     "https://api.example.com/v1/scan",
		Headers: map[string][]string{"Authorization": {"Bearer tok"}},
		Body:    `{"target":"x"}`,
	})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, `{"ok":true}`, resp.Body)
	assert.True(t, resp.BodyTruncated)
	assert.Equal(t, []string{"application/json"}, resp.Headers["Content-Type"])

	assert.Equal(t, wireformat.FuncFetch, fake.name)
	var req entities.FetchRequest
	require.NoError(t, json.Unmarshal(fake.request, &req))
	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "https://api.example.com/v1/scan", req.URL)
	assert.Equal(t, []string{"Bearer tok"}, req.Headers["Authorization"])
	assert.Greater(t, req.Context.TimeoutMs, int64(0))
}

func TestFetch_PolicyDenied(t *testing.T) {
	fake := &fakeHost{reply: entities.FetchResponse{
		Error: &entities.ErrorDetail{Type: "permission", Message: "host not allowed by network policy"},
	}}
	fake.install(t)

	_, err := Fetch(context.Background(), FetchRequest{Method: "GET", URL: "https://blocked.example"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "network policy")
}

func TestRegistryErrorSurfaces(t *testing.T) {
	fake := &fakeHost{raw: []byte(`{"error":"NOT_FOUND","message":"unknown host function: zap","code":404}`)}
	fake.install(t)

	_, _, err := EnvGet(context.Background(), "X")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown host function")
	assert.Contains(t, err.Error(), "NOT_FOUND")
}

func TestUnavailableOutsideWasm(t *testing.T) {
	// No fake installed: the host build's invoke answers.
	_, _, err := EnvGet(context.Background(), "X")
	assert.ErrorIs(t, err, ErrUnavailable)
}
