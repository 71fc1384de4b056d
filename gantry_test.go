package gantry_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantry-dev/gantry"
	"github.com/gantry-dev/gantry/domain/entities"
	"github.com/gantry-dev/gantry/envelope"
	"github.com/gantry-dev/gantry/internal/wasmcontext"
	"github.com/gantry-dev/gantry/wireformat"
)

type echoReq struct {
	Msg string `json:"msg"`
}

type echoResp struct {
	Msg   string `json:"msg"`
	Count int    `json:"count"`
}

func echoExtension() *gantry.Extension {
	ext := gantry.Define(gantry.Info{Name: "echo-ext", Version: "0.3.0", Description: "test double"})
	gantry.Handle(ext, "echo", func(ctx context.Context, req echoReq) (echoResp, error) {
		return echoResp{Msg: req.Msg, Count: len(req.Msg)}, nil
	}, gantry.WithDescription("echo the message back"))
	return ext
}

func dispatch(t *testing.T, ext *gantry.Extension, method string, params envelope.Envelope) wireformat.CallResultWire {
	t.Helper()
	encoded, err := envelope.Encode(params)
	require.NoError(t, err)
	body, err := json.Marshal(wireformat.CallRequestWire{Method: method, Params: encoded})
	require.NoError(t, err)

	var res wireformat.CallResultWire
	require.NoError(t, json.Unmarshal(ext.Dispatch(context.Background(), body), &res))
	return res
}

func TestDefine_RequiresIdentity(t *testing.T) {
	assert.Panics(t, func() { gantry.Define(gantry.Info{Version: "1.0.0"}) })
	assert.Panics(t, func() { gantry.Define(gantry.Info{Name: "anon"}) })
}

func TestDefine_Manifest(t *testing.T) {
	ext := gantry.Define(gantry.Info{
		Name:          "scanner",
		Version:       "2.1.0",
		Description:   "scans things",
		Type:          entities.ExtensionTypeTransform,
		MinSDKVersion: "0.9.0",
	})

	m := ext.Manifest()
	assert.Equal(t, "scanner", m.Name)
	assert.Equal(t, "2.1.0", m.Version)
	assert.Equal(t, "scans things", m.Description)
	assert.Equal(t, entities.ExtensionTypeTransform, m.Type)
	assert.Equal(t, "0.9.0", m.MinSDKVersion)
	assert.False(t, m.Flags.Program)
}

func TestEnableProgram(t *testing.T) {
	ext := gantry.Define(gantry.Info{Name: "looper", Version: "1.0.0"})
	ext.EnableProgram()
	assert.True(t, ext.Manifest().Flags.Program)
}

func TestHandle_RegistersCapabilities(t *testing.T) {
	ext := echoExtension()
	gantry.Handle(ext, "stats", func(ctx context.Context, req struct{}) (map[string]int, error) {
		return nil, nil
	})

	caps := ext.Capabilities()
	require.Len(t, caps, 2)
	assert.Equal(t, []string{"echo", "stats"}, entities.CapabilityNames(caps))
	assert.Equal(t, "echo the message back", caps[0].Description)
	assert.NotEmpty(t, caps[0].ParamsSchema)
	assert.NotEmpty(t, caps[0].ReturnSchema)
	assert.True(t, json.Valid(caps[0].ParamsSchema))

	// A field-less request type declares no params schema, so hosts skip
	// validation for it; the map return still reflects one.
	assert.Empty(t, caps[1].ParamsSchema)
	assert.NotEmpty(t, caps[1].ReturnSchema)
}

func TestHandle_DuplicatePanics(t *testing.T) {
	ext := echoExtension()
	assert.Panics(t, func() {
		gantry.Handle(ext, "echo", func(ctx context.Context, req echoReq) (echoResp, error) {
			return echoResp{}, nil
		})
	})
}

func TestHandleEnvelope_NoGeneratedSchemas(t *testing.T) {
	ext := gantry.Define(gantry.Info{Name: "raw", Version: "1.0.0"})
	ext.HandleEnvelope("passthrough", func(ctx context.Context, params envelope.Envelope) (envelope.Envelope, error) {
		return params, nil
	})

	caps := ext.Capabilities()
	require.Len(t, caps, 1)
	assert.Empty(t, caps[0].ParamsSchema)
	assert.Empty(t, caps[0].ReturnSchema)
}

func TestInitialize_ReportsReadyWithManifest(t *testing.T) {
	ext := echoExtension()

	raw := ext.Initialize(context.Background(), []byte(`{"level":3,"tag":"blue"}`))
	var res wireformat.InitializeResultWire
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.Equal(t, wireformat.StatusReady, res.Status)

	var m entities.ExtensionManifest
	require.NoError(t, json.Unmarshal(res.Info, &m))
	assert.Equal(t, "echo-ext", m.Name)
	assert.Equal(t, "0.3.0", m.Version)

	cfg := ext.InitConfig()
	assert.Equal(t, float64(3), cfg["level"])
	assert.Equal(t, "blue", cfg["tag"])
}

func TestInitialize_NullConfig(t *testing.T) {
	ext := echoExtension()

	raw := ext.Initialize(context.Background(), []byte("null"))
	var res wireformat.InitializeResultWire
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.Equal(t, wireformat.StatusReady, res.Status)
	assert.NotNil(t, ext.InitConfig())
	assert.Empty(t, ext.InitConfig())
}

func TestInitialize_HookFailure(t *testing.T) {
	ext := echoExtension()
	ext.OnInit(func(ctx context.Context, cfg gantry.Config) error {
		return errors.New("license key rejected")
	})

	raw := ext.Initialize(context.Background(), []byte(`{}`))
	var res wireformat.InitializeResultWire
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.NotEqual(t, wireformat.StatusReady, res.Status)
	assert.Contains(t, res.Status, "license key rejected")
}

func TestInitialize_MalformedConfig(t *testing.T) {
	ext := echoExtension()

	raw := ext.Initialize(context.Background(), []byte(`{"level":`))
	var res wireformat.InitializeResultWire
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.Contains(t, res.Status, "parse init config")
}

func TestOnInit_RegisteredTwicePanics(t *testing.T) {
	ext := echoExtension()
	ext.OnInit(func(ctx context.Context, cfg gantry.Config) error { return nil })
	assert.Panics(t, func() {
		ext.OnInit(func(ctx context.Context, cfg gantry.Config) error { return nil })
	})
}

func TestDispatch_Echo(t *testing.T) {
	ext := echoExtension()

	res := dispatch(t, ext, "echo", envelope.MustJSON(echoReq{Msg: "hello"}))
	require.Nil(t, res.Error)

	env, err := envelope.Decode(res.Result)
	require.NoError(t, err)
	resp, err := envelope.AsJSON[echoResp](env)
	require.NoError(t, err)
	assert.Equal(t, echoResp{Msg: "hello", Count: 5}, resp)
}

func TestDispatch_MethodNotFound(t *testing.T) {
	ext := echoExtension()

	res := dispatch(t, ext, "vanish", envelope.MustJSON(map[string]string{}))
	require.NotNil(t, res.Error)
	assert.True(t, strings.HasPrefix(*res.Error, wireformat.MethodNotFoundPrefix))
	assert.Contains(t, *res.Error, "vanish")
}

func TestDispatch_HandlerError(t *testing.T) {
	ext := gantry.Define(gantry.Info{Name: "grumpy", Version: "1.0.0"})
	gantry.Handle(ext, "refuse", func(ctx context.Context, req echoReq) (echoResp, error) {
		return echoResp{}, errors.New("quota exhausted")
	})

	res := dispatch(t, ext, "refuse", envelope.MustJSON(echoReq{Msg: "x"}))
	require.NotNil(t, res.Error)
	assert.Contains(t, *res.Error, "quota exhausted")
}

func TestDispatch_HandlerPanicIsolated(t *testing.T) {
	ext := gantry.Define(gantry.Info{Name: "fragile", Version: "1.0.0"})
	gantry.Handle(ext, "boom", func(ctx context.Context, req echoReq) (echoResp, error) {
		panic("nil map write")
	})

	res := dispatch(t, ext, "boom", envelope.MustJSON(echoReq{}))
	require.NotNil(t, res.Error)
	assert.Contains(t, *res.Error, "boom panicked")
	assert.Contains(t, *res.Error, "nil map write")

	// The extension keeps serving after a handler panic.
	gantry.Handle(ext, "ok", func(ctx context.Context, req echoReq) (echoResp, error) {
		return echoResp{Msg: "fine"}, nil
	})
	res = dispatch(t, ext, "ok", envelope.MustJSON(echoReq{}))
	assert.Nil(t, res.Error)
}

func TestDispatch_MalformedRequest(t *testing.T) {
	ext := echoExtension()

	var res wireformat.CallResultWire
	require.NoError(t, json.Unmarshal(ext.Dispatch(context.Background(), []byte(`{"method":`)), &res))
	require.NotNil(t, res.Error)
	assert.Contains(t, *res.Error, "malformed call request")
}

func TestDispatch_EmptyParamsDefaultToNull(t *testing.T) {
	ext := gantry.Define(gantry.Info{Name: "probe", Version: "1.0.0"})
	var got []byte
	ext.HandleEnvelope("ping", func(ctx context.Context, params envelope.Envelope) (envelope.Envelope, error) {
		got = params.Content
		return envelope.MustJSON("pong"), nil
	})

	body, err := json.Marshal(wireformat.CallRequestWire{Method: "ping"})
	require.NoError(t, err)
	var res wireformat.CallResultWire
	require.NoError(t, json.Unmarshal(ext.Dispatch(context.Background(), body), &res))
	require.Nil(t, res.Error)
	assert.JSONEq(t, "null", string(got))
}

func TestDispatch_SessionIDBecomesRequestID(t *testing.T) {
	ext := gantry.Define(gantry.Info{Name: "traced", Version: "1.0.0"})
	var seen string
	ext.HandleEnvelope("trace", func(ctx context.Context, params envelope.Envelope) (envelope.Envelope, error) {
		seen = wasmcontext.RequestID(ctx)
		return envelope.MustJSON("ok"), nil
	})

	params := envelope.MustJSON("payload").WithSession("sess-77")
	res := dispatch(t, ext, "trace", params)
	require.Nil(t, res.Error)
	assert.Equal(t, "sess-77", seen)
}

func TestDispatch_NonJSONContentPassesThrough(t *testing.T) {
	ext := gantry.Define(gantry.Info{Name: "binary", Version: "1.0.0"})
	ext.HandleEnvelope("reverse", func(ctx context.Context, params envelope.Envelope) (envelope.Envelope, error) {
		in := params.Content
		out := make([]byte, len(in))
		for i, b := range in {
			out[len(in)-1-i] = b
		}
		return envelope.New("application/octet-stream", out), nil
	})

	res := dispatch(t, ext, "reverse", envelope.New("application/octet-stream", []byte{1, 2, 3}))
	require.Nil(t, res.Error)

	env, err := envelope.Decode(res.Result)
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", env.ContentType)
	assert.Equal(t, []byte{3, 2, 1}, env.Content)
}
