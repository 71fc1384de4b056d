package gantry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gantry-dev/gantry/envelope"
	"github.com/gantry-dev/gantry/internal/wasmcontext"
	"github.com/gantry-dev/gantry/wireformat"
)

// Initialize runs the guest half of the load handshake: parse the init
// config, run the OnInit hook and reply with the manifest. The reply is
// always a well-formed InitializeResultWire; failures travel in its status.
func (e *Extension) Initialize(ctx context.Context, raw []byte) []byte {
	cfg := Config{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return initializeError(fmt.Sprintf("parse init config: %v", err))
		}
	}
	if cfg == nil {
		cfg = Config{}
	}
	e.setConfig(cfg)

	if e.onInit != nil {
		if err := e.onInit(ctx, cfg); err != nil {
			return initializeError(err.Error())
		}
	}

	info, err := json.Marshal(e.Manifest())
	if err != nil {
		return initializeError(fmt.Sprintf("encode manifest: %v", err))
	}
	return marshalInitializeResult(wireformat.InitializeResultWire{
		Status: wireformat.StatusReady,
		Info:   info,
	})
}

// Dispatch routes one call request to its handler and frames the outcome.
// The reply is always a well-formed CallResultWire; handler errors and
// panics travel in its error field rather than trapping the module.
func (e *Extension) Dispatch(ctx context.Context, raw []byte) []byte {
	var req wireformat.CallRequestWire
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorResult(fmt.Sprintf("malformed call request: %v", err))
	}

	entry, ok := e.lookup(req.Method)
	if !ok {
		return errorResult(fmt.Sprintf("%s: %s", wireformat.MethodNotFoundPrefix, req.Method))
	}

	params := envelope.New(envelope.ContentTypeJSON, []byte("null"))
	if len(req.Params) > 0 {
		var err error
		params, err = envelope.Decode(req.Params)
		if err != nil {
			return errorResult(fmt.Sprintf("malformed params envelope: %v", err))
		}
	}

	// Host calls correlate through the session id of the incoming envelope.
	ctx = wasmcontext.WithRequestID(ctx, params.Header.SessionID)

	result, err := invoke(ctx, req.Method, entry.fn, params)
	if err != nil {
		return errorResult(err.Error())
	}

	encoded, err := envelope.Encode(result)
	if err != nil {
		return errorResult(fmt.Sprintf("encode result envelope: %v", err))
	}
	out, err := json.Marshal(wireformat.CallResultWire{Result: encoded})
	if err != nil {
		return errorResult(fmt.Sprintf("encode call result: %v", err))
	}
	return out
}

// invoke isolates handler panics so one bad method cannot take the whole
// module down with it.
func invoke(ctx context.Context, method string, fn EnvelopeHandler, params envelope.Envelope) (result envelope.Envelope, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", method, r)
		}
	}()
	return fn(ctx, params)
}

func errorResult(msg string) []byte {
	out, err := json.Marshal(wireformat.CallResultWire{Error: &msg})
	if err != nil {
		return []byte(`{"error":"encode call result"}`)
	}
	return out
}

func initializeError(msg string) []byte {
	return marshalInitializeResult(wireformat.InitializeResultWire{Status: "error: " + msg})
}

func marshalInitializeResult(res wireformat.InitializeResultWire) []byte {
	out, err := json.Marshal(res)
	if err != nil {
		return []byte(`{"status":"error: encode initialize result"}`)
	}
	return out
}
