// Package exttest drives an extension through the same wire frames a real
// host sends, without compiling it to wasm. Authors hand Load the extension
// value their module's init registers; the harness performs the initialize
// handshake, then calls methods through the dispatch path and decodes the
// replies, so a test failure here is the same failure a deployed host would
// report. The harness sticks to the standard testing package so it imposes
// no assertion library on its callers.
package exttest

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/gantry-dev/gantry"
	"github.com/gantry-dev/gantry/domain/entities"
	domerrors "github.com/gantry-dev/gantry/domain/errors"
	"github.com/gantry-dev/gantry/envelope"
	"github.com/gantry-dev/gantry/wireformat"
)

// Host is one loaded extension under test. Construct with Load.
type Host struct {
	ext      *gantry.Extension
	manifest entities.ExtensionManifest
	caps     []entities.Capability
}

// Load performs the initialize handshake and fails the test on anything a
// real host would reject: a non-ready status, an undecodable manifest, or
// an empty capability list. A nil config loads the extension without one.
func Load(t *testing.T, ext *gantry.Extension, config map[string]any) *Host {
	t.Helper()
	if ext == nil {
		t.Fatal("exttest: nil extension")
	}

	var raw []byte
	if config != nil {
		var err error
		raw, err = json.Marshal(config)
		if err != nil {
			t.Fatalf("exttest: marshal init config: %v", err)
		}
	}

	var res wireformat.InitializeResultWire
	if err := json.Unmarshal(ext.Initialize(context.Background(), raw), &res); err != nil {
		t.Fatalf("exttest: decode initialize result: %v", err)
	}
	if res.Status != wireformat.StatusReady {
		t.Fatalf("exttest: initialize reported %q, want %q", res.Status, wireformat.StatusReady)
	}

	var manifest entities.ExtensionManifest
	if err := json.Unmarshal(res.Info, &manifest); err != nil {
		t.Fatalf("exttest: decode manifest: %v", err)
	}

	caps := ext.Capabilities()
	if len(caps) == 0 {
		t.Fatal("exttest: extension declares no capabilities; hosts refuse to load it")
	}
	return &Host{ext: ext, manifest: manifest, caps: caps}
}

// Manifest returns the manifest decoded from the initialize reply.
func (h *Host) Manifest() entities.ExtensionManifest { return h.manifest }

// Capabilities returns the declared capability list in registration order.
func (h *Host) Capabilities() []entities.Capability { return h.caps }

// Capability returns the named capability declaration, if registered.
func (h *Host) Capability(name string) (entities.Capability, bool) {
	for _, c := range h.caps {
		if c.Name == name {
			return c, true
		}
	}
	return entities.Capability{}, false
}

// TryCall invokes a method with a JSON-marshaled params value and returns
// the reply envelope or the classified error: a missing method satisfies
// errors.Is against the method-not-found sentinel, anything the handler
// reported comes back as an extension error.
func (h *Host) TryCall(t *testing.T, method string, params any) (envelope.Envelope, error) {
	t.Helper()
	env, err := envelope.JSON(params)
	if err != nil {
		t.Fatalf("exttest: marshal %s params: %v", method, err)
	}
	return h.TryCallEnvelope(t, method, env)
}

// TryCallEnvelope is TryCall with a caller-built params envelope, for
// non-JSON content or pre-stamped headers.
func (h *Host) TryCallEnvelope(t *testing.T, method string, params envelope.Envelope) (envelope.Envelope, error) {
	t.Helper()
	// Hosts stamp a session id on every call; handlers reading the request
	// id from the context rely on it.
	if params.Header.SessionID == "" {
		params = params.WithSession(envelope.NewSessionID())
	}
	encoded, err := envelope.Encode(params)
	if err != nil {
		t.Fatalf("exttest: encode %s params: %v", method, err)
	}
	body, err := json.Marshal(wireformat.CallRequestWire{Method: method, Params: encoded})
	if err != nil {
		t.Fatalf("exttest: frame %s request: %v", method, err)
	}

	var res wireformat.CallResultWire
	if err := json.Unmarshal(h.ext.Dispatch(context.Background(), body), &res); err != nil {
		t.Fatalf("exttest: decode %s result frame: %v", method, err)
	}
	if res.Error != nil {
		return envelope.Envelope{}, classify(*res.Error)
	}
	reply, err := envelope.Decode(res.Result)
	if err != nil {
		t.Fatalf("exttest: decode %s reply envelope: %v", method, err)
	}
	return reply, nil
}

// Call is TryCall for the expected-success path: any error fails the test.
func (h *Host) Call(t *testing.T, method string, params any) envelope.Envelope {
	t.Helper()
	reply, err := h.TryCall(t, method, params)
	if err != nil {
		t.Fatalf("exttest: call %s: %v", method, err)
	}
	return reply
}

// Call invokes a method on the host and decodes the JSON reply into Resp.
func Call[Resp any](t *testing.T, h *Host, method string, params any) Resp {
	t.Helper()
	reply := h.Call(t, method, params)
	out, err := envelope.AsJSON[Resp](reply)
	if err != nil {
		t.Fatalf("exttest: decode %s reply: %v", method, err)
	}
	return out
}

// Case is one table entry for RunMethod. Check receives whatever the call
// produced; a nil Check only asserts the call succeeded.
type Case struct {
	Name   string
	Params any
	Check  func(t *testing.T, reply envelope.Envelope, err error)
}

// RunMethod invokes one method across a table of param sets, one subtest
// per case.
func RunMethod(t *testing.T, h *Host, method string, cases []Case) {
	t.Helper()
	for _, tc := range cases {
		t.Run(tc.Name, func(t *testing.T) {
			reply, err := h.TryCall(t, method, tc.Params)
			if tc.Check == nil {
				if err != nil {
					t.Fatalf("exttest: call %s: %v", method, err)
				}
				return
			}
			tc.Check(t, reply, err)
		})
	}
}

// classify maps the plain-string error of the result frame into the same
// taxonomy host adapters use.
func classify(msg string) error {
	if rest, ok := strings.CutPrefix(msg, wireformat.MethodNotFoundPrefix); ok {
		method := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rest), ":"))
		return &domerrors.MethodNotFoundError{Method: method}
	}
	return &domerrors.ExtensionError{Msg: msg}
}
