// Package envelope defines the self-describing message unit exchanged at
// every boundary of the runtime: between the manager and its adapters,
// between the host and extension processes, and between the host and WASM
// guests. The wire encoding must remain stable and backward compatible as it
// defines the transport contract.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ContentTypeJSON is the content type set by the JSON helper and expected
// by AsJSON.
const ContentTypeJSON = "application/json"

// ErrContentType is returned by AsJSON when the envelope carries a content
// type other than application/json.
var ErrContentType = errors.New("envelope: content type mismatch")

// Header carries correlation and sequencing metadata, never payload
// semantics. An empty Kind means unset.
type Header struct {
	Seqnum    uint64 `json:"seqnum"`
	SessionID string `json:"session_id"`
	Kind      string `json:"kind,omitempty"`
}

// Envelope is an immutable header + content type + opaque content bytes.
// The content is never interpreted by the transport layer; only the consumer
// decodes it according to ContentType. Unknown content types pass through
// unmodified.
type Envelope struct {
	Header      Header `json:"header"`
	ContentType string `json:"content_type"`
	Content     []byte `json:"content"`
}

// New creates an envelope with a zero header.
func New(contentType string, content []byte) Envelope {
	return Envelope{ContentType: contentType, Content: content}
}

// WithHeader returns a copy of the envelope with the header replaced.
func (e Envelope) WithHeader(h Header) Envelope {
	e.Header = h
	return e
}

// WithKind returns a copy of the envelope with the header kind set.
func (e Envelope) WithKind(kind string) Envelope {
	e.Header.Kind = kind
	return e
}

// WithSeqnum returns a copy of the envelope with the header seqnum set.
func (e Envelope) WithSeqnum(n uint64) Envelope {
	e.Header.Seqnum = n
	return e
}

// WithSession returns a copy of the envelope with the header session id set.
func (e Envelope) WithSession(id string) Envelope {
	e.Header.SessionID = id
	return e
}

// IsJSON reports whether the envelope carries application/json content.
func (e Envelope) IsJSON() bool {
	return e.ContentType == ContentTypeJSON
}

// NewSessionID mints a fresh session identifier for Header.SessionID.
func NewSessionID() string {
	return uuid.NewString()
}

// Encode serializes the envelope to its JSON wire form. Content bytes are
// carried base64 and survive the round trip unmodified.
func Encode(e Envelope) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("envelope: encode: %w", err)
	}
	return data, nil
}

// Decode parses the JSON wire form back into an envelope. Absent optional
// fields decode to their zero values.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("envelope: decode: %w", err)
	}
	return e, nil
}

// JSON serializes v and wraps it in an envelope with content type
// application/json and a zero header.
func JSON[T any](v T) (Envelope, error) {
	content, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope: marshal content: %w", err)
	}
	return Envelope{ContentType: ContentTypeJSON, Content: content}, nil
}

// MustJSON is JSON for values that cannot fail to marshal. It panics
// otherwise and is intended for literals in tests and fixtures.
func MustJSON[T any](v T) Envelope {
	e, err := JSON(v)
	if err != nil {
		panic(err)
	}
	return e
}

// AsJSON decodes the envelope content into T. It fails with ErrContentType
// when the content type is not application/json.
func AsJSON[T any](e Envelope) (T, error) {
	var v T
	if !e.IsJSON() {
		return v, fmt.Errorf("%w: got %q", ErrContentType, e.ContentType)
	}
	if err := json.Unmarshal(e.Content, &v); err != nil {
		return v, fmt.Errorf("envelope: unmarshal content: %w", err)
	}
	return v, nil
}
