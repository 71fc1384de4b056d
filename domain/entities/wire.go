package entities

import "time"

// Wire DTOs for the host function surface. These cross the host/extension
// boundary as JSON and must stay backward compatible.

// ContextWire is the JSON wire format for context.Context propagation.
type ContextWire struct {
	Deadline  *time.Time `json:"deadline,omitempty"`
	RequestID string     `json:"request_id,omitempty"`
	TimeoutMs int64      `json:"timeout_ms,omitempty"`
	Canceled  bool       `json:"canceled,omitempty"`
}

// LogRequest is the JSON wire format for a log call. Records surface in the
// host logger with the extension name attached.
type LogRequest struct {
	Attrs   map[string]string `json:"attrs,omitempty"`
	Level   string            `json:"level"`
	Message string            `json:"message"`
	Context ContextWire       `json:"context"`
}

// LogResponse is the JSON wire format for a log response.
type LogResponse struct {
	Error *ErrorDetail `json:"error,omitempty"`
}

// EnvGetRequest is the JSON wire format for a get_env_var call.
type EnvGetRequest struct {
	Name    string      `json:"name"`
	Context ContextWire `json:"context"`
}

// EnvGetResponse is the JSON wire format for a get_env_var response.
type EnvGetResponse struct {
	Error *ErrorDetail `json:"error,omitempty"`
	Value string       `json:"value,omitempty"`
	Found bool         `json:"found"`
}

// EnvSetRequest is the JSON wire format for a set_env_var call. Writes land
// in the extension's private overlay, never in the host process environment.
type EnvSetRequest struct {
	Name    string      `json:"name"`
	Value   string      `json:"value"`
	Context ContextWire `json:"context"`
}

// EnvSetResponse is the JSON wire format for a set_env_var response.
type EnvSetResponse struct {
	Error *ErrorDetail `json:"error,omitempty"`
}

// WorkspaceInfoRequest is the JSON wire format for a get_workspace_info
// call.
type WorkspaceInfoRequest struct {
	Context ContextWire `json:"context"`
}

// WorkspaceInfoResponse is the JSON wire format for a get_workspace_info
// response.
type WorkspaceInfoResponse struct {
	Error       *ErrorDetail `json:"error,omitempty"`
	Root        string       `json:"root"`
	OS          string       `json:"os"`
	Arch        string       `json:"arch"`
	HostVersion string       `json:"host_version"`
	Extension   string       `json:"extension,omitempty"`
}

// CachePutRequest is the JSON wire format for a cache_ir call. Payload is
// compressed by the host before storage.
type CachePutRequest struct {
	Key     string      `json:"key"`
	Payload []byte      `json:"payload"`
	Context ContextWire `json:"context"`
}

// CachePutResponse is the JSON wire format for a cache_ir response.
type CachePutResponse struct {
	Error      *ErrorDetail `json:"error,omitempty"`
	Stored     bool         `json:"stored"`
	StoredSize int64        `json:"stored_size,omitempty"`
}

// CacheGetRequest is the JSON wire format for a get_cached_ir call.
type CacheGetRequest struct {
	Key     string      `json:"key"`
	Context ContextWire `json:"context"`
}

// CacheGetResponse is the JSON wire format for a get_cached_ir response.
type CacheGetResponse struct {
	Error   *ErrorDetail `json:"error,omitempty"`
	Payload []byte       `json:"payload,omitempty"`
	Found   bool         `json:"found"`
}

// FetchRequest is the JSON wire format for an http_fetch call.
type FetchRequest struct {
	Headers map[string][]string `json:"headers,omitempty"`
	Method  string              `json:"method"`
	URL     string              `json:"url"`
	Body    string              `json:"body,omitempty"`
	Context ContextWire         `json:"context"`
}

// FetchResponse is the JSON wire format for an http_fetch response.
type FetchResponse struct {
	Headers       map[string][]string `json:"headers,omitempty"`
	Error         *ErrorDetail        `json:"error,omitempty"`
	Body          string              `json:"body,omitempty"`
	StatusCode    int                 `json:"status_code"`
	BodyTruncated bool                `json:"body_truncated,omitempty"`
}
