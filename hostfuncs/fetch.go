package hostfuncs

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gantry-dev/gantry/domain/entities"
	"github.com/gantry-dev/gantry/domain/ports"
)

// FetchOption is a functional option for configuring http_fetch behavior.
type FetchOption func(*fetchConfig)

type fetchConfig struct {
	policy       ports.Policy
	permissions  *entities.Permissions
	timeout      time.Duration
	maxBodySize  int64
	allowPrivate bool
}

func defaultFetchConfig() fetchConfig {
	return fetchConfig{
		timeout:     30 * time.Second,
		maxBodySize: DefaultMaxBodySize,
	}
}

// WithFetchPolicy gates every fetch through the given policy engine and
// permission set. Without it all fetches are denied: the surface is opt-in.
func WithFetchPolicy(policy ports.Policy, permissions *entities.Permissions) FetchOption {
	return func(c *fetchConfig) {
		c.policy = policy
		c.permissions = permissions
	}
}

// WithFetchTimeout sets the per-request timeout.
func WithFetchTimeout(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithFetchMaxBodySize sets the maximum response body size.
func WithFetchMaxBodySize(size int64) FetchOption {
	return func(c *fetchConfig) {
		if size > 0 {
			c.maxBodySize = size
		}
	}
}

// WithFetchAllowPrivate disables the private-range address filter. Intended
// for tests running against local servers.
func WithFetchAllowPrivate(allow bool) FetchOption {
	return func(c *fetchConfig) {
		c.allowPrivate = allow
	}
}

// PerformFetch performs one outbound HTTP request on behalf of an extension.
// The target must pass the extension's network permissions and the
// private-range address filter before any connection is made.
func PerformFetch(ctx context.Context, req entities.FetchRequest, opts ...FetchOption) entities.FetchResponse {
	cfg := defaultFetchConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	target, detail := parseFetchTarget(req.URL)
	if detail != nil {
		return entities.FetchResponse{Error: detail}
	}

	if detail := checkFetchPermissions(target, cfg); detail != nil {
		return entities.FetchResponse{Error: detail}
	}

	if req.Context.TimeoutMs > 0 {
		cfg.timeout = time.Duration(req.Context.TimeoutMs) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	return executeFetch(ctx, req, target, cfg)
}

// fetchTarget is the validated destination of a fetch.
type fetchTarget struct {
	url  *url.URL
	host string
	port int
}

func parseFetchTarget(raw string) (fetchTarget, *entities.ErrorDetail) {
	if raw == "" {
		return fetchTarget{}, &entities.ErrorDetail{
			Type:    "validation",
			Code:    "EMPTY_URL",
			Message: "url is required",
		}
	}

	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return fetchTarget{}, &entities.ErrorDetail{
			Type:    "validation",
			Code:    "INVALID_URL",
			Message: "url is not absolute: " + raw,
		}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fetchTarget{}, &entities.ErrorDetail{
			Type:    "validation",
			Code:    "INVALID_SCHEME",
			Message: "unsupported scheme: " + u.Scheme,
		}
	}

	port := 80
	if u.Scheme == "https" {
		port = 443
	}
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return fetchTarget{}, &entities.ErrorDetail{
				Type:    "validation",
				Code:    "INVALID_URL",
				Message: "invalid port: " + p,
			}
		}
	}

	return fetchTarget{url: u, host: u.Hostname(), port: port}, nil
}

// checkFetchPermissions applies the permission gate and the address filter.
func checkFetchPermissions(target fetchTarget, cfg fetchConfig) *entities.ErrorDetail {
	if cfg.policy == nil || cfg.permissions == nil {
		return &entities.ErrorDetail{
			Type:    "capability",
			Code:    "NETWORK_DENIED",
			Message: "extension has no network permission",
		}
	}

	netReq := entities.NetworkRequest{Host: target.host, Port: target.port}
	if !cfg.policy.CheckNetwork(netReq, cfg.permissions) {
		return &entities.ErrorDetail{
			Type:    "capability",
			Code:    "NETWORK_DENIED",
			Message: fmt.Sprintf("network access to %s:%d not permitted", target.host, target.port),
		}
	}

	var filterOpts []NetfilterOption
	if cfg.allowPrivate {
		filterOpts = append(filterOpts,
			WithBlockPrivate(false),
			WithBlockLocalhost(false),
			WithBlockLinkLocal(false))
	}
	result := ValidateAddress(net.JoinHostPort(target.host, strconv.Itoa(target.port)), filterOpts...)
	if !result.Allowed {
		return &entities.ErrorDetail{
			Type:    "capability",
			Code:    "ADDRESS_BLOCKED",
			Message: result.Reason,
		}
	}

	return nil
}

// executeFetch builds the HTTP request, runs it, and reads the bounded body.
func executeFetch(ctx context.Context, req entities.FetchRequest, target fetchTarget, cfg fetchConfig) entities.FetchResponse {
	var body io.Reader
	if req.Body != "" {
		raw, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return entities.FetchResponse{
				Error: &entities.ErrorDetail{
					Type:    "validation",
					Code:    "INVALID_BODY",
					Message: "body is not valid base64",
				},
			}
		}
		body = bytes.NewReader(raw)
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target.url.String(), body)
	if err != nil {
		return entities.FetchResponse{
			Error: &entities.ErrorDetail{
				Type:    "validation",
				Code:    "INVALID_REQUEST",
				Message: err.Error(),
			},
		}
	}
	for k, vs := range req.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := newFetchClient(cfg).Do(httpReq)
	if err != nil {
		detail := &entities.ErrorDetail{
			Type:    "network",
			Code:    "REQUEST_FAILED",
			Message: err.Error(),
		}
		if ctx.Err() == context.DeadlineExceeded {
			detail.Type = "timeout"
			detail.Code = "TIMEOUT"
			detail.IsTimeout = true
		}
		return entities.FetchResponse{Error: detail}
	}
	defer func() { _ = resp.Body.Close() }()

	return readFetchBody(resp, cfg.maxBodySize)
}

// newFetchClient builds a client whose transport dials only the validated
// target. A single DNS resolution happens in the address filter; the dial
// reuses the hostname so TLS verification still sees the original name.
func newFetchClient(cfg fetchConfig) *http.Client {
	transport := &http.Transport{
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}
	return &http.Client{
		Timeout:   cfg.timeout,
		Transport: transport,
	}
}

// readFetchBody collects the response body up to the configured limit.
func readFetchBody(resp *http.Response, maxBodySize int64) entities.FetchResponse {
	buf := NewBoundedBuffer(int(maxBodySize))
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return entities.FetchResponse{
			StatusCode: resp.StatusCode,
			Headers:    resp.Header,
			Error: &entities.ErrorDetail{
				Type:    "io",
				Code:    "READ_BODY_FAILED",
				Message: err.Error(),
			},
		}
	}

	return entities.FetchResponse{
		StatusCode:    resp.StatusCode,
		Headers:       resp.Header,
		Body:          base64.StdEncoding.EncodeToString(buf.Bytes()),
		BodyTruncated: buf.Truncated,
	}
}
