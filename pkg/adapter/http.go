package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/dshills/promoflow/pkg/transform"
)

// HTTPConfig holds configuration for an HTTP/JSON endpoint.
type HTTPConfig struct {
	Endpoint string
	Method   string // GET, POST, PUT or DELETE; defaults to POST
	Headers  map[string]string
	Client   *http.Client
}

// HTTPAdapter calls a JSON service over HTTP.
type HTTPAdapter struct {
	endpoint   string
	method     string
	headers    map[string]string
	httpClient *http.Client
	mu         sync.Mutex
	closed     bool
}

// NewHTTPAdapter creates an adapter for one endpoint.
func NewHTTPAdapter(config HTTPConfig) (*HTTPAdapter, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if _, err := url.ParseRequestURI(config.Endpoint); err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", config.Endpoint, err)
	}

	method := strings.ToUpper(strings.TrimSpace(config.Method))
	if method == "" {
		method = http.MethodPost
	}
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete:
	default:
		return nil, fmt.Errorf("unsupported HTTP method: %s", method)
	}

	client := config.Client
	if client == nil {
		// Per-call deadlines come from the context.
		client = &http.Client{}
	}

	headers := make(map[string]string, len(config.Headers))
	for k, v := range config.Headers {
		headers[k] = v
	}

	return &HTTPAdapter{
		endpoint:   config.Endpoint,
		method:     method,
		headers:    headers,
		httpClient: client,
	}, nil
}

// SystemType implements Adapter.
func (a *HTTPAdapter) SystemType() SystemType {
	return SystemTypeHTTP
}

// Call sends the request parameters as a query string (GET, DELETE) or a JSON
// body (POST, PUT). Any 2xx status is a response; anything else is a
// TransportError.
func (a *HTTPAdapter) Call(ctx context.Context, req *Request, timeout time.Duration) (*Response, error) {
	if a.isClosed() {
		return nil, ErrClosed
	}

	callCtx, cancel := callContext(ctx, timeout)
	defer cancel()

	httpReq, err := a.buildRequest(callCtx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		if te := timeoutError(callCtx, SystemTypeHTTP, a.endpoint, timeout); te != nil {
			return nil, te
		}
		return nil, &TransportError{
			SystemType: SystemTypeHTTP,
			Endpoint:   a.endpoint,
			Temporary:  ctx.Err() == nil,
			Err:        err,
		}
	}
	defer func() {
		_ = httpResp.Body.Close()
	}()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		if te := timeoutError(callCtx, SystemTypeHTTP, a.endpoint, timeout); te != nil {
			return nil, te
		}
		return nil, &TransportError{
			SystemType: SystemTypeHTTP,
			Endpoint:   a.endpoint,
			StatusCode: httpResp.StatusCode,
			Err:        fmt.Errorf("failed to read response body: %w", err),
		}
	}
	elapsed := time.Since(start)

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, &TransportError{
			SystemType: SystemTypeHTTP,
			Endpoint:   a.endpoint,
			StatusCode: httpResp.StatusCode,
			Body:       truncateBody(body),
		}
	}

	return parseJSONResponse(body, httpResp.StatusCode, elapsed), nil
}

func (a *HTTPAdapter) buildRequest(ctx context.Context, req *Request) (*http.Request, error) {
	target := a.endpoint
	var body io.Reader

	switch a.method {
	case http.MethodGet, http.MethodDelete:
		u, err := url.Parse(a.endpoint)
		if err != nil {
			return nil, fmt.Errorf("invalid endpoint: %w", err)
		}
		q := u.Query()
		for key, value := range req.Params() {
			s, err := transform.ToString(value)
			if err != nil {
				return nil, fmt.Errorf("parameter %s: %w", key, err)
			}
			q.Set(key, s)
		}
		u.RawQuery = q.Encode()
		target = u.String()
	default:
		payload, err := json.Marshal(req.Params())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, a.method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.RequestID() != "" {
		httpReq.Header.Set("X-Request-ID", req.RequestID())
	}
	for key, value := range a.headers {
		httpReq.Header.Set(key, value)
	}
	for key, value := range req.Headers() {
		httpReq.Header.Set(key, value)
	}
	return httpReq, nil
}

// parseJSONResponse turns a 2xx body into a Response. An object body becomes
// the data map; any other JSON value is stored under "value"; a non-JSON body
// is kept as text under "body". A top-level "success": false marks a reported
// failure.
func parseJSONResponse(body []byte, status int, elapsed time.Duration) *Response {
	b := NewResponse().StatusCode(status).Duration(elapsed)

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return b.Build()
	}
	if !gjson.ValidBytes(trimmed) {
		return b.Field("body", string(trimmed)).Build()
	}

	parsed := gjson.ParseBytes(trimmed)
	if parsed.IsObject() {
		if m, ok := parsed.Value().(map[string]interface{}); ok {
			b.Data(m)
		}
		if flag := parsed.Get("success"); flag.Exists() && (flag.Type == gjson.False) {
			b.Failed(parsed.Get("errorMessage").String())
		}
		return b.Build()
	}
	return b.Field("value", parsed.Value()).Build()
}

// IsAvailable sends a HEAD request; any answer below 500 counts as reachable.
func (a *HTTPAdapter) IsAvailable(ctx context.Context) bool {
	if a.isClosed() {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, a.endpoint, nil)
	if err != nil {
		return false
	}
	for key, value := range a.headers {
		req.Header.Set(key, value)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode < 500
}

// Close marks the adapter closed and releases idle connections.
func (a *HTTPAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.httpClient.CloseIdleConnections()
	return nil
}

func (a *HTTPAdapter) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

const probeTimeout = 5 * time.Second
