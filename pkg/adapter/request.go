package adapter

// Request is an immutable call to an external system. Build it with
// NewRequest.
type Request struct {
	requestID string
	params    map[string]interface{}
	headers   map[string]string
}

// RequestBuilder assembles a Request.
type RequestBuilder struct {
	req Request
}

// NewRequest starts a request correlated with the given evaluation request id.
func NewRequest(requestID string) *RequestBuilder {
	return &RequestBuilder{req: Request{
		requestID: requestID,
		params:    make(map[string]interface{}),
		headers:   make(map[string]string),
	}}
}

// Param sets one request parameter.
func (b *RequestBuilder) Param(key string, value interface{}) *RequestBuilder {
	b.req.params[key] = value
	return b
}

// Params merges a parameter map; later keys overwrite earlier ones.
func (b *RequestBuilder) Params(params map[string]interface{}) *RequestBuilder {
	for k, v := range params {
		b.req.params[k] = v
	}
	return b
}

// Header sets one request header.
func (b *RequestBuilder) Header(key, value string) *RequestBuilder {
	b.req.headers[key] = value
	return b
}

// Build returns the finished request. The builder must not be reused.
func (b *RequestBuilder) Build() *Request {
	r := b.req
	return &r
}

// RequestID returns the correlation id.
func (r *Request) RequestID() string {
	return r.requestID
}

// Param returns a single parameter.
func (r *Request) Param(key string) (interface{}, bool) {
	v, ok := r.params[key]
	return v, ok
}

// Params returns a copy of the parameters.
func (r *Request) Params() map[string]interface{} {
	out := make(map[string]interface{}, len(r.params))
	for k, v := range r.params {
		out[k] = v
	}
	return out
}

// Headers returns a copy of the per-request headers.
func (r *Request) Headers() map[string]string {
	out := make(map[string]string, len(r.headers))
	for k, v := range r.headers {
		out[k] = v
	}
	return out
}
