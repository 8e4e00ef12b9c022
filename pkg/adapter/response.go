package adapter

import "time"

// Response is the immutable outcome of an external call that reached the
// remote system. A Response with Success() false means the remote system
// answered but reported a business failure.
type Response struct {
	success      bool
	data         map[string]interface{}
	statusCode   int
	duration     time.Duration
	errorMessage string
}

// ResponseBuilder assembles a Response.
type ResponseBuilder struct {
	resp Response
}

// NewResponse starts a successful response with empty data.
func NewResponse() *ResponseBuilder {
	return &ResponseBuilder{resp: Response{
		success: true,
		data:    make(map[string]interface{}),
	}}
}

// Data merges response fields.
func (b *ResponseBuilder) Data(data map[string]interface{}) *ResponseBuilder {
	for k, v := range data {
		b.resp.data[k] = v
	}
	return b
}

// Field sets one response field.
func (b *ResponseBuilder) Field(key string, value interface{}) *ResponseBuilder {
	b.resp.data[key] = value
	return b
}

// StatusCode records the transport status code.
func (b *ResponseBuilder) StatusCode(code int) *ResponseBuilder {
	b.resp.statusCode = code
	return b
}

// Duration records the round-trip time.
func (b *ResponseBuilder) Duration(d time.Duration) *ResponseBuilder {
	b.resp.duration = d
	return b
}

// Failed marks the response as a reported failure.
func (b *ResponseBuilder) Failed(message string) *ResponseBuilder {
	b.resp.success = false
	b.resp.errorMessage = message
	return b
}

// Build returns the finished response.
func (b *ResponseBuilder) Build() *Response {
	r := b.resp
	return &r
}

func (r *Response) Success() bool           { return r.success }
func (r *Response) StatusCode() int         { return r.statusCode }
func (r *Response) Duration() time.Duration { return r.duration }
func (r *Response) ErrorMessage() string    { return r.errorMessage }

// Get returns one data field.
func (r *Response) Get(key string) (interface{}, bool) {
	v, ok := r.data[key]
	return v, ok
}

// Data returns a copy of the response fields.
func (r *Response) Data() map[string]interface{} {
	out := make(map[string]interface{}, len(r.data))
	for k, v := range r.data {
		out[k] = v
	}
	return out
}

// HasData reports whether the response carried any fields.
func (r *Response) HasData() bool {
	return len(r.data) > 0
}
