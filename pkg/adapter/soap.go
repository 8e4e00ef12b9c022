package adapter

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dshills/promoflow/pkg/transform"
)

const soapEnvelopeNS = "http://schemas.xmlsoap.org/soap/envelope/"

// soapFields are the response elements the adapter extracts. Anything else
// in the body is ignored.
var soapFields = map[string]bool{
	"conditionResult": true,
	"discountAmount":  true,
	"promotionName":   true,
	"promotionType":   true,
	"description":     true,
	"eligible":        true,
	"success":         true,
	"errorMessage":    true,
}

// SOAPConfig holds configuration for a SOAP endpoint.
type SOAPConfig struct {
	Endpoint string
	Action   string
	Headers  map[string]string
	Client   *http.Client
}

// SOAPAdapter posts a fixed-shape evaluation envelope to a SOAP 1.1 service
// and reads a fixed set of result fields back. It is not a general WSDL
// client.
type SOAPAdapter struct {
	endpoint   string
	action     string
	headers    map[string]string
	httpClient *http.Client
	mu         sync.Mutex
	closed     bool
}

type soapEnvelope struct {
	XMLName xml.Name `xml:"soap:Envelope"`
	NS      string   `xml:"xmlns:soap,attr"`
	Body    soapBody `xml:"soap:Body"`
}

type soapBody struct {
	Request soapRequest `xml:"EvaluationRequest"`
}

type soapRequest struct {
	RequestID  string      `xml:"requestId"`
	Parameters []soapParam `xml:"parameter"`
}

type soapParam struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

// NewSOAPAdapter creates an adapter for one SOAP endpoint.
func NewSOAPAdapter(config SOAPConfig) (*SOAPAdapter, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if _, err := url.ParseRequestURI(config.Endpoint); err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", config.Endpoint, err)
	}
	client := config.Client
	if client == nil {
		client = &http.Client{}
	}
	headers := make(map[string]string, len(config.Headers))
	for k, v := range config.Headers {
		headers[k] = v
	}
	return &SOAPAdapter{
		endpoint:   config.Endpoint,
		action:     config.Action,
		headers:    headers,
		httpClient: client,
	}, nil
}

// SystemType implements Adapter.
func (a *SOAPAdapter) SystemType() SystemType {
	return SystemTypeSOAP
}

// Call posts the envelope. A SOAP Fault or a non-2xx status is a
// TransportError.
func (a *SOAPAdapter) Call(ctx context.Context, req *Request, timeout time.Duration) (*Response, error) {
	if a.isClosed() {
		return nil, ErrClosed
	}

	payload, err := buildEnvelope(req)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := callContext(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, a.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create SOAP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "text/xml; charset=utf-8")
	httpReq.Header.Set("SOAPAction", strconv.Quote(a.action))
	if req.RequestID() != "" {
		httpReq.Header.Set("X-Request-ID", req.RequestID())
	}
	for key, value := range a.headers {
		httpReq.Header.Set(key, value)
	}
	for key, value := range req.Headers() {
		httpReq.Header.Set(key, value)
	}

	start := time.Now()
	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		if te := timeoutError(callCtx, SystemTypeSOAP, a.endpoint, timeout); te != nil {
			return nil, te
		}
		return nil, &TransportError{SystemType: SystemTypeSOAP, Endpoint: a.endpoint, Temporary: ctx.Err() == nil, Err: err}
	}
	defer func() {
		_ = httpResp.Body.Close()
	}()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		if te := timeoutError(callCtx, SystemTypeSOAP, a.endpoint, timeout); te != nil {
			return nil, te
		}
		return nil, &TransportError{SystemType: SystemTypeSOAP, Endpoint: a.endpoint, StatusCode: httpResp.StatusCode, Err: err}
	}
	elapsed := time.Since(start)

	fields, fault, err := scanSOAPBody(body)
	if err != nil {
		return nil, &TransportError{
			SystemType: SystemTypeSOAP,
			Endpoint:   a.endpoint,
			StatusCode: httpResp.StatusCode,
			Body:       truncateBody(body),
			Err:        fmt.Errorf("malformed SOAP response: %w", err),
		}
	}
	if fault != "" {
		return nil, &TransportError{
			SystemType: SystemTypeSOAP,
			Endpoint:   a.endpoint,
			StatusCode: httpResp.StatusCode,
			Err:        fmt.Errorf("SOAP fault: %s", fault),
		}
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, &TransportError{
			SystemType: SystemTypeSOAP,
			Endpoint:   a.endpoint,
			StatusCode: httpResp.StatusCode,
			Body:       truncateBody(body),
		}
	}

	b := NewResponse().StatusCode(httpResp.StatusCode).Duration(elapsed).Data(fields)
	if s, ok := fields["success"].(string); ok && strings.EqualFold(strings.TrimSpace(s), "false") {
		msg, _ := fields["errorMessage"].(string)
		b.Failed(msg)
	}
	return b.Build(), nil
}

func buildEnvelope(req *Request) ([]byte, error) {
	params := req.Params()
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := soapEnvelope{NS: soapEnvelopeNS}
	env.Body.Request.RequestID = req.RequestID()
	for _, k := range keys {
		s, err := transform.ToString(params[k])
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", k, err)
		}
		env.Body.Request.Parameters = append(env.Body.Request.Parameters, soapParam{Name: k, Value: s})
	}

	out, err := xml.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal SOAP envelope: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// scanSOAPBody walks the XML tokens and collects the known result fields by
// local element name. It returns the fault string when the body holds a
// Fault element.
func scanSOAPBody(body []byte) (map[string]interface{}, string, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	fields := make(map[string]interface{})

	var (
		current    string
		inFault    bool
		faultText  string
		sawElement bool
	)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, "", err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			sawElement = true
			current = t.Name.Local
			if current == "Fault" {
				inFault = true
			}
		case xml.EndElement:
			current = ""
		case xml.CharData:
			text := strings.TrimSpace(string(t))
			if text == "" || current == "" {
				continue
			}
			if inFault && (current == "faultstring" || current == "Text" || current == "Reason") {
				faultText = text
				continue
			}
			if soapFields[current] {
				fields[current] = soapValue(current, text)
			}
		}
	}

	if !sawElement {
		return nil, "", errors.New("empty document")
	}
	if inFault {
		if faultText == "" {
			faultText = "unspecified fault"
		}
		return nil, faultText, nil
	}
	return fields, "", nil
}

func soapValue(field, text string) interface{} {
	if field == "discountAmount" {
		if f, err := strconv.ParseFloat(text, 64); err == nil {
			return f
		}
	}
	return text
}

// IsAvailable sends a GET to the endpoint (services commonly answer with the
// WSDL); any answer below 500 counts as reachable.
func (a *SOAPAdapter) IsAvailable(ctx context.Context) bool {
	if a.isClosed() {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, a.endpoint, nil)
	if err != nil {
		return false
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode < 500
}

// Close marks the adapter closed.
func (a *SOAPAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.httpClient.CloseIdleConnections()
	return nil
}

func (a *SOAPAdapter) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}
