package adapter

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config describes one external endpoint.
type Config struct {
	SystemType    SystemType
	Endpoint      string
	Method        string
	Headers       map[string]string
	SOAPAction    string
	Driver        string
	Query         string
	RetryAttempts int
	RetryDelay    time.Duration
}

// key identifies adapters that can be shared.
func (c Config) key() string {
	headers := make([]string, 0, len(c.Headers))
	for k, v := range c.Headers {
		headers = append(headers, k+"="+v)
	}
	sort.Strings(headers)
	return strings.Join([]string{
		string(c.SystemType), c.Endpoint, strings.ToUpper(c.Method), c.SOAPAction,
		c.Driver, c.Query, fmt.Sprint(c.RetryAttempts), c.RetryDelay.String(),
		strings.Join(headers, "&"),
	}, "|")
}

// SecretResolver turns a configured header value into the value to send,
// e.g. by looking up "keyring:<name>" references.
type SecretResolver interface {
	Resolve(value string) (string, error)
}

// Factory creates adapters and keeps one per distinct configuration so nodes
// pointing at the same endpoint share connections.
type Factory struct {
	mu         sync.Mutex
	adapters   map[string]Adapter
	secrets    SecretResolver
	httpClient *http.Client
	logger     zerolog.Logger
	closed     bool
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithSecretResolver resolves header values before adapters are created.
func WithSecretResolver(r SecretResolver) FactoryOption {
	return func(f *Factory) { f.secrets = r }
}

// WithHTTPClient sets the client shared by HTTP and SOAP adapters.
func WithHTTPClient(c *http.Client) FactoryOption {
	return func(f *Factory) { f.httpClient = c }
}

// WithLogger sets the logger used for retries.
func WithLogger(l zerolog.Logger) FactoryOption {
	return func(f *Factory) { f.logger = l }
}

// NewFactory creates an adapter factory.
func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{
		adapters:   make(map[string]Adapter),
		httpClient: &http.Client{},
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Get returns the adapter for cfg, creating it on first use.
func (f *Factory) Get(cfg Config) (Adapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, errors.New("adapter factory is closed")
	}

	key := cfg.key()
	if a, ok := f.adapters[key]; ok {
		return a, nil
	}

	headers, err := f.resolveHeaders(cfg.Headers)
	if err != nil {
		return nil, err
	}

	var a Adapter
	switch cfg.SystemType {
	case SystemTypeHTTP:
		a, err = NewHTTPAdapter(HTTPConfig{
			Endpoint: cfg.Endpoint,
			Method:   cfg.Method,
			Headers:  headers,
			Client:   f.httpClient,
		})
	case SystemTypeSOAP:
		a, err = NewSOAPAdapter(SOAPConfig{
			Endpoint: cfg.Endpoint,
			Action:   cfg.SOAPAction,
			Headers:  headers,
			Client:   f.httpClient,
		})
	case SystemTypeDatabase:
		a, err = NewDatabaseAdapter(DatabaseConfig{
			Driver: cfg.Driver,
			DSN:    cfg.Endpoint,
			Query:  cfg.Query,
		})
	default:
		return nil, fmt.Errorf("unsupported system type: %q", cfg.SystemType)
	}
	if err != nil {
		return nil, err
	}

	a = WithRetry(a, cfg.RetryAttempts, cfg.RetryDelay, f.logger)
	f.adapters[key] = a
	return a, nil
}

func (f *Factory) resolveHeaders(in map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(in))
	for k, v := range in {
		if f.secrets != nil {
			resolved, err := f.secrets.Resolve(v)
			if err != nil {
				return nil, fmt.Errorf("header %s: %w", k, err)
			}
			v = resolved
		}
		out[k] = v
	}
	return out, nil
}

// Len returns the number of live adapters.
func (f *Factory) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.adapters)
}

// Close closes every adapter the factory created.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true

	var errs []error
	for key, a := range f.adapters {
		if err := a.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(f.adapters, key)
	}
	return errors.Join(errs...)
}
