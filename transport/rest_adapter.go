// Package transport executes raw HTTP calls against the CRM. It never
// interprets status codes; callers classify responses.
package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-leadsync/core"
)

const (
	DefaultTimeout       = 30 * time.Second
	DefaultResponseLimit = int64(10 << 20)
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Request is one outbound call. URL may already carry a query string;
// Query entries are merged over it.
type Request struct {
	Method        string
	URL           string
	Query         map[string]string
	Headers       map[string]string
	Body          []byte
	Timeout       time.Duration
	ResponseLimit int64
}

// Response headers are flattened with multiple values comma joined.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Duration   time.Duration
}

type AdapterOption func(*RESTAdapter)

// WithDefaultHeader sets a header on every request unless the request
// overrides it.
func WithDefaultHeader(key string, value string) AdapterOption {
	return func(a *RESTAdapter) {
		if key = strings.TrimSpace(key); key != "" {
			a.defaults.Set(key, strings.TrimSpace(value))
		}
	}
}

func WithResponseLimit(limit int64) AdapterOption {
	return func(a *RESTAdapter) {
		if limit > 0 {
			a.responseLimit = limit
		}
	}
}

type RESTAdapter struct {
	client        HTTPDoer
	defaults      http.Header
	responseLimit int64
}

// NewRESTAdapter uses an http.Client with DefaultTimeout when client is nil.
func NewRESTAdapter(client HTTPDoer, opts ...AdapterOption) *RESTAdapter {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	adapter := &RESTAdapter{
		client:        client,
		defaults:      http.Header{},
		responseLimit: DefaultResponseLimit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(adapter)
		}
	}
	return adapter
}

// SetClient swaps the underlying doer; nil is ignored.
func (a *RESTAdapter) SetClient(client HTTPDoer) {
	if a != nil && client != nil {
		a.client = client
	}
}

func (a *RESTAdapter) Do(ctx context.Context, req Request) (Response, error) {
	if a == nil || a.client == nil {
		return Response{}, core.NewConfigError("transport: rest adapter has no http client")
	}
	target, err := buildURL(req.URL, req.Query)
	if err != nil {
		return Response{}, err
	}
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return Response{}, core.NewValidationError("transport: build request: " + err.Error())
	}
	for key, values := range a.defaults {
		httpReq.Header[key] = append([]string(nil), values...)
	}
	for key, value := range req.Headers {
		if key = strings.TrimSpace(key); key != "" {
			httpReq.Header.Set(key, strings.TrimSpace(value))
		}
	}

	startedAt := time.Now()
	httpRes, err := a.client.Do(httpReq)
	if err != nil {
		return Response{}, core.NewUpstreamFetchError(0, "transport: "+method+" "+httpReq.URL.Redacted(), err)
	}
	defer httpRes.Body.Close()

	limit := a.responseLimit
	if req.ResponseLimit > 0 {
		limit = req.ResponseLimit
	}
	payload, err := io.ReadAll(io.LimitReader(httpRes.Body, limit+1))
	if err != nil {
		return Response{}, core.NewUpstreamFetchError(httpRes.StatusCode, "transport: read response body", err)
	}
	if int64(len(payload)) > limit {
		return Response{}, core.NewUpstreamFetchError(httpRes.StatusCode, "transport: response body exceeds limit", nil)
	}

	return Response{
		StatusCode: httpRes.StatusCode,
		Headers:    flattenHeaders(httpRes.Header),
		Body:       payload,
		Duration:   time.Since(startedAt),
	}, nil
}

func buildURL(raw string, query map[string]string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", core.NewValidationError("transport: request url is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", core.NewValidationError("transport: invalid request url: " + err.Error())
	}
	if len(query) > 0 {
		values := parsed.Query()
		for key, value := range query {
			if key = strings.TrimSpace(key); key != "" {
				values.Set(key, strings.TrimSpace(value))
			}
		}
		parsed.RawQuery = values.Encode()
	}
	return parsed.String(), nil
}

func flattenHeaders(headers http.Header) map[string]string {
	flat := make(map[string]string, len(headers))
	for key, values := range headers {
		flat[key] = strings.Join(values, ",")
	}
	return flat
}
