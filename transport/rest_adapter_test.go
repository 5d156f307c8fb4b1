package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goliatone/go-leadsync/core"
)

func TestRESTAdapter_DoSendsMethodHeadersAndQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if got := r.Header.Get("Version"); got != "2021-07-28" {
			t.Errorf("expected default version header, got %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("expected request header, got %q", got)
		}
		if got := r.URL.Query().Get("model"); got != "contact" {
			t.Errorf("expected merged query, got %q", got)
		}
		if got := r.URL.Query().Get("keep"); got != "1" {
			t.Errorf("expected url query to survive, got %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"a":1}` {
			t.Errorf("unexpected body %q", string(body))
		}
		w.Header().Set("X-RateLimit-Remaining", "9")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	adapter := NewRESTAdapter(server.Client(), WithDefaultHeader("Version", "2021-07-28"))
	res, err := adapter.Do(context.Background(), Request{
		Method:  "post",
		URL:     server.URL + "/x?keep=1",
		Query:   map[string]string{"model": "contact"},
		Headers: map[string]string{"Authorization": "Bearer tok"},
		Body:    []byte(`{"a":1}`),
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", res.StatusCode)
	}
	if res.Headers["X-Ratelimit-Remaining"] != "9" {
		t.Fatalf("expected flattened headers, got %+v", res.Headers)
	}
	if string(res.Body) != `{"ok":true}` {
		t.Fatalf("unexpected body %q", string(res.Body))
	}
}

func TestRESTAdapter_RequestHeadersOverrideDefaults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.Header.Get("Accept")))
	}))
	defer server.Close()

	adapter := NewRESTAdapter(server.Client(), WithDefaultHeader("Accept", "application/json"))
	res, err := adapter.Do(context.Background(), Request{URL: server.URL, Headers: map[string]string{"Accept": "text/csv"}})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if string(res.Body) != "text/csv" {
		t.Fatalf("expected request header to win, got %q", string(res.Body))
	}
}

func TestRESTAdapter_NonSuccessStatusIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	res, err := NewRESTAdapter(server.Client()).Do(context.Background(), Request{URL: server.URL})
	if err != nil {
		t.Fatalf("expected status to be returned, got %v", err)
	}
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.StatusCode)
	}
}

func TestNewRESTAdapter_DefaultClientTimeout(t *testing.T) {
	adapter := NewRESTAdapter(nil)
	client, ok := adapter.client.(*http.Client)
	if !ok {
		t.Fatalf("expected default *http.Client, got %T", adapter.client)
	}
	if client.Timeout != DefaultTimeout {
		t.Fatalf("expected timeout %s, got %s", DefaultTimeout, client.Timeout)
	}
}

func TestRESTAdapter_ResponseLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("12345"))
	}))
	defer server.Close()

	adapter := NewRESTAdapter(server.Client(), WithResponseLimit(4))
	_, err := adapter.Do(context.Background(), Request{URL: server.URL})
	if !core.IsRetryable(err) {
		t.Fatalf("expected retryable upstream error, got %v", err)
	}

	res, err := adapter.Do(context.Background(), Request{URL: server.URL, ResponseLimit: 16})
	if err != nil {
		t.Fatalf("expected request limit to win, got %v", err)
	}
	if string(res.Body) != "12345" {
		t.Fatalf("unexpected body %q", string(res.Body))
	}
}

func TestRESTAdapter_RejectsMissingURLAndClient(t *testing.T) {
	if _, err := NewRESTAdapter(nil).Do(context.Background(), Request{}); !core.IsValidationError(err) {
		t.Fatalf("expected validation error for empty url, got %v", err)
	}
	var adapter *RESTAdapter
	if _, err := adapter.Do(context.Background(), Request{URL: "http://example.test"}); !core.IsConfigError(err) {
		t.Fatalf("expected config error for nil adapter, got %v", err)
	}
}
