package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

// stubClient points command handlers at the test server for the duration of
// the test.
func (ts *testServer) stubClient(t *testing.T) {
	t.Helper()
	orig := newAPIClient
	newAPIClient = func() (*apiClient, error) { return ts.client(), nil }
	t.Cleanup(func() { newAPIClient = orig })
}

var ctx = context.Background()

func TestAPIClientSendsBearerToken(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /v1/sessions": `{"sessions":[]}`,
	})

	resp, err := ts.client().get(ctx, "/v1/sessions")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if len(ts.requests) != 1 {
		t.Fatalf("requests = %d, want 1", len(ts.requests))
	}
	if ts.requests[0].Auth != "Bearer test-token" {
		t.Errorf("auth header = %q", ts.requests[0].Auth)
	}
}

func TestDecodeJSONSurfacesErrorBody(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := ts.client().get(ctx, "/v1/sessions/missing/status")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var out any
	err = decodeJSON(resp, &out)
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %q, want status and message", err)
	}
}

func TestSessionsDeleteCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"DELETE /v1/sessions/abc": `{"deleted_phases":["phase1"],"total_deleted":1}`,
	})
	ts.stubClient(t)

	sessionsDeleteCmd.SetContext(ctx)
	if err := sessionsDeleteCmd.RunE(sessionsDeleteCmd, []string{"abc"}); err != nil {
		t.Fatalf("delete command: %v", err)
	}

	if len(ts.requests) != 1 || ts.requests[0].Method != "DELETE" {
		t.Fatalf("requests = %+v, want one DELETE", ts.requests)
	}
}

func TestSearchCommandBuildsQuery(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /v1/products/search": `{"query":"cerave cleanser","title":"CeraVe Cleanser"}`,
	})
	ts.stubClient(t)

	searchCmd.SetContext(ctx)
	if err := searchCmd.Flags().Set("session", "s1"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { searchCmd.Flags().Set("session", "") })

	if err := searchCmd.RunE(searchCmd, []string{"CeraVe", "Cleanser"}); err != nil {
		t.Fatalf("search command: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("requests = %d, want 1", len(ts.requests))
	}
	path := ts.requests[0].Path
	if !strings.Contains(path, "q=CeraVe+Cleanser") {
		t.Errorf("path = %q, want joined query", path)
	}
	if !strings.Contains(path, "session_id=s1") {
		t.Errorf("path = %q, want session id", path)
	}
}

func TestSweepCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/admin/sweep": `{"deleted":{"phase1":2,"phase2":0,"phase3":0,"phase4":1},"recommendations_deleted":3}`,
	})
	ts.stubClient(t)

	sweepCmd.SetContext(ctx)
	if err := sweepCmd.RunE(sweepCmd, nil); err != nil {
		t.Fatalf("sweep command: %v", err)
	}

	if len(ts.requests) != 1 || ts.requests[0].Method != "POST" {
		t.Fatalf("requests = %+v, want one POST", ts.requests)
	}
}
