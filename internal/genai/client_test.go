package genai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func generateBody(text string) string {
	resp := map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"parts": []map[string]any{{"text": text}}}},
		},
	}
	b, _ := json.Marshal(resp)
	return string(b)
}

func TestGenerateTextReturnsCandidateText(t *testing.T) {
	var gotPath string
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(generateBody(`{"ok": true}`)))
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	out, err := c.GenerateText(context.Background(), "test-model", "hello")
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	if out != `{"ok": true}` {
		t.Errorf("output = %q", out)
	}
	if !strings.Contains(gotPath, "models/test-model:generateContent") {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "test-key" {
		t.Errorf("api key header = %q", gotKey)
	}
}

func TestGenerateVisionSendsInlineData(t *testing.T) {
	var req generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&req)
		w.Write([]byte(generateBody("{}")))
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("k", srv.URL)
	if _, err := c.GenerateVision(context.Background(), "m", "analyze", []byte{0xff, 0xd8}, "image/jpeg"); err != nil {
		t.Fatalf("GenerateVision: %v", err)
	}

	if len(req.Contents) != 1 || len(req.Contents[0].Parts) != 2 {
		t.Fatalf("unexpected request shape: %+v", req)
	}
	img := req.Contents[0].Parts[1].InlineData
	if img == nil || img.MimeType != "image/jpeg" || img.Data == "" {
		t.Errorf("inline data = %+v", img)
	}
}

func TestGenerateErrorStatusSurfacesMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"code": 429, "message": "quota exceeded", "status": "RESOURCE_EXHAUSTED"}}`))
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("k", srv.URL)
	_, err := c.GenerateText(context.Background(), "m", "p")
	if err == nil {
		t.Fatal("expected error for 429 response")
	}
	if !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("error = %v, want message from API", err)
	}
}

func TestGenerateTimeoutFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(generateBody("{}")))
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("k", srv.URL)
	c.SetTimeout(20 * time.Millisecond)

	if _, err := c.GenerateText(context.Background(), "m", "p"); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestGenerateNoCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates": []}`))
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("k", srv.URL)
	if _, err := c.GenerateText(context.Background(), "m", "p"); err == nil {
		t.Fatal("expected error for empty candidates")
	}
}
