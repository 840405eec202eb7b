package openai_compat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"stagehand/internal/domain"
	"stagehand/internal/domain/services"
)

// collect drains a stream into deltas, final metadata, and first error.
func collect(t *testing.T, stream <-chan services.StreamEvent) (string, *services.StreamMetadata, error) {
	t.Helper()
	var (
		text strings.Builder
		meta *services.StreamMetadata
	)
	for ev := range stream {
		if ev.Error != nil {
			return text.String(), meta, ev.Error
		}
		text.WriteString(ev.TextDelta)
		if ev.Metadata != nil {
			meta = ev.Metadata
		}
	}
	return text.String(), meta, nil
}

func sseChunk(t *testing.T, chunk StreamChunk) string {
	t.Helper()
	data, err := json.Marshal(chunk)
	if err != nil {
		t.Fatalf("marshal chunk: %v", err)
	}
	return "data: " + string(data) + "\n\n"
}

func deltaChunk(t *testing.T, content string) string {
	t.Helper()
	return sseChunk(t, StreamChunk{
		Model:   "test-model",
		Choices: []StreamChoice{{Delta: StreamDelta{Content: content}}},
	})
}

func TestStreamCompletionHappyPath(t *testing.T) {
	var gotReq Request
	var gotAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotReq); err != nil {
			t.Errorf("request body not JSON: %v", err)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": ping\n\n")
		fmt.Fprint(w, deltaChunk(t, `{"performance": `))
		fmt.Fprint(w, deltaChunk(t, `"hello"}`))
		fmt.Fprint(w, sseChunk(t, StreamChunk{
			Choices: []StreamChoice{{FinishReason: "stop"}},
			Usage:   &Usage{PromptTokens: 12, CompletionTokens: 34},
		}))
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	provider := NewProvider(server.URL, "secret-key")
	temp := 0.7
	maxTokens := 512
	stream, err := provider.StreamCompletion(context.Background(), &services.ProviderRequest{
		Model: "test-model",
		Messages: []services.Message{
			{Role: services.MessageRoleSystem, Text: "Be brief."},
			{Role: services.MessageRoleUser, Text: "Say hello."},
		},
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}

	text, meta, streamErr := collect(t, stream)
	if streamErr != nil {
		t.Fatalf("stream error: %v", streamErr)
	}
	if text != `{"performance": "hello"}` {
		t.Errorf("reassembled text: %q", text)
	}
	if meta == nil {
		t.Fatal("missing metadata")
	}
	if meta.InputTokens != 12 || meta.OutputTokens != 34 {
		t.Errorf("usage should win over delta counting: %+v", meta)
	}
	if meta.StopReason != "stop" || meta.Model != "test-model" {
		t.Errorf("metadata: %+v", meta)
	}

	if gotAuth != "Bearer secret-key" {
		t.Errorf("auth header: %q", gotAuth)
	}
	if !gotReq.Stream {
		t.Error("request should ask for streaming")
	}
	if gotReq.ResponseFormat == nil || gotReq.ResponseFormat.Type != "json_object" {
		t.Errorf("request should force JSON mode: %+v", gotReq.ResponseFormat)
	}
	if gotReq.Temperature != 0.7 || gotReq.MaxTokens != 512 {
		t.Errorf("overrides not forwarded: %+v", gotReq)
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" || gotReq.Messages[1].Content != "Say hello." {
		t.Errorf("messages not converted: %+v", gotReq.Messages)
	}
}

func TestStreamCompletionEndpointOverride(t *testing.T) {
	hit := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	// Base URL points nowhere; the per-request endpoint must win.
	provider := NewProvider("http://127.0.0.1:1", "")
	endpoint := server.URL + "/"
	stream, err := provider.StreamCompletion(context.Background(), &services.ProviderRequest{
		Model:    "m",
		Endpoint: &endpoint,
	})
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}
	_, _, _ = collect(t, stream)
	if !hit {
		t.Error("override endpoint was never called")
	}
}

func TestStreamCompletionNoEndpoint(t *testing.T) {
	provider := NewProvider("", "")
	_, err := provider.StreamCompletion(context.Background(), &services.ProviderRequest{Model: "m"})
	var upstream *domain.UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("want UpstreamError, got %v", err)
	}
}

func TestStreamCompletionErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error": {"message": "invalid api key", "type": "auth"}}`)
	}))
	defer server.Close()

	provider := NewProvider(server.URL, "wrong")
	_, err := provider.StreamCompletion(context.Background(), &services.ProviderRequest{Model: "m"})
	var upstream *domain.UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("want UpstreamError, got %v", err)
	}
	if !strings.Contains(upstream.Message, "invalid api key") {
		t.Errorf("server message should surface: %q", upstream.Message)
	}
	if !strings.Contains(upstream.Message, "401") {
		t.Errorf("status code should surface: %q", upstream.Message)
	}
}

func TestStreamCompletionMalformedChunk(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {not json\n\n")
	}))
	defer server.Close()

	provider := NewProvider(server.URL, "")
	stream, err := provider.StreamCompletion(context.Background(), &services.ProviderRequest{Model: "m"})
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}
	_, _, streamErr := collect(t, stream)
	var upstream *domain.UpstreamError
	if !errors.As(streamErr, &upstream) {
		t.Fatalf("want UpstreamError from malformed chunk, got %v", streamErr)
	}
}

func TestStreamCompletionCancellation(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, deltaChunk(t, "first"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	provider := NewProvider(server.URL, "")
	stream, err := provider.StreamCompletion(ctx, &services.ProviderRequest{Model: "m"})
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}

	// Read the first delta, then cancel.
	ev := <-stream
	if ev.TextDelta != "first" {
		t.Fatalf("first event: %+v", ev)
	}
	cancel()

	_, _, streamErr := collect(t, stream)
	if streamErr == nil {
		t.Fatal("cancelled stream should surface an error")
	}
	if !errors.Is(streamErr, context.Canceled) {
		// The read error may wrap the transport failure instead; either
		// way the stream must not end cleanly.
		var upstream *domain.UpstreamError
		if !errors.As(streamErr, &upstream) {
			t.Fatalf("unexpected error type: %v", streamErr)
		}
	}
}
