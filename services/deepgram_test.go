package services

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"notesworker/models"
)

func TestDeepgramService_Transcribe(t *testing.T) {
	t.Parallel()

	svc := NewDeepgramService("dg-key", "https://deepgram.invalid/", "", time.Minute)
	svc.client.Transport = roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/v1/listen" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("model") != "nova-2" || r.URL.Query().Get("smart_format") != "true" {
			t.Fatalf("unexpected query %s", r.URL.RawQuery)
		}
		if got := r.Header.Get("Authorization"); got != "Token dg-key" {
			t.Fatalf("unexpected auth header %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "mp3-bytes" {
			t.Fatalf("unexpected body %q", body)
		}
		return jsonResponse(http.StatusOK, `{"results":{"channels":[{"alternatives":[{"transcript":"hello class"}]}]}}`), nil
	})

	text, err := svc.Transcribe(context.Background(), []byte("mp3-bytes"))
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if text != "hello class" {
		t.Fatalf("unexpected transcript %q", text)
	}
}

func TestDeepgramService_TranscribeFailures(t *testing.T) {
	t.Parallel()

	cases := map[string]roundTripFunc{
		"status": func(r *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusServiceUnavailable, "busy"), nil
		},
		"transport": func(r *http.Request) (*http.Response, error) {
			return nil, errors.New("connection reset")
		},
		"no_channels": func(r *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusOK, `{"results":{"channels":[]}}`), nil
		},
	}
	for name, transport := range cases {
		transport := transport
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			svc := NewDeepgramService("dg-key", "", "", time.Minute)
			svc.client.Transport = transport

			_, err := svc.Transcribe(context.Background(), []byte("mp3"))
			if !errors.Is(err, models.ErrTranscriptionFailed) {
				t.Fatalf("expected ErrTranscriptionFailed, got %v", err)
			}
		})
	}
}
