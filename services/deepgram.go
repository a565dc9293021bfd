package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"notesworker/models"
)

// DeepgramService transcribes audio with Deepgram's prerecorded endpoint.
type DeepgramService struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

type deepgramResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func NewDeepgramService(apiKey, baseURL, model string, timeout time.Duration) *DeepgramService {
	if baseURL == "" {
		baseURL = "https://api.deepgram.com"
	}
	if model == "" {
		model = "nova-2"
	}
	return &DeepgramService{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Transcribe sends mp3 audio and returns the first alternative of the first
// channel. Every failure wraps models.ErrTranscriptionFailed.
func (d *DeepgramService) Transcribe(ctx context.Context, audio []byte) (string, error) {
	transcript, err := d.transcribe(ctx, audio)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrTranscriptionFailed, err)
	}
	return transcript, nil
}

func (d *DeepgramService) transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("audio payload is empty")
	}

	query := url.Values{}
	query.Set("model", d.model)
	query.Set("smart_format", "true")
	endpoint := fmt.Sprintf("%s/v1/listen?%s", d.baseURL, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(audio))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/mpeg")
	req.Header.Set("Authorization", "Token "+d.apiKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("deepgram request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("deepgram returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var payload deepgramResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode deepgram response: %w", err)
	}
	if len(payload.Results.Channels) == 0 || len(payload.Results.Channels[0].Alternatives) == 0 {
		return "", fmt.Errorf("deepgram response has no transcript")
	}
	return payload.Results.Channels[0].Alternatives[0].Transcript, nil
}
