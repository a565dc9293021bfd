package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"notesworker/models"
)

const (
	defaultOpenAIModel = "gpt-4o-mini"
	notesSystemPrompt  = "You are a helpful assistant."
	notesUserPrompt    = "Generate notes for the following lecture transcript in markdown format:\n\n"
)

// OpenAIService turns a transcript into markdown notes via chat completions.
type OpenAIService struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

type openAIChatRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func NewOpenAIService(apiKey, baseURL, model string, timeout time.Duration) *OpenAIService {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if strings.TrimSpace(model) == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIService{
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

// SynthesizeNotes returns markdown notes for transcript. Every failure wraps
// models.ErrNoteSynthesisFailed.
func (o *OpenAIService) SynthesizeNotes(ctx context.Context, transcript string) (string, error) {
	notes, err := o.complete(ctx, transcript)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrNoteSynthesisFailed, err)
	}
	return notes, nil
}

func (o *OpenAIService) complete(ctx context.Context, transcript string) (string, error) {
	payload := openAIChatRequest{
		Model: o.model,
		Messages: []openAIMessage{
			{Role: "system", Content: notesSystemPrompt},
			{Role: "user", Content: notesUserPrompt + transcript},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("openai returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var decoded openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("failed to decode openai response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("openai response has no choices")
	}
	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("openai returned empty notes")
	}
	return content, nil
}
