package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"notesworker/models"
)

// CatalogService resolves a media id into its sub-manifest URLs through a
// query endpoint that answers with a table of rows.
type CatalogService struct {
	baseURL string
	param   string
	client  *http.Client
}

type catalogResponse struct {
	Data struct {
		Rows [][]any `json:"rows"`
	} `json:"data"`
}

func NewCatalogService(baseURL, param string) *CatalogService {
	if param == "" {
		param = "sbat_id"
	}
	return &CatalogService{
		baseURL: baseURL,
		param:   param,
		client: &http.Client{
			Timeout: 0, // Use context timeout instead
		},
	}
}

// Resolve returns sub-manifest URLs in catalog order. An empty catalog answer
// is definitive and reported as ErrNoManifestsFound.
func (c *CatalogService) Resolve(ctx context.Context, mediaID string) ([]string, error) {
	endpoint, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid catalog url: %w", err)
	}
	query := endpoint.Query()
	query.Set(c.param, mediaID)
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("catalog returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var payload catalogResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode catalog response: %w", err)
	}

	urls := make([]string, 0, len(payload.Data.Rows))
	for _, row := range payload.Data.Rows {
		if len(row) == 0 {
			continue
		}
		location, ok := row[0].(string)
		if !ok || strings.TrimSpace(location) == "" {
			continue
		}
		urls = append(urls, strings.TrimSpace(location))
	}

	if len(urls) == 0 {
		return nil, models.ErrNoManifestsFound
	}
	return urls, nil
}
