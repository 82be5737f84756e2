package convertsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPService calls a remote conversion service speaking
// {items:[{name,content}]} in both directions.
type HTTPService struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

// NewHTTPService creates a client for the service at baseURL.
func NewHTTPService(baseURL, apiKey string, timeout time.Duration) (*HTTPService, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("conversion service base url is required")
	}
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	return &HTTPService{
		http:    &http.Client{Timeout: timeout},
		baseURL: baseURL,
		apiKey:  apiKey,
	}, nil
}

func (h *HTTPService) Name() string { return "http:" + h.baseURL }

func (h *HTTPService) ConvertHandlers(ctx context.Context, items []Item) ([]ItemResult, error) {
	return h.post(ctx, OpConvertHandlers, items)
}

func (h *HTTPService) ExtractPolicies(ctx context.Context, items []Item) ([]ItemResult, error) {
	return h.post(ctx, OpExtractPolicies, items)
}

type batchRequest struct {
	Items []Item `json:"items"`
}

type batchResponse struct {
	Items []ItemResult `json:"items"`
}

func (h *HTTPService) post(ctx context.Context, op Operation, items []Item) ([]ItemResult, error) {
	b, err := json.Marshal(batchRequest{Items: items})
	if err != nil {
		return nil, NewPermanentError(err)
	}
	url := h.baseURL + "/v1/" + string(op)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, NewPermanentError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		err := fmt.Errorf("conversion service %s: unexpected status %s: %s", op, resp.Status, strings.TrimSpace(string(body)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusRequestTimeout {
			return nil, NewPermanentError(err)
		}
		return nil, err
	}
	var out batchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return out.Items, nil
}
