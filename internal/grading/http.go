package grading

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

// HTTPGrader submits to a remote grading service over JSON/HTTP.
type HTTPGrader struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPGrader creates a grader for the service at baseURL. token, when set,
// is sent as a bearer token.
func NewHTTPGrader(baseURL, token string) *HTTPGrader {
	return &HTTPGrader{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (g *HTTPGrader) SubmitExercise(ctx context.Context, sub Submission) (*Result, error) {
	var res Result
	if err := g.post(ctx, "/submissions", sub, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (g *HTTPGrader) SubmitToPaste(ctx context.Context, sub Submission) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	if err := g.post(ctx, "/pastes", sub, &out); err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", fmt.Errorf("grading service returned no paste url")
	}
	return out.URL, nil
}

func (g *HTTPGrader) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling grading service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("grading service %s: %s: %s", path, resp.Status, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
