package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"classplanner_go/config"

	"github.com/sirupsen/logrus"
)

// Client is the narrow slice of an OpenAI-compatible Responses API this
// application needs. The generation orchestrator and the refinement session
// both consume it; tests swap in a fake.
type Client interface {
	// GenerateJSON asks for structured output constrained by a JSON schema.
	GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]interface{}) (map[string]interface{}, error)
	// GenerateText asks for plain text.
	GenerateText(ctx context.Context, system, user string) (string, error)
}

type httpClient struct {
	baseURL    string
	apiKey     string
	model      string
	client     *http.Client
	maxRetries int
}

// NewClient builds a Client from application config. The request timeout
// bounds every generation call; long-running calls never outlive it.
func NewClient() (Client, error) {
	cfg := config.AppConfig
	if strings.TrimSpace(cfg.AIAPIKey) == "" {
		return nil, fmt.Errorf("missing AI_API_KEY")
	}
	return &httpClient{
		baseURL:    cfg.AIBaseURL,
		apiKey:     cfg.AIAPIKey,
		model:      cfg.AIModel,
		client:     &http.Client{Timeout: cfg.AITimeout},
		maxRetries: cfg.AIMaxRetries,
	}, nil
}

type apiError struct {
	StatusCode int
	Body       string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("ai http %d: %s", e.StatusCode, e.Body)
}

func retryable(err error) bool {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae.StatusCode == http.StatusTooManyRequests || ae.StatusCode >= 500
	}
	// Network-level failures are worth one more try.
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (c *httpClient) doOnce(ctx context.Context, path string, body interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &apiError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}

func (c *httpClient) do(ctx context.Context, path string, body, out interface{}) error {
	backoff := time.Second
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		raw, err := c.doOnce(ctx, path, body)
		if err == nil {
			return json.Unmarshal(raw, out)
		}
		if attempt >= c.maxRetries || !retryable(err) {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"path":    path,
			"attempt": attempt + 1,
			"error":   err.Error(),
		}).Warn("AI request retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

type responsesRequest struct {
	Model string `json:"model"`
	Input []struct {
		Role    string      `json:"role"`
		Content interface{} `json:"content"`
	} `json:"input"`
	Text struct {
		Format map[string]interface{} `json:"format,omitempty"`
	} `json:"text,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

type responsesResponse struct {
	Output []struct {
		Type    string `json:"type"`
		Role    string `json:"role,omitempty"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text,omitempty"`
		} `json:"content,omitempty"`
	} `json:"output"`
	Refusal string `json:"refusal,omitempty"`
}

func extractOutputText(resp responsesResponse) string {
	var out strings.Builder
	for _, item := range resp.Output {
		if item.Type == "message" && item.Role == "assistant" {
			for _, c := range item.Content {
				if c.Type == "output_text" && c.Text != "" {
					out.WriteString(c.Text)
				}
			}
		}
	}
	return out.String()
}

func newRequest(model, system, user string) responsesRequest {
	req := responsesRequest{Model: model, Temperature: 0.2}
	req.Input = []struct {
		Role    string      `json:"role"`
		Content interface{} `json:"content"`
	}{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
	return req
}

func (c *httpClient) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]interface{}) (map[string]interface{}, error) {
	if schemaName == "" || schema == nil {
		return nil, errors.New("schema name and schema required")
	}

	req := newRequest(c.model, system, user)
	req.Text.Format = map[string]interface{}{
		"type":   "json_schema",
		"name":   schemaName,
		"schema": schema,
		"strict": true,
	}

	var resp responsesResponse
	if err := c.do(ctx, "/v1/responses", req, &resp); err != nil {
		return nil, err
	}
	if resp.Refusal != "" {
		return nil, fmt.Errorf("model refused: %s", resp.Refusal)
	}

	jsonText := extractOutputText(resp)
	if strings.TrimSpace(jsonText) == "" {
		return nil, errors.New("no output_text found in response")
	}

	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(jsonText), &obj); err != nil {
		return nil, fmt.Errorf("failed to parse model JSON: %w", err)
	}
	return obj, nil
}

func (c *httpClient) GenerateText(ctx context.Context, system, user string) (string, error) {
	req := newRequest(c.model, system, user)

	var resp responsesResponse
	if err := c.do(ctx, "/v1/responses", req, &resp); err != nil {
		return "", err
	}
	if resp.Refusal != "" {
		return "", fmt.Errorf("model refused: %s", resp.Refusal)
	}

	text := extractOutputText(resp)
	if strings.TrimSpace(text) == "" {
		return "", errors.New("no output_text found in response")
	}
	return text, nil
}
