// Package generator produces article content through an OpenAI-compatible
// chat completions API.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/autopress/autopress/internal/domain"
)

const defaultSystemPrompt = `You are a content writer for a marketing blog.
Respond with a single JSON object: {"title": ..., "body": ..., "image_url": ...}.
The body is ready-to-publish HTML. No markdown fences, no commentary.`

// Config holds the connection settings for the generation API.
type Config struct {
	Endpoint     string
	Model        string
	APIKey       string
	SystemPrompt string
}

// Client implements domain.Generator backed by OpenAI-compatible APIs.
// Request deadlines come from the caller's context.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

var _ domain.Generator = (*Client)(nil)

// New builds a client from configuration.
func New(cfg Config) *Client {
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	return &Client{cfg: cfg, httpClient: &http.Client{}}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Generate asks the model for an article on the requested topic. The
// payload, when set, is forwarded verbatim as generation parameters.
//
// Client-side misuse (bad key, bad model, malformed output) is fatal —
// retrying will not fix it. Upstream overload and 5xx are left transient.
func (c *Client) Generate(ctx context.Context, req domain.GenerateRequest) (domain.Artifact, error) {
	if c.cfg.APIKey == "" || c.cfg.Endpoint == "" || c.cfg.Model == "" {
		return domain.Artifact{}, fmt.Errorf("%w: generator misconfigured", domain.ErrFatalGeneration)
	}

	prompt := "Write an article about: " + req.Topic
	if req.Payload != "" {
		prompt += "\nGeneration parameters: " + req.Payload
	}

	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: c.cfg.SystemPrompt},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("marshal generation payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("call generation api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		msg := fmt.Sprintf("generation api %s: %s", resp.Status, strings.TrimSpace(string(raw)))
		if fatalStatus(resp.StatusCode) {
			return domain.Artifact{}, fmt.Errorf("%w: %s", domain.ErrFatalGeneration, msg)
		}
		return domain.Artifact{}, fmt.Errorf("%s", msg)
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return domain.Artifact{}, fmt.Errorf("decode generation response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return domain.Artifact{}, fmt.Errorf("generation response has no choices")
	}

	return parseArtifact(chat.Choices[0].Message.Content)
}

// fatalStatus reports whether the status indicates a request that will
// fail the same way on retry. 429 and 5xx are transient.
func fatalStatus(code int) bool {
	return code >= 400 && code < 500 && code != http.StatusTooManyRequests
}

// parseArtifact extracts the structured article from the model's reply.
// Models sometimes wrap JSON in markdown fences despite instructions.
func parseArtifact(content string) (domain.Artifact, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var artifact domain.Artifact
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &artifact); err != nil {
		return domain.Artifact{}, fmt.Errorf("%w: unparsable model output: %v", domain.ErrFatalGeneration, err)
	}
	if artifact.Title == "" || artifact.Body == "" {
		return domain.Artifact{}, fmt.Errorf("%w: model output missing title or body", domain.ErrFatalGeneration)
	}
	return artifact, nil
}
