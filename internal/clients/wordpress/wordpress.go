// Package wordpress publishes artifacts to a WordPress site through the
// REST API, authenticating with an application password.
package wordpress

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/autopress/autopress/internal/domain"
)

// Client implements domain.Publisher against the WordPress REST API.
// Request deadlines come from the caller's context.
type Client struct {
	httpClient *http.Client
}

var _ domain.Publisher = (*Client)(nil)

// New builds a publisher client.
func New() *Client {
	return &Client{httpClient: &http.Client{}}
}

type createPostRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Status  string `json:"status"`
}

type createPostResponse struct {
	ID   int64  `json:"id"`
	Link string `json:"link"`
}

// Publish creates a published post at the destination site. Errors carry
// a retryable flag: upstream overload and outages are worth retrying,
// rejected requests are not.
func (c *Client) Publish(ctx context.Context, artifact domain.Artifact, dest domain.Destination) (domain.PublishResult, error) {
	if dest.BaseURL == "" || dest.Username == "" || dest.AppPassword == "" {
		return domain.PublishResult{}, &domain.PublishError{
			Retryable: false,
			Err:       fmt.Errorf("publish destination misconfigured"),
		}
	}

	content := artifact.Body
	if artifact.ImageURL != "" {
		content = fmt.Sprintf("<img src=%q />\n%s", artifact.ImageURL, artifact.Body)
	}

	body, err := json.Marshal(createPostRequest{
		Title:   artifact.Title,
		Content: content,
		Status:  "publish",
	})
	if err != nil {
		return domain.PublishResult{}, fmt.Errorf("marshal post: %w", err)
	}

	endpoint := strings.TrimSuffix(dest.BaseURL, "/") + "/wp-json/wp/v2/posts"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.PublishResult{}, fmt.Errorf("new request: %w", err)
	}
	req.SetBasicAuth(dest.Username, dest.AppPassword)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network failures are always worth another try.
		return domain.PublishResult{}, &domain.PublishError{Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.PublishResult{}, &domain.PublishError{
			Retryable: retryableStatus(resp.StatusCode),
			Err:       fmt.Errorf("wordpress %s: %s", resp.Status, strings.TrimSpace(string(raw))),
		}
	}

	var created createPostResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return domain.PublishResult{}, &domain.PublishError{
			Retryable: true,
			Err:       fmt.Errorf("decode wordpress response: %w", err),
		}
	}

	return domain.PublishResult{
		RemoteID:  strconv.FormatInt(created.ID, 10),
		RemoteURL: created.Link,
	}, nil
}

// retryableStatus reports whether the HTTP status indicates a transient
// upstream condition.
func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}
