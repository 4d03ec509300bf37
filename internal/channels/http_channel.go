package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"crisisengine/internal/models"
)

// HTTPChannel is a thin client for an HTTP notification collaborator
// (app-push, SMS gateway, email service). All three expose the same
// POST /send surface.
type HTTPChannel struct {
	name       string
	baseURL    string
	httpClient *http.Client
}

// NewHTTPChannel builds a channel client for the collaborator at baseURL.
func NewHTTPChannel(name, baseURL string) *HTTPChannel {
	return &HTTPChannel{
		name:    name,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *HTTPChannel) Name() string {
	return c.name
}

type sendRequest struct {
	Recipient string                   `json:"recipient"`
	Subject   string                   `json:"subject"`
	Body      string                   `json:"body"`
	CaseID    string                   `json:"case_id"`
	Resources []*models.CrisisResource `json:"resources,omitempty"`
}

type sendResponse struct {
	Status string `json:"status"` // "sent" or "delivered"
	Detail string `json:"detail,omitempty"`
}

// Send posts the message to the collaborator's /send endpoint.
func (c *HTTPChannel) Send(ctx context.Context, recipient string, msg Message) (string, error) {
	payload, err := json.Marshal(sendRequest{
		Recipient: recipient,
		Subject:   msg.Subject,
		Body:      msg.Body,
		CaseID:    msg.CaseID,
		Resources: msg.Resources,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send", bytes.NewBuffer(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s channel request failed: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%s channel returned status %d: %s", c.name, resp.StatusCode, string(body))
	}

	var result sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode %s channel response: %w", c.name, err)
	}
	if result.Status != "sent" && result.Status != "delivered" {
		return "", fmt.Errorf("%s channel reported status %q: %s", c.name, result.Status, result.Detail)
	}

	return result.Status, nil
}
