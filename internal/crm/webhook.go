package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/OrbitaAI/call-orchestrator/pkg/logger"
)

// WebhookAdapter pushes CRM data to a generic webhook backend, the shape
// used by workflow automation platforms. Each operation POSTs to a
// well-known path under the configured base URL.
type WebhookAdapter struct {
	baseURL   string
	apiKey    string
	endpoints map[string]string
	client    *http.Client
}

// NewWebhookAdapter creates an adapter for the given base URL. The API key
// is optional; when set it is sent as a bearer token.
func NewWebhookAdapter(baseURL, apiKey string) *WebhookAdapter {
	return &WebhookAdapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		endpoints: map[string]string{
			"contact": "/contacts",
			"call":    "/calls",
			"ticket":  "/tickets",
		},
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// CreateContact POSTs contact data and returns the id assigned by the CRM.
func (a *WebhookAdapter) CreateContact(ctx context.Context, data map[string]interface{}) (string, error) {
	resp, err := a.post(ctx, a.endpoints["contact"], data)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return "", err
	}
	return decodeID(resp)
}

// LogCall records a completed call in the CRM.
func (a *WebhookAdapter) LogCall(ctx context.Context, record *CallRecord) error {
	resp, err := a.post(ctx, a.endpoints["call"], record)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	logger.Base().Debug("Call record delivered to CRM webhook",
		zap.String("call_id", record.CallID),
		zap.Int("status", resp.StatusCode))
	return nil
}

// CreateTicket opens a support ticket and returns the id assigned by the
// CRM. An empty priority defaults to normal.
func (a *WebhookAdapter) CreateTicket(ctx context.Context, title, description, priority string, metadata map[string]interface{}) (string, error) {
	if priority == "" {
		priority = "normal"
	}
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	payload := map[string]interface{}{
		"title":       title,
		"description": description,
		"priority":    priority,
		"metadata":    metadata,
	}
	resp, err := a.post(ctx, a.endpoints["ticket"], payload)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return "", err
	}
	return decodeID(resp)
}

func (a *WebhookAdapter) post(ctx context.Context, path string, payload interface{}) (*http.Response, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	return resp, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
}

func decodeID(resp *http.Response) (string, error) {
	var result struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	return result.ID, nil
}
