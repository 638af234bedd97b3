// internal/trainer/replicate/client.replicate.go
package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	domainErr "github.com/Leiito98/glowshot-ledger/internal/domain/errors"
	"github.com/Leiito98/glowshot-ledger/internal/jobs"
)

const DefaultBaseURL = "https://api.replicate.com"

type Config struct {
	Token       string
	BaseURL     string
	Owner       string // trainer model owner, e.g. "ostris"
	Model       string // e.g. "flux-dev-lora-trainer"
	Version     string
	Destination string // "{owner}/{model}" that receives the trained version
	WebhookURL  string
	Steps       int
	Timeout     time.Duration
}

// Client submits trainings to Replicate. It implements jobs.Trainer.
type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

type trainingRequest struct {
	Destination         string                 `json:"destination"`
	Input               map[string]interface{} `json:"input"`
	Webhook             string                 `json:"webhook,omitempty"`
	WebhookEventsFilter []string               `json:"webhook_events_filter,omitempty"`
}

type trainingResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (c *Client) Submit(ctx context.Context, req jobs.TrainingRequest) (string, error) {
	input := map[string]interface{}{"input_images": req.InputRef}
	if req.TriggerWord != "" {
		input["trigger_word"] = req.TriggerWord
	}
	if c.cfg.Steps > 0 {
		input["steps"] = c.cfg.Steps
	}
	body := trainingRequest{Destination: c.cfg.Destination, Input: input}
	if c.cfg.WebhookURL != "" {
		body.Webhook = c.cfg.WebhookURL
		body.WebhookEventsFilter = []string{"start", "completed"}
	}
	b, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/v1/models/%s/%s/versions/%s/trainings", strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.Owner, c.cfg.Model, c.cfg.Version)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", &domainErr.GatewayError{Gateway: "replicate", Err: err}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &domainErr.GatewayError{Gateway: "replicate", StatusCode: resp.StatusCode, Diagnostic: string(raw)}
	}

	var tr trainingResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return "", fmt.Errorf("replicate: decode training: %w", err)
	}
	if tr.ID == "" {
		return "", fmt.Errorf("replicate: training created without id")
	}
	return tr.ID, nil
}
