package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/arturoeanton/storefront-dashboard/internal/domain"
	"github.com/hashicorp/go-retryablehttp"
)

// StatusError is returned when the gateway answers with an unexpected status code.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Body)
}

// Config holds the gateway endpoint and client tuning.
type Config struct {
	BaseURL  string // e.g. http://127.0.0.1:8080
	Timeout  time.Duration
	RetryMax int // retries for the deploy trigger
	Logger   *slog.Logger
}

// Client talks to the API gateway's shop deployment endpoints.
// Status checks use a plain client so that a failed check costs exactly one poll slot;
// deploy triggers go through a retrying client.
type Client struct {
	baseURL      string
	statusClient *http.Client
	deployClient *retryablehttp.Client
}

// NewClient creates a new gateway client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	deployClient := retryablehttp.NewClient()
	deployClient.RetryMax = cfg.RetryMax
	deployClient.RetryWaitMin = 500 * time.Millisecond
	deployClient.RetryWaitMax = 5 * time.Second
	deployClient.HTTPClient.Timeout = cfg.Timeout
	deployClient.Logger = cfg.Logger

	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		statusClient: &http.Client{Timeout: cfg.Timeout},
		deployClient: deployClient,
	}
}

type statusEnvelope struct {
	Data *domain.StatusReport `json:"data"`
}

// DeploymentStatus fetches the current deployment status of a shop.
func (c *Client) DeploymentStatus(ctx context.Context, token, shopID string) (*domain.StatusReport, error) {
	endpoint := fmt.Sprintf("%s/v1/shops/%s/deployment-status", c.baseURL, url.PathEscape(shopID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("gateway: create status request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.statusClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway: deployment status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("gateway: deployment status: %w", &StatusError{StatusCode: resp.StatusCode, Body: string(body)})
	}

	var envelope statusEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("gateway: decode deployment status: %w", err)
	}
	if envelope.Data == nil {
		return &domain.StatusReport{}, nil
	}
	return envelope.Data, nil
}

// Deploy asks the gateway to build and publish the storefront for tenant.
func (c *Client) Deploy(ctx context.Context, token string, tenant domain.Tenant, template string) error {
	payload, err := json.Marshal(map[string]string{
		"subdomain":     tenant.Subdomain,
		"template_name": template,
	})
	if err != nil {
		return fmt.Errorf("gateway: marshal deploy request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/shops/%s/deploy", c.baseURL, url.PathEscape(tenant.ShopID))
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("gateway: create deploy request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.deployClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway: deploy: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("gateway: deploy: %w", &StatusError{StatusCode: resp.StatusCode, Body: string(body)})
	}
	return nil
}
