package insights

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"foodflow/copilot/pkg/clients"

	"github.com/failsafe-go/failsafe-go"
)

type APIError struct {
	StatusCode int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("insights returned status: %d", e.StatusCode)
}

// Client calls the FoodFlow insights service, the analytical backend that
// computes forecasts, risk scores and margin analyses on demand.
type Client struct {
	baseURL      string
	token        string
	client       *http.Client
	httpExecutor failsafe.Executor[*http.Response]
	shouldRetry  func(resp *http.Response, err error) bool
}

type Option func(*Client)

func NewClient(baseURL, token string, opts ...Option) *Client {
	defaultConfig := clients.DefaultHTTPExecutorConfig()
	c := &Client{
		baseURL:      baseURL,
		token:        token,
		client:       &http.Client{Timeout: 30 * time.Second, Transport: clients.DefaultTransport()},
		httpExecutor: clients.NewHTTPExecutor(defaultConfig),
		shouldRetry:  defaultConfig.ShouldRetry,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.client = httpClient
		}
	}
}

func WithHTTPExecutorConfig(cfg clients.HTTPExecutorConfig) Option {
	return func(c *Client) {
		c.httpExecutor = clients.NewHTTPExecutor(cfg)
		c.shouldRetry = cfg.ShouldRetry
	}
}

func WithHTTPExecutor(executor failsafe.Executor[*http.Response], shouldRetry func(resp *http.Response, err error) bool) Option {
	return func(c *Client) {
		if executor != nil {
			c.httpExecutor = executor
			c.shouldRetry = shouldRetry
		}
	}
}

func (c *Client) doRequest(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	if c.httpExecutor == nil {
		req, err := build(ctx)
		if err != nil {
			return nil, err
		}
		return c.client.Do(req)
	}

	return clients.ExecuteHTTP(ctx, c.httpExecutor, func() (*http.Response, error) {
		req, err := build(ctx)
		if err != nil {
			return nil, err
		}
		resp, err := c.client.Do(req)
		if c.shouldRetry != nil && c.shouldRetry(resp, err) {
			if resp != nil && resp.Body != nil {
				_ = resp.Body.Close()
			}
		}
		return resp, err
	})
}

// post sends a tenant-scoped request to an insights endpoint and decodes the
// JSON document it returns. Responses are passed through to the model as-is,
// so no typed decoding happens here.
func (c *Client) post(ctx context.Context, path, tenantID string, params map[string]interface{}) (map[string]interface{}, error) {
	payload := make(map[string]interface{}, len(params)+1)
	for k, v := range params {
		payload[k] = v
	}
	payload["tenant_id"] = tenantID

	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal insights request: %w", err)
	}

	url := c.baseURL + path
	resp, err := c.doRequest(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonBody))
		if err != nil {
			return nil, err
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", tenantID)
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return nil, &APIError{StatusCode: resp.StatusCode}
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode insights response: %w", err)
	}

	return result, nil
}

// Plant operations

func (c *Client) AnalyzeScrap(ctx context.Context, tenantID string, params map[string]interface{}) (map[string]interface{}, error) {
	return c.post(ctx, "/api/v1/plantops/analyze-scrap", tenantID, params)
}

func (c *Client) SuggestTrial(ctx context.Context, tenantID string, params map[string]interface{}) (map[string]interface{}, error) {
	return c.post(ctx, "/api/v1/plantops/suggest-trial", tenantID, params)
}

func (c *Client) CompareBatch(ctx context.Context, tenantID string, params map[string]interface{}) (map[string]interface{}, error) {
	return c.post(ctx, "/api/v1/plantops/compare-batch", tenantID, params)
}

// Food safety and quality

func (c *Client) ComputeLotRisk(ctx context.Context, tenantID string, params map[string]interface{}) (map[string]interface{}, error) {
	return c.post(ctx, "/api/v1/fsq/compute-lot-risk", tenantID, params)
}

func (c *Client) ComputeSupplierRisk(ctx context.Context, tenantID string, params map[string]interface{}) (map[string]interface{}, error) {
	return c.post(ctx, "/api/v1/fsq/compute-supplier-risk", tenantID, params)
}

// Planning

func (c *Client) GenerateForecast(ctx context.Context, tenantID string, params map[string]interface{}) (map[string]interface{}, error) {
	return c.post(ctx, "/api/v1/planning/generate-forecast", tenantID, params)
}

func (c *Client) GenerateProductionPlan(ctx context.Context, tenantID string, params map[string]interface{}) (map[string]interface{}, error) {
	return c.post(ctx, "/api/v1/planning/generate-production-plan", tenantID, params)
}

func (c *Client) RecommendSafetyStocks(ctx context.Context, tenantID string, params map[string]interface{}) (map[string]interface{}, error) {
	return c.post(ctx, "/api/v1/planning/recommend-safety-stocks", tenantID, params)
}

// Brand and co-packer

func (c *Client) ComputeMarginBridge(ctx context.Context, tenantID string, params map[string]interface{}) (map[string]interface{}, error) {
	return c.post(ctx, "/api/v1/brand/compute-margin-bridge", tenantID, params)
}

func (c *Client) ComputeCopackerRisk(ctx context.Context, tenantID string, params map[string]interface{}) (map[string]interface{}, error) {
	return c.post(ctx, "/api/v1/brand/compute-copacker-risk", tenantID, params)
}

// Retail

func (c *Client) ForecastRetailDemand(ctx context.Context, tenantID string, params map[string]interface{}) (map[string]interface{}, error) {
	return c.post(ctx, "/api/v1/retail/forecast-retail-demand", tenantID, params)
}

func (c *Client) RecommendReplenishment(ctx context.Context, tenantID string, params map[string]interface{}) (map[string]interface{}, error) {
	return c.post(ctx, "/api/v1/retail/recommend-replenishment", tenantID, params)
}

func (c *Client) DetectOSAIssues(ctx context.Context, tenantID string, params map[string]interface{}) (map[string]interface{}, error) {
	return c.post(ctx, "/api/v1/retail/detect-osa-issues", tenantID, params)
}

func (c *Client) EvaluatePromo(ctx context.Context, tenantID string, params map[string]interface{}) (map[string]interface{}, error) {
	return c.post(ctx, "/api/v1/retail/evaluate-promo", tenantID, params)
}
