package hubspot

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/flexprice/dealpay/internal/config"
	"github.com/flexprice/dealpay/internal/domain/crm"
	ierr "github.com/flexprice/dealpay/internal/errors"
	"github.com/flexprice/dealpay/internal/httpclient"
	"github.com/flexprice/dealpay/internal/logger"
	"golang.org/x/time/rate"
)

// Client implements crm.Client on top of the HubSpot CRM v3 API
type Client struct {
	httpClient   httpclient.Client
	baseURL      string
	accessToken  string
	clientSecret string
	limiter      *rate.Limiter
	logger       *logger.Logger

	triggerProperty string
	defaultCurrency string
}

var _ crm.Client = (*Client)(nil)

// NewClient creates a new HubSpot client. Calls are throttled to the
// configured requests per second shared by every caller of the client.
func NewClient(httpClient httpclient.Client, cfg *config.Configuration, logger *logger.Logger) *Client {
	return &Client{
		httpClient:      httpClient,
		baseURL:         strings.TrimSuffix(cfg.HubSpot.BaseURL, "/"),
		accessToken:     cfg.HubSpot.AccessToken,
		clientSecret:    cfg.HubSpot.ClientSecret,
		limiter:         rate.NewLimiter(rate.Limit(cfg.HubSpot.RequestsPerSecond), cfg.HubSpot.Burst),
		logger:          logger,
		triggerProperty: cfg.Payments.Trigger.Property,
		defaultCurrency: cfg.Payments.SettlementCurrency,
	}
}

// VerifyWebhookSignatureV3 verifies the HubSpot webhook signature (v3 format)
// v3 format: Base64(HMAC-SHA256(clientSecret, method + uri + body + timestamp))
func (c *Client) VerifyWebhookSignatureV3(method string, uri string, requestBody []byte, timestamp string, signature string) bool {
	if signature == "" || c.clientSecret == "" {
		return false
	}

	sourceString := method + uri + string(requestBody) + timestamp

	mac := hmac.New(sha256.New, []byte(c.clientSecret))
	mac.Write([]byte(sourceString))
	computedSignature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	isValid := hmac.Equal([]byte(computedSignature), []byte(signature))
	if !isValid {
		c.logger.Warnw("webhook signature verification failed",
			"source_string_length", len(sourceString))
	}
	return isValid
}

// do sends one API call. A nil body sends no payload; a nil out discards the response.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return ierr.WithError(err).
			WithHint("HubSpot call cancelled while waiting for the rate limiter").
			Mark(ierr.ErrHTTPClient)
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return ierr.WithError(err).
				WithHint("Failed to encode HubSpot request").
				Mark(ierr.ErrInternal)
		}
	}

	url := c.baseURL + path
	resp, err := c.httpClient.Send(ctx, &httpclient.Request{
		Method: method,
		URL:    url,
		Headers: map[string]string{
			"Authorization": "Bearer " + c.accessToken,
			"Accept":        "application/json",
		},
		Body: payload,
	})
	if err != nil {
		return c.wrapError(err, method, path)
	}

	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return ierr.WithError(err).
			WithHintf("Failed to decode HubSpot response of %s %s", method, path).
			Mark(ierr.ErrInternal)
	}
	return nil
}

func (c *Client) wrapError(err error, method, path string) error {
	httpErr, ok := httpclient.IsHTTPError(err)
	if !ok {
		c.logger.Errorw("http client error calling hubspot",
			"method", method,
			"path", path,
			"error", err)
		return ierr.WithError(err).
			WithHint("Check HubSpot API connectivity and access token").
			Mark(ierr.ErrHTTPClient)
	}

	var apiErr errorResponse
	_ = json.Unmarshal(httpErr.Response, &apiErr)

	if httpErr.StatusCode == http.StatusNotFound {
		return ierr.WithError(err).
			WithHintf("HubSpot object not found: %s", path).
			WithReportableDetails(map[string]any{"path": path}).
			Mark(ierr.ErrNotFound)
	}

	c.logger.Errorw("hubspot api error",
		"method", method,
		"path", path,
		"status_code", httpErr.StatusCode,
		"category", apiErr.Category,
		"message", apiErr.Message,
		"correlation_id", apiErr.CorrelationID)
	return ierr.WithError(err).
		WithHint(fmt.Sprintf("HubSpot API returned status %d", httpErr.StatusCode)).
		WithReportableDetails(map[string]any{
			"path":           path,
			"status_code":    httpErr.StatusCode,
			"message":        apiErr.Message,
			"correlation_id": apiErr.CorrelationID,
		}).
		Mark(ierr.ErrHTTPClient)
}

// batchRead reads objects of one type in chunks of batchReadLimit
func (c *Client) batchRead(ctx context.Context, objectType string, ids []string, properties []string) ([]ObjectResponse, error) {
	results := make([]ObjectResponse, 0, len(ids))
	for start := 0; start < len(ids); start += batchReadLimit {
		end := min(start+batchReadLimit, len(ids))
		req := BatchReadRequest{Properties: properties}
		for _, id := range ids[start:end] {
			req.Inputs = append(req.Inputs, BatchReadRef{ID: id})
		}

		var resp BatchReadResponse
		path := fmt.Sprintf("/crm/v3/objects/%s/batch/read", objectType)
		if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
			return nil, err
		}
		results = append(results, resp.Results...)
	}
	return results, nil
}
