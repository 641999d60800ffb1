package netsuite

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/atlasfin/suitesync/pkg/config"
	"github.com/atlasfin/suitesync/pkg/metrics"
	"github.com/atlasfin/suitesync/pkg/syncerrors"
)

// Client is the read-only SuiteTalk REST client. It is the only component
// that performs network I/O against the upstream system, and it never
// issues a mutating call: any non-GET through Request fails with a
// read_only error before touching the network. SuiteQL submission is
// transport-level POST but logically read-only and therefore exempt.
type Client struct {
	auth       AuthProvider
	httpClient *http.Client
	logger     *zap.Logger
	metrics    *metrics.Metrics

	baseURL  string
	queryURL string
	retry    RetryPolicy

	sleep func(ctx context.Context, d time.Duration) error
}

// QueryResult is the paginated response envelope shared by the list and
// SuiteQL endpoints. SuiteQL items carry complete field sets; the list
// endpoint carries ids only.
type QueryResult struct {
	Items        []map[string]interface{} `json:"items"`
	HasMore      bool                     `json:"hasMore"`
	TotalResults int                      `json:"totalResults"`
	Count        int                      `json:"count"`
	Offset       int                      `json:"offset"`
}

// NewClient creates a read-only client for the configured account
func NewClient(cfg *config.Config, auth AuthProvider, log *zap.Logger, m *metrics.Metrics) *Client {
	return &Client{
		auth:       auth,
		httpClient: &http.Client{Timeout: cfg.NetSuite.RequestTimeout},
		logger:     log.With(zap.String("component", "netsuite_client")),
		metrics:    m,
		baseURL:    recordBaseURL(cfg.NetSuite.AccountID),
		queryURL:   suiteQLURL(cfg.NetSuite.AccountID),
		retry: RetryPolicy{
			MaxAttempts: cfg.Sync.MaxRetries,
			Delay:       cfg.Sync.RetryDelay,
		},
		sleep: sleepContext,
	}
}

// enforceReadOnly rejects any mutating HTTP method
func (c *Client) enforceReadOnly(method string) error {
	if method != http.MethodGet {
		c.logger.Error("attempted mutating operation on read-only client",
			zap.String("method", method))
		return syncerrors.Newf(syncerrors.ErrorTypeReadOnly,
			"attempted %s operation: this client is read-only, only GET is allowed", method)
	}
	return nil
}

// Request performs a GET against the record API and returns the parsed body
func (c *Client) Request(ctx context.Context, method, endpoint string, params url.Values) (map[string]interface{}, error) {
	if err := c.enforceReadOnly(method); err != nil {
		return nil, err
	}

	fullURL := c.baseURL + "/" + endpoint
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	body, err := c.do(ctx, method, fullURL, nil, nil)
	if err != nil {
		return nil, err
	}

	var result map[string]interface{}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, syncerrors.Wrapf(err, syncerrors.ErrorTypeAPI,
			"unparseable response from %s", endpoint)
	}
	return result, nil
}

// GetRecord fetches a single full record by internal id. Diagnostic
// fallback only; the sync hot path uses QuerySuiteQL.
func (c *Client) GetRecord(ctx context.Context, recordType, id string, fieldNames []string) (map[string]interface{}, error) {
	params := url.Values{}
	for _, f := range fieldNames {
		params.Add("fields", f)
	}
	return c.Request(ctx, http.MethodGet, recordType+"/"+id, params)
}

// QueryRecords lists records with optional filter. The envelope items carry
// ids and links only; full data needs GetRecord per id, which is why sync
// uses QuerySuiteQL instead.
func (c *Client) QueryRecords(ctx context.Context, recordType, query string, limit, offset int) (*QueryResult, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))
	if query != "" {
		params.Set("q", query)
	}

	fullURL := c.baseURL + "/" + recordType + "?" + params.Encode()
	body, err := c.do(ctx, http.MethodGet, fullURL, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeEnvelope(body)
}

// QuerySuiteQL executes a SuiteQL query returning complete records in a
// single round trip, up to limit rows from offset. This is the bulk fetch
// path that avoids one request per record.
func (c *Client) QuerySuiteQL(ctx context.Context, query string, limit, offset int) (*QueryResult, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))
	fullURL := c.queryURL + "?" + params.Encode()

	payload, err := json.Marshal(map[string]string{"q": query})
	if err != nil {
		return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeValidation,
			"failed to encode query payload")
	}

	// Required by the SuiteQL endpoint.
	headers := map[string]string{"Prefer": "transient"}

	body, err := c.do(ctx, http.MethodPost, fullURL, payload, headers)
	if err != nil {
		return nil, err
	}
	return decodeEnvelope(body)
}

// do executes one logical request with retry. Auth headers are recomputed
// on every attempt, so the signed scheme gets a fresh nonce and timestamp
// per wire request.
func (c *Client) do(ctx context.Context, method, fullURL string, payload []byte, headers map[string]string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			c.metrics.APIRetries.Inc()
			wait := c.retry.DelayFor(attempt - 1)
			c.logger.Warn("retrying request",
				zap.String("url", fullURL),
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", c.retry.MaxAttempts),
				zap.Duration("backoff", wait))
			if err := c.sleep(ctx, wait); err != nil {
				return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeConnection,
					"retry interrupted")
			}
		}

		body, err := c.attempt(ctx, method, fullURL, payload, headers)
		if err == nil {
			return body, nil
		}
		if !syncerrors.IsRetryable(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, syncerrors.Wrapf(lastErr, syncerrors.ErrorTypeConnection,
		"request failed after %d attempts", c.retry.MaxAttempts).
		WithDetail("url", fullURL)
}

// attempt executes a single wire request and classifies the outcome:
// 200 parsed body, 4xx non-retryable api error, 5xx or transport failure
// retryable connection error.
func (c *Client) attempt(ctx context.Context, method, fullURL string, payload []byte, headers map[string]string) ([]byte, error) {
	authHeaders, err := c.auth.AuthHeaders(ctx, method, fullURL)
	if err != nil {
		c.metrics.APIRequests.WithLabelValues(method, metrics.OutcomeNetworkError).Inc()
		return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeConnection,
			"failed to obtain auth headers")
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return nil, syncerrors.Wrapf(err, syncerrors.ErrorTypeValidation,
			"failed to build request for %s", fullURL)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	for k, v := range authHeaders {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.APIRequests.WithLabelValues(method, metrics.OutcomeNetworkError).Inc()
		return nil, syncerrors.Wrapf(err, syncerrors.ErrorTypeConnection,
			"request to %s failed", fullURL)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.APIRequests.WithLabelValues(method, metrics.OutcomeNetworkError).Inc()
		return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeConnection,
			"failed to read response body")
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		c.metrics.APIRequests.WithLabelValues(method, metrics.OutcomeSuccess).Inc()
		return body, nil

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		c.metrics.APIRequests.WithLabelValues(method, metrics.OutcomeClientError).Inc()
		detail := parseErrorDetail(body)
		c.logger.Error("upstream rejected request",
			zap.Int("status", resp.StatusCode),
			zap.String("detail", detail))
		return nil, syncerrors.Newf(syncerrors.ErrorTypeAPI,
			"upstream error (%d): %s", resp.StatusCode, detail).
			WithDetail("status", resp.StatusCode)

	default:
		c.metrics.APIRequests.WithLabelValues(method, metrics.OutcomeServerError).Inc()
		return nil, syncerrors.Newf(syncerrors.ErrorTypeConnection,
			"upstream server error (%d): %s", resp.StatusCode, parseErrorDetail(body))
	}
}

// parseErrorDetail extracts the human-readable message from a NetSuite
// error payload, falling back to the raw body.
func parseErrorDetail(body []byte) string {
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return string(body)
	}

	if details, ok := payload["o:errorDetails"].([]interface{}); ok && len(details) > 0 {
		if first, ok := details[0].(map[string]interface{}); ok {
			if detail, ok := first["detail"].(string); ok && detail != "" {
				return detail
			}
		}
	}
	if msg, ok := payload["message"].(string); ok && msg != "" {
		return msg
	}
	return string(body)
}

func decodeEnvelope(body []byte) (*QueryResult, error) {
	var result QueryResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeAPI,
			"unparseable query response envelope")
	}
	return &result, nil
}
