// Package source implements the HTTP client for the provider API: the
// paginated resource listing and the per-item document endpoint.
package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/pickemhq/sportsfeed/internal/feed"
)

const maxBodyBytes = 8 << 20

// ClientConfig configures the provider client.
type ClientConfig struct {
	HTTPClient *http.Client
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	UserAgent  string
}

// Client talks to the provider over HTTP. Network failures and 5xx/429
// responses come back wrapped in feed.ErrTransientFetch so the queue's
// redelivery policy retries them; 4xx responses are terminal.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	userAgent  string
	logger     *zap.Logger
}

// NewClient builds a provider client.
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		userAgent:  cfg.UserAgent,
		logger:     logger,
	}
}

// ListPage fetches one page of the resource listing behind endpoint.
// Relative endpoints resolve against the configured base URL.
func (c *Client) ListPage(ctx context.Context, endpoint string, pageIndex, pageSize int) (feed.ListingPage, error) {
	target, err := c.resolve(endpoint)
	if err != nil {
		return feed.ListingPage{}, err
	}

	q := target.Query()
	q.Set("page", strconv.Itoa(pageIndex))
	q.Set("limit", strconv.Itoa(pageSize))
	target.RawQuery = q.Encode()

	body, err := c.get(ctx, target.String())
	if err != nil {
		return feed.ListingPage{}, err
	}

	var page feed.ListingPage
	if err := sonic.Unmarshal(body, &page); err != nil {
		return feed.ListingPage{}, errors.Mark(
			errors.Wrapf(err, "decode listing page url=%s", target.String()),
			feed.ErrValidation,
		)
	}
	return page, nil
}

// FetchDocument retrieves one item's raw payload.
func (c *Client) FetchDocument(ctx context.Context, uri string) ([]byte, error) {
	target, err := c.resolve(uri)
	if err != nil {
		return nil, err
	}
	return c.get(ctx, target.String())
}

func (c *Client) resolve(endpoint string) (*url.URL, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, errors.Mark(errors.New("endpoint is empty"), feed.ErrValidation)
	}
	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		u, err := url.Parse(trimmed)
		if err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "parse endpoint %q", trimmed), feed.ErrValidation)
		}
		return u, nil
	}
	u, err := url.Parse(c.baseURL + "/" + strings.TrimLeft(trimmed, "/"))
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "parse endpoint %q", trimmed), feed.ErrValidation)
	}
	return u, nil
}

func (c *Client) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "fetch %s", redact(target)), feed.ErrTransientFetch)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "read body %s", redact(target)), feed.ErrTransientFetch)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case isRetryableStatus(resp.StatusCode):
		return nil, errors.Mark(
			errors.Newf("fetch %s: status=%d", redact(target), resp.StatusCode),
			feed.ErrTransientFetch,
		)
	default:
		return nil, errors.Mark(
			errors.Newf("fetch %s: status=%d body=%s", redact(target), resp.StatusCode, truncate(string(body), 512)),
			feed.ErrValidation,
		)
	}
}

func isRetryableStatus(statusCode int) bool {
	return statusCode == http.StatusRequestTimeout ||
		statusCode == http.StatusTooManyRequests ||
		statusCode >= http.StatusInternalServerError
}

func redact(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	for _, param := range []string{"api_key", "apikey", "token"} {
		if q.Has(param) {
			q.Set(param, "***")
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return fmt.Sprintf("%s...(truncated)", value[:max])
}
