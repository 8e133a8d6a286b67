package strava

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/joshdurbin/fitnerd/internal/logging"
)

const (
	DefaultBaseURL = "https://www.strava.com/api/v3"
	PerPage        = 200
	requestTimeout = 30 * time.Second
)

// Default retry settings
const (
	defaultMaxRetries     = 5
	defaultInitialBackoff = 1 * time.Second
	defaultMaxBackoff     = 5 * time.Minute
)

var (
	// ErrRateLimited indicates the API kept returning 429 after every retry.
	ErrRateLimited = errors.New("rate limited")
	// ErrNotFound is returned for a 404 on a single-resource endpoint.
	ErrNotFound = errors.New("strava: resource not found")
	// ErrUnauthorized means the access token was rejected.
	ErrUnauthorized = errors.New("strava: unauthorized")
)

// StatusError carries an unexpected HTTP status from the API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status code: %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status code: %d: %s", e.StatusCode, e.Body)
}

// TokenSource yields the access token to use for the next request. It is
// called once per request so an expiring token is refreshed mid-sync.
type TokenSource func(ctx context.Context) (string, error)

// StaticToken is a TokenSource for a fixed token.
func StaticToken(token string) TokenSource {
	return func(context.Context) (string, error) { return token, nil }
}

// RetryConfig holds retry/backoff settings
type RetryConfig struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: defaultMaxRetries,
		MinWait:    defaultInitialBackoff,
		MaxWait:    defaultMaxBackoff,
	}
}

// Client is a Strava API client with automatic retry and backoff
type Client struct {
	httpClient *retryablehttp.Client
	baseURL    string
	rateMu     sync.RWMutex
	rateLimit  RateLimitInfo
}

// NewClient creates a client for baseURL; an empty baseURL means the public API.
func NewClient(baseURL string, cfg RetryConfig) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	log := logging.Logger

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.MaxRetries
	client.RetryWaitMin = cfg.MinWait
	client.RetryWaitMax = cfg.MaxWait
	client.HTTPClient.Timeout = requestTimeout
	client.Logger = &logging.LeveledLogger{}
	client.CheckRetry = checkRetry
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	// Rate limited responses wait for the window to reset; everything else
	// backs off exponentially.
	client.Backoff = func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			wait := timeUntilNext15MinWindow(time.Now())
			if seconds, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
				wait = time.Duration(seconds) * time.Second
			}
			if wait > max {
				wait = max
			}
			log.Info().Dur("wait", wait).Int("attempt", attemptNum).Msg("rate limited, waiting before retry")
			return wait
		}

		wait := min * time.Duration(1<<uint(attemptNum))
		if wait > max {
			wait = max
		}
		log.Info().Dur("wait", wait).Int("attempt", attemptNum).Msg("backing off before retry")
		return wait
	}

	client.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, retry int) {
		if retry > 0 {
			log.Info().Str("url", req.URL.Path).Int("attempt", retry+1).Msg("retrying request")
		}
		if logging.IsTraceEnabled() {
			log.Debug().
				Str("method", req.Method).
				Str("url", redactQuery(req.URL)).
				Str("headers", formatHeaders(req.Header)).
				Msg("request headers")
		}
	}

	client.ResponseLogHook = func(_ retryablehttp.Logger, resp *http.Response) {
		if logging.IsTraceEnabled() {
			log.Debug().
				Int("status", resp.StatusCode).
				Str("url", resp.Request.URL.Path).
				Str("headers", formatHeaders(resp.Header)).
				Msg("response headers")
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			rl := parseRateLimitHeaders(resp.Header, time.Now())
			log.Warn().
				Str("url", resp.Request.URL.Path).
				Str("15min_usage", fmt.Sprintf("%d/%d", rl.Usage15Min, rl.Limit15Min)).
				Str("daily_usage", fmt.Sprintf("%d/%d", rl.UsageDaily, rl.LimitDaily)).
				Msg("rate limited by API")
		}
	}

	return &Client{
		httpClient: client,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// checkRetry retries connection errors, 429 and 5xx. Client errors are final.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return true, nil
	}
	return false, nil
}

// GetRateLimit returns the last seen rate limit info with reset times
// recalculated for now.
func (c *Client) GetRateLimit() RateLimitInfo {
	c.rateMu.RLock()
	info := c.rateLimit
	c.rateMu.RUnlock()

	info.recalculate(time.Now())
	return info
}

func (c *Client) updateRateLimit(resp *http.Response) RateLimitInfo {
	rateLimit := parseRateLimitHeaders(resp.Header, time.Now())
	if resp.StatusCode == http.StatusTooManyRequests {
		rateLimit.IsRateLimited = true
	}
	c.rateMu.Lock()
	c.rateLimit = rateLimit
	c.rateMu.Unlock()
	return rateLimit
}

// do sends req and decodes a 2xx JSON body into out (when out is non-nil).
func (c *Client) do(req *retryablehttp.Request, out interface{}) (RateLimitInfo, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return RateLimitInfo{}, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	rateLimit := c.updateRateLimit(resp)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return rateLimit, ErrRateLimited
	case resp.StatusCode == http.StatusNotFound:
		return rateLimit, ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized:
		return rateLimit, ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return rateLimit, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return rateLimit, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return rateLimit, fmt.Errorf("decoding response: %w", err)
	}
	return rateLimit, nil
}

func (c *Client) newAuthorizedRequest(ctx context.Context, method, rawURL string, tokens TokenSource) (*retryablehttp.Request, error) {
	token, err := tokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting access token: %w", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// ListActivities fetches one page of the athlete's activities. A zero after
// lists from the beginning.
func (c *Client) ListActivities(ctx context.Context, tokens TokenSource, page int, after time.Time) ([]Activity, RateLimitInfo, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(PerPage))
	if !after.IsZero() {
		q.Set("after", strconv.FormatInt(after.Unix(), 10))
	}

	req, err := c.newAuthorizedRequest(ctx, http.MethodGet, c.baseURL+"/athlete/activities?"+q.Encode(), tokens)
	if err != nil {
		return nil, RateLimitInfo{}, err
	}

	var activities []Activity
	rateLimit, err := c.do(req, &activities)
	if err != nil {
		return nil, rateLimit, err
	}
	return activities, rateLimit, nil
}

// GetActivity fetches a single activity by id.
func (c *Client) GetActivity(ctx context.Context, tokens TokenSource, activityID int64) (*Activity, error) {
	req, err := c.newAuthorizedRequest(ctx, http.MethodGet, fmt.Sprintf("%s/activities/%d", c.baseURL, activityID), tokens)
	if err != nil {
		return nil, err
	}

	var activity Activity
	if _, err := c.do(req, &activity); err != nil {
		return nil, err
	}
	return &activity, nil
}

// FetchResult reports one fetched page to a ProgressCallback.
type FetchResult struct {
	Activities   []Activity
	RateLimit    RateLimitInfo
	Page         int
	TotalFetched int
}

// ProgressCallback is called after each page is fetched. Returning an error
// stops pagination.
type ProgressCallback func(result FetchResult) error

// FetchActivities walks pages from 1 until the API returns an empty page and
// returns the number of requests made. N activities therefore always cost
// ceil(N/PerPage)+1 requests.
func (c *Client) FetchActivities(ctx context.Context, tokens TokenSource, after time.Time, progress ProgressCallback) (int, error) {
	total := 0
	for page := 1; ; page++ {
		activities, rateLimit, err := c.ListActivities(ctx, tokens, page, after)
		if err != nil {
			return page, fmt.Errorf("fetching page %d: %w", page, err)
		}

		total += len(activities)
		if progress != nil {
			if err := progress(FetchResult{
				Activities:   activities,
				RateLimit:    rateLimit,
				Page:         page,
				TotalFetched: total,
			}); err != nil {
				return page, err
			}
		}

		if len(activities) == 0 {
			return page, nil
		}
	}
}

// redactQuery strips credentials from URLs before they are logged.
func redactQuery(u *url.URL) string {
	q := u.Query()
	for _, k := range []string{"access_token", "client_secret"} {
		if q.Has(k) {
			q.Set(k, "REDACTED")
		}
	}
	clone := *u
	clone.RawQuery = q.Encode()
	return clone.String()
}

// formatHeaders formats HTTP headers for logging, redacting sensitive values
func formatHeaders(headers http.Header) string {
	if len(headers) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		value := strings.Join(headers[k], ", ")
		switch strings.ToLower(k) {
		case "authorization", "cookie", "set-cookie":
			value = "[REDACTED]"
		}
		parts = append(parts, fmt.Sprintf("%s: %q", k, value))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
