package strava

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
)

// AppCredentials identify the API application for push subscription calls,
// which are not made on behalf of an athlete.
type AppCredentials struct {
	ClientID     string
	ClientSecret string
}

type subscriptionResponse struct {
	ID int64 `json:"id"`
}

// CreateSubscription registers callbackURL for webhook events and returns the
// subscription id. The API calls back synchronously with verifyToken before
// answering, so the webhook endpoint must already be serving.
func (c *Client) CreateSubscription(ctx context.Context, creds AppCredentials, callbackURL, verifyToken string) (int64, error) {
	form := url.Values{}
	form.Set("client_id", creds.ClientID)
	form.Set("client_secret", creds.ClientSecret)
	form.Set("callback_url", callbackURL)
	form.Set("verify_token", verifyToken)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/push_subscriptions", strings.NewReader(form.Encode()))
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var out subscriptionResponse
	if _, err := c.do(req, &out); err != nil {
		return 0, fmt.Errorf("creating push subscription: %w", err)
	}
	if out.ID == 0 {
		return 0, fmt.Errorf("creating push subscription: response has no id")
	}
	return out.ID, nil
}

// DeleteSubscription removes a push subscription. Success is a 204.
func (c *Client) DeleteSubscription(ctx context.Context, creds AppCredentials, subscriptionID int64) error {
	q := url.Values{}
	q.Set("client_id", creds.ClientID)
	q.Set("client_secret", creds.ClientSecret)

	rawURL := fmt.Sprintf("%s/push_subscriptions/%d?%s", c.baseURL, subscriptionID, q.Encode())
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodDelete, rawURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deleting push subscription: %w", err)
	}
	defer resp.Body.Close()
	c.updateRateLimit(resp)

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("deleting push subscription: %w", &StatusError{StatusCode: resp.StatusCode})
	}
	return nil
}
