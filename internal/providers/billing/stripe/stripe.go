// Package stripe talks to a Stripe-compatible billing API over its
// form-encoded HTTP surface.
package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	billingdomain "github.com/smallbiznis/meterline/internal/providers/billing/domain"
	"go.uber.org/zap"
)

type Config struct {
	APIBase   string
	SecretKey string
	Timeout   time.Duration
}

type Client struct {
	log     *zap.Logger
	apiBase string
	secret  string
	http    *http.Client
}

func NewClient(cfg Config, log *zap.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.APIBase), "/")
	if base == "" {
		return nil, billingdomain.ErrInvalidConfig
	}
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, billingdomain.ErrInvalidConfig
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		log:     log.Named("providers.billing.stripe"),
		apiBase: base,
		secret:  cfg.SecretKey,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

type subscriptionResponse struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	TrialEnd int64  `json:"trial_end"`
}

func (c *Client) CreateTrialSubscription(ctx context.Context, req billingdomain.CreateTrialRequest) (*billingdomain.ProviderSubscription, error) {
	form := url.Values{}
	form.Set("customer", strings.TrimSpace(req.EntityID))
	form.Set("items[0][price]", strings.TrimSpace(req.PriceRef))
	form.Set("trial_end", strconv.FormatInt(req.TrialEnd.Unix(), 10))
	// No payment method on file: the provider must cancel, never charge,
	// when the trial runs out.
	form.Set("trial_settings[end_behavior][missing_payment_method]", "cancel")
	form.Set("metadata[entity_id]", strings.TrimSpace(req.EntityID))

	var resp subscriptionResponse
	if err := c.do(ctx, http.MethodPost, "/v1/subscriptions", form, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, billingdomain.ErrProviderRejected
	}

	return &billingdomain.ProviderSubscription{
		Ref:      resp.ID,
		Status:   resp.Status,
		TrialEnd: time.Unix(resp.TrialEnd, 0).UTC(),
	}, nil
}

func (c *Client) CancelSubscription(ctx context.Context, subscriptionRef string) error {
	subscriptionRef = strings.TrimSpace(subscriptionRef)
	if subscriptionRef == "" {
		return billingdomain.ErrMissingRef
	}
	return c.do(ctx, http.MethodDelete, "/v1/subscriptions/"+url.PathEscape(subscriptionRef), nil, nil)
}

func (c *Client) UpdateAddonQuantity(ctx context.Context, subscriptionRef, priceRef string, quantity int64) error {
	subscriptionRef = strings.TrimSpace(subscriptionRef)
	if subscriptionRef == "" {
		return billingdomain.ErrMissingRef
	}

	form := url.Values{}
	form.Set("items[0][price]", strings.TrimSpace(priceRef))
	form.Set("items[0][quantity]", strconv.FormatInt(quantity, 10))
	form.Set("proration_behavior", "create_prorations")

	return c.do(ctx, http.MethodPost, "/v1/subscriptions/"+url.PathEscape(subscriptionRef), form, nil)
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiBase+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if method != http.MethodGet {
		req.Header.Set("Idempotency-Key", uuid.NewString())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", billingdomain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %v", billingdomain.ErrProviderUnavailable, err)
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", billingdomain.ErrProviderUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		c.log.Warn("provider rejected request",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return fmt.Errorf("%w: status %d", billingdomain.ErrProviderRejected, resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("%w: %v", billingdomain.ErrProviderRejected, err)
		}
	}
	return nil
}
