package billing

import (
	"context"

	billingdomain "github.com/smallbiznis/meterline/internal/providers/billing/domain"
)

// disabledClient stands in when no provider credentials are configured.
// Every call fails with ErrInvalidConfig so callers abort before touching
// local state.
type disabledClient struct{}

func (disabledClient) CreateTrialSubscription(context.Context, billingdomain.CreateTrialRequest) (*billingdomain.ProviderSubscription, error) {
	return nil, billingdomain.ErrInvalidConfig
}

func (disabledClient) CancelSubscription(context.Context, string) error {
	return billingdomain.ErrInvalidConfig
}

func (disabledClient) UpdateAddonQuantity(context.Context, string, string, int64) error {
	return billingdomain.ErrInvalidConfig
}
