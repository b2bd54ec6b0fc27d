package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"testing"
	"time"

	reconcilerdomain "github.com/smallbiznis/meterline/internal/reconciler/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test"

func signedHeader(secret string, payload []byte, at time.Time) http.Header {
	timestamp := fmt.Sprintf("%d", at.Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp + "." + string(payload)))

	headers := http.Header{}
	headers.Set("Stripe-Signature", fmt.Sprintf("t=%s,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil))))
	return headers
}

func TestVerify(t *testing.T) {
	decoder := NewDecoder(testSecret)
	payload := []byte(`{"id":"evt_1","type":"customer.subscription.created"}`)
	now := time.Now()

	require.NoError(t, decoder.Verify(payload, signedHeader(testSecret, payload, now)))

	assert.ErrorIs(t, decoder.Verify(payload, signedHeader("whsec_other", payload, now)), ErrInvalidSignature)

	tampered := []byte(`{"id":"evt_2","type":"customer.subscription.created"}`)
	assert.ErrorIs(t, decoder.Verify(tampered, signedHeader(testSecret, payload, now)), ErrInvalidSignature)

	assert.ErrorIs(t, decoder.Verify(payload, http.Header{}), ErrInvalidSignature)

	malformed := http.Header{}
	malformed.Set("Stripe-Signature", "nonsense")
	assert.ErrorIs(t, decoder.Verify(payload, malformed), ErrInvalidSignature)
}

func TestVerifyWithoutSecret(t *testing.T) {
	decoder := NewDecoder("  ")
	payload := []byte(`{}`)
	assert.ErrorIs(t, decoder.Verify(payload, signedHeader(testSecret, payload, time.Now())), ErrInvalidSignature)
}

func TestParseSubscriptionEvent(t *testing.T) {
	decoder := NewDecoder(testSecret)
	payload := []byte(`{
		"id": "evt_sub_1",
		"type": "customer.subscription.updated",
		"data": {
			"object": {
				"id": "sub_1",
				"customer": "cus_1",
				"status": "active",
				"current_period_start": 1709251200,
				"current_period_end": 1711929600,
				"cancel_at_period_end": true,
				"trial_end": 0,
				"metadata": {"entity_id": "ent_1"},
				"items": {
					"data": [
						{"quantity": 3, "price": {"id": "price_standard"}},
						{"quantity": 2, "price": {"id": "price_addon"}}
					]
				}
			}
		}
	}`)

	event, err := decoder.Parse(payload)
	require.NoError(t, err)
	assert.Equal(t, "evt_sub_1", event.ID)
	assert.Equal(t, reconcilerdomain.EventSubscriptionUpdated, event.Type)
	assert.Equal(t, "ent_1", event.Payload.EntityID)
	assert.Equal(t, "sub_1", event.Payload.ProviderSubscriptionRef)
	assert.Equal(t, "price_standard", event.Payload.PriceRef)
	assert.Equal(t, int64(3), event.Payload.SeatQuantity)
	assert.Equal(t, int64(2), event.Payload.AddonQuantity)
	assert.Equal(t, int64(1709251200), event.Payload.PeriodStart)
	assert.Equal(t, int64(1711929600), event.Payload.PeriodEnd)
	assert.True(t, event.Payload.CancelAtPeriodEnd)
}

func TestParseFallsBackToCustomerID(t *testing.T) {
	decoder := NewDecoder(testSecret)
	payload := []byte(`{
		"id": "evt_sub_2",
		"type": "customer.subscription.created",
		"data": {
			"object": {
				"id": "sub_2",
				"customer": "cus_2",
				"status": "trialing",
				"current_period_start": 1709251200,
				"current_period_end": 1710460800
			}
		}
	}`)

	event, err := decoder.Parse(payload)
	require.NoError(t, err)
	assert.Equal(t, "cus_2", event.Payload.EntityID)
	assert.Equal(t, "trialing", event.Payload.Status)
}

func TestParseInvoiceEvent(t *testing.T) {
	decoder := NewDecoder(testSecret)
	payload := []byte(`{
		"id": "evt_inv_1",
		"type": "invoice.payment_succeeded",
		"data": {
			"object": {
				"customer": "cus_1",
				"subscription": "sub_1",
				"billing_reason": "subscription_cycle",
				"period_start": 1709000000,
				"period_end": 1709001000,
				"metadata": {"entity_id": "ent_1"},
				"lines": {
					"data": [
						{
							"period": {"start": 1711929600, "end": 1714521600},
							"price": {"id": "price_standard"}
						}
					]
				}
			}
		}
	}`)

	event, err := decoder.Parse(payload)
	require.NoError(t, err)
	assert.Equal(t, reconcilerdomain.EventPaymentSucceeded, event.Type)
	assert.Equal(t, "subscription_cycle", event.Payload.BillingReason)
	// The line period wins over the invoice header period.
	assert.Equal(t, int64(1711929600), event.Payload.PeriodStart)
	assert.Equal(t, int64(1714521600), event.Payload.PeriodEnd)
	assert.Equal(t, "price_standard", event.Payload.PriceRef)
}

func TestParseCheckoutSession(t *testing.T) {
	decoder := NewDecoder(testSecret)
	payload := []byte(`{
		"id": "evt_cs_1",
		"type": "checkout.session.completed",
		"data": {
			"object": {
				"customer": "cus_1",
				"subscription": "sub_1",
				"metadata": {"entity_id": "ent_1"}
			}
		}
	}`)

	event, err := decoder.Parse(payload)
	require.NoError(t, err)
	assert.Equal(t, reconcilerdomain.EventCheckoutCompleted, event.Type)
	assert.Equal(t, "ent_1", event.Payload.EntityID)
	assert.Equal(t, "sub_1", event.Payload.ProviderSubscriptionRef)
}

func TestParseRejectsBadInput(t *testing.T) {
	decoder := NewDecoder(testSecret)

	_, err := decoder.Parse([]byte("not json"))
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = decoder.Parse([]byte(`{"type":"customer.subscription.created"}`))
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestParsePassesUnknownTypesThrough(t *testing.T) {
	decoder := NewDecoder(testSecret)

	event, err := decoder.Parse([]byte(`{"id":"evt_x","type":"customer.updated","data":{"object":{}}}`))
	require.NoError(t, err)
	assert.Equal(t, reconcilerdomain.EventType("customer.updated"), event.Type)
}
