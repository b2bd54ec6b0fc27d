// Package webhook verifies and decodes provider webhook deliveries into
// normalized events.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	reconcilerdomain "github.com/smallbiznis/meterline/internal/reconciler/domain"
)

var (
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidEvent     = errors.New("invalid_event")
)

type Decoder struct {
	secret string
}

func NewDecoder(webhookSecret string) *Decoder {
	return &Decoder{secret: strings.TrimSpace(webhookSecret)}
}

// Verify checks the Stripe-Signature header against the raw payload.
// Header format: t=<unix>,v1=<hex hmac>[,v1=...].
func (d *Decoder) Verify(payload []byte, headers http.Header) error {
	if d.secret == "" {
		return ErrInvalidSignature
	}

	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(d.secret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

type providerEvent struct {
	ID   string            `json:"id"`
	Type string            `json:"type"`
	Data providerEventData `json:"data"`
}

type providerEventData struct {
	Object json.RawMessage `json:"object"`
}

type providerSubscription struct {
	ID                 string            `json:"id"`
	Customer           string            `json:"customer"`
	Status             string            `json:"status"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	TrialEnd           int64             `json:"trial_end"`
	Items              providerItemList  `json:"items"`
	Metadata           map[string]string `json:"metadata"`
}

type providerItemList struct {
	Data []providerItem `json:"data"`
}

type providerItem struct {
	Quantity int64         `json:"quantity"`
	Price    providerPrice `json:"price"`
}

type providerPrice struct {
	ID string `json:"id"`
}

type providerInvoice struct {
	Customer      string            `json:"customer"`
	Subscription  string            `json:"subscription"`
	BillingReason string            `json:"billing_reason"`
	PeriodStart   int64             `json:"period_start"`
	PeriodEnd     int64             `json:"period_end"`
	Metadata      map[string]string `json:"metadata"`
	Lines         providerLineList  `json:"lines"`
}

type providerLineList struct {
	Data []providerLine `json:"data"`
}

type providerLine struct {
	Period providerLinePeriod `json:"period"`
	Price  providerPrice      `json:"price"`
}

type providerLinePeriod struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

type providerCheckoutSession struct {
	Customer     string            `json:"customer"`
	Subscription string            `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

// Parse maps a verified payload to the normalized event the reconciler
// consumes. Checkout sessions carry no subscription snapshot, so they
// decode to a bare event keyed by entity; the subscription events that
// follow fill in the rest.
func (d *Decoder) Parse(payload []byte) (*reconcilerdomain.Event, error) {
	var raw providerEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, ErrInvalidPayload
	}
	if strings.TrimSpace(raw.ID) == "" {
		return nil, ErrInvalidEvent
	}

	event := &reconcilerdomain.Event{
		ID:   raw.ID,
		Type: reconcilerdomain.EventType(strings.TrimSpace(raw.Type)),
	}

	switch event.Type {
	case reconcilerdomain.EventSubscriptionCreated,
		reconcilerdomain.EventSubscriptionUpdated,
		reconcilerdomain.EventSubscriptionDeleted:
		var sub providerSubscription
		if err := json.Unmarshal(raw.Data.Object, &sub); err != nil {
			return nil, ErrInvalidPayload
		}
		event.Payload = subscriptionPayload(sub)
	case reconcilerdomain.EventPaymentSucceeded,
		reconcilerdomain.EventPaymentFailed:
		var inv providerInvoice
		if err := json.Unmarshal(raw.Data.Object, &inv); err != nil {
			return nil, ErrInvalidPayload
		}
		event.Payload = invoicePayload(inv)
	case reconcilerdomain.EventCheckoutCompleted:
		var session providerCheckoutSession
		if err := json.Unmarshal(raw.Data.Object, &session); err != nil {
			return nil, ErrInvalidPayload
		}
		event.Payload = reconcilerdomain.EventPayload{
			EntityID:                entityID(session.Metadata, session.Customer),
			ProviderSubscriptionRef: session.Subscription,
		}
	}

	return event, nil
}

func subscriptionPayload(sub providerSubscription) reconcilerdomain.EventPayload {
	payload := reconcilerdomain.EventPayload{
		EntityID:                entityID(sub.Metadata, sub.Customer),
		ProviderSubscriptionRef: sub.ID,
		Status:                  sub.Status,
		PeriodStart:             sub.CurrentPeriodStart,
		PeriodEnd:               sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:       sub.CancelAtPeriodEnd,
		TrialEnd:                sub.TrialEnd,
	}
	if len(sub.Items.Data) > 0 {
		payload.PriceRef = sub.Items.Data[0].Price.ID
		payload.SeatQuantity = sub.Items.Data[0].Quantity
	}
	if len(sub.Items.Data) > 1 {
		payload.AddonQuantity = sub.Items.Data[1].Quantity
	}
	return payload
}

func invoicePayload(inv providerInvoice) reconcilerdomain.EventPayload {
	payload := reconcilerdomain.EventPayload{
		EntityID:                entityID(inv.Metadata, inv.Customer),
		ProviderSubscriptionRef: inv.Subscription,
		BillingReason:           inv.BillingReason,
		PeriodStart:             inv.PeriodStart,
		PeriodEnd:               inv.PeriodEnd,
	}
	// Line periods are authoritative for the billing window when present.
	if len(inv.Lines.Data) > 0 {
		line := inv.Lines.Data[0]
		if line.Period.Start > 0 && line.Period.End > line.Period.Start {
			payload.PeriodStart = line.Period.Start
			payload.PeriodEnd = line.Period.End
		}
		payload.PriceRef = line.Price.ID
	}
	return payload
}

func entityID(metadata map[string]string, customer string) string {
	if v := strings.TrimSpace(metadata["entity_id"]); v != "" {
		return v
	}
	return strings.TrimSpace(customer)
}

func parseSignatureHeader(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}
