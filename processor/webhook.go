package processor

import (
	"encoding/json"
	"errors"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
	"github.com/zeebo/errs"

	"github.com/arkantrust/charge-ledger/models"
)

var (
	// WebhookError marks payloads that failed signature verification or
	// could not be decoded. Redelivery will not fix them.
	WebhookError = errs.Class("webhook")

	// ErrIgnoredEvent is returned for event types the ledger does not handle.
	ErrIgnoredEvent = errors.New("event type not handled")
)

// chargeEvents are the event types whose data object is a charge.
var chargeEvents = map[stripe.EventType]bool{
	"charge.succeeded": true,
	"charge.captured":  true,
	"charge.updated":   true,
	"charge.refunded":  true,
}

// ParseWebhook verifies a webhook delivery against the endpoint secret and
// decodes the charge it carries. It returns the processor event id alongside
// the charge.
func ParseWebhook(payload []byte, signature, secret string) (string, models.ChargeEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return "", models.ChargeEvent{}, WebhookError.Wrap(err)
	}
	if !chargeEvents[event.Type] {
		return event.ID, models.ChargeEvent{}, ErrIgnoredEvent
	}
	if event.Data == nil {
		return event.ID, models.ChargeEvent{}, WebhookError.New("event %s has no data", event.ID)
	}

	charge, err := DecodeCharge(event.Data.Raw)
	if err != nil {
		return event.ID, models.ChargeEvent{}, err
	}
	return event.ID, charge, nil
}

// DecodeCharge decodes a single Stripe charge object.
func DecodeCharge(raw []byte) (models.ChargeEvent, error) {
	var ch stripe.Charge
	if err := json.Unmarshal(raw, &ch); err != nil {
		return models.ChargeEvent{}, WebhookError.Wrap(err)
	}
	if ch.ID == "" {
		return models.ChargeEvent{}, WebhookError.New("charge without id")
	}
	return ChargeEventFromStripe(&ch, raw), nil
}

// DecodeCharges decodes a JSON array of Stripe charge objects, as produced by
// exporting charges from the processor.
func DecodeCharges(data []byte) ([]models.ChargeEvent, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, WebhookError.Wrap(err)
	}
	events := make([]models.ChargeEvent, 0, len(raws))
	for _, raw := range raws {
		event, err := DecodeCharge(raw)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}
