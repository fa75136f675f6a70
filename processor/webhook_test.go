package processor_test

import (
	"errors"
	"testing"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/arkantrust/charge-ledger/processor"
)

const testSecret = "whsec_test"

const chargeJSON = `{
	"id": "ch_123",
	"object": "charge",
	"paid": true,
	"amount": 2000,
	"currency": "eur",
	"created": 1704067200,
	"customer": "cus_9",
	"invoice": "in_7",
	"metadata": {"country": "AT", "tax_number": "ATU1"},
	"refunds": {"object": "list", "data": [
		{"id": "re_1", "object": "refund", "amount": 500},
		{"id": "re_2", "object": "refund", "amount": 300}
	]}
}`

func sign(payload string) (string, []byte) {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: []byte(payload),
		Secret:  testSecret,
	})
	return signed.Header, signed.Payload
}

func TestDecodeCharge(t *testing.T) {
	event, err := processor.DecodeCharge([]byte(chargeJSON))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.ID != "ch_123" || !event.Paid || event.Invoice != "in_7" || event.Customer != "cus_9" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.Metadata.Country != "AT" || event.Metadata.TaxNumber != "ATU1" || event.Metadata.BillingAddress != "" {
		t.Fatalf("unexpected metadata: %+v", event.Metadata)
	}
	if len(event.Refunds) != 2 || event.Refunds[0].Amount+event.Refunds[1].Amount != 800 {
		t.Fatalf("unexpected refunds: %+v", event.Refunds)
	}
	if event.Year() != 2024 {
		t.Fatalf("expected year 2024, got %d", event.Year())
	}
	if len(event.Raw) == 0 {
		t.Fatal("expected raw payload to be kept")
	}
}

func TestDecodeChargesRejectsMissingID(t *testing.T) {
	_, err := processor.DecodeCharges([]byte(`[` + chargeJSON + `, {"object": "charge"}]`))
	if !processor.WebhookError.Has(err) {
		t.Fatalf("expected webhook error, got %v", err)
	}
}

func TestParseWebhook(t *testing.T) {
	header, payload := sign(`{"id": "evt_1", "object": "event", "type": "charge.succeeded", "data": {"object": ` + chargeJSON + `}}`)

	id, event, err := processor.ParseWebhook(payload, header, testSecret)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "evt_1" || event.ID != "ch_123" {
		t.Fatalf("unexpected ids: %q %q", id, event.ID)
	}
}

func TestParseWebhookBadSignature(t *testing.T) {
	_, payload := sign(`{"id": "evt_1", "object": "event", "type": "charge.succeeded", "data": {"object": ` + chargeJSON + `}}`)

	_, _, err := processor.ParseWebhook(payload, "t=1,v1=deadbeef", testSecret)
	if !processor.WebhookError.Has(err) {
		t.Fatalf("expected webhook error, got %v", err)
	}
}

func TestParseWebhookIgnoresOtherEvents(t *testing.T) {
	header, payload := sign(`{"id": "evt_2", "object": "event", "type": "customer.created", "data": {"object": {"id": "cus_1"}}}`)

	_, _, err := processor.ParseWebhook(payload, header, testSecret)
	if !errors.Is(err, processor.ErrIgnoredEvent) {
		t.Fatalf("expected ErrIgnoredEvent, got %v", err)
	}
}

func TestInvoiceFromStripe(t *testing.T) {
	inv := processor.InvoiceFromStripe(&stripe.Invoice{
		ID:          "in_1",
		Subtotal:    1000,
		Total:       800,
		Currency:    stripe.CurrencyEUR,
		PeriodStart: 10,
		PeriodEnd:   20,
		TotalDiscountAmounts: []*stripe.InvoiceTotalDiscountAmount{
			{Amount: 150}, {Amount: 50},
		},
	})
	if inv.Discount != 200 || inv.Total != 800 || inv.Currency != "eur" {
		t.Fatalf("unexpected invoice: %+v", inv)
	}
}
