// Package processor talks to the payment processor (Stripe).
//
// It retrieves the companion invoice and the customer of a charge, and
// converts processor payloads into the ledger's models.
package processor

import (
	"context"
	"errors"
	"net/http"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/zeebo/errs"

	"github.com/arkantrust/charge-ledger/models"
)

var (
	// Error wraps failures talking to the processor. They are transient.
	Error = errs.Class("processor")

	// ErrNotFound is returned when the processor has no such object.
	ErrNotFound = errors.New("processor object not found")
)

// Client retrieves invoices and customers through the Stripe API.
type Client struct {
	api *client.API
}

// New creates a Client authenticated with the given secret key.
func New(key string) *Client {
	return NewWithBackends(key, nil)
}

// NewWithBackends creates a Client that talks to the given backends. A nil
// backends uses the default Stripe endpoints.
func NewWithBackends(key string, backends *stripe.Backends) *Client {
	api := &client.API{}
	api.Init(key, backends)
	return &Client{api: api}
}

// RetrieveInvoice fetches the invoice with the given id.
func (c *Client) RetrieveInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	inv, err := c.api.Invoices.Get(id, &stripe.InvoiceParams{Params: stripe.Params{Context: ctx}})
	if err != nil {
		return nil, mapError(err)
	}
	return InvoiceFromStripe(inv), nil
}

// RetrieveCustomer fetches the customer with the given id. Deleted customers
// are returned with Deleted set rather than as an error.
func (c *Client) RetrieveCustomer(ctx context.Context, id string) (*models.Customer, error) {
	cus, err := c.api.Customers.Get(id, &stripe.CustomerParams{Params: stripe.Params{Context: ctx}})
	if err != nil {
		return nil, mapError(err)
	}
	return &models.Customer{ID: cus.ID, Email: cus.Email, Deleted: cus.Deleted}, nil
}

// InvoiceFromStripe converts a Stripe invoice. The discount is the sum of all
// discount amounts applied to the invoice.
func InvoiceFromStripe(inv *stripe.Invoice) *models.Invoice {
	var discount int64
	for _, d := range inv.TotalDiscountAmounts {
		if d != nil {
			discount += d.Amount
		}
	}
	return &models.Invoice{
		ID:          inv.ID,
		Subtotal:    inv.Subtotal,
		Discount:    discount,
		Total:       inv.Total,
		Currency:    string(inv.Currency),
		PeriodStart: inv.PeriodStart,
		PeriodEnd:   inv.PeriodEnd,
	}
}

// ChargeEventFromStripe converts a Stripe charge. raw is the payload the
// charge was decoded from and may be nil.
func ChargeEventFromStripe(ch *stripe.Charge, raw []byte) models.ChargeEvent {
	event := models.ChargeEvent{
		ID:       ch.ID,
		Paid:     ch.Paid,
		Created:  ch.Created,
		Amount:   ch.Amount,
		Currency: string(ch.Currency),
		Metadata: models.Metadata{
			BillingAddress: ch.Metadata["billing_address"],
			TaxNumber:      ch.Metadata["tax_number"],
			Country:        ch.Metadata["country"],
		},
		Raw: raw,
	}
	if ch.Invoice != nil {
		event.Invoice = ch.Invoice.ID
	}
	if ch.Customer != nil {
		event.Customer = ch.Customer.ID
	}
	if ch.Refunds != nil {
		for _, r := range ch.Refunds.Data {
			if r == nil {
				continue
			}
			event.Refunds = append(event.Refunds, models.Refund{ID: r.ID, Amount: r.Amount})
		}
	}
	return event
}

func mapError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode == http.StatusNotFound || stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return ErrNotFound
		}
	}
	return Error.Wrap(err)
}
