// Package models defines the core domain types of the charge ledger.
package models

import (
	"time"

	"github.com/samber/lo"
)

// Charge is one row of the invoice ledger, created from a paid processor
// charge.
//
// The ExternalID field is the idempotency key: ingesting the same processor
// charge any number of times yields exactly one Charge. Only Snapshot changes
// after creation.
type Charge struct {
	// ID is assigned by the store from a monotonically increasing bucket
	// sequence. It also records creation order.
	ID uint64 `json:"id"`

	// ExternalID is the processor's charge identifier (e.g. "ch_...").
	ExternalID string `json:"externalId"`

	// InvoiceNumber has the form "<year>-<5 digit sequence>". It is assigned
	// once at creation and never recomputed or reused.
	InvoiceNumber string `json:"invoiceNumber"`

	// OwnerID identifies the internal account the charge was resolved to.
	OwnerID string `json:"ownerId"`

	// OccurredAt is the processor event timestamp in seconds since the epoch.
	OccurredAt int64 `json:"occurredAt"`

	// Amount is the charged amount in the smallest currency unit, taken from
	// the charge. The remaining financial fields come from the companion
	// invoice and are frozen at creation time.
	Amount      int64  `json:"amount"`
	Subtotal    int64  `json:"subtotal"`
	Discount    int64  `json:"discount"`
	Total       int64  `json:"total"`
	Currency    string `json:"currency"`
	PeriodStart int64  `json:"periodStart"`
	PeriodEnd   int64  `json:"periodEnd"`

	// Snapshot is the latest processor payload for this charge. It is replaced
	// wholesale every time the charge is ingested again.
	Snapshot ChargeEvent `json:"snapshot"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Number is an alias for InvoiceNumber.
func (c *Charge) Number() string {
	return c.InvoiceNumber
}

// Time returns OccurredAt as a UTC time.
func (c *Charge) Time() time.Time {
	return time.Unix(c.OccurredAt, 0).UTC()
}

// BillingAddress prefers the address stored in the charge metadata and falls
// back to the owner's address. owner may be nil.
func (c *Charge) BillingAddress(owner *Account) string {
	if v := c.Snapshot.Metadata.BillingAddress; v != "" {
		return v
	}
	if owner == nil {
		return ""
	}
	return owner.BillingAddress
}

// TaxNumber prefers the tax number stored in the charge metadata and falls
// back to the owner's tax number. owner may be nil.
func (c *Charge) TaxNumber(owner *Account) string {
	if v := c.Snapshot.Metadata.TaxNumber; v != "" {
		return v
	}
	if owner == nil {
		return ""
	}
	return owner.TaxNumber
}

// Country prefers the country stored in the charge metadata and falls back to
// the owner's country. owner may be nil.
func (c *Charge) Country(owner *Account) string {
	if v := c.Snapshot.Metadata.Country; v != "" {
		return v
	}
	if owner == nil {
		return ""
	}
	return owner.Country
}

// Refunds returns the refunds recorded in the latest snapshot.
func (c *Charge) Refunds() []Refund {
	return c.Snapshot.Refunds
}

// TotalRefund sums the refund amounts of the latest snapshot. A snapshot
// without refunds yields zero.
func (c *Charge) TotalRefund() int64 {
	return lo.SumBy(c.Snapshot.Refunds, func(r Refund) int64 {
		return r.Amount
	})
}
