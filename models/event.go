package models

import (
	"encoding/json"
	"time"
)

// ChargeEvent is the processor's view of a charge as delivered to the
// ingestor.
type ChargeEvent struct {
	ID       string   `json:"id"`
	Paid     bool     `json:"paid"`
	Invoice  string   `json:"invoice,omitempty"`
	Customer string   `json:"customer,omitempty"`
	Created  int64    `json:"created"`
	Amount   int64    `json:"amount"`
	Currency string   `json:"currency,omitempty"`
	Metadata Metadata `json:"metadata"`
	Refunds  []Refund `json:"refunds,omitempty"`

	// Raw is the unmodified processor payload, kept so fields this type does
	// not model survive in the ledger.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// Year returns the UTC calendar year the charge was created in.
func (e ChargeEvent) Year() int {
	return time.Unix(e.Created, 0).UTC().Year()
}

// Metadata holds the charge metadata keys the ledger understands. An empty
// string means the key was absent.
type Metadata struct {
	BillingAddress string `json:"billing_address,omitempty"`
	TaxNumber      string `json:"tax_number,omitempty"`
	Country        string `json:"country,omitempty"`
}

// Refund is a single refund issued against a charge.
type Refund struct {
	ID     string `json:"id,omitempty"`
	Amount int64  `json:"amount"`
}

// Invoice is the companion invoice of a charge. Its totals are what the ledger
// reports, not the charge's.
type Invoice struct {
	ID          string `json:"id"`
	Subtotal    int64  `json:"subtotal"`
	Discount    int64  `json:"discount"`
	Total       int64  `json:"total"`
	Currency    string `json:"currency"`
	PeriodStart int64  `json:"period_start"`
	PeriodEnd   int64  `json:"period_end"`
}

// Customer is the processor's customer record.
type Customer struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Deleted bool   `json:"deleted"`
}
