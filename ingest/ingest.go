// Package ingest reconciles processor charge events into the invoice ledger.
//
// Ingest is idempotent per external charge id: the first paid delivery of a
// charge creates a ledger row with a fresh invoice number, every later
// delivery only replaces the stored snapshot. Charges that cannot be
// attributed to an owner are skipped and never written.
package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/arkantrust/charge-ledger/models"
	"github.com/arkantrust/charge-ledger/owners"
	"github.com/arkantrust/charge-ledger/processor"
	"github.com/arkantrust/charge-ledger/store"
)

var (
	// Error wraps transient ingestion failures. The event should be
	// delivered again.
	Error = errs.Class("ingest")

	mon = monkit.Package()
)

// Outcome is the result of ingesting one event.
type Outcome int

const (
	// Created means a new ledger row was written.
	Created Outcome = iota + 1
	// Updated means the charge already existed and its snapshot was applied.
	Updated
	// Skipped means nothing was written. Result.Reason says why.
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Skip reasons.
const (
	ReasonInvalid         = "missing charge id"
	ReasonUnpaid          = "unpaid"
	ReasonOwnerNotFound   = "owner not found"
	ReasonInvoiceNotFound = "invoice not found"
)

// Result describes what Ingest did.
type Result struct {
	Outcome Outcome
	Reason  string
	Charge  *models.Charge
}

// Ledger is the persistence the ingestor needs.
type Ledger interface {
	Get(externalID string) (*models.Charge, error)
	UpdateSnapshot(externalID string, snapshot models.ChargeEvent) (*models.Charge, bool, error)
	Create(c *models.Charge, assign store.AssignFunc) (*models.Charge, bool, error)
}

// OwnerResolver finds the account responsible for a charge.
type OwnerResolver interface {
	Resolve(ctx context.Context, charge models.ChargeEvent) (*models.Account, error)
}

// InvoiceSource retrieves the companion invoice of a charge.
type InvoiceSource interface {
	RetrieveInvoice(ctx context.Context, id string) (*models.Invoice, error)
}

// Config holds the ingestor settings.
type Config struct {
	Numbering Numbering
	// CallTimeout bounds the invoice retrieval. Zero disables the bound.
	CallTimeout time.Duration
}

// Ingestor reconciles charge events into the ledger.
type Ingestor struct {
	log      *zap.Logger
	ledger   Ledger
	owners   OwnerResolver
	invoices InvoiceSource
	config   Config
}

// New creates an Ingestor.
func New(log *zap.Logger, ledger Ledger, resolver OwnerResolver, invoices InvoiceSource, config Config) *Ingestor {
	if config.Numbering == "" {
		config.Numbering = NumberingCounter
	}
	return &Ingestor{
		log:      log,
		ledger:   ledger,
		owners:   resolver,
		invoices: invoices,
		config:   config,
	}
}

// IsRetryable reports whether a failed ingestion may succeed when the event
// is delivered again.
func IsRetryable(err error) bool {
	return err != nil && !errors.Is(err, store.ErrInvalid)
}

// Ingest reconciles one charge event. Benign conditions (unpaid charge, no
// owner, no invoice) produce a Skipped result and a nil error. A non-nil
// error is a transient failure and nothing was written.
func (i *Ingestor) Ingest(ctx context.Context, event models.ChargeEvent) (_ Result, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := ctx.Err(); err != nil {
		return Result{}, Error.Wrap(err)
	}
	if event.ID == "" {
		return i.skip(event, ReasonInvalid), nil
	}
	if !event.Paid {
		return i.skip(event, ReasonUnpaid), nil
	}

	existing, err := i.ledger.Get(event.ID)
	switch {
	case err == nil:
		return i.update(existing, event)
	case !errors.Is(err, store.ErrNotFound):
		return Result{}, Error.Wrap(err)
	}

	owner, err := i.owners.Resolve(ctx, event)
	if err != nil {
		if errors.Is(err, owners.ErrOwnerNotFound) {
			return i.skip(event, ReasonOwnerNotFound), nil
		}
		i.log.Warn("owner resolution failed", zap.String("charge_id", event.ID), zap.Error(err))
		return Result{}, Error.Wrap(err)
	}
	if owner.ID == "" {
		return i.skip(event, ReasonOwnerNotFound), nil
	}

	invoice, err := i.retrieveInvoice(ctx, event)
	if err != nil {
		if errors.Is(err, processor.ErrNotFound) {
			return i.skip(event, ReasonInvoiceNotFound), nil
		}
		i.log.Warn("invoice retrieval failed", zap.String("charge_id", event.ID), zap.Error(err))
		return Result{}, Error.Wrap(err)
	}

	charge := &models.Charge{
		ExternalID:  event.ID,
		OwnerID:     owner.ID,
		OccurredAt:  event.Created,
		Amount:      event.Amount,
		Subtotal:    invoice.Subtotal,
		Discount:    invoice.Discount,
		Total:       invoice.Total,
		Currency:    invoice.Currency,
		PeriodStart: invoice.PeriodStart,
		PeriodEnd:   invoice.PeriodEnd,
		Snapshot:    event,
	}

	saved, created, err := i.ledger.Create(charge, i.config.Numbering.assign(event.Year()))
	if err != nil {
		return Result{}, Error.Wrap(err)
	}
	if !created {
		i.log.Info("charge created concurrently, applied snapshot", zap.String("charge_id", event.ID))
		return Result{Outcome: Updated, Charge: saved}, nil
	}

	i.log.Info("charge saved",
		zap.String("charge_id", event.ID),
		zap.Uint64("id", saved.ID),
		zap.String("invoice_number", saved.InvoiceNumber),
		zap.String("owner_id", saved.OwnerID))
	return Result{Outcome: Created, Charge: saved}, nil
}

// Stats counts the outcomes of IngestAll.
type Stats struct {
	Created int
	Updated int
	Skipped int
}

// IngestAll ingests events in order. It stops at the first failure and
// returns the stats collected so far.
func (i *Ingestor) IngestAll(ctx context.Context, events []models.ChargeEvent) (Stats, error) {
	var stats Stats
	for _, event := range events {
		res, err := i.Ingest(ctx, event)
		if err != nil {
			return stats, err
		}
		switch res.Outcome {
		case Created:
			stats.Created++
		case Updated:
			stats.Updated++
		case Skipped:
			stats.Skipped++
		}
	}
	return stats, nil
}

func (i *Ingestor) update(existing *models.Charge, event models.ChargeEvent) (Result, error) {
	saved, written, err := i.ledger.UpdateSnapshot(existing.ExternalID, event)
	if err != nil {
		return Result{}, Error.Wrap(err)
	}
	i.log.Info("updated charge snapshot",
		zap.String("charge_id", event.ID),
		zap.Bool("written", written))
	return Result{Outcome: Updated, Charge: saved}, nil
}

func (i *Ingestor) retrieveInvoice(ctx context.Context, event models.ChargeEvent) (*models.Invoice, error) {
	if event.Invoice == "" {
		return nil, processor.ErrNotFound
	}
	if i.config.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.config.CallTimeout)
		defer cancel()
	}
	return i.invoices.RetrieveInvoice(ctx, event.Invoice)
}

func (i *Ingestor) skip(event models.ChargeEvent, reason string) Result {
	i.log.Info("skipping charge", zap.String("charge_id", event.ID), zap.String("reason", reason))
	return Result{Outcome: Skipped, Reason: reason}
}
