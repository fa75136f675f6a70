// Package handlers provides the HTTP surface of the charge ledger.
//
// Every handler is idempotent:
//
//   - POST   /webhooks/stripe      – processor deliveries; a redelivered event
//     only replaces the stored snapshot.
//   - GET    /charges              – pure read.
//   - GET    /charges/{id}         – pure read, renders the invoice view. The id
//     is the external charge id or the numeric local id.
//   - GET    /owners/{id}/charges  – pure read.
//   - DELETE /charges/{id}         – succeeds even when the charge does not
//     exist. Invoice numbers are never handed out again.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/arkantrust/charge-ledger/ingest"
	"github.com/arkantrust/charge-ledger/models"
	"github.com/arkantrust/charge-ledger/owners"
	"github.com/arkantrust/charge-ledger/store"
)

// Ingester reconciles a charge event into the ledger.
type Ingester interface {
	Ingest(ctx context.Context, event models.ChargeEvent) (ingest.Result, error)
}

// OwnerLookup loads the account a charge belongs to.
type OwnerLookup interface {
	Owner(ctx context.Context, charge *models.Charge) (*models.Account, error)
}

// Handler holds the dependencies for all ledger HTTP handlers.
type Handler struct {
	log           *zap.Logger
	store         *store.Store
	ingester      Ingester
	owners        OwnerLookup
	webhookSecret string
}

// New creates a new Handler.
func New(log *zap.Logger, s *store.Store, ingester Ingester, owners OwnerLookup, webhookSecret string) *Handler {
	return &Handler{
		log:           log,
		store:         s,
		ingester:      ingester,
		owners:        owners,
		webhookSecret: webhookSecret,
	}
}

// Register adds the ledger routes to mux, wrapping each with wrap.
func (h *Handler) Register(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	mux.Handle("POST /webhooks/stripe", http.HandlerFunc(h.webhook))
	mux.Handle("GET /charges", wrap(http.HandlerFunc(h.list)))
	mux.Handle("GET /charges/{id}", wrap(http.HandlerFunc(h.show)))
	mux.Handle("DELETE /charges/{id}", wrap(http.HandlerFunc(h.delete)))
	mux.Handle("GET /owners/{id}/charges", wrap(http.HandlerFunc(h.listByOwner)))
}

// writeJSON serialises v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// list handles GET /charges.
func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.List()
	if err != nil {
		h.log.Error("list charges", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list charges")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// listByOwner handles GET /owners/{id}/charges.
func (h *Handler) listByOwner(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.ListByOwner(r.PathValue("id"))
	if err != nil {
		h.log.Error("list owner charges", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list charges")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// InvoiceView is a charge together with the values derived from its
// snapshot and owner.
type InvoiceView struct {
	*models.Charge

	BillingAddress string          `json:"billingAddress"`
	TaxNumber      string          `json:"taxNumber"`
	Country        string          `json:"country"`
	TotalRefund    int64           `json:"totalRefund"`
	TotalMajor     decimal.Decimal `json:"totalMajor"`
	RefundMajor    decimal.Decimal `json:"refundMajor"`
}

// FindCharge looks up a charge by reference. A reference made only of digits
// is the local id assigned by the ledger; anything else is the external
// charge id, which processors never issue as a bare number.
func FindCharge(s *store.Store, ref string) (*models.Charge, error) {
	if id, err := strconv.ParseUint(ref, 10, 64); err == nil {
		return s.GetByID(id)
	}
	return s.Get(ref)
}

// show handles GET /charges/{id}.
//
// The owner is looked up on every request. A missing owner still renders the
// invoice, using only the values stored in the snapshot.
func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	c, err := FindCharge(h.store, r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "charge not found")
			return
		}
		h.log.Error("get charge", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get charge")
		return
	}

	owner, err := h.owners.Owner(r.Context(), c)
	if err != nil && !errors.Is(err, owners.ErrOwnerNotFound) {
		h.log.Error("get charge owner", zap.String("charge_id", c.ExternalID), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "failed to load charge owner")
		return
	}

	writeJSON(w, http.StatusOK, NewInvoiceView(c, owner))
}

// NewInvoiceView derives the invoice view of c. owner may be nil.
func NewInvoiceView(c *models.Charge, owner *models.Account) InvoiceView {
	return InvoiceView{
		Charge:         c,
		BillingAddress: c.BillingAddress(owner),
		TaxNumber:      c.TaxNumber(owner),
		Country:        c.Country(owner),
		TotalRefund:    c.TotalRefund(),
		TotalMajor:     models.MajorUnits(c.Total, c.Currency),
		RefundMajor:    models.MajorUnits(c.TotalRefund(), c.Currency),
	}
}

// delete handles DELETE /charges/{id}.
//
// Deleting is an administrative action. It succeeds when the charge does not
// exist, and the charge's invoice number is not reused.
func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.store.Delete(id); err != nil {
		h.log.Error("delete charge", zap.String("charge_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete charge")
		return
	}
	h.log.Info("charge deleted", zap.String("charge_id", id))
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}
