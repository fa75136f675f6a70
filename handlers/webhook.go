package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arkantrust/charge-ledger/ingest"
	"github.com/arkantrust/charge-ledger/processor"
)

// maxWebhookBytes caps the size of a webhook body.
const maxWebhookBytes = 65536

type webhookResponse struct {
	Delivery string `json:"delivery"`
	Event    string `json:"event,omitempty"`
	Outcome  string `json:"outcome"`
	Reason   string `json:"reason,omitempty"`
	Invoice  string `json:"invoiceNumber,omitempty"`
}

// webhook handles POST /webhooks/stripe.
//
// Status codes tell the processor whether to deliver again:
//   - 201 Created / 200 OK – the event was reconciled or deliberately skipped.
//   - 400 Bad Request      – bad signature or undecodable payload.
//   - 503                  – transient failure, the processor retries.
func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	delivery := r.Header.Get("X-Request-Id")
	if delivery == "" {
		delivery = uuid.NewString()
	}
	log := h.log.With(zap.String("delivery", delivery))

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	eventID, event, err := processor.ParseWebhook(payload, r.Header.Get("Stripe-Signature"), h.webhookSecret)
	if err != nil {
		if errors.Is(err, processor.ErrIgnoredEvent) {
			writeJSON(w, http.StatusOK, webhookResponse{Delivery: delivery, Event: eventID, Outcome: "ignored"})
			return
		}
		log.Warn("rejected webhook", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid webhook")
		return
	}
	log = log.With(zap.String("event_id", eventID), zap.String("charge_id", event.ID))

	res, err := h.ingester.Ingest(r.Context(), event)
	if err != nil {
		log.Error("ingestion failed", zap.Bool("retryable", ingest.IsRetryable(err)), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "ingestion failed, retry later")
		return
	}

	resp := webhookResponse{
		Delivery: delivery,
		Event:    eventID,
		Outcome:  res.Outcome.String(),
		Reason:   res.Reason,
	}
	if res.Charge != nil {
		resp.Invoice = res.Charge.Number()
	}
	w.Header().Set("X-Ledger-Outcome", resp.Outcome)

	status := http.StatusOK
	if res.Outcome == ingest.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}
