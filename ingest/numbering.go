package ingest

import (
	"fmt"

	"github.com/arkantrust/charge-ledger/store"
)

// Numbering selects how invoice sequence numbers are derived.
type Numbering string

const (
	// NumberingCounter uses the ledger's invoice counter: 1, 2, 3, ...
	NumberingCounter Numbering = "counter"

	// NumberingLegacy multiplies the id of the most recently created charge
	// by 7, starting at 1 for an empty ledger. It exists so ledgers that were
	// numbered this way keep a consistent series.
	NumberingLegacy Numbering = "legacy"
)

// ParseNumbering validates a numbering scheme name. The empty string selects
// NumberingCounter.
func ParseNumbering(s string) (Numbering, error) {
	switch Numbering(s) {
	case "", NumberingCounter:
		return NumberingCounter, nil
	case NumberingLegacy:
		return NumberingLegacy, nil
	default:
		return "", fmt.Errorf("unknown numbering scheme %q", s)
	}
}

// InvoiceNumber formats an invoice number as "<year>-<sequence>", with the
// sequence zero-padded to five digits.
func InvoiceNumber(year int, sequence uint64) string {
	return fmt.Sprintf("%d-%05d", year, sequence)
}

// LegacySequence returns lastID*7, or 1 when there is no previous charge.
func LegacySequence(lastID uint64, hasLast bool) uint64 {
	if !hasLast {
		return 1
	}
	return lastID * 7
}

func (n Numbering) assign(year int) store.AssignFunc {
	return func(seq store.Sequence) string {
		if n == NumberingLegacy {
			return InvoiceNumber(year, LegacySequence(seq.LastID, seq.HasLast))
		}
		return InvoiceNumber(year, seq.Counter)
	}
}
