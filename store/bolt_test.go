package store_test

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/arkantrust/charge-ledger/models"
	"github.com/arkantrust/charge-ledger/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.New(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func counterNumber(seq store.Sequence) string {
	return fmt.Sprintf("2024-%05d", seq.Counter)
}

func newCharge(externalID, owner string) *models.Charge {
	return &models.Charge{
		ExternalID: externalID,
		OwnerID:    owner,
		Amount:     1000,
		Total:      1000,
		Currency:   "usd",
		Snapshot:   models.ChargeEvent{ID: externalID, Paid: true},
	}
}

func TestListEmpty(t *testing.T) {
	s := newTestStore(t)
	items, err := s.List()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected empty list, got %d items", len(items))
	}
}

func TestCreateIdempotency(t *testing.T) {
	s := newTestStore(t)

	first, created, err := s.Create(newCharge("ch_1", "acct-1"), counterNumber)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Fatal("expected created=true on first call")
	}
	if first.ID != 1 || first.InvoiceNumber != "2024-00001" {
		t.Fatalf("unexpected id/number: %d %q", first.ID, first.InvoiceNumber)
	}

	second, created, err := s.Create(newCharge("ch_1", "acct-1"), counterNumber)
	if err != nil {
		t.Fatalf("unexpected error on retry: %v", err)
	}
	if created {
		t.Fatal("expected created=false on duplicate call")
	}
	if second.ID != first.ID || second.InvoiceNumber != first.InvoiceNumber {
		t.Fatal("expected same record on retry")
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatal("createdAt should not change on idempotent create")
	}

	items, _ := s.List()
	if len(items) != 1 {
		t.Fatalf("expected exactly one charge, got %d", len(items))
	}
}

func TestCreateDuplicateAppliesSnapshot(t *testing.T) {
	s := newTestStore(t)
	s.Create(newCharge("ch_1", "acct-1"), counterNumber)

	dup := newCharge("ch_1", "acct-other")
	dup.Total = 1
	dup.Snapshot.Refunds = []models.Refund{{Amount: 100}}

	got, created, err := s.Create(dup, counterNumber)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Fatal("expected created=false")
	}
	if got.OwnerID != "acct-1" || got.Total != 1000 {
		t.Fatal("duplicate create must only touch the snapshot")
	}
	if got.TotalRefund() != 100 {
		t.Fatalf("expected snapshot to be replaced, refund total %d", got.TotalRefund())
	}
}

func TestCreateRejectsMissingOwner(t *testing.T) {
	s := newTestStore(t)
	if _, _, err := s.Create(newCharge("ch_1", ""), counterNumber); err != store.ErrInvalid {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if _, err := s.Last(); err != store.ErrNotFound {
		t.Fatalf("expected empty ledger, got %v", err)
	}
}

func TestCreateSequenceState(t *testing.T) {
	s := newTestStore(t)

	var seen []store.Sequence
	record := func(seq store.Sequence) string {
		seen = append(seen, seq)
		return counterNumber(seq)
	}
	for i := 1; i <= 3; i++ {
		if _, _, err := s.Create(newCharge(fmt.Sprintf("ch_%d", i), "acct-1"), record); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	if seen[0].HasLast {
		t.Fatal("expected no previous charge for the first creation")
	}
	if !seen[2].HasLast || seen[2].LastID != 2 || seen[2].Counter != 3 {
		t.Fatalf("unexpected sequence state: %+v", seen[2])
	}
}

func TestUpdateSnapshotWriteAvoidance(t *testing.T) {
	s := newTestStore(t)
	original, _, _ := s.Create(newCharge("ch_2", "acct-1"), counterNumber)

	result, written, err := s.UpdateSnapshot("ch_2", original.Snapshot)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if written {
		t.Fatal("expected written=false when snapshot is identical")
	}
	if !result.UpdatedAt.Equal(original.UpdatedAt) {
		t.Fatal("updatedAt should not change when write is skipped")
	}

	changed := original.Snapshot
	changed.Refunds = []models.Refund{{ID: "re_1", Amount: 250}}
	result2, written2, err := s.UpdateSnapshot("ch_2", changed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !written2 {
		t.Fatal("expected written=true when snapshot differs")
	}
	if result2.InvoiceNumber != original.InvoiceNumber || result2.Total != original.Total {
		t.Fatal("update must not touch fields other than the snapshot")
	}

	stored, _ := s.Get("ch_2")
	if stored.TotalRefund() != 250 {
		t.Fatalf("expected persisted refund total 250, got %d", stored.TotalRefund())
	}
}

func TestUpdateSnapshotNotFound(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.UpdateSnapshot("nonexistent", models.ChargeEvent{})
	if err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteIdempotencyKeepsNumbers(t *testing.T) {
	s := newTestStore(t)
	s.Create(newCharge("ch_a", "acct-1"), counterNumber)
	s.Create(newCharge("ch_b", "acct-1"), counterNumber)

	if err := s.Delete("ch_b"); err != nil {
		t.Fatalf("unexpected error on first delete: %v", err)
	}
	if err := s.Delete("ch_b"); err != nil {
		t.Fatalf("unexpected error on second delete: %v", err)
	}

	last, err := s.Last()
	if err != nil || last.ExternalID != "ch_a" {
		t.Fatalf("expected ch_a to be last, got %v %v", last, err)
	}

	var seq store.Sequence
	c, _, err := s.Create(newCharge("ch_c", "acct-1"), func(q store.Sequence) string {
		seq = q
		return counterNumber(q)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.InvoiceNumber != "2024-00003" || c.ID != 3 || seq.LastID != 2 {
		t.Fatalf("numbers must not be reused after delete: id=%d number=%q last=%d", c.ID, c.InvoiceNumber, seq.LastID)
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get("missing"); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetByID(42); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListByOwner(t *testing.T) {
	s := newTestStore(t)
	s.Create(newCharge("ch_1", "acct-1"), counterNumber)
	s.Create(newCharge("ch_2", "acct-10"), counterNumber)
	s.Create(newCharge("ch_3", "acct-1"), counterNumber)

	items, err := s.ListByOwner("acct-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 || items[0].ExternalID != "ch_1" || items[1].ExternalID != "ch_3" {
		t.Fatalf("unexpected owner charges: %+v", items)
	}

	byID, err := s.GetByID(2)
	if err != nil || byID.ExternalID != "ch_2" {
		t.Fatalf("expected ch_2 by id, got %v %v", byID, err)
	}
}

func TestListByOwnerNestedOwnerIDs(t *testing.T) {
	s := newTestStore(t)
	s.Create(newCharge("ch_a", "org"), counterNumber)
	s.Create(newCharge("ch_b", "org/team"), counterNumber)

	items, err := s.ListByOwner("org")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 || items[0].ExternalID != "ch_a" {
		t.Fatalf("expected only ch_a for org, got %+v", items)
	}

	items, _ = s.ListByOwner("org/team")
	if len(items) != 1 || items[0].ExternalID != "ch_b" {
		t.Fatalf("expected only ch_b for org/team, got %+v", items)
	}

	if err := s.Delete("ch_a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	items, _ = s.ListByOwner("org")
	if len(items) != 0 {
		t.Fatalf("expected no charges for org after delete, got %+v", items)
	}
	items, _ = s.ListByOwner("unknown")
	if len(items) != 0 {
		t.Fatalf("expected no charges for unknown owner, got %+v", items)
	}
}

func TestNextSequence(t *testing.T) {
	s := newTestStore(t)
	a, _ := s.NextSequence()
	b, _ := s.NextSequence()
	if a != 1 || b != 2 {
		t.Fatalf("expected 1 and 2, got %d and %d", a, b)
	}

	// Reserved numbers are never handed out by Create.
	c, _, err := s.Create(newCharge("ch_1", "acct-1"), counterNumber)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.InvoiceNumber != "2024-00003" {
		t.Fatalf("expected 2024-00003, got %s", c.InvoiceNumber)
	}
}

func TestConcurrentCreateSingleRow(t *testing.T) {
	s := newTestStore(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := s.Create(newCharge("ch_race", "acct-1"), counterNumber)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if createdCount != 1 {
		t.Fatalf("expected exactly one creation, got %d", createdCount)
	}
	items, _ := s.List()
	if len(items) != 1 {
		t.Fatalf("expected one row, got %d", len(items))
	}
}
