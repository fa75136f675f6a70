// Package store provides the BoltDB-backed invoice ledger.
//
// BoltDB is an embedded key/value store. All data lives in a single file and
// every write transaction is serialized, which is what the ledger relies on
// for its uniqueness and numbering guarantees.
//
// Layout
// ------
//   - charges:       external charge id -> JSON encoded models.Charge
//   - charge_ids:    big-endian local id -> external charge id (creation order)
//   - owner_charges: one nested bucket per owner id, each mapping
//     big-endian local id -> external charge id
//   - sequences:     holds the invoice counter as the bucket sequence
//
// Idempotency
// -----------
//   - Create re-checks the external id inside the write transaction. A charge
//     that already exists is never inserted twice; the incoming snapshot is
//     applied to the stored row instead.
//   - UpdateSnapshot compares the incoming snapshot with the stored one and
//     skips the write when they are byte-for-byte identical.
//   - Delete succeeds when the record does not exist and never rewinds the
//     id or invoice counters, so numbers are not reused.
package store

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"time"

	bolt "github.com/boltdb/bolt"
	"github.com/zeebo/errs"

	"github.com/arkantrust/charge-ledger/models"
)

var (
	chargesBucket      = []byte("charges")
	chargeIDsBucket    = []byte("charge_ids")
	ownerChargesBucket = []byte("owner_charges")
	sequencesBucket    = []byte("sequences")
)

var (
	// Error wraps failures of the underlying database.
	Error = errs.Class("store")

	// ErrNotFound is returned when a requested charge does not exist.
	ErrNotFound = errors.New("charge not found")

	// ErrInvalid is returned when a charge lacks the fields every ledger row
	// must carry.
	ErrInvalid = errors.New("charge requires external id, owner id and invoice number")
)

// Sequence is the numbering state visible to a charge at creation time.
type Sequence struct {
	// Counter is the freshly incremented invoice counter. It starts at 1.
	Counter uint64
	// LastID is the local id of the most recently created charge, including
	// charges that were deleted since. HasLast is false for an empty ledger.
	LastID  uint64
	HasLast bool
}

// AssignFunc derives the invoice number of a new charge from the sequence
// state. It runs inside the write transaction and must not block.
type AssignFunc func(seq Sequence) string

// Store wraps a BoltDB database and exposes the ledger operations.
type Store struct {
	db *bolt.DB
}

// New opens (or creates) a BoltDB database at the given path and ensures the
// ledger buckets exist.
func New(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, Error.Wrap(err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{chargesBucket, chargeIDsBucket, ownerChargesBucket, sequencesBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, Error.Wrap(err)
	}

	return &Store{db: db}, nil
}

// Close releases the database file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

// List returns all charges in creation order.
func (s *Store) List() ([]models.Charge, error) {
	var items []models.Charge

	err := s.db.View(func(tx *bolt.Tx) error {
		charges := tx.Bucket(chargesBucket)
		return tx.Bucket(chargeIDsBucket).ForEach(func(_, externalID []byte) error {
			c, err := decode(charges.Get(externalID))
			if err != nil {
				return err
			}
			items = append(items, *c)
			return nil
		})
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}

	if items == nil {
		items = []models.Charge{}
	}
	return items, nil
}

// ListByOwner returns the charges of one owner in creation order.
func (s *Store) ListByOwner(ownerID string) ([]models.Charge, error) {
	items := []models.Charge{}
	if ownerID == "" {
		return items, nil
	}

	err := s.db.View(func(tx *bolt.Tx) error {
		owned := tx.Bucket(ownerChargesBucket).Bucket([]byte(ownerID))
		if owned == nil {
			return nil
		}
		charges := tx.Bucket(chargesBucket)
		return owned.ForEach(func(_, externalID []byte) error {
			c, err := decode(charges.Get(externalID))
			if err != nil {
				return err
			}
			items = append(items, *c)
			return nil
		})
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return items, nil
}

// Get retrieves a single charge by its external id.
// Returns ErrNotFound if the key does not exist.
func (s *Store) Get(externalID string) (*models.Charge, error) {
	var c *models.Charge

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(chargesBucket).Get([]byte(externalID))
		if v == nil {
			return ErrNotFound
		}
		var err error
		c, err = decode(v)
		return err
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetByID retrieves a single charge by its local id.
func (s *Store) GetByID(id uint64) (*models.Charge, error) {
	var c *models.Charge

	err := s.db.View(func(tx *bolt.Tx) error {
		externalID := tx.Bucket(chargeIDsBucket).Get(itob(id))
		if externalID == nil {
			return ErrNotFound
		}
		var err error
		c, err = decode(tx.Bucket(chargesBucket).Get(externalID))
		return err
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Last returns the most recently created charge that still exists.
func (s *Store) Last() (*models.Charge, error) {
	var c *models.Charge

	err := s.db.View(func(tx *bolt.Tx) error {
		_, externalID := tx.Bucket(chargeIDsBucket).Cursor().Last()
		if externalID == nil {
			return ErrNotFound
		}
		var err error
		c, err = decode(tx.Bucket(chargesBucket).Get(externalID))
		return err
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// NextSequence atomically increments and returns the invoice counter.
//
// Ingestion draws the counter inside Create and never calls this. It is an
// administrative operation for reserving a number outside the ledger, e.g. a
// manually issued invoice; the drawn number is consumed and never handed out
// by Create.
func (s *Store) NextSequence() (uint64, error) {
	var n uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		n, err = tx.Bucket(sequencesBucket).NextSequence()
		return err
	})
	if err != nil {
		return 0, Error.Wrap(err)
	}
	return n, nil
}

// Create persists a new charge ONLY if no charge with the same external id
// exists. The local id, the invoice counter and assign all run in the same
// write transaction, so concurrent creations can neither duplicate a row nor
// collide on a number.
//
// When the charge already exists (a concurrent delivery won the race) the
// incoming snapshot is applied to the stored row and (existing, false, nil)
// is returned. Returns (new, true, nil) when the charge was created.
func (s *Store) Create(c *models.Charge, assign AssignFunc) (*models.Charge, bool, error) {
	if c.ExternalID == "" || c.OwnerID == "" {
		return nil, false, ErrInvalid
	}

	var result *models.Charge
	created := false

	err := s.db.Update(func(tx *bolt.Tx) error {
		charges := tx.Bucket(chargesBucket)

		if existing := charges.Get([]byte(c.ExternalID)); existing != nil {
			stored, err := decode(existing)
			if err != nil {
				return err
			}
			if _, err := replaceSnapshot(charges, stored, c.Snapshot); err != nil {
				return err
			}
			result = stored
			return nil
		}

		seq := Sequence{LastID: charges.Sequence()}
		seq.HasLast = seq.LastID > 0

		id, err := charges.NextSequence()
		if err != nil {
			return err
		}
		seq.Counter, err = tx.Bucket(sequencesBucket).NextSequence()
		if err != nil {
			return err
		}

		row := *c
		row.ID = id
		row.InvoiceNumber = assign(seq)
		if row.InvoiceNumber == "" {
			return ErrInvalid
		}
		now := time.Now().UTC()
		row.CreatedAt = now
		row.UpdatedAt = now

		data, err := json.Marshal(&row)
		if err != nil {
			return err
		}
		if err := charges.Put([]byte(row.ExternalID), data); err != nil {
			return err
		}
		if err := tx.Bucket(chargeIDsBucket).Put(itob(id), []byte(row.ExternalID)); err != nil {
			return err
		}
		owned, err := tx.Bucket(ownerChargesBucket).CreateBucketIfNotExists([]byte(row.OwnerID))
		if err != nil {
			return err
		}
		if err := owned.Put(itob(id), []byte(row.ExternalID)); err != nil {
			return err
		}

		result = &row
		created = true
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalid) {
			return nil, false, err
		}
		return nil, false, Error.Wrap(err)
	}

	return result, created, nil
}

// UpdateSnapshot replaces the snapshot of an existing charge. No other field
// is touched.
//
// Returns (updated, true, nil) when a write occurred.
// Returns (existing, false, nil) when the snapshot was identical (write skipped).
func (s *Store) UpdateSnapshot(externalID string, snapshot models.ChargeEvent) (*models.Charge, bool, error) {
	var result *models.Charge
	written := false

	err := s.db.Update(func(tx *bolt.Tx) error {
		charges := tx.Bucket(chargesBucket)

		existing := charges.Get([]byte(externalID))
		if existing == nil {
			return ErrNotFound
		}
		stored, err := decode(existing)
		if err != nil {
			return err
		}

		written, err = replaceSnapshot(charges, stored, snapshot)
		result = stored
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, false, err
		}
		return nil, false, Error.Wrap(err)
	}

	return result, written, nil
}

// Delete removes a charge by external id. Deleting a missing charge is not an
// error.
func (s *Store) Delete(externalID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		charges := tx.Bucket(chargesBucket)
		v := charges.Get([]byte(externalID))
		if v == nil {
			return nil
		}
		c, err := decode(v)
		if err != nil {
			return err
		}
		if err := tx.Bucket(chargeIDsBucket).Delete(itob(c.ID)); err != nil {
			return err
		}
		if owned := tx.Bucket(ownerChargesBucket).Bucket([]byte(c.OwnerID)); owned != nil {
			if err := owned.Delete(itob(c.ID)); err != nil {
				return err
			}
		}
		return charges.Delete([]byte(externalID))
	})
}

// replaceSnapshot writes snapshot into c unless it equals the stored one.
func replaceSnapshot(charges *bolt.Bucket, c *models.Charge, snapshot models.ChargeEvent) (bool, error) {
	current, err := json.Marshal(c.Snapshot)
	if err != nil {
		return false, err
	}
	incoming, err := json.Marshal(snapshot)
	if err != nil {
		return false, err
	}
	if bytes.Equal(current, incoming) {
		return false, nil
	}

	c.Snapshot = snapshot
	c.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(c)
	if err != nil {
		return false, err
	}
	return true, charges.Put([]byte(c.ExternalID), data)
}

func decode(v []byte) (*models.Charge, error) {
	if v == nil {
		return nil, ErrNotFound
	}
	var c models.Charge
	if err := json.Unmarshal(v, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
