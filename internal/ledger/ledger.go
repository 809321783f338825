// Package ledger persists pipeline outcomes: validated records for
// documents that reached Ready and categorized failures for those that did
// not. The export surface reads from here, never from the pipeline
// directly.
package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/tablewise/invoice-pipeline/constants"
	"github.com/tablewise/invoice-pipeline/internal/common"
	"github.com/tablewise/invoice-pipeline/internal/entity"
)

const (
	recordsBucket  = "records"
	failuresBucket = "failures"
)

// Failure is one document run that ended in Error.
type Failure struct {
	DocumentID uuid.UUID              `json:"document_id"`
	Filename   string                 `json:"filename"`
	Cause      constants.FailureCause `json:"cause"`
	Message    string                 `json:"message"`
	At         time.Time              `json:"at"`
}

// Store is the persistence interface the pipeline and exporters depend on.
type Store interface {
	SaveRecords(docID uuid.UUID, records []entity.ValidatedRecord) error
	RecordsFor(docID uuid.UUID) ([]entity.ValidatedRecord, error)
	ListRecords() ([]entity.ValidatedRecord, error)
	SaveFailure(f Failure) error
	ListFailures() ([]Failure, error)
	Close() error
}

// BoltStore implements Store on a single-file bbolt database.
type BoltStore struct {
	db *bbolt.DB
}

func Open(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(recordsBucket)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(failuresBucket)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating ledger buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// SaveRecords stores every logical record of one document run under
// "<docID>/<seq>". A re-run overwrites the previous run's records at the
// same keys.
func (b *BoltStore) SaveRecords(docID uuid.UUID, records []entity.ValidatedRecord) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(recordsBucket))
		for i, rec := range records {
			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("marshaling record: %w", err)
			}
			key := fmt.Sprintf("%s/%03d", docID, i)
			if err := bucket.Put([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// RecordsFor returns the records of one document, in sequence order.
func (b *BoltStore) RecordsFor(docID uuid.UUID) ([]entity.ValidatedRecord, error) {
	var records []entity.ValidatedRecord
	prefix := []byte(docID.String() + "/")
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(recordsBucket)).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var rec entity.ValidatedRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshaling record %s: %w", k, err)
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, common.ErrNotFound
	}
	return records, nil
}

// ListRecords returns every stored record, ordered by key.
func (b *BoltStore) ListRecords() ([]entity.ValidatedRecord, error) {
	records := make([]entity.ValidatedRecord, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(recordsBucket)).ForEach(func(k, v []byte) error {
			var rec entity.ValidatedRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshaling record %s: %w", k, err)
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// SaveFailure stores the latest failure of a document, keyed by document id
// so a retry that fails again replaces the stale cause.
func (b *BoltStore) SaveFailure(f Failure) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("marshaling failure: %w", err)
		}
		return tx.Bucket([]byte(failuresBucket)).Put([]byte(f.DocumentID.String()), data)
	})
}

// ListFailures returns all recorded failures.
func (b *BoltStore) ListFailures() ([]Failure, error) {
	failures := make([]Failure, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(failuresBucket)).ForEach(func(k, v []byte) error {
			var f Failure
			if err := json.Unmarshal(v, &f); err != nil {
				return fmt.Errorf("unmarshaling failure %s: %w", k, err)
			}
			failures = append(failures, f)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return failures, nil
}

func (b *BoltStore) Close() error {
	return b.db.Close()
}
