package meta

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// Store persists engine state that is not derivable from the data tree:
// quota usage between restarts, the lifecycle action log and run history.
type Store interface {
	SaveUsage(ctx context.Context, snap UsageSnapshot) error
	LoadUsage(ctx context.Context) (*UsageSnapshot, error)

	RecordAction(ctx context.Context, rec ActionRecord) (uint64, error)
	ListActions(ctx context.Context, limit int) ([]ActionRecord, error)
	PruneActions(ctx context.Context, keep int) (int, error)

	RecordRun(ctx context.Context, rec RunRecord) error
	LastRun(ctx context.Context, kind string) (*RunRecord, error)

	Ping() error
	Close() error
}

// BoltStore implements Store using bbolt (BoltDB).
type BoltStore struct {
	db     *bbolt.DB
	logger *zap.Logger
}

// NewBoltStore opens or creates a BoltDB metadata store.
func NewBoltStore(path string, noSync bool, logger *zap.Logger) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second, NoSync: noSync})
	if err != nil {
		return nil, fmt.Errorf("opening bolt db: %w", err)
	}

	s := &BoltStore{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *BoltStore) initSchema() error {
	if err := s.db.Update(func(tx *bbolt.Tx) error {
		sys, err := tx.CreateBucketIfNotExists(bucketSystem)
		if err != nil {
			return err
		}
		fresh := sys.Get(keySchemaVersion) == nil
		if fresh {
			for _, name := range [][]byte{bucketUsage, bucketActions, bucketRuns} {
				if _, err := tx.CreateBucketIfNotExists(name); err != nil {
					return err
				}
			}
			return sys.Put(keySchemaVersion, uint64ToBytes(currentSchemaVersion))
		}
		return nil
	}); err != nil {
		return err
	}
	return s.Migrate()
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (s *BoltStore) SaveUsage(_ context.Context, snap UsageSnapshot) error {
	data, err := encode(&snap)
	if err != nil {
		return fmt.Errorf("encoding usage snapshot: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUsage).Put(keyUsageSnapshot, data)
	})
}

// LoadUsage returns the last saved snapshot, or nil if none was saved.
func (s *BoltStore) LoadUsage(_ context.Context) (*UsageSnapshot, error) {
	var snap *UsageSnapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketUsage).Get(keyUsageSnapshot)
		if raw == nil {
			return nil
		}
		snap = &UsageSnapshot{}
		return decode(raw, snap)
	})
	if err != nil {
		return nil, fmt.Errorf("loading usage snapshot: %w", err)
	}
	return snap, nil
}

// RecordAction appends rec to the action log and returns its assigned ID.
func (s *BoltStore) RecordAction(_ context.Context, rec ActionRecord) (uint64, error) {
	var id uint64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketActions)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		rec.ID = seq
		if rec.ExecutedAt.IsZero() {
			rec.ExecutedAt = time.Now().UTC()
		}
		data, err := encode(&rec)
		if err != nil {
			return err
		}
		id = seq
		return b.Put(uint64ToBytes(seq), data)
	})
	return id, err
}

// ListActions returns up to limit actions, newest first. A limit <= 0
// returns the whole log.
func (s *BoltStore) ListActions(_ context.Context, limit int) ([]ActionRecord, error) {
	var out []ActionRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketActions).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var rec ActionRecord
			if err := decode(v, &rec); err != nil {
				return fmt.Errorf("decoding action %d: %w", bytesToUint64(k), err)
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

// PruneActions drops all but the newest keep actions and reports how many
// were removed.
func (s *BoltStore) PruneActions(_ context.Context, keep int) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketActions)
		total := b.Stats().KeyN
		excess := total - keep
		if excess <= 0 {
			return nil
		}
		var stale [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil && len(stale) < excess; k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

func (s *BoltStore) RecordRun(_ context.Context, rec RunRecord) error {
	if rec.Kind == "" {
		return fmt.Errorf("run record requires a kind")
	}
	data, err := encode(&rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		kb, err := tx.Bucket(bucketRuns).CreateBucketIfNotExists([]byte(rec.Kind))
		if err != nil {
			return err
		}
		return kb.Put(int64ToBytes(rec.StartedAt.UnixNano()), data)
	})
}

// LastRun returns the most recent run of the given kind, or nil.
func (s *BoltStore) LastRun(_ context.Context, kind string) (*RunRecord, error) {
	var rec *RunRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		kb := tx.Bucket(bucketRuns).Bucket([]byte(kind))
		if kb == nil {
			return nil
		}
		_, v := kb.Cursor().Last()
		if v == nil {
			return nil
		}
		rec = &RunRecord{}
		return decode(v, rec)
	})
	return rec, err
}

func (s *BoltStore) Ping() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return nil
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
