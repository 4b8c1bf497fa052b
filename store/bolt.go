package store

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"go.etcd.io/bbolt"

	"github.com/joinava/cache"
)

// Bolt is a Store backed by a bbolt database: one bucket per entry id, one
// key per vary mapping. Like SQLite, the vary predicate is evaluated in Go,
// so param values must be JSON scalars.
type Bolt struct {
	db *bbolt.DB
}

// boltEnvelope wraps an entry with its advisory expiry for storage.
type boltEnvelope struct {
	Entry     *cache.Entry `json:"entry"`
	ExpiresMs int64        `json:"expiresMs"` // zero means no advisory limit
}

// NewBolt opens (or creates) the bbolt database at the given filename.
func NewBolt(filename string) (*Bolt, error) {
	db, err := bbolt.Open(filename, 0o644, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) Get(id string, params cache.Params) ([]*cache.Entry, error) {
	entries := make([]*cache.Entry, 0)
	nowMs := time.Now().UnixMilli()
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(id))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(_, raw []byte) error {
			var env boltEnvelope
			if err := json.Unmarshal(raw, &env); err != nil {
				return fmt.Errorf("corrupt cache entry for id %q: %w", id, err)
			}
			if env.ExpiresMs != 0 && nowMs > env.ExpiresMs {
				return nil
			}
			if env.Entry.Vary.Matches(params) {
				entries = append(entries, env.Entry)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// GetMany fans the lookups out over concurrent read transactions.
func (b *Bolt) GetMany(reqs []cache.IDParams) ([][]*cache.Entry, error) {
	return cache.GetManyDefault(b, reqs)
}

func (b *Bolt) Store(inputs []cache.StoreInput) error {
	inputs = cache.DedupeLatest(inputs)
	now := time.Now()
	return b.db.Update(func(tx *bbolt.Tx) error {
		for _, in := range inputs {
			bucket, err := tx.CreateBucketIfNotExists([]byte(in.Entry.ID))
			if err != nil {
				return fmt.Errorf("create bucket: %w", err)
			}
			env := boltEnvelope{Entry: in.Entry}
			if !math.IsInf(in.MaxStoreFor, 1) {
				env.ExpiresMs = now.Add(time.Duration(in.MaxStoreFor * float64(time.Second))).UnixMilli()
			}
			raw, err := json.Marshal(env)
			if err != nil {
				return err
			}
			if err := bucket.Put([]byte(in.Entry.Vary.Key()), raw); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Bolt) Delete(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(id)) == nil {
			return nil
		}
		return tx.DeleteBucket([]byte(id))
	})
}

func (b *Bolt) Close(time.Duration) error {
	return b.db.Close()
}
