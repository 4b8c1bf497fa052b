package cache

import (
	"time"

	"golang.org/x/sync/errgroup"
)

// IDParams identifies one lookup in a batched store read.
type IDParams struct {
	ID     string
	Params Params
}

// StoreInput is one entry offered to a store, together with the advisory
// maximum number of seconds it is worth keeping. The store may evict
// earlier; it should not keep the entry longer.
type StoreInput struct {
	Entry       *Entry
	MaxStoreFor float64
}

// Store is the keyed entry store the cache reads and writes. The primary
// key is the entry id, the secondary key its vary mapping; a store holds at
// most one entry per (id, vary) pair.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns every stored entry for the id whose vary mapping is
	// satisfied by the given normalized params.
	Get(id string, params Params) ([]*Entry, error)
	// GetMany is the batched form of Get; the i-th result corresponds to
	// the i-th request. GetManyDefault is a suitable implementation for
	// backends without native batching.
	GetMany(reqs []IDParams) ([][]*Entry, error)
	// Store upserts each entry keyed by (id, vary). When several inputs
	// in one batch share a key, the one with the latest birth date wins;
	// DedupeLatest implements that rule.
	Store(inputs []StoreInput) error
	// Delete removes every entry for the id, across all vary keys.
	Delete(id string) error
	// Close releases the store's resources. The timeout bounds how long
	// pending I/O may delay the close; zero means no bound.
	Close(timeout time.Duration) error
}

const defaultGetConcurrency = 8

// GetManyDefault implements Store.GetMany on top of Store.Get with bounded
// concurrency, preserving input order.
func GetManyDefault(s Store, reqs []IDParams) ([][]*Entry, error) {
	results := make([][]*Entry, len(reqs))
	var g errgroup.Group
	g.SetLimit(defaultGetConcurrency)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			entries, err := s.Get(req.ID, req.Params)
			if err != nil {
				return err
			}
			results[i] = entries
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// DedupeLatest resolves key collisions within a single store batch: when
// several inputs share (id, vary), only the one with the latest birth date
// is kept. Relative order of the survivors is preserved.
func DedupeLatest(inputs []StoreInput) []StoreInput {
	if len(inputs) < 2 {
		return inputs
	}
	type slot struct {
		index int
		birth time.Time
	}
	latest := make(map[string]slot, len(inputs))
	keep := make([]bool, len(inputs))
	for i, in := range inputs {
		key := in.Entry.ID + "\x00" + in.Entry.Vary.Key()
		if prev, ok := latest[key]; ok {
			if !in.Entry.BirthDate().After(prev.birth) {
				continue
			}
			keep[prev.index] = false
		}
		latest[key] = slot{index: i, birth: in.Entry.BirthDate()}
		keep[i] = true
	}
	out := make([]StoreInput, 0, len(latest))
	for i, in := range inputs {
		if keep[i] {
			out = append(out, in)
		}
	}
	return out
}
