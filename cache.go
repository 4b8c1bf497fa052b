package cache

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrClosed is returned by cache operations after Close, unless the
// corresponding after-close policy is ClosedEmpty.
var ErrClosed = errors.New("cache is closed")

// ClosedPolicy selects what an operation does when called after Close.
type ClosedPolicy int

const (
	// ClosedError fails the operation with ErrClosed.
	ClosedError ClosedPolicy = iota
	// ClosedEmpty reads as if the cache were empty and drops writes.
	ClosedEmpty
)

// Request is one consumer lookup: an id, the request params, and the
// consumer's directives.
type Request struct {
	ID         string             `json:"id"`
	Params     Params             `json:"params,omitempty"`
	Directives ConsumerDirectives `json:"directives,omitempty"`
}

// Result is the outcome of a cache lookup, grouping candidate entries by
// classification. At most one of the three entry fields is set: a Usable
// entry shadows everything else, and UsableWhileRevalidate shadows
// UsableIfError. Validatable lists the entries that could be revalidated
// with the producer; it is empty whenever Usable is set.
type Result struct {
	Usable                *Entry   `json:"usable,omitempty"`
	UsableWhileRevalidate *Entry   `json:"usableWhileRevalidate,omitempty"`
	UsableIfError         *Entry   `json:"usableIfError,omitempty"`
	Validatable           []*Entry `json:"validatable"`
}

// Resource is a raw producer result offered to Cache.Store. Missing fields
// are defaulted during normalization: InitialAge is clamped to non-negative,
// a zero Date means "now", Vary and Validators default to empty.
type Resource struct {
	ID         string             `json:"id"`
	Vary       Vary               `json:"vary,omitempty"`
	Content    any                `json:"content"`
	InitialAge float64            `json:"initialAge,omitempty"`
	Date       time.Time          `json:"date,omitempty"`
	Directives ProducerDirectives `json:"directives"`
	Validators map[string]any     `json:"validators,omitempty"`
}

// StoreListener observes entries offered to Cache.Store, together with the
// advisory store lifetime computed for each. Listeners run synchronously on
// the storing goroutine, before the store write begins and regardless of
// its outcome.
type StoreListener func(e *Entry, maxStoreFor float64)

// Config configures a Cache.
type Config struct {
	Store Store
	// OnGetAfterClose and OnStoreAfterClose select the behavior of reads
	// and writes arriving after Close. Default for both is ClosedError.
	OnGetAfterClose   ClosedPolicy
	OnStoreAfterClose ClosedPolicy
	// NormalizeName and NormalizeValue canonicalize param names and
	// values on every lookup and store. Defaults: identity names,
	// numeric canonicalization for values.
	NormalizeName  NameNormalizer
	NormalizeValue ValueNormalizer
}

// Cache is the façade over a Store: it normalizes requests, classifies the
// store's candidate entries, and picks the best one per category.
type Cache struct {
	store             Store
	onGetAfterClose   ClosedPolicy
	onStoreAfterClose ClosedPolicy
	normName          NameNormalizer
	normValue         ValueNormalizer

	mu        sync.Mutex
	closed    bool
	listeners []StoreListener
}

// New creates a Cache over the given store.
func New(cfg Config) *Cache {
	if cfg.Store == nil {
		panic("cache: Config.Store is required")
	}
	return &Cache{
		store:             cfg.Store,
		onGetAfterClose:   cfg.OnGetAfterClose,
		onStoreAfterClose: cfg.OnStoreAfterClose,
		normName:          cfg.NormalizeName,
		normValue:         cfg.NormalizeValue,
	}
}

// OnStore registers a listener for entries offered to Store.
func (c *Cache) OnStore(l StoreListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Get looks up the best stored entries for the request.
func (c *Cache) Get(req Request) (Result, error) {
	if c.isClosed() {
		if c.onGetAfterClose == ClosedEmpty {
			return emptyResult(), nil
		}
		return Result{}, ErrClosed
	}
	params := NormalizeParams(req.Params, c.normName, c.normValue)
	now := time.Now()
	entries, err := c.store.Get(req.ID, params)
	if err != nil {
		return Result{}, err
	}
	return processEntries(entries, req.Directives, now), nil
}

// GetMany is the batched form of Get. The i-th result corresponds to the
// i-th request, and a single instant is used to classify the whole batch.
func (c *Cache) GetMany(reqs []Request) ([]Result, error) {
	if c.isClosed() {
		if c.onGetAfterClose == ClosedEmpty {
			results := make([]Result, len(reqs))
			for i := range results {
				results[i] = emptyResult()
			}
			return results, nil
		}
		return nil, ErrClosed
	}
	lookups := make([]IDParams, len(reqs))
	for i, req := range reqs {
		lookups[i] = IDParams{ID: req.ID, Params: NormalizeParams(req.Params, c.normName, c.normValue)}
	}
	now := time.Now()
	batches, err := c.store.GetMany(lookups)
	if err != nil {
		return nil, err
	}
	results := make([]Result, len(reqs))
	for i, entries := range batches {
		results[i] = processEntries(entries, reqs[i].Directives, now)
	}
	return results, nil
}

// Store normalizes the resources into entries, notifies store listeners,
// and writes the batch to the store. Listener notification happens in input
// order before the write begins; a failing write does not un-notify.
func (c *Cache) Store(resources []Resource) error {
	if c.isClosed() {
		if c.onStoreAfterClose == ClosedEmpty {
			return nil
		}
		return ErrClosed
	}
	now := time.Now()
	inputs := make([]StoreInput, len(resources))
	for i, r := range resources {
		e := c.normalizeResource(r, now)
		inputs[i] = StoreInput{Entry: e, MaxStoreFor: MaxStoreFor(e, now)}
	}
	c.mu.Lock()
	listeners := c.listeners
	c.mu.Unlock()
	for _, in := range inputs {
		for _, l := range listeners {
			l(in.Entry, in.MaxStoreFor)
		}
	}
	return c.store.Store(inputs)
}

// Close marks the cache closed and closes the underlying store. Idempotent
// with respect to the closed flag; the store decides what repeated closes
// and the timeout mean.
func (c *Cache) Close(timeout time.Duration) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.store.Close(timeout)
}

func (c *Cache) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// normalizeResource fills a raw resource's defaults and normalizes its vary
// mapping and directives into a storable entry.
func (c *Cache) normalizeResource(r Resource, now time.Time) *Entry {
	date := r.Date
	if date.IsZero() {
		date = now
	}
	validators := r.Validators
	if validators == nil {
		validators = map[string]any{}
	}
	return &Entry{
		ID:         r.ID,
		Vary:       NormalizeVary(r.Vary, c.normName, c.normValue),
		Content:    r.Content,
		InitialAge: clampSeconds(r.InitialAge),
		Date:       date,
		Directives: NormalizeProducerDirectives(r.Directives),
		Validators: validators,
	}
}

// MaxStoreFor computes the advisory number of seconds a just-received entry
// is worth keeping in a store: the producer's storeFor allowance (measured
// from generation, so reduced by the age the entry arrived with) capped by
// how long the entry can still be useful to anyone.
func MaxStoreFor(e *Entry, now time.Time) float64 {
	requested := math.Inf(1)
	if e.Directives.StoreFor != nil {
		requested = *e.Directives.StoreFor - e.InitialAge
	}
	return maxFloat(0, minFloat(requested, e.PotentiallyUsefulFor(now)))
}

// processEntries groups the store's candidates by classification and picks
// the best entry per bucket. Usable wins outright; otherwise the stale
// buckets are returned together with whichever entries could be
// revalidated.
func processEntries(entries []*Entry, dirs ConsumerDirectives, now time.Time) Result {
	var usable, whileRevalidate, ifError []*Entry
	for _, e := range entries {
		switch Classify(e, dirs, now) {
		case Usable:
			usable = append(usable, e)
		case UsableWhileRevalidate:
			whileRevalidate = append(whileRevalidate, e)
		case UsableIfError:
			ifError = append(ifError, e)
		}
	}
	if len(usable) > 0 {
		return Result{Usable: newest(usable), Validatable: []*Entry{}}
	}
	validatable := []*Entry{}
	for _, e := range entries {
		if e.IsValidatable() {
			validatable = append(validatable, e)
		}
	}
	if len(whileRevalidate) > 0 {
		return Result{UsableWhileRevalidate: newest(whileRevalidate), Validatable: validatable}
	}
	res := Result{Validatable: validatable}
	if len(ifError) > 0 {
		res.UsableIfError = newest(ifError)
	}
	return res
}

// newest returns the entry with the greatest birth date; on equal birth
// dates the later one in input order wins.
func newest(entries []*Entry) *Entry {
	best := entries[0]
	for _, e := range entries[1:] {
		if !e.BirthDate().Before(best.BirthDate()) {
			best = e
		}
	}
	return best
}

func emptyResult() Result {
	return Result{Validatable: []*Entry{}}
}

func warnStoreFailure(cacheName string, err error) {
	log.Warn().Err(err).Str("cache", cacheName).Msg("Could not write to cache")
}
