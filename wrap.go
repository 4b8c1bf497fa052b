package cache

import (
	"time"

	"github.com/rs/zerolog/log"
)

// Producer generates content for a request. A returned error means the
// origin is unavailable; a successful result whose content happens to be an
// error value is still a success.
type Producer func(req Request) (*ProducerResult, error)

// ProducerResult is what a producer returns for one request: the primary
// resource (the id is supplied by the requesting call) plus any number of
// supplemental resources to cache alongside it.
type ProducerResult struct {
	Content    any
	Vary       Vary
	Directives ProducerDirectives
	Validators map[string]any
	// Supplementals are cached but never returned to the requesting
	// caller; a later request must fetch them from the cache.
	Supplementals []Resource
}

// ReadFailurePolicy selects what a wrapper does when the cache read fails.
type ReadFailurePolicy int

const (
	// ReadFailureCallProducer treats a failed cache read as a miss and
	// calls the producer.
	ReadFailureCallProducer ReadFailurePolicy = iota
	// ReadFailureError propagates the cache read failure to the caller.
	ReadFailureError
)

// DefaultCollapseWindow is how long overlapping identical producer calls
// are collapsed when WrapperConfig.CollapseWindow is zero.
const DefaultCollapseWindow = 3 * time.Second

// WrapperConfig configures a producer-wrapping cache, single or bulk.
type WrapperConfig struct {
	// CacheName labels diagnostics messages.
	CacheName string
	// IsCacheable excludes requests from caching entirely. Default:
	// everything is cacheable.
	IsCacheable func(id string, params Params) bool
	// CollapseWindow is the sliding window within which identical
	// producer calls are collapsed. Default DefaultCollapseWindow.
	CollapseWindow time.Duration
	// OnCacheReadFailure selects the reaction to a failing cache read.
	// Default: call the producer.
	OnCacheReadFailure ReadFailurePolicy
}

func (cfg *WrapperConfig) fill() {
	if cfg.IsCacheable == nil {
		cfg.IsCacheable = func(string, Params) bool { return true }
	}
	if cfg.CollapseWindow == 0 {
		cfg.CollapseWindow = DefaultCollapseWindow
	}
}

// Wrapper composes a Cache with a Producer: lookups are served from the
// cache when the consumer's directives allow, the producer is called
// (collapsed across overlapping identical requests) otherwise, and fresh
// results are written back in the background.
type Wrapper struct {
	cache    *Cache
	producer Producer
	cfg      WrapperConfig
	collapse *Collapser[Request, *Entry]
}

// Wrap builds a Wrapper around the cache and producer.
func Wrap(c *Cache, producer Producer, cfg WrapperConfig) *Wrapper {
	cfg.fill()
	w := &Wrapper{cache: c, producer: producer, cfg: cfg}
	w.collapse = NewCollapser(w.produceAndStore, cfg.CollapseWindow, RequestKey)
	return w
}

// Do satisfies one request, from the cache or the producer.
func (w *Wrapper) Do(req Request) (*Entry, error) {
	if req.Params == nil {
		req.Params = Params{}
	}

	if !w.cfg.IsCacheable(req.ID, req.Params) {
		w.publish(OutcomeUncacheable, req.ID)
		res, err := w.producer(req)
		if err != nil {
			return nil, err
		}
		// not collapsed and not stored, supplementals included
		return w.cache.normalizeResource(w.primaryResource(req, res), time.Now()), nil
	}

	lookup, err := w.cache.Get(req)
	if err != nil {
		if w.cfg.OnCacheReadFailure == ReadFailureError {
			return nil, err
		}
		log.Warn().Err(err).Str("cache", w.cfg.CacheName).Str("id", req.ID).Msg("Cache read failed, calling producer")
		lookup = emptyResult()
	}

	if lookup.Usable != nil {
		w.publish(OutcomeHit, req.ID)
		return lookup.Usable, nil
	}

	produced := w.collapse.DoChan(req)

	if lookup.UsableWhileRevalidate != nil {
		w.publish(OutcomeStaleWhileRevalidate, req.ID)
		go func() {
			if r := <-produced; r.Err != nil {
				log.Warn().Err(r.Err).Str("cache", w.cfg.CacheName).Str("id", req.ID).Msg("Background revalidation failed")
			}
		}()
		return lookup.UsableWhileRevalidate, nil
	}

	if req.Directives.MaxAge != nil && *req.Directives.MaxAge == 0 {
		w.publish(OutcomeBypass, req.ID)
	} else {
		w.publish(OutcomeMiss, req.ID)
	}

	r := <-produced
	if r.Err != nil && lookup.UsableIfError != nil {
		log.Warn().Err(r.Err).Str("cache", w.cfg.CacheName).Str("id", req.ID).Msg("Producer failed, serving stale entry")
		return lookup.UsableIfError, nil
	}
	return r.Val, r.Err
}

// produceAndStore is the collapsed task: call the producer, kick off the
// write-back, and yield the normalized primary entry. The write-back is
// fire-and-forget so a slow store never delays the response.
func (w *Wrapper) produceAndStore(req Request) (*Entry, error) {
	res, err := w.producer(req)
	if err != nil {
		return nil, err
	}
	primary := w.primaryResource(req, res)
	go func() {
		resources := append([]Resource{primary}, res.Supplementals...)
		if err := w.cache.Store(resources); err != nil {
			warnStoreFailure(w.cfg.CacheName, err)
		}
	}()
	return w.cache.normalizeResource(primary, time.Now()), nil
}

func (w *Wrapper) primaryResource(req Request, res *ProducerResult) Resource {
	return Resource{
		ID:         req.ID,
		Vary:       res.Vary,
		Content:    res.Content,
		Directives: res.Directives,
		Validators: res.Validators,
	}
}

func (w *Wrapper) publish(outcome Outcome, id string) {
	Publish(Diagnostic{CacheName: w.cfg.CacheName, Outcome: outcome, CacheKey: id})
}
