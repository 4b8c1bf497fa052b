package cache

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// BulkProducer generates content for a batch of requests. The i-th outcome
// corresponds to the i-th request; failures are per-element, the call
// itself does not fail.
type BulkProducer func(reqs []Request) []ProducerOutcome

// ProducerOutcome is one element of a bulk producer's response.
type ProducerOutcome struct {
	Result *ProducerResult
	Err    error
}

// BulkResult is one element of a bulk wrapper's response: a normalized
// entry or the error that produced it.
type BulkResult struct {
	Entry *Entry
	Err   error
}

// BulkWrapper is the batched form of Wrapper: one call serves many
// requests, partitioning them into cache hits, stale-while-revalidate
// serves, producer calls, and uncacheable pass-throughs.
type BulkWrapper struct {
	cache    *Cache
	producer BulkProducer
	cfg      WrapperConfig
	collapse *Collapser[[]Request, []ProducerOutcome]
}

// WrapBulk builds a BulkWrapper around the cache and bulk producer.
func WrapBulk(c *Cache, producer BulkProducer, cfg WrapperConfig) *BulkWrapper {
	cfg.fill()
	w := &BulkWrapper{cache: c, producer: producer, cfg: cfg}
	w.collapse = NewCollapser(w.produceAndStore, cfg.CollapseWindow, BatchKey)
	return w
}

// Do satisfies a batch of requests. The i-th result corresponds to the i-th
// request regardless of how the internal sub-batches complete.
func (w *BulkWrapper) Do(reqs []Request) []BulkResult {
	completed := make([]Request, len(reqs))
	for i, req := range reqs {
		if req.Params == nil {
			req.Params = Params{}
		}
		completed[i] = req
	}

	var cacheableIdx, uncacheableIdx []int
	for i, req := range completed {
		if w.cfg.IsCacheable(req.ID, req.Params) {
			cacheableIdx = append(cacheableIdx, i)
		} else {
			uncacheableIdx = append(uncacheableIdx, i)
		}
	}

	out := make([]BulkResult, len(reqs))

	// the uncacheable subset goes straight to the producer, uncollapsed,
	// concurrently with the cache lookup
	var uncacheableOuts chan []ProducerOutcome
	if len(uncacheableIdx) > 0 {
		subset := subsetOf(completed, uncacheableIdx)
		uncacheableOuts = make(chan []ProducerOutcome, 1)
		go func() {
			uncacheableOuts <- w.produce(subset)
		}()
	}

	var lookups []Result
	if len(cacheableIdx) > 0 {
		var err error
		lookups, err = w.cache.GetMany(subsetOf(completed, cacheableIdx))
		if err != nil {
			if w.cfg.OnCacheReadFailure == ReadFailureError {
				for _, i := range cacheableIdx {
					out[i] = BulkResult{Err: err}
				}
				lookups = nil
				cacheableIdx = nil
			} else {
				log.Warn().Err(err).Str("cache", w.cfg.CacheName).Msg("Cache read failed, calling producer")
				lookups = make([]Result, len(cacheableIdx))
				for i := range lookups {
					lookups[i] = emptyResult()
				}
			}
		}
	}

	// bucket the cacheable requests by lookup result
	var needsIdx, swrIdx []int
	for pos, i := range cacheableIdx {
		req, lookup := completed[i], lookups[pos]
		switch {
		case lookup.Usable != nil:
			w.publish(OutcomeHit, req.ID)
			out[i] = BulkResult{Entry: lookup.Usable}
		case lookup.UsableWhileRevalidate != nil:
			w.publish(OutcomeStaleWhileRevalidate, req.ID)
			out[i] = BulkResult{Entry: lookup.UsableWhileRevalidate}
			swrIdx = append(swrIdx, i)
		default:
			if req.Directives.MaxAge != nil && *req.Directives.MaxAge == 0 {
				w.publish(OutcomeBypass, req.ID)
			} else {
				w.publish(OutcomeMiss, req.ID)
			}
			needsIdx = append(needsIdx, i)
		}
	}

	var producedOuts <-chan CollapseResult[[]ProducerOutcome]
	if len(needsIdx) > 0 {
		producedOuts = w.collapse.DoChan(subsetOf(completed, needsIdx))
	}

	// background refresh for the stale-while-revalidate subset
	if len(swrIdx) > 0 {
		refresh := w.collapse.DoChan(subsetOf(completed, swrIdx))
		cacheName := w.cfg.CacheName
		go func() {
			r := <-refresh
			for _, o := range r.Val {
				if o.Err != nil {
					log.Warn().Err(o.Err).Str("cache", cacheName).Msg("Background revalidation failed")
				}
			}
		}()
	}

	now := time.Now()

	if uncacheableOuts != nil {
		outs := <-uncacheableOuts
		for pos, i := range uncacheableIdx {
			req := completed[i]
			w.publish(OutcomeUncacheable, req.ID)
			out[i] = w.resolve(req, outs[pos], Result{}, now)
		}
	}

	if producedOuts != nil {
		r := <-producedOuts
		for pos, i := range needsIdx {
			lookup := lookups[indexOf(cacheableIdx, i)]
			out[i] = w.resolve(completed[i], r.Val[pos], lookup, now)
		}
	}

	return out
}

// resolve turns one producer outcome into a bulk result, substituting the
// lookup's stale-if-error entry for a failure when one exists.
func (w *BulkWrapper) resolve(req Request, o ProducerOutcome, lookup Result, now time.Time) BulkResult {
	if o.Err != nil {
		if lookup.UsableIfError != nil {
			log.Warn().Err(o.Err).Str("cache", w.cfg.CacheName).Str("id", req.ID).Msg("Producer failed, serving stale entry")
			return BulkResult{Entry: lookup.UsableIfError}
		}
		return BulkResult{Err: o.Err}
	}
	primary := Resource{
		ID:         req.ID,
		Vary:       o.Result.Vary,
		Content:    o.Result.Content,
		Directives: o.Result.Directives,
		Validators: o.Result.Validators,
	}
	return BulkResult{Entry: w.cache.normalizeResource(primary, now)}
}

// produceAndStore is the collapsed task for one sub-batch: call the
// producer and fire off a single batched write-back for the successes.
func (w *BulkWrapper) produceAndStore(reqs []Request) ([]ProducerOutcome, error) {
	outs := w.produce(reqs)
	var resources []Resource
	for i, o := range outs {
		if o.Err != nil {
			continue
		}
		resources = append(resources, Resource{
			ID:         reqs[i].ID,
			Vary:       o.Result.Vary,
			Content:    o.Result.Content,
			Directives: o.Result.Directives,
			Validators: o.Result.Validators,
		})
		resources = append(resources, o.Result.Supplementals...)
	}
	if len(resources) > 0 {
		go func() {
			if err := w.cache.Store(resources); err != nil {
				warnStoreFailure(w.cfg.CacheName, err)
			}
		}()
	}
	return outs, nil
}

// produce calls the bulk producer and guards against a response of the
// wrong length, which is reported as a per-element failure.
func (w *BulkWrapper) produce(reqs []Request) []ProducerOutcome {
	outs := w.producer(reqs)
	if len(outs) != len(reqs) {
		err := fmt.Errorf("bulk producer returned %d outcomes for %d requests", len(outs), len(reqs))
		log.Error().Err(err).Str("cache", w.cfg.CacheName).Msg("Bulk producer contract violation")
		outs = make([]ProducerOutcome, len(reqs))
		for i := range outs {
			outs[i] = ProducerOutcome{Err: err}
		}
	}
	return outs
}

func (w *BulkWrapper) publish(outcome Outcome, id string) {
	Publish(Diagnostic{CacheName: w.cfg.CacheName, Outcome: outcome, CacheKey: id})
}

func subsetOf(reqs []Request, idx []int) []Request {
	subset := make([]Request, len(idx))
	for pos, i := range idx {
		subset[pos] = reqs[i]
	}
	return subset
}

func indexOf(idx []int, target int) int {
	for pos, i := range idx {
		if i == target {
			return pos
		}
	}
	return -1
}
