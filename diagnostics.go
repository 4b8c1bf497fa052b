package cache

import (
	"sync"

	"github.com/google/uuid"
)

// Outcome says how a wrapper satisfied one request.
type Outcome string

const (
	// OutcomeHit means a usable entry was returned from the cache.
	OutcomeHit Outcome = "hit"
	// OutcomeStaleWhileRevalidate means a stale entry was returned and a
	// background refresh was started.
	OutcomeStaleWhileRevalidate Outcome = "stale_while_revalidate"
	// OutcomeBypass means the consumer demanded age zero, so the cache
	// was skipped.
	OutcomeBypass Outcome = "bypass"
	// OutcomeMiss means no usable entry existed and the producer was
	// called.
	OutcomeMiss Outcome = "miss"
	// OutcomeUncacheable means the request was excluded from caching.
	OutcomeUncacheable Outcome = "uncacheable"
)

// Diagnostic is one message on the diagnostics channel: the outcome of one
// request handled by a wrapper.
type Diagnostic struct {
	CacheName string
	Outcome   Outcome
	CacheKey  string
}

// The diagnostics channel is process-wide: subscribers are external
// observers and the publishing wrappers have no common ancestor to hang a
// registry on.
var diagnostics = struct {
	mu   sync.RWMutex
	subs map[string]func(Diagnostic)
}{subs: make(map[string]func(Diagnostic))}

// Subscribe registers a diagnostics observer and returns a token for
// Unsubscribe. Observers run synchronously on the publishing goroutine and
// must be cheap.
func Subscribe(fn func(Diagnostic)) string {
	token := uuid.NewString()
	diagnostics.mu.Lock()
	diagnostics.subs[token] = fn
	diagnostics.mu.Unlock()
	return token
}

// Unsubscribe removes the observer registered under the token.
func Unsubscribe(token string) {
	diagnostics.mu.Lock()
	delete(diagnostics.subs, token)
	diagnostics.mu.Unlock()
}

// Publish fans the diagnostic out to every subscriber, synchronously.
func Publish(d Diagnostic) {
	diagnostics.mu.RLock()
	defer diagnostics.mu.RUnlock()
	for _, fn := range diagnostics.subs {
		fn(d)
	}
}
