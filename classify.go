package cache

import (
	"math"
	"time"
)

// Usability is the classification of a stored entry against a consumer's
// directives at a point in time. The categories are ordered from most to
// least usable; as an entry ages its category index only ever increases.
type Usability int

const (
	// Usable entries may be returned as-is.
	Usable Usability = iota
	// UsableWhileRevalidate entries may be returned immediately provided
	// a background refresh is started.
	UsableWhileRevalidate
	// UsableIfError entries may be returned only if the producer fails.
	UsableIfError
	// Unusable entries must not be returned.
	Unusable
)

func (u Usability) String() string {
	switch u {
	case Usable:
		return "usable"
	case UsableWhileRevalidate:
		return "usable-while-revalidate"
	case UsableIfError:
		return "usable-if-error"
	default:
		return "unusable"
	}
}

// Classify decides how the entry may be used at the given instant, honoring
// both producer and consumer directives. Every directive from both sides is
// satisfied independently; no directive can loosen another. Pure.
func Classify(e *Entry, dirs ConsumerDirectives, now time.Time) Usability {
	age := e.Age(now)

	// maxAge is a hard ceiling no staleness policy can override
	if dirs.MaxAge != nil && age > clampSeconds(*dirs.MaxAge) {
		return Unusable
	}

	var consumerStale *ConsumerMaxStale
	if dirs.MaxStale != nil {
		ms := NormalizeConsumerMaxStale(*dirs.MaxStale)
		consumerStale = &ms
	}

	// the consumer may tighten, never loosen, the freshness lifetime
	lifetime := e.Directives.FreshUntilAge
	if consumerStale != nil && consumerStale.FreshUntilAge != nil {
		lifetime = minFloat(lifetime, *consumerStale.FreshUntilAge)
	}
	if age >= 0 && age <= lifetime {
		return Usable
	}

	producerStale := e.Directives.MaxStale
	if consumerStale == nil && producerStale == nil {
		return Unusable
	}

	// Effective staleness bounds are the per-field minimum of both sides.
	// A missing producer maxStale bounds nothing; a missing consumer
	// maxStale mirrors HTTP: the entry must be revalidated, but the
	// producer's own revalidate and error windows still apply.
	inf := math.Inf(1)
	pWithout, pWhile, pIfError := inf, inf, inf
	if producerStale != nil {
		ms := producerStale.normalize()
		pWithout, pWhile, pIfError = ms.WithoutRevalidation, ms.WhileRevalidate, ms.IfError
	}
	var cWithout, cWhile, cIfError float64
	if consumerStale != nil {
		cWithout, cWhile, cIfError = consumerStale.WithoutRevalidation, consumerStale.WhileRevalidate, consumerStale.IfError
	} else {
		cWithout, cWhile, cIfError = 0, pWhile, pIfError
	}

	staleness := age - lifetime
	switch {
	case staleness <= minFloat(pWithout, cWithout):
		return Usable
	case staleness <= minFloat(pWhile, cWhile):
		return UsableWhileRevalidate
	case staleness <= minFloat(pIfError, cIfError):
		return UsableIfError
	default:
		return Unusable
	}
}
