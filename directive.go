package cache

// MaxStale bounds how far past its freshness lifetime an entry may be used.
// The three thresholds are seconds of staleness and must be monotonically
// increasing; normalization enforces this by clamping.
type MaxStale struct {
	// WithoutRevalidation permits serving the entry as-is.
	WithoutRevalidation float64 `json:"withoutRevalidation"`
	// WhileRevalidate permits serving the entry while a background
	// refresh runs.
	WhileRevalidate float64 `json:"whileRevalidate"`
	// IfError permits serving the entry only when the producer fails.
	IfError float64 `json:"ifError"`
}

// ProducerDirectives are the caching rules a producer attaches to content.
type ProducerDirectives struct {
	// FreshUntilAge is the freshness lifetime in seconds from birth.
	FreshUntilAge float64 `json:"freshUntilAge"`
	// MaxStale, if set, bounds how stale the entry may be served.
	MaxStale *MaxStale `json:"maxStale,omitempty"`
	// StoreFor, if set, is the maximum time in seconds the entry may
	// remain in a store, measured from content generation.
	StoreFor *float64 `json:"storeFor,omitempty"`
}

// ConsumerMaxStale is a consumer's tolerance for stale entries. Unlike the
// producer form it may also tighten the freshness lifetime.
type ConsumerMaxStale struct {
	// FreshUntilAge, if set, lowers (never raises) the effective
	// freshness lifetime.
	FreshUntilAge       *float64 `json:"freshUntilAge,omitempty"`
	WithoutRevalidation float64  `json:"withoutRevalidation"`
	WhileRevalidate     float64  `json:"whileRevalidate"`
	IfError             float64  `json:"ifError"`
}

// ConsumerDirectives express what a consumer will accept from the cache.
type ConsumerDirectives struct {
	// MaxAge, if set, is a hard ceiling on entry age in seconds. No
	// staleness policy can override it. Zero means bypass the cache.
	MaxAge *float64 `json:"maxAge,omitempty"`
	// MaxStale, if set, opts in to stale entries.
	MaxStale *ConsumerMaxStale `json:"maxStale,omitempty"`
}

// Float returns a pointer to v, for filling optional directive fields.
func Float(v float64) *float64 {
	return &v
}

// NormalizeProducerDirectives coerces raw producer directives into canonical
// form: non-negative lifetimes and monotonic staleness thresholds. It is
// total and idempotent.
func NormalizeProducerDirectives(raw ProducerDirectives) ProducerDirectives {
	out := ProducerDirectives{
		FreshUntilAge: clampSeconds(raw.FreshUntilAge),
		StoreFor:      raw.StoreFor,
	}
	if raw.MaxStale != nil {
		ms := raw.MaxStale.normalize()
		out.MaxStale = &ms
	}
	return out
}

// NormalizeConsumerDirectives coerces raw consumer directives into canonical
// form. Total and idempotent.
func NormalizeConsumerDirectives(raw ConsumerDirectives) ConsumerDirectives {
	out := ConsumerDirectives{}
	if raw.MaxAge != nil {
		out.MaxAge = Float(clampSeconds(*raw.MaxAge))
	}
	if raw.MaxStale != nil {
		ms := NormalizeConsumerMaxStale(*raw.MaxStale)
		out.MaxStale = &ms
	}
	return out
}

// NormalizeConsumerMaxStale clamps the thresholds to be non-negative and
// monotonically increasing, replacing each violator with its predecessor.
func NormalizeConsumerMaxStale(raw ConsumerMaxStale) ConsumerMaxStale {
	out := ConsumerMaxStale{
		WithoutRevalidation: clampSeconds(raw.WithoutRevalidation),
	}
	if raw.FreshUntilAge != nil {
		out.FreshUntilAge = Float(clampSeconds(*raw.FreshUntilAge))
	}
	out.WhileRevalidate = maxFloat(out.WithoutRevalidation, clampSeconds(raw.WhileRevalidate))
	out.IfError = maxFloat(out.WhileRevalidate, clampSeconds(raw.IfError))
	return out
}

func (m MaxStale) normalize() MaxStale {
	out := MaxStale{WithoutRevalidation: clampSeconds(m.WithoutRevalidation)}
	out.WhileRevalidate = maxFloat(out.WithoutRevalidation, clampSeconds(m.WhileRevalidate))
	out.IfError = maxFloat(out.WhileRevalidate, clampSeconds(m.IfError))
	return out
}

func clampSeconds(v float64) float64 {
	return maxFloat(0, v)
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
