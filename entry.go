// Package cache implements a generalized content cache: the freshness and
// staleness rules of HTTP caching (RFC 9111), rationalized and decoupled from
// HTTP itself. Producers attach directives to the content they generate,
// consumers attach directives expressing their staleness tolerance, and the
// cache decides which stored entries may be reused, which need a background
// refresh, and which may only serve as an error fallback.
package cache

import (
	"encoding/json"
	"math"
	"time"
)

// Params is the set of request parameters, an unordered mapping from names
// to JSON scalars (string, number, boolean). Nil values are not parameters
// and are dropped during normalization.
type Params map[string]any

// Vary declares which params the producing call depended on, and with which
// values. It is the secondary cache key. A key mapped to an absent value
// asserts "the producer saw this param as missing", which is different from
// the key not appearing in the mapping at all (the producer did not depend
// on the param).
type Vary map[string]VaryValue

// VaryValue is either a JSON scalar or the explicit absent marker.
type VaryValue struct {
	value  any
	absent bool
}

// VaryOf returns a vary value holding the given scalar.
func VaryOf(v any) VaryValue {
	return VaryValue{value: canonScalar(v)}
}

// VaryAbsent returns the marker for "param was missing at produce time".
func VaryAbsent() VaryValue {
	return VaryValue{absent: true}
}

// Value returns the scalar and true, or nil and false for the absent marker.
func (v VaryValue) Value() (any, bool) {
	if v.absent {
		return nil, false
	}
	return v.value, true
}

// IsAbsent reports whether this is the absent marker.
func (v VaryValue) IsAbsent() bool {
	return v.absent
}

// The absent marker serializes as JSON null. Param values are never null,
// so the encoding is unambiguous.
func (v VaryValue) MarshalJSON() ([]byte, error) {
	if v.absent {
		return []byte("null"), nil
	}
	return json.Marshal(v.value)
}

func (v *VaryValue) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = VaryValue{absent: true}
		return nil
	}
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	*v = VaryValue{value: canonScalar(value)}
	return nil
}

// Matches reports whether params satisfy this vary mapping: every key must
// either hold an equal scalar, or, for the absent marker, be missing from
// params entirely. Keys not mentioned in the vary mapping are ignored.
func (v Vary) Matches(params Params) bool {
	for name, want := range v {
		got, ok := params[name]
		if want.absent {
			if ok {
				return false
			}
			continue
		}
		if !ok || !scalarEqual(want.value, got) {
			return false
		}
	}
	return true
}

// Key returns the canonical string form of the vary mapping, suitable as the
// secondary part of a store key. encoding/json sorts map keys, which makes
// the encoding stable under key reordering.
func (v Vary) Key() string {
	if len(v) == 0 {
		return "{}"
	}
	b, err := json.Marshal(v)
	if err != nil {
		// vary values are JSON scalars by construction
		panic(err)
	}
	return string(b)
}

// Entry is the unit stored in and returned from a cache: a normalized
// producer result. Entries are keyed by (ID, Vary).
type Entry struct {
	ID string `json:"id"`
	// Vary holds the params the producer depended on.
	Vary Vary `json:"vary"`
	// Content is the opaque payload.
	Content any `json:"content"`
	// InitialAge is the age of the content, in seconds, at the moment of
	// Date. Non-zero when the entry arrived through a chain of caches.
	InitialAge float64 `json:"initialAge"`
	// Date is the wall-clock instant this cache received the entry.
	Date       time.Time          `json:"date"`
	Directives ProducerDirectives `json:"directives"`
	// Validators is opaque validation data (etags, versions). A non-empty
	// mapping means the entry can be revalidated with the producer.
	Validators map[string]any `json:"validators,omitempty"`
}

// BirthDate is the instant the origin generated the content, i.e. Date
// backed off by the age the entry already had when it arrived.
func (e *Entry) BirthDate() time.Time {
	return e.Date.Add(-secondsToDuration(e.InitialAge))
}

// Age returns the entry's age in seconds at the given instant. It is
// negative if the instant precedes the birth date.
func (e *Entry) Age(at time.Time) float64 {
	return at.Sub(e.BirthDate()).Seconds()
}

// IsFresh reports whether the entry is within its producer-declared
// freshness lifetime at the given instant. A negative age is not fresh.
func (e *Entry) IsFresh(at time.Time) bool {
	age := e.Age(at)
	return age >= 0 && age <= e.Directives.FreshUntilAge
}

// IsValidatable reports whether the entry carries validation data.
func (e *Entry) IsValidatable() bool {
	return len(e.Validators) > 0
}

// PotentiallyUsefulFor returns the number of seconds the entry can still be
// of any use to any consumer. An entry whose producer bounded staleness and
// which cannot be revalidated becomes useless once past freshUntilAge +
// maxStale.ifError; every other entry is potentially useful forever (a
// validatable one can always be revalidated, and without a producer maxStale
// a consumer may opt in to arbitrary staleness).
func (e *Entry) PotentiallyUsefulFor(now time.Time) float64 {
	if e.Directives.MaxStale != nil && !e.IsValidatable() {
		return e.Directives.FreshUntilAge + e.Directives.MaxStale.IfError - e.Age(now)
	}
	return math.Inf(1)
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// canonScalar collapses the numeric types a scalar may arrive as into
// float64, so that values compare equal regardless of whether they came from
// JSON decoding or Go literals.
func canonScalar(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case float32:
		return float64(n)
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	default:
		return v
	}
}

func scalarEqual(a, b any) bool {
	return canonScalar(a) == canonScalar(b)
}
