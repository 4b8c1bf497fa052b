package cache

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBirthDateRoundTrip(t *testing.T) {
	date := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	e := &Entry{Date: date, InitialAge: 90}
	assert.Equal(t, date.Add(-90*time.Second), e.BirthDate())

	e = &Entry{Date: date}
	assert.Equal(t, date, e.BirthDate())
}

func TestAge(t *testing.T) {
	date := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	e := &Entry{Date: date, InitialAge: 10}
	assert.InDelta(t, 40.0, e.Age(date.Add(30*time.Second)), 1e-9)
	// before birth the age is negative
	assert.InDelta(t, -20.0, e.Age(date.Add(-30*time.Second)), 1e-9)
}

func TestIsFresh(t *testing.T) {
	date := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	e := &Entry{Date: date, Directives: ProducerDirectives{FreshUntilAge: 60}}
	assert.True(t, e.IsFresh(date))
	assert.True(t, e.IsFresh(date.Add(60*time.Second)))
	assert.False(t, e.IsFresh(date.Add(61*time.Second)))
	assert.False(t, e.IsFresh(date.Add(-time.Second)))
}

func TestIsValidatable(t *testing.T) {
	assert.False(t, (&Entry{}).IsValidatable())
	assert.False(t, (&Entry{Validators: map[string]any{}}).IsValidatable())
	assert.True(t, (&Entry{Validators: map[string]any{"etag": "w/1"}}).IsValidatable())
}

func TestPotentiallyUsefulFor(t *testing.T) {
	now := time.Now()
	bounded := &Entry{
		Date:       now,
		Directives: ProducerDirectives{FreshUntilAge: 10, MaxStale: &MaxStale{IfError: 20}},
	}
	assert.InDelta(t, 30.0, bounded.PotentiallyUsefulFor(now), 0.1)

	validatable := &Entry{
		Date:       now,
		Directives: ProducerDirectives{FreshUntilAge: 10, MaxStale: &MaxStale{IfError: 20}},
		Validators: map[string]any{"etag": "1"},
	}
	assert.True(t, math.IsInf(validatable.PotentiallyUsefulFor(now), 1))

	unbounded := &Entry{Date: now, Directives: ProducerDirectives{FreshUntilAge: 10}}
	assert.True(t, math.IsInf(unbounded.PotentiallyUsefulFor(now), 1))
}

func TestVaryMatches(t *testing.T) {
	vary := Vary{"lang": VaryOf("fi"), "user": VaryAbsent()}

	assert.True(t, vary.Matches(Params{"lang": "fi"}))
	assert.True(t, vary.Matches(Params{"lang": "fi", "other": "x"}))
	assert.False(t, vary.Matches(Params{"lang": "en"}))
	assert.False(t, vary.Matches(Params{"lang": "fi", "user": "u1"}))
	assert.False(t, vary.Matches(Params{}))

	// an empty vary matches anything
	assert.True(t, Vary{}.Matches(Params{"a": 1}))
}

func TestVaryMatchesNumbersAcrossTypes(t *testing.T) {
	vary := Vary{"page": VaryOf(2)}
	assert.True(t, vary.Matches(Params{"page": 2.0}))
	assert.True(t, vary.Matches(Params{"page": int64(2)}))
	assert.False(t, vary.Matches(Params{"page": 3}))
}

func TestVaryKeyIsStable(t *testing.T) {
	a := Vary{"a": VaryOf(1), "b": VaryAbsent()}
	b := Vary{"b": VaryAbsent(), "a": VaryOf(1)}
	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), Vary{"a": VaryOf(2)}.Key())
	assert.Equal(t, "{}", Vary{}.Key())
}

func TestVaryValueJSON(t *testing.T) {
	raw, err := json.Marshal(Vary{"lang": VaryOf("fi"), "user": VaryAbsent()})
	require.NoError(t, err)
	assert.JSONEq(t, `{"lang":"fi","user":null}`, string(raw))

	var decoded Vary
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.True(t, decoded["user"].IsAbsent())
	v, ok := decoded["lang"].Value()
	assert.True(t, ok)
	assert.Equal(t, "fi", v)
}

func TestEntryJSONRoundTrip(t *testing.T) {
	e := &Entry{
		ID:         "a",
		Vary:       Vary{"v": VaryOf(true)},
		Content:    "payload",
		InitialAge: 2.5,
		Date:       time.Date(2024, 5, 1, 12, 0, 0, 123e6, time.UTC),
		Directives: ProducerDirectives{FreshUntilAge: 60, MaxStale: &MaxStale{IfError: 5}},
		Validators: map[string]any{"etag": "w/1"},
	}
	raw, err := json.Marshal(e)
	require.NoError(t, err)

	var decoded Entry
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, e.ID, decoded.ID)
	assert.Equal(t, e.Content, decoded.Content)
	assert.Equal(t, e.InitialAge, decoded.InitialAge)
	// date survives with at least millisecond precision
	assert.True(t, e.Date.Equal(decoded.Date))
	assert.Equal(t, *e.Directives.MaxStale, *decoded.Directives.MaxStale)
	assert.True(t, decoded.Vary.Matches(Params{"v": true}))
}
