package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeProducerDirectivesClampsNegatives(t *testing.T) {
	out := NormalizeProducerDirectives(ProducerDirectives{
		FreshUntilAge: -5,
		MaxStale:      &MaxStale{WithoutRevalidation: -1, WhileRevalidate: -2, IfError: -3},
	})
	assert.Equal(t, 0.0, out.FreshUntilAge)
	assert.Equal(t, MaxStale{}, *out.MaxStale)
}

func TestNormalizeProducerDirectivesEnforcesMonotonicity(t *testing.T) {
	out := NormalizeProducerDirectives(ProducerDirectives{
		FreshUntilAge: 10,
		MaxStale:      &MaxStale{WithoutRevalidation: 5, WhileRevalidate: 2, IfError: 1},
	})
	// violators are replaced by their predecessor
	assert.Equal(t, MaxStale{WithoutRevalidation: 5, WhileRevalidate: 5, IfError: 5}, *out.MaxStale)

	out = NormalizeProducerDirectives(ProducerDirectives{
		MaxStale: &MaxStale{WithoutRevalidation: 1, WhileRevalidate: 3, IfError: 2},
	})
	assert.Equal(t, MaxStale{WithoutRevalidation: 1, WhileRevalidate: 3, IfError: 3}, *out.MaxStale)
}

func TestNormalizeProducerDirectivesKeepsStoreFor(t *testing.T) {
	out := NormalizeProducerDirectives(ProducerDirectives{FreshUntilAge: 1, StoreFor: Float(60)})
	assert.NotNil(t, out.StoreFor)
	assert.Equal(t, 60.0, *out.StoreFor)

	out = NormalizeProducerDirectives(ProducerDirectives{FreshUntilAge: 1})
	assert.Nil(t, out.StoreFor)
}

func TestNormalizeConsumerMaxStale(t *testing.T) {
	out := NormalizeConsumerMaxStale(ConsumerMaxStale{
		FreshUntilAge:       Float(-1),
		WithoutRevalidation: 4,
		WhileRevalidate:     1,
		IfError:             10,
	})
	assert.Equal(t, 0.0, *out.FreshUntilAge)
	assert.Equal(t, 4.0, out.WithoutRevalidation)
	assert.Equal(t, 4.0, out.WhileRevalidate)
	assert.Equal(t, 10.0, out.IfError)
}

func TestNormalizeConsumerDirectivesClampsMaxAge(t *testing.T) {
	out := NormalizeConsumerDirectives(ConsumerDirectives{MaxAge: Float(-3)})
	assert.Equal(t, 0.0, *out.MaxAge)
}

func TestNormalizationIsIdempotent(t *testing.T) {
	producers := []ProducerDirectives{
		{},
		{FreshUntilAge: -2},
		{FreshUntilAge: 3, MaxStale: &MaxStale{WithoutRevalidation: 9, WhileRevalidate: 1, IfError: 4}},
		{FreshUntilAge: 3, StoreFor: Float(7)},
	}
	for _, raw := range producers {
		once := NormalizeProducerDirectives(raw)
		assert.Equal(t, once, NormalizeProducerDirectives(once))
	}

	consumers := []ConsumerDirectives{
		{},
		{MaxAge: Float(-1)},
		{MaxStale: &ConsumerMaxStale{FreshUntilAge: Float(2), WithoutRevalidation: 5, WhileRevalidate: 1}},
	}
	for _, raw := range consumers {
		once := NormalizeConsumerDirectives(raw)
		assert.Equal(t, once, NormalizeConsumerDirectives(once))
	}
}

func TestNormalizedThresholdsAreMonotone(t *testing.T) {
	cases := []MaxStale{
		{WithoutRevalidation: 10, WhileRevalidate: -5, IfError: 3},
		{WithoutRevalidation: 0, WhileRevalidate: 0, IfError: 0},
		{WithoutRevalidation: -1, WhileRevalidate: 100, IfError: 50},
	}
	for _, raw := range cases {
		out := raw.normalize()
		assert.LessOrEqual(t, out.WithoutRevalidation, out.WhileRevalidate)
		assert.LessOrEqual(t, out.WhileRevalidate, out.IfError)
		assert.GreaterOrEqual(t, out.WithoutRevalidation, 0.0)
	}
}

func TestNormalizeParams(t *testing.T) {
	out := NormalizeParams(Params{"a": 1, "b": nil, "c": "x"}, nil, nil)
	assert.Equal(t, Params{"a": 1.0, "c": "x"}, out)

	upper := func(s string) string { return s + "!" }
	out = NormalizeParams(Params{"a": "v"}, upper, nil)
	assert.Equal(t, Params{"a!": "v"}, out)
}

func TestNormalizeVaryPreservesAbsent(t *testing.T) {
	out := NormalizeVary(Vary{"user": VaryAbsent(), "lang": VaryOf("fi")}, nil, nil)
	assert.True(t, out["user"].IsAbsent())
	v, ok := out["lang"].Value()
	assert.True(t, ok)
	assert.Equal(t, "fi", v)
}
