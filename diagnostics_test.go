package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiagnosticsFanOut(t *testing.T) {
	var first, second []Diagnostic
	t1 := Subscribe(func(d Diagnostic) { first = append(first, d) })
	t2 := Subscribe(func(d Diagnostic) { second = append(second, d) })
	defer Unsubscribe(t2)

	d := Diagnostic{CacheName: "c", Outcome: OutcomeHit, CacheKey: "k"}
	Publish(d)
	assert.Equal(t, []Diagnostic{d}, first)
	assert.Equal(t, []Diagnostic{d}, second)

	Unsubscribe(t1)
	Publish(d)
	assert.Len(t, first, 1)
	assert.Len(t, second, 2)
}

func TestUnsubscribeUnknownToken(t *testing.T) {
	assert.NotPanics(t, func() { Unsubscribe("no-such-token") })
}
