package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollapserSharesConcurrentCalls(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	c := NewCollapser(func(key string) (string, error) {
		calls.Add(1)
		<-release
		return "result:" + key, nil
	}, 100*time.Millisecond, func(key string) string { return key })

	const joiners = 10
	results := make([]string, joiners)
	var wg sync.WaitGroup
	for i := 0; i < joiners; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Do("a")
			assert.NoError(t, err)
			results[i] = v
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, "result:a", v)
	}
}

func TestCollapserSharesFinishedCallWithinWindow(t *testing.T) {
	var calls atomic.Int32
	c := NewCollapser(func(key string) (int, error) {
		return int(calls.Add(1)), nil
	}, 100*time.Millisecond, func(key string) string { return key })

	first, err := c.Do("a")
	require.NoError(t, err)
	// the first call has long resolved, but its window has not elapsed
	second, err := c.Do("a")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCollapserStartsFreshCallAfterWindow(t *testing.T) {
	var calls atomic.Int32
	c := NewCollapser(func(key string) (int, error) {
		return int(calls.Add(1)), nil
	}, 30*time.Millisecond, func(key string) string { return key })

	first, _ := c.Do("a")
	time.Sleep(60 * time.Millisecond)
	second, _ := c.Do("a")
	assert.NotEqual(t, first, second)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCollapserDistinguishesKeys(t *testing.T) {
	var calls atomic.Int32
	c := NewCollapser(func(key string) (string, error) {
		calls.Add(1)
		return key, nil
	}, time.Second, func(key string) string { return key })

	a, _ := c.Do("a")
	b, _ := c.Do("b")
	assert.Equal(t, "a", a)
	assert.Equal(t, "b", b)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCollapserPropagatesFailureToAllJoiners(t *testing.T) {
	boom := errors.New("boom")
	release := make(chan struct{})
	c := NewCollapser(func(string) (string, error) {
		<-release
		return "", boom
	}, time.Second, func(key string) string { return key })

	first := c.DoChan("a")
	second := c.DoChan("a")
	close(release)

	r1, r2 := <-first, <-second
	// the identical error value reaches every joiner
	assert.Same(t, boom, r1.Err)
	assert.Same(t, boom, r2.Err)
}

func TestCollapserAbandonedJoinerDoesNotCancel(t *testing.T) {
	done := make(chan struct{})
	c := NewCollapser(func(string) (string, error) {
		close(done)
		return "v", nil
	}, time.Second, func(key string) string { return key })

	// fire and abandon the channel
	c.DoChan("a")
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("underlying call never ran")
	}
}

func TestRequestKeyCanonical(t *testing.T) {
	a := RequestKey(Request{ID: "x", Params: Params{"a": 1, "b": "2"}})
	b := RequestKey(Request{ID: "x", Params: Params{"b": "2", "a": 1}})
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, RequestKey(Request{ID: "x", Params: Params{"a": 2, "b": "2"}}))
	assert.NotEqual(t, a, RequestKey(Request{ID: "y", Params: Params{"a": 1, "b": "2"}}))
	assert.NotEqual(t, a, RequestKey(Request{ID: "x", Params: Params{"a": 1, "b": "2"},
		Directives: ConsumerDirectives{MaxAge: Float(1)}}))
}

func TestBatchKeyDependsOnOrder(t *testing.T) {
	ab := BatchKey([]Request{{ID: "a"}, {ID: "b"}})
	ba := BatchKey([]Request{{ID: "b"}, {ID: "a"}})
	assert.NotEqual(t, ab, ba)
	assert.Equal(t, ab, BatchKey([]Request{{ID: "a"}, {ID: "b"}}))
}
