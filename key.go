package cache

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// RequestKey returns a canonical digest of a request, stable under param
// reordering, for use as a collapsing key. encoding/json sorts map keys, so
// marshaling the request is already a canonical serialization; the digest
// keeps keys short and uniform.
func RequestKey(req Request) string {
	return digest(req)
}

// BatchKey returns a canonical digest of an ordered request batch.
func BatchKey(reqs []Request) string {
	if reqs == nil {
		reqs = []Request{}
	}
	return digest(reqs)
}

func digest(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		// requests are JSON-serializable by construction
		panic(err)
	}
	return fmt.Sprintf("%x", sha256.Sum256(b))
}
