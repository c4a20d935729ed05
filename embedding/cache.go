package embedding

import (
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru"
)

// vectorCache keeps recently embedded texts so repeated retrievals of the
// same query skip the provider round trip. Keys include the model so a model
// change never serves stale vectors.
type vectorCache struct {
	inner *lru.Cache
}

func newVectorCache(size int) (*vectorCache, error) {
	if size <= 0 {
		size = 2048
	}
	inner, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &vectorCache{inner: inner}, nil
}

func cacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

func (c *vectorCache) get(model, text string) ([]float32, bool) {
	value, ok := c.inner.Get(cacheKey(model, text))
	if !ok {
		return nil, false
	}
	vec, ok := value.([]float32)
	return vec, ok
}

func (c *vectorCache) put(model, text string, vec []float32) {
	c.inner.Add(cacheKey(model, text), vec)
}
