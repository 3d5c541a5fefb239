package clockhand

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandLoadStore(t *testing.T) {
	h := New()
	assert.Equal(t, 0, h.Load())
	h.Store(7)
	assert.Equal(t, 7, h.Load())
}

func TestHandConcurrentStoreIsRaceFree(t *testing.T) {
	h := New()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			h.Store(v)
		}(i)
	}
	wg.Wait()
	_ = h.Load()
}
