package alerting

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryRegisterAcceptsEverything(t *testing.T) {
	r := NewRegistry()
	a := r.Register("ethereum", 2000, "a@b.com")
	b := r.Register("ethereum", 2000, "a@b.com")
	c := r.Register("polygon", 1, "not an address")

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, "not an address", c.Destination)
	assert.Len(t, r.ForAsset("ethereum"), 2)
	assert.Len(t, r.ForAsset("bitcoin"), 0)
}

func TestRegistrySnapshotIsolation(t *testing.T) {
	r := NewRegistry()
	r.Register("ethereum", 2000, "a@b.com")

	snap := r.ForAsset("ethereum")
	snap[0].Destination = "mutated"
	assert.Equal(t, "a@b.com", r.All()[0].Destination)
}

func TestRegistryConcurrentRegisterAndRead(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				r.Register("ethereum", float64(i*100+j), fmt.Sprintf("u%d@x.io", i))
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = r.ForAsset("ethereum")
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 200, r.Len())
}
