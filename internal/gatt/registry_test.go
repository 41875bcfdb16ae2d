package gatt_test

import (
	"sync"
	"testing"

	"github.com/Micallam/MiBandPulse/internal/device"
	"github.com/Micallam/MiBandPulse/internal/gatt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func services(ids ...uint16) []*gatt.Service {
	svc := &gatt.Service{UUID: gatt.UUID16(0xfee0)}
	for _, id := range ids {
		svc.Characteristics = append(svc.Characteristics, &gatt.Characteristic{
			UUID:       gatt.UUID16(id),
			Service:    svc.UUID,
			Properties: gatt.PropRead,
		})
	}
	return []*gatt.Service{svc}
}

func TestRegistry_EmptyBeforeDiscovery(t *testing.T) {
	r := gatt.NewRegistry()

	assert.Equal(t, 0, r.Len())
	assert.Nil(t, r.Get(gatt.UUID16(0x2a37)), "lookups before discovery MUST miss without error")

	_, err := r.Lookup(gatt.UUID16(0x2a37))
	var nf *device.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, []string{"2a37"}, nf.UUIDs)
}

func TestRegistry_ReplaceDoesNotMerge(t *testing.T) {
	// GOAL: A rediscovery MUST replace the registry, never merge into it
	//
	// TEST SCENARIO: Discover {2a37, 2a39} → discover {2a2b} → only 2a2b remains

	r := gatt.NewRegistry()
	r.Replace(services(0x2a37, 0x2a39))
	require.Equal(t, 2, r.Len())

	r.Replace(services(0x2a2b))

	assert.Equal(t, 1, r.Len())
	assert.Nil(t, r.Get(gatt.UUID16(0x2a37)), "stale characteristic MUST be gone after rediscovery")
	assert.NotNil(t, r.Get(gatt.UUID16(0x2a2b)))
	assert.Len(t, r.Services(), 1)
}

func TestRegistry_KeepsDiscoveryOrder(t *testing.T) {
	r := gatt.NewRegistry()
	r.Replace(services(0x2a39, 0x2a37, 0x2a2b, 0x2a37))

	var order []string
	for _, c := range r.Characteristics() {
		order = append(order, gatt.ShortString(c.UUID))
	}
	assert.Equal(t, []string{"2a39", "2a37", "2a2b"}, order, "duplicates MUST keep the first occurrence")

	r.Clear()
	assert.Empty(t, r.Characteristics())
}

func TestRegistry_ConcurrentReplaceAndGet(t *testing.T) {
	r := gatt.NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Replace(services(0x2a37))
		}()
		go func() {
			defer wg.Done()
			if c := r.Get(gatt.UUID16(0x2a37)); c != nil {
				assert.Equal(t, gatt.UUID16(0x2a37), c.UUID)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, r.Len())
}
