package resource

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequirementFits(t *testing.T) {
	free := Capacity{"cpu": 4, "memory": 8}

	assert.True(t, Requirement{"cpu": 4}.Fits(free))
	assert.True(t, Requirement{"cpu": 2, "memory": 8}.Fits(free))
	assert.True(t, Requirement{}.Fits(free))
	assert.False(t, Requirement{"cpu": 5}.Fits(free))
	assert.False(t, Requirement{"gpu": 1}.Fits(free))
}

func TestRequirementString(t *testing.T) {
	assert.Equal(t, "{cpu:2, gpu:1}", Requirement{"gpu": 1, "cpu": 2}.String())
	assert.Equal(t, "{}", Requirement{}.String())
}

func TestTryAllocateAndRelease(t *testing.T) {
	a := NewAllocator(NewPool("test", Capacity{"cpu": 4}))

	alloc, err := a.TryAllocate("t1", Requirement{"cpu": 3})
	require.NoError(t, err)
	require.NotNil(t, alloc)
	assert.Equal(t, Capacity{"cpu": 1}, a.Free())

	// Does not fit right now: (nil, nil), not an error.
	overcommit, err := a.TryAllocate("t2", Requirement{"cpu": 2})
	require.NoError(t, err)
	assert.Nil(t, overcommit)

	require.NoError(t, a.Release(alloc))
	assert.Equal(t, Capacity{"cpu": 4}, a.Free())
}

func TestTryAllocateImpossibleRequirement(t *testing.T) {
	a := NewAllocator(NewPool("test", Capacity{"cpu": 4}))

	_, err := a.TryAllocate("t1", Requirement{"cpu": 5})
	var capErr *CapacityExceededError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, "cpu", capErr.Kind)
	assert.Equal(t, 5, capErr.Requested)
	assert.Equal(t, 4, capErr.PoolMaximum)
}

func TestReleaseTwiceIsStale(t *testing.T) {
	a := NewAllocator(NewPool("test", Capacity{"cpu": 4}))

	alloc, err := a.TryAllocate("t1", Requirement{"cpu": 1})
	require.NoError(t, err)
	require.NoError(t, a.Release(alloc))

	err = a.Release(alloc)
	var staleErr *StaleAllocationError
	require.ErrorAs(t, err, &staleErr)
	assert.Equal(t, Capacity{"cpu": 4}, a.Free(), "double release must not free capacity twice")
}

// TestConcurrentAllocationNeverOvercommits hammers the allocator from many
// goroutines and verifies the conservative invariant: at no point does the
// sum of successful allocations exceed the pool.
func TestConcurrentAllocationNeverOvercommits(t *testing.T) {
	const workers = 50
	const rounds = 20

	a := NewAllocator(NewPool("test", Capacity{"cpu": 7}))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				alloc, err := a.TryAllocate(fmt.Sprintf("w%d-r%d", w, r), Requirement{"cpu": 2})
				assert.NoError(t, err)
				if alloc == nil {
					continue
				}
				assert.LessOrEqual(t, a.Used()["cpu"], 7)
				assert.NoError(t, a.Release(alloc))
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, Capacity{"cpu": 7}, a.Free())
	assert.Equal(t, 0, a.Used()["cpu"])
}

func TestLedgerRecordsHolds(t *testing.T) {
	a := NewAllocator(NewPool("test", Capacity{"cpu": 4}))
	now := time.Now()
	a.clock = func() time.Time { return now }

	alloc, err := a.TryAllocate("t1", Requirement{"cpu": 2})
	require.NoError(t, err)
	a.clock = func() time.Time { return now.Add(3 * time.Second) }
	require.NoError(t, a.Release(alloc))

	ledger := a.Ledger()
	require.Len(t, ledger, 1)
	assert.Equal(t, "t1", ledger[0].TaskID)
	assert.Equal(t, 3*time.Second, ledger[0].Held)
}

func TestRestoreLedgerClosesHeldEntries(t *testing.T) {
	a := NewAllocator(NewPool("test", Capacity{"cpu": 4}))

	a.RestoreLedger([]LedgerEntry{
		{Pool: "test", TaskID: "old", Amount: Requirement{"cpu": 2}, Allocated: time.Now().Add(-time.Minute)},
	})

	ledger := a.Ledger()
	require.Len(t, ledger, 1)
	assert.False(t, ledger[0].ReleasedAt.IsZero())
	assert.Equal(t, Capacity{"cpu": 4}, a.Free(), "restored history must not consume capacity")
}

func TestForecastAveragesOverWindow(t *testing.T) {
	a := NewAllocator(NewPool("test", Capacity{"cpu": 8}))
	now := time.Now()
	a.clock = func() time.Time { return now }

	// Hold 4 cpus for half of a 1-minute window.
	alloc, err := a.TryAllocate("t1", Requirement{"cpu": 4})
	require.NoError(t, err)
	a.clock = func() time.Time { return now.Add(30 * time.Second) }
	require.NoError(t, a.Release(alloc))

	f := NewForecaster(a, time.Minute)
	f.clock = func() time.Time { return now.Add(30 * time.Second) }

	usage := f.Forecast(time.Minute)
	assert.InDelta(t, 2.0, usage.PerKind["cpu"], 0.01)
}

func TestShouldThrottle(t *testing.T) {
	a := NewAllocator(NewPool("test", Capacity{"cpu": 4}))
	now := time.Now()
	a.clock = func() time.Time { return now }

	// Saturate the whole window.
	_, err := a.TryAllocate("hog", Requirement{"cpu": 4})
	require.NoError(t, err)

	f := NewForecaster(a, time.Minute)
	f.clock = func() time.Time { return now.Add(time.Minute) }

	assert.True(t, f.ShouldThrottle(Requirement{"cpu": 1}, time.Minute))
	assert.False(t, f.ShouldThrottle(Requirement{}, time.Minute))
}
