package bufferpool

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clockbuf/clockbuf/internal/block"
	"github.com/clockbuf/clockbuf/internal/wal"
)

// newFlakyTestPool is newTestPool's counterpart for tests that need to
// inject store or log failures: it returns the pool along with the
// flaky store and log wrapping the real backends, so a test can flip a
// failure flag mid-run.
func newFlakyTestPool(t *testing.T, numBuffers, seedBlocks int, blockStripes int) (*Pool, *flakyStore, *flakyLog) {
	t.Helper()

	realStore := block.NewManager(t.TempDir())
	realLog, err := wal.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = realLog.Close() })

	for i := 0; i < seedBlocks; i++ {
		_, err := realStore.AppendBlock("t")
		require.NoError(t, err)
	}

	store := newFlakyStore(realStore)
	log := newFlakyLog(realLog)

	pool, err := New(Config{
		NumBuffers:   numBuffers,
		Store:        store,
		Log:          log,
		BlockStripes: blockStripes,
	})
	require.NoError(t, err)
	return pool, store, log
}

// TestPoolConcurrentPinOfSameBlockSharesOneLoad races several goroutines
// pinning a block that is not yet resident. They must all end up
// sharing the one frame the winner loaded, and the store must only be
// read once: racers that lose the index lookup either see the winner's
// frame on a later pass through the hit path, or the miss path picks a
// different victim and (since there is only one unfilled block here)
// that cannot happen, so every racer blocks on the same block latch
// stripe until the first one has finished installing the frame.
func TestPoolConcurrentPinOfSameBlockSharesOneLoad(t *testing.T) {
	pool, store, _ := newFlakyTestPool(t, 4, 1, 0)
	id := block.ID{File: "t", Num: 0}

	const racers = 8
	start := make(chan struct{})
	frames := make([]*Frame, racers)
	errs := make([]error, racers)

	var wg sync.WaitGroup
	wg.Add(racers)
	for i := 0; i < racers; i++ {
		i := i
		go func() {
			defer wg.Done()
			<-start
			frames[i], errs[i] = pool.Pin(id)
		}()
	}
	close(start)
	wg.Wait()

	for i := 0; i < racers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, frames[0], frames[i])
	}
	assert.Equal(t, 1, store.readCountOf(id))

	pool.Unpin(frames...)
	assert.Equal(t, 4, pool.Available())
}

// TestPoolConcurrentPinNewOnDifferentFilesDoesNotBlock checks that
// appending to two different files proceeds in parallel: each PinNew
// only takes that file's stripe of the file latch table, so neither
// call should wait on the other.
func TestPoolConcurrentPinNewOnDifferentFilesDoesNotBlock(t *testing.T) {
	pool, _ := newTestPool(t, 4, 0)

	start := make(chan struct{})
	done := make(chan struct{}, 2)
	var fA, fB *Frame
	var errA, errB error

	go func() {
		<-start
		fA, errA = pool.PinNew("a", nil)
		done <- struct{}{}
	}()
	go func() {
		<-start
		fB, errB = pool.PinNew("b", nil)
		done <- struct{}{}
	}()
	close(start)

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("PinNew on distinct files did not both complete; they appear to be blocking each other")
		}
	}

	require.NoError(t, errA)
	require.NoError(t, errB)
	require.NotNil(t, fA)
	require.NotNil(t, fB)
	assert.NotSame(t, fA, fB)
	assert.Equal(t, "a", fA.BlockID().File)
	assert.Equal(t, "b", fB.BlockID().File)
}

// TestPoolConcurrentPinOfDifferentBlocksOnCollidingStripeSucceeds forces
// every block onto the same latch stripe (BlockStripes: 1) and pins two
// distinct blocks concurrently. They must serialize on the shared
// stripe rather than deadlock, and both must still end up resident in
// their own frame.
func TestPoolConcurrentPinOfDifferentBlocksOnCollidingStripeSucceeds(t *testing.T) {
	pool, _, _ := newFlakyTestPool(t, 4, 2, 1)

	start := make(chan struct{})
	done := make(chan struct{}, 2)
	var f0, f1 *Frame
	var err0, err1 error

	go func() {
		<-start
		f0, err0 = pool.Pin(block.ID{File: "t", Num: 0})
		done <- struct{}{}
	}()
	go func() {
		<-start
		f1, err1 = pool.Pin(block.ID{File: "t", Num: 1})
		done <- struct{}{}
	}()
	close(start)

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("pinning two blocks that collide on one latch stripe deadlocked")
		}
	}

	require.NoError(t, err0)
	require.NoError(t, err1)
	assert.NotSame(t, f0, f1)
	assert.Equal(t, block.ID{File: "t", Num: 0}, f0.BlockID())
	assert.Equal(t, block.ID{File: "t", Num: 1}, f1.BlockID())
}

// TestPoolPinFlushFailureDuringSwapPreservesOldBlock checks that when
// the victim's flush fails during a swap, the old block's identity and
// index entry are left exactly as they were: the failed swap must not
// have removed the old entry without replacing it.
func TestPoolPinFlushFailureDuringSwapPreservesOldBlock(t *testing.T) {
	pool, store, _ := newFlakyTestPool(t, 2, 3, 0)
	oldID := block.ID{File: "t", Num: 0}
	otherID := block.ID{File: "t", Num: 1}
	newID := block.ID{File: "t", Num: 2}

	// Occupy both of the pool's two frames with real, unpinned blocks,
	// oldID first, so the scanner's first full pass (which only clears
	// second-chance bits on freshly-used frames) leaves oldID's frame as
	// the one a following pass will pick.
	f, err := pool.Pin(oldID)
	require.NoError(t, err)
	f.Page()[0] = 0x42
	f.MarkDirty(1)
	pool.Unpin(f)

	fOther, err := pool.Pin(otherID)
	require.NoError(t, err)
	pool.Unpin(fOther)

	store.mu.Lock()
	store.failWrite[oldID] = true
	store.mu.Unlock()

	_, err = pool.Pin(newID)
	assert.ErrorIs(t, err, ErrNoVictimFrame, "first pass only clears second-chance bits")

	_, err = pool.Pin(newID)
	assert.ErrorIs(t, err, errInjected)

	got, ok := pool.index.get(oldID)
	require.True(t, ok, "old block's index entry must survive a failed flush")
	assert.Equal(t, oldID, got.BlockID())
	_, ok = pool.index.get(newID)
	assert.False(t, ok, "new block must not be indexed when its swap failed")
}

// TestPoolPinReadFailureDuringSwapClearsFrameIdentity checks that when
// the new block's read fails during a swap (after the old block was
// already flushed and unindexed), the frame is left identity-less
// rather than retaining the stale old identity.
func TestPoolPinReadFailureDuringSwapClearsFrameIdentity(t *testing.T) {
	pool, store, _ := newFlakyTestPool(t, 2, 3, 0)
	oldID := block.ID{File: "t", Num: 0}
	otherID := block.ID{File: "t", Num: 1}
	newID := block.ID{File: "t", Num: 2}

	f, err := pool.Pin(oldID)
	require.NoError(t, err)
	pool.Unpin(f)

	fOther, err := pool.Pin(otherID)
	require.NoError(t, err)
	pool.Unpin(fOther)

	store.mu.Lock()
	store.failRead[newID] = true
	store.mu.Unlock()

	_, err = pool.Pin(newID)
	assert.ErrorIs(t, err, ErrNoVictimFrame, "first pass only clears second-chance bits")

	_, err = pool.Pin(newID)
	assert.ErrorIs(t, err, errInjected)

	_, ok := pool.index.get(oldID)
	assert.False(t, ok, "old block was already flushed and unindexed before the failed read")
	_, ok = pool.index.get(newID)
	assert.False(t, ok, "new block must not be indexed when its read failed")
	assert.True(t, f.BlockID().Zero(), "frame must not retain a stale identity after a failed swap-in")
}

// TestPoolPinNewAppendFailureClearsFrameIdentity is the PinNew
// counterpart of the read-failure case above: an AppendBlock failure
// during a swap must also leave the frame identity-less, not holding
// the old block's identity whose index entry has already been removed.
func TestPoolPinNewAppendFailureClearsFrameIdentity(t *testing.T) {
	pool, store, _ := newFlakyTestPool(t, 2, 2, 0)
	oldID := block.ID{File: "t", Num: 0}
	otherID := block.ID{File: "t", Num: 1}

	f, err := pool.Pin(oldID)
	require.NoError(t, err)
	pool.Unpin(f)

	fOther, err := pool.Pin(otherID)
	require.NoError(t, err)
	pool.Unpin(fOther)

	store.mu.Lock()
	store.failAppend["u"] = true
	store.mu.Unlock()

	_, err = pool.PinNew("u", nil)
	assert.ErrorIs(t, err, ErrNoVictimFrame, "first pass only clears second-chance bits")

	_, err = pool.PinNew("u", nil)
	assert.ErrorIs(t, err, errInjected)

	_, ok := pool.index.get(oldID)
	assert.False(t, ok, "old block was already flushed and unindexed before the failed append")
	assert.True(t, f.BlockID().Zero(), "frame must not retain the old identity after a failed append")
}
