package lock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedTryLock(t *testing.T) {
	var k Keyed

	unlock, ok := k.TryLock("a")
	require.True(t, ok)

	_, ok = k.TryLock("a")
	assert.False(t, ok)
	_, ok = k.TryRLock("a")
	assert.False(t, ok)

	unlockB, ok := k.TryLock("b")
	require.True(t, ok)
	unlockB()

	unlock()
	unlock() // second call is a no-op
	assert.Equal(t, 0, k.Len())

	r1, ok := k.TryRLock("a")
	require.True(t, ok)
	r2, ok := k.TryRLock("a")
	require.True(t, ok)
	_, ok = k.TryLock("a")
	assert.False(t, ok)
	r1()
	r2()
	assert.Equal(t, 0, k.Len())
}

func TestKeyedLockSerializes(t *testing.T) {
	var (
		k       Keyed
		wg      sync.WaitGroup
		running int32
		maxSeen int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("same")
			defer unlock()
			n := atomic.AddInt32(&running, 1)
			if n > atomic.LoadInt32(&maxSeen) {
				atomic.StoreInt32(&maxSeen, n)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&running, -1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen)
	assert.Equal(t, 0, k.Len())
}

func TestGuard(t *testing.T) {
	g := NewGuard()

	release, err := g.AcquirePair(1, "local")
	require.NoError(t, err)

	_, err = g.AcquirePair(1, "local")
	require.Error(t, err)
	assert.True(t, errdefs.IsConflict(err))

	// Different destination of the same connection is allowed.
	releaseS3, err := g.AcquirePair(1, "7")
	require.NoError(t, err)

	// A restore needs the connection to itself.
	_, err = g.AcquireConnection(1)
	assert.True(t, errdefs.IsConflict(err))

	release()
	releaseS3()

	releaseRestore, err := g.AcquireConnection(1)
	require.NoError(t, err)
	_, err = g.AcquirePair(1, "local")
	assert.True(t, errdefs.IsConflict(err))
	assert.Contains(t, err.Error(), "restore")

	// Other connections are unaffected.
	releaseOther, err := g.AcquirePair(2, "local")
	require.NoError(t, err)
	releaseOther()
	releaseRestore()
}
