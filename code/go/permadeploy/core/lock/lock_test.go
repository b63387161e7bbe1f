package lock

import (
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMutexReleasedAfterUnlock(t *testing.T) {
	for i := 0; i < 100; i++ {
		m := GetMutex("released", strconv.Itoa(i))
		m.Lock()
		require.Equal(t, 1, m.refs)
		m.Unlock()
		require.Equal(t, 0, m.refs)
	}
	require.Zero(t, size())
}

func TestWaitersShareOneMutex(t *testing.T) {
	first := GetMutex("shared", "key")
	first.Lock()

	second := GetMutex("shared", "key")
	require.Same(t, first, second)
	require.Equal(t, 2, first.refs)

	done := make(chan struct{})
	go func() {
		second.Lock()
		second.Unlock()
		close(done)
	}()

	first.Unlock()
	<-done
	require.Zero(t, size())
}

func TestLockSerializesSameKey(t *testing.T) {
	var (
		wg      sync.WaitGroup
		counter int
	)

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m := GetMutex("serial", "key")
			m.Lock()
			counter++
			m.Unlock()
		}()
	}
	wg.Wait()

	require.Equal(t, 50, counter)
	require.Zero(t, size())
}
