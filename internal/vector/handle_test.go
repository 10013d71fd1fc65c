package vector

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trackedIndex struct {
	*FlatIndex
	closed  int
	dropped int
	mu      sync.Mutex
}

func (t *trackedIndex) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed++
	return nil
}

func (t *trackedIndex) Drop(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropped++
	return errors.New("drop failed")
}

func newTracked(t *testing.T) *trackedIndex {
	f, err := NewFlatL2(2, "")
	require.NoError(t, err)
	return &trackedIndex{FlatIndex: f}
}

func TestHandle_SwapRetiresAfterRelease(t *testing.T) {
	old := newTracked(t)
	h := NewHandle(old, 1, nil)

	idx, release := h.Acquire()
	assert.Same(t, old, idx)

	next := newTracked(t)
	h.Swap(next, 2)
	assert.Equal(t, int64(2), h.Generation())
	assert.Equal(t, 0, old.closed, "old index closed while still acquired")

	release()
	release()
	assert.Equal(t, 1, old.closed)
	assert.Equal(t, 1, old.dropped)

	idx2, release2 := h.Acquire()
	assert.Same(t, next, idx2)
	release2()
	assert.Equal(t, 0, next.closed)
}

func TestHandle_SwapWithoutReadersRetiresImmediately(t *testing.T) {
	old := newTracked(t)
	h := NewHandle(old, 1, nil)
	h.Swap(newTracked(t), 2)
	assert.Equal(t, 1, old.closed)
}

func TestHandle_CloseDoesNotDrop(t *testing.T) {
	cur := newTracked(t)
	h := NewHandle(cur, 1, nil)
	require.NoError(t, h.Close())
	assert.Equal(t, 1, cur.closed)
	assert.Equal(t, 0, cur.dropped)
}

func TestHandle_ConcurrentAcquireAndSwap(t *testing.T) {
	h := NewHandle(newTracked(t), 0, nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				idx, release := h.Acquire()
				_ = idx.Size()
				release()
			}
		}()
	}
	retired := make([]*trackedIndex, 0, 20)
	for g := int64(1); g <= 20; g++ {
		retired = append(retired, h.Current().(*trackedIndex))
		h.Swap(newTracked(t), g)
	}
	wg.Wait()
	for _, r := range retired {
		assert.Equal(t, 1, r.closed)
	}
}
