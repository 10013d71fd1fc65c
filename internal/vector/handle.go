package vector

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

type snapshot struct {
	index   VectorIndex
	gen     int64
	refs    atomic.Int64
	retired atomic.Bool
	once    sync.Once
}

// Handle publishes the active index. Readers Acquire a consistent snapshot for the whole
// query; a rebuild Swaps in a new index and the old one is closed after its last reader
// releases it.
type Handle struct {
	current atomic.Pointer[snapshot]
	logger  *zap.Logger
	mu      sync.Mutex
}

// NewHandle wraps idx as generation gen.
func NewHandle(idx VectorIndex, gen int64, logger *zap.Logger) *Handle {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handle{logger: logger}
	h.current.Store(&snapshot{index: idx, gen: gen})
	return h
}

// Acquire returns the active index and a release func that must be called when the caller is
// done with it. The index stays valid until release even if a Swap happens meanwhile.
func (h *Handle) Acquire() (VectorIndex, func()) {
	for {
		s := h.current.Load()
		s.refs.Add(1)
		if h.current.Load() == s {
			var once sync.Once
			return s.index, func() {
				once.Do(func() {
					if s.refs.Add(-1) == 0 && s.retired.Load() {
						h.retire(s)
					}
				})
			}
		}
		// swapped between Load and Add; undo and retry
		if s.refs.Add(-1) == 0 && s.retired.Load() {
			h.retire(s)
		}
	}
}

// Generation returns the generation number of the active index.
func (h *Handle) Generation() int64 {
	return h.current.Load().gen
}

// Current returns the active index without pinning it. Use only for metadata such as Size.
func (h *Handle) Current() VectorIndex {
	return h.current.Load().index
}

// Swap publishes idx as generation gen. The previous index is dropped and closed once no
// reader holds it.
func (h *Handle) Swap(idx VectorIndex, gen int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	next := &snapshot{index: idx, gen: gen}
	prev := h.current.Swap(next)
	h.logger.Info("Index generation published",
		zap.Int64("generation", gen),
		zap.Int64("previous", prev.gen),
		zap.Int("size", idx.Size()))
	prev.retired.Store(true)
	if prev.refs.Load() == 0 {
		h.retire(prev)
	}
}

func (h *Handle) retire(s *snapshot) {
	s.once.Do(func() {
		if d, ok := s.index.(Dropper); ok {
			if err := d.Drop(context.Background()); err != nil {
				h.logger.Warn("Failed to drop retired index", zap.Int64("generation", s.gen), zap.Error(err))
			}
		}
		if err := s.index.Close(); err != nil {
			h.logger.Warn("Failed to close retired index", zap.Int64("generation", s.gen), zap.Error(err))
		}
	})
}

// Close closes the active index without dropping it.
func (h *Handle) Close() error {
	return h.current.Load().index.Close()
}
