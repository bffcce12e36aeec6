package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/c2h5oh/datasize"

	"go.fsdr.dev/flowgraph/internal/bitset"
	"go.fsdr.dev/flowgraph/internal/flowerr"
)

// Slab is a Builder for the ownership-transfer buffer variant: a pool of
// fixed-size slabs that the writer leases empty, fills, and hands to
// readers by reference rather than by copying into shared memory. This
// is the variant for restricted platforms where the Circular buffer's
// page-aliasing trick is unavailable.
type Slab struct {
	SlabSize datasize.ByteSize
	NumSlabs int
}

// NewSlab builds a Slab buffer with the given per-slab size and pool
// depth. The pool depth bounds how many slabs can be in flight at once
// across the slowest attached reader — the slab analogue of ring
// capacity.
func NewSlab(slabSize datasize.ByteSize, numSlabs int) Slab {
	return Slab{SlabSize: slabSize, NumSlabs: numSlabs}
}

func (s Slab) Build(itemSize int, writerNotify Notifier) (Writer, error) {
	if itemSize <= 0 {
		return nil, flowerr.New(flowerr.RuntimeError, "item size must be positive, got %d", itemSize)
	}

	numSlabs := s.NumSlabs
	if numSlabs <= 0 {
		numSlabs = 4
	}
	if numSlabs > bitset.MaxBitsetWords*64 {
		return nil, flowerr.New(flowerr.RuntimeError, "slab pool depth %d exceeds the maximum tracked pool size", numSlabs)
	}

	slabSize := int(s.SlabSize.Bytes())
	if slabSize <= 0 {
		slabSize = 64 * 1024
	}
	slabSize = roundUpToMultiple(slabSize, itemSize)

	w := &slabWriter{
		itemSize: itemSize,
		slabSize: slabSize,
		notify:   writerNotify,
		free:     make(chan *slabBuf, numSlabs),
	}
	for i := 0; i < numSlabs; i++ {
		w.slabs = append(w.slabs, &slabBuf{data: make([]byte, slabSize), idx: i})
		w.free <- w.slabs[i]
	}
	return w, nil
}

type slabBuf struct {
	idx      int
	data     []byte
	filled   int
	refcount atomic.Int32
}

type slabWriter struct {
	itemSize int
	slabSize int
	notify   Notifier

	free  chan *slabBuf
	slabs []*slabBuf

	mu      sync.Mutex
	readers []*slabReader

	leasedSlab *slabBuf
	done       atomic.Bool
}

func (w *slabWriter) ItemSize() int { return w.itemSize }

func (w *slabWriter) Acquire() ([]byte, error) {
	if w.done.Load() {
		return nil, flowerr.New(flowerr.RuntimeError, "Acquire called on a writer after Finish")
	}
	if w.leasedSlab != nil {
		return nil, errOutstandingAcquire()
	}

	select {
	case s := <-w.free:
		w.leasedSlab = s
		return s.data[:w.slabSize], nil
	default:
		return nil, nil
	}
}

func (w *slabWriter) Commit(n int) error {
	if w.leasedSlab == nil {
		return flowerr.New(flowerr.RuntimeError, "Commit called without an outstanding Acquire")
	}
	if n%w.itemSize != 0 {
		return errNotMultiple(n, w.itemSize)
	}
	if n < 0 || n > w.slabSize {
		return flowerr.New(flowerr.RuntimeError, "commit length %d exceeds slab size %d", n, w.slabSize)
	}

	s := w.leasedSlab
	w.leasedSlab = nil
	s.filled = n

	w.mu.Lock()
	readers := append([]*slabReader(nil), w.readers...)
	w.mu.Unlock()

	if len(readers) == 0 {
		// No attached readers: nothing to publish to; return immediately.
		w.returnToFree(s)
		return nil
	}

	s.refcount.Store(int32(len(readers)))
	for _, r := range readers {
		r.ch <- s
		if r.needsData.CompareAndSwap(true, false) && r.notify != nil {
			r.notify()
		}
	}
	return nil
}

func (w *slabWriter) returnToFree(s *slabBuf) {
	w.free <- s
	if w.notify != nil {
		w.notify()
	}
}

func (w *slabWriter) Finish() {
	if !w.done.CompareAndSwap(false, true) {
		return
	}

	w.mu.Lock()
	readers := append([]*slabReader(nil), w.readers...)
	w.mu.Unlock()

	for _, r := range readers {
		close(r.ch)
	}
}

func (w *slabWriter) NewReader(readerNotify Notifier) Reader {
	r := &slabReader{
		writer: w,
		notify: readerNotify,
		ch:     make(chan *slabBuf, len(w.slabs)),
	}

	w.mu.Lock()
	w.readers = append(w.readers, r)
	w.mu.Unlock()

	return r
}

type slabReader struct {
	writer *slabWriter
	notify Notifier
	ch     chan *slabBuf

	cur       *slabBuf
	curOffset int
	acquired  bool
	needsData atomic.Bool
}

func (r *slabReader) Acquire() ([]byte, Status, error) {
	if r.acquired {
		return nil, StatusPending, errOutstandingAcquire()
	}

	if r.cur == nil || r.curOffset >= r.cur.filled {
		select {
		case s, ok := <-r.ch:
			if !ok {
				return nil, StatusDone, nil
			}
			r.cur = s
			r.curOffset = 0
		default:
			r.needsData.Store(true)
			return nil, StatusPending, nil
		}
	}

	r.acquired = true
	return r.cur.data[r.curOffset:r.cur.filled], StatusOK, nil
}

func (r *slabReader) Release(n int) error {
	if !r.acquired {
		return flowerr.New(flowerr.RuntimeError, "Release called without an outstanding Acquire")
	}
	if n%r.writer.itemSize != 0 {
		return errNotMultiple(n, r.writer.itemSize)
	}
	if n < 0 || n > r.cur.filled-r.curOffset {
		return flowerr.New(flowerr.RuntimeError, "release length %d exceeds acquired slice length %d", n, r.cur.filled-r.curOffset)
	}

	r.acquired = false
	r.curOffset += n

	if r.curOffset >= r.cur.filled {
		s := r.cur
		r.cur = nil
		if s.refcount.Add(-1) == 0 {
			r.writer.returnToFree(s)
		}
	}
	return nil
}
