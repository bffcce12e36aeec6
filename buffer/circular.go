package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/c2h5oh/datasize"

	"go.fsdr.dev/flowgraph/internal/flowerr"
)

// contiguousStorage abstracts the byte backing of a circular ring. The
// double-mapped storage only aliases addresses that differ by exactly
// its own physical capacity (which it may round up from the requested
// size, e.g. to a page boundary), so the ring's modulo base must be
// taken from Capacity() rather than from whatever size was requested —
// a ring whose logical capacity disagrees with the storage's physical
// capacity computes wrap offsets that land on the wrong alias and reads
// stale or wrong bytes once a stream wraps past the requested size.
type contiguousStorage interface {
	// Capacity returns the physical contiguous byte span the storage
	// actually allocated.
	Capacity() int

	// Contiguous returns a slice of up to length bytes starting at the
	// logical ring position offset (already reduced mod Capacity()). It
	// may return fewer than length bytes if the storage cannot present
	// a longer contiguous run from this offset.
	Contiguous(offset, length int) []byte
}

// Circular is a Builder for the double-mapped ring variant: the default
// layout on hosted platforms, where every acquire returns one contiguous
// slice covering all the free (writer) or unread (reader) bytes, up to the
// ring's full capacity, regardless of wraparound.
type Circular struct {
	Capacity datasize.ByteSize
}

// NewCircular builds a Circular buffer of the given capacity, which is
// rounded up to the element size and to whatever page-size granularity
// the underlying double-mapping requires.
func NewCircular(capacity datasize.ByteSize) Circular {
	return Circular{Capacity: capacity}
}

func (c Circular) Build(itemSize int, writerNotify Notifier) (Writer, error) {
	if itemSize <= 0 {
		return nil, flowerr.New(flowerr.RuntimeError, "item size must be positive, got %d", itemSize)
	}

	capacity := int(c.Capacity.Bytes())
	if capacity <= 0 {
		capacity = 64 * 1024
	}
	capacity = roundUpToMultiple(capacity, itemSize)

	storage, err := newMappedStorage(capacity)
	if err != nil {
		return nil, flowerr.Wrap(flowerr.RuntimeError, err, "allocating circular buffer storage")
	}
	// The storage may have rounded capacity up further (e.g. to a page
	// boundary); the ring's modulo base must track that exactly, not
	// the pre-rounding request, or wrap offsets alias the wrong bytes.
	capacity = storage.Capacity()

	return newRingWriter(storage, itemSize, capacity, writerNotify), nil
}

func roundUpToMultiple(n, m int) int {
	if n%m == 0 {
		return n
	}
	return n + (m - n%m)
}

// ringWriter/ringReader implement the shared-memory ring protocol common
// to every contiguousStorage backing (double-mapped, or the plain
// fallback that cuts each slice short at the wrap point).
type ringWriter struct {
	storage  contiguousStorage
	itemSize int
	capacity int

	writeCursor atomic.Uint64
	done        atomic.Bool
	noSpace     atomic.Bool
	notify      Notifier

	mu      sync.Mutex
	readers []*ringReader

	acquired    bool
	acquiredLen int
}

func newRingWriter(storage contiguousStorage, itemSize, capacity int, notify Notifier) *ringWriter {
	return &ringWriter{
		storage:  storage,
		itemSize: itemSize,
		capacity: capacity,
		notify:   notify,
	}
}

func (w *ringWriter) ItemSize() int { return w.itemSize }

func (w *ringWriter) minReadCursor() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	committed := w.writeCursor.Load()
	if len(w.readers) == 0 {
		// No attached readers: topology validation guarantees every
		// stream edge has a reader before the flowgraph runs, so this
		// only happens during construction. Treat the buffer as empty.
		return committed
	}

	min := ^uint64(0)
	for _, r := range w.readers {
		c := r.cursor.Load()
		if c < min {
			min = c
		}
	}
	return min
}

func (w *ringWriter) Acquire() ([]byte, error) {
	if w.done.Load() {
		return nil, flowerr.New(flowerr.RuntimeError, "Acquire called on a writer after Finish")
	}
	if w.acquired {
		return nil, errOutstandingAcquire()
	}

	committed := w.writeCursor.Load()
	minRead := w.minReadCursor()
	used := int(committed - minRead)
	free := w.capacity - used
	if free <= 0 {
		w.noSpace.Store(true)
		// A Release landing between the load above and the store just
		// above would not have seen noSpace set yet and so would not
		// have notified; re-check before committing to Pending so that
		// window never causes a missed wakeup.
		minRead = w.minReadCursor()
		used = int(committed - minRead)
		free = w.capacity - used
		if free <= 0 {
			return nil, nil
		}
		w.noSpace.Store(false)
	}

	offset := int(committed % uint64(w.capacity))
	slice := w.storage.Contiguous(offset, free)

	w.acquired = true
	w.acquiredLen = len(slice)
	return slice, nil
}

func (w *ringWriter) Commit(n int) error {
	if !w.acquired {
		return flowerr.New(flowerr.RuntimeError, "Commit called without an outstanding Acquire")
	}
	if n%w.itemSize != 0 {
		return errNotMultiple(n, w.itemSize)
	}
	if n < 0 || n > w.acquiredLen {
		return flowerr.New(flowerr.RuntimeError, "commit length %d exceeds acquired slice length %d", n, w.acquiredLen)
	}

	w.acquired = false
	w.acquiredLen = 0
	w.writeCursor.Add(uint64(n))

	w.mu.Lock()
	readers := append([]*ringReader(nil), w.readers...)
	w.mu.Unlock()

	for _, r := range readers {
		if r.needsData.CompareAndSwap(true, false) {
			if r.notify != nil {
				r.notify()
			}
		}
	}
	return nil
}

func (w *ringWriter) Finish() {
	if w.done.CompareAndSwap(false, true) {
		w.mu.Lock()
		readers := append([]*ringReader(nil), w.readers...)
		w.mu.Unlock()

		for _, r := range readers {
			if r.notify != nil {
				r.notify()
			}
		}
	}
}

func (w *ringWriter) NewReader(readerNotify Notifier) Reader {
	r := &ringReader{writer: w, notify: readerNotify}

	w.mu.Lock()
	w.readers = append(w.readers, r)
	w.mu.Unlock()

	return r
}

type ringReader struct {
	writer *ringWriter

	cursor    atomic.Uint64
	needsData atomic.Bool
	notify    Notifier

	acquired    bool
	acquiredLen int
}

func (r *ringReader) Acquire() ([]byte, Status, error) {
	if r.acquired {
		return nil, StatusPending, errOutstandingAcquire()
	}

	committed := r.writer.writeCursor.Load()
	mine := r.cursor.Load()
	avail := int(committed - mine)

	if avail <= 0 {
		if r.writer.done.Load() {
			return nil, StatusDone, nil
		}
		r.needsData.Store(true)
		// Mirror the writer-side re-check in Acquire above: a Commit
		// landing between the load above and the store just above
		// would not have seen needsData set yet and so would not have
		// notified.
		committed = r.writer.writeCursor.Load()
		avail = int(committed - mine)
		if avail <= 0 {
			if r.writer.done.Load() {
				return nil, StatusDone, nil
			}
			return nil, StatusPending, nil
		}
		r.needsData.Store(false)
	}

	offset := int(mine % uint64(r.writer.capacity))
	slice := r.writer.storage.Contiguous(offset, avail)

	r.acquired = true
	r.acquiredLen = len(slice)
	return slice, StatusOK, nil
}

func (r *ringReader) Release(n int) error {
	if !r.acquired {
		return flowerr.New(flowerr.RuntimeError, "Release called without an outstanding Acquire")
	}
	if n%r.writer.itemSize != 0 {
		return errNotMultiple(n, r.writer.itemSize)
	}
	if n < 0 || n > r.acquiredLen {
		return flowerr.New(flowerr.RuntimeError, "release length %d exceeds acquired slice length %d", n, r.acquiredLen)
	}

	r.acquired = false
	r.acquiredLen = 0
	r.cursor.Add(uint64(n))

	if r.writer.noSpace.CompareAndSwap(true, false) {
		if r.writer.notify != nil {
			r.writer.notify()
		}
	}
	return nil
}
