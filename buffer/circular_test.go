package buffer_test

import (
	"os"
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.fsdr.dev/flowgraph/buffer"
)

func writeItems(t *testing.T, w buffer.Writer, itemSize int, items []byte) {
	t.Helper()
	for len(items) > 0 {
		slice, err := w.Acquire()
		require.NoError(t, err)
		require.NotZero(t, len(slice), "writer made no progress")

		n := min(len(items), len(slice))
		n -= n % itemSize
		require.NotZero(t, n)

		copy(slice, items[:n])
		require.NoError(t, w.Commit(n))
		items = items[n:]
	}
}

func readAll(t *testing.T, r buffer.Reader) []byte {
	t.Helper()
	var out []byte
	for {
		slice, status, err := r.Acquire()
		require.NoError(t, err)
		switch status {
		case buffer.StatusDone:
			return out
		case buffer.StatusPending:
			t.Fatalf("reader starved with nothing left to write")
		case buffer.StatusOK:
			out = append(out, slice...)
			require.NoError(t, r.Release(len(slice)))
		}
	}
}

func TestCircular_PassthroughRoundTrip(t *testing.T) {
	const itemSize = 4
	b := buffer.NewCircular(64 * datasize.B)
	w, err := b.Build(itemSize, func() {})
	require.NoError(t, err)

	r := w.NewReader(func() {})

	data := make([]byte, itemSize*10)
	for i := range data {
		data[i] = byte(i)
	}

	writeItems(t, w, itemSize, data)
	w.Finish()

	got := readAll(t, r)
	assert.Equal(t, data, got)
}

func TestCircular_FanOut(t *testing.T) {
	const itemSize = 4
	b := buffer.NewCircular(64 * datasize.B)
	w, err := b.Build(itemSize, func() {})
	require.NoError(t, err)

	r1 := w.NewReader(func() {})
	r2 := w.NewReader(func() {})

	data := make([]byte, itemSize*3)
	for i := range data {
		data[i] = byte(i + 1)
	}
	writeItems(t, w, itemSize, data)
	w.Finish()

	assert.Equal(t, data, readAll(t, r1))
	assert.Equal(t, data, readAll(t, r2))
}

func TestCircular_ZeroFreeSpaceReturnsEmptySlice(t *testing.T) {
	const itemSize = 4
	// One page: a multiple of itemSize that the storage never rounds up
	// any further, so the ring's capacity is exactly this many bytes.
	capacity := os.Getpagesize()
	b := buffer.NewCircular(datasize.ByteSize(capacity))
	w, err := b.Build(itemSize, func() {})
	require.NoError(t, err)
	r := w.NewReader(func() {})

	slice, err := w.Acquire()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(slice), capacity)
	copy(slice, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	require.NoError(t, w.Commit(capacity))

	// Buffer is now full: no reader has consumed anything yet.
	slice, err = w.Acquire()
	require.NoError(t, err)
	assert.Empty(t, slice, "work must see Pending (empty slice), never spin")

	// Draining one item frees exactly one item's worth of space.
	rs, status, err := r.Acquire()
	require.NoError(t, err)
	assert.Equal(t, buffer.StatusOK, status)
	require.NoError(t, r.Release(itemSize))
	_ = rs

	slice, err = w.Acquire()
	require.NoError(t, err)
	assert.Equal(t, itemSize, len(slice))
}

func TestCircular_FinishIdempotent(t *testing.T) {
	b := buffer.NewCircular(32 * datasize.B)
	w, err := b.Build(4, func() {})
	require.NoError(t, err)

	w.Finish()
	assert.NotPanics(t, func() { w.Finish() })
}

func TestCircular_SingleItemBuffer(t *testing.T) {
	const itemSize = 4
	b := buffer.NewCircular(datasize.ByteSize(itemSize))
	w, err := b.Build(itemSize, func() {})
	require.NoError(t, err)
	r := w.NewReader(func() {})

	writeItems(t, w, itemSize, []byte{9, 9, 9, 9})
	w.Finish()

	assert.Equal(t, []byte{9, 9, 9, 9}, readAll(t, r))
}

func TestCircular_SlowReaderBackpressuresWriter(t *testing.T) {
	const itemSize = 4
	capacity := os.Getpagesize() // exact ring capacity, see above
	b := buffer.NewCircular(datasize.ByteSize(capacity))
	w, err := b.Build(itemSize, func() {})
	require.NoError(t, err)

	fast := w.NewReader(func() {})
	slow := w.NewReader(func() {})

	slice, err := w.Acquire()
	require.NoError(t, err)
	require.Equal(t, capacity, len(slice))
	require.NoError(t, w.Commit(capacity))

	// fast reader drains fully, slow reader does not touch anything.
	for {
		s, status, err := fast.Acquire()
		require.NoError(t, err)
		if status != buffer.StatusOK {
			break
		}
		require.NoError(t, fast.Release(len(s)))
	}

	// Writer still can't make progress: slow reader holds the floor.
	slice, err = w.Acquire()
	require.NoError(t, err)
	assert.Empty(t, slice)

	_ = slow
}
