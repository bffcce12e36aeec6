package tag

import "sync"

// Stream carries item-tags alongside one stream edge's byte ring,
// indexed by absolute item position from the start of the stream rather
// than by byte offset, so a tag survives however many work rounds pass
// between the item it marks being produced and being consumed.
//
// It mirrors the ring buffer's own fan-out discipline: every attached
// reader gets every tag exactly once, and memory is reclaimed once the
// slowest attached reader has passed a given position — the same
// min-cursor idea buffer.ringWriter uses for byte backpressure.
type Stream struct {
	mu      sync.Mutex
	tags    []absoluteTag
	readers []*StreamReader
}

type absoluteTag struct {
	index int
	tag   Tag
}

// NewStream returns an empty tag stream for one stream edge.
func NewStream() *Stream { return &Stream{} }

// Push records tags produced starting at absolute item index base. tags'
// Index fields are relative to base, as produced by tag.Propagate or a
// kernel's block.Context.AddOutputTag calls.
func (s *Stream) Push(base int, tags []ItemTag) {
	if len(tags) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tags {
		s.tags = append(s.tags, absoluteTag{index: base + t.Index, tag: t.Tag})
	}
}

// NewReader registers a new independent cursor over this stream, for one
// downstream consumer of the stream edge's buffer.Reader.
func (s *Stream) NewReader() *StreamReader {
	r := &StreamReader{stream: s}
	s.mu.Lock()
	s.readers = append(s.readers, r)
	s.mu.Unlock()
	return r
}

// StreamReader tracks one consumer's progress through a Stream.
type StreamReader struct {
	stream *Stream
	pos    int
}

// Peek returns every tag in [r.pos, upTo), rebased to be relative to
// r.pos (i.e. relative to the consumer's own acquired-slice start),
// without advancing the cursor. Used by the executor to attach tags to
// an acquired-but-not-yet-consumed input slice, since a Work call may
// only consume a prefix of what it was shown.
func (r *StreamReader) Peek(upTo int) []ItemTag {
	s := r.stream
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ItemTag
	for _, t := range s.tags {
		if t.index >= r.pos && t.index < upTo {
			out = append(out, ItemTag{Index: t.index - r.pos, Tag: t.tag})
		}
	}
	return out
}

// Advance moves the cursor to upTo (an absolute item index) once the
// executor knows how much of the peeked slice was actually consumed, and
// drops tags now behind every attached reader's cursor.
func (r *StreamReader) Advance(upTo int) {
	s := r.stream
	s.mu.Lock()
	defer s.mu.Unlock()
	r.pos = upTo
	s.trimLocked()
}

// Take is Peek immediately followed by Advance, for callers that always
// consume everything they're shown.
func (r *StreamReader) Take(upTo int) []ItemTag {
	out := r.Peek(upTo)
	r.Advance(upTo)
	return out
}

func (s *Stream) trimLocked() {
	min := -1
	for _, r := range s.readers {
		if min == -1 || r.pos < min {
			min = r.pos
		}
	}
	if min <= 0 {
		return
	}
	kept := s.tags[:0]
	for _, t := range s.tags {
		if t.index >= min {
			kept = append(kept, t)
		}
	}
	s.tags = kept
}
