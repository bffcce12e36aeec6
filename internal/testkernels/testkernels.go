// Package testkernels provides small Kernel implementations used only by
// this module's own tests: a finite f32 source, a byte-for-byte
// passthrough, an f32 collecting sink, and an echo message handler. They
// exist to exercise block, executor, and flowgraph against the
// end-to-end scenarios the runtime is specified against, not as a DSP
// block catalog (that catalog is out of scope — see spec §1).
package testkernels

import (
	"context"
	"encoding/binary"
	"math"
	"sync"

	"go.fsdr.dev/flowgraph/block"
	"go.fsdr.dev/flowgraph/pmt"
	"go.fsdr.dev/flowgraph/tag"
)

const F32Size = 4

func putF32(b []byte, v float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
}

func getF32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

// Source emits a fixed, finite sequence of f32 items on its single
// output and reports Finished in the round that emits the last item (or
// on its first round, if it has none). Optionally tags one item index with
// a tag.Tag, for exercising default tag propagation downstream.
type Source struct {
	items   []float32
	idx     int
	hasTag  bool
	tagAt   int
	tagVal  tag.Tag
}

// NewSource returns a Source that emits items in order, once.
func NewSource(items []float32) *Source {
	return &Source{items: append([]float32(nil), items...)}
}

// NewTaggedSource returns a Source that additionally attaches t to the
// item at index tagAt (0-based, within items).
func NewTaggedSource(items []float32, tagAt int, t tag.Tag) *Source {
	s := NewSource(items)
	s.hasTag = true
	s.tagAt = tagAt
	s.tagVal = t
	return s
}

func (s *Source) Init(*block.Context) error   { return nil }
func (s *Source) Deinit(*block.Context) error { return nil }

func (s *Source) Work(ctx *block.Context) (block.WorkIO, error) {
	io := block.Pending(0, 1)
	if s.idx >= len(s.items) {
		io.Finished = true
		return io, nil
	}

	out := ctx.Outputs[0].Data
	capacity := len(out) / F32Size
	if capacity == 0 {
		return io, nil
	}

	n := len(s.items) - s.idx
	if n > capacity {
		n = capacity
	}
	for i := 0; i < n; i++ {
		putF32(out[i*F32Size:], s.items[s.idx+i])
		if s.hasTag && s.idx+i == s.tagAt {
			ctx.AddOutputTag(0, i, s.tagVal)
		}
	}

	s.idx += n
	io.Produced[0] = n * F32Size
	if s.idx < len(s.items) {
		io.Reschedule = true
	} else {
		io.Finished = true
	}
	return io, nil
}

// Passthrough copies bytes 1:1 from its single input to its single
// output, relying on the executor's default tag propagation and
// self-termination rule (it never sets WorkIO.Finished itself).
type Passthrough struct {
	ItemSize int
}

func NewPassthrough(itemSize int) *Passthrough { return &Passthrough{ItemSize: itemSize} }

func (p *Passthrough) Init(*block.Context) error   { return nil }
func (p *Passthrough) Deinit(*block.Context) error { return nil }

func (p *Passthrough) Work(ctx *block.Context) (block.WorkIO, error) {
	io := block.Pending(1, 1)
	in := ctx.Inputs[0].Data
	out := ctx.Outputs[0].Data

	n := len(in)
	if len(out) < n {
		n = len(out)
	}
	n -= n % p.ItemSize
	if n == 0 {
		return io, nil
	}

	copy(out[:n], in[:n])
	io.Consumed[0] = n
	io.Produced[0] = n
	if n < len(in) {
		io.Reschedule = true
	}
	return io, nil
}

// VectorSink collects every f32 item (and any tags riding alongside
// them, rebased to the sink's own cumulative item position) it sees on
// its single input. Safe to read from a different goroutine than the
// one driving the block, via Items/Tags.
type VectorSink struct {
	mu    sync.Mutex
	items []float32
	tags  []tag.ItemTag
	base  int
}

func NewVectorSink() *VectorSink { return &VectorSink{} }

func (s *VectorSink) Init(*block.Context) error   { return nil }
func (s *VectorSink) Deinit(*block.Context) error { return nil }

func (s *VectorSink) Work(ctx *block.Context) (block.WorkIO, error) {
	io := block.Pending(1, 0)
	in := ctx.Inputs[0]

	n := len(in.Data) - len(in.Data)%F32Size
	if n == 0 {
		return io, nil
	}

	s.mu.Lock()
	for _, t := range in.Tags {
		if t.Index*F32Size < n {
			s.tags = append(s.tags, tag.ItemTag{Index: s.base + t.Index, Tag: t.Tag})
		}
	}
	for i := 0; i < n; i += F32Size {
		s.items = append(s.items, getF32(in.Data[i:]))
	}
	s.base += n / F32Size
	s.mu.Unlock()

	io.Consumed[0] = n
	return io, nil
}

// Items returns a copy of every item collected so far.
func (s *VectorSink) Items() []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float32(nil), s.items...)
}

// Tags returns a copy of every tag collected so far, indexed by the
// item's cumulative position across every Work round.
func (s *VectorSink) Tags() []tag.ItemTag {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]tag.ItemTag(nil), s.tags...)
}

// Failing has a single stream input and always returns an error from
// Work, for exercising per-block failure isolation: the block that owns
// it should move to StateError without aborting the rest of the graph.
type Failing struct {
	Err error
}

func NewFailing(err error) *Failing { return &Failing{Err: err} }

func (f *Failing) Init(*block.Context) error   { return nil }
func (f *Failing) Deinit(*block.Context) error { return nil }

func (f *Failing) Work(*block.Context) (block.WorkIO, error) {
	return block.WorkIO{}, f.Err
}

// Echo is a message-only kernel with no stream ports: its "echo"
// message input reflects back whatever Pmt it was sent.
type Echo struct{}

func (Echo) Init(*block.Context) error                     { return nil }
func (Echo) Deinit(*block.Context) error                   { return nil }
func (Echo) Work(*block.Context) (block.WorkIO, error)      { return block.WorkIO{}, nil }
func (Echo) Handle(_ context.Context, data pmt.Pmt) (pmt.Pmt, error) { return data, nil }

// Relay is a message-only kernel that forwards whatever it receives on
// its "in" message input out through its "out" message output, for
// exercising topology-wired (block-to-block) message edges. Its handler
// is a bound method rather than a free function because it needs the
// block's own *block.Context (to call Send) — Init stashes it the
// moment the executor hands it over, before any message can arrive.
type Relay struct {
	OutPort string
	ctx     *block.Context
}

func NewRelay(outPort string) *Relay { return &Relay{OutPort: outPort} }

func (r *Relay) Init(ctx *block.Context) error   { r.ctx = ctx; return nil }
func (r *Relay) Deinit(*block.Context) error     { return nil }
func (r *Relay) Work(*block.Context) (block.WorkIO, error) { return block.WorkIO{}, nil }

// Handle forwards data to r.OutPort. Register it with
// block.WithMessageInput("in", block.MessageCall, relay.Handle).
func (r *Relay) Handle(_ context.Context, data pmt.Pmt) (pmt.Pmt, error) {
	if r.ctx == nil {
		return pmt.Null(), nil
	}
	return pmt.Null(), r.ctx.Send(r.OutPort, data)
}
