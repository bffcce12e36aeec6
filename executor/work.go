package executor

import (
	"context"

	"go.fsdr.dev/flowgraph/block"
	"go.fsdr.dev/flowgraph/buffer"
	"go.fsdr.dev/flowgraph/internal/flowerr"
	"go.fsdr.dev/flowgraph/tag"
)

// tryWork runs exactly one acquire/work/commit/propagate round. It never
// blocks: every Acquire either returns data, an empty/Pending slice, or
// StatusDone, so a round that finds nothing to do still returns promptly
// with a zero-progress WorkIO, and the caller goes back to waiting on
// the next event instead of spinning.
func (e *Executor) tryWork(ctx context.Context) (block.WorkIO, error) {
	e.ctx.SetRunContext(ctx)

	inViews := make([]block.InputView, len(e.inputs))
	for i, in := range e.inputs {
		data, status, err := in.reader.Acquire()
		if err != nil {
			return block.WorkIO{}, flowerr.Wrap(flowerr.RuntimeError, err, "acquiring input %d", i)
		}
		in.done = status == buffer.StatusDone

		in.pending = nil
		if in.tagReader != nil && in.itemSize > 0 {
			avail := len(data) / in.itemSize
			in.pending = in.tagReader.Peek(in.consumedItem + avail)
		}
		inViews[i] = block.InputView{Data: data, Tags: in.pending, Done: in.done}
	}

	outViews := make([]block.OutputView, len(e.outputs))
	for i, out := range e.outputs {
		data, err := out.writer.Acquire()
		if err != nil {
			return block.WorkIO{}, flowerr.Wrap(flowerr.RuntimeError, err, "acquiring output %d", i)
		}
		outViews[i] = block.OutputView{Data: data}
	}

	e.ctx.Reset(inViews, outViews)
	io, err := e.block.Kernel.Work(e.ctx)
	if err != nil {
		return block.WorkIO{}, flowerr.Wrap(flowerr.KernelError, err, "block %d (%s) Work failed", e.block.ID, e.block.TypeName)
	}
	if io.Consumed == nil {
		io.Consumed = make([]int, len(e.inputs))
	}
	if io.Produced == nil {
		io.Produced = make([]int, len(e.outputs))
	}

	// Default tag propagation runs before release/commit below so its
	// output lands in e.ctx's pending tag set alongside anything the
	// kernel added explicitly via AddOutputTag, ready to push into each
	// output's tag.Stream at Commit time.
	e.propagateTags(io)

	for i, in := range e.inputs {
		n := io.Consumed[i]
		if inViews[i].Data == nil && n == 0 {
			// Acquire returned Pending or Done: nothing is outstanding
			// on this reader, so there is nothing to release.
			continue
		}
		if err := in.reader.Release(n); err != nil {
			return block.WorkIO{}, flowerr.Wrap(flowerr.RuntimeError, err, "releasing input %d", i)
		}
		if in.itemSize > 0 {
			in.consumedItem += n / in.itemSize
			if in.tagReader != nil {
				in.tagReader.Advance(in.consumedItem)
			}
		}
	}

	for i, out := range e.outputs {
		n := io.Produced[i]
		if outViews[i].Data == nil && n == 0 {
			// Acquire found no free space: nothing is outstanding on
			// this writer, so there is nothing to commit.
			continue
		}
		if err := out.writer.Commit(n); err != nil {
			return block.WorkIO{}, flowerr.Wrap(flowerr.RuntimeError, err, "committing output %d", i)
		}
		if out.itemSize <= 0 {
			continue
		}
		if out.tagStream != nil {
			if tags := e.ctx.OutputTags(i); len(tags) > 0 {
				out.tagStream.Push(out.producedItem, tags)
			}
		}
		out.producedItem += n / out.itemSize
	}

	return io, nil
}

// propagateTags calls the kernel's own PropagateTags if it implements
// block.TagPropagator; otherwise it runs the default positional/
// floor-mapped propagation (tag.Propagate) from the first input to every
// output, unless the block disabled propagation entirely via
// block.WithTagPropagation(false).
func (e *Executor) propagateTags(io block.WorkIO) {
	if kp, overridden := e.block.Kernel.(block.TagPropagator); overridden {
		kp.PropagateTags(e.ctx)
		return
	}
	if !e.block.PropagateTagsEnabled() {
		return
	}
	if len(e.inputs) == 0 || len(e.outputs) == 0 {
		return
	}

	// Default mapping: the first input's tags propagate, floor-mapped by
	// item index, to every output — suitable for the common one-rate
	// passthrough/transform shape. Tags on any other input are not
	// carried forward; blocks with more specific fan-in/out semantics
	// supply their own TagPropagator.
	in := e.inputs[0]
	consumedItems := io.Consumed[0] / in.itemSize
	if consumedItems <= 0 {
		return
	}
	for oi, out := range e.outputs {
		producedItems := io.Produced[oi] / out.itemSize
		if producedItems <= 0 {
			continue
		}
		propagated := tag.Propagate(in.pending, consumedItems, producedItems)
		e.ctx.AddPropagatedTags(oi, propagated)
	}
}
