package block

import "go.fsdr.dev/flowgraph/tag"

// Kernel is the user-supplied unit of work. Init and Deinit bracket the
// block's running lifetime; Work is invoked by the executor whenever the
// readiness rule is satisfied (some input has data, some output has
// space, a message is pending, or a lifecycle command is pending).
type Kernel interface {
	Init(ctx *Context) error
	Work(ctx *Context) (WorkIO, error)
	Deinit(ctx *Context) error
}

// TagPropagator lets a kernel override the default positional/floor-mapped
// tag propagation (tag.Propagate) performed by the executor after each
// Work call. Implement it when a block's semantics don't fit the default
// (e.g. a block that reduces many inputs to one tag-bearing output).
type TagPropagator interface {
	PropagateTags(ctx *Context)
}

// InputView is the data and positional tags the executor acquired for one
// stream input ahead of a Work call.
type InputView struct {
	Data []byte
	Tags []tag.ItemTag
	// Done reports that this input's upstream writer has finished and no
	// further bytes will ever arrive after Data.
	Done bool
}

// OutputView is the writable slice the executor acquired for one stream
// output ahead of a Work call.
type OutputView struct {
	Data []byte
}

// WorkIO communicates a Work call's result back to the executor: how many
// bytes were consumed from each input and produced into each output, and
// whether the executor should call Work again immediately (Reschedule) or
// wait for the next event.
type WorkIO struct {
	// Consumed[i] is the number of bytes consumed from Inputs[i]. Must be
	// a multiple of that port's item size.
	Consumed []int
	// Produced[i] is the number of bytes written into Outputs[i]. Must be
	// a multiple of that port's item size.
	Produced []int
	// Reschedule requests an immediate re-invocation of Work without
	// waiting for a new buffer or message event, e.g. because more input
	// remains acquired than was consumed this round.
	Reschedule bool
	// Finished tells the executor this kernel has no further output to
	// produce on any port; the executor finishes every output and moves
	// the block to StateTerminated once Deinit returns.
	Finished bool
}

// Pending is the zero-progress WorkIO: nothing consumed, nothing
// produced, no reschedule. Kernels return it when the readiness event
// that triggered Work didn't actually leave enough data or space to make
// progress (e.g. a racing fan-out reader already drained what looked
// available).
func Pending(numInputs, numOutputs int) WorkIO {
	return WorkIO{Consumed: make([]int, numInputs), Produced: make([]int, numOutputs)}
}
