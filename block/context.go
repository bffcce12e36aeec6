package block

import (
	"context"

	"go.uber.org/zap"

	"go.fsdr.dev/flowgraph/pmt"
	"go.fsdr.dev/flowgraph/tag"
)

// Sender delivers data on a block's named message output port to
// whatever the topology wired that port to. It is fire-and-forget: the
// destination's handler runs, but its reply (if any) is discarded.
type Sender func(ctx context.Context, port string, data pmt.Pmt) error

// Context is handed to a Kernel on every Init, Work, and Deinit call. It
// carries the acquired input/output views for Work, and lets the kernel
// attach tags to produced items on any output or emit a message on a
// declared message output port.
type Context struct {
	Inputs  []InputView
	Outputs []OutputView

	Log *zap.SugaredLogger

	outputTags [][]tag.ItemTag
	send       Sender
	runCtx     context.Context
}

// NewContext allocates a Context for a block with the given number of
// stream outputs. The executor package calls this once per block and
// reuses it across every Init/Work/Deinit call.
func NewContext(log *zap.SugaredLogger, numOutputs int) *Context {
	return &Context{Log: log, outputTags: make([][]tag.ItemTag, numOutputs)}
}

// SetSender installs the routing function used by Send. Called once by
// the executor that owns this Context.
func (c *Context) SetSender(s Sender) { c.send = s }

// SetRunContext installs the ambient context.Context for the current
// Work round, used by Send to honor cancellation on its way out to the
// destination mailbox.
func (c *Context) SetRunContext(ctx context.Context) { c.runCtx = ctx }

// Send emits data on the named message output port to every block the
// topology connected it to. A kernel with no message outputs, or a port
// with no wired destination, makes this a no-op that returns nil.
func (c *Context) Send(port string, data pmt.Pmt) error {
	if c.send == nil {
		return nil
	}
	ctx := c.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	return c.send(ctx, port, data)
}

// AddOutputTag attaches a tag at item index idx of output outputIdx. Used
// by kernels that need to emit tags beyond what default propagation
// carries forward (e.g. a marker for a detected event).
func (c *Context) AddOutputTag(outputIdx int, idx int, t tag.Tag) {
	c.outputTags[outputIdx] = append(c.outputTags[outputIdx], tag.ItemTag{Index: idx, Tag: t})
}

// OutputTags returns the tags explicitly added for outputIdx this round,
// in addition to whatever default (or overridden) propagation produces.
func (c *Context) OutputTags(outputIdx int) []tag.ItemTag {
	return c.outputTags[outputIdx]
}

// AddPropagatedTags is called by the executor's default propagator to
// merge tag.Propagate's result in alongside anything the kernel already
// added via AddOutputTag.
func (c *Context) AddPropagatedTags(outputIdx int, tags []tag.ItemTag) {
	c.outputTags[outputIdx] = append(c.outputTags[outputIdx], tags...)
}

// Reset installs fresh input/output views ahead of a Work call and
// clears any tags queued by the previous round.
func (c *Context) Reset(inputs []InputView, outputs []OutputView) {
	c.Inputs = inputs
	c.Outputs = outputs
	for i := range c.outputTags {
		c.outputTags[i] = nil
	}
}
