// Package executor implements the per-block event loop: the six-step
// work cycle (acquire, call the kernel, commit/release, propagate tags,
// dispatch messages, detect exhaustion) that drives one block.Block
// against its bound stream buffers and message mailbox.
package executor

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"go.fsdr.dev/flowgraph/block"
	"go.fsdr.dev/flowgraph/buffer"
	"go.fsdr.dev/flowgraph/internal/flowerr"
	"go.fsdr.dev/flowgraph/msgport"
	"go.fsdr.dev/flowgraph/pmt"
	"go.fsdr.dev/flowgraph/tag"
)

// Command is a lifecycle instruction delivered to a running Executor by
// its supervisor.
type Command int

const (
	CommandStart Command = iota
	CommandTerminate
)

type inputBinding struct {
	reader       buffer.Reader
	itemSize     int
	tagReader    *tag.StreamReader // nil if this edge carries no tags
	consumedItem int               // cumulative items consumed, absolute
	pending      []tag.ItemTag
	done         bool
}

type outputBinding struct {
	writer       buffer.Writer
	itemSize     int
	tagStream    *tag.Stream // nil if this edge carries no tags
	producedItem int         // cumulative items produced, absolute
}

// Executor drives one block's lifecycle and work cycle, either on its
// own goroutine (Run, for the threaded scheduling substrate) or one step
// at a time when round-robined by a cooperative scheduler (Poll). It is
// constructed from a bare block.Block; the flowgraph package attaches
// stream bindings and message routes once every edge's buffers exist.
type Executor struct {
	block   *block.Block
	inputs  []*inputBinding
	outputs []*outputBinding
	ctx     *block.Context
	log     *zap.SugaredLogger

	routes map[string][]*msgport.Mailbox

	lifecycle chan Command
	wake      chan struct{}
}

// New builds an Executor for b. Stream ports and message-output routes
// are bound afterward via BindInput, BindOutput, and BindMessageOutput,
// once the owning flowgraph has constructed every edge's buffers.
func New(b *block.Block, log *zap.SugaredLogger) *Executor {
	e := &Executor{
		block:     b,
		log:       log,
		lifecycle: make(chan Command, 4),
		wake:      make(chan struct{}, 1),
	}
	e.inputs = make([]*inputBinding, len(b.Inputs))
	for i, p := range b.Inputs {
		e.inputs[i] = &inputBinding{itemSize: p.ItemSize}
	}
	e.outputs = make([]*outputBinding, len(b.Outputs))
	for i, p := range b.Outputs {
		e.outputs[i] = &outputBinding{itemSize: p.ItemSize}
	}
	e.ctx = block.NewContext(log, len(b.Outputs))
	e.ctx.SetSender(e.sendMessage)
	return e
}

// BindInput attaches the reader for stream input i, and the tag stream
// reader paired with it if that edge carries tags (nil otherwise).
func (e *Executor) BindInput(i int, r buffer.Reader, tagReader *tag.StreamReader) {
	e.inputs[i].reader = r
	e.inputs[i].tagReader = tagReader
}

// BindOutput attaches the writer for stream output i, and the tag
// stream that records tags attached to items produced on it.
func (e *Executor) BindOutput(i int, w buffer.Writer, tagStream *tag.Stream) {
	e.outputs[i].writer = w
	e.outputs[i].tagStream = tagStream
}

// BindMessageOutput records dest as one destination mailbox for this
// block's named message output port. A port wired to N message edges
// fans a kernel's ctx.Send(port, ...) call out to all N destinations.
func (e *Executor) BindMessageOutput(port string, dest *msgport.Mailbox) {
	if e.routes == nil {
		e.routes = map[string][]*msgport.Mailbox{}
	}
	e.routes[port] = append(e.routes[port], dest)
}

func (e *Executor) sendMessage(ctx context.Context, port string, data pmt.Pmt) error {
	for _, dest := range e.routes[port] {
		if err := msgport.Call(ctx, dest, port, data); err != nil {
			return err
		}
	}
	return nil
}

// WakeNotifier returns a buffer.Notifier that wakes this executor's event
// loop, suitable for passing as the readerNotify/writerNotify argument
// when building the buffers bound to this block.
func (e *Executor) WakeNotifier() buffer.Notifier {
	return func() {
		select {
		case e.wake <- struct{}{}:
		default:
		}
	}
}

// SendCommand enqueues a lifecycle command for this executor. It never
// blocks the caller: the lifecycle channel is buffered, and a command
// sent while it is already full (e.g. repeated Terminate calls after the
// executor has stopped draining it) is dropped.
func (e *Executor) SendCommand(cmd Command) {
	select {
	case e.lifecycle <- cmd:
	default:
	}
}

// Block exposes the executor's underlying block, e.g. for description
// snapshots that need the current lifecycle state.
func (e *Executor) Block() *block.Block { return e.block }

// Run drives the block until it self-terminates, is told to terminate,
// or ctx is canceled. It returns the terminal error, if any (nil on a
// clean stop). This is the threaded scheduling substrate: one goroutine
// per block, blocking between events.
func (e *Executor) Run(ctx context.Context) error {
	b := e.block

	for {
		select {
		case <-ctx.Done():
			e.shutdown(ctxErr(ctx))
			return ctx.Err()

		case cmd := <-e.lifecycle:
			switch cmd {
			case CommandStart:
				if err := e.start(); err != nil {
					e.fail(err)
					if isKernelError(err) {
						return nil
					}
					return err
				}
				e.kick()
			case CommandTerminate:
				e.shutdown(nil)
				return nil
			}
			continue

		case env := <-b.Mailbox().C():
			e.handleEnvelope(ctx, env)

		case <-e.wake:
			// Fall through to a work attempt below.
		}

		if b.State() != block.StateRunning {
			continue
		}

		for {
			io, err := e.tryWork(ctx)
			if err != nil {
				e.fail(err)
				if isKernelError(err) {
					// A kernel's own Work failed: only this block is
					// done for good (already moved to StateError, its
					// outputs already finished by fail above). Returning
					// nil here keeps this executor's errgroup entry
					// clean so the rest of the flowgraph keeps running;
					// the failure is visible via BlockDescription.
					return nil
				}
				return err
			}
			if e.finishedAfter(io) {
				e.shutdown(nil)
				return nil
			}
			if !io.Reschedule {
				break
			}
		}
	}
}

// Poll drives at most one event for this executor without blocking:
// one lifecycle command, one mailbox envelope, or one work round if the
// wake flag is set. It reports whether it made any progress and whether
// the block has now terminated, for a single-threaded cooperative
// scheduler that round-robins Poll across every block instead of giving
// each one its own goroutine (see Run for the threaded equivalent).
func (e *Executor) Poll(ctx context.Context) (progressed bool, terminated bool, err error) {
	b := e.block

	select {
	case <-ctx.Done():
		e.shutdown(ctxErr(ctx))
		return true, true, ctx.Err()

	case cmd := <-e.lifecycle:
		switch cmd {
		case CommandStart:
			if serr := e.start(); serr != nil {
				e.fail(serr)
				if isKernelError(serr) {
					return true, true, nil
				}
				return true, true, serr
			}
			e.kick()
		case CommandTerminate:
			e.shutdown(nil)
			return true, true, nil
		}
		return true, false, nil

	case env := <-b.Mailbox().C():
		e.handleEnvelope(ctx, env)
		return true, false, nil

	case <-e.wake:
		// Fall through to a single work attempt below.

	default:
		return false, false, nil
	}

	if b.State() != block.StateRunning {
		return false, false, nil
	}

	io, werr := e.tryWork(ctx)
	if werr != nil {
		e.fail(werr)
		if isKernelError(werr) {
			// Only this block is done for good; report it terminated
			// with no error so the cooperative scheduler keeps polling
			// the rest of the graph.
			return true, true, nil
		}
		return true, true, werr
	}
	if e.finishedAfter(io) {
		return true, true, nil
	}
	if io.Reschedule {
		e.kick()
	}
	return true, false, nil
}

func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return flowerr.Wrap(flowerr.RuntimeError, err, "flowgraph context canceled")
	}
	return nil
}

// isKernelError reports whether err originated from a kernel's own Init
// or Work call, as opposed to a scheduler/buffer protocol violation.
// Per the runtime's failure-isolation contract, a kernel error only
// takes down the block that raised it; anything else is treated as
// unrecoverable and aborts the whole flowgraph.
func isKernelError(err error) bool {
	var ferr *flowerr.Error
	if errors.As(err, &ferr) {
		return ferr.Kind == flowerr.KernelError
	}
	return false
}

func (e *Executor) start() error {
	if err := e.block.TransitionTo(block.StateInitialized); err != nil {
		return err
	}
	if err := e.block.Kernel.Init(e.ctx); err != nil {
		return flowerr.Wrap(flowerr.KernelError, err, "block %d (%s) Init failed", e.block.ID, e.block.TypeName)
	}
	return e.block.TransitionTo(block.StateRunning)
}

// kick schedules an immediate work attempt, used right after Start so
// that source blocks (no inputs, nothing to notify them) get their first
// chance to produce without waiting for an external event.
func (e *Executor) kick() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Executor) fail(err error) {
	if e.log != nil {
		e.log.Errorw("block failed", "block", e.block.ID, "type", e.block.TypeName, "error", err)
	}
	e.block.Fail(err)
	e.finishOutputs()
}

func (e *Executor) shutdown(err error) {
	if e.block.State() == block.StateTerminated || e.block.State() == block.StateError {
		return
	}
	if err != nil {
		e.fail(err)
		return
	}
	_ = e.block.Kernel.Deinit(e.ctx)
	e.finishOutputs()
	_ = e.block.TransitionTo(block.StateTerminated)
}

func (e *Executor) finishOutputs() {
	for _, o := range e.outputs {
		if o.writer != nil {
			o.writer.Finish()
		}
	}
}

// finishedAfter applies the self-termination rule: a kernel that reports
// Finished, or that has seen every input reach Done with nothing
// produced this round, is done for good. Deinit and output Finish happen
// exactly once via shutdown.
func (e *Executor) finishedAfter(io block.WorkIO) bool {
	if io.Finished {
		e.shutdown(nil)
		return true
	}
	if len(e.inputs) == 0 {
		return false
	}
	allDone := true
	for _, in := range e.inputs {
		if !in.done {
			allDone = false
			break
		}
	}
	if !allDone {
		return false
	}
	for _, n := range io.Produced {
		if n > 0 {
			return false
		}
	}
	e.shutdown(nil)
	return true
}

func (e *Executor) handleEnvelope(ctx context.Context, env msgport.Envelope) {
	h, ok := e.block.Handler(env.Port)
	if !ok {
		if env.Reply != nil {
			env.Reply <- msgport.Reply{Err: flowerr.InvalidPortErr(int(e.block.ID), env.Port)}
		}
		return
	}
	v, err := h(ctx, env.Data)
	if env.Reply != nil {
		env.Reply <- msgport.Reply{Value: v, Err: err}
	}
}
