package flowgraph

import (
	"context"
	"sync"

	"github.com/gobwas/glob"

	"go.fsdr.dev/flowgraph/block"
	"go.fsdr.dev/flowgraph/executor"
	"go.fsdr.dev/flowgraph/internal/flowerr"
	"go.fsdr.dev/flowgraph/msgport"
	"go.fsdr.dev/flowgraph/pmt"
	"go.fsdr.dev/flowgraph/topology"
)

// Handle is the external control surface for a running Flowgraph,
// returned by Flowgraph.Run. Call/Callback/Description/Terminate operate
// directly on the supervisor's block table without going through a
// central serializing goroutine: the table is frozen at Run time (spec
// §5), so concurrent reads of it from multiple Handle callers are always
// safe.
type Handle struct {
	sup    *supervisor
	cancel context.CancelFunc

	mu      sync.Mutex
	waitErr error
	done    chan struct{}
}

// Call sends a fire-and-forget message to blockID's named message input
// port and returns as soon as it is enqueued; it does not wait for the
// handler to run.
func (h *Handle) Call(ctx context.Context, blockID block.ID, port string, data pmt.Pmt) error {
	mailbox, err := h.mailboxFor(blockID, port)
	if err != nil {
		return err
	}
	return msgport.Call(ctx, mailbox, port, data)
}

// Callback sends a message to blockID's named message input port and
// waits for its handler's reply.
func (h *Handle) Callback(ctx context.Context, blockID block.ID, port string, data pmt.Pmt) (pmt.Pmt, error) {
	mailbox, err := h.mailboxFor(blockID, port)
	if err != nil {
		return pmt.Pmt{}, err
	}
	return msgport.Callback(ctx, mailbox, port, data)
}

func (h *Handle) mailboxFor(blockID block.ID, port string) (*msgport.Mailbox, error) {
	exec, ok := h.sup.executors[blockID]
	if !ok {
		return nil, flowerr.InvalidBlockErr(int(blockID))
	}
	b := exec.Block()
	if _, ok := b.MessageInputPort(port); !ok {
		return nil, flowerr.InvalidPortErr(int(blockID), port)
	}
	return b.Mailbox(), nil
}

// Description snapshots the whole flowgraph's current structure and
// per-block lifecycle state, optionally filtered to blocks whose type
// name matches one of globs.
func (h *Handle) Description(globs ...glob.Glob) topology.FlowgraphDescription {
	return h.sup.topo.Describe(globs...)
}

// BlockDescription snapshots a single block's current structure and
// lifecycle state.
func (h *Handle) BlockDescription(blockID block.ID) (topology.BlockDescription, bool) {
	return h.sup.topo.DescribeBlock(blockID)
}

// Terminate begins graceful shutdown of every block (Deinit, then output
// Finish) and returns immediately; use TerminateAndWait or Wait to block
// until shutdown completes. Canceling the context passed to Flowgraph.Run
// stops the graph too, but abruptly (skipping Deinit) — prefer Terminate
// for an orderly stop.
func (h *Handle) Terminate() {
	for _, exec := range h.sup.executors {
		exec.SendCommand(executor.CommandTerminate)
	}
}

// TerminateAndWait begins graceful shutdown and blocks until every block
// has stopped, returning the first error encountered (if any).
func (h *Handle) TerminateAndWait() error {
	h.Terminate()
	return h.Wait()
}

// Wait blocks until the flowgraph has fully stopped, whether because
// every block self-terminated, Terminate was called, or a block failed.
func (h *Handle) Wait() error {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.waitErr
}
