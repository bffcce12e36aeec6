package flowgraph

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"go.fsdr.dev/flowgraph/block"
	"go.fsdr.dev/flowgraph/buffer"
	"go.fsdr.dev/flowgraph/executor"
	"go.fsdr.dev/flowgraph/internal/flowerr"
	"go.fsdr.dev/flowgraph/tag"
	"go.fsdr.dev/flowgraph/topology"
)

// streamGroup is the shared writer/tag-stream pair for every stream edge
// fanning out of one (block, output port). topology.ConnectStream builds
// an independent buffer.Builder per call even when several edges share a
// source port, so the supervisor groups them back together at wiring
// time: one Writer (and one tag.Stream) per source port, with an extra
// buffer.Reader/tag.StreamReader attached per destination.
type streamGroup struct {
	writer    buffer.Writer
	tagStream *tag.Stream
}

// supervisor owns every block's Executor, wires the topology's edges into
// bound stream/message routes, and drives the chosen scheduling
// substrate. Its block/executor tables are built once in newSupervisor
// and never mutated again, per spec's frozen-block-table model.
type supervisor struct {
	topo      *topology.Topology
	cfg       Config
	log       *zap.SugaredLogger
	executors map[block.ID]*executor.Executor
}

func newSupervisor(topo *topology.Topology, cfg Config, log *zap.SugaredLogger) (*supervisor, error) {
	sup := &supervisor{
		topo:      topo,
		cfg:       cfg,
		log:       log,
		executors: map[block.ID]*executor.Executor{},
	}

	for _, b := range topo.Blocks() {
		sup.executors[b.ID] = executor.New(b, log.With("block", b.ID, "type", b.TypeName))
	}

	groups := map[block.ID]map[string]*streamGroup{}
	for _, e := range topo.StreamEdges() {
		srcExec := sup.executors[e.SrcBlock]
		dstExec := sup.executors[e.DstBlock]
		srcBlock, _ := topo.Block(e.SrcBlock)
		dstBlock, _ := topo.Block(e.DstBlock)

		srcIdx, srcPort, ok := srcBlock.OutputPort(e.SrcPort)
		if !ok {
			return nil, flowerr.InvalidPortErr(int(e.SrcBlock), e.SrcPort)
		}
		dstIdx, _, ok := dstBlock.InputPort(e.DstPort)
		if !ok {
			return nil, flowerr.InvalidPortErr(int(e.DstBlock), e.DstPort)
		}

		if groups[e.SrcBlock] == nil {
			groups[e.SrcBlock] = map[string]*streamGroup{}
		}
		g := groups[e.SrcBlock][e.SrcPort]
		if g == nil {
			w, err := e.Builder.Build(srcPort.ItemSize, srcExec.WakeNotifier())
			if err != nil {
				return nil, flowerr.Wrap(flowerr.RuntimeError, err, "building stream buffer for block %d:%s", e.SrcBlock, e.SrcPort)
			}
			g = &streamGroup{writer: w, tagStream: tag.NewStream()}
			groups[e.SrcBlock][e.SrcPort] = g
			srcExec.BindOutput(srcIdx, w, g.tagStream)
		}

		r := g.writer.NewReader(dstExec.WakeNotifier())
		tr := g.tagStream.NewReader()
		dstExec.BindInput(dstIdx, r, tr)
	}

	for _, e := range topo.MessageEdges() {
		dstExec := sup.executors[e.DstBlock]
		sup.executors[e.SrcBlock].BindMessageOutput(e.SrcPort, dstExec.Block().Mailbox())
	}

	return sup, nil
}

// start transitions every block through Init and begins driving its
// executor per cfg.Scheduler, returning a Handle once every block has
// been told to start. It does not wait for the graph to finish; that is
// Handle.Wait's job.
func (sup *supervisor) start(ctx context.Context) (*Handle, error) {
	runCtx, cancel := context.WithCancel(ctx)

	// A plain errgroup.Group, not errgroup.WithContext: one executor's
	// failure must not itself cancel the others' context, or every
	// remaining block loses its graceful Deinit/Finish path. In practice
	// a kernel Work error never even reaches here — Executor.Run/Poll
	// swallow those and return nil so only the failing block stops (see
	// executor's isKernelError) — but an unrecoverable scheduler/buffer error
	// still propagates, and this group must not let it cancel siblings.
	// Handle.Terminate stops the rest by sending each executor
	// CommandTerminate directly; runCtx only cancels when the caller's
	// own ctx does.
	var grp errgroup.Group

	switch sup.cfg.Scheduler {
	case SchedulerCooperative:
		grp.Go(func() error { return sup.runCooperative(runCtx) })
	default:
		for _, b := range sup.topo.Blocks() {
			exec := sup.executors[b.ID]
			grp.Go(func() error { return exec.Run(runCtx) })
		}
	}

	h := &Handle{
		sup:    sup,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		err := grp.Wait()
		cancel()
		h.mu.Lock()
		h.waitErr = err
		h.mu.Unlock()
		close(h.done)
	}()

	for _, b := range sup.topo.Blocks() {
		sup.executors[b.ID].SendCommand(executor.CommandStart)
	}

	return h, nil
}

// runCooperative drives every executor from this single goroutine,
// round-robining Poll until ctx is canceled or every block has
// terminated. It is the cooperative scheduling substrate: one goroutine
// total, no per-block goroutine footprint (see executor.Executor.Poll).
func (sup *supervisor) runCooperative(ctx context.Context) error {
	execs := make([]*executor.Executor, 0, len(sup.executors))
	for _, b := range sup.topo.Blocks() {
		execs = append(execs, sup.executors[b.ID])
	}

	alive := make([]bool, len(execs))
	for i := range alive {
		alive[i] = true
	}
	remaining := len(execs)

	for remaining > 0 {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		progressedAny := false
		for i, exec := range execs {
			if !alive[i] {
				continue
			}
			progressed, terminated, err := exec.Poll(ctx)
			if err != nil && ctx.Err() == nil {
				return err
			}
			if progressed {
				progressedAny = true
			}
			if terminated {
				alive[i] = false
				remaining--
			}
		}

		if !progressedAny {
			// Nothing had an event ready this sweep; a short sleep avoids
			// busy-spinning the one goroutine driving every block.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Millisecond):
			}
		}
	}
	return nil
}
