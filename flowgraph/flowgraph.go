// Package flowgraph ties together topology, block, buffer, msgport, and
// executor into a runnable dataflow graph: construct one with New, wire
// it up with AddBlock/ConnectStream/ConnectMessage exactly like a
// topology.Topology (which it wraps), then call Run to start every
// block's executor and get back a Handle for external control.
package flowgraph

import (
	"context"
	"fmt"

	"github.com/gobwas/glob"
	"go.uber.org/zap"

	"go.fsdr.dev/flowgraph/block"
	"go.fsdr.dev/flowgraph/buffer"
	"go.fsdr.dev/flowgraph/internal/logging"
	"go.fsdr.dev/flowgraph/topology"
)

// Flowgraph is a not-yet-running dataflow graph under construction. It
// delegates structural calls to an internal topology.Topology, so that
// package's validation (unknown block, port mismatch, duplicate input
// connection) surfaces identically here.
type Flowgraph struct {
	topo *topology.Topology
	cfg  Config
	log  *zap.SugaredLogger
}

// New returns an empty Flowgraph configured by cfg. Pass DefaultConfig()
// (or a zero Config, which behaves identically) for the runtime's
// baseline behavior.
func New(cfg Config) (*Flowgraph, error) {
	log, _, err := logging.Init(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("flowgraph: %w", err)
	}
	if cfg.DefaultStreamBufferCapacity == 0 {
		cfg.DefaultStreamBufferCapacity = DefaultConfig().DefaultStreamBufferCapacity
	}
	return &Flowgraph{topo: topology.New(), cfg: cfg, log: log}, nil
}

// AddBlock assigns b a dense ID and adds it to the graph.
func (f *Flowgraph) AddBlock(b *block.Block) block.ID { return f.topo.AddBlock(b) }

// ConnectStream wires a stream edge; see topology.Topology.ConnectStream
// for the validation it performs. A nil builder falls back to a Circular
// buffer sized by Config.DefaultStreamBufferCapacity rather than
// topology's own package-level default, so the flowgraph's configured
// sizing always wins.
func (f *Flowgraph) ConnectStream(srcBlock block.ID, srcPort string, dstBlock block.ID, dstPort string, builder buffer.Builder) error {
	if builder == nil {
		builder = buffer.NewCircular(f.cfg.DefaultStreamBufferCapacity)
	}
	return f.topo.ConnectStream(srcBlock, srcPort, dstBlock, dstPort, builder)
}

// ConnectMessage wires a message edge; see
// topology.Topology.ConnectMessage for the validation it performs.
func (f *Flowgraph) ConnectMessage(srcBlock block.ID, srcPort string, dstBlock block.ID, dstPort string) error {
	return f.topo.ConnectMessage(srcBlock, srcPort, dstBlock, dstPort)
}

// Describe snapshots the graph's current structure; see
// topology.Topology.Describe.
func (f *Flowgraph) Describe(globs ...glob.Glob) topology.FlowgraphDescription {
	return f.topo.Describe(globs...)
}

// DescribeBlock snapshots a single block by id.
func (f *Flowgraph) DescribeBlock(id block.ID) (topology.BlockDescription, bool) {
	return f.topo.DescribeBlock(id)
}

// Run builds an executor for every block, wires every stream and message
// edge, and starts each block's lifecycle (Init then Run/Poll), per
// spec's frozen-block-table model: once Run returns, the set of blocks
// and their wiring never changes again, so the returned Handle's
// Call/Callback/Terminate operations can read it without synchronizing
// against concurrent topology mutation.
//
// ctx bounds the flowgraph's entire lifetime: canceling it stops every
// block too, but abruptly, skipping Deinit (see Handle.Terminate for an
// orderly stop).
func (f *Flowgraph) Run(ctx context.Context) (*Handle, error) {
	sup, err := newSupervisor(f.topo, f.cfg, f.log)
	if err != nil {
		return nil, err
	}
	return sup.start(ctx)
}
