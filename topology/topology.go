// Package topology builds and validates a flowgraph's static structure:
// blocks, stream edges (each bound to a buffer.Builder), and message
// edges. Connection errors are surfaced synchronously, at call time,
// never deferred to run time.
package topology

import (
	"fmt"

	"go.fsdr.dev/flowgraph/block"
	"go.fsdr.dev/flowgraph/buffer"
	"go.fsdr.dev/flowgraph/internal/flowerr"
)

// DefaultStreamBufferCapacity is used for any ConnectStream call that
// passes a nil buffer.Builder. It is an explicit, documented default —
// never a platform probe — matching the runtime's policy that buffer
// variant selection is always a caller choice.
const DefaultStreamBufferCapacity = 64 * 1024

// StreamEdge is one validated stream connection.
type StreamEdge struct {
	SrcBlock block.ID
	SrcPort  string
	DstBlock block.ID
	DstPort  string
	Builder  buffer.Builder
}

// MessageEdge is one validated message connection.
type MessageEdge struct {
	SrcBlock block.ID
	SrcPort  string
	DstBlock block.ID
	DstPort  string
}

// Topology is a flowgraph's static structure, built incrementally via
// AddBlock/ConnectStream/ConnectMessage and consumed by
// flowgraph.Flowgraph.Run to produce a running instance.
type Topology struct {
	blocks       []*block.Block
	streamEdges  []StreamEdge
	messageEdges []MessageEdge

	// connectedInputs tracks which (block, port) stream inputs already
	// have an incoming edge, to reject the second attempt synchronously.
	connectedInputs map[block.ID]map[string]bool
}

// New returns an empty Topology.
func New() *Topology {
	return &Topology{connectedInputs: map[block.ID]map[string]bool{}}
}

// AddBlock assigns b a dense ID (insertion order, starting at 0) and adds
// it to the topology.
func (t *Topology) AddBlock(b *block.Block) block.ID {
	id := block.ID(len(t.blocks))
	b.ID = id
	t.blocks = append(t.blocks, b)
	return id
}

// Block returns the block with the given id, if present.
func (t *Topology) Block(id block.ID) (*block.Block, bool) {
	if id < 0 || int(id) >= len(t.blocks) {
		return nil, false
	}
	return t.blocks[id], true
}

// Blocks returns every block added so far, in insertion order.
func (t *Topology) Blocks() []*block.Block {
	return append([]*block.Block(nil), t.blocks...)
}

func (t *Topology) lookup(id block.ID) (*block.Block, error) {
	b, ok := t.Block(id)
	if !ok {
		return nil, flowerr.InvalidBlockErr(int(id))
	}
	return b, nil
}

// ConnectStream wires srcBlock's srcPort stream output to dstBlock's
// dstPort stream input through a buffer built by builder. A nil builder
// defaults to buffer.NewCircular(DefaultStreamBufferCapacity).
//
// Validation (all synchronous, all surfaced as *flowerr.Error):
//   - both blocks must exist (InvalidBlock)
//   - srcPort must name an output of srcBlock, dstPort an input of
//     dstBlock (InvalidPort)
//   - the two ports' item sizes must match (ConnectError)
//   - dstPort must not already have an incoming connection (ConnectError)
func (t *Topology) ConnectStream(srcBlock block.ID, srcPort string, dstBlock block.ID, dstPort string, builder buffer.Builder) error {
	src, err := t.lookup(srcBlock)
	if err != nil {
		return err
	}
	dst, err := t.lookup(dstBlock)
	if err != nil {
		return err
	}

	_, srcP, ok := src.OutputPort(srcPort)
	if !ok {
		return flowerr.InvalidPortErr(int(srcBlock), srcPort)
	}
	_, dstP, ok := dst.InputPort(dstPort)
	if !ok {
		return flowerr.InvalidPortErr(int(dstBlock), dstPort)
	}

	if srcP.ItemSize != dstP.ItemSize {
		return flowerr.New(flowerr.ConnectError,
			"item size mismatch connecting block %d:%s (size %d) to block %d:%s (size %d)",
			srcBlock, srcPort, srcP.ItemSize, dstBlock, dstPort, dstP.ItemSize)
	}

	if t.connectedInputs[dstBlock][dstPort] {
		return flowerr.New(flowerr.ConnectError,
			"block %d input %q already has an incoming connection", dstBlock, dstPort)
	}

	if builder == nil {
		builder = buffer.NewCircular(DefaultStreamBufferCapacity)
	}

	if t.connectedInputs[dstBlock] == nil {
		t.connectedInputs[dstBlock] = map[string]bool{}
	}
	t.connectedInputs[dstBlock][dstPort] = true

	t.streamEdges = append(t.streamEdges, StreamEdge{
		SrcBlock: srcBlock, SrcPort: srcPort,
		DstBlock: dstBlock, DstPort: dstPort,
		Builder: builder,
	})
	return nil
}

// ConnectMessage wires srcBlock's srcPort message output to dstBlock's
// dstPort message input. Both ports must exist and be message (not
// stream) ports.
func (t *Topology) ConnectMessage(srcBlock block.ID, srcPort string, dstBlock block.ID, dstPort string) error {
	src, err := t.lookup(srcBlock)
	if err != nil {
		return err
	}
	dst, err := t.lookup(dstBlock)
	if err != nil {
		return err
	}

	if _, ok := src.MessageOutputPort(srcPort); !ok {
		return flowerr.InvalidPortErr(int(srcBlock), srcPort)
	}
	if _, ok := dst.MessageInputPort(dstPort); !ok {
		return flowerr.InvalidPortErr(int(dstBlock), dstPort)
	}

	t.messageEdges = append(t.messageEdges, MessageEdge{
		SrcBlock: srcBlock, SrcPort: srcPort,
		DstBlock: dstBlock, DstPort: dstPort,
	})
	return nil
}

// StreamEdges returns every validated stream edge, in connection order.
func (t *Topology) StreamEdges() []StreamEdge {
	return append([]StreamEdge(nil), t.streamEdges...)
}

// MessageEdges returns every validated message edge, in connection order.
func (t *Topology) MessageEdges() []MessageEdge {
	return append([]MessageEdge(nil), t.messageEdges...)
}

// StreamEdgesFrom returns the stream edges whose source is blockID,
// srcPort (there may be more than one: a stream output can fan out to
// several readers of the same buffer in the executor, but topologically
// each ConnectStream call creates its own edge/buffer instance).
func (t *Topology) StreamEdgesFrom(blockID block.ID, srcPort string) []StreamEdge {
	var out []StreamEdge
	for _, e := range t.streamEdges {
		if e.SrcBlock == blockID && e.SrcPort == srcPort {
			out = append(out, e)
		}
	}
	return out
}

// StreamEdgeTo returns the single stream edge feeding blockID's dstPort,
// if any.
func (t *Topology) StreamEdgeTo(blockID block.ID, dstPort string) (StreamEdge, bool) {
	for _, e := range t.streamEdges {
		if e.DstBlock == blockID && e.DstPort == dstPort {
			return e, true
		}
	}
	return StreamEdge{}, false
}

// MessageEdgesFrom returns the message edges whose source is
// blockID,srcPort.
func (t *Topology) MessageEdgesFrom(blockID block.ID, srcPort string) []MessageEdge {
	var out []MessageEdge
	for _, e := range t.messageEdges {
		if e.SrcBlock == blockID && e.SrcPort == srcPort {
			out = append(out, e)
		}
	}
	return out
}

func (t *Topology) String() string {
	return fmt.Sprintf("Topology{blocks=%d, streamEdges=%d, messageEdges=%d}", len(t.blocks), len(t.streamEdges), len(t.messageEdges))
}
