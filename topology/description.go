package topology

import (
	"github.com/gobwas/glob"

	"go.fsdr.dev/flowgraph/block"
)

// PortDescription describes one stream port by name and item size.
type PortDescription struct {
	Name     string `yaml:"name"`
	ItemSize int    `yaml:"item_size"`
}

// BlockDescription is a point-in-time snapshot of one block, returned by
// Topology.Describe and by the running flowgraph's BlockDescription call.
type BlockDescription struct {
	ID             int               `yaml:"id"`
	TypeName       string            `yaml:"type_name"`
	State          string            `yaml:"state"`
	Error          string            `yaml:"error,omitempty"`
	Inputs         []PortDescription `yaml:"inputs,omitempty"`
	Outputs        []PortDescription `yaml:"outputs,omitempty"`
	MessageInputs  []string          `yaml:"message_inputs,omitempty"`
	MessageOutputs []string          `yaml:"message_outputs,omitempty"`
}

// StreamEdgeDescription describes one stream connection by endpoint.
type StreamEdgeDescription struct {
	SrcBlock int    `yaml:"src_block"`
	SrcPort  string `yaml:"src_port"`
	DstBlock int    `yaml:"dst_block"`
	DstPort  string `yaml:"dst_port"`
}

// MessageEdgeDescription describes one message connection by endpoint.
type MessageEdgeDescription struct {
	SrcBlock int    `yaml:"src_block"`
	SrcPort  string `yaml:"src_port"`
	DstBlock int    `yaml:"dst_block"`
	DstPort  string `yaml:"dst_port"`
}

// FlowgraphDescription is the full, serializable snapshot of a topology
// (or a running flowgraph, via Handle.Description), optionally filtered
// to a subset of blocks by type-name glob.
type FlowgraphDescription struct {
	Blocks       []BlockDescription       `yaml:"blocks"`
	StreamEdges  []StreamEdgeDescription  `yaml:"stream_edges,omitempty"`
	MessageEdges []MessageEdgeDescription `yaml:"message_edges,omitempty"`
}

// Describe snapshots the topology. When one or more globs are given, only
// blocks whose TypeName matches at least one glob (and edges where both
// endpoints survive the filter) are included — useful for inspecting one
// subsystem of a large flowgraph without the rest of the noise.
func (t *Topology) Describe(globs ...glob.Glob) FlowgraphDescription {
	keep := func(b *block.Block) bool {
		if len(globs) == 0 {
			return true
		}
		for _, g := range globs {
			if g.Match(b.TypeName) {
				return true
			}
		}
		return false
	}

	kept := map[block.ID]bool{}
	var desc FlowgraphDescription
	for _, b := range t.blocks {
		if !keep(b) {
			continue
		}
		kept[b.ID] = true
		desc.Blocks = append(desc.Blocks, describeBlock(b))
	}

	for _, e := range t.streamEdges {
		if kept[e.SrcBlock] && kept[e.DstBlock] {
			desc.StreamEdges = append(desc.StreamEdges, StreamEdgeDescription{
				SrcBlock: int(e.SrcBlock), SrcPort: e.SrcPort,
				DstBlock: int(e.DstBlock), DstPort: e.DstPort,
			})
		}
	}
	for _, e := range t.messageEdges {
		if kept[e.SrcBlock] && kept[e.DstBlock] {
			desc.MessageEdges = append(desc.MessageEdges, MessageEdgeDescription{
				SrcBlock: int(e.SrcBlock), SrcPort: e.SrcPort,
				DstBlock: int(e.DstBlock), DstPort: e.DstPort,
			})
		}
	}
	return desc
}

func describeBlock(b *block.Block) BlockDescription {
	d := BlockDescription{
		ID:       int(b.ID),
		TypeName: b.TypeName,
		State:    b.State().String(),
	}
	if b.State() == block.StateError {
		if err := b.Err(); err != nil {
			d.Error = err.Error()
		}
	}
	for _, p := range b.Inputs {
		d.Inputs = append(d.Inputs, PortDescription{Name: p.Name, ItemSize: p.ItemSize})
	}
	for _, p := range b.Outputs {
		d.Outputs = append(d.Outputs, PortDescription{Name: p.Name, ItemSize: p.ItemSize})
	}
	for _, p := range b.MsgInputs {
		d.MessageInputs = append(d.MessageInputs, p.Name)
	}
	for _, p := range b.MsgOutputs {
		d.MessageOutputs = append(d.MessageOutputs, p.Name)
	}
	return d
}

// DescribeBlock snapshots a single block by id.
func (t *Topology) DescribeBlock(id block.ID) (BlockDescription, bool) {
	b, ok := t.Block(id)
	if !ok {
		return BlockDescription{}, false
	}
	return describeBlock(b), true
}
