// Package block implements the Block container: a user-supplied Kernel
// plus its stream/message port declarations, mailbox, and lifecycle
// state, as scheduled by the executor package.
package block

import (
	"fmt"
	"sync/atomic"

	"go.fsdr.dev/flowgraph/internal/flowerr"
	"go.fsdr.dev/flowgraph/msgport"
)

// ID is a block's identity within one topology: stable, unique, and dense
// from 0 in insertion order.
type ID int

// State is a block's lifecycle state.
type State int32

const (
	StateConstructed State = iota
	StateInitialized
	StateRunning
	StateTerminated
	StateError
)

func (s State) String() string {
	switch s {
	case StateConstructed:
		return "Constructed"
	case StateInitialized:
		return "Initialized"
	case StateRunning:
		return "Running"
	case StateTerminated:
		return "Terminated"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// MessagePortKind distinguishes fire-and-forget from request/response
// message ports.
type MessagePortKind int

const (
	MessageCall MessagePortKind = iota
	MessageCallback
)

// StreamPort describes one named, fixed-item-size stream input or output.
type StreamPort struct {
	Name     string
	ItemSize int
}

// MessagePort describes one named message input or output.
type MessagePort struct {
	Name string
	Kind MessagePortKind
}

// Block is a container: id, type name, ordered ports, a Kernel, a
// mailbox, and atomic lifecycle state. Blocks are constructed once and
// handed to a topology.Topology via AddBlock, which assigns ID.
type Block struct {
	ID       ID
	TypeName string
	Kernel   Kernel

	Inputs     []StreamPort
	Outputs    []StreamPort
	MsgInputs  []MessagePort
	MsgOutputs []MessagePort

	handlers      map[string]msgport.Handler
	mailbox       *msgport.Mailbox
	propagateTags bool

	state   atomic.Int32
	errKind error
}

// New constructs a Block around kernel, configured by opts. typeName is
// purely descriptive (used in BlockDescription and log lines).
func New(typeName string, kernel Kernel, opts ...Option) *Block {
	b := &Block{
		TypeName:      typeName,
		Kernel:        kernel,
		handlers:      map[string]msgport.Handler{},
		mailbox:       msgport.NewMailbox(16),
		propagateTags: true,
	}
	for _, o := range opts {
		o(b)
	}
	b.state.Store(int32(StateConstructed))
	return b
}

// Option configures a Block at construction time.
type Option func(*Block)

func WithStreamInput(name string, itemSize int) Option {
	return func(b *Block) { b.Inputs = append(b.Inputs, StreamPort{Name: name, ItemSize: itemSize}) }
}

func WithStreamOutput(name string, itemSize int) Option {
	return func(b *Block) { b.Outputs = append(b.Outputs, StreamPort{Name: name, ItemSize: itemSize}) }
}

// WithMessageInput declares a named message input port and registers its
// handler, per spec's "handlers are registered by name when the kernel is
// constructed."
func WithMessageInput(name string, kind MessagePortKind, handler msgport.Handler) Option {
	return func(b *Block) {
		b.MsgInputs = append(b.MsgInputs, MessagePort{Name: name, Kind: kind})
		b.handlers[name] = handler
	}
}

func WithMessageOutput(name string) Option {
	return func(b *Block) { b.MsgOutputs = append(b.MsgOutputs, MessagePort{Name: name}) }
}

// WithMailboxCapacity overrides the default bounded mailbox depth.
func WithMailboxCapacity(n int) Option {
	return func(b *Block) { b.mailbox = msgport.NewMailbox(n) }
}

// WithTagPropagation toggles the default positional tag propagator. It
// is on by default; kernels that supply their own TagPropagator
// implementation, or that want no propagation at all, can disable it.
func WithTagPropagation(enabled bool) Option {
	return func(b *Block) { b.propagateTags = enabled }
}

func (b *Block) Mailbox() *msgport.Mailbox { return b.mailbox }

func (b *Block) PropagateTagsEnabled() bool { return b.propagateTags }

func (b *Block) Handler(port string) (msgport.Handler, bool) {
	h, ok := b.handlers[port]
	return h, ok
}

func (b *Block) State() State { return State(b.state.Load()) }

// allowedTransitions encodes the lifecycle DAG: Constructed ->
// Initialized -> Running -> Terminated, with Error reachable (and
// absorbing) from any non-terminal state.
var allowedTransitions = map[State]map[State]bool{
	StateConstructed:  {StateInitialized: true, StateError: true},
	StateInitialized:  {StateRunning: true, StateError: true, StateTerminated: true},
	StateRunning:      {StateTerminated: true, StateError: true},
	StateTerminated:   {},
	StateError:        {},
}

// TransitionTo moves the block to newState, validated against the
// lifecycle DAG. Error is absorbing: once set, further transitions fail.
func (b *Block) TransitionTo(newState State) error {
	for {
		cur := State(b.state.Load())
		if cur == newState {
			return nil
		}
		if !allowedTransitions[cur][newState] {
			return flowerr.New(flowerr.RuntimeError, "block %d (%s): illegal transition %s -> %s", b.ID, b.TypeName, cur, newState)
		}
		if b.state.CompareAndSwap(int32(cur), int32(newState)) {
			return nil
		}
	}
}

// Fail forces the block into StateError, recording cause for later
// inspection via BlockDescription.
func (b *Block) Fail(cause error) {
	b.errKind = cause
	b.state.Store(int32(StateError))
}

func (b *Block) Err() error { return b.errKind }

func (b *Block) InputPort(name string) (int, StreamPort, bool) {
	for i, p := range b.Inputs {
		if p.Name == name {
			return i, p, true
		}
	}
	return -1, StreamPort{}, false
}

func (b *Block) OutputPort(name string) (int, StreamPort, bool) {
	for i, p := range b.Outputs {
		if p.Name == name {
			return i, p, true
		}
	}
	return -1, StreamPort{}, false
}

func (b *Block) MessageInputPort(name string) (MessagePort, bool) {
	for _, p := range b.MsgInputs {
		if p.Name == name {
			return p, true
		}
	}
	return MessagePort{}, false
}

func (b *Block) MessageOutputPort(name string) (MessagePort, bool) {
	for _, p := range b.MsgOutputs {
		if p.Name == name {
			return p, true
		}
	}
	return MessagePort{}, false
}

func (b *Block) String() string {
	return fmt.Sprintf("Block{id=%d, type=%s, state=%s}", b.ID, b.TypeName, b.State())
}
