package flowgraph_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.fsdr.dev/flowgraph"
	"go.fsdr.dev/flowgraph/block"
	"go.fsdr.dev/flowgraph/internal/testkernels"
	"go.fsdr.dev/flowgraph/pmt"
	"go.fsdr.dev/flowgraph/tag"
)

func newTestGraph(t *testing.T) *flowgraph.Flowgraph {
	t.Helper()
	cfg := flowgraph.DefaultConfig()
	cfg.Logging.Level = -1 // zapcore.DebugLevel, cheap to leave verbose in tests
	fg, err := flowgraph.New(cfg)
	require.NoError(t, err)
	return fg
}

// S1 (passthrough): source [1,2,3,4] -> passthrough -> sink yields [1,2,3,4].
func TestPassthrough(t *testing.T) {
	fg := newTestGraph(t)

	src := testkernels.NewSource([]float32{1, 2, 3, 4})
	pass := testkernels.NewPassthrough(testkernels.F32Size)
	sink := testkernels.NewVectorSink()

	srcID := fg.AddBlock(block.New("source", src, block.WithStreamOutput("out", testkernels.F32Size)))
	passID := fg.AddBlock(block.New("passthrough", pass,
		block.WithStreamInput("in", testkernels.F32Size),
		block.WithStreamOutput("out", testkernels.F32Size)))
	sinkID := fg.AddBlock(block.New("sink", sink, block.WithStreamInput("in", testkernels.F32Size)))

	require.NoError(t, fg.ConnectStream(srcID, "out", passID, "in", nil))
	require.NoError(t, fg.ConnectStream(passID, "out", sinkID, "in", nil))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := fg.Run(ctx)
	require.NoError(t, err)
	require.NoError(t, h.Wait())

	assert.Equal(t, []float32{1, 2, 3, 4}, sink.Items())

	desc := h.Description()
	for _, b := range desc.Blocks {
		assert.Equal(t, "Terminated", b.State, "block %s", b.TypeName)
	}
}

// S2 (fan-out): source [1,2,3] into two independent sinks via the same
// output both observe [1,2,3].
func TestFanOut(t *testing.T) {
	fg := newTestGraph(t)

	src := testkernels.NewSource([]float32{1, 2, 3})
	sinkA := testkernels.NewVectorSink()
	sinkB := testkernels.NewVectorSink()

	srcID := fg.AddBlock(block.New("source", src, block.WithStreamOutput("out", testkernels.F32Size)))
	sinkAID := fg.AddBlock(block.New("sinkA", sinkA, block.WithStreamInput("in", testkernels.F32Size)))
	sinkBID := fg.AddBlock(block.New("sinkB", sinkB, block.WithStreamInput("in", testkernels.F32Size)))

	require.NoError(t, fg.ConnectStream(srcID, "out", sinkAID, "in", nil))
	require.NoError(t, fg.ConnectStream(srcID, "out", sinkBID, "in", nil))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := fg.Run(ctx)
	require.NoError(t, err)
	require.NoError(t, h.Wait())

	assert.Equal(t, []float32{1, 2, 3}, sinkA.Items())
	assert.Equal(t, []float32{1, 2, 3}, sinkB.Items())
}

// S3 (tag propagation): source emits 10 items tagged Id(42) at index 4; a
// 1:1 passthrough yields an output item at offset 4 carrying the same tag.
func TestTagPropagation(t *testing.T) {
	fg := newTestGraph(t)

	items := make([]float32, 10)
	for i := range items {
		items[i] = float32(i)
	}
	src := testkernels.NewTaggedSource(items, 4, tag.ID(42))
	pass := testkernels.NewPassthrough(testkernels.F32Size)
	sink := testkernels.NewVectorSink()

	srcID := fg.AddBlock(block.New("source", src, block.WithStreamOutput("out", testkernels.F32Size)))
	passID := fg.AddBlock(block.New("passthrough", pass,
		block.WithStreamInput("in", testkernels.F32Size),
		block.WithStreamOutput("out", testkernels.F32Size)))
	sinkID := fg.AddBlock(block.New("sink", sink, block.WithStreamInput("in", testkernels.F32Size)))

	require.NoError(t, fg.ConnectStream(srcID, "out", passID, "in", nil))
	require.NoError(t, fg.ConnectStream(passID, "out", sinkID, "in", nil))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := fg.Run(ctx)
	require.NoError(t, err)
	require.NoError(t, h.Wait())

	assert.Equal(t, items, sink.Items())

	tags := sink.Tags()
	require.Len(t, tags, 1)
	assert.Equal(t, 4, tags[0].Index)
	id, ok := tags[0].Tag.ID()
	require.True(t, ok)
	assert.Equal(t, uint64(42), id)
}

// S4 (message callback): a handler echo(x) = x returns the same Pmt it
// was called with.
func TestMessageCallback(t *testing.T) {
	fg := newTestGraph(t)

	echo := testkernels.Echo{}
	id := fg.AddBlock(block.New("echo", echo, block.WithMessageInput("echo", block.MessageCallback, echo.Handle)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := fg.Run(ctx)
	require.NoError(t, err)
	defer h.TerminateAndWait()

	reply, err := h.Callback(ctx, id, "echo", pmt.String("hi"))
	require.NoError(t, err)
	s, ok := reply.AsString()
	require.True(t, ok)
	assert.Equal(t, "hi", s)
}

// S5 (termination): a long-running source is stopped partway through via
// TerminateAndWait; the sink's collected items are always some prefix of
// the full sequence, never more, never out of order.
func TestTerminationYieldsAPrefix(t *testing.T) {
	fg := newTestGraph(t)

	items := make([]float32, 1000)
	for i := range items {
		items[i] = float32(i)
	}
	src := testkernels.NewSource(items)
	sink := testkernels.NewVectorSink()

	srcID := fg.AddBlock(block.New("source", src, block.WithStreamOutput("out", testkernels.F32Size)))
	sinkID := fg.AddBlock(block.New("sink", sink, block.WithStreamInput("in", testkernels.F32Size)))
	require.NoError(t, fg.ConnectStream(srcID, "out", sinkID, "in", nil))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := fg.Run(ctx)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, h.TerminateAndWait())

	got := sink.Items()
	require.LessOrEqual(t, len(got), len(items))
	assert.Equal(t, items[:len(got)], got)
}

// S6 (invalid edge): connecting a stream output of item size 4 to a
// stream input of item size 8 returns ConnectError synchronously.
func TestConnectStreamItemSizeMismatch(t *testing.T) {
	fg := newTestGraph(t)

	srcID := fg.AddBlock(block.New("source", testkernels.NewSource(nil), block.WithStreamOutput("out", 4)))
	dstID := fg.AddBlock(block.New("sink", testkernels.NewVectorSink(), block.WithStreamInput("in", 8)))

	err := fg.ConnectStream(srcID, "out", dstID, "in", nil)
	require.Error(t, err)
}

// Message edges wired through the topology (block-to-block, not just
// Handle-to-block) route a block's ctx.Send call to its declared
// destination via Executor.BindMessageOutput.
func TestMessageEdgeBlockToBlock(t *testing.T) {
	fg := newTestGraph(t)

	relay := testkernels.NewRelay("out")
	echo := testkernels.Echo{}

	relayID := fg.AddBlock(block.New("relay", relay,
		block.WithMessageInput("in", block.MessageCall, relay.Handle),
		block.WithMessageOutput("out")))
	echoID := fg.AddBlock(block.New("echo", echo, block.WithMessageInput("echo", block.MessageCall, echo.Handle)))

	require.NoError(t, fg.ConnectMessage(relayID, "out", echoID, "echo"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := fg.Run(ctx)
	require.NoError(t, err)
	defer h.TerminateAndWait()

	require.NoError(t, h.Call(ctx, relayID, "in", pmt.String("hop")))
}

// A kernel Work error only fails the one block that raised it (per
// SPEC_FULL.md §7): an unrelated pipeline elsewhere in the same
// flowgraph keeps running to completion, and the failing block's cause
// shows up in its BlockDescription.
func TestBlockFailureIsolation(t *testing.T) {
	fg := newTestGraph(t)

	failSrc := testkernels.NewSource([]float32{1})
	boom := errors.New("boom")
	failing := testkernels.NewFailing(boom)

	failSrcID := fg.AddBlock(block.New("fail-source", failSrc, block.WithStreamOutput("out", testkernels.F32Size)))
	failingID := fg.AddBlock(block.New("failing", failing, block.WithStreamInput("in", testkernels.F32Size)))
	require.NoError(t, fg.ConnectStream(failSrcID, "out", failingID, "in", nil))

	okSrc := testkernels.NewSource([]float32{1, 2, 3, 4})
	okSink := testkernels.NewVectorSink()
	okSrcID := fg.AddBlock(block.New("ok-source", okSrc, block.WithStreamOutput("out", testkernels.F32Size)))
	okSinkID := fg.AddBlock(block.New("ok-sink", okSink, block.WithStreamInput("in", testkernels.F32Size)))
	require.NoError(t, fg.ConnectStream(okSrcID, "out", okSinkID, "in", nil))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := fg.Run(ctx)
	require.NoError(t, err)
	require.NoError(t, h.Wait())

	assert.Equal(t, []float32{1, 2, 3, 4}, okSink.Items())

	desc, ok := h.BlockDescription(failingID)
	require.True(t, ok)
	assert.Equal(t, "Error", desc.State)
	assert.Contains(t, desc.Error, "boom")
}

func TestCooperativeScheduler(t *testing.T) {
	cfg := flowgraph.DefaultConfig()
	cfg.Scheduler = flowgraph.SchedulerCooperative
	fg, err := flowgraph.New(cfg)
	require.NoError(t, err)

	src := testkernels.NewSource([]float32{1, 2, 3, 4})
	sink := testkernels.NewVectorSink()

	srcID := fg.AddBlock(block.New("source", src, block.WithStreamOutput("out", testkernels.F32Size)))
	sinkID := fg.AddBlock(block.New("sink", sink, block.WithStreamInput("in", testkernels.F32Size)))
	require.NoError(t, fg.ConnectStream(srcID, "out", sinkID, "in", nil))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := fg.Run(ctx)
	require.NoError(t, err)
	require.NoError(t, h.Wait())

	assert.Equal(t, []float32{1, 2, 3, 4}, sink.Items())
}
