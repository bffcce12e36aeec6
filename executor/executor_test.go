package executor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.fsdr.dev/flowgraph/block"
	"go.fsdr.dev/flowgraph/buffer"
	"go.fsdr.dev/flowgraph/executor"
	"go.fsdr.dev/flowgraph/internal/logging"
	"go.fsdr.dev/flowgraph/internal/testkernels"
	"go.fsdr.dev/flowgraph/tag"
)

// wireDirect connects src's single output directly to dst's single input
// with a small circular buffer and a shared tag stream, bypassing
// topology/flowgraph entirely — for executor-level tests that only care
// about the acquire/work/commit/propagate cycle.
func wireDirect(t *testing.T, src, dst *executor.Executor, itemSize int) {
	t.Helper()
	w, err := buffer.NewCircular(4 * datasize.KB).Build(itemSize, src.WakeNotifier())
	require.NoError(t, err)
	ts := tag.NewStream()
	src.BindOutput(0, w, ts)

	r := w.NewReader(dst.WakeNotifier())
	tr := ts.NewReader()
	dst.BindInput(0, r, tr)
}

func TestExecutorRunPassthrough(t *testing.T) {
	items := []float32{1, 2, 3, 4, 5}
	src := testkernels.NewSource(items)
	sink := testkernels.NewVectorSink()

	srcBlock := block.New("source", src, block.WithStreamOutput("out", testkernels.F32Size))
	sinkBlock := block.New("sink", sink, block.WithStreamInput("in", testkernels.F32Size))

	log := logging.Nop()
	srcExec := executor.New(srcBlock, log)
	sinkExec := executor.New(sinkBlock, log)
	wireDirect(t, srcExec, sinkExec, testkernels.F32Size)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 2)
	go func() { done <- srcExec.Run(ctx) }()
	go func() { done <- sinkExec.Run(ctx) }()

	srcExec.SendCommand(executor.CommandStart)
	sinkExec.SendCommand(executor.CommandStart)

	for i := 0; i < 2; i++ {
		require.NoError(t, <-done)
	}
	assert.Equal(t, items, sink.Items())
}

func TestExecutorPollIsNonBlocking(t *testing.T) {
	src := testkernels.NewSource([]float32{1, 2, 3})
	sink := testkernels.NewVectorSink()

	srcBlock := block.New("source", src, block.WithStreamOutput("out", testkernels.F32Size))
	sinkBlock := block.New("sink", sink, block.WithStreamInput("in", testkernels.F32Size))

	log := logging.Nop()
	srcExec := executor.New(srcBlock, log)
	sinkExec := executor.New(sinkBlock, log)
	wireDirect(t, srcExec, sinkExec, testkernels.F32Size)

	ctx := context.Background()
	srcExec.SendCommand(executor.CommandStart)
	sinkExec.SendCommand(executor.CommandStart)

	deadline := time.Now().Add(2 * time.Second)
	srcDone, sinkDone := false, false
	for !srcDone || !sinkDone {
		if time.Now().After(deadline) {
			t.Fatal("poll loop did not converge")
		}
		if !srcDone {
			_, terminated, err := srcExec.Poll(ctx)
			require.NoError(t, err)
			srcDone = terminated
		}
		if !sinkDone {
			_, terminated, err := sinkExec.Poll(ctx)
			require.NoError(t, err)
			sinkDone = terminated
		}
	}

	assert.Equal(t, []float32{1, 2, 3}, sink.Items())
}

// A kernel Work error must move the block to StateError without Run
// itself returning an error, so the supervisor's errgroup sees this
// executor exit cleanly and never cancels its siblings.
func TestExecutorRunKernelErrorIsolated(t *testing.T) {
	boom := errors.New("boom")
	failing := testkernels.NewFailing(boom)
	failingBlock := block.New("failing", failing, block.WithStreamInput("in", testkernels.F32Size))

	log := logging.Nop()
	exec := executor.New(failingBlock, log)

	w, err := buffer.NewCircular(4 * datasize.KB).Build(testkernels.F32Size, func() {})
	require.NoError(t, err)
	r := w.NewReader(exec.WakeNotifier())
	exec.BindInput(0, r, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- exec.Run(ctx) }()
	exec.SendCommand(executor.CommandStart)

	require.NoError(t, <-done)
	assert.Equal(t, block.StateError, failingBlock.State())
	assert.ErrorContains(t, failingBlock.Err(), "boom")
}
