// Package msgport implements the asynchronous message-port channel
// between blocks: fire-and-forget Call envelopes and request/response
// Callback envelopes, both delivered FIFO into a bounded per-block
// mailbox.
package msgport

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"go.fsdr.dev/flowgraph/internal/flowerr"
	"go.fsdr.dev/flowgraph/pmt"
)

// Handler is registered by a kernel for one named message input port. It
// returns a reply Pmt for Callback delivery; the return value is ignored
// for Call (fire-and-forget) delivery.
type Handler func(ctx context.Context, data pmt.Pmt) (pmt.Pmt, error)

// Envelope is one message traveling through a mailbox.
type Envelope struct {
	Port  string
	Data  pmt.Pmt
	Reply chan Reply // nil for Call; a 1-buffered channel for Callback
}

// Reply carries a Callback's result back to the caller.
type Reply struct {
	Value pmt.Pmt
	Err   error
}

// Mailbox is the bounded, single-reader FIFO queue backing one block's
// message inbox. A send that would block because the mailbox is full
// retries with exponential backoff, yielding to the scheduler between
// attempts, rather than blocking the caller's goroutine outright.
type Mailbox struct {
	ch chan Envelope
}

// NewMailbox creates a mailbox with the given bounded capacity.
func NewMailbox(capacity int) *Mailbox {
	if capacity <= 0 {
		capacity = 1
	}
	return &Mailbox{ch: make(chan Envelope, capacity)}
}

// C exposes the receive side for the block executor's event loop.
func (m *Mailbox) C() <-chan Envelope { return m.ch }

// Send delivers env, retrying with bounded backoff while the mailbox is
// full. It gives up once ctx is done.
func (m *Mailbox) Send(ctx context.Context, env Envelope) error {
	select {
	case m.ch <- env:
		return nil
	default:
	}

	ticker := backoff.NewTicker(&backoff.ExponentialBackOff{
		InitialInterval:     5 * time.Millisecond,
		RandomizationFactor: 0.2,
		Multiplier:          1.5,
		MaxInterval:         200 * time.Millisecond,
	})
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return flowerr.Wrap(flowerr.RuntimeError, ctx.Err(), "mailbox send to port %q timed out", env.Port)
		case m.ch <- env:
			return nil
		case <-ticker.C:
			// Woke up to retry the blocked send above; the select's
			// other cases are re-evaluated on the next loop iteration.
		}
	}
}

// Call delivers a fire-and-forget message; the destination handler runs
// but its return value (if any) is discarded.
func Call(ctx context.Context, mailbox *Mailbox, port string, data pmt.Pmt) error {
	return mailbox.Send(ctx, Envelope{Port: port, Data: data})
}

// Callback delivers a message and waits for the destination handler's
// reply. Replies for a single sender arrive in send order: the executor
// processes its mailbox FIFO, so a later Callback's reply is only ever
// produced after every earlier envelope from the same sender has been
// handled.
func Callback(ctx context.Context, mailbox *Mailbox, port string, data pmt.Pmt) (pmt.Pmt, error) {
	reply := make(chan Reply, 1)
	if err := mailbox.Send(ctx, Envelope{Port: port, Data: data, Reply: reply}); err != nil {
		return pmt.Pmt{}, err
	}

	select {
	case r := <-reply:
		return r.Value, r.Err
	case <-ctx.Done():
		return pmt.Pmt{}, flowerr.Wrap(flowerr.RuntimeError, ctx.Err(), "callback on port %q timed out", port)
	}
}
