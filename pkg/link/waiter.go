package link

import (
	"context"
	"time"

	"github.com/robotalks/flightlink/pkg/cmdset"
)

// waiter turns an async completion into a blocking wait.
type waiter struct {
	cmd    cmdset.ID
	result chan Result
}

func newWaiter(cmd cmdset.ID) *waiter {
	return &waiter{cmd: cmd, result: make(chan Result, 1)}
}

// signal never blocks, only the first result is kept.
func (w *waiter) signal(r Result) {
	select {
	case w.result <- r:
	default:
	}
}

// wait blocks until signaled, ctx is done or backstop elapses.
func (w *waiter) wait(ctx context.Context, backstop time.Duration) Result {
	timer := time.NewTimer(backstop)
	defer timer.Stop()
	select {
	case r := <-w.result:
		return r
	case <-timer.C:
		return failed(Timeout, w.cmd, ErrNoCompletion)
	case <-ctx.Done():
		return failed(Timeout, w.cmd, ctx.Err())
	}
}
