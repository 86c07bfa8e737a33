package link

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/flightlink/pkg/cmdset"
	"github.com/robotalks/flightlink/pkg/frame"
	"github.com/robotalks/flightlink/pkg/link/linktest"
)

const barrierPipeline = 0xff

type results chan Result

func newResults() results {
	return make(results, 16)
}

func (r results) cb(res Result) {
	r <- res
}

func (r results) next(t *testing.T) Result {
	t.Helper()
	select {
	case res := <-r:
		return res
	case <-time.After(time.Second):
		t.Fatal("no completion")
	}
	return Result{}
}

func (r results) none(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case res := <-r:
		t.Fatalf("unexpected completion %v", res)
	case <-time.After(d):
	}
}

type dispatcherTestEnv struct {
	t       *testing.T
	tr      *linktest.Transport
	d       *Dispatcher
	barrier *Pipeline
	cancel  func()
	runErr  chan error
}

func newDispatcherTestEnv(t *testing.T) *dispatcherTestEnv {
	e := &dispatcherTestEnv{t: t, tr: linktest.New(), runErr: make(chan error, 1)}
	e.d = NewDispatcher(e.tr, nil)
	barrier, err := e.d.Pipelines().Create(barrierPipeline, 1)
	require.NoError(t, err)
	e.barrier = barrier
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	go func() {
		e.runErr <- e.d.Run(ctx)
	}()
	return e
}

func (e *dispatcherTestEnv) stop() {
	e.cancel()
	select {
	case <-e.runErr:
	case <-time.After(time.Second):
		e.t.Fatal("Run not stopped")
	}
}

// sync waits until the receive loop processed everything injected so far.
func (e *dispatcherTestEnv) sync() {
	e.t.Helper()
	e.tr.Inject(linktest.Push(e.t, e.barrier.Cmd()))
	select {
	case <-e.barrier.Recv():
	case <-time.After(time.Second):
		e.t.Fatal("receive loop stuck")
	}
}

func TestSendAsyncSuccess(t *testing.T) {
	e := newDispatcherTestEnv(t)
	defer e.stop()
	r := newResults()

	e.d.SendAsync(cmdset.MFIOInit, []byte{1, 2, 3}, 0, 2, r.cb)
	req := e.tr.Next(t)
	require.Equal(t, cmdset.MFIOInit, req.Cmd)
	require.Equal(t, frame.SessionAck, req.Session)
	require.False(t, req.Ack)
	require.True(t, req.Seq.IsValid())
	require.Equal(t, []byte{1, 2, 3}, req.Payload)
	require.Equal(t, 1, e.d.Outstanding())

	e.tr.Inject(linktest.Ack(t, req, 0))
	res := r.next(t)
	require.Equal(t, Success, res.Code)
	require.NoError(t, res.Err)
	require.Equal(t, []byte{0}, res.Data)
	require.Equal(t, 0, e.d.Outstanding())

	// duplicate ack
	e.tr.Inject(linktest.Ack(t, req, 0))
	e.sync()
	r.none(t, 20*time.Millisecond)
	stats := e.d.Stats()
	require.Equal(t, int64(1), stats.Sent)
	require.Equal(t, int64(1), stats.Acks)
	require.Equal(t, int64(1), stats.UnmatchedAcks)
}

func TestSendAsyncTimeout(t *testing.T) {
	e := newDispatcherTestEnv(t)
	defer e.stop()
	r := newResults()

	e.d.SendAsync(cmdset.MFIOSet, []byte{2, 1, 0, 0, 0}, 20*time.Millisecond, 3, r.cb)
	first := e.tr.Next(t)
	for i := 1; i < 3; i++ {
		again := e.tr.Next(t)
		require.Equal(t, first, again)
	}
	res := r.next(t)
	require.Equal(t, Timeout, res.Code)
	require.Equal(t, Timeout, CodeOf(res.Err))
	require.True(t, errors.Is(res.Err, ErrAttemptsExhausted))
	require.Equal(t, 0, e.d.Outstanding())
	e.tr.NoMore(t, 50*time.Millisecond)

	// late ack
	e.tr.Inject(linktest.Ack(t, first, 0))
	e.sync()
	r.none(t, 20*time.Millisecond)

	stats := e.d.Stats()
	require.Equal(t, int64(3), stats.Sent)
	require.Equal(t, int64(2), stats.Retransmits)
	require.Equal(t, int64(1), stats.Timeouts)
	require.Equal(t, int64(1), stats.UnmatchedAcks)
	require.Zero(t, stats.Acks)
}

func TestSendAsyncAckAfterRetransmit(t *testing.T) {
	e := newDispatcherTestEnv(t)
	defer e.stop()
	r := newResults()

	e.d.SendAsync(cmdset.MFIOGet, []byte{4}, 30*time.Millisecond, 2, r.cb)
	first := e.tr.Next(t)
	second := e.tr.Next(t)
	require.Equal(t, first.Seq, second.Seq)
	e.tr.Inject(linktest.Ack(t, second, 0, 0x10, 0, 0, 0))
	res := r.next(t)
	require.Equal(t, Success, res.Code)
	require.Equal(t, []byte{0, 0x10, 0, 0, 0}, res.Data)
	r.none(t, 60*time.Millisecond)
}

// throttledTransport delays every write, and holds pipeline writes until
// the gate is closed.
type throttledTransport struct {
	*linktest.Transport
	delay time.Duration
	gate  chan struct{}

	lock   sync.Mutex
	writes []time.Time
}

func (tr *throttledTransport) WriteFrame(b []byte) error {
	if tr.gate != nil && len(b) > 6 && b[6] == cmdset.SetPipeline {
		<-tr.gate
	}
	time.Sleep(tr.delay)
	tr.lock.Lock()
	tr.writes = append(tr.writes, time.Now())
	tr.lock.Unlock()
	return tr.Transport.WriteFrame(b)
}

func (tr *throttledTransport) writeTimes() []time.Time {
	tr.lock.Lock()
	defer tr.lock.Unlock()
	return append([]time.Time(nil), tr.writes...)
}

func runDispatcher(tr FrameReadWriter) (*Dispatcher, func()) {
	d := NewDispatcher(tr, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	return d, cancel
}

func TestSendAsyncSlowWriter(t *testing.T) {
	tr := &throttledTransport{Transport: linktest.New(), delay: 60 * time.Millisecond}
	d, cancel := runDispatcher(tr)
	defer cancel()
	r := newResults()

	start := time.Now()
	d.SendAsync(cmdset.MFIOSet, []byte{2, 1, 0, 0, 0}, 20*time.Millisecond, 3, r.cb)
	res := r.next(t)
	done := time.Now()
	require.Equal(t, Timeout, res.Code)

	writes := tr.writeTimes()
	require.Len(t, writes, 3)
	// every attempt waits its full window after the write completes.
	for i := 1; i < len(writes); i++ {
		require.True(t, writes[i].Sub(writes[i-1]) >= 80*time.Millisecond, "attempt %d", i)
	}
	require.True(t, done.Sub(writes[2]) >= 20*time.Millisecond)
	require.True(t, done.Sub(start) >= 3*80*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	require.Len(t, tr.writeTimes(), 3)
	stats := d.Stats()
	require.Equal(t, int64(3), stats.Sent)
	require.Equal(t, int64(2), stats.Retransmits)
	require.Equal(t, int64(1), stats.Timeouts)
}

func TestRetransmitSkippedAfterCompletion(t *testing.T) {
	tr := &throttledTransport{Transport: linktest.New(), gate: make(chan struct{})}
	d, cancel := runDispatcher(tr)
	defer cancel()
	r := newResults()

	d.SendAsync(cmdset.MFIOSet, []byte{2, 1, 0, 0, 0}, 50*time.Millisecond, 2, r.cb)
	req := tr.Next(t)

	// hold the write lock so the retransmit queues behind it.
	directErr := make(chan error, 1)
	go func() {
		directErr <- d.SendDirect(cmdset.ID{Set: cmdset.SetPipeline, ID: 1}, []byte{9})
	}()
	time.Sleep(100 * time.Millisecond)

	tr.Inject(linktest.Ack(t, req, 0))
	require.Equal(t, Success, r.next(t).Code)
	close(tr.gate)
	require.NoError(t, <-directErr)

	f := tr.Next(t)
	require.Equal(t, cmdset.SetPipeline, f.Cmd.Set)
	tr.NoMore(t, 50*time.Millisecond)
	stats := d.Stats()
	require.Equal(t, int64(2), stats.Sent)
	require.Zero(t, stats.Retransmits)
}

func TestSendAsyncConcurrent(t *testing.T) {
	const n = 16
	e := newDispatcherTestEnv(t)
	defer e.stop()

	type completion struct {
		index int
		res   Result
	}
	done := make(chan completion, n)
	for i := 0; i < n; i++ {
		index := i
		e.d.SendAsync(cmdset.MFIOGet, []byte{byte(i)}, time.Second, 1, func(res Result) {
			done <- completion{index: index, res: res}
		})
	}
	reqs := make([]*frame.Frame, n)
	seqs := make(map[frame.Seq]bool)
	for i := 0; i < n; i++ {
		req := e.tr.Next(t)
		require.False(t, seqs[req.Seq], "duplicated seq %d", req.Seq)
		seqs[req.Seq] = true
		reqs[req.Payload[0]] = req
	}
	require.Equal(t, n, e.d.Outstanding())

	for i := n - 1; i >= 0; i-- {
		e.tr.Inject(linktest.Ack(t, reqs[i], 0, byte(i), 0, 0, 0))
	}
	seen := make(map[int]bool)
	for i := 0; i < n; i++ {
		select {
		case c := <-done:
			require.False(t, seen[c.index])
			seen[c.index] = true
			require.Equal(t, Success, c.res.Code)
			require.Equal(t, []byte{0, byte(c.index), 0, 0, 0}, c.res.Data)
		case <-time.After(time.Second):
			t.Fatalf("only %d completions", i)
		}
	}
	require.Equal(t, 0, e.d.Outstanding())
}

func TestSendAsyncTransportError(t *testing.T) {
	e := newDispatcherTestEnv(t)
	defer e.stop()
	r := newResults()

	writeErr := errors.New("port gone")
	e.tr.SetWriteErr(writeErr)
	e.d.SendAsync(cmdset.MFIOInit, []byte{1}, 20*time.Millisecond, 3, r.cb)
	res := r.next(t)
	require.Equal(t, TransportError, res.Code)
	require.True(t, errors.Is(res.Err, writeErr))
	require.Equal(t, 0, e.tr.Count())
	require.Equal(t, 0, e.d.Outstanding())
	r.none(t, 80*time.Millisecond)
	require.Zero(t, e.d.Stats().Retransmits)
	require.Zero(t, e.d.Stats().Timeouts)
}

func TestSendAsyncUnsupported(t *testing.T) {
	e := newDispatcherTestEnv(t)
	defer e.stop()

	testCases := []struct {
		name    string
		id      cmdset.ID
		payload []byte
		err     error
	}{
		{"unknown", cmdset.ID{Set: 0x7f, ID: 0x7f}, nil, ErrUnknownCommand},
		{"push", cmdset.TelemetryPush, nil, ErrNotRequest},
		{"oversize", cmdset.MFIOGet, []byte{1, 2}, frame.ErrPayloadTooLarge},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := newResults()
			e.d.SendAsync(tc.id, tc.payload, 0, 1, r.cb)
			res := r.next(t)
			require.Equal(t, UnsupportedCommand, res.Code)
			require.True(t, errors.Is(res.Err, tc.err))
		})
	}
	require.Equal(t, 0, e.tr.Count())
	require.Equal(t, 0, e.d.Outstanding())
}

func TestSendAsyncMalformedResponse(t *testing.T) {
	e := newDispatcherTestEnv(t)
	defer e.stop()
	r := newResults()

	e.d.SendAsync(cmdset.MFIOGet, []byte{1}, time.Second, 1, r.cb)
	req := e.tr.Next(t)
	e.tr.Inject(linktest.Ack(t, req, 0))
	res := r.next(t)
	require.Equal(t, MalformedResponse, res.Code)
	require.True(t, errors.Is(res.Err, ErrShortAck))
	require.Equal(t, []byte{0}, res.Data)
	require.Equal(t, 0, e.d.Outstanding())
}

func TestAckCommandMismatch(t *testing.T) {
	e := newDispatcherTestEnv(t)
	defer e.stop()
	r := newResults()

	e.d.SendAsync(cmdset.MFIOInit, []byte{1}, time.Second, 1, r.cb)
	req := e.tr.Next(t)
	wrong := *req
	wrong.Cmd = cmdset.MFIOSet
	e.tr.Inject(linktest.Ack(t, &wrong, 0))
	e.sync()
	r.none(t, 20*time.Millisecond)
	require.Equal(t, 1, e.d.Outstanding())

	e.tr.Inject(linktest.Ack(t, req, 0))
	require.Equal(t, Success, r.next(t).Code)
}

func TestDropMalformedAndUnknown(t *testing.T) {
	e := newDispatcherTestEnv(t)
	defer e.stop()

	e.tr.Inject([]byte{0x01, 0x02})
	bad := linktest.Push(t, cmdset.TelemetryPush, 1, 2)
	bad[len(bad)-1] ^= 0xff
	e.tr.Inject(bad)
	e.tr.Inject(linktest.Push(t, cmdset.ID{Set: 0x7f, ID: 0}))
	e.tr.Inject(linktest.Push(t, cmdset.MFIOInit))
	e.sync()

	stats := e.d.Stats()
	require.Equal(t, int64(2), stats.Malformed)
	require.Equal(t, int64(2), stats.Unknown)

	r := newResults()
	e.d.SendAsync(cmdset.MFIOInit, []byte{1}, time.Second, 1, r.cb)
	e.tr.Inject(linktest.Ack(t, e.tr.Next(t), 0))
	require.Equal(t, Success, r.next(t).Code)
}

func TestSendSync(t *testing.T) {
	e := newDispatcherTestEnv(t)
	defer e.stop()
	e.tr.SetResponder(func(f *frame.Frame) ([]byte, bool) {
		return []byte{0, f.Payload[0], 0, 0, 0}, true
	})

	data, err := e.d.SendSync(context.Background(), cmdset.MFIOGet, []byte{7}, time.Second)
	require.NoError(t, err)
	require.Equal(t, []byte{0, 7, 0, 0, 0}, data)
}

func TestSendSyncBackstop(t *testing.T) {
	e := newDispatcherTestEnv(t)
	defer e.stop()
	e.d.SyncGrace = 20 * time.Millisecond

	const total = 100 * time.Millisecond
	start := time.Now()
	_, err := e.d.SendSyncWith(context.Background(), cmdset.MFIOInit, []byte{1}, SyncOptions{Timeout: total, Attempts: 2})
	elapsed := time.Since(start)
	require.Error(t, err)
	require.Equal(t, Timeout, CodeOf(err))
	require.True(t, elapsed >= total-5*time.Millisecond, "returned after %s", elapsed)
	require.True(t, elapsed < total+e.d.SyncGrace+100*time.Millisecond, "returned after %s", elapsed)
	require.Equal(t, 2, e.tr.Count())
}

func TestSendSyncCanceled(t *testing.T) {
	e := newDispatcherTestEnv(t)
	defer e.stop()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := e.d.SendSync(ctx, cmdset.MFIOInit, []byte{1}, 10*time.Second)
	require.Equal(t, Timeout, CodeOf(err))
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestSendSyncUnsupported(t *testing.T) {
	d := NewDispatcher(linktest.New(), nil)
	_, err := d.SendSync(context.Background(), cmdset.ID{Set: 0x7f, ID: 1}, nil, time.Second)
	require.Equal(t, UnsupportedCommand, CodeOf(err))
}

func TestSplitTimeout(t *testing.T) {
	testCases := []struct {
		total    time.Duration
		attempts int
		expected time.Duration
	}{
		{time.Second, 2, 500 * time.Millisecond},
		{time.Second, 3, time.Second / 3},
		{time.Second, 0, time.Second},
		{time.Microsecond, 2, MinAttemptTimeout},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.expected, SplitTimeout(tc.total, tc.attempts), "%s/%d", tc.total, tc.attempts)
	}
}

func TestPushRouting(t *testing.T) {
	e := newDispatcherTestEnv(t)
	defer e.stop()

	telemetry := make(chan []byte, 4)
	mission := make(chan []byte, 4)
	e.d.Router().RegisterFunc(cmdset.CategoryTelemetry, func(ctx context.Context, cat cmdset.Category, data []byte) {
		require.Equal(t, cmdset.CategoryTelemetry, cat)
		telemetry <- data
	})
	e.d.Router().RegisterFunc(cmdset.CategoryMissionState, func(ctx context.Context, cat cmdset.Category, data []byte) {
		require.Equal(t, cmdset.CategoryMissionState, cat)
		mission <- data
	})

	e.tr.Inject(linktest.Push(t, cmdset.TelemetryPush, 1))
	e.tr.Inject(linktest.Push(t, cmdset.MissionStatePush, 2))
	e.tr.Inject(linktest.Push(t, cmdset.PayloadInfoPush, 3))
	e.sync()

	require.Len(t, telemetry, 1)
	require.Equal(t, []byte{1}, <-telemetry)
	require.Len(t, mission, 1)
	require.Equal(t, []byte{2}, <-mission)
	require.Equal(t, int64(3), e.d.Stats().Pushes)

	// last registration wins
	replaced := make(chan []byte, 4)
	e.d.Router().RegisterFunc(cmdset.CategoryTelemetry, func(ctx context.Context, cat cmdset.Category, data []byte) {
		replaced <- data
	})
	e.tr.Inject(linktest.Push(t, cmdset.TelemetryPush, 4))
	e.sync()
	require.Empty(t, telemetry)
	require.Equal(t, []byte{4}, <-replaced)

	// nil clears
	e.d.Router().Register(cmdset.CategoryTelemetry, nil)
	e.tr.Inject(linktest.Push(t, cmdset.TelemetryPush, 5))
	e.sync()
	require.Empty(t, replaced)
}

func TestPushHandlerSendsAsync(t *testing.T) {
	e := newDispatcherTestEnv(t)
	defer e.stop()
	r := newResults()

	e.d.Router().RegisterFunc(cmdset.CategoryMissionEvent, func(ctx context.Context, cat cmdset.Category, data []byte) {
		e.d.SendAsync(cmdset.MissionPause, nil, time.Second, 1, r.cb)
	})
	e.tr.Inject(linktest.Push(t, cmdset.MissionEventPush, 1))
	req := e.tr.Next(t)
	require.Equal(t, cmdset.MissionPause, req.Cmd)
	e.tr.Inject(linktest.Ack(t, req, 0))
	require.Equal(t, Success, r.next(t).Code)
}

func TestRunEndFailsPending(t *testing.T) {
	e := newDispatcherTestEnv(t)
	r := newResults()

	e.d.SendAsync(cmdset.MFIOInit, []byte{1}, 10*time.Second, 1, r.cb)
	e.tr.Next(t)
	e.tr.Close()
	res := r.next(t)
	require.Equal(t, TransportError, res.Code)
	require.True(t, errors.Is(res.Err, ErrClosed))
	select {
	case <-e.runErr:
	case <-time.After(time.Second):
		t.Fatal("Run not stopped")
	}

	e.d.SendAsync(cmdset.MFIOInit, []byte{1}, 10*time.Second, 1, r.cb)
	res = r.next(t)
	require.Equal(t, TransportError, res.Code)
	require.Equal(t, 1, e.tr.Count())

	_, ok := <-e.barrier.Recv()
	require.False(t, ok)
}

func TestSendDirect(t *testing.T) {
	e := newDispatcherTestEnv(t)
	defer e.stop()

	require.NoError(t, e.d.SendDirect(cmdset.GetVersion, []byte{9}))
	f := e.tr.Next(t)
	require.Equal(t, frame.SessionNoAck, f.Session)
	require.Equal(t, frame.Seq(0), f.Seq)
	require.Equal(t, []byte{9}, f.Payload)
	require.Equal(t, 0, e.d.Outstanding())

	err := e.d.SendDirect(cmdset.ID{Set: 0x7f, ID: 1}, nil)
	require.Equal(t, UnsupportedCommand, CodeOf(err))
	err = e.d.SendDirect(cmdset.GetVersion, make([]byte, frame.MaxPayload+1))
	require.Equal(t, UnsupportedCommand, CodeOf(err))
}

func TestPipelines(t *testing.T) {
	e := newDispatcherTestEnv(t)
	defer e.stop()

	p, err := e.d.Pipelines().Create(3, 0)
	require.NoError(t, err)
	_, err = e.d.Pipelines().Create(3, 0)
	require.Equal(t, ErrPipelineExists, err)

	require.NoError(t, p.Write([]byte("hello")))
	f := e.tr.Next(t)
	require.Equal(t, cmdset.ID{Set: cmdset.SetPipeline, ID: 3}, f.Cmd)
	require.Equal(t, []byte("hello"), f.Payload)

	e.tr.Inject(linktest.Push(t, p.Cmd(), 'h', 'i'))
	select {
	case data := <-p.Recv():
		require.Equal(t, []byte("hi"), data)
	case <-time.After(time.Second):
		t.Fatal("no pipeline data")
	}

	// data for an unknown pipeline is dropped
	e.tr.Inject(linktest.Push(t, cmdset.ID{Set: cmdset.SetPipeline, ID: 4}, 1))
	e.sync()
	require.Equal(t, int64(1), e.d.Stats().PipelineDropped)

	require.NoError(t, p.Close())
	_, ok := <-p.Recv()
	require.False(t, ok)
	require.Equal(t, ErrNoPipeline, p.Write(nil))
	require.Equal(t, ErrNoPipeline, e.d.Pipelines().Destroy(3))
}

func TestWaiter(t *testing.T) {
	w := newWaiter(cmdset.MFIOInit)
	res := w.wait(context.Background(), 10*time.Millisecond)
	require.Equal(t, Timeout, res.Code)
	require.True(t, errors.Is(res.Err, ErrNoCompletion))

	w = newWaiter(cmdset.MFIOInit)
	w.signal(succeeded([]byte{1}))
	w.signal(succeeded([]byte{2}))
	res = w.wait(context.Background(), time.Second)
	require.Equal(t, []byte{1}, res.Data)
}

func TestCodeOf(t *testing.T) {
	require.Equal(t, Success, CodeOf(nil))
	require.Equal(t, ResourceBusy, CodeOf(NewError(ResourceBusy, cmdset.MFIOInit, nil)))
	require.Equal(t, TransportError, CodeOf(errors.New("other")))
	require.Equal(t, "RESOURCE_BUSY", ResourceBusy.String())
	require.Equal(t, "command 09:02: TIMEOUT: x", NewError(Timeout, cmdset.MFIOInit, errors.New("x")).Error())
}
