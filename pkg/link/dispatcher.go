package link

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/flightlink/pkg/cmdset"
	fx "github.com/robotalks/flightlink/pkg/framework"
	"github.com/robotalks/flightlink/pkg/frame"
)

// DefaultSyncGrace is added to the total timeout of a synchronous call
// as the deadline of the blocking wait.
const DefaultSyncGrace = 50 * time.Millisecond

// MinAttemptTimeout is the lower bound of a subdivided attempt timeout.
const MinAttemptTimeout = time.Millisecond

// Sender is the send contract used by payload modules.
type Sender interface {
	SendAsync(id cmdset.ID, payload []byte, timeout time.Duration, attempts int, cb Callback)
	SendSync(ctx context.Context, id cmdset.ID, payload []byte, timeout time.Duration) ([]byte, error)
	SendSyncWith(ctx context.Context, id cmdset.ID, payload []byte, opts SyncOptions) ([]byte, error)
	SendDirect(id cmdset.ID, payload []byte) error
}

// SyncOptions customizes a synchronous call.
type SyncOptions struct {
	// Timeout is the total timeout spanning all attempts.
	// Zero means the command default per-attempt timeout times Attempts.
	Timeout time.Duration
	// Attempts is the number of transmissions.
	// Zero means the command default.
	Attempts int
}

// SplitTimeout subdivides the total timeout of a synchronous call into
// per-attempt timeouts.
func SplitTimeout(total time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	perAttempt := total / time.Duration(attempts)
	if perAttempt < MinAttemptTimeout {
		perAttempt = MinAttemptTimeout
	}
	return perAttempt
}

// Dispatcher correlates requests and acks over a FrameReadWriter and
// routes pushes.
type Dispatcher struct {
	ReadWriter FrameReadWriter
	Registry   *cmdset.Registry
	SyncGrace  time.Duration

	router    Router
	pipelines Pipelines
	stats     *counters

	lock    sync.Mutex
	pending pendingTable
	closed  error

	writeLock sync.Mutex
}

// NewDispatcher creates a Dispatcher. A nil registry uses the default
// command table.
func NewDispatcher(rw FrameReadWriter, reg *cmdset.Registry) *Dispatcher {
	if reg == nil {
		reg = cmdset.NewDefaultRegistry()
	}
	d := &Dispatcher{
		ReadWriter: rw,
		Registry:   reg,
		SyncGrace:  DefaultSyncGrace,
		stats:      &counters{},
		pending:    newPendingTable(),
	}
	d.pipelines.d = d
	return d
}

// Router returns the push router.
func (d *Dispatcher) Router() *Router {
	return &d.router
}

// Pipelines returns the pipeline manager.
func (d *Dispatcher) Pipelines() *Pipelines {
	return &d.pipelines
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() Stats {
	return d.stats.snapshot()
}

// Outstanding returns the number of pending requests.
func (d *Dispatcher) Outstanding() int {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.pending.len()
}

// SendAsync sends a request and returns immediately. cb is invoked exactly
// once with the completion. timeout is per attempt, zero uses the command
// default. attempts is the number of transmissions, at least one.
func (d *Dispatcher) SendAsync(id cmdset.ID, payload []byte, timeout time.Duration, attempts int, cb Callback) {
	spec, err := d.requestSpec(id, payload)
	if err != nil {
		if cb != nil {
			cb(failed(UnsupportedCommand, id, err))
		}
		return
	}
	if timeout <= 0 {
		timeout = spec.Timeout
	}
	if timeout <= 0 {
		timeout = cmdset.DefaultTimeout
	}
	if attempts < 1 {
		attempts = 1
	}

	p := &pendingRequest{
		cmd:      id,
		ackSize:  spec.AckSize,
		timeout:  timeout,
		attempts: attempts,
		cb:       cb,
	}

	d.lock.Lock()
	if d.closed != nil {
		cause := d.closed
		d.lock.Unlock()
		d.stats.inc(&d.stats.s.TransportErrors)
		p.notify(failed(TransportError, id, cause))
		return
	}
	seq, ok := d.pending.nextSeq()
	if !ok {
		d.lock.Unlock()
		p.notify(failed(ResourceBusy, id, ErrNoSequence))
		return
	}
	p.seq = seq
	// payload size is already validated.
	p.encoded, _ = frame.Encode(id, seq, frame.SessionAck, payload)
	d.pending.add(p)
	d.lock.Unlock()

	glog.V(2).Infof("send %s seq=%d attempts=%d timeout=%s", spec.Name, seq, attempts, timeout)
	d.transmit(p, false)
}

// SendSync sends a request and blocks until completion. timeout spans all
// attempts of the command default.
func (d *Dispatcher) SendSync(ctx context.Context, id cmdset.ID, payload []byte, timeout time.Duration) ([]byte, error) {
	return d.SendSyncWith(ctx, id, payload, SyncOptions{Timeout: timeout})
}

// SendSyncWith is SendSync with options.
// The total timeout is split evenly across attempts (see SplitTimeout), and
// the wait gives up after the total timeout plus SyncGrace even if the
// completion never arrives. A canceled ctx reports Timeout.
func (d *Dispatcher) SendSyncWith(ctx context.Context, id cmdset.ID, payload []byte, opts SyncOptions) ([]byte, error) {
	attempts, total := opts.Attempts, opts.Timeout
	if spec, ok := d.Registry.Lookup(id); ok {
		if attempts <= 0 {
			attempts = spec.Attempts
		}
		if total <= 0 {
			total = spec.Timeout * time.Duration(max(attempts, 1))
		}
	}
	if attempts <= 0 {
		attempts = cmdset.DefaultAttempts
	}
	if total <= 0 {
		total = cmdset.DefaultTimeout * time.Duration(attempts)
	}

	w := newWaiter(id)
	d.SendAsync(id, payload, SplitTimeout(total, attempts), attempts, w.signal)
	r := w.wait(ctx, total+d.SyncGrace)
	return r.Data, r.Err
}

// SendDirect sends a frame expecting no ack.
func (d *Dispatcher) SendDirect(id cmdset.ID, payload []byte) error {
	if id.Set != cmdset.SetPipeline {
		if _, ok := d.Registry.Lookup(id); !ok {
			return NewError(UnsupportedCommand, id, ErrUnknownCommand)
		}
	}
	d.lock.Lock()
	closed := d.closed
	d.lock.Unlock()
	if closed != nil {
		return NewError(TransportError, id, closed)
	}
	encoded, err := frame.Encode(id, 0, frame.SessionNoAck, payload)
	if err != nil {
		return NewError(UnsupportedCommand, id, err)
	}
	if err := d.write(encoded); err != nil {
		d.stats.inc(&d.stats.s.TransportErrors)
		return NewError(TransportError, id, err)
	}
	d.stats.inc(&d.stats.s.Sent)
	return nil
}

// HandleFrame classifies an inbound frame: an ack completes the matching
// request, a push goes to the Router and pipeline data to its Pipeline.
// Anything else is dropped.
func (d *Dispatcher) HandleFrame(ctx context.Context, raw []byte) {
	f, err := frame.Decode(raw)
	if err != nil {
		d.stats.inc(&d.stats.s.Malformed)
		glog.V(2).Infof("drop malformed frame: %v", err)
		return
	}
	if f.Ack {
		d.handleAck(f)
		return
	}
	if f.Cmd.Set == cmdset.SetPipeline {
		if d.pipelines.deliver(f.Cmd.ID, f.Payload) {
			d.stats.inc(&d.stats.s.PipelineFrames)
		} else {
			d.stats.inc(&d.stats.s.PipelineDropped)
		}
		return
	}
	spec, ok := d.Registry.Lookup(f.Cmd)
	if !ok || spec.Kind != cmdset.KindPush {
		d.stats.inc(&d.stats.s.Unknown)
		glog.V(2).Infof("drop unknown frame %s", f)
		return
	}
	d.stats.inc(&d.stats.s.Pushes)
	if !d.router.Dispatch(ctx, spec.Category, f.Payload) {
		glog.V(3).Infof("no subscriber for %s", spec.Category)
	}
}

// Run reads frames until the ReadWriter fails or ctx is done. Pending
// requests are failed with TransportError when Run returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.lock.Lock()
	d.closed = nil
	d.lock.Unlock()

	var err error
	if closer, ok := d.ReadWriter.(io.Closer); ok {
		err = fx.RunWithContextCloser(ctx, closer, func() error {
			return d.readLoop(ctx)
		})
	} else {
		err = d.readLoop(ctx)
	}
	d.shutdown(err)
	return err
}

func (d *Dispatcher) readLoop(ctx context.Context) error {
	for {
		raw, err := d.ReadWriter.ReadFrame()
		if err != nil {
			return err
		}
		d.HandleFrame(ctx, raw)
	}
}

func (d *Dispatcher) shutdown(cause error) {
	if cause == nil || cause == io.EOF {
		cause = ErrClosed
	}
	d.lock.Lock()
	d.closed = cause
	reqs := d.pending.drain()
	for _, p := range reqs {
		p.finish()
	}
	d.lock.Unlock()
	if len(reqs) > 0 {
		glog.Warningf("link closed with %d pending requests: %v", len(reqs), cause)
	}
	for _, p := range reqs {
		d.stats.inc(&d.stats.s.TransportErrors)
		p.notify(failed(TransportError, p.cmd, cause))
	}
	d.pipelines.destroyAll()
}

func (d *Dispatcher) requestSpec(id cmdset.ID, payload []byte) (spec cmdset.Spec, err error) {
	spec, ok := d.Registry.Lookup(id)
	if !ok {
		return spec, ErrUnknownCommand
	}
	if spec.Kind != cmdset.KindRequest {
		return spec, ErrNotRequest
	}
	if len(payload) > frame.MaxPayload || (spec.MaxPayload > 0 && len(payload) > spec.MaxPayload) {
		return spec, frame.ErrPayloadTooLarge
	}
	return spec, nil
}

func (d *Dispatcher) handleAck(f *frame.Frame) {
	d.lock.Lock()
	p := d.pending.get(f.Seq)
	if p == nil || p.cmd != f.Cmd || !p.finish() {
		d.lock.Unlock()
		d.stats.inc(&d.stats.s.UnmatchedAcks)
		glog.V(2).Infof("drop unmatched ack %s", f)
		return
	}
	d.pending.remove(p)
	d.lock.Unlock()

	d.stats.inc(&d.stats.s.Acks)
	glog.V(2).Infof("ack %s seq=%d len=%d", f.Cmd, f.Seq, len(f.Payload))
	if len(f.Payload) < p.ackSize {
		r := failed(MalformedResponse, p.cmd, ErrShortAck)
		r.Data = f.Payload
		d.stats.inc(&d.stats.s.Malformed)
		p.notify(r)
		return
	}
	p.notify(succeeded(f.Payload))
}

// armLocked starts the timer of the attempt just written.
func (d *Dispatcher) armLocked(p *pendingRequest) {
	p.gen++
	gen := p.gen
	p.timer = time.AfterFunc(p.timeout, func() {
		d.attemptTimeout(p, gen)
	})
}

func (d *Dispatcher) attemptTimeout(p *pendingRequest, gen int) {
	d.lock.Lock()
	if p.done || p.gen != gen {
		d.lock.Unlock()
		return
	}
	p.attempts--
	if p.attempts > 0 {
		d.lock.Unlock()
		glog.V(2).Infof("retransmit %s seq=%d attempts left=%d", p.cmd, p.seq, p.attempts)
		d.transmit(p, true)
		return
	}
	p.finish()
	d.pending.remove(p)
	d.lock.Unlock()

	d.stats.inc(&d.stats.s.Timeouts)
	glog.V(2).Infof("timeout %s seq=%d", p.cmd, p.seq)
	p.notify(failed(Timeout, p.cmd, ErrAttemptsExhausted))
}

// transmit writes the frame of the current attempt and then arms its
// timer, so an attempt always gets the full ack window after the write.
// A request completed while waiting for the write lock is not written.
func (d *Dispatcher) transmit(p *pendingRequest, retransmit bool) {
	d.writeLock.Lock()
	d.lock.Lock()
	done := p.done
	d.lock.Unlock()
	if done {
		d.writeLock.Unlock()
		return
	}
	err := d.ReadWriter.WriteFrame(p.encoded)
	d.writeLock.Unlock()

	d.lock.Lock()
	if err != nil {
		finished := p.finish()
		d.pending.remove(p)
		d.lock.Unlock()
		if finished {
			d.stats.inc(&d.stats.s.TransportErrors)
			glog.Errorf("send %s seq=%d failed: %v", p.cmd, p.seq, err)
			p.notify(failed(TransportError, p.cmd, err))
		}
		return
	}
	if !p.done {
		d.armLocked(p)
	}
	d.lock.Unlock()

	d.stats.inc(&d.stats.s.Sent)
	if retransmit {
		d.stats.inc(&d.stats.s.Retransmits)
	}
}

func (d *Dispatcher) write(b []byte) error {
	d.writeLock.Lock()
	defer d.writeLock.Unlock()
	return d.ReadWriter.WriteFrame(b)
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
