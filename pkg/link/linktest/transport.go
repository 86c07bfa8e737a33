// Package linktest provides an in-memory transport for testing code built
// on link.Dispatcher.
package linktest

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/flightlink/pkg/cmdset"
	"github.com/robotalks/flightlink/pkg/frame"
)

// DefaultWait is how long Next waits for a written frame.
const DefaultWait = time.Second

// Responder builds the ack payload for a written request.
// ok = false leaves the request unanswered.
type Responder func(f *frame.Frame) (payload []byte, ok bool)

// Transport is a channel backed link.FrameReadWriter.
// Written frames are observed with Next, inbound frames are injected with
// Inject.
type Transport struct {
	readCh  chan []byte
	written chan []byte

	lock     sync.Mutex
	writeErr error
	respond  Responder
	count    int
	closed   bool
	closeCh  chan struct{}
}

// New creates a Transport.
func New() *Transport {
	return &Transport{
		readCh:  make(chan []byte, 64),
		written: make(chan []byte, 256),
		closeCh: make(chan struct{}),
	}
}

// ReadFrame implements link.FrameReader.
func (t *Transport) ReadFrame() ([]byte, error) {
	select {
	case b := <-t.readCh:
		return b, nil
	case <-t.closeCh:
		return nil, io.EOF
	}
}

// WriteFrame implements link.FrameWriter.
func (t *Transport) WriteFrame(b []byte) error {
	t.lock.Lock()
	err, respond := t.writeErr, t.respond
	if err == nil {
		t.count++
	}
	t.lock.Unlock()
	if err != nil {
		return err
	}
	b = append([]byte(nil), b...)
	t.written <- b
	if respond != nil {
		if f, err := frame.Decode(b); err == nil && f.Session == frame.SessionAck {
			if payload, ok := respond(f); ok {
				ack, err := frame.EncodeAck(f.Cmd, f.Seq, payload)
				if err != nil {
					return err
				}
				t.readCh <- ack
			}
		}
	}
	return nil
}

// Close implements io.Closer, pending ReadFrame returns io.EOF.
func (t *Transport) Close() error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if !t.closed {
		t.closed = true
		close(t.closeCh)
	}
	return nil
}

// SetWriteErr makes subsequent writes fail with err.
func (t *Transport) SetWriteErr(err error) {
	t.lock.Lock()
	t.writeErr = err
	t.lock.Unlock()
}

// SetResponder answers written requests automatically.
func (t *Transport) SetResponder(r Responder) {
	t.lock.Lock()
	t.respond = r
	t.lock.Unlock()
}

// Count returns the number of frames written successfully.
func (t *Transport) Count() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.count
}

// Inject delivers raw bytes as an inbound frame.
func (t *Transport) Inject(raw []byte) {
	t.readCh <- raw
}

// Next waits for the next written frame.
func (t *Transport) Next(tb testing.TB) *frame.Frame {
	tb.Helper()
	select {
	case b := <-t.written:
		f, err := frame.Decode(b)
		require.NoError(tb, err)
		return f
	case <-time.After(DefaultWait):
		tb.Fatal("no frame written")
	}
	return nil
}

// NoMore asserts nothing is written within d.
func (t *Transport) NoMore(tb testing.TB, d time.Duration) {
	tb.Helper()
	select {
	case b := <-t.written:
		tb.Fatalf("unexpected frame % x", b)
	case <-time.After(d):
	}
}

// Ack builds an ack frame for the request.
func Ack(tb testing.TB, req *frame.Frame, payload ...byte) []byte {
	b, err := frame.EncodeAck(req.Cmd, req.Seq, payload)
	require.NoError(tb, err)
	return b
}

// Push builds a push frame.
func Push(tb testing.TB, id cmdset.ID, payload ...byte) []byte {
	b, err := frame.Encode(id, 0, frame.SessionNoAck, payload)
	require.NoError(tb, err)
	return b
}
