package stream

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/flightlink/pkg/frame"
)

// DefaultTimeout is the default inter-byte timeout.
const DefaultTimeout = 50 * time.Millisecond

const chunkSize = 256

// ReadWriter implements link.FrameReadWriter on a byte stream.
// Frames are delimited by frame.Parser, a partial frame is dropped when no
// byte arrives within Timeout.
type ReadWriter struct {
	Stream  io.ReadWriter
	Timeout time.Duration
	// ReadTimeout is set when Stream.Read already returns after a timeout
	// (either 0 bytes or an os.IsTimeout error), which then acts as the
	// inter-byte timer.
	ReadTimeout bool

	parser frame.Parser
	frames [][]byte
	timer  <-chan time.Time

	readOnce  sync.Once
	closeOnce sync.Once
	chunkCh   chan []byte
	errCh     chan error
	closeCh   chan struct{}

	sendLock sync.Mutex
}

// New creates a ReadWriter with io.ReadWriter.
func New(s io.ReadWriter) *ReadWriter {
	return &ReadWriter{Stream: s, Timeout: DefaultTimeout, closeCh: make(chan struct{})}
}

// ReadFrame implements link.FrameReader.
// It must not be called concurrently.
func (p *ReadWriter) ReadFrame() ([]byte, error) {
	for len(p.frames) == 0 {
		var err error
		if p.ReadTimeout {
			err = p.readDirect()
		} else {
			err = p.readAsync()
		}
		if err != nil {
			return nil, err
		}
	}
	f := p.frames[0]
	p.frames = p.frames[1:]
	return f, nil
}

// WriteFrame implements link.FrameWriter.
func (p *ReadWriter) WriteFrame(b []byte) error {
	p.sendLock.Lock()
	defer p.sendLock.Unlock()
	_, err := p.Stream.Write(b)
	return err
}

// Close implements io.Closer.
func (p *ReadWriter) Close() error {
	p.closeOnce.Do(func() {
		if p.closeCh != nil {
			close(p.closeCh)
		}
	})
	if closer, ok := p.Stream.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (p *ReadWriter) readDirect() error {
	buf := make([]byte, chunkSize)
	n, err := p.Stream.Read(buf)
	if err != nil && !os.IsTimeout(err) {
		return err
	}
	if n == 0 {
		p.apply(p.parser.Timeout())
		return nil
	}
	p.apply(p.parser.ParseBytes(buf[:n]))
	return nil
}

func (p *ReadWriter) readAsync() error {
	p.readOnce.Do(func() {
		p.chunkCh, p.errCh = make(chan []byte), make(chan error, 1)
		go p.readLoop()
	})
	select {
	case chunk := <-p.chunkCh:
		p.apply(p.parser.ParseBytes(chunk))
	case <-p.timer:
		p.apply(p.parser.Timeout())
	case err := <-p.errCh:
		// keep the error for subsequent calls.
		p.errCh <- err
		return err
	}
	return nil
}

func (p *ReadWriter) readLoop() {
	for {
		buf := make([]byte, chunkSize)
		n, err := p.Stream.Read(buf)
		if n > 0 {
			select {
			case p.chunkCh <- buf[:n]:
			case <-p.closeCh:
				return
			}
		}
		if err != nil {
			p.errCh <- err
			return
		}
	}
}

func (p *ReadWriter) apply(pr frame.ParseResult) {
	if pr.Discarded > 0 {
		glog.V(2).Infof("discarded %d bytes", pr.Discarded)
	}
	p.frames = append(p.frames, pr.Frames...)
	if p.ReadTimeout {
		return
	}
	switch pr.WhatAboutTimer() {
	case frame.TimerRestart:
		p.timer = time.After(p.Timeout)
	case frame.TimerStop:
		p.timer = nil
	}
}
