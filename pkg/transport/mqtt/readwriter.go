package mqtt

import (
	"io"
	"sync"
)

// Topic suffixes of a link, relative to the link id.
const (
	// TopicFromVehicle carries frames sent by the flight controller.
	TopicFromVehicle = "/fc"
	// TopicToVehicle carries frames sent to the flight controller.
	TopicToVehicle = "/host"
)

// DefaultBacklog is the number of received frames buffered for ReadFrame.
const DefaultBacklog = 64

// ReadWriter implements link.FrameReadWriter over MQTT, each frame is one
// message.
type ReadWriter struct {
	Queue    *Queue
	SubTopic string
	PubTopic string

	// CloseQueue also closes Queue when the ReadWriter is closed.
	CloseQueue bool

	frameCh   chan []byte
	closeCh   chan struct{}
	closeOnce sync.Once
	sub       *Subscription
}

// NewReadWriter creates the ReadWriter.
func NewReadWriter(q *Queue) *ReadWriter {
	return &ReadWriter{
		Queue:   q,
		frameCh: make(chan []byte, DefaultBacklog),
		closeCh: make(chan struct{}),
	}
}

// WithTopics specifies the topics.
func (p *ReadWriter) WithTopics(sub, pub string) *ReadWriter {
	p.SubTopic, p.PubTopic = sub, pub
	return p
}

// ForHost sets topics for the host side of the link:
// SubTopic = id/fc
// PubTopic = id/host
func (p *ReadWriter) ForHost(linkID string) *ReadWriter {
	return p.WithTopics(linkID+TopicFromVehicle, linkID+TopicToVehicle)
}

// ForBridge sets topics for the side attached to the flight controller:
// SubTopic = id/host
// PubTopic = id/fc
func (p *ReadWriter) ForBridge(linkID string) *ReadWriter {
	return p.WithTopics(linkID+TopicToVehicle, linkID+TopicFromVehicle)
}

// Open subscribes SubTopic.
func (p *ReadWriter) Open() error {
	p.sub = p.Queue.Sub(p.SubTopic, p.handleMsg)
	p.sub.Token.Wait()
	return p.sub.Token.Error()
}

// ReadFrame implements link.FrameReader.
func (p *ReadWriter) ReadFrame() ([]byte, error) {
	select {
	case b := <-p.frameCh:
		return b, nil
	case <-p.closeCh:
		return nil, io.EOF
	}
}

// WriteFrame implements link.FrameWriter.
func (p *ReadWriter) WriteFrame(b []byte) error {
	token := p.Queue.Pub(p.PubTopic, b)
	token.Wait()
	return token.Error()
}

// Close implements io.Closer.
func (p *ReadWriter) Close() (err error) {
	p.closeOnce.Do(func() {
		close(p.closeCh)
		if p.sub != nil {
			err = p.sub.Close()
		}
		if p.CloseQueue {
			p.Queue.Close()
		}
	})
	return
}

func (p *ReadWriter) handleMsg(_ string, payload []byte) {
	b := append([]byte(nil), payload...)
	select {
	case p.frameCh <- b:
	case <-p.closeCh:
	}
}
