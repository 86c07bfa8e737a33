package websocket

import (
	"sync"

	"golang.org/x/net/websocket"
)

// ReadWriter implements link.FrameReadWriter, each frame is one binary
// message.
type ReadWriter struct {
	Conn *websocket.Conn

	sendLock sync.Mutex
}

// New wraps websocket.Conn.
func New(conn *websocket.Conn) *ReadWriter {
	return &ReadWriter{Conn: conn}
}

// Dial connects to a websocket endpoint exposing a link.
func Dial(url, origin string) (*ReadWriter, error) {
	if origin == "" {
		origin = "http://localhost/"
	}
	conn, err := websocket.Dial(url, "", origin)
	if err != nil {
		return nil, err
	}
	return New(conn), nil
}

// ReadFrame implements link.FrameReader.
func (p *ReadWriter) ReadFrame() (b []byte, err error) {
	err = websocket.Message.Receive(p.Conn, &b)
	return
}

// WriteFrame implements link.FrameWriter.
func (p *ReadWriter) WriteFrame(b []byte) error {
	p.sendLock.Lock()
	defer p.sendLock.Unlock()
	return websocket.Message.Send(p.Conn, b)
}

// Close implements io.Closer.
func (p *ReadWriter) Close() error {
	return p.Conn.Close()
}
