package stream

import (
	"io"
	"net"
	"time"

	"github.com/tarm/serial"
)

// DefaultBaud is the default baud rate of the serial port.
const DefaultBaud = 921600

// OpenSerial opens a serial port. The port read timeout is used as the
// inter-byte timeout.
func OpenSerial(name string, baud int, timeout time.Duration) (*ReadWriter, error) {
	if baud <= 0 {
		baud = DefaultBaud
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        name,
		Baud:        baud,
		ReadTimeout: timeout,
	})
	if err != nil {
		return nil, err
	}
	rw := New(&serialPort{port})
	rw.Timeout, rw.ReadTimeout = timeout, true
	return rw, nil
}

// DialTCP connects to a serial bridge or a simulator over TCP.
func DialTCP(addr string, timeout time.Duration) (*ReadWriter, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	rw := New(conn)
	if timeout > 0 {
		rw.Timeout = timeout
	}
	return rw, nil
}

// serialPort reports a read timeout as 0 bytes instead of io.EOF.
type serialPort struct {
	*serial.Port
}

func (p *serialPort) Read(b []byte) (int, error) {
	n, err := p.Port.Read(b)
	if n == 0 && err == io.EOF {
		return 0, nil
	}
	return n, err
}
