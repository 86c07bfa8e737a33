// Package mfio configures and drives the multi-function IO channels of the
// flight controller.
package mfio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/flightlink/pkg/cmdset"
	"github.com/robotalks/flightlink/pkg/link"
	"github.com/robotalks/flightlink/pkg/payload"
)

// Mode is the function of a channel.
type Mode byte

// Channel modes.
const (
	ModePWMOut Mode = iota
	ModePWMIn
	ModeGPIOOut
	ModeGPIOIn
	ModeADC
)

var modeNames = []string{"pwm-out", "pwm-in", "gpio-out", "gpio-in", "adc"}

// String implements fmt.Stringer.
func (m Mode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode converts a mode name to Mode.
func ParseMode(name string) (Mode, error) {
	for i, n := range modeNames {
		if n == name {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("unknown mode %q", name)
}

// Channel is the index of an MFIO channel.
type Channel byte

// NumChannels is the number of channels.
const NumChannels = 8

// Defaults from the firmware documentation.
const (
	DefaultTimeout     = 500 * time.Millisecond
	DefaultAttempts    = 2
	DefaultGetAttempts = 3
)

var (
	// ErrChannelInUse indicates the channel is already configured.
	ErrChannelInUse = errors.New("channel already in use")
	// ErrBadChannel indicates an invalid channel index.
	ErrBadChannel = errors.New("invalid channel")
)

// InitData is the payload of MFIOInit.
type InitData struct {
	Channel Channel
	Mode    Mode
	Value   uint32
	Freq    uint16
}

// Bytes encodes InitData:
//
//   | 0 | channel | 1 | mode | 2-5 | default value | 6-7 | frequency |
func (d *InitData) Bytes() []byte {
	b := make([]byte, 8)
	b[0], b[1] = byte(d.Channel), byte(d.Mode)
	binary.LittleEndian.PutUint32(b[2:], d.Value)
	binary.LittleEndian.PutUint16(b[6:], d.Freq)
	return b
}

func setData(ch Channel, value uint32) []byte {
	b := make([]byte, 5)
	b[0] = byte(ch)
	binary.LittleEndian.PutUint32(b[1:], value)
	return b
}

// decodeGet decodes the ack of MFIOGet: result byte then the value.
func decodeGet(data []byte) (uint32, error) {
	if err := payload.CheckAck(cmdset.MFIOGet, data); err != nil {
		return 0, err
	}
	if len(data) < 5 {
		return 0, payload.Malformed(cmdset.MFIOGet)
	}
	return binary.LittleEndian.Uint32(data[1:]), nil
}

// MFIO tracks channel usage. A channel is claimed when configured and must
// be released before it can be configured again.
type MFIO struct {
	Sender link.Sender

	lock  sync.Mutex
	usage uint8
}

// New creates an MFIO.
func New(s link.Sender) *MFIO {
	return &MFIO{Sender: s}
}

// InUse tells whether a channel is claimed.
func (m *MFIO) InUse(ch Channel) bool {
	if ch >= NumChannels {
		return false
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.usage&(1<<ch) != 0
}

// Release frees a channel.
func (m *MFIO) Release(ch Channel) {
	if ch >= NumChannels {
		return
	}
	m.lock.Lock()
	m.usage &^= 1 << ch
	m.lock.Unlock()
}

func (m *MFIO) claim(ch Channel) error {
	if ch >= NumChannels {
		return ErrBadChannel
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.usage&(1<<ch) != 0 {
		glog.Warningf("mfio channel %d already in use, usage 0x%02x", ch, m.usage)
		return link.NewError(link.ResourceBusy, cmdset.MFIOInit, ErrChannelInUse)
	}
	m.usage |= 1 << ch
	return nil
}

// Config configures a channel and blocks until acked or ctx is done.
// timeout spans all attempts, zero uses the default. The channel is
// released only when the request fails, so it stays claimed while a
// request abandoned by ctx is still outstanding.
func (m *MFIO) Config(ctx context.Context, mode Mode, ch Channel, defaultValue uint32, freq uint16, timeout time.Duration) error {
	if err := m.claim(ch); err != nil {
		return err
	}
	opts := syncOptions(timeout, DefaultAttempts)
	doneCh := make(chan error, 1)
	data := InitData{Channel: ch, Mode: mode, Value: defaultValue, Freq: freq}
	perAttempt := link.SplitTimeout(opts.Timeout, opts.Attempts)
	payload.CallAsync(m.Sender, cmdset.MFIOInit, data.Bytes(), perAttempt, opts.Attempts, func(_ []byte, err error) {
		if err != nil {
			m.Release(ch)
		}
		doneCh <- err
	})
	select {
	case err := <-doneCh:
		return err
	case <-ctx.Done():
		return link.NewError(link.Timeout, cmdset.MFIOInit, ctx.Err())
	}
}

// ConfigAsync configures a channel asynchronously. A busy channel is
// rejected immediately and cb is not invoked.
func (m *MFIO) ConfigAsync(mode Mode, ch Channel, defaultValue uint32, freq uint16, cb func(error)) error {
	if err := m.claim(ch); err != nil {
		return err
	}
	data := InitData{Channel: ch, Mode: mode, Value: defaultValue, Freq: freq}
	payload.CallAsync(m.Sender, cmdset.MFIOInit, data.Bytes(), DefaultTimeout, DefaultAttempts, func(_ []byte, err error) {
		if err != nil {
			m.Release(ch)
		}
		if cb != nil {
			cb(err)
		}
	})
	return nil
}

// SetValue sets the output value of a channel.
func (m *MFIO) SetValue(ctx context.Context, ch Channel, value uint32, timeout time.Duration) error {
	_, err := payload.Call(ctx, m.Sender, cmdset.MFIOSet, setData(ch, value), syncOptions(timeout, DefaultAttempts))
	return err
}

// SetValueAsync is the async form of SetValue.
func (m *MFIO) SetValueAsync(ch Channel, value uint32, cb func(error)) {
	payload.CallAsync(m.Sender, cmdset.MFIOSet, setData(ch, value), DefaultTimeout, DefaultAttempts, func(_ []byte, err error) {
		if cb != nil {
			cb(err)
		}
	})
}

// GetValue reads the input value of a channel.
func (m *MFIO) GetValue(ctx context.Context, ch Channel, timeout time.Duration) (uint32, error) {
	data, err := m.Sender.SendSyncWith(ctx, cmdset.MFIOGet, []byte{byte(ch)}, syncOptions(timeout, DefaultGetAttempts))
	if err != nil {
		return 0, err
	}
	return decodeGet(data)
}

// GetValueAsync is the async form of GetValue.
func (m *MFIO) GetValueAsync(ch Channel, cb func(uint32, error)) {
	m.Sender.SendAsync(cmdset.MFIOGet, []byte{byte(ch)}, DefaultTimeout, DefaultGetAttempts, func(r link.Result) {
		if cb == nil {
			return
		}
		if !r.OK() {
			cb(0, r.Err)
			return
		}
		cb(decodeGet(r.Data))
	})
}

func syncOptions(timeout time.Duration, attempts int) link.SyncOptions {
	if timeout <= 0 {
		timeout = DefaultTimeout * time.Duration(attempts)
	}
	return link.SyncOptions{Timeout: timeout, Attempts: attempts}
}
