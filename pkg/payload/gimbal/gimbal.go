// Package gimbal drives a gimbal payload through the link.
package gimbal

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/robotalks/flightlink/pkg/cmdset"
	"github.com/robotalks/flightlink/pkg/link"
	"github.com/robotalks/flightlink/pkg/payload"
)

// DefaultTimeout spans all attempts of a synchronous call.
const DefaultTimeout = time.Second

// Rotation is an angle command, angles are in 0.1 degree.
type Rotation struct {
	Yaw   int16
	Roll  int16
	Pitch int16
	// Absolute angles, otherwise relative to the current attitude.
	Absolute bool
	// Duration of the movement, truncated to 0.1s.
	Duration time.Duration
}

// Bytes encodes Rotation:
//
//   | 0-1 | yaw | 2-3 | roll | 4-5 | pitch | 6 | ctrl, bit 0 absolute | 7 | time in 0.1s |
func (r *Rotation) Bytes() []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint16(b[0:], uint16(r.Yaw))
	binary.LittleEndian.PutUint16(b[2:], uint16(r.Roll))
	binary.LittleEndian.PutUint16(b[4:], uint16(r.Pitch))
	if r.Absolute {
		b[6] = 1
	}
	ticks := r.Duration / (100 * time.Millisecond)
	if ticks > 0xff {
		ticks = 0xff
	}
	b[7] = byte(ticks)
	return b
}

// Speed is a rate command in 0.1 degree/s.
type Speed struct {
	Yaw   int16
	Roll  int16
	Pitch int16
}

// Bytes encodes Speed, the control byte is always 0x80 (enabled).
func (s *Speed) Bytes() []byte {
	b := make([]byte, 7)
	binary.LittleEndian.PutUint16(b[0:], uint16(s.Yaw))
	binary.LittleEndian.PutUint16(b[2:], uint16(s.Roll))
	binary.LittleEndian.PutUint16(b[4:], uint16(s.Pitch))
	b[6] = 0x80
	return b
}

// Gimbal is a gimbal mounted at Index.
type Gimbal struct {
	Sender link.Sender
	Index  byte
}

// New creates a Gimbal.
func New(s link.Sender, index byte) *Gimbal {
	return &Gimbal{Sender: s, Index: index}
}

// Reset moves the gimbal to the neutral position.
func (g *Gimbal) Reset(ctx context.Context) error {
	_, err := payload.Call(ctx, g.Sender, cmdset.GimbalReset, []byte{g.Index}, link.SyncOptions{Timeout: DefaultTimeout})
	return err
}

// Rotate moves the gimbal to an angle.
func (g *Gimbal) Rotate(ctx context.Context, r Rotation) error {
	_, err := payload.Call(ctx, g.Sender, cmdset.GimbalAngle, r.Bytes(), link.SyncOptions{Timeout: DefaultTimeout})
	return err
}

// SetSpeed rotates the gimbal at a rate. It's sent without waiting for the
// ack as speed commands are streamed periodically.
func (g *Gimbal) SetSpeed(s Speed) {
	g.Sender.SendAsync(cmdset.GimbalSpeed, s.Bytes(), 0, 1, nil)
}
