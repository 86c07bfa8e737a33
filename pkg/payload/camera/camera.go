// Package camera drives a camera payload through the link.
package camera

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/robotalks/flightlink/pkg/cmdset"
	"github.com/robotalks/flightlink/pkg/link"
	"github.com/robotalks/flightlink/pkg/payload"
)

// FunctionID selects the operation of cmdset.CameraFunction.
type FunctionID byte

// Camera functions.
const (
	FuncSimpleShot        FunctionID = 0
	FuncRecordVideo       FunctionID = 1
	FuncSetWorkingMode    FunctionID = 3
	FuncGetWorkingMode    FunctionID = 4
	FuncSetExposureMode   FunctionID = 8
	FuncGetExposureMode   FunctionID = 9
	FuncSetFocusMode      FunctionID = 10
	FuncGetFocusMode      FunctionID = 11
	FuncSetEV             FunctionID = 12
	FuncGetEV             FunctionID = 13
	FuncSetISO            FunctionID = 22
	FuncGetISO            FunctionID = 23
	FuncSetShutterSpeed   FunctionID = 24
	FuncGetShutterSpeed   FunctionID = 25
	FuncSetApertureSize   FunctionID = 26
	FuncGetApertureSize   FunctionID = 27
	FuncSetShootPhotoMode FunctionID = 32
	FuncGetShootPhotoMode FunctionID = 33
)

// WorkMode is the camera working mode.
type WorkMode byte

// Working modes.
const (
	WorkShootPhoto    WorkMode = 0
	WorkRecordVideo   WorkMode = 1
	WorkPlayback      WorkMode = 2
	WorkMediaDownload WorkMode = 3
	WorkBroadcast     WorkMode = 4
)

// ExposureMode is the camera exposure mode.
type ExposureMode byte

// Exposure modes.
const (
	ExposureProgramAuto      ExposureMode = 1
	ExposureShutterPriority  ExposureMode = 2
	ExposureAperturePriority ExposureMode = 3
	ExposureManual           ExposureMode = 4
)

// DefaultTimeout spans all attempts of a synchronous call.
const DefaultTimeout = time.Second

// Camera is a camera mounted at Index.
type Camera struct {
	Sender link.Sender
	Index  byte
}

// New creates a Camera.
func New(s link.Sender, index byte) *Camera {
	return &Camera{Sender: s, Index: index}
}

func (c *Camera) call(ctx context.Context, id cmdset.ID, params ...byte) ([]byte, error) {
	return payload.Call(ctx, c.Sender, id, append([]byte{c.Index}, params...), link.SyncOptions{Timeout: DefaultTimeout})
}

// Function invokes a camera function, and returns the ack data after the
// result byte.
func (c *Camera) Function(ctx context.Context, fn FunctionID, params ...byte) ([]byte, error) {
	data, err := c.call(ctx, cmdset.CameraFunction, append([]byte{byte(fn)}, params...)...)
	if err != nil {
		return nil, err
	}
	return data[1:], nil
}

// ShootPhoto takes a single photo.
func (c *Camera) ShootPhoto(ctx context.Context) error {
	_, err := c.call(ctx, cmdset.CameraShot)
	return err
}

// ShootPhotoAsync is the async form of ShootPhoto.
func (c *Camera) ShootPhotoAsync(cb func(error)) {
	payload.CallAsync(c.Sender, cmdset.CameraShot, []byte{c.Index}, 0, cmdset.DefaultAttempts, func(_ []byte, err error) {
		if cb != nil {
			cb(err)
		}
	})
}

// StartRecord starts video recording.
func (c *Camera) StartRecord(ctx context.Context) error {
	_, err := c.call(ctx, cmdset.CameraVideoStart)
	return err
}

// StopRecord stops video recording.
func (c *Camera) StopRecord(ctx context.Context) error {
	_, err := c.call(ctx, cmdset.CameraVideoStop)
	return err
}

// SetWorkMode sets the working mode.
func (c *Camera) SetWorkMode(ctx context.Context, mode WorkMode) error {
	_, err := c.Function(ctx, FuncSetWorkingMode, byte(mode))
	return err
}

// WorkMode gets the working mode.
func (c *Camera) WorkMode(ctx context.Context) (WorkMode, error) {
	b, err := c.getByte(ctx, FuncGetWorkingMode)
	return WorkMode(b), err
}

// SetExposureMode sets the exposure mode.
func (c *Camera) SetExposureMode(ctx context.Context, mode ExposureMode) error {
	_, err := c.Function(ctx, FuncSetExposureMode, byte(mode))
	return err
}

// ExposureMode gets the exposure mode.
func (c *Camera) ExposureMode(ctx context.Context) (ExposureMode, error) {
	b, err := c.getByte(ctx, FuncGetExposureMode)
	return ExposureMode(b), err
}

// SetISO sets the ISO value, see the firmware ISO table.
func (c *Camera) SetISO(ctx context.Context, iso uint16) error {
	_, err := c.Function(ctx, FuncSetISO, u16(iso)...)
	return err
}

// SetShutterSpeed sets the shutter speed index.
func (c *Camera) SetShutterSpeed(ctx context.Context, speed byte) error {
	_, err := c.Function(ctx, FuncSetShutterSpeed, speed)
	return err
}

// SetAperture sets the aperture in 1/100 f-stops.
func (c *Camera) SetAperture(ctx context.Context, aperture uint16) error {
	_, err := c.Function(ctx, FuncSetApertureSize, u16(aperture)...)
	return err
}

// SetEV sets the exposure compensation index.
func (c *Camera) SetEV(ctx context.Context, ev byte) error {
	_, err := c.Function(ctx, FuncSetEV, ev)
	return err
}

func (c *Camera) getByte(ctx context.Context, fn FunctionID) (byte, error) {
	data, err := c.Function(ctx, fn)
	if err != nil {
		return 0, err
	}
	if len(data) < 1 {
		return 0, payload.Malformed(cmdset.CameraFunction)
	}
	return data[0], nil
}

func u16(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}
