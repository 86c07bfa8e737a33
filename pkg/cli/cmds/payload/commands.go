package payload

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/flightlink/pkg/cli/sh"
	"github.com/robotalks/flightlink/pkg/payload/camera"
	"github.com/robotalks/flightlink/pkg/payload/gimbal"
)

// Index of the payload mount used by the commands.
var Index byte

func cameraCmd(name, alias string, fn func(c *camera.Camera, ctx context.Context) error) ishell.Cmd {
	return ishell.Cmd{
		Name:    name,
		Aliases: []string{alias},
		Help:    "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			cam := camera.New(sh.ConnFrom(c).Dispatcher, Index)
			sh.DoCommand(c, func(ctx context.Context) (interface{}, error) {
				return nil, fn(cam, ctx)
			})
		}),
	}
}

func parseAngles(args []string) ([3]int16, error) {
	var angles [3]int16
	names := []string{"YAW", "ROLL", "PITCH"}
	if len(args) < len(names) {
		return angles, fmt.Errorf("YAW ROLL PITCH required")
	}
	for i, name := range names {
		val, err := strconv.ParseFloat(args[i], 32)
		if err != nil {
			return angles, fmt.Errorf("Invalid %s: %v", name, err)
		}
		angles[i] = int16(val * 10)
	}
	return angles, nil
}

var (
	// ShotCmd takes a photo.
	ShotCmd = cameraCmd("camera.shot", "shot", (*camera.Camera).ShootPhoto)
	// RecordCmd starts recording.
	RecordCmd = cameraCmd("camera.record", "rec", (*camera.Camera).StartRecord)
	// StopRecordCmd stops recording.
	StopRecordCmd = cameraCmd("camera.stop", "recstop", (*camera.Camera).StopRecord)

	// GimbalResetCmd resets the gimbal.
	GimbalResetCmd = ishell.Cmd{
		Name:    "gimbal.reset",
		Aliases: []string{"greset"},
		Help:    "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			g := gimbal.New(sh.ConnFrom(c).Dispatcher, Index)
			sh.DoCommand(c, func(ctx context.Context) (interface{}, error) {
				return nil, g.Reset(ctx)
			})
		}),
	}

	// GimbalRotateCmd rotates the gimbal to absolute angles.
	GimbalRotateCmd = ishell.Cmd{
		Name:    "gimbal.rotate",
		Aliases: []string{"grot"},
		Help:    "YAW ROLL PITCH(degrees) [DURATION]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			angles, err := parseAngles(c.Args)
			if err != nil {
				c.Err(err)
				return
			}
			r := gimbal.Rotation{Yaw: angles[0], Roll: angles[1], Pitch: angles[2], Absolute: true, Duration: time.Second}
			if len(c.Args) > 3 {
				if r.Duration, err = time.ParseDuration(c.Args[3]); err != nil {
					c.Err(fmt.Errorf("Invalid DURATION: %v", err))
					return
				}
			}
			g := gimbal.New(sh.ConnFrom(c).Dispatcher, Index)
			sh.DoCommand(c, func(ctx context.Context) (interface{}, error) {
				return nil, g.Rotate(ctx, r)
			})
		}),
	}

	// GimbalSpeedCmd rotates the gimbal at a rate.
	GimbalSpeedCmd = ishell.Cmd{
		Name:    "gimbal.speed",
		Aliases: []string{"gspeed"},
		Help:    "YAW ROLL PITCH(degrees/s)",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			angles, err := parseAngles(c.Args)
			if err != nil {
				c.Err(err)
				return
			}
			gimbal.New(sh.ConnFrom(c).Dispatcher, Index).SetSpeed(gimbal.Speed{Yaw: angles[0], Roll: angles[1], Pitch: angles[2]})
			c.Println("OK")
		}),
	}
)

func init() {
	sh.AddCmds(
		&ShotCmd,
		&RecordCmd,
		&StopRecordCmd,
		&GimbalResetCmd,
		&GimbalRotateCmd,
		&GimbalSpeedCmd,
	)
}
