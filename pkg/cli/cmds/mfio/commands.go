package mfio

import (
	"context"
	"fmt"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/flightlink/pkg/cli/sh"
	"github.com/robotalks/flightlink/pkg/payload/mfio"
)

func channelArg(c *ishell.Context, n int) (mfio.Channel, error) {
	val, err := sh.ArgUint(c, n, "CHANNEL", 8)
	if err != nil {
		return 0, err
	}
	if val >= mfio.NumChannels {
		return 0, mfio.ErrBadChannel
	}
	return mfio.Channel(val), nil
}

var (
	// InitCmd configures a channel.
	InitCmd = ishell.Cmd{
		Name:    "mfio.init",
		Aliases: []string{"mi"},
		Help:    "MODE CHANNEL [DEFAULT_VALUE] [FREQ]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("MODE required"))
				return
			}
			mode, err := mfio.ParseMode(c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			ch, err := channelArg(c, 1)
			if err != nil {
				c.Err(err)
				return
			}
			var val, freq uint64
			if len(c.Args) > 2 {
				if val, err = sh.ArgUint(c, 2, "DEFAULT_VALUE", 32); err != nil {
					c.Err(err)
					return
				}
			}
			if len(c.Args) > 3 {
				if freq, err = sh.ArgUint(c, 3, "FREQ", 16); err != nil {
					c.Err(err)
					return
				}
			}
			sh.DoCommand(c, func(ctx context.Context) (interface{}, error) {
				return nil, sh.ConnFrom(c).MFIO.Config(ctx, mode, ch, uint32(val), uint16(freq), 0)
			})
		}),
	}

	// ReleaseCmd releases a configured channel.
	ReleaseCmd = ishell.Cmd{
		Name:    "mfio.release",
		Aliases: []string{"mr"},
		Help:    "CHANNEL",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			ch, err := channelArg(c, 0)
			if err != nil {
				c.Err(err)
				return
			}
			sh.ConnFrom(c).MFIO.Release(ch)
			c.Println("OK")
		}),
	}

	// SetCmd sets the output value of a channel.
	SetCmd = ishell.Cmd{
		Name:    "mfio.set",
		Aliases: []string{"ms"},
		Help:    "CHANNEL VALUE",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			ch, err := channelArg(c, 0)
			if err != nil {
				c.Err(err)
				return
			}
			val, err := sh.ArgUint(c, 1, "VALUE", 32)
			if err != nil {
				c.Err(err)
				return
			}
			sh.DoCommand(c, func(ctx context.Context) (interface{}, error) {
				return nil, sh.ConnFrom(c).MFIO.SetValue(ctx, ch, uint32(val), 0)
			})
		}),
	}

	// GetCmd reads the input value of a channel.
	GetCmd = ishell.Cmd{
		Name:    "mfio.get",
		Aliases: []string{"mg"},
		Help:    "CHANNEL",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			ch, err := channelArg(c, 0)
			if err != nil {
				c.Err(err)
				return
			}
			sh.DoCommand(c, func(ctx context.Context) (interface{}, error) {
				return sh.ConnFrom(c).MFIO.GetValue(ctx, ch, 0)
			})
		}),
	}
)

func init() {
	sh.AddCmds(
		&InitCmd,
		&ReleaseCmd,
		&SetCmd,
		&GetCmd,
	)
}
