package mission

import (
	"context"
	"fmt"
	"strconv"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/flightlink/pkg/cli/sh"
	"github.com/robotalks/flightlink/pkg/payload/mission"
)

func simpleCmd(name, alias string, fn func(m *mission.Mission, ctx context.Context) error) ishell.Cmd {
	return ishell.Cmd{
		Name:    name,
		Aliases: []string{alias},
		Help:    "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			sh.DoCommand(c, func(ctx context.Context) (interface{}, error) {
				return nil, fn(sh.ConnFrom(c).Mission, ctx)
			})
		}),
	}
}

var (
	// StartCmd starts the uploaded mission.
	StartCmd = simpleCmd("mission.start", "mstart", (*mission.Mission).Start)
	// StopCmd stops the mission.
	StopCmd = simpleCmd("mission.stop", "mstop", (*mission.Mission).Stop)
	// PauseCmd pauses the mission.
	PauseCmd = simpleCmd("mission.pause", "mpause", (*mission.Mission).Pause)
	// ResumeCmd resumes the mission.
	ResumeCmd = simpleCmd("mission.resume", "mresume", (*mission.Mission).Resume)

	// StateCmd prints the latest mission state from pushes.
	StateCmd = ishell.Cmd{
		Name:    "mission.state",
		Aliases: []string{"mst"},
		Help:    "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			m := sh.ConnFrom(c).Mission
			st := m.Current()
			if sh.ShellFrom(c).OutputJSON {
				sh.DoCommand(c, func(context.Context) (interface{}, error) {
					return map[string]interface{}{
						"state":    st.State.String(),
						"previous": m.Previous().String(),
						"waypoint": st.Waypoint,
						"velocity": st.Velocity,
					}, nil
				})
				return
			}
			c.Printf("%s (was %s) waypoint=%d velocity=%d\n", st.State, m.Previous(), st.Waypoint, st.Velocity)
		}),
	}

	// SpeedCmd gets or sets the cruise speed.
	SpeedCmd = ishell.Cmd{
		Name:    "mission.speed",
		Aliases: []string{"mspeed"},
		Help:    "[SPEED(m/s)]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			m := sh.ConnFrom(c).Mission
			if len(c.Args) == 0 {
				sh.DoCommand(c, func(ctx context.Context) (interface{}, error) {
					return m.CruiseSpeed(ctx)
				})
				return
			}
			val, err := strconv.ParseFloat(c.Args[0], 32)
			if err != nil {
				c.Err(fmt.Errorf("Invalid SPEED: %v", err))
				return
			}
			sh.DoCommand(c, func(ctx context.Context) (interface{}, error) {
				return nil, m.SetCruiseSpeed(ctx, float32(val))
			})
		}),
	}
)

func init() {
	sh.AddCmds(
		&StartCmd,
		&StopCmd,
		&PauseCmd,
		&ResumeCmd,
		&StateCmd,
		&SpeedCmd,
	)
}
