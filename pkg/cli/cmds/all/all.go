// Package all registers all shell commands.
package all

import (
	// commands
	_ "github.com/robotalks/flightlink/pkg/cli/cmds/mfio"
	_ "github.com/robotalks/flightlink/pkg/cli/cmds/mission"
	_ "github.com/robotalks/flightlink/pkg/cli/cmds/payload"
)
