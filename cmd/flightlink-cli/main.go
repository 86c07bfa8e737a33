package main

import (
	"github.com/robotalks/flightlink/pkg/cli/sh"
	"github.com/robotalks/flightlink/pkg/env"

	_ "github.com/robotalks/flightlink/pkg/cli/cmds/all"
)

//go-build: CGO_ENABLED=0

func init() {
	env.SetupFlags()
}

func main() {
	sh.Main()
}
