package main

//go-build: CGO_ENABLED=0

import (
	"context"
	"flag"

	"github.com/golang/glog"

	"github.com/robotalks/flightlink/pkg/env"
	fx "github.com/robotalks/flightlink/pkg/framework"
	"github.com/robotalks/flightlink/pkg/link"
	"github.com/robotalks/flightlink/pkg/payload/mission"
	"github.com/robotalks/flightlink/pkg/telemetry"
	"github.com/robotalks/flightlink/pkg/transport"
	"github.com/robotalks/flightlink/pkg/transport/mqtt"
)

var bridgeMode bool

func init() {
	env.SetupFlags()
	flag.BoolVar(&bridgeMode, "bridge", bridgeMode, "Relay raw frames between the transport and MQTT")
}

func main() {
	flag.Parse()
	conf := env.MustLoad()

	rw, err := conf.NewTransport()
	if err != nil {
		glog.Exitf("open %s: %v", conf.Transport, err)
	}
	q, err := conf.NewQueue()
	if err != nil {
		glog.Exitf("mqtt: %v", err)
	}
	if q != nil {
		if err = q.Connect(); err != nil {
			glog.Exitf("mqtt connect: %v", err)
		}
		defer q.Close()
	}

	runner := fx.NewRunner().HandleSignals()
	if bridgeMode {
		if q == nil {
			glog.Exit("bridge mode requires -mqtt")
		}
		remote := mqtt.NewReadWriter(q).ForBridge(conf.LinkID)
		if err = remote.Open(); err != nil {
			glog.Exitf("mqtt subscribe: %v", err)
		}
		runner.Go(fx.NamedRun("bridge", &transport.Bridge{Vehicle: rw, Remote: remote}))
	} else {
		d := conf.NewDispatcher(rw)
		m := mission.New(d)
		m.OnState(func(prev mission.State, s mission.Status) {
			glog.Infof("mission %s -> %s waypoint %d", prev, s.State, s.Waypoint)
		})
		m.Subscribe(d.Router())
		if q != nil {
			telemetry.NewPublisher(q, conf.LinkID).Attach(d.Router())
		}
		// handlers are registered before the receive loop starts.
		runner.Go(fx.NamedRun("dispatcher", d))
		if conf.StatsInterval > 0 {
			runner.Go(fx.NamedRun("stats", fx.Every(conf.StatsInterval, func(context.Context) {
				logStats(d)
			})))
		}
	}
	if err = runner.Wait(); err != nil {
		glog.Exit(err)
	}
}

func logStats(d *link.Dispatcher) {
	glog.Infof("link stats: %s outstanding=%d", d.Stats(), d.Outstanding())
}
