// Package transport contains link.FrameReadWriter implementations and a
// Bridge relaying frames between two of them.
package transport

import (
	"context"
	"io"

	"github.com/golang/glog"

	fx "github.com/robotalks/flightlink/pkg/framework"
	"github.com/robotalks/flightlink/pkg/link"
)

// Bridge relays frames between the vehicle side and a remote side without
// interpreting them, e.g. exposes a serial port over MQTT.
type Bridge struct {
	Vehicle link.FrameReadWriter
	Remote  link.FrameReadWriter
}

// Run implements framework.Runnable. It stops when either side fails or
// ctx is done, both sides are closed on return.
func (b *Bridge) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 2)
	go func() {
		errCh <- relay(b.Vehicle, b.Remote, "vehicle->remote")
	}()
	go func() {
		errCh <- relay(b.Remote, b.Vehicle, "remote->vehicle")
	}()
	var err error
	stopped := 0
	select {
	case err = <-errCh:
		stopped++
	case <-ctx.Done():
		err = ctx.Err()
	}
	var errs fx.AggregatedError
	errs.Add(closeSide(b.Vehicle))
	errs.Add(closeSide(b.Remote))
	for ; stopped < 2; stopped++ {
		<-errCh
	}
	if closeErr := errs.Aggregate(); closeErr != nil {
		glog.Warningf("bridge close: %v", closeErr)
	}
	return err
}

func relay(from link.FrameReader, to link.FrameWriter, name string) error {
	for {
		b, err := from.ReadFrame()
		if err != nil {
			return err
		}
		glog.V(3).Infof("%s % x", name, b)
		if err = to.WriteFrame(b); err != nil {
			return err
		}
	}
}

func closeSide(rw link.FrameReadWriter) error {
	if closer, ok := rw.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
