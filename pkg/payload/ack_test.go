package payload

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/flightlink/pkg/cmdset"
	"github.com/robotalks/flightlink/pkg/frame"
	"github.com/robotalks/flightlink/pkg/link"
	"github.com/robotalks/flightlink/pkg/link/linktest"
)

func TestCheckAck(t *testing.T) {
	require.NoError(t, CheckAck(cmdset.MFIOSet, []byte{0, 1}))
	err := CheckAck(cmdset.MFIOSet, []byte{3})
	require.Equal(t, &AckError{Cmd: cmdset.MFIOSet, Code: 3}, err)
	require.Equal(t, "command 09:03 rejected: 0x03", err.Error())
	require.Equal(t, link.MalformedResponse, link.CodeOf(CheckAck(cmdset.MFIOSet, nil)))
}

func TestCall(t *testing.T) {
	tr := linktest.New()
	d := link.NewDispatcher(tr, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	tr.SetResponder(func(f *frame.Frame) ([]byte, bool) {
		return []byte{f.Payload[0]}, true
	})
	_, err := Call(ctx, d, cmdset.MFIOSet, []byte{0}, link.SyncOptions{})
	require.NoError(t, err)
	_, err = Call(ctx, d, cmdset.MFIOSet, []byte{2}, link.SyncOptions{})
	require.Equal(t, &AckError{Cmd: cmdset.MFIOSet, Code: 2}, err)

	done := make(chan error, 1)
	CallAsync(d, cmdset.MFIOSet, []byte{5}, time.Second, 1, func(data []byte, err error) {
		done <- err
	})
	select {
	case err := <-done:
		require.Equal(t, &AckError{Cmd: cmdset.MFIOSet, Code: 5}, err)
	case <-time.After(time.Second):
		t.Fatal("no completion")
	}
}
