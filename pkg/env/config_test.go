package env

import (
	"io/ioutil"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/flightlink/pkg/link"
	"github.com/robotalks/flightlink/pkg/transport/stream"
)

func TestLoadFile(t *testing.T) {
	dir, err := ioutil.TempDir("", "flightlink")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	fn := filepath.Join(dir, "link.yaml")
	require.NoError(t, ioutil.WriteFile(fn, []byte(`
transport: tcp://localhost:5760
linkId: uav7
interByteTimeout: 20ms
syncGrace: 100ms
`), 0644))

	conf := builtinConfig()
	require.NoError(t, conf.LoadFile(fn))
	require.Equal(t, "tcp://localhost:5760", conf.Transport)
	require.Equal(t, "uav7", conf.LinkID)
	require.Equal(t, 20*time.Millisecond, conf.InterByteTimeout)
	require.Equal(t, 100*time.Millisecond, conf.SyncGrace)
	require.Equal(t, stream.DefaultBaud, conf.Baud)

	require.Error(t, conf.LoadFile(filepath.Join(dir, "missing.yaml")))
}

func TestApplyEnv(t *testing.T) {
	os.Setenv(EnvTransport, "ws://bridge/link")
	os.Setenv(EnvLinkID, "uav9")
	defer os.Unsetenv(EnvTransport)
	defer os.Unsetenv(EnvLinkID)

	conf := NewConfig()
	require.Equal(t, "ws://bridge/link", conf.Transport)
	require.Equal(t, "uav9", conf.LinkID)
	require.Equal(t, link.DefaultSyncGrace, conf.SyncGrace)
}

func TestValidate(t *testing.T) {
	conf := builtinConfig()
	conf.Transport = ""
	require.Error(t, conf.Validate())

	conf = builtinConfig()
	require.NoError(t, conf.Validate())
	require.NotEmpty(t, conf.LinkID)
}

func TestNewTransport(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	conf := builtinConfig()
	conf.Transport = "tcp://" + ln.Addr().String()
	rw, err := conf.NewTransport()
	require.NoError(t, err)
	defer rw.(*stream.ReadWriter).Close()

	conn := <-accepted
	defer conn.Close()
	require.NoError(t, rw.WriteFrame([]byte{1, 2}))
	buf := make([]byte, 2)
	_, err = conn.Read(buf)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2}, buf)

	d := conf.NewDispatcher(rw)
	require.Equal(t, conf.SyncGrace, d.SyncGrace)

	conf.Transport = "carrier-pigeon://coop"
	_, err = conf.NewTransport()
	require.Error(t, err)
}

func TestNewQueueDisabled(t *testing.T) {
	conf := builtinConfig()
	q, err := conf.NewQueue()
	require.NoError(t, err)
	require.Nil(t, q)
}
