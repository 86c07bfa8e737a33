package websocket

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

func TestReadWriterEcho(t *testing.T) {
	srv := httptest.NewServer(websocket.Handler(func(conn *websocket.Conn) {
		rw := New(conn)
		for {
			b, err := rw.ReadFrame()
			if err != nil {
				return
			}
			if rw.WriteFrame(append([]byte{0xaa}, b...)) != nil {
				return
			}
		}
	}))
	defer srv.Close()

	rw, err := Dial("ws://"+strings.TrimPrefix(srv.URL, "http://"), srv.URL)
	require.NoError(t, err)
	defer rw.Close()

	require.NoError(t, rw.WriteFrame([]byte{1, 2, 3}))
	b, err := rw.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, []byte{0xaa, 1, 2, 3}, b)
}
