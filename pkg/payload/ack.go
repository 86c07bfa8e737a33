// Package payload contains helpers shared by the payload modules, which
// build command payloads and call the link.
package payload

import (
	"context"
	"fmt"
	"time"

	"github.com/robotalks/flightlink/pkg/cmdset"
	"github.com/robotalks/flightlink/pkg/link"
)

// AckOK is the result byte of a successful ack.
const AckOK byte = 0

// AckError is a non-zero result byte in an ack.
type AckError struct {
	Cmd  cmdset.ID
	Code byte
}

// Error implements error.
func (e *AckError) Error() string {
	return fmt.Sprintf("command %s rejected: 0x%02x", e.Cmd, e.Code)
}

// CheckAck checks the leading result byte of an ack payload.
func CheckAck(cmd cmdset.ID, data []byte) error {
	if len(data) == 0 {
		return link.NewError(link.MalformedResponse, cmd, link.ErrShortAck)
	}
	if data[0] != AckOK {
		return &AckError{Cmd: cmd, Code: data[0]}
	}
	return nil
}

// Call sends a request synchronously and checks the ack.
func Call(ctx context.Context, s link.Sender, id cmdset.ID, payload []byte, opts link.SyncOptions) ([]byte, error) {
	data, err := s.SendSyncWith(ctx, id, payload, opts)
	if err != nil {
		return data, err
	}
	return data, CheckAck(id, data)
}

// CallAsync sends a request asynchronously, cb receives the checked ack.
func CallAsync(s link.Sender, id cmdset.ID, payload []byte, timeout time.Duration, attempts int, cb func([]byte, error)) {
	s.SendAsync(id, payload, timeout, attempts, func(r link.Result) {
		if cb == nil {
			return
		}
		if !r.OK() {
			cb(r.Data, r.Err)
			return
		}
		cb(r.Data, CheckAck(id, r.Data))
	})
}

// Malformed reports an ack with unexpected content.
func Malformed(cmd cmdset.ID) error {
	return link.NewError(link.MalformedResponse, cmd, link.ErrShortAck)
}
