package link

import (
	"time"

	"github.com/robotalks/flightlink/pkg/cmdset"
	"github.com/robotalks/flightlink/pkg/frame"
)

type pendingRequest struct {
	cmd     cmdset.ID
	seq     frame.Seq
	encoded []byte
	ackSize int
	timeout time.Duration
	// attempts left including the one in flight.
	attempts int
	gen      int
	timer    *time.Timer
	done     bool
	cb       Callback
}

// finish marks the request complete and stops its timer.
// It reports false if the request was already completed.
func (p *pendingRequest) finish() bool {
	if p.done {
		return false
	}
	p.done = true
	if p.timer != nil {
		p.timer.Stop()
	}
	return true
}

func (p *pendingRequest) notify(r Result) {
	if p.cb != nil {
		p.cb(r)
	}
}

// pendingTable is not safe for concurrent use, the Dispatcher guards it.
type pendingTable struct {
	reqs map[frame.Seq]*pendingRequest
	last frame.Seq
}

func newPendingTable() pendingTable {
	return pendingTable{reqs: make(map[frame.Seq]*pendingRequest)}
}

// nextSeq allocates a sequence number not used by any outstanding request.
func (t *pendingTable) nextSeq() (frame.Seq, bool) {
	seq := t.last
	for i := 0; i < 0xffff; i++ {
		seq = seq.Next()
		if _, busy := t.reqs[seq]; !busy {
			t.last = seq
			return seq, true
		}
	}
	return 0, false
}

func (t *pendingTable) add(p *pendingRequest) {
	t.reqs[p.seq] = p
}

func (t *pendingTable) get(seq frame.Seq) *pendingRequest {
	return t.reqs[seq]
}

func (t *pendingTable) remove(p *pendingRequest) {
	if t.reqs[p.seq] == p {
		delete(t.reqs, p.seq)
	}
}

func (t *pendingTable) drain() []*pendingRequest {
	reqs := make([]*pendingRequest, 0, len(t.reqs))
	for seq, p := range t.reqs {
		reqs = append(reqs, p)
		delete(t.reqs, seq)
	}
	return reqs
}

func (t *pendingTable) len() int {
	return len(t.reqs)
}
