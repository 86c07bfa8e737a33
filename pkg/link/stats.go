package link

import (
	"fmt"
	"sync/atomic"
)

// Stats is a snapshot of the diagnostic counters of a Dispatcher.
type Stats struct {
	Sent            int64
	Retransmits     int64
	Acks            int64
	UnmatchedAcks   int64
	Pushes          int64
	PipelineFrames  int64
	PipelineDropped int64
	Malformed       int64
	Unknown         int64
	Timeouts        int64
	TransportErrors int64
}

// String implements fmt.Stringer.
func (s Stats) String() string {
	return fmt.Sprintf("sent=%d retrans=%d acks=%d unmatched=%d pushes=%d pipeline=%d/%d malformed=%d unknown=%d timeouts=%d transport-errors=%d",
		s.Sent, s.Retransmits, s.Acks, s.UnmatchedAcks, s.Pushes,
		s.PipelineFrames, s.PipelineDropped, s.Malformed, s.Unknown,
		s.Timeouts, s.TransportErrors)
}

// counters is always allocated on its own so the int64 fields stay
// 64-bit aligned for atomic access.
type counters struct {
	s Stats
}

func (c *counters) inc(field *int64) {
	atomic.AddInt64(field, 1)
}

func (c *counters) snapshot() Stats {
	return Stats{
		Sent:            atomic.LoadInt64(&c.s.Sent),
		Retransmits:     atomic.LoadInt64(&c.s.Retransmits),
		Acks:            atomic.LoadInt64(&c.s.Acks),
		UnmatchedAcks:   atomic.LoadInt64(&c.s.UnmatchedAcks),
		Pushes:          atomic.LoadInt64(&c.s.Pushes),
		PipelineFrames:  atomic.LoadInt64(&c.s.PipelineFrames),
		PipelineDropped: atomic.LoadInt64(&c.s.PipelineDropped),
		Malformed:       atomic.LoadInt64(&c.s.Malformed),
		Unknown:         atomic.LoadInt64(&c.s.Unknown),
		Timeouts:        atomic.LoadInt64(&c.s.Timeouts),
		TransportErrors: atomic.LoadInt64(&c.s.TransportErrors),
	}
}
