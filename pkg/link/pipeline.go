package link

import (
	"errors"
	"sync"

	"github.com/robotalks/flightlink/pkg/cmdset"
)

var (
	// ErrPipelineExists indicates the pipeline id is already in use.
	ErrPipelineExists = errors.New("pipeline already exists")
	// ErrNoPipeline indicates the pipeline doesn't exist or is destroyed.
	ErrNoPipeline = errors.New("no such pipeline")
)

// DefaultPipelineBuffer is the receive buffer size of a pipeline.
const DefaultPipelineBuffer = 16

// Pipeline is a logical data channel multiplexed on the link.
// Data is not acknowledged, the command id of a frame is the pipeline id.
type Pipeline struct {
	ID byte

	owner *Pipelines
	recv  chan []byte
}

// Cmd returns the command id used for frames of this pipeline.
func (p *Pipeline) Cmd() cmdset.ID {
	return cmdset.ID{Set: cmdset.SetPipeline, ID: p.ID}
}

// Write sends data on the pipeline.
func (p *Pipeline) Write(data []byte) error {
	if p.owner.get(p.ID) != p {
		return ErrNoPipeline
	}
	return p.owner.d.SendDirect(p.Cmd(), data)
}

// Recv returns the channel of received data.
// It's closed when the pipeline is destroyed.
func (p *Pipeline) Recv() <-chan []byte {
	return p.recv
}

// Close destroys the pipeline.
func (p *Pipeline) Close() error {
	return p.owner.Destroy(p.ID)
}

// Pipelines manages pipelines of a Dispatcher.
type Pipelines struct {
	d     *Dispatcher
	lock  sync.Mutex
	pipes map[byte]*Pipeline
}

// Create creates a pipeline with the id. bufSize <= 0 uses
// DefaultPipelineBuffer.
func (m *Pipelines) Create(id byte, bufSize int) (*Pipeline, error) {
	if bufSize <= 0 {
		bufSize = DefaultPipelineBuffer
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	if _, exist := m.pipes[id]; exist {
		return nil, ErrPipelineExists
	}
	if m.pipes == nil {
		m.pipes = make(map[byte]*Pipeline)
	}
	p := &Pipeline{ID: id, owner: m, recv: make(chan []byte, bufSize)}
	m.pipes[id] = p
	return p, nil
}

// Destroy removes the pipeline and closes its receive channel.
func (m *Pipelines) Destroy(id byte) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	p, ok := m.pipes[id]
	if !ok {
		return ErrNoPipeline
	}
	delete(m.pipes, id)
	close(p.recv)
	return nil
}

func (m *Pipelines) get(id byte) *Pipeline {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.pipes[id]
}

// deliver never blocks, data is dropped when the receiver falls behind.
func (m *Pipelines) deliver(id byte, data []byte) bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	p, ok := m.pipes[id]
	if !ok {
		return false
	}
	select {
	case p.recv <- data:
		return true
	default:
		return false
	}
}

func (m *Pipelines) destroyAll() {
	m.lock.Lock()
	defer m.lock.Unlock()
	for id, p := range m.pipes {
		delete(m.pipes, id)
		close(p.recv)
	}
}
