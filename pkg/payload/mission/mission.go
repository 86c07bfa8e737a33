// Package mission controls waypoint missions and tracks their state from
// mission pushes.
package mission

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/flightlink/pkg/cmdset"
	"github.com/robotalks/flightlink/pkg/link"
	"github.com/robotalks/flightlink/pkg/payload"
)

// DefaultTimeout spans all attempts of a synchronous call.
const DefaultTimeout = time.Second

// ErrShortPush indicates a mission push is too short.
var ErrShortPush = errors.New("mission push too short")

// State is the mission execution state.
type State byte

// Mission states.
const (
	StateDisconnected State = iota
	StateReadyToExecute
	StateExecuting
	StateInterrupted
	StateResumeAfterInterrupted
	StateExitMission
	StateFinishedMission
)

// StateUnknown is the state before any push is received.
const StateUnknown State = 0xff

var stateNames = map[State]string{
	StateDisconnected:           "disconnected",
	StateReadyToExecute:         "ready",
	StateExecuting:              "executing",
	StateInterrupted:            "interrupted",
	StateResumeAfterInterrupted: "resuming",
	StateExitMission:            "exit",
	StateFinishedMission:        "finished",
	StateUnknown:                "unknown",
}

// String implements fmt.Stringer.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Status is decoded from a mission state push:
//
//   | 0 | state | 1-2 | current waypoint index | 3-4 | velocity in cm/s |
type Status struct {
	State    State
	Waypoint uint16
	Velocity uint16
}

// DecodeStatus decodes a mission state push.
func DecodeStatus(data []byte) (Status, error) {
	if len(data) < 5 {
		return Status{State: StateUnknown}, ErrShortPush
	}
	return Status{
		State:    State(data[0]),
		Waypoint: binary.LittleEndian.Uint16(data[1:]),
		Velocity: binary.LittleEndian.Uint16(data[3:]),
	}, nil
}

// Event is decoded from a mission event push:
//
//   | 0 | event id | 1-4 | timestamp | 5- | event data |
type Event struct {
	ID        byte
	Timestamp uint32
	Data      []byte
}

// DecodeEvent decodes a mission event push.
func DecodeEvent(data []byte) (Event, error) {
	if len(data) < 5 {
		return Event{}, ErrShortPush
	}
	return Event{
		ID:        data[0],
		Timestamp: binary.LittleEndian.Uint32(data[1:]),
		Data:      data[5:],
	}, nil
}

// Mission is the waypoint mission operator.
type Mission struct {
	Sender link.Sender

	lock    sync.Mutex
	current Status
	prev    State
	onState func(prev State, s Status)
	onEvent func(Event)
}

// New creates a Mission.
func New(s link.Sender) *Mission {
	return &Mission{
		Sender:  s,
		current: Status{State: StateUnknown},
		prev:    StateUnknown,
	}
}

// Subscribe registers the mission push handlers with the router.
func (m *Mission) Subscribe(r *link.Router) {
	r.RegisterFunc(cmdset.CategoryMissionState, m.handleState)
	r.RegisterFunc(cmdset.CategoryMissionEvent, m.handleEvent)
}

// OnState sets the callback invoked when the state changes.
// It runs on the receive goroutine and must not block.
func (m *Mission) OnState(fn func(prev State, s Status)) {
	m.lock.Lock()
	m.onState = fn
	m.lock.Unlock()
}

// OnEvent sets the callback invoked for each mission event.
// It runs on the receive goroutine and must not block.
func (m *Mission) OnEvent(fn func(Event)) {
	m.lock.Lock()
	m.onEvent = fn
	m.lock.Unlock()
}

// Current returns the latest status.
func (m *Mission) Current() Status {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.current
}

// Previous returns the state before the current one.
func (m *Mission) Previous() State {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.prev
}

func (m *Mission) call(ctx context.Context, id cmdset.ID, data []byte) ([]byte, error) {
	return payload.Call(ctx, m.Sender, id, data, link.SyncOptions{Timeout: DefaultTimeout})
}

// Start starts the uploaded mission.
func (m *Mission) Start(ctx context.Context) error {
	_, err := m.call(ctx, cmdset.MissionStart, nil)
	return err
}

// Stop stops the mission.
func (m *Mission) Stop(ctx context.Context) error {
	_, err := m.call(ctx, cmdset.MissionStop, nil)
	return err
}

// Pause interrupts the mission.
func (m *Mission) Pause(ctx context.Context) error {
	_, err := m.call(ctx, cmdset.MissionPause, nil)
	return err
}

// Resume resumes an interrupted mission.
func (m *Mission) Resume(ctx context.Context) error {
	_, err := m.call(ctx, cmdset.MissionResume, nil)
	return err
}

// CruiseSpeed gets the global cruise speed in m/s.
func (m *Mission) CruiseSpeed(ctx context.Context) (float32, error) {
	data, err := m.call(ctx, cmdset.MissionGetCruiseSpeed, nil)
	if err != nil {
		return 0, err
	}
	if len(data) < 5 {
		return 0, payload.Malformed(cmdset.MissionGetCruiseSpeed)
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(data[1:])), nil
}

// SetCruiseSpeed sets the global cruise speed in m/s.
func (m *Mission) SetCruiseSpeed(ctx context.Context, speed float32) error {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, math.Float32bits(speed))
	_, err := m.call(ctx, cmdset.MissionSetCruiseSpeed, b)
	return err
}

func (m *Mission) handleState(ctx context.Context, cat cmdset.Category, data []byte) {
	s, err := DecodeStatus(data)
	if err != nil {
		glog.Warningf("drop mission state: %v", err)
		return
	}
	m.lock.Lock()
	changed := s.State != m.current.State
	if changed {
		m.prev = m.current.State
	}
	m.current = s
	prev, fn := m.prev, m.onState
	m.lock.Unlock()
	if changed {
		glog.Infof("mission state %s -> %s", prev, s.State)
		if fn != nil {
			fn(prev, s)
		}
	}
}

func (m *Mission) handleEvent(ctx context.Context, cat cmdset.Category, data []byte) {
	ev, err := DecodeEvent(data)
	if err != nil {
		glog.Warningf("drop mission event: %v", err)
		return
	}
	m.lock.Lock()
	fn := m.onEvent
	m.lock.Unlock()
	glog.V(2).Infof("mission event 0x%02x at %d", ev.ID, ev.Timestamp)
	if fn != nil {
		fn(ev)
	}
}
