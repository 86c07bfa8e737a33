package cmdset

import "time"

// Command sets.
const (
	SetCommon    byte = 0x00
	SetControl   byte = 0x01
	SetBroadcast byte = 0x02
	SetMission   byte = 0x03
	SetMFIO      byte = 0x09
	// SetPipeline is reserved for pipeline data, the command id is the
	// pipeline id.
	SetPipeline byte = 0xf0
)

// Common commands.
var (
	GetVersion = ID{SetCommon, 0x00}
)

// Control commands.
var (
	GimbalSpeed      = ID{SetControl, 0x1a}
	GimbalAngle      = ID{SetControl, 0x1b}
	GimbalReset      = ID{SetControl, 0x1c}
	CameraShot       = ID{SetControl, 0x20}
	CameraVideoStart = ID{SetControl, 0x21}
	CameraVideoStop  = ID{SetControl, 0x22}
	CameraFunction   = ID{SetControl, 0x2f}
)

// Broadcast pushes.
var (
	TelemetryPush    = ID{SetBroadcast, 0x00}
	FlightStatusPush = ID{SetBroadcast, 0x01}
	PayloadInfoPush  = ID{SetBroadcast, 0x02}
)

// Waypoint v2 mission commands and pushes.
var (
	MissionStart          = ID{SetMission, 0x40}
	MissionStop           = ID{SetMission, 0x41}
	MissionPause          = ID{SetMission, 0x42}
	MissionResume         = ID{SetMission, 0x43}
	MissionGetCruiseSpeed = ID{SetMission, 0x44}
	MissionSetCruiseSpeed = ID{SetMission, 0x45}
	MissionStatePush      = ID{SetMission, 0x52}
	MissionEventPush      = ID{SetMission, 0x53}
)

// MFIO commands.
var (
	MFIOInit = ID{SetMFIO, 0x02}
	MFIOSet  = ID{SetMFIO, 0x03}
	MFIOGet  = ID{SetMFIO, 0x04}
)

// DefaultTimeout is the per-attempt timeout used when a spec has none.
const DefaultTimeout = 500 * time.Millisecond

// DefaultAttempts is the number of transmissions used when a spec has none.
const DefaultAttempts = 2

func request(id ID, name string, ackSize, maxPayload int) Spec {
	return Spec{
		ID:         id,
		Name:       name,
		Kind:       KindRequest,
		AckSize:    ackSize,
		MaxPayload: maxPayload,
		Timeout:    DefaultTimeout,
		Attempts:   DefaultAttempts,
	}
}

func push(id ID, name string, cat Category) Spec {
	return Spec{ID: id, Name: name, Kind: KindPush, Category: cat}
}

// DefaultSpecs returns the command table of the flight controller link.
func DefaultSpecs() []Spec {
	mfioGet := request(MFIOGet, "mfio.get", 5, 1)
	mfioGet.Attempts = 3
	return []Spec{
		request(GetVersion, "common.version", 1, 0),

		request(GimbalSpeed, "gimbal.speed", 1, 7),
		request(GimbalAngle, "gimbal.angle", 1, 8),
		request(GimbalReset, "gimbal.reset", 1, 1),
		request(CameraShot, "camera.shot", 1, 1),
		request(CameraVideoStart, "camera.video-start", 1, 1),
		request(CameraVideoStop, "camera.video-stop", 1, 1),
		request(CameraFunction, "camera.function", 1, 32),

		push(TelemetryPush, "broadcast.telemetry", CategoryTelemetry),
		push(FlightStatusPush, "broadcast.flight-status", CategoryFlightStatus),
		push(PayloadInfoPush, "broadcast.payload-info", CategoryPayloadInfo),

		request(MissionStart, "mission.start", 1, 0),
		request(MissionStop, "mission.stop", 1, 0),
		request(MissionPause, "mission.pause", 1, 0),
		request(MissionResume, "mission.resume", 1, 0),
		request(MissionGetCruiseSpeed, "mission.get-cruise-speed", 5, 0),
		request(MissionSetCruiseSpeed, "mission.set-cruise-speed", 1, 4),
		push(MissionStatePush, "mission.state", CategoryMissionState),
		push(MissionEventPush, "mission.event", CategoryMissionEvent),

		request(MFIOInit, "mfio.init", 1, 8),
		request(MFIOSet, "mfio.set", 1, 5),
		mfioGet,
	}
}

// NewDefaultRegistry creates a Registry with DefaultSpecs.
func NewDefaultRegistry() *Registry {
	return NewRegistry(DefaultSpecs()...)
}
