package telemetry

// Wire identifiers of the flow sensor on the telemetry link.
const (
	DefaultSystemID    = 1
	DefaultComponentID = 42
	DefaultSensorID    = 68
)

// Heartbeat field values.
const (
	mavTypeGeneric      = 0
	mavAutopilotInvalid = 8
	mavStateActive      = 4
)

// Identity names the sender on the link.
type Identity struct {
	SystemID    uint8
	ComponentID uint8
	SensorID    uint8
}

// DefaultIdentity is the stock sensor identity.
var DefaultIdentity = Identity{SystemID: DefaultSystemID, ComponentID: DefaultComponentID, SensorID: DefaultSensorID}

// Message is one record on the link.
type Message struct {
	Name        string `json:"msg"`
	SystemID    uint8  `json:"sysid"`
	ComponentID uint8  `json:"compid"`
	Payload     any    `json:"payload"`
}

// OpticalFlow carries the flow in pixels and metres per second.
type OpticalFlow struct {
	TimeUsec       uint64  `json:"time_usec"`
	SensorID       uint8   `json:"sensor_id"`
	FlowX          int16   `json:"flow_x"` // decipixels
	FlowY          int16   `json:"flow_y"`
	FlowCompMX     float32 `json:"flow_comp_m_x"`
	FlowCompMY     float32 `json:"flow_comp_m_y"`
	Quality        uint8   `json:"quality"`
	GroundDistance float32 `json:"ground_distance"`
}

// OpticalFlowRad carries the flow integrated in radians with gyro rotation.
type OpticalFlowRad struct {
	TimeUsec            uint64  `json:"time_usec"`
	SensorID            uint8   `json:"sensor_id"`
	IntegrationTimeUs   uint32  `json:"integration_time_us"`
	IntegratedX         float32 `json:"integrated_x"`
	IntegratedY         float32 `json:"integrated_y"`
	IntegratedXGyro     float32 `json:"integrated_xgyro"`
	IntegratedYGyro     float32 `json:"integrated_ygyro"`
	IntegratedZGyro     float32 `json:"integrated_zgyro"`
	Temperature         int16   `json:"temperature"` // centi-degrees
	Quality             uint8   `json:"quality"`
	TimeDeltaDistanceUs uint32  `json:"time_delta_distance_us"`
	Distance            float32 `json:"distance"`
}

// Heartbeat announces the component.
type Heartbeat struct {
	Type         uint8  `json:"type"`
	Autopilot    uint8  `json:"autopilot"`
	BaseMode     uint8  `json:"base_mode"`
	CustomMode   uint32 `json:"custom_mode"`
	SystemStatus uint8  `json:"system_status"`
}

func (id Identity) message(name string, payload any) Message {
	return Message{Name: name, SystemID: id.SystemID, ComponentID: id.ComponentID, Payload: payload}
}

// FlowMessages returns the two per-frame records for s.
func (id Identity) FlowMessages(s FlowSample) []Message {
	flow := OpticalFlow{
		TimeUsec:       s.TimeUsec,
		SensorID:       id.SensorID,
		FlowX:          s.FlowXDeciPx,
		FlowY:          s.FlowYDeciPx,
		FlowCompMX:     float32(s.FlowXMS),
		FlowCompMY:     float32(s.FlowYMS),
		Quality:        s.Quality,
		GroundDistance: float32(s.GroundDistanceM),
	}
	rad := OpticalFlowRad{
		TimeUsec:          s.TimeUsec,
		SensorID:          id.SensorID,
		IntegrationTimeUs: s.IntegrationUs,
		IntegratedX:       float32(s.FlowXRad),
		IntegratedY:       float32(s.FlowYRad),
		IntegratedXGyro:   float32(s.GyroXRad),
		IntegratedYGyro:   float32(s.GyroYRad),
		IntegratedZGyro:   float32(s.GyroZRad),
		Temperature:       s.TemperatureCdeg,
		Quality:           s.Quality,
		Distance:          float32(s.GroundDistanceM),
	}
	return []Message{id.message("OPTICAL_FLOW", flow), id.message("OPTICAL_FLOW_RAD", rad)}
}

// HeartbeatMessage returns the periodic presence record.
func (id Identity) HeartbeatMessage() Message {
	return id.message("HEARTBEAT", Heartbeat{
		Type:         mavTypeGeneric,
		Autopilot:    mavAutopilotInvalid,
		SystemStatus: mavStateActive,
	})
}
