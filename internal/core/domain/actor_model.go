package domain

import "github.com/berfenger/srne2mqtt/pkg/srne_modbus"

const (
	ACTOR_ID_MASTER       = "master"
	ACTOR_ID_MODBUS       = "modbus"
	ACTOR_ID_MQTT         = "mqtt"
	ACTOR_ID_CONTROLLER   = "controller"
	ACTOR_ID_HA_DISCOVERY = "hadiscovery"
)

type GetDeviceInfoRequest struct {
	ActorRequestMixIn
}

type GetDeviceInfoResponse struct {
	ActorResponseMixIn
	Device *srne_modbus.DeviceInfo
}

type ProvisionRequest struct {
	ActorRequestMixIn
	ChargeCurrent float64
	Settings      srne_modbus.DeviceSettings
	Schedules     []srne_modbus.LoadSchedule
}

type ProvisionResponse struct {
	ActorResponseMixIn
}

type FactoryResetRequest struct {
	ActorRequestMixIn
}

type FactoryResetResponse struct {
	ActorResponseMixIn
}

type ReadRegistersRequest struct {
	ActorRequestMixIn
	Address uint16
	Count   uint16
}

type ReadRegistersResponse struct {
	ActorResponseMixIn
	Address uint16
	Values  []uint16
}

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

type PublishSensorUpdateRequest struct {
	ActorRequestMixIn
	Retain bool
	Event  SensorUpdateEvent
}

type PublishSensorUpdateResponse struct {
	ActorResponseMixIn
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Sensors  []GenericSensor
	Switches []GenericSwitch
}

type PublishDiscoveryResponse struct {
	ActorResponseMixIn
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}
