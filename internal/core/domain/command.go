package domain

import "time"

// ControllerRequest is a command routed to the supervisor actor.
type ControllerRequest interface {
	ActorRequest
	controllerRequest()
}

type ControllerRequestMixIn struct {
	ActorRequestMixIn
}

func (ControllerRequestMixIn) controllerRequest() {}

type ControllerSetIntegratedRequest struct {
	ControllerRequestMixIn
	Enable bool
}

type ControllerSetIntegratedResponse struct {
	ActorResponseMixIn
	Integrated bool
	Changed    bool
}

type ControllerSetTimeRequest struct {
	ControllerRequestMixIn
	Time time.Time
}

type ControllerSetTimeResponse struct {
	ActorResponseMixIn
}

type ControllerEraseStorageRequest struct {
	ControllerRequestMixIn
}

type ControllerEraseStorageResponse struct {
	ActorResponseMixIn
}

type ControllerFactoryResetRequest struct {
	ControllerRequestMixIn
}

type ControllerFactoryResetResponse struct {
	ActorResponseMixIn
}

type ControllerGetStateRequest struct {
	ControllerRequestMixIn
}

type ControllerGetStateResponse struct {
	ActorResponseMixIn
	State SupervisorState
}

// SupervisorState is a read-only copy of the supervisor context.
type SupervisorState struct {
	Phase              string           `json:"phase"`
	Time               TimeSnapshot     `json:"time"`
	Load               LoadTelemetry    `json:"load"`
	Solar              SolarTelemetry   `json:"solar"`
	Battery            BatteryTelemetry `json:"battery"`
	Profile            ChargingProfile  `json:"profile"`
	Integrated         bool             `json:"integrated"`
	Overheated         bool             `json:"overheated"`
	FullChargeStop     bool             `json:"full_charge_stop"`
	ReducedLoadCurrent bool             `json:"reduced_load_current"`
	LastForecastWh     float64          `json:"last_forecast_wh"`
	Slot               int32            `json:"slot"`
	ActivePeriods      int32            `json:"active_periods"`
}

// ensure interface compliance
var (
	_ ControllerRequest = (*ControllerSetIntegratedRequest)(nil)
	_ ControllerRequest = (*ControllerSetTimeRequest)(nil)
	_ ControllerRequest = (*ControllerEraseStorageRequest)(nil)
	_ ControllerRequest = (*ControllerFactoryResetRequest)(nil)
	_ ControllerRequest = (*ControllerGetStateRequest)(nil)
)
