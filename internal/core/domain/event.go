package domain

import "fmt"

type SensorUpdateEventMixIn struct {
	Id string
}

type SensorUpdateEvent interface {
	SensorUpdateEvent() string
	SensorId() string
}

func (e SensorUpdateEventMixIn) SensorUpdateEvent() string {
	return fmt.Sprintf("%T", e)
}

func (e SensorUpdateEventMixIn) SensorId() string {
	return e.Id
}

type FloatSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value    float64
	Decimals uint
}

type BinarySensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

type SwitchSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

type TextSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value string
}

func floatEvent(id string, value float64, decimals uint) SensorUpdateEvent {
	return FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: id},
		Value:                  value,
		Decimals:               decimals,
	}
}

// StateToUpdateEvents maps one supervisor cycle to per-entity sensor updates.
func StateToUpdateEvents(state SupervisorState) []SensorUpdateEvent {
	return []SensorUpdateEvent{
		floatEvent(SENSOR_ID_LOAD_VOLTAGE, state.Load.Voltage, 1),
		floatEvent(SENSOR_ID_LOAD_CURRENT, state.Load.Current, 2),
		floatEvent(SENSOR_ID_LOAD_POWER, float64(state.Load.Power), 0),
		floatEvent(SENSOR_ID_LOAD_ENERGY, float64(state.Load.Wh), 0),
		floatEvent(SENSOR_ID_SOLAR_VOLTAGE, state.Solar.Voltage, 1),
		floatEvent(SENSOR_ID_SOLAR_CURRENT, state.Solar.Current, 2),
		floatEvent(SENSOR_ID_SOLAR_POWER, float64(state.Solar.Power), 0),
		floatEvent(SENSOR_ID_BATTERY_VOLTAGE, state.Battery.Voltage, 1),
		floatEvent(SENSOR_ID_BATTERY_CURRENT, state.Battery.Current, 2),
		floatEvent(SENSOR_ID_BATTERY_SOC, float64(state.Battery.SOC), 0),
		floatEvent(SENSOR_ID_BATTERY_SOC_ESTIMATED, state.Battery.SOCEstimated, 1),
		floatEvent(SENSOR_ID_BATTERY_TEMPERATURE, float64(state.Battery.Temperature), 0),
		floatEvent(SENSOR_ID_CHARGE_ENERGY, float64(state.Battery.ChargeWh), 0),
		floatEvent(SENSOR_ID_MAX_CHARGE_CURRENT, state.Profile.MaxChargeCurrent, 2),
		TextSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: SENSOR_ID_CHARGE_PROFILE},
			Value:                  state.Profile.Name(),
		},
		BinarySensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: SENSOR_ID_OVERHEATED},
			Value:                  state.Overheated,
		},
		SwitchSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: SWITCH_ID_INTEGRATED},
			Value:                  state.Integrated,
		},
	}
}
