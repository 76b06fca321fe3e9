package srne_modbus

type LoadInfo struct {
	Voltage float64
	Current float64
	Power   int
}

type SolarInfo struct {
	Voltage float64
	Current float64
	Power   int
}

type BatteryInfo struct {
	SOC         int
	Voltage     float64
	Current     float64
	Temperature int
}

type AhTotals struct {
	ChargeAh    uint32
	DischargeAh uint32
}

type DeviceInfo struct {
	RatedVoltage    uint8
	RatedCurrent    uint8
	Model           string
	SoftwareVersion string
}

// DeviceSettings is the static configuration pushed during provisioning.
type DeviceSettings struct {
	MaxLoadCurrent             float64 `mapstructure:"max_load_current"`
	LoadPercentage             int     `mapstructure:"load_percentage"`
	LightControlVoltage        float64 `mapstructure:"light_control_voltage"`
	SystemVoltage              int     `mapstructure:"system_voltage"`
	OverChargeVoltage          float64 `mapstructure:"over_charge_voltage"`
	OverChargeReturnVoltage    float64 `mapstructure:"over_charge_return_voltage"`
	OverDischargeVoltage       float64 `mapstructure:"over_discharge_voltage"`
	OverDischargeReturnVoltage float64 `mapstructure:"over_discharge_return_voltage"`
	NominalCapacity            int     `mapstructure:"nominal_capacity"`
}

func DefaultDeviceSettings() DeviceSettings {
	return DeviceSettings{
		MaxLoadCurrent:             1.15,
		LoadPercentage:             100,
		LightControlVoltage:        5.0,
		SystemVoltage:              12,
		OverChargeVoltage:          14.4,
		OverChargeReturnVoltage:    13.8,
		OverDischargeVoltage:       9.2,
		OverDischargeReturnVoltage: 10.8,
		NominalCapacity:            310,
	}
}

type LoadSchedule struct {
	Slot            int
	DurationSeconds uint16
	AttendedPower   uint8
	UnattendedPower uint8
}

func DefaultLoadSchedules() []LoadSchedule {
	schedules := []LoadSchedule{
		{Slot: 1, DurationSeconds: 10800, AttendedPower: 100, UnattendedPower: 100},
		{Slot: 2, DurationSeconds: 32400, AttendedPower: 56, UnattendedPower: 56},
		{Slot: 3, DurationSeconds: 7200, AttendedPower: 100, UnattendedPower: 100},
	}
	for slot := 4; slot <= LOAD_SCHEDULE_SLOTS; slot++ {
		schedules = append(schedules, LoadSchedule{Slot: slot})
	}
	return schedules
}
