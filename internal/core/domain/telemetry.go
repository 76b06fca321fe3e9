package domain

import (
	"fmt"
	"time"

	"github.com/berfenger/srne2mqtt/pkg/srne_modbus"
)

// TimeSnapshot is the wall-clock reading taken at the start of a cycle.
type TimeSnapshot struct {
	Year   int
	Month  int
	Day    int
	Hour   int
	Minute int
	Second int
}

func TimeSnapshotOf(t time.Time) TimeSnapshot {
	return TimeSnapshot{
		Year:   t.Year(),
		Month:  int(t.Month()),
		Day:    t.Day(),
		Hour:   t.Hour(),
		Minute: t.Minute(),
		Second: t.Second(),
	}
}

func (t TimeSnapshot) String() string {
	return fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%02d", t.Year, t.Month, t.Day, t.Hour, t.Minute, t.Second)
}

func (t TimeSnapshot) IsZero() bool {
	return t.Year == 0
}

// Daytime covers 06:00 to 17:59.
func (t TimeSnapshot) Daytime() bool {
	return t.Hour >= 6 && t.Hour <= 17
}

// Night covers 20:00 to 05:59.
func (t TimeSnapshot) Night() bool {
	return t.Hour >= 20 || t.Hour < 6
}

type LoadTelemetry struct {
	srne_modbus.LoadInfo
	Wh     uint32
	LastWh uint32
}

type SolarTelemetry struct {
	srne_modbus.SolarInfo
}

type BatteryTelemetry struct {
	srne_modbus.BatteryInfo
	SOCEstimated float64
	ChargeWh     uint32
	LastChargeWh uint32
	ChargeAh     uint32
	DischargeAh  uint32
}

// TelemetryRecord is the compact payload published on the message bus.
type TelemetryRecord struct {
	LoadVoltage        float64 `json:"lv"`
	LoadCurrent        float64 `json:"lc"`
	LoadPower          int     `json:"lp"`
	LoadWh             uint32  `json:"lw"`
	SolarVoltage       float64 `json:"sv"`
	SolarCurrent       float64 `json:"sc"`
	SolarPower         int     `json:"sp"`
	BatteryVoltage     float64 `json:"bv"`
	BatteryCurrent     float64 `json:"bc"`
	BatterySOC         int     `json:"bs"`
	BatteryTemperature int     `json:"bt"`
	ChargeWh           uint32  `json:"cw"`
	Timestamp          string  `json:"timestamp"`
}

func NewTelemetryRecord(load LoadTelemetry, solar SolarTelemetry, battery BatteryTelemetry, ts TimeSnapshot) TelemetryRecord {
	return TelemetryRecord{
		LoadVoltage:        load.Voltage,
		LoadCurrent:        load.Current,
		LoadPower:          load.Power,
		LoadWh:             load.Wh,
		SolarVoltage:       solar.Voltage,
		SolarCurrent:       solar.Current,
		SolarPower:         solar.Power,
		BatteryVoltage:     battery.Voltage,
		BatteryCurrent:     battery.Current,
		BatterySOC:         battery.SOC,
		BatteryTemperature: battery.Temperature,
		ChargeWh:           battery.ChargeWh,
		Timestamp:          ts.String(),
	}
}
