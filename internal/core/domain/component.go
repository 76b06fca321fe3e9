package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/berfenger/srne2mqtt/pkg/srne_modbus"
	"github.com/carlmjohnson/versioninfo"
	"github.com/samber/lo"
)

const (
	SENSOR_ID_BRIDGE_STATE          = "bridge"
	SENSOR_ID_LOAD_VOLTAGE          = "load_voltage"
	SENSOR_ID_LOAD_CURRENT          = "load_current"
	SENSOR_ID_LOAD_POWER            = "load_power"
	SENSOR_ID_LOAD_ENERGY           = "load_energy"
	SENSOR_ID_SOLAR_VOLTAGE         = "solar_voltage"
	SENSOR_ID_SOLAR_CURRENT         = "solar_current"
	SENSOR_ID_SOLAR_POWER           = "solar_power"
	SENSOR_ID_BATTERY_VOLTAGE       = "battery_voltage"
	SENSOR_ID_BATTERY_CURRENT       = "battery_current"
	SENSOR_ID_BATTERY_SOC           = "battery_soc"
	SENSOR_ID_BATTERY_SOC_ESTIMATED = "battery_soc_estimated"
	SENSOR_ID_BATTERY_TEMPERATURE   = "battery_temperature"
	SENSOR_ID_CHARGE_ENERGY         = "charge_energy"
	SENSOR_ID_CHARGE_PROFILE        = "charge_profile"
	SENSOR_ID_MAX_CHARGE_CURRENT    = "max_charge_current"
	SENSOR_ID_OVERHEATED            = "overheated"
	SWITCH_ID_INTEGRATED            = "integrated"
	STATE_CLASS_MEASUREMENT         = "measurement"
	STATE_CLASS_TOTAL_INCREASING    = "total_increasing"
	DEVICE_CLASS_BATTERY            = "battery"
	DEVICE_CLASS_CURRENT            = "current"
	DEVICE_CLASS_ENERGY             = "energy"
	DEVICE_CLASS_POWER              = "power"
	DEVICE_CLASS_TEMPERATURE        = "temperature"
	DEVICE_CLASS_VOLTAGE            = "voltage"
	DEVICE_CLASS_CONNECTIVITY       = "connectivity"
	DEVICE_CLASS_HEAT               = "heat"
	ENTITY_CLASS_DIAGNOSTIC         = "diagnostic"
	SENSOR_TYPE_SENSOR              = "sensor"
	SENSOR_TYPE_BINARY              = "binary_sensor"
)

type Device struct {
	Id           string
	Name         string
	Version      string
	Model        string
	Manufacturer string
	ViaDevice    string
}

type GenericSensor struct {
	Device            Device
	Id                string
	SensorType        string
	Name              string
	UniqueId          string
	UnitOfMeasurement string
	StateClass        string // measurement, total_increasing
	DeviceClass       string // voltage, current, power, energy
	EntityCategory    string // diagnostic or empty
	EnabledByDefault  *bool
	Icon              string
}

type GenericSwitch struct {
	Device   Device
	Id       string
	Name     string
	UniqueId string
	Icon     string
}

func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("srne_bridge_%s", md5HashShort(baseTopic)),
		Manufacturer: "ACasal",
		Model:        "srne2mqtt",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("srne2mqtt %s", md5HashShort(baseTopic)),
	}
}

func ControllerDevice(info *srne_modbus.DeviceInfo, baseTopic string) Device {
	id := md5HashShort(fmt.Sprintf("%s/%s", baseTopic, info.Model))
	return Device{
		Id:           fmt.Sprintf("srne_controller_%s", id),
		Version:      info.SoftwareVersion,
		Manufacturer: "SRNE",
		Model:        fmt.Sprintf("%s %dV %dA", info.Model, info.RatedVoltage, info.RatedCurrent),
		Name:         fmt.Sprintf("SRNE %s %s", info.Model, id),
	}
}

func IdDevice(device Device) Device {
	return Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

func BridgeSensors(bridgeDevice Device) []GenericSensor {
	return []GenericSensor{{
		Device:         bridgeDevice,
		Id:             SENSOR_ID_BRIDGE_STATE,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Bridge state",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
	}}
}

type measurement struct {
	id          string
	name        string
	unit        string
	deviceClass string
	stateClass  string
	diagnostic  bool
}

var controllerMeasurements = []measurement{
	{SENSOR_ID_LOAD_VOLTAGE, "Load voltage", "V", DEVICE_CLASS_VOLTAGE, STATE_CLASS_MEASUREMENT, false},
	{SENSOR_ID_LOAD_CURRENT, "Load current", "A", DEVICE_CLASS_CURRENT, STATE_CLASS_MEASUREMENT, false},
	{SENSOR_ID_LOAD_POWER, "Load power", "W", DEVICE_CLASS_POWER, STATE_CLASS_MEASUREMENT, false},
	{SENSOR_ID_LOAD_ENERGY, "Load energy", "Wh", DEVICE_CLASS_ENERGY, STATE_CLASS_TOTAL_INCREASING, false},
	{SENSOR_ID_SOLAR_VOLTAGE, "Solar voltage", "V", DEVICE_CLASS_VOLTAGE, STATE_CLASS_MEASUREMENT, false},
	{SENSOR_ID_SOLAR_CURRENT, "Solar current", "A", DEVICE_CLASS_CURRENT, STATE_CLASS_MEASUREMENT, false},
	{SENSOR_ID_SOLAR_POWER, "Solar power", "W", DEVICE_CLASS_POWER, STATE_CLASS_MEASUREMENT, false},
	{SENSOR_ID_BATTERY_VOLTAGE, "Battery voltage", "V", DEVICE_CLASS_VOLTAGE, STATE_CLASS_MEASUREMENT, false},
	{SENSOR_ID_BATTERY_CURRENT, "Battery current", "A", DEVICE_CLASS_CURRENT, STATE_CLASS_MEASUREMENT, false},
	{SENSOR_ID_BATTERY_SOC, "Battery SoC", "%", DEVICE_CLASS_BATTERY, STATE_CLASS_MEASUREMENT, false},
	{SENSOR_ID_BATTERY_SOC_ESTIMATED, "Battery SoC (estimated)", "%", DEVICE_CLASS_BATTERY, STATE_CLASS_MEASUREMENT, true},
	{SENSOR_ID_BATTERY_TEMPERATURE, "Battery temperature", "°C", DEVICE_CLASS_TEMPERATURE, STATE_CLASS_MEASUREMENT, false},
	{SENSOR_ID_CHARGE_ENERGY, "Charge energy", "Wh", DEVICE_CLASS_ENERGY, STATE_CLASS_TOTAL_INCREASING, false},
	{SENSOR_ID_MAX_CHARGE_CURRENT, "Max charge current", "A", DEVICE_CLASS_CURRENT, STATE_CLASS_MEASUREMENT, true},
	{SENSOR_ID_CHARGE_PROFILE, "Charge profile", "", "", "", true},
}

func ControllerSensors(controllerDevice Device) []GenericSensor {
	sensors := lo.Map(controllerMeasurements, func(m measurement, i int) GenericSensor {
		device := controllerDevice
		// the full device description travels with the first sensor only
		if i > 0 {
			device = IdDevice(controllerDevice)
		}
		return GenericSensor{
			Device:            device,
			Id:                m.id,
			SensorType:        SENSOR_TYPE_SENSOR,
			Name:              m.name,
			UnitOfMeasurement: m.unit,
			DeviceClass:       m.deviceClass,
			StateClass:        m.stateClass,
			EntityCategory:    lo.Ternary(m.diagnostic, ENTITY_CLASS_DIAGNOSTIC, ""),
			UniqueId:          uniqueId(controllerDevice.Id, m.id),
		}
	})
	sensors = append(sensors, GenericSensor{
		Device:      IdDevice(controllerDevice),
		Id:          SENSOR_ID_OVERHEATED,
		SensorType:  SENSOR_TYPE_BINARY,
		Name:        "Overheat protection",
		DeviceClass: DEVICE_CLASS_HEAT,
		UniqueId:    uniqueId(controllerDevice.Id, SENSOR_ID_OVERHEATED),
	})
	return sensors
}

func ControllerSwitches(controllerDevice Device) []GenericSwitch {
	return []GenericSwitch{{
		Device:   IdDevice(controllerDevice),
		Id:       SWITCH_ID_INTEGRATED,
		Name:     "Integrated mode",
		UniqueId: uniqueId(controllerDevice.Id, SWITCH_ID_INTEGRATED),
		Icon:     "mdi:solar-power-variant",
	}}
}

func uniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

func md5Hash(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])
}

func md5HashShort(text string) string {
	return md5Hash(text)[0:8]
}
