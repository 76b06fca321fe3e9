package util

import (
	"github.com/berfenger/srne2mqtt/internal/config"
	"github.com/berfenger/srne2mqtt/pkg/srne_modbus"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		Serial: config.SerialConfig{
			Device:        "/dev/null",
			BaudRate:      9600,
			UnitId:        1,
			TimeoutMillis: 10,
		},
		MQTT: config.MQTTConfig{
			Host:             "localhost",
			Port:             1883,
			BaseTopic:        "srne2mqtt",
			TelemetryTopic:   "test/data/up3",
			HADiscoveryTopic: "homeassistant",
		},
		Supervisor: config.SupervisorConfig{
			AlarmPeriodMillis:    5000,
			FaultThreshold:       5,
			FullChargeTrigger:    "soc",
			FullChargeVoltage:    14.2,
			LoadReductionPeriods: 2160,
			LoadReductionFactor:  0.7,
		},
		Device: srne_modbus.DefaultDeviceSettings(),
		Store: config.StoreConfig{
			Path: ":memory:",
		},
		Simulate: true,
		Timezone: "UTC",
		Port:     8080,
	}
}
