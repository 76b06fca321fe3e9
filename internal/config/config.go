package config

import (
	"errors"
	"regexp"
	"strings"

	"github.com/berfenger/srne2mqtt/pkg/srne_modbus"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel   zapcore.Level
	Serial     SerialConfig               `mapstructure:"serial"`
	Gateway    GatewayConfig              `mapstructure:"gateway"`
	Command    CommandConfig              `mapstructure:"command"`
	MQTT       MQTTConfig                 `mapstructure:"mqtt"`
	Supervisor SupervisorConfig           `mapstructure:"supervisor"`
	Device     srne_modbus.DeviceSettings `mapstructure:"device"`
	Store      StoreConfig                `mapstructure:"store"`
	Metrics    MetricsConfig              `mapstructure:"metrics"`
	Port       uint                       `mapstructure:"port"`
	HttpLog    bool                       `mapstructure:"http_log"`
	Simulate   bool                       `mapstructure:"simulate"`
	Timezone   string                     `mapstructure:"timezone"`
}

type SerialConfig struct {
	Device              string
	BaudRate            int    `mapstructure:"baud_rate"`
	UnitId              uint8  `mapstructure:"unit_id"`
	TimeoutMillis       uint32 `mapstructure:"timeout_millis"`
	ReadIntervalMillis  uint32 `mapstructure:"read_interval_millis"`
	WriteIntervalMillis uint32 `mapstructure:"write_interval_millis"`
}

// GatewayConfig selects a Modbus gateway instead of a local serial line when URL is set.
type GatewayConfig struct {
	URL string
}

type CommandConfig struct {
	Device   string
	BaudRate int `mapstructure:"baud_rate"`
}

type SupervisorConfig struct {
	AlarmPeriodMillis    uint32  `mapstructure:"alarm_period_millis"`
	FaultThreshold       int     `mapstructure:"fault_threshold"`
	FullChargeTrigger    string  `mapstructure:"full_charge_trigger"`
	FullChargeVoltage    float64 `mapstructure:"full_charge_voltage"`
	LoadReductionPeriods int32   `mapstructure:"load_reduction_periods"`
	LoadReductionFactor  float64 `mapstructure:"load_reduction_factor"`
	ProvisionOnBoot      bool    `mapstructure:"provision_on_boot"`
}

type StoreConfig struct {
	Path string
}

type MetricsConfig struct {
	StatsdAddr string `mapstructure:"statsd_addr"`
	Namespace  string
	Tags       []string
}

type MQTTConfig struct {
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	TelemetryTopic    string `mapstructure:"telemetry_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}

// CheckTelemetryTopic accepts slash separated levels, without wildcards.
func CheckTelemetryTopic(topic string) (string, error) {
	topicRegexp := regexp.MustCompile("^[a-zA-Z0-9_-]+(/[a-zA-Z0-9_-]+)*$")
	if !topicRegexp.MatchString(topic) {
		return "", errors.New("invalid telemetry topic. levels can only contain letters, numbers, dashes and underscores")
	}
	return topic, nil
}
