package main

import (
	"testing"

	"github.com/berfenger/srne2mqtt/internal/core/service"
	"github.com/berfenger/srne2mqtt/pkg/srne_modbus"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestConfigDefaults(t *testing.T) {
	assert := assert.New(t)
	viper.Reset()
	t.Cleanup(viper.Reset)

	setConfigDefaults()

	assert.Equal(srne_modbus.DEFAULT_RESPONSE_TIMEOUT.Milliseconds(), viper.GetInt64("serial.timeout_millis"))
	assert.Equal(int64(60), viper.GetInt64("serial.timeout_millis"))
	assert.Equal("test/data/up3", viper.GetString("mqtt.telemetry_topic"))
	assert.Equal(service.DefaultSupervisorConfig().TelemetryTopic, viper.GetString("mqtt.telemetry_topic"))
}
