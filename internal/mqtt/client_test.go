package mqtt

import (
	"testing"

	"github.com/berfenger/srne2mqtt/internal/config"
	"github.com/berfenger/srne2mqtt/internal/core/domain"
	"github.com/stretchr/testify/assert"
)

func testClient() *Client {
	cfg := &config.Config{MQTT: config.MQTTConfig{Host: "localhost", Port: 1883, BaseTopic: "srne2mqtt"}}
	return NewClient(cfg, nil)
}

func TestParseSwitchCommand(t *testing.T) {

	assert := assert.New(t)

	cmd, err := parseSwitchCommand("srne2mqtt", "srne2mqtt/switch/integrated/command", []byte("ON"))
	assert.NoError(err)
	assert.Equal(SwitchCommand{SwitchId: "integrated", On: true}, cmd)

	cmd, err = parseSwitchCommand("srne2mqtt", "srne2mqtt/switch/integrated/command", []byte(" off\n"))
	assert.NoError(err)
	assert.False(cmd.On)
}

func TestParseSwitchCommandFail(t *testing.T) {

	assert := assert.New(t)

	for _, topic := range []string{
		"srne2mqtt/switch/integrated/state",
		"srne2mqtt/sensor/battery_soc/command",
		"other/switch/integrated/command",
		"srne2mqtt/switch//command",
		"srne2mqtt/switch/integrated/command/extra",
	} {
		_, err := parseSwitchCommand("srne2mqtt", topic, []byte("on"))
		assert.Error(err, topic)
	}

	_, err := parseSwitchCommand("srne2mqtt", "srne2mqtt/switch/integrated/command", []byte("toggle"))
	assert.Error(err)
}

func TestStateTopics(t *testing.T) {

	assert := assert.New(t)

	client := testClient()
	assert.Equal("srne2mqtt/bridge/state", client.BridgeStateTopic())
	assert.Equal("srne2mqtt/sensor/battery_soc/state", client.SensorStateTopic("battery_soc"))
	assert.Equal("srne2mqtt/binary_sensor/overheated/state", client.BinarySensorStateTopic("overheated"))
	assert.Equal("srne2mqtt/switch/+/command", client.SwitchCommandTopic("+"))
}

func TestHADiscoveryTopics(t *testing.T) {

	assert := assert.New(t)

	client := testClient()
	dev := domain.Device{Id: "srne_controller_x"}
	sensors := domain.ControllerSensors(dev)

	assert.Equal("homeassistant/sensor/srne_controller_x/load_voltage/config", client.HADiscoverySensorTopic(sensors[0]))
	client.cfg.HADiscoveryTopic = "ha"
	assert.Equal("ha/switch/srne_controller_x/integrated/config", client.HADiscoverySwitchTopic(domain.ControllerSwitches(dev)[0]))
}

func TestHADiscoveryMessages(t *testing.T) {

	assert := assert.New(t)

	client := testClient()
	dev := domain.Device{Id: "srne_controller_x"}

	for _, sensor := range domain.ControllerSensors(dev) {
		msg := GenericSensorToHADiscoveryMessage(client, sensor)
		assert.Equal("srne2mqtt/bridge/state", msg.AvTopic)
		if sensor.SensorType == domain.SENSOR_TYPE_BINARY {
			assert.Equal("srne2mqtt/binary_sensor/"+sensor.Id+"/state", msg.StateTopic)
			assert.Equal(MQTT_PAYLOAD_ON, msg.PayloadOn)
		} else {
			assert.Equal("srne2mqtt/sensor/"+sensor.Id+"/state", msg.StateTopic)
			assert.Empty(msg.PayloadOn)
		}
	}

	bridge := GenericSensorToHADiscoveryMessage(client, domain.BridgeSensors(dev)[0])
	assert.Equal("srne2mqtt/bridge/state", bridge.StateTopic)
	assert.Equal(MQTT_PAYLOAD_ONLINE, bridge.PayloadOn)

	sw := GenericSwitchToHADiscoveryMessage(client, domain.ControllerSwitches(dev)[0])
	assert.Equal("srne2mqtt/switch/integrated/command", sw.CommandTopic)
	assert.Equal("srne2mqtt/switch/integrated/state", sw.StateTopic)
}
