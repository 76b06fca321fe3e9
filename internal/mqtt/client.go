package mqtt

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/berfenger/srne2mqtt/internal/config"

	paho "github.com/eclipse/paho.mqtt.golang"
)

const (
	MQTT_PAYLOAD_ONLINE  = "online"
	MQTT_PAYLOAD_OFFLINE = "offline"
	MQTT_PAYLOAD_ON      = "on"
	MQTT_PAYLOAD_OFF     = "off"
)

var ErrTokenTimeout = errors.New("mqtt: operation timed out")

// SwitchCommand is an operator request received on <base>/switch/<id>/command.
type SwitchCommand struct {
	SwitchId string
	On       bool
}

// Client wraps a paho client with the topic layout of the bridge. Every
// asynchronous operation reports through a continuation so actors can pipe
// the outcome back to themselves.
type Client struct {
	paho paho.Client
	cfg  config.MQTTConfig
}

func OptsFromConfig(cfg *config.Config) *paho.ClientOptions {
	opts := paho.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTT.Host, cfg.MQTT.Port)).
		SetClientID(fmt.Sprintf("srne2mqtt_%d", rand.IntN(1000))).
		SetAutoReconnect(true).
		SetWill(bridgeStateTopic(cfg.MQTT.BaseTopic), MQTT_PAYLOAD_OFFLINE, 0, true)
	if cfg.MQTT.Username != "" && cfg.MQTT.Password != "" {
		opts.SetUsername(cfg.MQTT.Username).SetPassword(cfg.MQTT.Password)
	}
	return opts
}

// NewClient builds an unconnected client. onLost may be nil.
func NewClient(cfg *config.Config, onLost func(error)) *Client {
	opts := OptsFromConfig(cfg)
	if onLost != nil {
		opts.SetConnectionLostHandler(func(_ paho.Client, err error) { onLost(err) })
	}
	return &Client{
		paho: paho.NewClient(opts),
		cfg:  cfg.MQTT,
	}
}

func (c *Client) BridgeStateTopic() string {
	return bridgeStateTopic(c.cfg.BaseTopic)
}

func (c *Client) SensorStateTopic(sensorId string) string {
	return c.entityTopic("sensor", sensorId, "state")
}

func (c *Client) BinarySensorStateTopic(sensorId string) string {
	return c.entityTopic("binary_sensor", sensorId, "state")
}

func (c *Client) SwitchStateTopic(switchId string) string {
	return c.entityTopic("switch", switchId, "state")
}

func (c *Client) SwitchCommandTopic(switchId string) string {
	return c.entityTopic("switch", switchId, "command")
}

func (c *Client) entityTopic(kind, id, leaf string) string {
	return fmt.Sprintf("%s/%s/%s/%s", c.cfg.BaseTopic, kind, id, leaf)
}

func (c *Client) Connect(timeout time.Duration, continuation func(error)) {
	await(c.paho.Connect(), "connect", timeout, continuation)
}

func (c *Client) Publish(topic string, payload any, qos byte, retain bool, timeout time.Duration, continuation func(error)) {
	await(c.paho.Publish(topic, qos, retain, payload), "publish "+topic, timeout, continuation)
}

// SubscribeToSwitchCommands delivers every well formed switch command to
// handler. Malformed messages are passed to onInvalid when it is set.
func (c *Client) SubscribeToSwitchCommands(handler func(SwitchCommand), onInvalid func(topic string, err error),
	timeout time.Duration, continuation func(error)) {
	topic := c.SwitchCommandTopic("+")
	token := c.paho.Subscribe(topic, 1, func(_ paho.Client, m paho.Message) {
		cmd, err := parseSwitchCommand(c.cfg.BaseTopic, m.Topic(), m.Payload())
		if err != nil {
			if onInvalid != nil {
				onInvalid(m.Topic(), err)
			}
			return
		}
		handler(cmd)
	})
	await(token, "subscribe "+topic, timeout, continuation)
}

func (c *Client) IsConnected() bool {
	return c.paho.IsConnectionOpen()
}

func (c *Client) Disconnect(timeout time.Duration) {
	c.paho.Disconnect(uint(timeout.Milliseconds()))
}

func await(token paho.Token, op string, timeout time.Duration, continuation func(error)) {
	go func() {
		if !token.WaitTimeout(timeout) {
			continuation(fmt.Errorf("%w: %s", ErrTokenTimeout, op))
			return
		}
		continuation(token.Error())
	}()
}

func parseSwitchCommand(baseTopic, topic string, payload []byte) (SwitchCommand, error) {
	levels := strings.Split(topic, "/")
	if len(levels) != 4 || levels[0] != baseTopic || levels[1] != "switch" || levels[3] != "command" || levels[2] == "" {
		return SwitchCommand{}, fmt.Errorf("not a switch command topic: %s", topic)
	}
	switch strings.ToLower(strings.TrimSpace(string(payload))) {
	case MQTT_PAYLOAD_ON:
		return SwitchCommand{SwitchId: levels[2], On: true}, nil
	case MQTT_PAYLOAD_OFF:
		return SwitchCommand{SwitchId: levels[2], On: false}, nil
	default:
		return SwitchCommand{}, fmt.Errorf("invalid switch payload %q", payload)
	}
}

func bridgeStateTopic(baseTopic string) string {
	return fmt.Sprintf("%s/bridge/state", baseTopic)
}
