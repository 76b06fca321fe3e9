package actor

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/berfenger/srne2mqtt/internal/config"
	"github.com/berfenger/srne2mqtt/internal/core/domain"
	"github.com/berfenger/srne2mqtt/internal/mqtt"
	"github.com/berfenger/srne2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

const (
	MQTT_CONNECT_TIMEOUT   = 10 * time.Second
	MQTT_SUBSCRIBE_TIMEOUT = time.Second
	MQTT_PUBLISH_TIMEOUT   = 5 * time.Second
)

// MQTTActor owns the broker connection. Publishes are acknowledged one at a
// time; requests arriving meanwhile wait in the stash.
type MQTTActor struct {
	config   *config.Config
	behavior actor.Behavior
	stash    *actorutil.Stash
	client   *mqtt.Client
	observer *actor.PID
	logger   *zap.Logger
}

type mqttConnected struct{}

type mqttSubscribed struct{}

type mqttConnectionLost struct {
	Error error
}

// SwitchCommandReceived is sent to the parent for every operator switch command.
type SwitchCommandReceived struct {
	Command mqtt.SwitchCommand
}

type publishAck struct {
	replyTo *actor.PID
	respond func(error) any
	err     error
}

type outgoing struct {
	topic   string
	payload string
	retain  bool
}

func NewMQTTActor(config *config.Config, logger *zap.Logger) *MQTTActor {
	act := &MQTTActor{
		config:   config,
		behavior: actor.NewBehavior(),
		stash:    &actorutil.Stash{},
		logger:   actorutil.ActorLogger(domain.ACTOR_ID_MQTT, logger),
	}
	act.behavior.Become(act.ConnectingReceive)
	return act
}

func (state *MQTTActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MQTTActor) ConnectingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("mqtt@connecting started")
		self := ctx.Self()
		root := ctx.ActorSystem().Root
		state.client = mqtt.NewClient(state.config, func(err error) {
			root.Send(self, mqttConnectionLost{Error: err})
		})
		state.client.Connect(MQTT_CONNECT_TIMEOUT, func(err error) {
			if err != nil {
				root.Send(self, mqttConnectionLost{Error: err})
				return
			}
			root.Send(self, mqttConnected{})
		})
	case mqttConnected:
		state.logger.Info("mqtt@connecting connected", zap.String("host", state.config.MQTT.Host))
		state.client.Publish(state.client.BridgeStateTopic(), mqtt.MQTT_PAYLOAD_ONLINE, 0, true, 500*time.Millisecond, state.logFailure("bridge state"))

		self := ctx.Self()
		root := ctx.ActorSystem().Root
		state.client.SubscribeToSwitchCommands(func(cmd mqtt.SwitchCommand) {
			root.Send(self, SwitchCommandReceived{Command: cmd})
		}, func(topic string, err error) {
			state.logger.Warn("mqtt: ignoring invalid command", zap.String("topic", topic), zap.Error(err))
		}, MQTT_SUBSCRIBE_TIMEOUT, func(err error) {
			if err != nil {
				root.Send(self, mqttConnectionLost{Error: err})
				return
			}
			root.Send(self, mqttSubscribed{})
		})
	case mqttSubscribed:
		state.logger.Debug("mqtt@connecting subscribed")
		state.behavior.Become(state.OnlineReceive)
		state.stash.UnstashAll(ctx)
	case mqttConnectionLost:
		// let the supervisor back off and reconnect
		state.logger.Error("mqtt@connecting connection failed", zap.Error(msg.Error))
		panic(msg.Error)
	case *actor.Restarting, *actor.Stopping:
		state.stop()
	default:
		state.logger.Debug("mqtt@connecting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MQTTActor) OnlineReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Restarting, *actor.Stopping:
		state.stop()
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: state.client.IsConnected(),
			State:   "online",
		})
	case SwitchCommandReceived:
		state.logger.Info("mqtt@online switch command", zap.String("switch", msg.Command.SwitchId), zap.Bool("on", msg.Command.On))
		ctx.Send(ctx.Parent(), msg)
	case domain.PublishMessageRequest:
		state.publish(ctx, outgoing{topic: msg.Topic, payload: msg.Payload, retain: msg.Retain}, actorutil.ReplyTarget(ctx, msg),
			func(err error) any {
				return domain.PublishMessageResponse{ActorResponseMixIn: domain.ErrorResponse(err)}
			})
	case domain.PublishSensorUpdateRequest:
		out, ok := state.sensorMessage(msg.Event)
		if !ok {
			state.logger.Warn("mqtt@online unsupported sensor event", zap.String("type", fmt.Sprintf("%T", msg.Event)))
			return
		}
		out.retain = out.retain || msg.Retain
		var replyTo *actor.PID
		if msg.ReplyTo() != nil {
			replyTo = actorutil.ReplyTarget(ctx, msg)
		}
		state.publish(ctx, out, replyTo, func(err error) any {
			return domain.PublishSensorUpdateResponse{ActorResponseMixIn: domain.ErrorResponse(err)}
		})
	case domain.PublishDiscoveryRequest:
		state.logger.Debug("mqtt@online PublishDiscoveryRequest", zap.Int("sensors", len(msg.Sensors)), zap.Int("switches", len(msg.Switches)))
		if err := state.PublishHomeAssistantDiscovery(msg.Sensors, msg.Switches); err != nil {
			state.logger.Error("mqtt@online discovery failed", zap.Error(err))
		}
	case mqttConnectionLost:
		state.logger.Error("mqtt@online connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	default:
		state.logger.Debug("mqtt@online ignored", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// AwaitingAckReceive holds further work until the broker acknowledged the
// publish in flight.
func (state *MQTTActor) AwaitingAckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case publishAck:
		if msg.err != nil {
			state.logger.Error("mqtt@awaiting publish failed", zap.Error(msg.err))
		}
		if msg.replyTo != nil {
			ctx.Send(msg.replyTo, msg.respond(msg.err))
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashOldest(ctx)
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: state.client.IsConnected(),
			State:   "publishing",
		})
	case mqttConnectionLost:
		state.logger.Error("mqtt@awaiting connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	default:
		state.stash.Stash(ctx, msg)
	}
}

func (state *MQTTActor) publish(ctx actor.Context, out outgoing, replyTo *actor.PID, respond func(error) any) {
	state.logger.Debug("mqtt: publish", zap.String("topic", out.topic), zap.String("payload", out.payload))
	self := ctx.Self()
	root := ctx.ActorSystem().Root
	state.client.Publish(out.topic, out.payload, 1, out.retain, MQTT_PUBLISH_TIMEOUT, func(err error) {
		root.Send(self, publishAck{replyTo: replyTo, respond: respond, err: err})
	})
	state.behavior.BecomeStacked(state.AwaitingAckReceive)
}

func (state *MQTTActor) sensorMessage(event domain.SensorUpdateEvent) (outgoing, bool) {
	switch ev := event.(type) {
	case domain.FloatSensorUpdateEvent:
		return outgoing{
			topic:   state.client.SensorStateTopic(ev.Id),
			payload: strconv.FormatFloat(ev.Value, 'f', int(ev.Decimals), 64),
		}, true
	case domain.TextSensorUpdateEvent:
		return outgoing{topic: state.client.SensorStateTopic(ev.Id), payload: ev.Value}, true
	case domain.BinarySensorUpdateEvent:
		return outgoing{topic: state.client.BinarySensorStateTopic(ev.Id), payload: onOff(ev.Value)}, true
	case domain.SwitchSensorUpdateEvent:
		// switch state survives broker restarts so HA shows the last known mode
		return outgoing{topic: state.client.SwitchStateTopic(ev.Id), payload: onOff(ev.Value), retain: true}, true
	default:
		return outgoing{}, false
	}
}

// PublishHomeAssistantDiscovery announces every entity with a retained config
// message. Broker acknowledgements are only logged.
func (state *MQTTActor) PublishHomeAssistantDiscovery(sensors []domain.GenericSensor, switches []domain.GenericSwitch) error {
	announce := func(topic string, msg mqtt.HADiscoveryConfig) error {
		payload, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("discovery %s: %w", topic, err)
		}
		state.client.Publish(topic, payload, 0, true, time.Second, state.logFailure(topic))
		return nil
	}
	for _, sensor := range sensors {
		if err := announce(state.client.HADiscoverySensorTopic(sensor), mqtt.GenericSensorToHADiscoveryMessage(state.client, sensor)); err != nil {
			return err
		}
	}
	for _, sw := range switches {
		if err := announce(state.client.HADiscoverySwitchTopic(sw), mqtt.GenericSwitchToHADiscoveryMessage(state.client, sw)); err != nil {
			return err
		}
	}
	return nil
}

func (state *MQTTActor) logFailure(what string) func(error) {
	return func(err error) {
		if err != nil {
			state.logger.Warn("mqtt: publish failed", zap.String("what", what), zap.Error(err))
		}
	}
}

func (state *MQTTActor) stop() {
	if state.client == nil {
		return
	}
	state.logger.Debug("mqtt: disconnect")
	state.client.Publish(state.client.BridgeStateTopic(), mqtt.MQTT_PAYLOAD_OFFLINE, 0, true, 500*time.Millisecond, func(error) {})
	state.client.Disconnect(500 * time.Millisecond)
	state.client = nil
}

func onOff(value bool) string {
	if value {
		return mqtt.MQTT_PAYLOAD_ON
	}
	return mqtt.MQTT_PAYLOAD_OFF
}

// NewTestMQTTActor never touches a broker. Publish requests are acknowledged and,
// when observer is set, forwarded to it.
func NewTestMQTTActor(config *config.Config, observer *actor.PID, logger *zap.Logger) *MQTTActor {
	act := &MQTTActor{
		config:   config,
		behavior: actor.NewBehavior(),
		stash:    &actorutil.Stash{},
		observer: observer,
		logger:   actorutil.ActorLogger(domain.ACTOR_ID_MQTT, logger),
	}
	act.behavior.Become(act.DummyReceive)
	return act
}

func (state *MQTTActor) DummyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: true,
			State:   "dummy",
		})
	case domain.PublishSensorUpdateRequest:
		state.observe(ctx, msg)
		if msg.ReplyTo() != nil {
			ctx.Send(actorutil.ReplyTarget(ctx, msg), domain.PublishSensorUpdateResponse{})
		}
	case domain.PublishMessageRequest:
		state.observe(ctx, msg)
		actorutil.Reply(ctx, msg, domain.PublishMessageResponse{})
	case domain.PublishDiscoveryRequest:
		state.observe(ctx, msg)
	case SwitchCommandReceived:
		ctx.Send(ctx.Parent(), msg)
	}
}

func (state *MQTTActor) observe(ctx actor.Context, msg any) {
	if state.observer != nil {
		ctx.Send(state.observer, msg)
	}
}
