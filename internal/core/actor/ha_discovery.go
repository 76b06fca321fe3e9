package actor

import (
	"fmt"
	"time"

	"github.com/berfenger/srne2mqtt/internal/config"
	"github.com/berfenger/srne2mqtt/internal/core/domain"
	"github.com/berfenger/srne2mqtt/internal/util/actorutil"
	"github.com/berfenger/srne2mqtt/pkg/srne_modbus"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

const (
	HADISCOVERY_ACTOR_ID = domain.ACTOR_ID_HA_DISCOVERY
	DISCOVERY_RETRY      = 5 * time.Second
	DISCOVERY_INFO_WAIT  = 5 * time.Second
)

// HADiscoveryActor announces the bridge and controller entities once both the
// Modbus and MQTT actors are healthy. It probes again after DISCOVERY_RETRY
// until that happens.
type HADiscoveryActor struct {
	config      *config.Config
	behavior    actor.Behavior
	modbusActor *actor.PID
	mqttActor   *actor.PID
	round       *healthRound
	attempts    int
	logger      *zap.Logger
}

func NewHADiscoveryActor(config *config.Config, modbusActor *actor.PID, mqttActor *actor.PID, logger *zap.Logger) *HADiscoveryActor {
	act := &HADiscoveryActor{
		config:      config,
		modbusActor: modbusActor,
		mqttActor:   mqttActor,
		behavior:    actor.NewBehavior(),
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_HA_DISCOVERY, logger),
	}
	act.behavior.Become(act.ProbingReceive)
	return act
}

func (state *HADiscoveryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HADiscoveryActor) probe(ctx actor.Context) {
	state.attempts++
	state.round = newHealthRound(nil, domain.ACTOR_ID_MODBUS, domain.ACTOR_ID_MQTT)
	requestHealth(ctx, state.modbusActor, domain.ACTOR_ID_MODBUS, 2*time.Second)
	requestHealth(ctx, state.mqttActor, domain.ACTOR_ID_MQTT, 2*time.Second)
}

func (state *HADiscoveryActor) ProbingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.probe(ctx)
	case *actor.ReceiveTimeout:
		ctx.CancelReceiveTimeout()
		state.probe(ctx)
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{Id: HADISCOVERY_ACTOR_ID, Healthy: true, State: "probing"})
	case domain.ActorHealthResponse:
		if state.round == nil || !state.round.record(msg) {
			return
		}
		round := state.round
		state.round = nil
		if !round.allHealthy() {
			state.logger.Info("hadiscovery@probing dependencies not ready",
				zap.Strings("unhealthy", round.unhealthy()), zap.Int("attempt", state.attempts))
			ctx.SetReceiveTimeout(DISCOVERY_RETRY)
			return
		}
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.modbusActor, domain.GetDeviceInfoRequest{}, DISCOVERY_INFO_WAIT), func(err error) any {
			return domain.GetDeviceInfoResponse{ActorResponseMixIn: domain.ErrorResponse(err)}
		})
	case domain.GetDeviceInfoResponse:
		if msg.HasResponseError() {
			state.logger.Warn("hadiscovery@probing device info failed", zap.Error(msg.GetResponseError()))
			ctx.SetReceiveTimeout(DISCOVERY_RETRY)
			return
		}
		state.logger.Info("hadiscovery@probing announcing", zap.String("model", msg.Device.Model))
		ctx.Send(state.mqttActor, DiscoveryRequest(state.config.MQTT.BaseTopic, msg.Device))
		state.behavior.Become(state.DoneReceive)
	default:
		state.logger.Debug("hadiscovery@probing ignored", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *HADiscoveryActor) DoneReceive(ctx actor.Context) {
	switch ctx.Message().(type) {
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{Id: HADISCOVERY_ACTOR_ID, Healthy: true, State: "done"})
	}
}

// DiscoveryRequest lists every entity exposed for a controller behind this bridge.
func DiscoveryRequest(baseTopic string, info *srne_modbus.DeviceInfo) domain.PublishDiscoveryRequest {
	bridgeDevice := domain.BridgeDevice(baseTopic)
	controllerDevice := domain.ControllerDevice(info, baseTopic)
	controllerDevice.ViaDevice = bridgeDevice.Id

	var sensors []domain.GenericSensor
	sensors = append(sensors, domain.BridgeSensors(bridgeDevice)...)
	sensors = append(sensors, domain.ControllerSensors(controllerDevice)...)
	return domain.PublishDiscoveryRequest{
		Sensors:  sensors,
		Switches: domain.ControllerSwitches(controllerDevice),
	}
}
