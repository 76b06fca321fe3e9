package actor

import (
	"errors"
	"fmt"
	"strings"
	"time"

	adactor "github.com/berfenger/srne2mqtt/internal/adapter/actor"
	"github.com/berfenger/srne2mqtt/internal/config"
	"github.com/berfenger/srne2mqtt/internal/core/domain"
	"github.com/berfenger/srne2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

const (
	CHILD_HEALTH_TIMEOUT  = 500 * time.Millisecond
	HEALTH_ROUND_DEADLINE = time.Second
)

type MQTTActorProvider func() *adactor.MQTTActor

type ModbusActorProvider func() *adactor.ModbusActor

type ControllerActorProvider func(modbusActor *actor.PID, mqttActor *actor.PID) *ControllerActor

// MasterOfPuppetsActor owns the actor tree. It routes operator requests to the
// controller and raw register reads to the Modbus actor, and answers health for
// the whole process.
type MasterOfPuppetsActor struct {
	config   config.Config
	behavior actor.Behavior
	stash    *actorutil.Stash

	modbusActor     *actor.PID
	mqttActor       *actor.PID
	controllerActor *actor.PID
	round           *healthRound

	modbusActorProvider     ModbusActorProvider
	mqttActorProvider       MQTTActorProvider
	controllerActorProvider ControllerActorProvider
	logger                  *zap.Logger
}

func NewMasterOfPuppetsActor(config config.Config, modbusActorProvider ModbusActorProvider, mqttActorProvider MQTTActorProvider,
	controllerActorProvider ControllerActorProvider, logger *zap.Logger) *MasterOfPuppetsActor {
	act := &MasterOfPuppetsActor{
		config:                  config,
		behavior:                actor.NewBehavior(),
		stash:                   &actorutil.Stash{},
		logger:                  actorutil.ActorLogger(domain.ACTOR_ID_MASTER, logger),
		modbusActorProvider:     modbusActorProvider,
		mqttActorProvider:       mqttActorProvider,
		controllerActorProvider: controllerActorProvider,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MasterOfPuppetsActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MasterOfPuppetsActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")
		if err := state.spawnChildren(ctx); err != nil {
			panic(err)
		}
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.round = newHealthRound(ctx.Sender(), domain.ACTOR_ID_MODBUS, domain.ACTOR_ID_MQTT, domain.ACTOR_ID_CONTROLLER)
		requestHealth(ctx, state.modbusActor, domain.ACTOR_ID_MODBUS, CHILD_HEALTH_TIMEOUT)
		requestHealth(ctx, state.mqttActor, domain.ACTOR_ID_MQTT, CHILD_HEALTH_TIMEOUT)
		requestHealth(ctx, state.controllerActor, domain.ACTOR_ID_CONTROLLER, CHILD_HEALTH_TIMEOUT)
		ctx.SetReceiveTimeout(HEALTH_ROUND_DEADLINE)
		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case adactor.SwitchCommandReceived:
		req, err := switchCommandRequest(msg.Command)
		if err != nil {
			state.logger.Warn("master@default unsupported switch command", zap.Error(err))
			return
		}
		ctx.Send(state.controllerActor, req)
	case domain.ControllerRequest:
		state.logger.Debug("master@default controller request", zap.String("type", fmt.Sprintf("%T", msg)))
		ctx.Forward(state.controllerActor)
	case domain.ReadRegistersRequest:
		ctx.Forward(state.modbusActor)
	case *actor.Terminated:
		if msg.Who.Equal(state.modbusActor) {
			state.logger.Error("master@default modbus actor terminated")
			panic(errors.New("modbus terminated"))
		}
	default:
		state.logger.Debug("master@default ignored", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MasterOfPuppetsActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		state.finishHealthRound(ctx)
	case domain.ActorHealthResponse:
		if state.round.record(msg) {
			state.finishHealthRound(ctx)
		}
	default:
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) finishHealthRound(ctx actor.Context) {
	ctx.CancelReceiveTimeout()
	round := state.round
	state.round = nil
	healthy := round.allHealthy()
	if !healthy {
		state.logger.Debug("master@healthcheck unhealthy", zap.String("children", strings.Join(round.unhealthy(), ",")))
	}
	if round.respondTo != nil {
		ctx.Send(round.respondTo, domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MASTER,
			Healthy: healthy,
			State:   round.states[domain.ACTOR_ID_CONTROLLER],
		})
	}
	state.behavior.UnbecomeStacked()
	state.stash.UnstashAll(ctx)
}

func (state *MasterOfPuppetsActor) spawnChildren(ctx actor.Context) error {
	var err error

	// transports reconnect with backoff
	state.modbusActor, err = state.spawnChild(ctx, domain.ACTOR_ID_MODBUS, func() actor.Actor {
		return state.modbusActorProvider()
	}, actor.NewExponentialBackoffStrategy(10*time.Second, time.Second))
	if err != nil {
		return err
	}
	state.mqttActor, err = state.spawnChild(ctx, domain.ACTOR_ID_MQTT, func() actor.Actor {
		return state.mqttActorProvider()
	}, actor.NewExponentialBackoffStrategy(10*time.Second, time.Second))
	if err != nil {
		return err
	}

	// operator commands restart the controller on purpose
	state.controllerActor, err = state.spawnChild(ctx, domain.ACTOR_ID_CONTROLLER, func() actor.Actor {
		return state.controllerActorProvider(state.modbusActor, state.mqttActor)
	}, actor.NewOneForOneStrategy(100, 10*time.Second, state.restartDecider(domain.ACTOR_ID_CONTROLLER)))
	if err != nil {
		return err
	}

	if state.config.MQTT.HADiscoveryEnable {
		_, err = state.spawnChild(ctx, HADISCOVERY_ACTOR_ID, func() actor.Actor {
			return NewHADiscoveryActor(&state.config, state.modbusActor, state.mqttActor, state.logger)
		}, actor.NewOneForOneStrategy(3, time.Minute, state.restartDecider(HADISCOVERY_ACTOR_ID)))
	}
	return err
}

func (state *MasterOfPuppetsActor) spawnChild(ctx actor.Context, id string, producer actor.Producer, strategy actor.SupervisorStrategy) (*actor.PID, error) {
	pid, err := ctx.SpawnNamed(actor.PropsFromProducer(producer, actor.WithSupervisor(strategy)), id)
	if err != nil {
		return nil, fmt.Errorf("spawn %s: %w", id, err)
	}
	return pid, nil
}

func (state *MasterOfPuppetsActor) restartDecider(id string) actor.DeciderFunc {
	return func(reason interface{}) actor.Directive {
		state.logger.Info("master: restarting child", zap.String("child", id), zap.Any("reason", reason))
		return actor.RestartDirective
	}
}
