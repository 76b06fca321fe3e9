package actor

import (
	"context"
	"errors"
	"fmt"
	"time"

	adactor "github.com/berfenger/srne2mqtt/internal/adapter/actor"
	"github.com/berfenger/srne2mqtt/internal/config"
	"github.com/berfenger/srne2mqtt/internal/core/domain"
	"github.com/berfenger/srne2mqtt/internal/core/port"
	"github.com/berfenger/srne2mqtt/internal/core/scheduler"
	"github.com/berfenger/srne2mqtt/internal/core/service"
	"github.com/berfenger/srne2mqtt/internal/util/actorutil"
	"github.com/berfenger/srne2mqtt/pkg/srne_modbus"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

const (
	PHASE_STARTING     = "starting"
	PHASE_BOOTING      = "booting"
	PHASE_PROVISIONING = "provisioning"
	PHASE_RUNNING      = "running"
	PHASE_HALTED       = "halted"

	BOOT_PROBE_TIMEOUT     = 5 * time.Second
	BOOT_PROVISION_TIMEOUT = 35 * time.Second
	PUBLISH_TIMEOUT        = 500 * time.Millisecond
)

// errRestartRequested makes the supervisor restart the controller so that it boots again.
var errRestartRequested = errors.New("controller restart requested")

type alarmTick struct{}

// ControllerDeps are the collaborators shared by every incarnation of the controller actor.
type ControllerDeps struct {
	Controller port.ChargeController
	Clock      port.AdjustableClock
	Store      port.FlagStore
	Metrics    port.MetricsRecorder
	// Publisher overrides the MQTT-backed telemetry publisher when set
	Publisher port.TelemetryPublisher
}

// ControllerActor boots and provisions the charge controller and then drives
// the six-slot supervisor loop from the periodic alarm.
type ControllerActor struct {
	config      *config.Config
	behavior    actor.Behavior
	stash       *actorutil.Stash
	deps        ControllerDeps
	modbusActor *actor.PID
	mqttActor   *actor.PID

	phase        string
	supervisor   *service.Supervisor
	loop         *scheduler.Loop
	alarmSource  *scheduler.QuartzAlarmSource
	cancelAlarm  context.CancelFunc
	bootTime     domain.TimeSnapshot
	resetReplyTo *actor.PID

	logger *zap.Logger
}

func NewControllerActor(config *config.Config, deps ControllerDeps, modbusActor *actor.PID, mqttActor *actor.PID, logger *zap.Logger) *ControllerActor {
	act := &ControllerActor{
		config:      config,
		deps:        deps,
		modbusActor: modbusActor,
		mqttActor:   mqttActor,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		phase:       PHASE_STARTING,
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_CONTROLLER, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *ControllerActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func supervisorConfig(cfg *config.Config) service.SupervisorConfig {
	sc := service.DefaultSupervisorConfig()
	if cfg.MQTT.TelemetryTopic != "" {
		sc.TelemetryTopic = cfg.MQTT.TelemetryTopic
	}
	sc.PublishTimeout = PUBLISH_TIMEOUT
	sc.FaultThreshold = cfg.Supervisor.FaultThreshold
	if cfg.Supervisor.FullChargeTrigger != "" {
		sc.FullChargeTrigger = cfg.Supervisor.FullChargeTrigger
	}
	sc.FullChargeVoltage = cfg.Supervisor.FullChargeVoltage
	if cfg.Device.MaxLoadCurrent > 0 {
		sc.MaxLoadCurrent = cfg.Device.MaxLoadCurrent
	}
	if cfg.Supervisor.LoadReductionPeriods > 0 {
		sc.LoadReductionPeriods = cfg.Supervisor.LoadReductionPeriods
	}
	if cfg.Supervisor.LoadReductionFactor > 0 {
		sc.LoadReductionFactor = cfg.Supervisor.LoadReductionFactor
	}
	return sc
}

func (state *ControllerActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("controller@starting started")

		publisher := state.deps.Publisher
		if publisher == nil {
			publisher = adactor.NewActorTelemetryPublisher(ctx.ActorSystem().Root, state.mqttActor)
		}
		state.supervisor = service.NewSupervisor(state.deps.Controller, state.deps.Clock, publisher,
			state.deps.Store, state.deps.Metrics, supervisorConfig(state.config), state.logger)
		state.loop = scheduler.NewLoop(scheduler.NewAlarm(), state.supervisor, state.logger)

		timeUpdated := state.deps.Store.LoadFlag(service.FLAG_TIME_UPDATED, 0) == 1
		now, err := state.deps.Clock.Now()
		if err != nil || !timeUpdated {
			// the operator has to set the time before the controller is touched
			state.logger.Warn("controller@starting time not trusted, running unprovisioned",
				zap.Bool("time_updated", timeUpdated), zap.Error(err))
			state.startRunning(ctx)
			return
		}
		state.bootTime = now
		state.phase = PHASE_BOOTING
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.modbusActor, domain.GetDeviceInfoRequest{}, BOOT_PROBE_TIMEOUT), func(err error) any {
			return domain.GetDeviceInfoResponse{ActorResponseMixIn: domain.ErrorResponse(err)}
		})
		state.behavior.Become(state.BootingReceive)
	case *actor.Restarting:
		state.stopAlarm()
	default:
		state.logger.Debug("controller@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *ControllerActor) BootingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.GetDeviceInfoResponse:
		if msg.HasResponseError() {
			state.halt(ctx, fmt.Errorf("controller probe failed: %w", msg.GetResponseError()))
			return
		}
		state.logger.Info("controller@booting device found",
			zap.String("model", msg.Device.Model), zap.String("version", msg.Device.SoftwareVersion))

		profile := service.SelectProfile(state.bootTime.Month)
		state.supervisor.SetProfile(profile, state.bootTime)
		state.logger.Info("controller@booting profile selected", zap.String("profile", profile.Name()),
			zap.Float64("max_charge_current", profile.MaxChargeCurrent))

		provisioned := state.deps.Store.LoadFlag(service.FLAG_PROVISIONED, 0) == 1
		if provisioned && !state.config.Supervisor.ProvisionOnBoot {
			state.startRunning(ctx)
			return
		}
		state.phase = PHASE_PROVISIONING
		req := domain.ProvisionRequest{
			ChargeCurrent: profile.MaxChargeCurrent,
			Settings:      state.config.Device,
			Schedules:     srne_modbus.DefaultLoadSchedules(),
		}
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.modbusActor, req, BOOT_PROVISION_TIMEOUT), func(err error) any {
			return domain.ProvisionResponse{ActorResponseMixIn: domain.ErrorResponse(err)}
		})
	case domain.ProvisionResponse:
		if msg.HasResponseError() {
			state.halt(ctx, fmt.Errorf("provisioning failed: %w", msg.GetResponseError()))
			return
		}
		if err := state.deps.Store.SaveFlag(service.FLAG_PROVISIONED, 1); err != nil {
			state.logger.Error("controller@booting could not persist provisioning flag", zap.Error(err))
		}
		state.logger.Info("controller@booting provisioning completed")
		state.startRunning(ctx)
	case domain.ActorHealthRequest:
		state.respondHealth(ctx)
	case *actor.Restarting:
		state.stopAlarm()
	default:
		state.logger.Debug("controller@booting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *ControllerActor) RunningReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case alarmTick:
		slot := state.loop.Poll(context.Background())
		if slot == service.SLOT_PUBLISH {
			state.publishSensorUpdates(ctx)
		}
	case domain.ActorHealthRequest:
		state.respondHealth(ctx)
	case *actor.Restarting:
		state.stopAlarm()
	case *actor.Stopping:
		state.stopAlarm()
	default:
		if !state.handleCommand(ctx, msg) {
			state.logger.Debug("controller@running default recv", zap.String("type", fmt.Sprintf("%T", msg)))
		}
	}
}

// HaltedReceive keeps the controller reachable for operator commands after a
// failed boot. No slot routine runs.
func (state *ControllerActor) HaltedReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case alarmTick:
	case domain.ActorHealthRequest:
		state.respondHealth(ctx)
	case *actor.Restarting:
		state.stopAlarm()
	default:
		if !state.handleCommand(ctx, msg) {
			state.logger.Debug("controller@halted default recv", zap.String("type", fmt.Sprintf("%T", msg)))
		}
	}
}

func (state *ControllerActor) handleCommand(ctx actor.Context, msg any) bool {
	switch msg := msg.(type) {
	case *domain.ControllerGetStateRequest:
		actorutil.Reply(ctx, msg, domain.ControllerGetStateResponse{State: state.snapshot()})
	case *domain.ControllerSetIntegratedRequest:
		changed, err := state.supervisor.SetIntegrated(msg.Enable)
		actorutil.Reply(ctx, msg, domain.ControllerSetIntegratedResponse{
			ActorResponseMixIn: domain.ErrorResponse(err),
			Integrated:         state.supervisor.Integrated(),
			Changed:            changed,
		})
		state.publishIntegrated(ctx)
	case *domain.ControllerSetTimeRequest:
		state.logger.Info("controller: operator set time", zap.Time("time", msg.Time))
		err := state.deps.Clock.Set(msg.Time)
		if err == nil {
			err = state.deps.Store.SaveFlag(service.FLAG_TIME_UPDATED, 1)
		}
		actorutil.Reply(ctx, msg, domain.ControllerSetTimeResponse{ActorResponseMixIn: domain.ErrorResponse(err)})
		if err != nil {
			state.logger.Error("controller: could not set time", zap.Error(err))
			return true
		}
		panic(errRestartRequested)
	case *domain.ControllerEraseStorageRequest:
		state.logger.Warn("controller: operator erased storage")
		err := state.deps.Store.EraseAll()
		actorutil.Reply(ctx, msg, domain.ControllerEraseStorageResponse{ActorResponseMixIn: domain.ErrorResponse(err)})
		if err != nil {
			state.logger.Error("controller: could not erase storage", zap.Error(err))
			return true
		}
		panic(errRestartRequested)
	case *domain.ControllerFactoryResetRequest:
		state.logger.Warn("controller: operator requested factory reset")
		state.resetReplyTo = actorutil.ReplyTarget(ctx, msg)
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.modbusActor, domain.FactoryResetRequest{}, BOOT_PROBE_TIMEOUT), func(err error) any {
			return domain.FactoryResetResponse{ActorResponseMixIn: domain.ErrorResponse(err)}
		})
	case domain.FactoryResetResponse:
		if msg.HasResponseError() {
			state.logger.Error("controller: factory reset incomplete", zap.Error(msg.GetResponseError()))
		}
		if err := state.deps.Store.SaveFlag(service.FLAG_PROVISIONED, 0); err != nil {
			state.logger.Error("controller: could not clear provisioning flag", zap.Error(err))
		}
		if state.resetReplyTo != nil {
			ctx.Send(state.resetReplyTo, domain.ControllerFactoryResetResponse{ActorResponseMixIn: msg.ActorResponseMixIn})
			state.resetReplyTo = nil
		}
		panic(errRestartRequested)
	default:
		return false
	}
	return true
}

func (state *ControllerActor) startRunning(ctx actor.Context) {
	if err := state.deps.Controller.ClearAccumulators(); err != nil {
		state.logger.Warn("controller: could not clear accumulators", zap.Error(err))
	}

	root := ctx.ActorSystem().Root
	self := ctx.Self()
	period := time.Duration(state.config.Supervisor.AlarmPeriodMillis) * time.Millisecond
	state.alarmSource = scheduler.NewQuartzAlarmSource(state.loop.Alarm(), period, func() {
		root.Send(self, alarmTick{})
	}, state.logger)
	alarmCtx, cancel := context.WithCancel(context.Background())
	if err := state.alarmSource.Start(alarmCtx); err != nil {
		cancel()
		state.halt(ctx, err)
		return
	}
	state.cancelAlarm = cancel

	state.phase = PHASE_RUNNING
	state.logger.Info("controller@running", zap.Bool("integrated", state.supervisor.Integrated()),
		zap.String("profile", state.supervisor.Profile().Name()))
	state.behavior.Become(state.RunningReceive)
	state.stash.UnstashAll(ctx)
}

func (state *ControllerActor) halt(ctx actor.Context, err error) {
	state.logger.Error("controller@halted", zap.Error(err))
	state.phase = PHASE_HALTED
	state.behavior.Become(state.HaltedReceive)
	state.stash.UnstashAll(ctx)
}

func (state *ControllerActor) stopAlarm() {
	if state.alarmSource != nil {
		state.alarmSource.Stop()
		state.alarmSource = nil
	}
	if state.cancelAlarm != nil {
		state.cancelAlarm()
		state.cancelAlarm = nil
	}
}

func (state *ControllerActor) respondHealth(ctx actor.Context) {
	ctx.Respond(domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_CONTROLLER,
		Healthy: state.phase != PHASE_HALTED,
		State:   state.phase,
	})
}

func (state *ControllerActor) snapshot() domain.SupervisorState {
	s := state.supervisor.State()
	s.Phase = state.phase
	if state.loop != nil {
		s.Slot = int32(state.loop.Alarm().Slot())
		s.ActivePeriods = state.loop.Alarm().ActivePeriods()
	}
	return s
}

func (state *ControllerActor) publishSensorUpdates(ctx actor.Context) {
	if state.mqttActor == nil || !state.config.MQTT.HADiscoveryEnable {
		return
	}
	for _, event := range domain.StateToUpdateEvents(state.snapshot()) {
		ctx.Send(state.mqttActor, domain.PublishSensorUpdateRequest{Event: event})
	}
}

func (state *ControllerActor) publishIntegrated(ctx actor.Context) {
	if state.mqttActor == nil {
		return
	}
	ctx.Send(state.mqttActor, domain.PublishSensorUpdateRequest{
		Retain: true,
		Event: domain.SwitchSensorUpdateEvent{
			SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: domain.SWITCH_ID_INTEGRATED},
			Value:                  state.supervisor.Integrated(),
		},
	})
}
