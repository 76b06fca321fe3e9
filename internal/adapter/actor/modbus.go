package actor

import (
	"fmt"
	"time"

	"github.com/berfenger/srne2mqtt/internal/core/domain"
	"github.com/berfenger/srne2mqtt/internal/util/actorutil"
	"github.com/berfenger/srne2mqtt/pkg/srne_modbus"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

const (
	MODBUS_ACTOR_ID = domain.ACTOR_ID_MODBUS
	MODBUS_TIMEOUT  = 2 * time.Second
	// provisioning walks every static register, each with its own retry budget
	PROVISION_TIMEOUT = 30 * time.Second
	MAX_READ_COUNT    = 32
)

// ModbusActor serializes out-of-band register work (device info, provisioning,
// factory reset and raw reads) against the charge controller.
type ModbusActor struct {
	behavior actor.Behavior
	stash    *actorutil.Stash
	driver   *srne_modbus.Driver
	logger   *zap.Logger
}

type driverResult struct {
	message any
	replyTo *actor.PID
}

func NewModbusActor(driver *srne_modbus.Driver, logger *zap.Logger) *ModbusActor {
	act := &ModbusActor{
		driver:   driver,
		behavior: actor.NewBehavior(),
		stash:    &actorutil.Stash{},
		logger:   actorutil.ActorLogger(MODBUS_ACTOR_ID, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *ModbusActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *ModbusActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("modbus@starting started")
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("modbus@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *ModbusActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("modbus@default: ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      MODBUS_ACTOR_ID,
			Healthy: true,
			State:   "idle",
		})
	case domain.GetDeviceInfoRequest:
		state.logger.Debug("modbus@default: GetDeviceInfoRequest")
		runDriverTask(state, ctx, actorutil.ReplyTarget(ctx, msg), MODBUS_TIMEOUT, func() (*domain.GetDeviceInfoResponse, error) {
			info, err := state.driver.GetDeviceInfo()
			if err != nil {
				state.logger.Error("modbus: device info read failed", zap.Error(err))
				return nil, err
			}
			return &domain.GetDeviceInfoResponse{Device: info}, nil
		}, func(err error) domain.GetDeviceInfoResponse {
			return domain.GetDeviceInfoResponse{ActorResponseMixIn: domain.ErrorResponse(err)}
		})
	case domain.ProvisionRequest:
		state.logger.Debug("modbus@default: ProvisionRequest", zap.Float64("charge_current", msg.ChargeCurrent))
		runDriverTask(state, ctx, actorutil.ReplyTarget(ctx, msg), PROVISION_TIMEOUT, func() (*domain.ProvisionResponse, error) {
			if err := state.driver.Provision(msg.ChargeCurrent, msg.Settings, msg.Schedules); err != nil {
				state.logger.Error("modbus@default: provisioning failed", zap.Error(err))
				return nil, err
			}
			return &domain.ProvisionResponse{}, nil
		}, func(err error) domain.ProvisionResponse {
			return domain.ProvisionResponse{ActorResponseMixIn: domain.ErrorResponse(err)}
		})
	case domain.FactoryResetRequest:
		state.logger.Warn("modbus@default: FactoryResetRequest")
		runDriverTask(state, ctx, actorutil.ReplyTarget(ctx, msg), MODBUS_TIMEOUT, func() (*domain.FactoryResetResponse, error) {
			if err := state.driver.FactoryReset(); err != nil {
				return nil, err
			}
			return &domain.FactoryResetResponse{}, nil
		}, func(err error) domain.FactoryResetResponse {
			return domain.FactoryResetResponse{ActorResponseMixIn: domain.ErrorResponse(err)}
		})
	case domain.ReadRegistersRequest:
		state.logger.Debug("modbus@default: ReadRegistersRequest", zap.Uint16("address", msg.Address), zap.Uint16("count", msg.Count))
		replyTo := actorutil.ReplyTarget(ctx, msg)
		failed := func(err error) domain.ReadRegistersResponse {
			return domain.ReadRegistersResponse{ActorResponseMixIn: domain.ErrorResponse(err), Address: msg.Address}
		}
		if msg.Count == 0 || msg.Count > MAX_READ_COUNT {
			ctx.Send(replyTo, failed(fmt.Errorf("%w: register count %d", srne_modbus.ErrInvalidRequest, msg.Count)))
			return
		}
		runDriverTask(state, ctx, replyTo, MODBUS_TIMEOUT, func() (*domain.ReadRegistersResponse, error) {
			values, err := state.driver.ReadRegisters(msg.Address, msg.Count)
			if err != nil {
				return nil, err
			}
			return &domain.ReadRegistersResponse{Address: msg.Address, Values: values}, nil
		}, failed)
	case *actor.Stopping:
		state.logger.Debug("modbus@default: stopping")
	default:
		state.logger.Debug("modbus@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *ModbusActor) WaitingModbus(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case driverResult:
		state.logger.Debug("modbus@WaitingModbus driverResult", zap.String("type", fmt.Sprintf("%T", msg.message)))
		if msg.replyTo != nil {
			ctx.Send(msg.replyTo, msg.message)
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      MODBUS_ACTOR_ID,
			Healthy: true,
			State:   "busy",
		})
	case *actor.Stopping:
		state.logger.Debug("modbus@WaitingModbus: stopping")
	default:
		state.logger.Debug("modbus@WaitingModbus stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

// runDriverTask runs fn off the actor goroutine and parks the actor in
// WaitingModbus until the response has been handed to replyTo.
func runDriverTask[R any](state *ModbusActor, ctx actor.Context, replyTo *actor.PID, timeout time.Duration,
	fn func() (*R, error), onError func(error) R) {
	actorutil.MapTask(actorutil.NewTask(ctx, fn), func(r *R) *driverResult {
		return &driverResult{message: *r, replyTo: replyTo}
	}).Recover(func(err error) driverResult {
		return driverResult{message: onError(err), replyTo: replyTo}
	}).WithTimeout(timeout).PipeTo(ctx.Self())
	state.behavior.BecomeStacked(state.WaitingModbus)
}
