package actor

import (
	"testing"
	"time"

	"github.com/berfenger/srne2mqtt/internal/core/domain"
	"github.com/berfenger/srne2mqtt/internal/util/actorutil"
	"github.com/berfenger/srne2mqtt/pkg/srne_modbus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func testModbusActor(t *testing.T) (*actor.RootContext, *actor.PID, *srne_modbus.SimulatedDevice) {
	logger := zap.Must(zap.NewDevelopment())
	dev := srne_modbus.NewSimulatedDevice(0x01)
	transport := srne_modbus.NewRTUTransport(dev, 0x01, 10*time.Millisecond, logger, nil)
	driver := srne_modbus.NewDriver(transport, srne_modbus.DriverConfig{
		Retry: srne_modbus.RetryPolicy{Attempts: srne_modbus.MAX_RETRY, Interval: time.Millisecond},
	}, logger)

	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root
	props := actor.PropsFromProducer(func() actor.Actor { return NewModbusActor(driver, logger) })
	pid := context.Spawn(props)
	t.Cleanup(func() {
		context.Stop(pid)
		as.Shutdown()
	})
	return context, pid, dev
}

func TestGetDeviceInfoModbusActor(t *testing.T) {

	assert := assert.New(t)

	context, pid, _ := testModbusActor(t)

	result, err := context.RequestFuture(pid, domain.GetDeviceInfoRequest{}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	resp := result.(domain.GetDeviceInfoResponse)

	assert.NoError(resp.ResponseError)
	assert.Equal("ML2420", resp.Device.Model, "model")
	assert.Equal(uint8(12), resp.Device.RatedVoltage, "rated voltage")
	assert.Equal(uint8(10), resp.Device.RatedCurrent, "rated current")
	assert.Equal("4.1.6", resp.Device.SoftwareVersion, "software version")
}

func TestGetDeviceInfoFailureModbusActor(t *testing.T) {

	assert := assert.New(t)

	context, pid, dev := testModbusActor(t)
	dev.DropResponses(srne_modbus.MAX_RETRY)

	result, err := context.RequestFuture(pid, domain.GetDeviceInfoRequest{}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	resp := result.(domain.GetDeviceInfoResponse)
	assert.ErrorIs(resp.ResponseError, srne_modbus.ErrRetryExhausted)
	assert.Nil(resp.Device)

	// the actor keeps serving after a failed task
	result, err = context.RequestFuture(pid, domain.ActorHealthRequest{}, time.Second).Result()
	assert.NoError(err)
	assert.True(result.(domain.ActorHealthResponse).Healthy)
}

func TestProvisionModbusActor(t *testing.T) {

	assert := assert.New(t)

	context, pid, dev := testModbusActor(t)

	msg := domain.ProvisionRequest{
		ChargeCurrent: 3.3,
		Settings:      srne_modbus.DefaultDeviceSettings(),
		Schedules:     srne_modbus.DefaultLoadSchedules(),
	}
	result, err := context.RequestFuture(pid, msg, 10*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	resp := result.(domain.ProvisionResponse)
	assert.NoError(resp.ResponseError)
	assert.Equal(uint16(330), dev.Register(srne_modbus.REG_MAX_CHARGE_CURRENT), "charge current")
	assert.Equal(uint16(115), dev.Register(srne_modbus.REG_MAX_LOAD_CURRENT), "load current")
	assert.Equal(uint16(310), dev.Register(srne_modbus.REG_NOMINAL_CAPACITY), "capacity")
}

func TestReadRegistersModbusActor(t *testing.T) {

	assert := assert.New(t)

	context, pid, _ := testModbusActor(t)

	result, err := context.RequestFuture(pid, domain.ReadRegistersRequest{Address: srne_modbus.REG_BATTERY_VOLTAGE, Count: 1}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	resp := result.(domain.ReadRegistersResponse)
	assert.NoError(resp.ResponseError)
	assert.Equal([]uint16{132}, resp.Values)

	result, err = context.RequestFuture(pid, domain.ReadRegistersRequest{Address: srne_modbus.REG_BATTERY_VOLTAGE, Count: 0}, 5*time.Second).Result()
	assert.NoError(err)
	assert.ErrorIs(result.(domain.ReadRegistersResponse).ResponseError, srne_modbus.ErrInvalidRequest)
}
