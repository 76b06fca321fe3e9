package actor

import (
	"testing"
	"time"

	adactor "github.com/berfenger/srne2mqtt/internal/adapter/actor"
	"github.com/berfenger/srne2mqtt/internal/core/domain"
	"github.com/berfenger/srne2mqtt/internal/util"
	"github.com/berfenger/srne2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestHADiscoveryActorAnnounces(t *testing.T) {

	assert := assert.New(t)

	cfg := util.LoadTestConfig()
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	defer as.Shutdown()

	announced := make(chan domain.PublishDiscoveryRequest, 1)
	observer := as.Root.Spawn(actor.PropsFromFunc(func(ctx actor.Context) {
		if msg, ok := ctx.Message().(domain.PublishDiscoveryRequest); ok {
			announced <- msg
		}
	}))

	driver, _ := testDriver(logger)
	modbusPID := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor { return adactor.NewModbusActor(driver, logger) }))
	mqttPID := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor { return adactor.NewTestMQTTActor(&cfg, observer, logger) }))
	pid := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewHADiscoveryActor(&cfg, modbusPID, mqttPID, logger)
	}))

	select {
	case msg := <-announced:
		assert.Equal(domain.SENSOR_ID_BRIDGE_STATE, msg.Sensors[0].Id)
		assert.Contains(msg.Sensors[1].Device.Model, "ML2420")
		assert.Len(msg.Switches, 1)
	case <-time.After(5 * time.Second):
		t.Fatal("discovery was not announced")
	}

	res, err := as.Root.RequestFuture(pid, domain.ActorHealthRequest{}, time.Second).Result()
	assert.NoError(err)
	assert.Equal("done", res.(domain.ActorHealthResponse).State)
}
