package actor

import (
	"testing"

	"github.com/berfenger/srne2mqtt/internal/core/domain"
	"github.com/berfenger/srne2mqtt/internal/mqtt"

	"github.com/stretchr/testify/assert"
)

func TestHealthRound(t *testing.T) {

	assert := assert.New(t)

	round := newHealthRound(nil, domain.ACTOR_ID_MODBUS, domain.ACTOR_ID_MQTT)
	assert.False(round.record(domain.ActorHealthResponse{Id: domain.ACTOR_ID_MODBUS, Healthy: true}))
	assert.False(round.allHealthy(), "mqtt still pending")
	assert.Equal([]string{domain.ACTOR_ID_MQTT}, round.unhealthy())

	// unknown ids are ignored
	assert.False(round.record(domain.ActorHealthResponse{Id: "other", Healthy: true}))

	assert.True(round.record(domain.ActorHealthResponse{Id: domain.ACTOR_ID_MQTT, Healthy: false, State: "timeout"}))
	assert.False(round.allHealthy())
	assert.Equal("timeout", round.states[domain.ACTOR_ID_MQTT])

	round = newHealthRound(nil, domain.ACTOR_ID_MODBUS)
	assert.True(round.record(domain.ActorHealthResponse{Id: domain.ACTOR_ID_MODBUS, Healthy: true}))
	assert.True(round.allHealthy())
	assert.Empty(round.unhealthy())
}

func TestSwitchCommandRequest(t *testing.T) {

	assert := assert.New(t)

	req, err := switchCommandRequest(mqtt.SwitchCommand{SwitchId: domain.SWITCH_ID_INTEGRATED, On: true})
	assert.NoError(err)
	assert.Equal(&domain.ControllerSetIntegratedRequest{Enable: true}, req)

	_, err = switchCommandRequest(mqtt.SwitchCommand{SwitchId: "pump"})
	assert.Error(err)
}
