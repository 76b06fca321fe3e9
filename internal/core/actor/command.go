package actor

import (
	"fmt"

	"github.com/berfenger/srne2mqtt/internal/core/domain"
	"github.com/berfenger/srne2mqtt/internal/mqtt"
)

// switchCommandRequest maps an MQTT switch command onto the controller request it stands for.
func switchCommandRequest(cmd mqtt.SwitchCommand) (domain.ControllerRequest, error) {
	switch cmd.SwitchId {
	case domain.SWITCH_ID_INTEGRATED:
		return &domain.ControllerSetIntegratedRequest{Enable: cmd.On}, nil
	default:
		return nil, fmt.Errorf("unknown switch %q", cmd.SwitchId)
	}
}
