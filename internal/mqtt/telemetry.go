package mqtt

import (
	"encoding/json"

	"github.com/berfenger/srne2mqtt/internal/core/domain"
)

// TelemetryPayload renders the compact JSON document consumed by the telemetry topic.
func TelemetryPayload(record domain.TelemetryRecord) (string, error) {
	payload, err := json.Marshal(record)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}
