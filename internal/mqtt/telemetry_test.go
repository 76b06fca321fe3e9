package mqtt

import (
	"testing"

	"github.com/berfenger/srne2mqtt/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelemetryPayload(t *testing.T) {
	record := domain.TelemetryRecord{
		LoadVoltage:        13.1,
		LoadCurrent:        0.25,
		LoadPower:          3,
		LoadWh:             120,
		SolarVoltage:       18.2,
		SolarCurrent:       1.1,
		SolarPower:         20,
		BatteryVoltage:     13.2,
		BatteryCurrent:     1.5,
		BatterySOC:         80,
		BatteryTemperature: 25,
		ChargeWh:           310,
		Timestamp:          "2025-04-02T09:05:07",
	}
	payload, err := TelemetryPayload(record)
	require.NoError(t, err)
	assert.JSONEq(t, `{"lv":13.1,"lc":0.25,"lp":3,"lw":120,"sv":18.2,"sc":1.1,"sp":20,
		"bv":13.2,"bc":1.5,"bs":80,"bt":25,"cw":310,"timestamp":"2025-04-02T09:05:07"}`, payload)
}
