package srne_modbus

import (
	"fmt"
	"sync"
	"time"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

// GatewayTransport reaches the controller through a Modbus client, either a local
// rtu:// device or a remote rtuovertcp:// / tcp:// gateway.
type GatewayTransport struct {
	mu         sync.Mutex
	client     *modbus.ModbusClient
	instrument []ModbusInstrument
}

func CreateGatewayTransport(url string, speed uint, unitId uint8, timeout time.Duration,
	logger *zap.Logger, instrumentation *ModbusInstrument) (*GatewayTransport, error) {
	if timeout <= 0 {
		timeout = DEFAULT_RESPONSE_TIMEOUT
	}
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:      url,
		Speed:    speed,
		DataBits: 8,
		Parity:   modbus.PARITY_NONE,
		StopBits: 1,
		Timeout:  timeout,
	})
	if err != nil {
		return nil, err
	}

	if unitId > 0 {
		if err = client.SetUnitId(unitId); err != nil {
			return nil, err
		}
	}

	var inst []ModbusInstrument
	if logger != nil {
		inst = instruments(logger.With(zap.String("target", "gateway"), zap.String("url", url)), instrumentation)
	} else {
		inst = instruments(nil, instrumentation)
	}

	if err = client.Open(); err != nil {
		return nil, fmt.Errorf("open modbus gateway %s: %w", url, err)
	}

	return &GatewayTransport{
		client:     client,
		instrument: inst,
	}, nil
}

func (g *GatewayTransport) ReadHoldingRegisters(reg uint16, count uint16) ([]uint16, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	defer RecordTimer("ReadRegisters", g.instrument)()
	values, err := g.client.ReadRegisters(reg, count, modbus.HOLDING_REGISTER)
	recordError("ReadRegisters", err, g.instrument)
	if err != nil {
		return nil, gatewayError(err)
	}
	return values, nil
}

func (g *GatewayTransport) WriteSingleRegister(reg uint16, value uint16) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	defer RecordTimer("WriteRegister", g.instrument)()
	err := g.client.WriteRegister(reg, value)
	recordError("WriteRegister", err, g.instrument)
	return gatewayError(err)
}

func (g *GatewayTransport) WriteMultipleRegisters(reg uint16, values []uint16) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	defer RecordTimer("WriteRegisters", g.instrument)()
	err := g.client.WriteRegisters(reg, values)
	recordError("WriteRegisters", err, g.instrument)
	return gatewayError(err)
}

func (g *GatewayTransport) Close() error {
	return g.client.Close()
}

// gatewayError maps client errors onto the transport error taxonomy.
func gatewayError(err error) error {
	switch err {
	case nil:
		return nil
	case modbus.ErrRequestTimedOut:
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case modbus.ErrBadCRC, modbus.ErrProtocolError, modbus.ErrShortFrame, modbus.ErrBadUnitId:
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return err
}
