package srne_modbus

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

const (
	DEFAULT_BAUD_RATE        = 9600
	DEFAULT_RESPONSE_TIMEOUT = 60 * time.Millisecond
)

// Transport carries single register transactions to one device.
type Transport interface {
	ReadHoldingRegisters(reg uint16, count uint16) ([]uint16, error)
	WriteSingleRegister(reg uint16, value uint16) error
	WriteMultipleRegisters(reg uint16, values []uint16) error
	Close() error
}

// Port is the subset of serial.Port used by RTUTransport.
type Port interface {
	io.ReadWriter
	Drain() error
	ResetInputBuffer() error
	SetReadTimeout(t time.Duration) error
	Close() error
}

var _ Port = (serial.Port)(nil)

type RTUTransport struct {
	mu         sync.Mutex
	port       Port
	unitId     byte
	timeout    time.Duration
	instrument []ModbusInstrument
}

func NewRTUTransport(port Port, unitId byte, timeout time.Duration, logger *zap.Logger, instrumentation *ModbusInstrument) *RTUTransport {
	if timeout <= 0 {
		timeout = DEFAULT_RESPONSE_TIMEOUT
	}
	var inst []ModbusInstrument
	if logger != nil {
		inst = instruments(logger.With(zap.String("target", "srne"), zap.Uint8("unit", unitId)), instrumentation)
	} else {
		inst = instruments(nil, instrumentation)
	}
	return &RTUTransport{
		port:       port,
		unitId:     unitId,
		timeout:    timeout,
		instrument: inst,
	}
}

// OpenRTUTransport opens a serial device at 8N1.
func OpenRTUTransport(device string, baudRate int, unitId byte, timeout time.Duration,
	logger *zap.Logger, instrumentation *ModbusInstrument) (*RTUTransport, error) {
	if baudRate <= 0 {
		baudRate = DEFAULT_BAUD_RATE
	}
	port, err := serial.Open(device, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", device, err)
	}
	return NewRTUTransport(port, unitId, timeout, logger, instrumentation), nil
}

func (t *RTUTransport) ReadHoldingRegisters(reg uint16, count uint16) ([]uint16, error) {
	if count == 0 || count > MaxRegistersPerRequest {
		return nil, fmt.Errorf("%w: register count %d", ErrInvalidRequest, count)
	}
	return t.transact("ReadHoldingRegisters", ReadRequest(t.unitId, reg, count))
}

func (t *RTUTransport) WriteSingleRegister(reg uint16, value uint16) error {
	_, err := t.transact("WriteSingleRegister", WriteSingleRequest(t.unitId, reg, value))
	return err
}

func (t *RTUTransport) WriteMultipleRegisters(reg uint16, values []uint16) error {
	if len(values) == 0 || len(values) > MaxRegistersPerRequest {
		return fmt.Errorf("%w: register count %d", ErrInvalidRequest, len(values))
	}
	_, err := t.transact("WriteMultipleRegisters", WriteMultipleRequest(t.unitId, reg, values))
	return err
}

func (t *RTUTransport) Close() error {
	return t.port.Close()
}

// transact holds the lock for the whole request/wait/validate sequence.
func (t *RTUTransport) transact(name string, request []byte) ([]uint16, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer RecordTimer(name, t.instrument)()

	values, err := t.exchange(request)
	recordError(name, err, t.instrument)
	return values, err
}

func (t *RTUTransport) exchange(request []byte) ([]uint16, error) {
	// drop stale bytes from a previous desync
	if err := t.port.ResetInputBuffer(); err != nil {
		return nil, fmt.Errorf("flush input: %w", err)
	}
	if _, err := t.port.Write(request); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}
	if err := t.port.Drain(); err != nil {
		return nil, fmt.Errorf("drain request: %w", err)
	}
	response, err := t.readResponse(ResponseLength(request))
	if err != nil {
		return nil, err
	}
	if len(response) == 0 {
		return nil, ErrTimeout
	}
	return ValidateResponse(request, response)
}

// readResponse reads up to n bytes before the transaction deadline.
func (t *RTUTransport) readResponse(n int) ([]byte, error) {
	deadline := time.Now().Add(t.timeout)
	buf := make([]byte, 0, n)
	chunk := make([]byte, n)
	for len(buf) < n {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		if err := t.port.SetReadTimeout(remaining); err != nil {
			return nil, fmt.Errorf("set read timeout: %w", err)
		}
		k, err := t.port.Read(chunk[:n-len(buf)])
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if k == 0 {
			break
		}
		buf = append(buf, chunk[:k]...)
		// exception responses are shorter than any regular one
		if len(buf) >= 5 && buf[1]&exceptionFlag != 0 {
			break
		}
	}
	return buf, nil
}
