package command

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/berfenger/srne2mqtt/internal/core/domain"
	"go.bug.st/serial"
	"go.uber.org/zap"
)

const READ_TIMEOUT = 200 * time.Millisecond

type Handler func(req domain.ControllerRequest)

// Listener reads operator command frames from a serial line.
type Listener struct {
	port    io.Reader
	parser  *Parser
	handler Handler
	logger  *zap.Logger
}

func NewListener(port io.Reader, location *time.Location, handler Handler, logger *zap.Logger) *Listener {
	return &Listener{port: port, parser: NewParser(location), handler: handler, logger: logger}
}

// OpenPort opens the command line at 8N1 with a short read timeout so Run can
// observe cancellation.
func OpenPort(device string, baudRate int) (serial.Port, error) {
	port, err := serial.Open(device, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("could not open command port %s: %w", device, err)
	}
	if err := port.SetReadTimeout(READ_TIMEOUT); err != nil {
		port.Close()
		return nil, err
	}
	return port, nil
}

// Run blocks until ctx is done or the port fails.
func (l *Listener) Run(ctx context.Context) error {
	l.logger.Info("command: listener started")
	buf := make([]byte, 64)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		n, err := l.port.Read(buf)
		if n > 0 {
			l.Feed(buf[:n])
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("command port read: %w", err)
		}
	}
}

func (l *Listener) Feed(data []byte) {
	requests, errs := l.parser.Feed(data)
	for _, err := range errs {
		l.logger.Warn("command: frame rejected", zap.Error(err))
	}
	for _, req := range requests {
		l.logger.Info("command: received", zap.String("type", fmt.Sprintf("%T", req)))
		l.handler(req)
	}
}
