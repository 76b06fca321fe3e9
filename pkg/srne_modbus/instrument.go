package srne_modbus

import (
	"time"

	"go.uber.org/zap"
)

type ModbusInstrument struct {
	RecordTime  func(fnName string, elapsed time.Duration)
	RecordError func(fnName string, err error)
}

func RecordTimer(name string, instrument []ModbusInstrument) func() {
	if instrument == nil {
		return func() {}
	}

	start := time.Now()
	return func() {
		duration := time.Since(start)
		for i := range instrument {
			if instrument[i].RecordTime != nil {
				instrument[i].RecordTime(name, duration)
			}
		}
	}
}

func recordError(name string, err error, instrument []ModbusInstrument) {
	if err == nil {
		return
	}
	for i := range instrument {
		if instrument[i].RecordError != nil {
			instrument[i].RecordError(name, err)
		}
	}
}

func traceLoggerInstrumentation(logger *zap.Logger) *ModbusInstrument {
	if logger == nil {
		return nil
	}
	return &ModbusInstrument{
		RecordTime: func(fnName string, elapsed time.Duration) {
			logger.Debug("modbus transaction", zap.String("fn", fnName), zap.Int64("millis", elapsed.Milliseconds()))
		},
		RecordError: func(fnName string, err error) {
			logger.Debug("modbus transaction failed", zap.String("fn", fnName), zap.Error(err))
		},
	}
}

func instruments(logger *zap.Logger, instrumentation *ModbusInstrument) []ModbusInstrument {
	var inst []ModbusInstrument
	if logInst := traceLoggerInstrumentation(logger); logInst != nil {
		inst = append(inst, *logInst)
	}
	if instrumentation != nil {
		inst = append(inst, *instrumentation)
	}
	return inst
}
