package srne_modbus

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	FUNC_READ_HOLDING   byte = 0x03
	FUNC_WRITE_SINGLE   byte = 0x06
	FUNC_WRITE_MULTIPLE byte = 0x10

	exceptionFlag byte = 0x80

	// max registers accepted in one read or write-multiple request
	MaxRegistersPerRequest = 32
)

var (
	ErrTimeout        = errors.New("srne: response timeout")
	ErrProtocol       = errors.New("srne: protocol error")
	ErrRetryExhausted = errors.New("srne: retries exhausted")
	ErrInvalidRequest = errors.New("srne: invalid request")
)

func ReadRequest(addr byte, reg uint16, count uint16) []byte {
	frame := make([]byte, 6, 8)
	frame[0] = addr
	frame[1] = FUNC_READ_HOLDING
	binary.BigEndian.PutUint16(frame[2:], reg)
	binary.BigEndian.PutUint16(frame[4:], count)
	return AppendCRC(frame)
}

func WriteSingleRequest(addr byte, reg uint16, value uint16) []byte {
	frame := make([]byte, 6, 8)
	frame[0] = addr
	frame[1] = FUNC_WRITE_SINGLE
	binary.BigEndian.PutUint16(frame[2:], reg)
	binary.BigEndian.PutUint16(frame[4:], value)
	return AppendCRC(frame)
}

func WriteMultipleRequest(addr byte, reg uint16, values []uint16) []byte {
	frame := make([]byte, 7, 9+2*len(values))
	frame[0] = addr
	frame[1] = FUNC_WRITE_MULTIPLE
	binary.BigEndian.PutUint16(frame[2:], reg)
	binary.BigEndian.PutUint16(frame[4:], uint16(len(values)))
	frame[6] = byte(2 * len(values))
	for _, v := range values {
		frame = binary.BigEndian.AppendUint16(frame, v)
	}
	return AppendCRC(frame)
}

// ResponseLength returns the exact response size expected for a request frame.
func ResponseLength(request []byte) int {
	switch request[1] {
	case FUNC_READ_HOLDING:
		return 5 + 2*int(binary.BigEndian.Uint16(request[4:]))
	case FUNC_WRITE_SINGLE:
		return len(request)
	case FUNC_WRITE_MULTIPLE:
		return 8
	}
	return 0
}

// ValidateResponse checks a complete response against the request it answers and
// returns the register payload for reads.
func ValidateResponse(request, response []byte) ([]uint16, error) {
	if len(response) >= 5 && response[1] == request[1]|exceptionFlag {
		if response[0] != request[0] {
			return nil, fmt.Errorf("%w: address mismatch 0x%02x", ErrProtocol, response[0])
		}
		if !ValidCRC(response[:5]) {
			return nil, fmt.Errorf("%w: bad exception crc", ErrProtocol)
		}
		return nil, fmt.Errorf("%w: exception code 0x%02x", ErrProtocol, response[2])
	}
	if len(response) != ResponseLength(request) {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrTimeout, len(response), ResponseLength(request))
	}

	switch request[1] {
	case FUNC_READ_HOLDING:
		return parseReadResponse(request, response)
	case FUNC_WRITE_SINGLE:
		// the echo must match byte for byte
		if !bytes.Equal(request, response) {
			return nil, fmt.Errorf("%w: write echo mismatch", ErrProtocol)
		}
		return nil, nil
	case FUNC_WRITE_MULTIPLE:
		if !bytes.Equal(request[:6], response[:6]) {
			return nil, fmt.Errorf("%w: write multiple echo mismatch", ErrProtocol)
		}
		if !ValidCRC(response) {
			return nil, fmt.Errorf("%w: crc mismatch", ErrProtocol)
		}
		return nil, nil
	}
	return nil, fmt.Errorf("%w: unsupported function 0x%02x", ErrInvalidRequest, request[1])
}

func parseReadResponse(request, response []byte) ([]uint16, error) {
	if response[0] != request[0] {
		return nil, fmt.Errorf("%w: address mismatch 0x%02x", ErrProtocol, response[0])
	}
	if response[1] != request[1] {
		return nil, fmt.Errorf("%w: function mismatch 0x%02x", ErrProtocol, response[1])
	}
	count := int(binary.BigEndian.Uint16(request[4:]))
	if int(response[2]) != 2*count {
		return nil, fmt.Errorf("%w: byte count %d", ErrProtocol, response[2])
	}
	if !ValidCRC(response) {
		return nil, fmt.Errorf("%w: crc mismatch", ErrProtocol)
	}
	values := make([]uint16, count)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(response[3+2*i:])
	}
	return values, nil
}

// Uint32FromRegisters joins two consecutive registers, high word first.
func Uint32FromRegisters(regs []uint16) uint32 {
	return uint32(regs[0])<<16 | uint32(regs[1])
}
