package command

import (
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/srne2mqtt/internal/core/domain"
)

const (
	START_BYTE        = 0xA5
	END_BYTE          = 0x5A
	MODE_CMD          = 0x04
	CMD_SET_TIME      = 0x01
	CMD_ERASE_STORAGE = 0x02
	CMD_FACTORY_RESET = 0x03
	CONFIRM_PAYLOAD   = 0x01
)

var ErrInvalidFrame = errors.New("invalid command frame")

// frame body lengths after the command byte: payload, checksum, end byte
var bodyLength = map[byte]int{
	CMD_SET_TIME:      9,
	CMD_ERASE_STORAGE: 3,
	CMD_FACTORY_RESET: 3,
}

// Parser extracts operator commands from a byte stream. Bytes before a start
// byte are discarded.
type Parser struct {
	buf      []byte
	location *time.Location
}

func NewParser(location *time.Location) *Parser {
	if location == nil {
		location = time.Local
	}
	return &Parser{location: location}
}

// Feed appends data and returns the commands completed by it together with
// the frames that were rejected.
func (p *Parser) Feed(data []byte) ([]domain.ControllerRequest, []error) {
	p.buf = append(p.buf, data...)
	var requests []domain.ControllerRequest
	var errs []error
	for {
		for len(p.buf) > 0 && p.buf[0] != START_BYTE {
			p.buf = p.buf[1:]
		}
		if len(p.buf) < 3 {
			return requests, errs
		}
		mode, cmd := p.buf[1], p.buf[2]
		if mode != MODE_CMD {
			errs = append(errs, fmt.Errorf("%w: unknown mode 0x%02X", ErrInvalidFrame, mode))
			p.buf = p.buf[2:]
			continue
		}
		n, ok := bodyLength[cmd]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: unknown command 0x%02X", ErrInvalidFrame, cmd))
			p.buf = p.buf[3:]
			continue
		}
		if len(p.buf) < 3+n {
			return requests, errs
		}
		frame := p.buf[:3+n]
		p.buf = p.buf[3+n:]
		req, err := p.decode(frame)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		requests = append(requests, req)
	}
}

func (p *Parser) decode(frame []byte) (domain.ControllerRequest, error) {
	cmd := frame[2]
	body := frame[3:]
	payload := body[:len(body)-2]
	cs, tail := body[len(body)-2], body[len(body)-1]
	if tail != END_BYTE {
		return nil, fmt.Errorf("%w: bad tail 0x%02X", ErrInvalidFrame, tail)
	}
	if Checksum(frame[1], cmd, payload) != cs {
		return nil, fmt.Errorf("%w: bad checksum", ErrInvalidFrame)
	}
	switch cmd {
	case CMD_SET_TIME:
		year := int(payload[2])<<8 | int(payload[3])
		t := time.Date(year, time.Month(payload[1]), int(payload[0]),
			int(payload[4]), int(payload[5]), int(payload[6]), 0, p.location)
		return &domain.ControllerSetTimeRequest{Time: t}, nil
	case CMD_ERASE_STORAGE, CMD_FACTORY_RESET:
		if payload[0] != CONFIRM_PAYLOAD {
			return nil, fmt.Errorf("%w: bad confirmation 0x%02X", ErrInvalidFrame, payload[0])
		}
		if cmd == CMD_ERASE_STORAGE {
			return &domain.ControllerEraseStorageRequest{}, nil
		}
		return &domain.ControllerFactoryResetRequest{}, nil
	}
	return nil, fmt.Errorf("%w: unknown command 0x%02X", ErrInvalidFrame, cmd)
}

// Checksum is the XOR of mode, command and payload bytes.
func Checksum(mode, cmd byte, payload []byte) byte {
	cs := mode ^ cmd
	for _, b := range payload {
		cs ^= b
	}
	return cs
}

// EncodeSetTime builds a set time frame. Used by tooling and tests.
func EncodeSetTime(t time.Time) []byte {
	payload := []byte{
		byte(t.Day()), byte(t.Month()), byte(t.Year() >> 8), byte(t.Year()),
		byte(t.Hour()), byte(t.Minute()), byte(t.Second()),
	}
	return encode(CMD_SET_TIME, payload)
}

func EncodeConfirmed(cmd byte) []byte {
	return encode(cmd, []byte{CONFIRM_PAYLOAD})
}

func encode(cmd byte, payload []byte) []byte {
	frame := []byte{START_BYTE, MODE_CMD, cmd}
	frame = append(frame, payload...)
	return append(frame, Checksum(MODE_CMD, cmd, payload), END_BYTE)
}
