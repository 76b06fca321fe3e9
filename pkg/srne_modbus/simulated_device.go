package srne_modbus

import (
	"encoding/binary"
	"sync"
	"time"
)

// SimulatedDevice emulates a charge controller behind a serial Port. Faults can be
// queued to exercise the transport error paths.
type SimulatedDevice struct {
	mu        sync.Mutex
	unitId    byte
	registers map[uint16]uint16
	pending   []byte
	requests  int

	dropResponses int
	corruptCRC    int
	corruptEcho   int
}

var _ Port = (*SimulatedDevice)(nil)

func NewSimulatedDevice(unitId byte) *SimulatedDevice {
	dev := &SimulatedDevice{
		unitId:    unitId,
		registers: map[uint16]uint16{},
	}
	dev.registers[REG_DEVICE_RATING] = 0x0C0A // 12V 10A
	dev.SetString(REG_DEVICE_MODEL, 8, "ML2420")
	dev.SetUint32(REG_SOFTWARE_VERSION, 0x00040106)
	dev.registers[REG_BATTERY_SOC] = 80
	dev.registers[REG_BATTERY_VOLTAGE] = 132
	dev.registers[REG_BATTERY_CURRENT] = 150
	dev.registers[REG_TEMPERATURE] = 0x1A19
	dev.registers[REG_LOAD_VOLTAGE] = 131
	dev.registers[REG_LOAD_CURRENT] = 0
	dev.registers[REG_LOAD_POWER] = 0
	dev.registers[REG_SOLAR_VOLTAGE] = 182
	dev.registers[REG_SOLAR_CURRENT] = 110
	dev.registers[REG_SOLAR_POWER] = 20
	dev.registers[REG_MAX_CHARGE_CURRENT] = 300
	return dev
}

func (s *SimulatedDevice) Register(addr uint16) uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registers[addr]
}

func (s *SimulatedDevice) SetRegister(addr uint16, value uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registers[addr] = value
}

func (s *SimulatedDevice) SetUint32(addr uint16, value uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registers[addr] = uint16(value >> 16)
	s.registers[addr+1] = uint16(value & 0xFFFF)
}

func (s *SimulatedDevice) SetString(addr uint16, size int, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw := make([]byte, 2*size)
	copy(raw, value)
	for i := 0; i < size; i++ {
		s.registers[addr+uint16(i)] = binary.BigEndian.Uint16(raw[2*i:])
	}
}

// Requests returns the number of well-formed frames received.
func (s *SimulatedDevice) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

func (s *SimulatedDevice) DropResponses(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropResponses = n
}

func (s *SimulatedDevice) CorruptCRC(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corruptCRC = n
}

// CorruptEcho alters one payload byte of the next n write echoes.
func (s *SimulatedDevice) CorruptEcho(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corruptEcho = n
}

func (s *SimulatedDevice) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	request := append([]byte(nil), p...)
	if len(request) < 8 || !ValidCRC(request) || request[0] != s.unitId {
		return len(p), nil
	}
	s.requests++

	response := s.handle(request)
	if response == nil {
		return len(p), nil
	}
	switch {
	case s.dropResponses > 0:
		s.dropResponses--
		response = nil
	case s.corruptEcho > 0 && request[1] != FUNC_READ_HOLDING:
		s.corruptEcho--
		response[5] ^= 0x01
		response = AppendCRC(response[:len(response)-2])
	case s.corruptCRC > 0:
		s.corruptCRC--
		response[len(response)-1] ^= 0xFF
	}
	s.pending = append(s.pending, response...)
	return len(p), nil
}

func (s *SimulatedDevice) handle(request []byte) []byte {
	reg := binary.BigEndian.Uint16(request[2:])
	switch request[1] {
	case FUNC_READ_HOLDING:
		count := binary.BigEndian.Uint16(request[4:])
		response := []byte{request[0], request[1], byte(2 * count)}
		for i := uint16(0); i < count; i++ {
			response = binary.BigEndian.AppendUint16(response, s.registers[reg+i])
		}
		return AppendCRC(response)
	case FUNC_WRITE_SINGLE:
		s.write(reg, binary.BigEndian.Uint16(request[4:]))
		return append([]byte(nil), request...)
	case FUNC_WRITE_MULTIPLE:
		count := binary.BigEndian.Uint16(request[4:])
		if len(request) != 9+2*int(count) {
			return nil
		}
		for i := uint16(0); i < count; i++ {
			s.write(reg+i, binary.BigEndian.Uint16(request[7+2*i:]))
		}
		return AppendCRC(append([]byte(nil), request[:6]...))
	}
	return AppendCRC([]byte{request[0], request[1] | exceptionFlag, 0x01})
}

func (s *SimulatedDevice) write(reg uint16, value uint16) {
	s.registers[reg] = value
	if reg == REG_CLEAR_HISTORY && value == 1 {
		for r := REG_TOTAL_CHARGE_AH; r <= REG_TOTAL_LOAD_WH+1; r++ {
			s.registers[r] = 0
		}
		s.registers[REG_CLEAR_HISTORY] = 0
	}
}

func (s *SimulatedDevice) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *SimulatedDevice) ResetInputBuffer() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	return nil
}

func (s *SimulatedDevice) Drain() error {
	return nil
}

func (s *SimulatedDevice) SetReadTimeout(time.Duration) error {
	return nil
}

func (s *SimulatedDevice) Close() error {
	return nil
}
