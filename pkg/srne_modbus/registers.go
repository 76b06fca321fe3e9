package srne_modbus

// Register map of the SRNE charge controller.
const (
	REG_DEVICE_RATING    uint16 = 0x000A
	REG_DEVICE_MODEL     uint16 = 0x000C // 8 registers, ASCII
	REG_SOFTWARE_VERSION uint16 = 0x0014 // 2 registers

	REG_BATTERY_SOC        uint16 = 0x0100
	REG_BATTERY_VOLTAGE    uint16 = 0x0101
	REG_BATTERY_CURRENT    uint16 = 0x0102
	REG_TEMPERATURE        uint16 = 0x0103
	REG_LOAD_VOLTAGE       uint16 = 0x0104
	REG_LOAD_CURRENT       uint16 = 0x0105
	REG_LOAD_POWER         uint16 = 0x0106
	REG_SOLAR_VOLTAGE      uint16 = 0x0107
	REG_SOLAR_CURRENT      uint16 = 0x0108
	REG_SOLAR_POWER        uint16 = 0x0109
	REG_TOTAL_CHARGE_AH    uint16 = 0x0118
	REG_TOTAL_DISCHARGE_AH uint16 = 0x011A
	REG_TOTAL_CHARGE_WH    uint16 = 0x011C
	REG_TOTAL_LOAD_WH      uint16 = 0x011E

	REG_FACTORY_RESET      uint16 = 0xDF02
	REG_CLEAR_HISTORY      uint16 = 0xDF05
	REG_RESTART            uint16 = 0xDF01
	REG_LOAD_MODE          uint16 = 0xDF09
	REG_LOAD_PERCENTAGE    uint16 = 0xDF0A
	REG_LOAD_MODE_OPTIONS  uint16 = 0xDF0B
	REG_MAX_CHARGE_CURRENT uint16 = 0xE001
	REG_NOMINAL_CAPACITY   uint16 = 0xE002
	REG_SYSTEM_VOLTAGE     uint16 = 0xE003
	REG_BATTERY_TYPE       uint16 = 0xE004
	REG_OVER_CHARGE        uint16 = 0xE008
	REG_OVER_CHARGE_RETURN uint16 = 0xE009
	REG_OVER_DISCH_RETURN  uint16 = 0xE00B
	REG_OVER_DISCHARGE     uint16 = 0xE00D
	REG_MAX_LOAD_CURRENT   uint16 = 0xE08D
	REG_LOAD_SCHEDULE_BASE uint16 = 0xE092

	LOAD_MODE_MANUAL         uint16 = 0x0200
	LOAD_MODE_MANUAL_OPTIONS uint16 = 0xD2F0
	BATTERY_TYPE_LITHIUM     uint16 = 0x0011

	MAX_CHARGE_CURRENT_CEILING = 3.85
	LOAD_SCHEDULE_SLOTS        = 9
)

func loadScheduleRegister(slot int) uint16 {
	return REG_LOAD_SCHEDULE_BASE + uint16(3*(slot-1))
}
