package cart

import (
	"bytes"
	"encoding/gob"
)

// MBC3 implements ROM/RAM banking plus the optional real-time clock.
// Banking:
// - 0000-1FFF: RAM/RTC enable (0x0A in low nibble)
// - 2000-3FFF: ROM bank, 7 bits (0 maps to 1)
// - 4000-5FFF: RAM bank (0-3) or RTC register select (08-0C)
// - 6000-7FFF: latch clock: a 0x00 then 0x01 write copies live registers to the latch
// - A000-BFFF: RAM window, or the latched RTC register when a selector 08..0C is active
type MBC3 struct {
	rom    []byte
	ram    []byte
	hasRTC bool

	ramEnabled bool
	romBank    byte // 7 bits (1..127)
	ramBank    byte // 0..3, or an RTC selector 0x08..0x0C

	// RTC: 5 live registers (seconds, minutes, hours, day-low, day-high/flags) and their latch.
	rtcLive   [5]byte
	rtcLatch  [5]byte
	latchPrev byte // last byte written to 0x6000-0x7FFF, for the 0x00->0x01 edge
	subCycles int  // accumulated master cycles toward the next RTC second
}

const (
	rtcSeconds = 0
	rtcMinutes = 1
	rtcHours   = 2
	rtcDayLo   = 3
	rtcDayHi   = 4 // bit0: day bit8, bit6: halt, bit7: day-carry
)

func NewMBC3(rom []byte, ramSize int, hasRTC bool) *MBC3 {
	m := &MBC3{rom: rom, hasRTC: hasRTC}
	if ramSize > 0 {
		m.ram = make([]byte, ramSize)
	}
	m.romBank = 1
	return m
}

func (m *MBC3) romByte(off int) byte {
	if len(m.rom) == 0 {
		return 0xFF
	}
	return m.rom[off%len(m.rom)]
}

func (m *MBC3) Read(addr uint16) byte {
	switch {
	case addr < 0x4000:
		return m.romByte(int(addr))
	case addr < 0x8000:
		bank := int(m.romBank & 0x7F)
		if bank == 0 {
			bank = 1
		}
		return m.romByte(bank*0x4000 + int(addr-0x4000))
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return 0xFF
		}
		if m.hasRTC && m.ramBank >= 0x08 && m.ramBank <= 0x0C {
			return m.rtcLatch[m.ramBank-0x08]
		}
		if len(m.ram) == 0 {
			return 0xFF
		}
		rb := int(m.ramBank & 0x03)
		off := rb*0x2000 + int(addr-0xA000)
		if off >= 0 && off < len(m.ram) {
			return m.ram[off]
		}
		return 0xFF
	default:
		return 0xFF
	}
}

func (m *MBC3) Write(addr uint16, value byte) {
	switch {
	case addr < 0x2000:
		m.ramEnabled = (value & 0x0F) == 0x0A
	case addr < 0x4000:
		v := value & 0x7F
		if v == 0 {
			v = 1
		}
		m.romBank = v
	case addr < 0x6000:
		m.ramBank = value
	case addr < 0x8000:
		if m.hasRTC && m.latchPrev == 0x00 && value == 0x01 {
			m.rtcLatch = m.rtcLive
		}
		m.latchPrev = value
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return
		}
		if m.hasRTC && m.ramBank >= 0x08 && m.ramBank <= 0x0C {
			m.rtcLive[m.ramBank-0x08] = value
			return
		}
		if len(m.ram) == 0 {
			return
		}
		rb := int(m.ramBank & 0x03)
		off := rb*0x2000 + int(addr-0xA000)
		if off >= 0 && off < len(m.ram) {
			m.ram[off] = value
		}
	}
}

// Tick accumulates master-clock T-cycles and rolls the live RTC registers forward
// once a second's worth have elapsed. A halted clock (day-high bit6) does not advance.
func (m *MBC3) Tick(masterCycles int) {
	if !m.hasRTC || masterCycles <= 0 {
		return
	}
	if m.rtcLive[rtcDayHi]&0x40 != 0 {
		return
	}
	const cyclesPerSecond = 4194304
	m.subCycles += masterCycles
	for m.subCycles >= cyclesPerSecond {
		m.subCycles -= cyclesPerSecond
		m.tickSecond()
	}
}

func (m *MBC3) tickSecond() {
	m.rtcLive[rtcSeconds]++
	if m.rtcLive[rtcSeconds] < 60 {
		return
	}
	m.rtcLive[rtcSeconds] = 0
	m.rtcLive[rtcMinutes]++
	if m.rtcLive[rtcMinutes] < 60 {
		return
	}
	m.rtcLive[rtcMinutes] = 0
	m.rtcLive[rtcHours]++
	if m.rtcLive[rtcHours] < 24 {
		return
	}
	m.rtcLive[rtcHours] = 0
	day := uint16(m.rtcLive[rtcDayLo]) | uint16(m.rtcLive[rtcDayHi]&0x01)<<8
	day++
	if day > 0x1FF {
		day = 0
		m.rtcLive[rtcDayHi] |= 0x80 // day counter carry
	}
	m.rtcLive[rtcDayLo] = byte(day & 0xFF)
	m.rtcLive[rtcDayHi] = (m.rtcLive[rtcDayHi] &^ 0x01) | byte((day>>8)&0x01)
}

type mbc3State struct {
	RAM        []byte
	RamEnabled bool
	RomBank    byte
	RamBank    byte
	RTCLive    [5]byte
	RTCLatch   [5]byte
	LatchPrev  byte
	SubCycles  int
}

func (m *MBC3) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(mbc3State{
		RAM: m.ram, RamEnabled: m.ramEnabled, RomBank: m.romBank, RamBank: m.ramBank,
		RTCLive: m.rtcLive, RTCLatch: m.rtcLatch, LatchPrev: m.latchPrev, SubCycles: m.subCycles,
	})
	return buf.Bytes()
}

func (m *MBC3) LoadState(data []byte) {
	var s mbc3State
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	if len(s.RAM) == len(m.ram) {
		copy(m.ram, s.RAM)
	}
	m.ramEnabled, m.romBank, m.ramBank = s.RamEnabled, s.RomBank, s.RamBank
	m.rtcLive, m.rtcLatch, m.latchPrev, m.subCycles = s.RTCLive, s.RTCLatch, s.LatchPrev, s.SubCycles
}

func (m *MBC3) SaveRAM() []byte {
	if len(m.ram) == 0 {
		return nil
	}
	out := make([]byte, len(m.ram))
	copy(out, m.ram)
	return out
}

func (m *MBC3) LoadRAM(data []byte) {
	if len(m.ram) == 0 || len(data) == 0 {
		return
	}
	copy(m.ram, data)
}
