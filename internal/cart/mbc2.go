package cart

import (
	"bytes"
	"encoding/gob"
)

// MBC2 provides ROM banking (4 bits, up to 256KB) plus a built-in 512x4-bit
// RAM array addressed at 0xA000-0xA1FF (mirrored across 0xA200-0xBFFF); the
// upper nibble of every stored byte reads back as 1s.
type MBC2 struct {
	rom []byte
	ram [512]byte // low nibble significant

	romBank    byte // 4 bits, 0 maps to 1
	ramEnabled bool
}

func NewMBC2(rom []byte) *MBC2 {
	m := &MBC2{rom: rom}
	m.romBank = 1
	return m
}

func (m *MBC2) romByte(off int) byte {
	if len(m.rom) == 0 {
		return 0xFF
	}
	return m.rom[off%len(m.rom)]
}

func (m *MBC2) Read(addr uint16) byte {
	switch {
	case addr < 0x4000:
		return m.romByte(int(addr))
	case addr < 0x8000:
		return m.romByte(int(m.romBank)*0x4000 + int(addr-0x4000))
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return 0xFF
		}
		return 0xF0 | (m.ram[addr&0x1FF] & 0x0F)
	default:
		return 0xFF
	}
}

func (m *MBC2) Write(addr uint16, value byte) {
	switch {
	case addr < 0x4000:
		// Bit 8 of the address (A8) distinguishes RAM-enable writes from ROM-bank writes.
		if addr&0x0100 == 0 {
			m.ramEnabled = (value & 0x0F) == 0x0A
		} else {
			b := value & 0x0F
			if b == 0 {
				b = 1
			}
			m.romBank = b
		}
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return
		}
		m.ram[addr&0x1FF] = value & 0x0F
	}
}

func (m *MBC2) Tick(masterCycles int) {}

type mbc2State struct {
	RAM        [512]byte
	RomBank    byte
	RamEnabled bool
}

func (m *MBC2) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(mbc2State{RAM: m.ram, RomBank: m.romBank, RamEnabled: m.ramEnabled})
	return buf.Bytes()
}

func (m *MBC2) LoadState(data []byte) {
	var s mbc2State
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	m.ram = s.RAM
	m.romBank, m.ramEnabled = s.RomBank, s.RamEnabled
}

func (m *MBC2) SaveRAM() []byte {
	out := make([]byte, len(m.ram))
	copy(out, m.ram[:])
	return out
}

func (m *MBC2) LoadRAM(data []byte) {
	if len(data) != len(m.ram) {
		return
	}
	copy(m.ram[:], data)
}
