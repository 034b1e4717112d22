package cart

import "testing"

func TestMBC5_ROMBanking(t *testing.T) {
	rom := make([]byte, 0x100000) // 1MB, 64 banks of 0x4000
	for bank := 0; bank < 64; bank++ {
		rom[bank*0x4000] = byte(bank)
	}
	m := NewMBC5(rom, 0)

	m.Write(0x2000, 5) // low 8 bits of bank
	if got := m.Read(0x4000); got != 5 {
		t.Fatalf("bank 5 read got %d want 5", got)
	}

	// Bank 0 must be selectable (not remapped to 1, unlike MBC1/2/3).
	m.Write(0x2000, 0)
	if got := m.Read(0x4000); got != 0 {
		t.Fatalf("bank 0 read got %d want 0 (MBC5 does not remap bank 0)", got)
	}

	// High bit (bit 8) combines with the low 8 bits written via 0x2000-0x2FFF.
	m.Write(0x2000, 0x01)
	m.Write(0x3000, 0x01)
	if got := m.Read(0x4000); got != 1 {
		t.Fatalf("bank 0x101 low byte read got %d want 1", got)
	}
}

func TestMBC5_RAMBanking(t *testing.T) {
	rom := make([]byte, 0x8000)
	m := NewMBC5(rom, 4*0x2000)

	m.Write(0x0000, 0x0A) // RAM enable
	m.Write(0x4000, 0x02) // RAM bank 2
	m.Write(0xA000, 0x7A)
	if got := m.Read(0xA000); got != 0x7A {
		t.Fatalf("RAM bank 2 read got %#02x want 0x7A", got)
	}

	m.Write(0x4000, 0x00) // back to RAM bank 0
	if got := m.Read(0xA000); got == 0x7A {
		t.Fatalf("RAM bank 0 unexpectedly aliases bank 2's data")
	}
}

func TestMBC5_RAMDisabledReadsFF(t *testing.T) {
	rom := make([]byte, 0x8000)
	m := NewMBC5(rom, 0x2000)
	if got := m.Read(0xA000); got != 0xFF {
		t.Fatalf("disabled RAM read got %#02x want 0xFF", got)
	}
}

func TestMBC5_SaveLoadState(t *testing.T) {
	rom := make([]byte, 0x8000)
	m := NewMBC5(rom, 0x2000)
	m.Write(0x0000, 0x0A)
	m.Write(0x2000, 0x03)
	m.Write(0xA000, 0x55)

	data := m.SaveState()
	n := NewMBC5(rom, 0x2000)
	n.LoadState(data)

	n.Write(0x0000, 0x0A)
	n.Write(0x2000, 0x03)
	if got := n.Read(0xA000); got != 0x55 {
		t.Fatalf("restored RAM got %#02x want 0x55", got)
	}
}
