package emu

import (
	"encoding/binary"
	"testing"
)

// buildROM makes a synthetic ROM-only cartridge image with a valid header
// and checksums, mirroring internal/cart's own test helper.
func buildROM(title string, cgbFlag byte, size int) []byte {
	rom := make([]byte, size)
	tbytes := []byte(title)
	if len(tbytes) > 16 {
		tbytes = tbytes[:16]
	}
	copy(rom[0x0134:0x0144], tbytes)
	rom[0x0143] = cgbFlag
	rom[0x0144], rom[0x0145] = '0', '1'
	rom[0x0147] = 0x00 // ROM only
	rom[0x0148] = 0x00 // 32KiB
	rom[0x0149] = 0x00 // no RAM
	rom[0x014B] = 0x33

	var hsum byte
	for addr := 0x0134; addr <= 0x014C; addr++ {
		hsum = hsum - rom[addr] - 1
	}
	rom[0x014D] = hsum

	var gsum uint16
	for i := range rom {
		if i == 0x014E || i == 0x014F {
			continue
		}
		gsum += uint16(rom[i])
	}
	binary.BigEndian.PutUint16(rom[0x014E:0x0150], gsum)
	return rom
}

func TestLoadCartridgeAndROMTitle(t *testing.T) {
	m := New(Config{})
	rom := buildROM("GBCORETEST", 0x00, 32*1024)
	if err := m.LoadCartridge(rom, nil); err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}
	if got := m.ROMTitle(); got != "GBCORETEST" {
		t.Fatalf("ROMTitle got %q", got)
	}
	if m.WantCGBColors() {
		t.Fatalf("DMG-only header should not request CGB colors")
	}
}

func TestStepFrameAdvancesAndRenders(t *testing.T) {
	m := New(Config{})
	rom := buildROM("RUNNER", 0x00, 32*1024)
	if err := m.LoadCartridge(rom, nil); err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}
	m.StepFrame()
	fb := m.Framebuffer()
	if len(fb) != 160*144*4 {
		t.Fatalf("framebuffer size got %d want %d", len(fb), 160*144*4)
	}
}

func TestResetPostBootRegisters(t *testing.T) {
	m := New(Config{})
	rom := buildROM("RESET", 0x00, 32*1024)
	if err := m.LoadCartridge(rom, nil); err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}
	if dbg := m.CPUDebugString(); dbg == "" {
		t.Fatalf("expected non-empty CPU debug string after load")
	}
}

func TestSaveLoadStateRoundTrip(t *testing.T) {
	m := New(Config{})
	rom := buildROM("STATE", 0x00, 32*1024)
	if err := m.LoadCartridge(rom, nil); err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}
	for i := 0; i < 5; i++ {
		m.StepFrame()
	}
	blob := m.SaveState()
	if blob == nil {
		t.Fatalf("SaveState returned nil")
	}
	before := m.CPUDebugString()

	m2 := New(Config{})
	if err := m2.LoadCartridge(rom, nil); err != nil {
		t.Fatalf("LoadCartridge (m2): %v", err)
	}
	if err := m2.LoadState(blob); err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if after := m2.CPUDebugString(); after != before {
		t.Fatalf("CPU state mismatch after restore: got %q want %q", after, before)
	}
}

func TestCompatPaletteCycle(t *testing.T) {
	m := New(Config{})
	rom := buildROM("COMPAT", 0x00, 32*1024)
	if err := m.LoadCartridge(rom, nil); err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}
	start := m.CurrentCompatPalette()
	m.CycleCompatPalette(1)
	if m.CurrentCompatPalette() == start {
		t.Fatalf("CycleCompatPalette did not change palette id")
	}
	name := m.CompatPaletteName(m.CurrentCompatPalette())
	if name == "" {
		t.Fatalf("expected non-empty palette name")
	}
	// Wrap all the way around back to start.
	for i := 0; i < len(compatPalettes)-1; i++ {
		m.CycleCompatPalette(1)
	}
	if m.CurrentCompatPalette() != start {
		t.Fatalf("palette cycle did not wrap back to start")
	}
}

func TestBatteryRoundTripNoRAMIsNoop(t *testing.T) {
	m := New(Config{})
	rom := buildROM("NOBATT", 0x00, 32*1024)
	if err := m.LoadCartridge(rom, nil); err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}
	if _, ok := m.SaveBattery(); ok {
		t.Fatalf("expected SaveBattery ok=false for ROM-only cartridge")
	}
	if m.LoadBattery([]byte{1, 2, 3}) {
		t.Fatalf("expected LoadBattery=false for ROM-only cartridge")
	}
}
