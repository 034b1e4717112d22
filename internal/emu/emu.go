package emu

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/silverlark/gbcore/internal/bus"
	"github.com/silverlark/gbcore/internal/cart"
	"github.com/silverlark/gbcore/internal/cpu"
)

// Buttons is the joypad state sampled once per Update from host input.
type Buttons struct {
	A, B, Start, Select   bool
	Up, Down, Left, Right bool
}

// mask packs Buttons into the bus's active-low joypad nibble layout
// (bit0 Right/A, bit1 Left/B, bit2 Up/Select, bit3 Down/Start).
func (b Buttons) mask() byte {
	var m byte
	if b.Right || b.A {
		m |= 1 << 0
	}
	if b.Left || b.B {
		m |= 1 << 1
	}
	if b.Up || b.Select {
		m |= 1 << 2
	}
	if b.Down || b.Start {
		m |= 1 << 3
	}
	return m
}

// cyclesPerFrame is the DMG/CGB master-clock budget for one 154-line frame
// (154 lines * 456 T-cycles), at normal (non-double) speed.
const cyclesPerFrame = 154 * 456

// Machine wires CPU, Bus (which owns PPU/APU) and the loaded cartridge into
// a single steppable unit, and owns everything the host front end needs:
// frame stepping, save states, battery persistence, and the CGB
// compatibility-palette settings that have no equivalent on real hardware.
type Machine struct {
	cfg Config

	bus *bus.Bus
	cpu *cpu.CPU

	header  *cart.Header
	romPath string
	bootROM []byte

	frame uint64

	wantCGBColors   bool
	compatPaletteID int

	btn Buttons
}

// New creates a Machine with no cartridge loaded. Call LoadCartridge or
// LoadROMFromFile before stepping.
func New(cfg Config) *Machine {
	return &Machine{cfg: cfg}
}

// LoadCartridge parses rom's header, builds the matching MBC, wires a fresh
// Bus+CPU around it, optionally installs boot, and resets to the spec's
// post-boot register/IO defaults (or leaves PC at 0 with the boot ROM
// enabled when one was provided).
func (m *Machine) LoadCartridge(rom []byte, boot []byte) error {
	h, err := cart.ParseHeader(rom)
	if err != nil {
		return fmt.Errorf("parse header: %w", err)
	}
	m.header = h

	c := cart.NewCartridge(rom)
	b := bus.NewWithCartridge(c)

	isCGB := h.CGBFlag == 0x80 || h.CGBFlag == 0xC0
	b.SetCGBMode(isCGB)

	m.bus = b
	m.cpu = cpu.New(b)
	m.wantCGBColors = isCGB
	m.frame = 0
	if id, ok := autoCompatPaletteFromHeader(h); ok {
		m.compatPaletteID = id
	}

	if len(boot) > 0 {
		m.bootROM = boot
		b.SetBootROM(boot)
		m.cpu.SetPC(0x0000)
	} else {
		m.ResetPostBoot()
	}
	return nil
}

// LoadROMFromFile reads path and calls LoadCartridge, additionally
// remembering path for ROMPath()/ROMTitle() and default save-state/battery
// file placement.
func (m *Machine) LoadROMFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read rom: %w", err)
	}
	if err := m.LoadCartridge(data, m.bootROM); err != nil {
		return err
	}
	m.romPath = path
	return nil
}

// SetBootROM installs a boot ROM image to be used by the next LoadCartridge.
func (m *Machine) SetBootROM(data []byte) { m.bootROM = data }

// ROMPath returns the path passed to LoadROMFromFile, or "" if the current
// cartridge was loaded directly from bytes.
func (m *Machine) ROMPath() string { return m.romPath }

// ROMTitle returns the cartridge header title, or "" if no ROM is loaded.
func (m *Machine) ROMTitle() string {
	if m.header == nil {
		return ""
	}
	return m.header.Title
}

// LoadBattery restores external cartridge RAM from a .sav blob, for
// cartridges whose MBC implements cart.BatteryBacked. Returns false if no
// cartridge is loaded or it has no battery-backed RAM.
func (m *Machine) LoadBattery(data []byte) bool {
	if m.bus == nil {
		return false
	}
	bb, ok := m.bus.Cart().(cart.BatteryBacked)
	if !ok {
		return false
	}
	bb.LoadRAM(data)
	return true
}

// SaveBattery returns the current external cartridge RAM for persisting to a
// .sav file, independent of a full save state. ok is false if no cartridge
// is loaded or it has no battery-backed RAM.
func (m *Machine) SaveBattery() (data []byte, ok bool) {
	if m.bus == nil {
		return nil, false
	}
	bb, isBB := m.bus.Cart().(cart.BatteryBacked)
	if !isBB {
		return nil, false
	}
	return bb.SaveRAM(), true
}

// StepFrame advances the machine by one ~70224-T-cycle frame, leaving the
// framebuffer updated for display.
func (m *Machine) StepFrame() {
	m.stepFrameCycles(cyclesPerFrame)
}

// StepFrameNoRender advances one frame identically to StepFrame; rendering
// always happens inside the PPU's own scanline Tick, so this only exists to
// mirror the host contract for headless/test callers who do not care about
// the framebuffer.
func (m *Machine) StepFrameNoRender() {
	m.stepFrameCycles(cyclesPerFrame)
}

func (m *Machine) stepFrameCycles(budget int) {
	if m.cpu == nil || m.bus == nil {
		return
	}
	m.bus.SetJoypadState(m.btn.mask())
	budget *= speedDivisor(m.bus.DoubleSpeed())
	for spent := 0; spent < budget; {
		spent += m.cpu.Step()
	}
	m.frame++
}

// speedDivisor doubles the per-frame cycle budget while KEY1 double-speed
// mode is active, since the CPU and timer then run at twice the rate while
// Bus.Tick advances the PPU/APU on every second T-cycle, so a doubled budget
// still covers the same 70224 dots of PPU/APU work per visible frame.
func speedDivisor(double bool) int {
	if double {
		return 2
	}
	return 1
}

// Framebuffer returns the current RGBA 160x144x4 pixel buffer, owned by the
// PPU; callers must not retain it across the next StepFrame.
func (m *Machine) Framebuffer() []byte {
	if m.bus == nil {
		return make([]byte, 160*144*4)
	}
	return m.bus.PPU().Framebuffer()
}

// SetButtons stores the joypad state sampled for the next StepFrame.
func (m *Machine) SetButtons(b Buttons) { m.btn = b }

// SetSerialWriter routes serial-port (SB/SC) byte transfers to w, used by
// test ROMs that report pass/fail over the link cable instead of the
// framebuffer.
func (m *Machine) SetSerialWriter(w io.Writer) {
	if m.bus != nil {
		m.bus.SetSerialWriter(w)
	}
}

// ResetPostBoot reinitializes CPU registers and the IO register block to the
// values real DMG hardware leaves behind after its boot ROM hands off,
// without actually executing one.
func (m *Machine) ResetPostBoot() {
	if m.cpu == nil || m.bus == nil {
		return
	}
	m.cpu.ResetNoBoot()
	m.cpu.SetPC(0x0100)
	for addr, val := range postBootIO {
		m.bus.Write(addr, val)
	}
	m.frame = 0
}

// ResetCGBPostBoot is ResetPostBoot plus the CGB-specific post-boot
// register values; with enableCompat it also writes the selected
// compatibility palette through BCPS/BCPD and OCPS/OCPD. It does not change
// the bus's color mode (LoadCartridge sets that from the header), and the
// PPU drops those palette writes while the bus is in DMG mode.
func (m *Machine) ResetCGBPostBoot(enableCompat bool) {
	m.ResetPostBoot()
	if m.bus == nil {
		return
	}
	for addr, val := range postBootIOCGB {
		m.bus.Write(addr, val)
	}
	if enableCompat {
		m.applyCompatPalette(m.compatPaletteID)
	}
}

// ResetWithBoot rewinds PC to 0 and re-enables the installed boot ROM
// overlay so it runs again from the start, instead of jumping straight to
// post-boot defaults.
func (m *Machine) ResetWithBoot() {
	if m.cpu == nil || m.bus == nil {
		return
	}
	if len(m.bootROM) > 0 {
		m.bus.SetBootROM(m.bootROM)
	}
	m.cpu.SetPC(0x0000)
	m.frame = 0
}

// postBootIO are the IO register defaults DMG hardware leaves after its
// internal boot ROM runs, used when skipping boot-ROM execution per spec.
var postBootIO = map[uint16]byte{
	0xFF00: 0xCF, // JOYP
	0xFF05: 0x00, // TIMA
	0xFF06: 0x00, // TMA
	0xFF07: 0x00, // TAC
	0xFF40: 0x91, // LCDC
	0xFF42: 0x00, // SCY
	0xFF43: 0x00, // SCX
	0xFF45: 0x00, // LYC
	0xFF47: 0xFC, // BGP
	0xFF48: 0xFF, // OBP0
	0xFF49: 0xFF, // OBP1
	0xFF4A: 0x00, // WY
	0xFF4B: 0x00, // WX
	0xFFFF: 0x00, // IE
}

// postBootIOCGB are the additional IO defaults a CGB leaves set that a DMG
// never has (VRAM bank select reset to bank 0, WRAM bank select to bank 1).
var postBootIOCGB = map[uint16]byte{
	0xFF4F: 0x00, // VBK
	0xFF70: 0x01, // SVBK
}

// SetUseFetcherBG records the fetcher-vs-classic BG renderer preference.
// The current PPU only implements the fetcher-based scanline renderer, so
// this is carried as a settable preference for forward compatibility and
// front-end round-tripping but does not change rendering output; see
// DESIGN.md.
func (m *Machine) SetUseFetcherBG(v bool) { m.cfg.UseFetcherBG = v }

// UseCGBBG reports whether the running cartridge's bus is in CGB color mode.
func (m *Machine) UseCGBBG() bool {
	if m.bus == nil {
		return false
	}
	return m.bus.CGBMode()
}

// SetUseCGBBG records the player's CGB-coloring preference. It does not
// change the running bus's color mode, and neither ResetCGBPostBoot nor
// ResetPostBoot reads it.
func (m *Machine) SetUseCGBBG(v bool) { m.wantCGBColors = v }

// WantCGBColors reports the last preference set via SetUseCGBBG or implied
// by the loaded cartridge's header.
func (m *Machine) WantCGBColors() bool { return m.wantCGBColors }

// IsCGBCompat reports whether a DMG-only cartridge is currently running in
// CGB automatic-palette compatibility coloring (bus in CGB mode, but the
// header declares no native color support).
func (m *Machine) IsCGBCompat() bool {
	if m.bus == nil || m.header == nil {
		return false
	}
	return m.bus.CGBMode() && m.header.CGBFlag != 0x80 && m.header.CGBFlag != 0xC0
}

// --- CGB DMG-compatibility palettes ---
//
// Real CGB hardware derives a BG/OBJ0/OBJ1 palette triple for unmodified DMG
// carts from a lookup table keyed by title hash and licensee, baked into its
// boot ROM (see compat_tables.go's autoCompatPaletteFromHeader). We expose a
// curated slice of six such triples as user-selectable "skins" rather than
// reproducing the full boot-ROM table pixel-for-pixel; autoCompatPaletteFromHeader
// already picks a reasonable default to seed CurrentCompatPalette.

type compatColor = [3]byte

type compatPalette struct {
	name string
	bg   [4]compatColor
	obj0 [4]compatColor
	obj1 [4]compatColor
}

var compatPalettes = []compatPalette{
	{
		name: "Green",
		bg:   [4]compatColor{{224, 248, 208}, {136, 192, 112}, {52, 104, 86}, {8, 24, 32}},
		obj0: [4]compatColor{{224, 248, 208}, {136, 192, 112}, {52, 104, 86}, {8, 24, 32}},
		obj1: [4]compatColor{{224, 248, 208}, {248, 176, 168}, {168, 64, 64}, {8, 24, 32}},
	},
	{
		name: "Sepia",
		bg:   [4]compatColor{{255, 246, 211}, {223, 183, 123}, {139, 94, 60}, {40, 24, 16}},
		obj0: [4]compatColor{{255, 246, 211}, {223, 183, 123}, {139, 94, 60}, {40, 24, 16}},
		obj1: [4]compatColor{{255, 246, 211}, {200, 160, 200}, {120, 70, 130}, {40, 24, 16}},
	},
	{
		name: "Blue",
		bg:   [4]compatColor{{224, 248, 255}, {96, 168, 216}, {48, 88, 160}, {8, 16, 48}},
		obj0: [4]compatColor{{224, 248, 255}, {96, 168, 216}, {48, 88, 160}, {8, 16, 48}},
		obj1: [4]compatColor{{224, 248, 255}, {248, 208, 120}, {200, 120, 40}, {8, 16, 48}},
	},
	{
		name: "Red",
		bg:   [4]compatColor{{255, 224, 224}, {232, 120, 120}, {160, 48, 48}, {48, 8, 8}},
		obj0: [4]compatColor{{255, 224, 224}, {232, 120, 120}, {160, 48, 48}, {48, 8, 8}},
		obj1: [4]compatColor{{255, 224, 224}, {144, 200, 248}, {56, 112, 184}, {48, 8, 8}},
	},
	{
		name: "Pastel",
		bg:   [4]compatColor{{248, 240, 255}, {200, 184, 232}, {144, 120, 176}, {48, 40, 64}},
		obj0: [4]compatColor{{248, 240, 255}, {200, 184, 232}, {144, 120, 176}, {48, 40, 64}},
		obj1: [4]compatColor{{248, 240, 255}, {184, 224, 200}, {96, 160, 128}, {48, 40, 64}},
	},
	{
		name: "Grayscale",
		bg:   [4]compatColor{{255, 255, 255}, {170, 170, 170}, {85, 85, 85}, {0, 0, 0}},
		obj0: [4]compatColor{{255, 255, 255}, {170, 170, 170}, {85, 85, 85}, {0, 0, 0}},
		obj1: [4]compatColor{{255, 255, 255}, {170, 170, 170}, {85, 85, 85}, {0, 0, 0}},
	},
}

// CurrentCompatPalette returns the index of the active DMG-compatibility
// palette (0-5).
func (m *Machine) CurrentCompatPalette() int { return m.compatPaletteID }

// CompatPaletteName returns the display name of palette id, or "" if out of
// range.
func (m *Machine) CompatPaletteName(id int) string {
	if id < 0 || id >= len(compatPalettes) {
		return ""
	}
	return compatPalettes[id].name
}

// CycleCompatPalette moves the active palette by delta (wrapping) and, if a
// cartridge is loaded, applies it immediately.
func (m *Machine) CycleCompatPalette(delta int) {
	n := len(compatPalettes)
	m.compatPaletteID = ((m.compatPaletteID+delta)%n + n) % n
	m.applyCompatPalette(m.compatPaletteID)
}

// SetCompatPalette selects palette id directly and applies it immediately.
func (m *Machine) SetCompatPalette(id int) {
	if id < 0 || id >= len(compatPalettes) {
		return
	}
	m.compatPaletteID = id
	m.applyCompatPalette(id)
}

// applyCompatPalette pushes a palette triple into CGB BG-palette-0 and
// OBJ-palettes-0/1 over the BCPS/BCPD/OCPS/OCPD auto-increment interface, the
// same register sequence the boot ROM itself uses. This only affects
// palettes 0 of each kind; it does not attempt to replicate the boot ROM's
// rarer per-tile BG-map palette-index remapping.
func (m *Machine) applyCompatPalette(id int) {
	if m.bus == nil || id < 0 || id >= len(compatPalettes) {
		return
	}
	p := compatPalettes[id]
	writeCGBPalette(m.bus, 0xFF68, 0xFF69, p.bg[:])
	writeCGBPalette(m.bus, 0xFF6A, 0xFF6B, p.obj0[:])
	// OBJ palette 1 starts 8 bytes (4 colors * 2 bytes) into OCPRAM.
	writeCGBPaletteAt(m.bus, 0xFF6A, 0xFF6B, 8, p.obj1[:])
}

func writeCGBPalette(b *bus.Bus, indexReg, dataReg uint16, colors []compatColor) {
	writeCGBPaletteAt(b, indexReg, dataReg, 0, colors)
}

func writeCGBPaletteAt(b *bus.Bus, indexReg, dataReg uint16, startIndex int, colors []compatColor) {
	b.Write(indexReg, byte(startIndex)|0x80) // auto-increment
	for _, c := range colors {
		lo, hi := rgbToRGB555(c[0], c[1], c[2])
		b.Write(dataReg, lo)
		b.Write(dataReg, hi)
	}
}

// rgbToRGB555 packs an 8-bit-per-channel color into the little-endian
// 5-5-5 format CGB palette RAM stores (bit15 unused).
func rgbToRGB555(r, g, b byte) (lo, hi byte) {
	r5 := uint16(r) >> 3
	g5 := uint16(g) >> 3
	b5 := uint16(b) >> 3
	v := r5 | g5<<5 | b5<<10
	return byte(v), byte(v >> 8)
}

// --- Audio ---

// APUBufferedStereo returns the number of buffered interleaved stereo
// sample-frames available to pull.
func (m *Machine) APUBufferedStereo() int {
	if m.bus == nil {
		return 0
	}
	return m.bus.APU().StereoAvailable()
}

// APUPullStereo drains up to max interleaved [L,R,L,R,...] int16 samples.
func (m *Machine) APUPullStereo(max int) []int16 {
	if m.bus == nil {
		return nil
	}
	return m.bus.APU().PullStereo(max)
}

// APUCapBufferedStereo discards buffered stereo frames down to n, used to
// bound audio latency after a pause or slow frame.
func (m *Machine) APUCapBufferedStereo(n int) {
	if m.bus == nil {
		return
	}
	a := m.bus.APU()
	for a.StereoAvailable() > n {
		if a.PullStereo(1) == nil {
			break
		}
	}
}

// APUClearAudioLatency drains all currently buffered stereo audio, used when
// resuming from a pause so stale samples don't play back in a burst.
func (m *Machine) APUClearAudioLatency() {
	if m.bus == nil {
		return
	}
	a := m.bus.APU()
	for a.StereoAvailable() > 0 {
		if a.PullStereo(a.StereoAvailable()) == nil {
			break
		}
	}
}

// AudioBuffer returns up to 4095 buffered mono float32 samples in [-1,1],
// oldest first, matching the host get_audio_buffer/get_audio_buffer_size
// contract. Reading drains the buffer.
func (m *Machine) AudioBuffer() []float32 {
	if m.bus == nil {
		return nil
	}
	return m.bus.APU().AudioBuffer()
}

// --- Save states ---

type machineState struct {
	CPU   []byte
	Bus   []byte
	Frame uint64
}

// SaveState serializes CPU, Bus (which itself nests PPU/APU/cartridge
// state), and the frame counter into a single portable blob.
func (m *Machine) SaveState() []byte {
	if m.cpu == nil || m.bus == nil {
		return nil
	}
	s := machineState{
		CPU:   m.cpu.SaveState(),
		Bus:   m.bus.SaveState(),
		Frame: m.frame,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s); err != nil {
		return nil
	}
	return buf.Bytes()
}

// LoadState restores a blob produced by SaveState into the current, already
// cartridge-loaded machine.
func (m *Machine) LoadState(data []byte) error {
	if m.cpu == nil || m.bus == nil {
		return fmt.Errorf("no cartridge loaded")
	}
	var s machineState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return fmt.Errorf("decode state: %w", err)
	}
	m.cpu.LoadState(s.CPU)
	m.bus.LoadState(s.Bus)
	m.frame = s.Frame
	return nil
}

// SaveStateToFile writes SaveState's blob to path.
func (m *Machine) SaveStateToFile(path string) error {
	data := m.SaveState()
	if data == nil {
		return fmt.Errorf("nothing to save")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadStateFromFile reads path and calls LoadState.
func (m *Machine) LoadStateFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return m.LoadState(data)
}

// CPUDebugString returns a compact single-line register dump, for trace
// front ends that want to show CPU state without reaching into internals.
func (m *Machine) CPUDebugString() string {
	if m.cpu == nil {
		return ""
	}
	c := m.cpu
	return fmt.Sprintf("A=%02X F=%02X B=%02X C=%02X D=%02X E=%02X H=%02X L=%02X SP=%04X PC=%04X IME=%t",
		c.A, c.F, c.B, c.C, c.D, c.E, c.H, c.L, c.SP, c.PC, c.IME)
}

// Destroy releases host-side resources held by the machine. The current
// implementation holds nothing beyond Go-GC'd memory, so this is a no-op
// kept for host API symmetry (e.g. paired init/destroy embedding shims).
func (m *Machine) Destroy() {}
