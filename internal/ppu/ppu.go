package ppu

import (
	"bytes"
	"encoding/gob"
)

// InterruptRequester is a callback signature to request IF bits (0:VBlank, 1:STAT, etc.).
type InterruptRequester func(bit int)

// PPU models VRAM/OAM, LCDC/STAT regs, LY/LYC, CGB palette RAM, and the
// scanline renderer. It exposes CPU-facing Read/Write for VRAM/OAM and PPU IO
// regs, and a 160x144 RGBA framebuffer updated one scanline at a time.
type PPU struct {
	cgb bool

	// memory: bank 0 is always present; bank 1 only meaningful in CGB mode.
	vram [2][0x2000]byte // 0x8000-0x9FFF
	vbk  byte             // FF4F bit0 selects active bank (CGB only)
	oam  [0xA0]byte       // 0xFE00-0xFE9F

	// regs
	lcdc byte // FF40
	stat byte // FF41 (mode bits 0-1, coincidence flag bit2, enables bits3-6)
	scy  byte // FF42
	scx  byte // FF43
	ly   byte // FF44
	lyc  byte // FF45
	bgp  byte // FF47
	obp0 byte // FF48
	obp1 byte // FF49
	wy   byte // FF4A
	wx   byte // FF4B

	// CGB palette RAM: 8 palettes x 4 colors x 2 bytes (RGB555, little-endian).
	bcpram [64]byte
	ocpram [64]byte
	bcps   byte // FF68: bit7 auto-increment, bits0-5 index
	ocps   byte // FF6A: bit7 auto-increment, bits0-5 index

	dot        int // dots within current line [0..455]
	windowLine int // internal window line counter, only advances on rendered window rows

	// lineRegs captures, per scanline, the register state latched when that
	// line entered drawing (mode 2->3): currently just the window line used.
	lineRegs [144]LineRegs

	// framebuffer: 160x144 RGBA8888, row-major
	fb [160 * 144 * 4]byte

	req InterruptRequester
}

func New(req InterruptRequester) *PPU { return &PPU{req: req} }

// SetCGBMode toggles CGB-specific behavior: bank-1 VRAM access, palette RAM,
// and the BG map attribute byte read from VRAM bank 1.
func (p *PPU) SetCGBMode(on bool) { p.cgb = on }
func (p *PPU) CGBMode() bool      { return p.cgb }

// Framebuffer returns the current RGBA8888 framebuffer (160x144), valid after
// VBlank begins for the frame just completed.
func (p *PPU) Framebuffer() []byte { return p.fb[:] }

func (p *PPU) activeVRAMBank() int {
	if p.cgb && p.vbk&0x01 != 0 {
		return 1
	}
	return 0
}

// CPURead returns bytes for VRAM, OAM, and PPU IO registers. Returns 0xFF for others.
func (p *PPU) CPURead(addr uint16) byte {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		if (p.stat & 0x03) == 3 {
			return 0xFF
		}
		return p.vram[p.activeVRAMBank()][addr-0x8000]
	case addr >= 0xFE00 && addr <= 0xFE9F:
		m := p.stat & 0x03
		if m == 2 || m == 3 {
			return 0xFF
		}
		return p.oam[addr-0xFE00]
	case addr == 0xFF40:
		return p.lcdc
	case addr == 0xFF41:
		return 0x80 | (p.stat & 0x7F)
	case addr == 0xFF42:
		return p.scy
	case addr == 0xFF43:
		return p.scx
	case addr == 0xFF44:
		return p.ly
	case addr == 0xFF45:
		return p.lyc
	case addr == 0xFF47:
		return p.bgp
	case addr == 0xFF48:
		return p.obp0
	case addr == 0xFF49:
		return p.obp1
	case addr == 0xFF4A:
		return p.wy
	case addr == 0xFF4B:
		return p.wx
	case addr == 0xFF4F:
		if !p.cgb {
			return 0xFF
		}
		return 0xFE | (p.vbk & 0x01)
	case addr == 0xFF68:
		return p.bcps | 0x40
	case addr == 0xFF69:
		if !p.cgb {
			return 0xFF
		}
		return p.bcpram[p.bcps&0x3F]
	case addr == 0xFF6A:
		return p.ocps | 0x40
	case addr == 0xFF6B:
		if !p.cgb {
			return 0xFF
		}
		return p.ocpram[p.ocps&0x3F]
	default:
		return 0xFF
	}
}

// CPUWrite handles writes to VRAM, OAM, and PPU IO regs. Others are ignored here.
func (p *PPU) CPUWrite(addr uint16, value byte) {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		if (p.stat & 0x03) == 3 {
			return
		}
		p.vram[p.activeVRAMBank()][addr-0x8000] = value
	case addr >= 0xFE00 && addr <= 0xFE9F:
		m := p.stat & 0x03
		if m == 2 || m == 3 {
			return
		}
		p.oam[addr-0xFE00] = value
	case addr == 0xFF40:
		prev := p.lcdc
		p.lcdc = value
		if (p.lcdc&0x80) == 0 && (prev&0x80) != 0 {
			p.ly = 0
			p.dot = 0
			p.windowLine = 0
			p.setMode(0)
			p.updateLYC()
		} else if (p.lcdc&0x80) != 0 && (prev&0x80) == 0 {
			p.ly = 0
			p.dot = 0
			p.setMode(2)
			p.updateLYC()
		}
	case addr == 0xFF41:
		p.stat = (p.stat & 0x07) | (value & 0x78)
	case addr == 0xFF42:
		p.scy = value
	case addr == 0xFF43:
		p.scx = value
	case addr == 0xFF44:
		p.ly = 0
		p.dot = 0
		p.updateLYC()
		if (p.lcdc & 0x80) != 0 {
			p.setMode(2)
		}
	case addr == 0xFF45:
		p.lyc = value
		p.updateLYC()
	case addr == 0xFF47:
		p.bgp = value
	case addr == 0xFF48:
		p.obp0 = value
	case addr == 0xFF49:
		p.obp1 = value
	case addr == 0xFF4A:
		p.wy = value
	case addr == 0xFF4B:
		p.wx = value
	case addr == 0xFF4F:
		if p.cgb {
			p.vbk = value & 0x01
		}
	case addr == 0xFF68:
		p.bcps = value & 0xBF
	case addr == 0xFF69:
		if !p.cgb {
			return
		}
		p.bcpram[p.bcps&0x3F] = value
		if p.bcps&0x80 != 0 {
			p.bcps = (p.bcps & 0xC0) | ((p.bcps + 1) & 0x3F)
		}
	case addr == 0xFF6A:
		p.ocps = value & 0xBF
	case addr == 0xFF6B:
		if !p.cgb {
			return
		}
		p.ocpram[p.ocps&0x3F] = value
		if p.ocps&0x80 != 0 {
			p.ocps = (p.ocps & 0xC0) | ((p.ocps + 1) & 0x3F)
		}
	}
}

// Tick advances PPU state by the given number of dots (CPU cycles).
func (p *PPU) Tick(cycles int) {
	if cycles <= 0 {
		return
	}
	for i := 0; i < cycles; i++ {
		if (p.lcdc & 0x80) == 0 {
			continue
		}
		p.dot++

		var mode byte
		if p.ly >= 144 {
			mode = 1
		} else {
			switch {
			case p.dot < 80:
				mode = 2
			case p.dot < 80+172:
				mode = 3
			default:
				mode = 0
			}
		}
		prevMode := p.stat & 0x03
		p.setMode(mode)
		if prevMode == 2 && mode == 3 && p.ly < 144 {
			p.lineRegs[p.ly] = LineRegs{WinLine: p.windowLine}
		}
		if prevMode == 3 && mode == 0 {
			p.renderScanline()
		}

		if p.dot >= 456 {
			p.dot = 0
			p.ly++
			if p.ly == 144 {
				p.windowLine = 0
				if p.req != nil {
					p.req(0)
				}
				if (p.stat & (1 << 4)) != 0 {
					if p.req != nil {
						p.req(1)
					}
				}
			} else if p.ly > 153 {
				p.ly = 0
			}
			p.updateLYC()
			if p.ly >= 144 {
				p.setMode(1)
			} else {
				p.setMode(2)
			}
		}
	}
}

func (p *PPU) setMode(mode byte) {
	prev := p.stat & 0x03
	if prev == mode {
		return
	}
	p.stat = (p.stat &^ 0x03) | (mode & 0x03)
	switch mode {
	case 0: // HBlank
		if (p.stat & (1 << 3)) != 0 {
			if p.req != nil {
				p.req(1)
			}
		}
	case 2: // OAM
		if (p.stat & (1 << 5)) != 0 {
			if p.req != nil {
				p.req(1)
			}
		}
	}
}

func (p *PPU) updateLYC() {
	wasSet := p.stat&(1<<2) != 0
	match := p.ly == p.lyc
	if match {
		p.stat |= 1 << 2
		if !wasSet && (p.stat&(1<<6)) != 0 {
			if p.req != nil {
				p.req(1)
			}
		}
	} else {
		p.stat &^= 1 << 2
	}
}

// LineRegs returns the register snapshot latched for scanline y when it
// entered drawing mode. Out-of-range y returns the zero value.
func (p *PPU) LineRegs(y int) LineRegs {
	if y < 0 || y >= 144 {
		return LineRegs{}
	}
	return p.lineRegs[y]
}

// ppuVRAM adapts the PPU's own banked VRAM to the VRAMReader/VRAMBankReader
// interfaces used by the scanline renderers, bypassing CPU-side mode
// blocking (rendering always sees the true contents).
type ppuVRAM struct{ p *PPU }

func (v *ppuVRAM) Read(addr uint16) byte {
	if addr < 0x8000 || addr > 0x9FFF {
		return 0xFF
	}
	return v.p.vram[0][addr-0x8000]
}

func (v *ppuVRAM) ReadBank(bank int, addr uint16) byte {
	if addr < 0x8000 || addr > 0x9FFF {
		return 0xFF
	}
	return v.p.vram[bank&1][addr-0x8000]
}

// scanSpritesForLine returns up to 10 OAM entries intersecting scanline ly,
// in original OAM order (lowest index first), as real hardware's OAM search
// does.
func (p *PPU) scanSpritesForLine(ly byte, tall bool) []Sprite {
	height := 8
	if tall {
		height = 16
	}
	var out []Sprite
	for i := 0; i < 40 && len(out) < 10; i++ {
		base := i * 4
		y := int(p.oam[base]) - 16
		x := int(p.oam[base+1]) - 8
		tile := p.oam[base+2]
		attr := p.oam[base+3]
		if int(ly) < y || int(ly) >= y+height {
			continue
		}
		out = append(out, Sprite{X: x, Y: y, Tile: tile, Attr: attr, OAMIndex: i})
	}
	return out
}

// renderScanline composites BG, window, and sprites for the line just
// finished (p.ly) into the framebuffer. Called on the mode 3 -> mode 0
// transition, matching real hardware's end-of-drawing-phase pixel commit
// (no mid-scanline FIFO edits are modeled).
func (p *PPU) renderScanline() {
	ly := p.ly
	if ly >= 144 {
		return
	}
	mem := &ppuVRAM{p}
	lcdc := p.lcdc

	bgEnabled := lcdc&0x01 != 0
	winEnabled := lcdc&0x20 != 0
	objEnabled := lcdc&0x02 != 0
	tall := lcdc&0x04 != 0
	tileData8000 := lcdc&0x10 != 0

	bgMapBase := uint16(0x9800)
	if lcdc&0x08 != 0 {
		bgMapBase = 0x9C00
	}
	winMapBase := uint16(0x9800)
	if lcdc&0x40 != 0 {
		winMapBase = 0x9C00
	}

	var bgci [160]byte
	var bgpal [160]byte
	var bgpri [160]bool

	if bgEnabled {
		if p.cgb {
			bgci, bgpal, bgpri = RenderBGScanlineCGB(mem, bgMapBase, bgMapBase, tileData8000, p.scx, p.scy, ly)
		} else {
			bgci = RenderBGScanlineUsingFetcher(mem, bgMapBase, tileData8000, p.scx, p.scy, ly)
		}
	}

	winVisible := winEnabled && bgEnabled && p.wy <= ly && int(p.wx) <= 166
	if winVisible {
		wxStart := int(p.wx) - 7
		winLine := byte(p.lineRegs[ly].WinLine)
		if p.cgb {
			ci, pal, pri := RenderWindowScanlineCGB(mem, winMapBase, winMapBase, tileData8000, wxStart, winLine)
			start := wxStart
			if start < 0 {
				start = 0
			}
			for x := start; x < 160; x++ {
				bgci[x], bgpal[x], bgpri[x] = ci[x], pal[x], pri[x]
			}
		} else {
			ci := RenderWindowScanlineUsingFetcher(mem, winMapBase, tileData8000, wxStart, winLine)
			start := wxStart
			if start < 0 {
				start = 0
			}
			for x := start; x < 160; x++ {
				bgci[x] = ci[x]
			}
		}
		p.windowLine++
	}

	var spriteCi [160]byte
	var spriteAttr [160]byte
	if objEnabled {
		sprites := p.scanSpritesForLine(ly, tall)
		spriteCi, spriteAttr = composeSpriteLineAttr(mem, sprites, ly, bgci, tall, bgpri)
	}

	rowOff := int(ly) * 160 * 4
	for x := 0; x < 160; x++ {
		var r, g, b byte
		if spriteCi[x] != 0 {
			attr := spriteAttr[x]
			if p.cgb {
				r, g, b = p.cgbObjColor(attr&0x07, spriteCi[x])
			} else {
				palByte := p.obp0
				if attr&0x10 != 0 {
					palByte = p.obp1
				}
				r, g, b = dmgShade((palByte >> (spriteCi[x] * 2)) & 0x03)
			}
		} else if p.cgb {
			r, g, b = p.cgbBgColor(bgpal[x], bgci[x])
		} else {
			r, g, b = dmgShade((p.bgp >> (bgci[x] * 2)) & 0x03)
		}
		off := rowOff + x*4
		p.fb[off], p.fb[off+1], p.fb[off+2], p.fb[off+3] = r, g, b, 0xFF
	}
}

// Expose palettes and scroll for renderer convenience (optional helpers)
func (p *PPU) BGP() byte  { return p.bgp }
func (p *PPU) OBP0() byte { return p.obp0 }
func (p *PPU) OBP1() byte { return p.obp1 }
func (p *PPU) LCDC() byte { return p.lcdc }
func (p *PPU) SCY() byte  { return p.scy }
func (p *PPU) SCX() byte  { return p.scx }
func (p *PPU) WY() byte   { return p.wy }
func (p *PPU) WX() byte   { return p.wx }

// --- Save/Load state ---

type ppuState struct {
	CGB        bool
	VRAM       [2][0x2000]byte
	VBK        byte
	OAM        [0xA0]byte
	LCDC, STAT byte
	SCY, SCX   byte
	LY, LYC    byte
	BGP        byte
	OBP0, OBP1 byte
	WY, WX     byte
	BCPRAM     [64]byte
	OCPRAM     [64]byte
	BCPS, OCPS byte
	Dot        int
	WindowLine int
}

func (p *PPU) SaveState() []byte {
	var buf bytes.Buffer
	s := ppuState{
		CGB: p.cgb, VRAM: p.vram, VBK: p.vbk, OAM: p.oam,
		LCDC: p.lcdc, STAT: p.stat, SCY: p.scy, SCX: p.scx, LY: p.ly, LYC: p.lyc,
		BGP: p.bgp, OBP0: p.obp0, OBP1: p.obp1, WY: p.wy, WX: p.wx,
		BCPRAM: p.bcpram, OCPRAM: p.ocpram, BCPS: p.bcps, OCPS: p.ocps,
		Dot: p.dot, WindowLine: p.windowLine,
	}
	_ = gob.NewEncoder(&buf).Encode(s)
	return buf.Bytes()
}

func (p *PPU) LoadState(data []byte) {
	var s ppuState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	p.cgb, p.vram, p.vbk, p.oam = s.CGB, s.VRAM, s.VBK, s.OAM
	p.lcdc, p.stat, p.scy, p.scx, p.ly, p.lyc = s.LCDC, s.STAT, s.SCY, s.SCX, s.LY, s.LYC
	p.bgp, p.obp0, p.obp1, p.wy, p.wx = s.BGP, s.OBP0, s.OBP1, s.WY, s.WX
	p.bcpram, p.ocpram, p.bcps, p.ocps = s.BCPRAM, s.OCPRAM, s.BCPS, s.OCPS
	p.dot, p.windowLine = s.Dot, s.WindowLine
}
