package ppu

// VRAMBankReader extends VRAMReader with explicit bank selection, needed to
// read CGB tile attribute bytes (stored in VRAM bank 1 at the same map
// addresses as the tile indices in bank 0).
type VRAMBankReader interface {
	VRAMReader
	ReadBank(bank int, addr uint16) byte
}

// RenderBGScanlineCGB renders 160 BG pixels plus their per-pixel CGB
// attributes (palette 0-7, BG-to-OBJ priority) for the given scanline.
func RenderBGScanlineCGB(mem VRAMBankReader, mapBase, attrBase uint16, tileData8000 bool, scx, scy, ly byte) (ci [160]byte, pal [160]byte, pri [160]bool) {
	bgY := uint16(ly) + uint16(scy)
	fineY := byte(bgY & 7)
	mapY := (bgY >> 3) & 31

	for x := 0; x < 160; x++ {
		totalCol := (uint16(scx) + uint16(x)) & 0xFF
		tileX := (totalCol >> 3) & 31
		pixelInTile := byte(totalCol & 7)

		tileIndexAddr := mapBase + mapY*32 + tileX
		attrAddr := attrBase + mapY*32 + tileX
		tileNum := mem.ReadBank(0, tileIndexAddr)
		attr := mem.ReadBank(1, attrAddr)

		bank := 0
		if attr&0x08 != 0 {
			bank = 1
		}
		palette := attr & 0x07
		priority := attr&0x80 != 0
		xflip := attr&0x20 != 0
		yflip := attr&0x40 != 0

		rowInTile := fineY
		if yflip {
			rowInTile = 7 - fineY
		}

		var base uint16
		if tileData8000 {
			base = 0x8000 + uint16(tileNum)*16 + uint16(rowInTile)*2
		} else {
			base = 0x9000 + uint16(int8(tileNum))*16 + uint16(rowInTile)*2
		}
		lo := mem.ReadBank(bank, base)
		hi := mem.ReadBank(bank, base+1)

		bit := 7 - pixelInTile
		if xflip {
			bit = pixelInTile
		}
		ci[x] = ((hi>>bit)&1)<<1 | ((lo >> bit) & 1)
		pal[x] = palette
		pri[x] = priority
	}
	return
}

// RenderWindowScanlineCGB renders the window layer with CGB attributes,
// starting at wxStart (WX-7); pixels left of wxStart are left zeroed.
func RenderWindowScanlineCGB(mem VRAMBankReader, mapBase, attrBase uint16, tileData8000 bool, wxStart int, winLine byte) (ci [160]byte, pal [160]byte, pri [160]bool) {
	if wxStart >= 160 {
		return
	}
	start := wxStart
	if start < 0 {
		start = 0
	}
	mapY := (uint16(winLine) >> 3) & 31
	fineY := winLine & 7

	for x := start; x < 160; x++ {
		col := uint16(x - wxStart)
		tileX := (col >> 3) & 31
		pixelInTile := byte(col & 7)

		tileIndexAddr := mapBase + mapY*32 + tileX
		attrAddr := attrBase + mapY*32 + tileX
		tileNum := mem.ReadBank(0, tileIndexAddr)
		attr := mem.ReadBank(1, attrAddr)

		bank := 0
		if attr&0x08 != 0 {
			bank = 1
		}
		palette := attr & 0x07
		priority := attr&0x80 != 0
		xflip := attr&0x20 != 0
		yflip := attr&0x40 != 0

		rowInTile := fineY
		if yflip {
			rowInTile = 7 - fineY
		}

		var base uint16
		if tileData8000 {
			base = 0x8000 + uint16(tileNum)*16 + uint16(rowInTile)*2
		} else {
			base = 0x9000 + uint16(int8(tileNum))*16 + uint16(rowInTile)*2
		}
		lo := mem.ReadBank(bank, base)
		hi := mem.ReadBank(bank, base+1)

		bit := 7 - pixelInTile
		if xflip {
			bit = pixelInTile
		}
		ci[x] = ((hi>>bit)&1)<<1 | ((lo >> bit) & 1)
		pal[x] = palette
		pri[x] = priority
	}
	return
}

// LineRegs captures the PPU register state latched at the start of a
// scanline's drawing mode (mode 2->3 transition), for renderers and tests
// that need to know what WinLine a given line was drawn with.
type LineRegs struct {
	WinLine int
}
