package ppu

// dmgShades are the four classic DMG greys, lightest (00) to darkest (11).
var dmgShades = [4][3]byte{
	{0xFF, 0xFF, 0xFF},
	{0xAA, 0xAA, 0xAA},
	{0x55, 0x55, 0x55},
	{0x00, 0x00, 0x00},
}

func dmgShade(code byte) (r, g, b byte) {
	c := dmgShades[code&0x03]
	return c[0], c[1], c[2]
}

// cgb555To8888 expands a little-endian RGB555 color (as stored in BCPD/OCPD
// palette RAM) to 8-bit-per-channel RGB.
func cgb555To8888(lo, hi byte) (r, g, b byte) {
	v := uint16(lo) | uint16(hi)<<8
	r5 := byte(v & 0x1F)
	g5 := byte((v >> 5) & 0x1F)
	b5 := byte((v >> 10) & 0x1F)
	expand := func(c byte) byte { return (c << 3) | (c >> 2) }
	return expand(r5), expand(g5), expand(b5)
}

// cgbBgColor resolves a BG/window pixel's final RGB using CGB BG palette RAM.
func (p *PPU) cgbBgColor(palette, colorIndex byte) (r, g, b byte) {
	off := (int(palette&0x07)*4 + int(colorIndex&0x03)) * 2
	return cgb555To8888(p.bcpram[off], p.bcpram[off+1])
}

// cgbObjColor resolves a sprite pixel's final RGB using CGB OBJ palette RAM.
func (p *PPU) cgbObjColor(palette, colorIndex byte) (r, g, b byte) {
	off := (int(palette&0x07)*4 + int(colorIndex&0x03)) * 2
	return cgb555To8888(p.ocpram[off], p.ocpram[off+1])
}
