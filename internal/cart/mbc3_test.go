package cart

import "testing"

func TestMBC3_RTC_LatchAndRead(t *testing.T) {
	rom := make([]byte, 0x8000)
	m := NewMBC3(rom, 0x2000, true)

	m.Write(0x0000, 0x0A) // RAM/RTC enable
	m.rtcLive = [5]byte{5, 6, 7, 0x01, 0x00}
	m.Write(0x6000, 0x00)
	m.Write(0x6000, 0x01) // latch (0->1 edge)

	m.Write(0x4000, 0x08) // select seconds
	if got := m.Read(0xA000); got != 5 {
		t.Fatalf("latched sec got %d want 5", got)
	}
	// Live register changes after the latch must not affect the latched read.
	m.rtcLive[rtcSeconds] = 30
	if got := m.Read(0xA000); got != 5 {
		t.Fatalf("latched sec changed unexpectedly: got %d", got)
	}

	m.Write(0x4000, 0x0B) // day low
	if got := m.Read(0xA000); got != 0x01 {
		t.Fatalf("latched day low got %02X want 01", got)
	}
}

func TestMBC3_RTC_AdvanceOnTick(t *testing.T) {
	rom := make([]byte, 0x8000)
	m := NewMBC3(rom, 0x2000, true)
	m.rtcLive = [5]byte{58, 59, 23, 0xFF, 0x01} // day=0x1FF, about to roll every field over

	m.Tick(4194304 * 2) // two seconds

	if m.rtcLive[rtcSeconds] != 0 || m.rtcLive[rtcMinutes] != 0 || m.rtcLive[rtcHours] != 0 {
		t.Fatalf("rtc rollover got %02d:%02d:%02d", m.rtcLive[rtcHours], m.rtcLive[rtcMinutes], m.rtcLive[rtcSeconds])
	}
	if m.rtcLive[rtcDayHi]&0x80 == 0 {
		t.Fatalf("expected day-carry flag to be set after wrapping past day 511")
	}
}

func TestMBC3_RTC_Persist(t *testing.T) {
	rom := make([]byte, 0x8000)
	m := NewMBC3(rom, 0x2000, true)
	m.rtcLive = [5]byte{12, 34, 5, 0x20, 0x00}
	m.Write(0xA000, 0x42) // dropped: RAM/RTC access is not enabled yet
	m.Write(0x4000, 0x00)
	m.Write(0x0000, 0x0A)
	m.Write(0xA000, 0x42)

	data := m.SaveState()
	n := NewMBC3(rom, 0x2000, true)
	n.LoadState(data)
	if n.rtcLive != m.rtcLive {
		t.Fatalf("rtc live state did not survive save/load: got %v want %v", n.rtcLive, m.rtcLive)
	}
}
