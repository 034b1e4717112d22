// Command gbtrace is a headless, terminal-only front end: it renders the
// framebuffer as block characters and a CPU register line, for debugging
// over SSH or in environments with no display server.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/urfave/cli"

	"github.com/silverlark/gbcore/internal/emu"
)

const (
	gbWidth, gbHeight = 160, 144
	frameTime         = time.Second / 60
	minTermWidth      = gbWidth/2 + 24
	minTermHeight     = gbHeight/2 + 4
)

var shadeChars = []rune{'█', '▓', '▒', ' '}

func main() {
	app := cli.NewApp()
	app.Name = "gbtrace"
	app.Usage = "run a ROM in a terminal window using block-character shading, for headless debugging"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "rom", Usage: "path to ROM (.gb/.gbc)"},
		cli.StringFlag{Name: "bootrom", Usage: "optional boot ROM"},
		cli.BoolFlag{Name: "trace", Usage: "passed to emu.Config; produces no extra output (the register line is always drawn onscreen)"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	romPath := c.String("rom")
	if romPath == "" {
		return cli.NewExitError("-rom is required", 1)
	}
	rom, err := os.ReadFile(romPath)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("read rom: %v", err), 1)
	}
	var boot []byte
	if bp := c.String("bootrom"); bp != "" {
		boot, err = os.ReadFile(bp)
		if err != nil {
			return cli.NewExitError(fmt.Sprintf("read bootrom: %v", err), 1)
		}
	}

	m := emu.New(emu.Config{Trace: c.Bool("trace")})
	if err := m.LoadCartridge(rom, boot); err != nil {
		return cli.NewExitError(fmt.Sprintf("load cart: %v", err), 1)
	}

	r, err := newTraceRenderer(m)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	return r.Run()
}

// traceRenderer owns the tcell screen and the emulated machine it drives.
type traceRenderer struct {
	screen  tcell.Screen
	machine *emu.Machine
	btn     emu.Buttons
	running bool
}

func newTraceRenderer(m *emu.Machine) (*traceRenderer, error) {
	screen, err := tcell.NewScreen()
	if err != nil {
		return nil, fmt.Errorf("init terminal: %w", err)
	}
	if err := screen.Init(); err != nil {
		return nil, fmt.Errorf("init terminal: %w", err)
	}
	return &traceRenderer{screen: screen, machine: m, running: true}, nil
}

func (t *traceRenderer) Run() error {
	defer t.screen.Fini()
	t.screen.SetStyle(tcell.StyleDefault.Background(tcell.ColorBlack).Foreground(tcell.ColorWhite))
	t.screen.Clear()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT)

	go t.handleInput()

	ticker := time.NewTicker(frameTime)
	defer ticker.Stop()

	for t.running {
		select {
		case <-ticker.C:
			t.machine.SetButtons(t.btn)
			t.machine.StepFrame()
			t.render()
			t.screen.Show()
		case <-sigs:
			return nil
		}
	}
	return nil
}

func (t *traceRenderer) handleInput() {
	for t.running {
		switch ev := t.screen.PollEvent().(type) {
		case *tcell.EventKey:
			switch ev.Key() {
			case tcell.KeyEscape, tcell.KeyCtrlC:
				t.running = false
				return
			case tcell.KeyEnter:
				t.btn.Start = true
			case tcell.KeyRight:
				t.btn.Right = true
			case tcell.KeyLeft:
				t.btn.Left = true
			case tcell.KeyUp:
				t.btn.Up = true
			case tcell.KeyDown:
				t.btn.Down = true
			case tcell.KeyRune:
				switch ev.Rune() {
				case 'a':
					t.btn.A = true
				case 's':
					t.btn.B = true
				case 'q':
					t.btn.Select = true
				case ' ':
					t.btn = emu.Buttons{}
				}
			}
		case *tcell.EventResize:
			t.screen.Sync()
		}
	}
}

func (t *traceRenderer) render() {
	termWidth, termHeight := t.screen.Size()
	if termWidth < minTermWidth || termHeight < minTermHeight {
		t.screen.Clear()
		msg := fmt.Sprintf("terminal too small, need at least %dx%d", minTermWidth, minTermHeight)
		style := tcell.StyleDefault.Foreground(tcell.ColorRed)
		for i, ch := range msg {
			t.screen.SetContent(i, termHeight/2, ch, nil, style)
		}
		return
	}
	t.screen.Clear()
	t.drawFramebuffer()
	t.drawSidebar(termWidth)
}

// drawFramebuffer renders the 160x144 RGBA framebuffer at half resolution
// (one character cell per 2x2 pixel block), shading by average luminance.
func (t *traceRenderer) drawFramebuffer() {
	fb := t.machine.Framebuffer()
	style := tcell.StyleDefault.Foreground(tcell.ColorWhite)
	for cy := 0; cy < gbHeight/2; cy++ {
		for cx := 0; cx < gbWidth/2; cx++ {
			sum := 0
			for dy := 0; dy < 2; dy++ {
				for dx := 0; dx < 2; dx++ {
					x, y := cx*2+dx, cy*2+dy
					i := (y*gbWidth + x) * 4
					if i+2 >= len(fb) {
						continue
					}
					sum += int(fb[i]) + int(fb[i+1]) + int(fb[i+2])
				}
			}
			lum := sum / (4 * 3)
			shade := lum * (len(shadeChars) - 1) / 255
			t.screen.SetContent(cx, cy+1, shadeChars[len(shadeChars)-1-shade], nil, style)
		}
	}
}

func (t *traceRenderer) drawSidebar(termWidth int) {
	startX := gbWidth/2 + 2
	titleStyle := tcell.StyleDefault.Foreground(tcell.ColorYellow)
	regStyle := tcell.StyleDefault.Foreground(tcell.ColorGreen)

	writeLine(t.screen, startX, 0, termWidth, t.machine.ROMTitle(), titleStyle)
	writeLine(t.screen, startX, 1, termWidth, "", regStyle)
	writeLine(t.screen, startX, 2, termWidth, t.machine.CPUDebugString(), regStyle)
	writeLine(t.screen, startX, 4, termWidth, "arrows move, a/s=A/B, enter=start, q=select", regStyle)
	writeLine(t.screen, startX, 5, termWidth, "space=release all, esc/ctrl-c=quit", regStyle)
}

func writeLine(screen tcell.Screen, x, y, termWidth int, text string, style tcell.Style) {
	for i, ch := range text {
		if x+i >= termWidth {
			break
		}
		screen.SetContent(x+i, y, ch, nil, style)
	}
}
