package main

import (
	"fmt"

	runewidth "github.com/mattn/go-runewidth"
	term "github.com/nsf/termbox-go"

	"lispmc/machine"
)

// stepDebugger drives the engine one tick per Enter keypress, showing
// register state after each, grounded on the source's termbox key
// loop (term.PollEvent / KeyEnter / KeyCtrlC) rather than the
// teacher's bufio-stdin REPL, since tick-at-a-time stepping wants a
// raw keypress, not a line read.
func stepDebugger(e *machine.Engine) error {
	if err := term.Init(); err != nil {
		return fmt.Errorf("initializing terminal: %w", err)
	}
	defer term.Close()

	drawFrame(e, "press ENTER to step, CTRL-C to run to completion")

MainLoop:
	for {
		ev := term.PollEvent()
		if ev.Type != term.EventKey {
			continue
		}
		switch ev.Key {
		case term.KeyEnter:
			halted := e.Step()
			if halted {
				drawFrame(e, fmt.Sprintf("halted: %s", haltDescription(e.HaltReason)))
				break MainLoop
			}
			drawFrame(e, "press ENTER to step, CTRL-C to run to completion")
		case term.KeyCtrlC:
			for !e.Step() {
			}
			drawFrame(e, fmt.Sprintf("halted: %s", haltDescription(e.HaltReason)))
			break MainLoop
		}
	}

	return nil
}

func drawFrame(e *machine.Engine, status string) {
	term.Clear(term.ColorDefault, term.ColorDefault)
	writeLine(0, 0, "lispvm step debugger")
	writeLine(0, 1, fmtState(e.State))
	writeLine(0, 3, status)
	term.Flush()
}

func writeLine(x, y int, line string) {
	col := x
	for _, r := range line {
		term.SetCell(col, y, r, term.ColorDefault, term.ColorDefault)
		col += runewidth.RuneWidth(r)
	}
}
