// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package lcdemu emulates an MCP23008 LCD backpack and the HD44780
// character LCD behind it, and renders the virtual panel to the terminal
// using ANSI color codes.
//
// It implements i2c.Bus, so a driver can be pointed at it unchanged.
// Useful while you are waiting for your LCD panel to come by mail, and for
// verifying the wire protocol from the receiving side in tests.
package lcdemu

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"io"
	"sync"

	"github.com/maruel/ansi256"
	"github.com/mattn/go-colorable"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

// MCP23008 register addresses with IOCON.BANK=0.
const (
	regIODIR byte = 0x00
	regGPIO  byte = 0x09
	regOLAT  byte = 0x0a
)

// Backpack port bit assignments, matching the driver's wiring.
const (
	pinBacklight byte = 0x80
	pinEnable    byte = 0x04
	pinRS        byte = 0x02
)

// HD44780 display-on control bit.
const ctrlDisplayOn byte = 0x04

// DDRAM base address per visible row. Each logical line is a 40 byte bank;
// rows 2 and 3 are windows into the middle of the two banks.
var rowOffsets = [4]byte{0x00, 0x40, 0x14, 0x54}

const lineWidth = 40

// Opts configures the emulated panel.
type Opts struct {
	// Selector is the 3 bit address selector; the emulator answers at
	// 0x20|Selector.
	Selector uint8
	// Rows and Cols describe the emulated panel geometry.
	Rows int
	Cols int
	// W receives rendered frames. Defaults to a colorable stdout.
	W io.Writer

	_ struct{}
}

// Dev emulates the backpack and panel pair. It implements i2c.Bus.
type Dev struct {
	addr uint16
	rows int
	cols int
	w    io.Writer

	mu    sync.Mutex
	iodir byte
	port  byte

	// 4 bit interface state. The emulated controller starts unsynced, like
	// a freshly powered panel in 8 bit mode, and follows the datasheet
	// reset: nibble 0011 keeps it waiting, nibble 0010 switches to 4 bit
	// transfers. From then on nibbles pair up, high first.
	synced   bool
	haveHigh bool
	high     byte

	ddram     [0x68]byte
	cgram     [64]byte
	ac        int // address counter
	inCGRAM   bool
	cgAddr    int
	shift     int // display window offset within the line banks
	incr      bool
	autoshift bool
	control   byte
	function  byte
	backlight bool

	buf bytes.Buffer
}

// New returns an emulated panel. opts may be nil for a 16x2 at the default
// address rendering to stdout.
func New(opts *Opts) *Dev {
	o := Opts{Rows: 2, Cols: 16}
	if opts != nil {
		o = *opts
	}
	if o.Selector > 7 {
		o.Selector = 7
	}
	w := o.W
	if w == nil {
		w = colorable.NewColorableStdout()
	}
	d := &Dev{
		addr: 0x20 | uint16(o.Selector),
		rows: o.Rows,
		cols: o.Cols,
		w:    w,
		// Power-on defaults per the datasheet.
		iodir: 0xff,
		incr:  true,
	}
	for i := range d.ddram {
		d.ddram[i] = ' '
	}
	return d
}

func (d *Dev) String() string {
	return fmt.Sprintf("lcdemu_%x", d.addr)
}

// SetSpeed implements i2c.Bus. The emulated bus has no clock to adjust.
func (d *Dev) SetSpeed(f physic.Frequency) error {
	return nil
}

// Tx implements i2c.Bus. Only register writes are supported: the backpack
// wiring has no read-back path and neither does the emulation.
func (d *Dev) Tx(addr uint16, w, r []byte) error {
	if len(r) != 0 {
		return errors.New("lcdemu: read not supported")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if addr != d.addr {
		return fmt.Errorf("lcdemu: no device at %#02x", addr)
	}
	if len(w) == 0 {
		return nil
	}
	// The MCP23008 auto-increments the register pointer on sequential
	// writes, which is how the driver's bank flush lands on IODIR..OLAT.
	reg := w[0]
	for i, b := range w[1:] {
		d.writeReg(reg+byte(i), b)
	}
	return nil
}

func (d *Dev) writeReg(reg, value byte) {
	switch reg {
	case regIODIR:
		d.iodir = value
	case regGPIO, regOLAT:
		d.portWrite(value)
	default:
		// Other registers exist on the chip but the backpack never uses
		// them.
	}
}

func (d *Dev) portWrite(value byte) {
	prev := d.port
	d.port = value
	d.backlight = value&pinBacklight != 0
	if d.iodir != 0 {
		// Pins still configured as inputs don't reach the panel.
		return
	}
	if prev&pinEnable != 0 && value&pinEnable == 0 {
		// Falling enable edge: the controller samples D7..D4 and RS.
		d.latch((value>>3)&0x0f, value&pinRS != 0)
	}
}

func (d *Dev) latch(nibble byte, rs bool) {
	if !d.synced {
		switch nibble {
		case 0x03:
			// Reset burst; still 8 bit mode.
		case 0x02:
			d.synced = true
		}
		return
	}
	if !d.haveHigh {
		d.high = nibble
		d.haveHigh = true
		return
	}
	d.haveHigh = false
	value := d.high<<4 | nibble
	if rs {
		d.data(value)
	} else {
		d.execute(value)
	}
}

func (d *Dev) execute(cmd byte) {
	switch {
	case cmd&0x80 != 0:
		d.ac = int(cmd & 0x7f)
		d.inCGRAM = false
	case cmd&0x40 != 0:
		d.cgAddr = int(cmd & 0x3f)
		d.inCGRAM = true
	case cmd&0x20 != 0:
		d.function = cmd & 0x1f
	case cmd&0x10 != 0:
		if cmd&0x08 != 0 {
			// Display shift: left moves the window forward.
			if cmd&0x04 != 0 {
				d.shift--
			} else {
				d.shift++
			}
		} else {
			d.moveAC(cmd&0x04 != 0)
		}
	case cmd&0x08 != 0:
		d.control = cmd & 0x07
	case cmd&0x04 != 0:
		d.incr = cmd&0x02 != 0
		d.autoshift = cmd&0x01 != 0
	case cmd&0x02 != 0:
		d.ac = 0
		d.inCGRAM = false
		d.shift = 0
	case cmd&0x01 != 0:
		for i := range d.ddram {
			d.ddram[i] = ' '
		}
		d.ac = 0
		d.inCGRAM = false
		d.shift = 0
		d.incr = true
	}
}

func (d *Dev) data(value byte) {
	if d.inCGRAM {
		d.cgram[d.cgAddr] = value & 0x1f
		d.cgAddr = (d.cgAddr + 1) & 0x3f
		return
	}
	if d.ac >= 0 && d.ac < len(d.ddram) {
		d.ddram[d.ac] = value
	}
	d.moveAC(d.incr)
	if d.autoshift {
		if d.incr {
			d.shift++
		} else {
			d.shift--
		}
	}
}

// moveAC advances the address counter through the two 40 byte line banks
// the way the controller does in 2 line mode.
func (d *Dev) moveAC(forward bool) {
	if forward {
		switch d.ac {
		case 0x27:
			d.ac = 0x40
		case 0x67:
			d.ac = 0x00
		default:
			d.ac++
		}
		return
	}
	switch d.ac {
	case 0x40:
		d.ac = 0x27
	case 0x00:
		d.ac = 0x67
	default:
		d.ac--
	}
}

// Screen returns the visible rows as strings. Glyphs from CGRAM slots
// appear as bytes 0x00..0x07.
func (d *Dev) Screen() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.screenLocked()
}

func (d *Dev) screenLocked() []string {
	rows := make([]string, d.rows)
	for r := range rows {
		base := int(rowOffsets[r])
		bank := 0
		if base >= 0x40 {
			bank = 0x40
			base -= 0x40
		}
		line := make([]byte, d.cols)
		for c := range line {
			pos := (base + d.shift + c) % lineWidth
			for pos < 0 {
				pos += lineWidth
			}
			line[c] = d.ddram[bank+pos]
		}
		rows[r] = string(line)
	}
	return rows
}

// Backlight reports the state of the backlight pin.
func (d *Dev) Backlight() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.backlight
}

// DisplayOn reports whether the display-on control bit is set.
func (d *Dev) DisplayOn() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.control&ctrlDisplayOn != 0
}

// Glyph returns the 8 CGRAM rows for a glyph slot.
func (d *Dev) Glyph(slot int) [8]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	var g [8]byte
	if slot < 0 || slot > 7 {
		return g
	}
	copy(g[:], d.cgram[slot*8:slot*8+8])
	return g
}

// Render draws the current panel state to the configured writer: a strip
// of colored blocks showing the backlight state, then the visible rows.
// Rows render blank while the display-on bit is clear, as on the real
// panel.
func (d *Dev) Render() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	// Minimize allocations per frame, same trick as the LED strip
	// emulator.
	d.buf.Reset()
	bl := color.NRGBA{0x20, 0x20, 0x20, 255}
	if d.backlight {
		bl = color.NRGBA{0xff, 0xbf, 0x00, 255}
	}
	_, _ = d.buf.WriteString("\033[0m")
	for range d.cols + 2 {
		_, _ = io.WriteString(&d.buf, ansi256.Default.Block(bl))
	}
	_, _ = d.buf.WriteString("\033[0m\n")
	for _, row := range d.screenLocked() {
		if d.control&ctrlDisplayOn == 0 {
			row = fmt.Sprintf("%*s", d.cols, "")
		}
		_, _ = fmt.Fprintf(&d.buf, "|%s|\n", printable(row))
	}
	_, err := d.buf.WriteTo(d.w)
	return err
}

// Halt implements conn.Resource. It resets the terminal attributes.
func (d *Dev) Halt() error {
	_, err := d.w.Write([]byte("\n\033[0m"))
	return err
}

// printable substitutes CGRAM glyph codes and anything else outside ASCII
// with markers so a frame stays one terminal cell per LCD cell.
func printable(row string) string {
	b := []byte(row)
	for i, c := range b {
		if c < 8 {
			b[i] = '0' + c
		} else if c < 0x20 || c > 0x7e {
			b[i] = '?'
		}
	}
	return string(b)
}

var _ i2c.Bus = &Dev{}
