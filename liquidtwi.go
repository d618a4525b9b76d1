// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package liquidtwi controls a Hitachi HD44780 compatible character LCD
// wired behind an MCP23008 I2C GPIO expander, the pinout used by the
// Adafruit I2C LCD backpack. The expander drives the LCD's 4 bit parallel
// interface, so every byte sent to the display becomes two port writes per
// nibble relayed over I2C.
//
// Implements periph.io/x/conn/display.TextDisplay and
// display.DisplayBacklight.
//
// # Datasheet
//
// https://www.sparkfun.com/datasheets/LCD/HD44780.pdf
//
// # Product Information
//
// https://www.adafruit.com/product/292
package liquidtwi

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/display"
	"periph.io/x/conn/v3/i2c"

	"github.com/GermanBionicSystems/liquidtwi/mcp23008"
)

const packageName = "liquidtwi"

type writeMode bool

const (
	modeCommand writeMode = false
	modeData    writeMode = true
)

// HD44780 command bytes.
const (
	cmdClearDisplay   byte = 0x01
	cmdReturnHome     byte = 0x02
	cmdEntryModeSet   byte = 0x04
	cmdDisplayControl byte = 0x08
	cmdCursorShift    byte = 0x10
	cmdFunctionSet    byte = 0x20
	cmdSetCGRAMAddr   byte = 0x40
	cmdSetDDRAMAddr   byte = 0x80
)

// Command flag bits.
const (
	entryLeft           byte = 0x02
	entryShiftIncrement byte = 0x01

	displayOn byte = 0x04
	cursorOn  byte = 0x02
	blinkOn   byte = 0x01

	displayMove byte = 0x08
	moveRight   byte = 0x04

	twoLine  byte = 0x08
	dots5x10 byte = 0x04
)

// Expander port bit assignments on the backpack:
//
//	7   6   5   4   3   2   1   0
//	BL  D7  D6  D5  D4  EN  RS  n/c
const (
	pinBacklight byte = 0x80
	pinEnable    byte = 0x04
	pinRS        byte = 0x02
)

// DDRAM base address for each of up to 4 physical rows.
var rowOffsets = [4]byte{0x00, 0x40, 0x14, 0x54}

// The raw port bursts that force the controller into 4 bit mode. The
// controller may be in 8 bit mode, or in 4 bit mode with a stray nibble
// pending, so the reset from page 45 of the datasheet runs unconditionally:
// nibble 0011 presented three times, then 0010. Each burst appears twice,
// enable asserted then dropped, with the backlight bit held high.
var wakeBursts = [8]byte{0x9c, 0x98, 0x9c, 0x98, 0x9c, 0x98, 0x94, 0x90}

const (
	// The clear and home commands are documented as exceptionally slow.
	slowCommandDelay = 2000 * time.Microsecond
	functionSetDelay = 5 * time.Millisecond
	powerUpDelay     = 50 * time.Millisecond
	maxCols          = 40
)

// Opts holds the display configuration.
type Opts struct {
	// Selector is the 3 bit device selector set by the backpack's A2..A0
	// address jumpers. The effective I2C address is 0x20|Selector. Values
	// above 7 are clamped to 7.
	Selector uint8
	// Rows and Cols describe the panel geometry. Between 1 and 4 rows and
	// up to 40 columns are supported.
	Rows int
	Cols int
	// Font5x10 selects the taller 5x10 dot font. Only one-line panels
	// support it; it is ignored when Rows > 1.
	Font5x10 bool
	// Expander is the transport write policy passed to the MCP23008
	// driver.
	Expander mcp23008.Opts
}

// DefaultOpts describes a 16x2 panel at the default address.
var DefaultOpts = Opts{Rows: 2, Cols: 16}

// Dev is a handle to the LCD. The flag fields mirror the value last sent
// to the controller; the wiring has no read-back path, so this shadow is
// the only record of hardware state.
type Dev struct {
	rows int
	cols int

	mu        sync.Mutex
	d         *mcp23008.Dev
	function  byte
	control   byte
	mode      byte
	backlight bool
}

func wrap(err error) error {
	if err == nil || strings.HasPrefix(err.Error(), packageName) {
		return err
	}
	return fmt.Errorf("%s: %w", packageName, err)
}

// New configures the expander, runs the controller's power-up sequence and
// returns the display ready for use, with the display on, cleared, entry
// mode left to right, and the backlight lit.
func New(bus i2c.Bus, opts *Opts) (*Dev, error) {
	o := DefaultOpts
	if opts != nil {
		o = *opts
	}
	if o.Rows < 1 || o.Rows > len(rowOffsets) {
		return nil, fmt.Errorf("%s: unsupported row count %d", packageName, o.Rows)
	}
	if o.Cols < 1 || o.Cols > maxCols {
		return nil, fmt.Errorf("%s: unsupported column count %d", packageName, o.Cols)
	}
	exp, err := mcp23008.New(bus, o.Selector, &o.Expander)
	if err != nil {
		return nil, wrap(err)
	}
	dev := &Dev{d: exp, rows: o.Rows, cols: o.Cols}
	// 4 bit interface, single line, 5x8 font unless overridden.
	if o.Rows > 1 {
		dev.function |= twoLine
	}
	if o.Font5x10 && o.Rows == 1 {
		dev.function |= dots5x10
	}
	if err := dev.init(); err != nil {
		return nil, wrap(err)
	}
	return dev, nil
}

// The controller's startup sequence from the datasheet. The LCD does not
// share the host's reset, so no step may be skipped or reordered: each
// command depends on the controller state established by the previous one.
func (dev *Dev) init() error {
	// The controller needs 40ms after Vcc rises to 2.7V. The host can be
	// up well before the panel, so wait longer.
	time.Sleep(powerUpDelay)
	if err := dev.d.Reset(); err != nil {
		return err
	}
	for _, b := range wakeBursts {
		if err := dev.d.WriteGPIO(b); err != nil {
			return err
		}
	}
	time.Sleep(functionSetDelay)
	// Latch line count and font. Sent twice: the first function set after
	// the mode switch is not reliably accepted.
	if err := dev.command(cmdFunctionSet | dev.function); err != nil {
		return err
	}
	time.Sleep(functionSetDelay)
	if err := dev.command(cmdFunctionSet | dev.function); err != nil {
		return err
	}
	time.Sleep(functionSetDelay)
	dev.control = displayOn
	if err := dev.command(cmdDisplayControl | dev.control); err != nil {
		return err
	}
	if err := dev.Clear(); err != nil {
		return err
	}
	dev.mode = entryLeft
	if err := dev.command(cmdEntryModeSet | dev.mode); err != nil {
		return err
	}
	return dev.Backlight(0xff)
}

// send pushes one byte to the controller as two nibble bursts, high nibble
// first. Each burst presents the nibble on D7..D4 with enable asserted,
// then repeats the port write with enable dropped; the controller latches
// on the falling edge. The I2C transaction time far exceeds the minimum
// enable pulse width, so no settling delay is inserted between writes.
func (dev *Dev) send(value byte, mode writeMode) error {
	nibbles := [2]byte{(value & 0xf0) >> 1, (value & 0x0f) << 3}
	for _, buf := range nibbles {
		buf |= pinEnable
		if mode == modeData {
			buf |= pinRS
		}
		if dev.backlight {
			buf |= pinBacklight
		}
		if err := dev.d.WriteGPIO(buf); err != nil {
			return err
		}
		if err := dev.d.WriteGPIO(buf &^ pinEnable); err != nil {
			return err
		}
	}
	return nil
}

func (dev *Dev) command(value byte) error {
	return dev.send(value, modeCommand)
}

// Clear erases the display, homes the cursor and resets the shift. The
// controller takes far longer over this command than any other, so the
// delay is mandatory and the command must not be pipelined.
func (dev *Dev) Clear() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	err := dev.command(cmdClearDisplay)
	time.Sleep(slowCommandDelay)
	return wrap(err)
}

// Home moves the cursor to the first position and undoes any display
// shift. As slow as Clear on the physical controller.
func (dev *Dev) Home() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	err := dev.command(cmdReturnHome)
	time.Sleep(slowCommandDelay)
	return wrap(err)
}

// MoveTo moves the cursor to the given zero based position.
func (dev *Dev) MoveTo(row, col int) error {
	if row < dev.MinRow() || row >= dev.rows || col < dev.MinCol() || col >= dev.cols {
		return fmt.Errorf("%s: MoveTo(%d,%d) out of range", packageName, row, col)
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return wrap(dev.command(cmdSetDDRAMAddr | (rowOffsets[row] + byte(col))))
}

// Turn the display on or off. The panel contents and the backlight are
// unaffected.
func (dev *Dev) Display(on bool) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if on {
		dev.control |= displayOn
	} else {
		dev.control &^= displayOn
	}
	return wrap(dev.command(cmdDisplayControl | dev.control))
}

// Set the cursor mode. You can pass multiple arguments.
// Cursor(CursorUnderline, CursorBlink)
func (dev *Dev) Cursor(modes ...display.CursorMode) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.control &^= cursorOn | blinkOn
	for _, mode := range modes {
		switch mode {
		case display.CursorOff:
		case display.CursorUnderline:
			dev.control |= cursorOn
		case display.CursorBlink:
			dev.control |= blinkOn
		case display.CursorBlock:
			dev.control |= cursorOn | blinkOn
		default:
			return fmt.Errorf("%s: unexpected cursor mode %d", packageName, mode)
		}
	}
	return wrap(dev.command(cmdDisplayControl | dev.control))
}

// Move the cursor forward or backward without writing.
func (dev *Dev) Move(dir display.CursorDirection) error {
	val := cmdCursorShift
	switch dir {
	case display.Backward:
	case display.Forward:
		val |= moveRight
	default:
		return fmt.Errorf("%s: %w", packageName, display.ErrNotImplemented)
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return wrap(dev.command(val))
}

// ScrollLeft shifts the whole display one position to the left without
// changing DDRAM contents.
func (dev *Dev) ScrollLeft() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return wrap(dev.command(cmdCursorShift | displayMove))
}

// ScrollRight shifts the whole display one position to the right without
// changing DDRAM contents.
func (dev *Dev) ScrollRight() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return wrap(dev.command(cmdCursorShift | displayMove | moveRight))
}

// LeftToRight makes written text flow left to right.
func (dev *Dev) LeftToRight() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.mode |= entryLeft
	return wrap(dev.command(cmdEntryModeSet | dev.mode))
}

// RightToLeft makes written text flow right to left.
func (dev *Dev) RightToLeft() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.mode &^= entryLeft
	return wrap(dev.command(cmdEntryModeSet | dev.mode))
}

// AutoScroll shifts the display on every write so the cursor keeps its
// on-screen position, justifying text from the cursor.
func (dev *Dev) AutoScroll(enabled bool) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if enabled {
		dev.mode |= entryShiftIncrement
	} else {
		dev.mode &^= entryShiftIncrement
	}
	return wrap(dev.command(cmdEntryModeSet | dev.mode))
}

// CreateChar programs one of the controller's 8 CGRAM glyph slots. The
// glyph is 8 rows of 5 bits, top row first. Writing byte 0x00..0x07
// afterwards displays the glyph. The cursor position is clobbered; follow
// with MoveTo or Home before writing text.
func (dev *Dev) CreateChar(slot int, glyph [8]byte) error {
	if slot < 0 || slot > 7 {
		return fmt.Errorf("%s: CGRAM slot %d out of range", packageName, slot)
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if err := dev.command(cmdSetCGRAMAddr | byte(slot)<<3); err != nil {
		return wrap(err)
	}
	for _, row := range glyph {
		if err := dev.send(row, modeData); err != nil {
			return wrap(err)
		}
	}
	return nil
}

// Write sends p to the display as character data at the current cursor
// position.
func (dev *Dev) Write(p []byte) (int, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	for i, b := range p {
		if err := dev.send(b, modeData); err != nil {
			return i, wrap(err)
		}
	}
	return len(p), nil
}

// Write a string output to the display.
func (dev *Dev) WriteString(text string) (int, error) {
	return dev.Write([]byte(text))
}

// Backlight turns the display backlight on (any non-zero intensity) or
// off. The backpack switches a single pin, so intermediate intensities
// are not available. The port write carries only the backlight bit; the
// data and control lines are left idle.
func (dev *Dev) Backlight(intensity display.Intensity) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.backlight = intensity > 0
	var buf byte
	if dev.backlight {
		buf = pinBacklight
	}
	return wrap(dev.d.WriteGPIO(buf))
}

// Halt clears the display, turns the backlight off, and turns the display
// off.
func (dev *Dev) Halt() error {
	_ = dev.Clear()
	_ = dev.Backlight(0)
	return dev.Display(false)
}

// Return the number of rows the display supports.
func (dev *Dev) Rows() int {
	return dev.rows
}

// Return the number of columns the display supports.
func (dev *Dev) Cols() int {
	return dev.cols
}

// Return the min row position.
func (dev *Dev) MinRow() int {
	return 0
}

// Return the min column position.
func (dev *Dev) MinCol() int {
	return 0
}

func (dev *Dev) String() string {
	return fmt.Sprintf("%s/%s Rows: %d Cols: %d", packageName, dev.d, dev.rows, dev.cols)
}

var _ conn.Resource = &Dev{}
var _ display.TextDisplay = &Dev{}
var _ display.DisplayBacklight = &Dev{}
