// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// This package provides a minimal, output-only driver for the Microchip
// MCP23008 I2C I/O expander as it is wired on LCD backpack boards. The
// expander's 8 GPIO pins are soldered to the LCD's control and data lines,
// so the only operations needed are a reset to output mode and whole-port
// writes. For a full pin-level MCP23xxx driver with input support, use a
// general purpose expander package instead.
//
// The device address is the fixed 0x20 base plus a 3 bit selector set by
// the A2..A0 address pins.
//
// # Datasheet
//
// https://ww1.microchip.com/downloads/en/DeviceDoc/21919e.pdf
package mcp23008

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
)

// Register addresses with IOCON.BANK=0, the power-on default.
const (
	regIODIR byte = 0x00
	regGPIO  byte = 0x09
)

// BaseAddress is the fixed part of the 7 bit device address. The A2..A0
// pins contribute the low 3 bits.
const BaseAddress uint16 = 0x20

const maxSelector uint8 = 7

// Opts holds the transport write policy.
type Opts struct {
	// Retries bounds how many times a failed port write is retransmitted
	// before giving up with an error. 0 retries until the bus accepts the
	// write, which matches the dedicated-peripheral assumption: the device
	// is always present, so a NAK is transient.
	Retries int
	// RetryDelay is slept between attempts.
	RetryDelay time.Duration
}

// DefaultOpts retries forever with a short pause between attempts.
var DefaultOpts = Opts{RetryDelay: 50 * time.Microsecond}

// Dev is a handle to an MCP23008 used as a write-only port. It assumes
// exclusive ownership of the device; two Devs on the same address are
// undefined.
type Dev struct {
	opts Opts

	mu sync.Mutex
	d  *i2c.Dev
}

// New returns a handle to the expander at BaseAddress|selector. Selectors
// above 7 are clamped to 7, the highest address the A2..A0 pins can form.
func New(bus i2c.Bus, selector uint8, opts *Opts) (*Dev, error) {
	if opts == nil {
		o := DefaultOpts
		opts = &o
	}
	if selector > maxSelector {
		selector = maxSelector
	}
	dev := &Dev{
		opts: *opts,
		d:    &i2c.Dev{Bus: bus, Addr: BaseAddress | uint16(selector)},
	}
	return dev, nil
}

// Reset places the expander into a known state and switches every pin to
// output. The first transaction writes the full register bank starting at
// IODIR: all-ones direction followed by zeros through the rest of the
// bank, so whatever state the chip held before is flushed. The second
// transaction flips the direction register to all-outputs.
func (dev *Dev) Reset() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	flush := []byte{regIODIR, 0xff, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	if err := dev.d.Tx(flush, nil); err != nil {
		return fmt.Errorf("mcp23008: %w", err)
	}
	if err := dev.d.Tx([]byte{regIODIR, 0x00}, nil); err != nil {
		return fmt.Errorf("mcp23008: %w", err)
	}
	return nil
}

// WriteGPIO writes value to the output port. On bus failure the write is
// retransmitted according to the retry policy in Opts.
func (dev *Dev) WriteGPIO(value byte) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	w := []byte{regGPIO, value}
	attempts := 0
	for {
		err := dev.d.Tx(w, nil)
		if err == nil {
			return nil
		}
		attempts++
		if dev.opts.Retries > 0 && attempts > dev.opts.Retries {
			return fmt.Errorf("mcp23008: port write failed after %d attempts: %w", attempts, err)
		}
		if dev.opts.RetryDelay > 0 {
			time.Sleep(dev.opts.RetryDelay)
		}
	}
}

// Halt drives every output low.
func (dev *Dev) Halt() error {
	return dev.WriteGPIO(0x00)
}

func (dev *Dev) String() string {
	return fmt.Sprintf("MCP23008_%x", dev.d.Addr)
}

var _ conn.Resource = &Dev{}
