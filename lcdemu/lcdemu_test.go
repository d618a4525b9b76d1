// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package lcdemu

import (
	"bytes"
	"strings"
	"testing"
)

// burst emits the pair of port writes a backpack driver produces for one
// nibble: enable asserted, then dropped.
func burst(t *testing.T, d *Dev, port byte) {
	t.Helper()
	if err := d.Tx(d.addr, []byte{regGPIO, port | pinEnable}, nil); err != nil {
		t.Fatal(err)
	}
	if err := d.Tx(d.addr, []byte{regGPIO, port}, nil); err != nil {
		t.Fatal(err)
	}
}

func sendByte(t *testing.T, d *Dev, value byte, rs bool) {
	t.Helper()
	var mode byte
	if rs {
		mode = pinRS
	}
	burst(t, d, (value&0xf0)>>1|mode)
	burst(t, d, (value&0x0f)<<3|mode)
}

// reset walks the emulator through expander setup and the 4 bit handshake
// the way a driver would.
func reset(t *testing.T, d *Dev) {
	t.Helper()
	if err := d.Tx(d.addr, []byte{regIODIR, 0xff, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}, nil); err != nil {
		t.Fatal(err)
	}
	if err := d.Tx(d.addr, []byte{regIODIR, 0x00}, nil); err != nil {
		t.Fatal(err)
	}
	burst(t, d, 0x98) // 0011
	burst(t, d, 0x98)
	burst(t, d, 0x98)
	burst(t, d, 0x90) // 0010: 4 bit mode from here on
	sendByte(t, d, 0x28, false)
	sendByte(t, d, 0x0c, false)
	sendByte(t, d, 0x01, false)
	sendByte(t, d, 0x06, false)
}

func TestTxErrors(t *testing.T) {
	d := New(nil)
	if err := d.Tx(0x55, []byte{0x00}, nil); err == nil {
		t.Error("expected an error for a transaction to another address")
	}
	if err := d.Tx(0x20, nil, []byte{0}); err == nil {
		t.Error("expected an error for a read; the backpack has no read path")
	}
	if err := d.Tx(0x20, nil, nil); err != nil {
		t.Error(err)
	}
	if err := d.SetSpeed(0); err != nil {
		t.Error(err)
	}
	if len(d.String()) == 0 {
		t.Error("String() returned nothing")
	}
}

func TestInputPinsDoNotLatch(t *testing.T) {
	d := New(&Opts{Rows: 2, Cols: 16})
	// IODIR is still all-input; enable edges must not reach the panel.
	burst(t, d, 0x90)
	if d.synced {
		t.Error("latched a nibble while the port was configured as input")
	}
}

func TestHandshakeSync(t *testing.T) {
	d := New(&Opts{Rows: 2, Cols: 16})
	reset(t, d)
	if !d.synced {
		t.Fatal("controller did not switch to 4 bit mode")
	}
	sendByte(t, d, 'A', true)
	sendByte(t, d, 'B', true)
	if row := d.Screen()[0]; !strings.HasPrefix(row, "AB") {
		t.Errorf("row 0 = %q, want AB", row)
	}
	if !d.DisplayOn() {
		t.Error("display-on bit not tracked")
	}
}

func TestSecondRowAddressing(t *testing.T) {
	d := New(&Opts{Rows: 2, Cols: 16})
	reset(t, d)
	sendByte(t, d, 0x80|0x40, false)
	sendByte(t, d, 'x', true)
	if row := d.Screen()[1]; row[0] != 'x' {
		t.Errorf("row 1 = %q, want x first", row)
	}
}

func TestRender(t *testing.T) {
	var buf bytes.Buffer
	d := New(&Opts{Rows: 2, Cols: 16, W: &buf})
	reset(t, d)
	sendByte(t, d, 'H', true)
	sendByte(t, d, 'i', true)
	if err := d.Render(); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "|Hi") {
		t.Errorf("frame missing text row: %q", out)
	}
	if !strings.Contains(out, "\033[") {
		t.Error("frame missing ANSI escapes for the backlight strip")
	}

	// With the display off the rows render blank, like the real panel.
	buf.Reset()
	sendByte(t, d, 0x08, false)
	if err := d.Render(); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "Hi") {
		t.Error("display-off frame still shows text")
	}
	if err := d.Halt(); err != nil {
		t.Error(err)
	}
}

func TestGlyphCapture(t *testing.T) {
	d := New(nil)
	reset(t, d)
	sendByte(t, d, 0x40|1<<3, false)
	want := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	for _, row := range want {
		sendByte(t, d, row, true)
	}
	if got := d.Glyph(1); got != want {
		t.Errorf("Glyph(1) = %#v, want %#v", got, want)
	}
	var zero [8]byte
	if got := d.Glyph(9); got != zero {
		t.Errorf("Glyph(9) = %#v, want zero value", got)
	}
}
