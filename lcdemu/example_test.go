// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package lcdemu_test

import (
	"log"

	"github.com/GermanBionicSystems/liquidtwi"
	"github.com/GermanBionicSystems/liquidtwi/lcdemu"
)

// Runs the real driver against the emulated panel and draws the result to
// the terminal. No hardware required.
func Example() {
	emu := lcdemu.New(&lcdemu.Opts{Rows: 2, Cols: 16})
	lcd, err := liquidtwi.New(emu, nil)
	if err != nil {
		log.Fatal(err)
	}
	_, _ = lcd.WriteString("Hello")
	_ = lcd.MoveTo(1, 0)
	_, _ = lcd.WriteString("from lcdemu")
	if err := emu.Render(); err != nil {
		log.Fatal(err)
	}
}
