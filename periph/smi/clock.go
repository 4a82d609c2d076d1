package smi

import "fmt"

// ClockSource selects the oscillator feeding a clock generator.
type ClockSource uint32

const (
	GND ClockSource = iota
	Oscillator
	TestDebug0
	TestDebug1
	PLLA
	PLLC
	PLLD
	HDMIAux
)

var sourceNames = [...]string{"gnd", "osc", "testdebug0", "testdebug1", "plla", "pllc", "plld", "hdmi_aux"}

func (s ClockSource) String() string {
	if int(s) < len(sourceNames) {
		return sourceNames[s]
	}
	return "gnd"
}

// ClockState is the decoded state of the SMI clock generator.
type ClockState struct {
	Source  ClockSource
	Enabled bool
	Busy    bool
	Mash    uint32
	Flip    bool
	DivI    uint32
	DivF    uint32
}

func (c ClockState) String() string {
	return fmt.Sprintf("src=%v enab=%t busy=%t divi=%d divf=%d mash=%d",
		c.Source, c.Enabled, c.Busy, c.DivI, c.DivF, c.Mash)
}
