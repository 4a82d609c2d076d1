// Package gpio selects the functions of the BCM2835 GPIO pins.
//
// Only function selection is supported. Reading and driving plain GPIO
// lines is better done through the kernel's character device.
package gpio

import (
	"fmt"

	"github.com/clktmr/timedtransfer/debug"
	"github.com/clktmr/timedtransfer/field"
	"github.com/clktmr/timedtransfer/mem"
	"github.com/clktmr/timedtransfer/mmio"
	"github.com/clktmr/timedtransfer/platform"
)

const (
	Offset  = 0x0020_0000 // from the peripheral base
	NumPins = 54
)

// Mode is the function of a pin, in the encoding of the GPFSEL registers.
type Mode uint32

const (
	Input  Mode = 0b000
	Output Mode = 0b001
	Alt0   Mode = 0b100
	Alt1   Mode = 0b101
	Alt2   Mode = 0b110
	Alt3   Mode = 0b111
	Alt4   Mode = 0b011
	Alt5   Mode = 0b010
)

func (m Mode) String() string {
	switch m {
	case Input:
		return "in"
	case Output:
		return "out"
	case Alt0, Alt1, Alt2, Alt3:
		return fmt.Sprintf("alt%d", m-Alt0)
	case Alt4:
		return "alt4"
	case Alt5:
		return "alt5"
	}
	return "invalid"
}

// Peripheral is the mapped GPIO register block.
type Peripheral struct {
	m    *mem.Map
	fsel []mmio.U32
}

// Open maps the GPIO registers of platform p.
func Open(p platform.Platform) (*Peripheral, error) {
	m, err := mem.New(p.Phys+Offset, p.Bus+Offset, platform.PageSize)
	if err != nil {
		return nil, err
	}
	return &Peripheral{m: m, fsel: m.Words()[:6]}, nil
}

func (g *Peripheral) Close() error {
	return g.m.Unmap()
}

func fsel(n int) (reg int, f field.Field[uint32]) {
	debug.Assertf(n >= 0 && n < NumPins, "gpio: invalid pin %d", n)
	shift := uint(n%10) * 3
	return n / 10, field.Bits(shift+2, shift)
}

// SetMode sets the function of pin n. Other pins sharing the register are
// left untouched.
func (g *Peripheral) SetMode(n int, mode Mode) {
	debug.Assert(g.m.Mapped(), "gpio: used after close")
	reg, f := fsel(n)
	g.fsel[reg].StoreField(f, uint32(mode))
}

// Mode returns the function of pin n.
func (g *Peripheral) Mode(n int) Mode {
	debug.Assert(g.m.Mapped(), "gpio: used after close")
	reg, f := fsel(n)
	return Mode(g.fsel[reg].LoadField(f))
}

// SetModes sets the function of all pins in the range [first, last].
func (g *Peripheral) SetModes(first, last int, mode Mode) {
	for n := first; n <= last; n++ {
		g.SetMode(n, mode)
	}
}
