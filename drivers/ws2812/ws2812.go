// Package ws2812 drives up to 18 strips of WS2812 LEDs in parallel, one per
// SMI data line.
//
// Each bit on the wire takes 1.2µs and is sent as three 400ns slots: high,
// the data bit, low. One SMI transfer carries a slot for all 18 strips, so
// a strip of n LEDs needs n*24*3 words. All strips are sent at once, the
// length is that of the longest strip.
//
// Strips implements draw.Image, with the LED index as X and the strip as Y
// coordinate.
package ws2812

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"time"

	"github.com/pkg/errors"

	"github.com/clktmr/timedtransfer/debug"
	"github.com/clktmr/timedtransfer/mailbox"
	"github.com/clktmr/timedtransfer/periph/dma"
	"github.com/clktmr/timedtransfer/periph/smi"
	"github.com/clktmr/timedtransfer/transfer"
)

const (
	// MaxStrips is the number of SMI data lines.
	MaxStrips = 18

	// SlotDuration is the duration of a third of a bit.
	SlotDuration = 400 * time.Nanosecond

	slotsPerBit = 3
	bitsPerLED  = 24

	// WordsPerLED is the number of transfer words per LED.
	WordsPerLED = bitsPerLED * slotsPerBit
)

var ErrNotConfigured = errors.New("ws2812: not configured")

// Strips is the pixel buffer of all strips, backed by a transfer.
type Strips struct {
	t    *transfer.Transfer
	ct   *transfer.ConfiguredTransfer
	leds int
	data []uint32
}

// New allocates a transfer for strips of up to leds LEDs. All LEDs are
// initially off.
func New(mb mailbox.Sender, leds int) (*Strips, error) {
	debug.Assertf(leds > 0, "ws2812: invalid length %d", leds)
	t, err := transfer.New(mb, leds*WordsPerLED)
	if err != nil {
		return nil, err
	}

	s := &Strips{t: t, leds: leds, data: make([]uint32, leds*WordsPerLED)}
	for i := 0; i < len(s.data); i += slotsPerBit {
		s.data[i] = 0xffff_ffff
	}
	return s, nil
}

// Len returns the number of LEDs per strip.
func (s *Strips) Len() int { return s.leds }

// Configure binds the strips to the peripherals. Strips has to be
// configured before Show.
func (s *Strips) Configure(ctl *smi.Controller, dev *smi.Device, ch dma.Engine) error {
	if s.ct != nil {
		return transfer.ErrBusy
	}
	ct, err := s.t.Configure(ctl, dev, ch, SlotDuration, s.t.Size())
	if err != nil {
		return err
	}
	s.ct = ct
	return nil
}

func (s *Strips) ColorModel() color.Model { return GRBModel }

func (s *Strips) Bounds() image.Rectangle {
	return image.Rect(0, 0, s.leds, MaxStrips)
}

// dataSlot returns the index of the data slot of bit i of led, counting
// from the most significant bit.
func dataSlot(led, i int) int {
	return (led*bitsPerLED+i)*slotsPerBit + 1
}

// SetGRB sets the color of an LED.
func (s *Strips) SetGRB(strip, led int, c GRB) {
	debug.Assertf(strip >= 0 && strip < MaxStrips, "ws2812: invalid strip %d", strip)
	v := c.bits()
	mask := uint32(1) << strip
	for i := range bitsPerLED {
		w := &s.data[dataSlot(led, i)]
		if v&(1<<(bitsPerLED-1-i)) != 0 {
			*w |= mask
		} else {
			*w &^= mask
		}
	}
}

// GRB returns the color of an LED.
func (s *Strips) GRB(strip, led int) GRB {
	var v uint32
	for i := range bitsPerLED {
		v = v<<1 | s.data[dataSlot(led, i)]>>strip&1
	}
	return grbFromBits(v)
}

// SetColor sets the color of an LED.
func (s *Strips) SetColor(strip, led int, c color.Color) {
	s.SetGRB(strip, led, grbModel(c).(GRB))
}

func (s *Strips) Set(x, y int, c color.Color) {
	if !(image.Point{x, y}.In(s.Bounds())) {
		return
	}
	s.SetColor(y, x, c)
}

func (s *Strips) At(x, y int) color.Color {
	if !(image.Point{x, y}.In(s.Bounds())) {
		return GRB{}
	}
	return s.GRB(y, x)
}

// Fill sets all LEDs to c.
func (s *Strips) Fill(c color.Color) {
	draw.Draw(s, s.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
}

// Words returns the encoded transfer data.
func (s *Strips) Words() []uint32 { return s.data }

// Show waits for the previous frame to be sent and starts sending the
// current one.
func (s *Strips) Show() error {
	if s.ct == nil {
		return ErrNotConfigured
	}
	// The payload must not change while the previous frame is on the wire.
	for s.ct.Active() {
	}
	s.ct.SetData(s.data)
	s.ct.Start()
	return nil
}

// Wait blocks until the current frame was sent or ctx is done.
func (s *Strips) Wait(ctx context.Context) error {
	if s.ct == nil {
		return ErrNotConfigured
	}
	return s.ct.Wait(ctx)
}

// Close waits for the current frame and releases the transfer.
func (s *Strips) Close() error {
	if s.ct != nil {
		if err := s.ct.Close(); err != nil {
			return err
		}
		s.ct = nil
	}
	return s.t.Close()
}
