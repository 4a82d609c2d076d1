package ws2812

import "image/color"

// GRB is a 24-bit color as sent to a WS2812, green first.
type GRB struct {
	G, R, B uint8
}

func (c GRB) RGBA() (r, g, b, a uint32) {
	r = uint32(c.R)
	r |= r << 8
	g = uint32(c.G)
	g |= g << 8
	b = uint32(c.B)
	b |= b << 8
	return r, g, b, 0xffff
}

// bits returns the color in wire order.
func (c GRB) bits() uint32 {
	return uint32(c.G)<<16 | uint32(c.R)<<8 | uint32(c.B)
}

func grbFromBits(v uint32) GRB {
	return GRB{G: uint8(v >> 16), R: uint8(v >> 8), B: uint8(v)}
}

// GRBModel converts colors to GRB. LEDs can't be transparent, alpha is
// applied against black.
var GRBModel color.Model = color.ModelFunc(grbModel)

func grbModel(c color.Color) color.Color {
	if _, ok := c.(GRB); ok {
		return c
	}
	r, g, b, _ := c.RGBA()
	return GRB{G: uint8(g >> 8), R: uint8(r >> 8), B: uint8(b >> 8)}
}
