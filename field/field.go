// Package field describes bit ranges inside hardware registers.
//
// A Field is defined by its most and least significant bit, the same way
// register layouts are written down in the BCM2835 ARM Peripherals
// datasheet, e.g. bits 23:12 of CM_SMIDIV hold the integer divisor:
//
//	var divi = field.Bits(23, 12)
//	div = divi.Set(div, 3)
package field

import "golang.org/x/exp/constraints"

// Field is a contiguous range of bits inside a register of type T.
type Field[T constraints.Unsigned] struct {
	Offset uint
	Mask   T
}

// Of returns the field spanning bits end down to start, both inclusive.
func Of[T constraints.Unsigned](end, start uint) Field[T] {
	if end < start {
		panic("field: end before start")
	}
	width := end - start + 1
	return Field[T]{
		Offset: start,
		Mask:   (T(1)<<width - 1) << start,
	}
}

// Bits returns the 32-bit register field spanning bits end down to start.
func Bits(end, start uint) Field[uint32] {
	return Of[uint32](end, start)
}

// Bit returns the single bit field n. It's the same as Bits(n, n).
func Bit(n uint) Field[uint32] {
	return Of[uint32](n, n)
}

// Width returns the number of bits in f.
func (f Field[T]) Width() uint {
	w := uint(0)
	for m := f.Mask >> f.Offset; m != 0; m >>= 1 {
		w++
	}
	return w
}

// Max returns the largest value that fits into f.
func (f Field[T]) Max() T {
	return f.Mask >> f.Offset
}

// Get extracts the value of f from reg.
func (f Field[T]) Get(reg T) T {
	return (reg & f.Mask) >> f.Offset
}

// IsSet reports whether any bit of f is set in reg.
func (f Field[T]) IsSet(reg T) bool {
	return reg&f.Mask != 0
}

// Set returns reg with f replaced by v. Bits of v that don't fit into f are
// discarded, all bits outside of f are preserved.
func (f Field[T]) Set(reg T, v T) T {
	return reg&^f.Mask | (v<<f.Offset)&f.Mask
}

// Read is the function form of [Field.Get].
func Read[T constraints.Unsigned](src T, f Field[T]) T {
	return f.Get(src)
}

// Write stores v into field f of *dst.
func Write[T constraints.Unsigned](dst *T, f Field[T], v T) {
	*dst = f.Set(*dst, v)
}

// Flag converts a boolean to a field value of 0 or 1.
func Flag[T constraints.Unsigned](b bool) T {
	if b {
		return 1
	}
	return 0
}
