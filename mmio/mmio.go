// Package mmio provides volatile access to memory mapped hardware registers.
//
// Register blocks are described as Go structs of [U32] and [R32] fields and
// overlaid onto a mapping with [Overlay]. Loads and stores are never cached
// in CPU registers, reordered or merged by the compiler, which makes them
// safe for peripheral registers and for memory read by a DMA engine.
//
// This is the only package doing pointer arithmetic on mapped memory.
package mmio

import (
	"sync/atomic"
	"unsafe"

	"github.com/clktmr/timedtransfer/field"
)

// U32 is a 32-bit register.
type U32 struct {
	r uint32
}

func (r *U32) Load() uint32 { return atomic.LoadUint32(&r.r) }

func (r *U32) Store(v uint32) { atomic.StoreUint32(&r.r, v) }

// LoadBits returns the register value masked by mask.
func (r *U32) LoadBits(mask uint32) uint32 { return r.Load() & mask }

// StoreBits replaces the bits selected by mask with bits, using a read
// modify write cycle.
func (r *U32) StoreBits(mask, bits uint32) { r.Store(r.Load()&^mask | bits&mask) }

func (r *U32) SetBits(mask uint32) { r.Store(r.Load() | mask) }

func (r *U32) ClearBits(mask uint32) { r.Store(r.Load() &^ mask) }

// LoadField returns the value of f.
func (r *U32) LoadField(f field.Field[uint32]) uint32 { return f.Get(r.Load()) }

// StoreField writes v into f, preserving all other bits.
func (r *U32) StoreField(f field.Field[uint32], v uint32) { r.Store(f.Set(r.Load(), v)) }

// Addr returns the virtual address of the register.
func (r *U32) Addr() uintptr { return uintptr(unsafe.Pointer(r)) }

// T32 is the set of types usable with R32.
type T32 interface{ ~uint32 }

// R32 is a 32-bit register holding values of type T, usually a set of flags.
type R32[T T32] struct {
	r uint32
}

func (r *R32[T]) Load() T { return T(atomic.LoadUint32(&r.r)) }

func (r *R32[T]) Store(v T) { atomic.StoreUint32(&r.r, uint32(v)) }

func (r *R32[T]) LoadBits(mask T) T { return r.Load() & mask }

func (r *R32[T]) StoreBits(mask, bits T) { r.Store(r.Load()&^mask | bits&mask) }

func (r *R32[T]) SetBits(mask T) { r.Store(r.Load() | mask) }

func (r *R32[T]) ClearBits(mask T) { r.Store(r.Load() &^ mask) }

func (r *R32[T]) LoadField(f field.Field[uint32]) uint32 { return f.Get(uint32(r.Load())) }

func (r *R32[T]) StoreField(f field.Field[uint32], v uint32) {
	r.Store(T(f.Set(uint32(r.Load()), v)))
}

func (r *R32[T]) Addr() uintptr { return uintptr(unsafe.Pointer(r)) }

// Overlay returns a pointer to a register block of type T starting at the
// beginning of mem. It panics if mem is too short or not 4 byte aligned.
func Overlay[T any](mem []byte) *T {
	var t T
	if uintptr(len(mem)) < unsafe.Sizeof(t) {
		panic("mmio: register block exceeds mapping")
	}
	p := unsafe.Pointer(unsafe.SliceData(mem))
	if uintptr(p)&0x3 != 0 {
		panic("mmio: unaligned register block")
	}
	return (*T)(p)
}

// Words returns mem as a slice of 32-bit registers. Trailing bytes which
// don't fill a whole word are not part of the result.
func Words(mem []byte) []U32 {
	if len(mem) < 4 {
		return nil
	}
	p := unsafe.Pointer(unsafe.SliceData(mem))
	if uintptr(p)&0x3 != 0 {
		panic("mmio: unaligned register block")
	}
	return unsafe.Slice((*U32)(p), len(mem)/4)
}

// Copy stores src into dst word by word and returns the number of words
// copied, which is the minimum of both lengths.
func Copy(dst []U32, src []uint32) int {
	n := min(len(dst), len(src))
	for i := range n {
		dst[i].Store(src[i])
	}
	return n
}
