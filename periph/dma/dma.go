// Package dma drives the BCM2835 DMA engine.
//
// The engine has 15 channels in a single register block. Each channel
// executes a chain of control blocks located in bus addressable memory. All
// channels share one enable register, with one bit per channel.
//
// Only single control block programs are used in this module, the
// NextConBk field of a [ControlBlock] is always zero.
package dma

import (
	"github.com/clktmr/timedtransfer/debug"
	"github.com/clktmr/timedtransfer/field"
	"github.com/clktmr/timedtransfer/mem"
	"github.com/clktmr/timedtransfer/mmio"
	"github.com/clktmr/timedtransfer/platform"
)

// Engine is the set of operations a transfer needs from a DMA channel.
type Engine interface {
	Index() int
	Enable()
	Disable()
	SetControlBlockAddress(bus uint32)
	Reset()
	ClearEnd()
	ClearError()
	Start()
	Status() Status
}

// Peripheral is the mapped DMA register block.
type Peripheral struct {
	m        *mem.Map
	channels [NumChannels]Channel
}

// Open maps the DMA registers of platform p.
func Open(p platform.Platform) (*Peripheral, error) {
	m, err := mem.New(p.Phys+Offset, p.Bus+Offset, platform.PageSize)
	if err != nil {
		return nil, err
	}

	d := &Peripheral{m: m}
	enable := &m.Offset(enableOffset).Words()[0]
	for i := range d.channels {
		cm := m.Offset(i * stride)
		d.channels[i] = Channel{
			index:  i,
			m:      cm,
			regs:   mmio.Overlay[channelRegs](cm.Bytes()),
			enable: enable,
		}
	}
	return d, nil
}

// Channel returns channel i. The handle is valid until the peripheral is
// closed.
func (d *Peripheral) Channel(i int) *Channel {
	debug.Assertf(i >= 0 && i < NumChannels, "dma: invalid channel %d", i)
	return &d.channels[i]
}

// Enabled returns the content of the global enable register.
func (d *Peripheral) Enabled() uint32 {
	return d.channels[0].enable.Load()
}

// Close unmaps the registers. The caller must make sure no channel is in use.
func (d *Peripheral) Close() error {
	return d.m.Unmap()
}

// Channel is a single DMA channel.
//
// Channel is not safe for concurrent use. Enable and Disable of different
// channels must not be called concurrently either, since they share a
// register.
type Channel struct {
	index  int
	m      *mem.Map
	regs   *channelRegs
	enable *mmio.U32
}

func (c *Channel) r() *channelRegs {
	debug.Assert(c.m.Mapped(), "dma: channel used after close")
	return c.regs
}

func (c *Channel) Index() int { return c.index }

// Bus returns the bus address of the channel's register block.
func (c *Channel) Bus() uint32 { return c.m.Bus }

// Enable sets the channel's bit in the global enable register.
func (c *Channel) Enable() {
	c.r()
	c.enable.SetBits(1 << c.index)
}

// Disable clears the channel's bit in the global enable register.
func (c *Channel) Disable() {
	c.r()
	c.enable.ClearBits(1 << c.index)
}

// SetControlBlockAddress sets the bus address of the control block executed
// on the next Start.
func (c *Channel) SetControlBlockAddress(bus uint32) {
	debug.Assertf(bus%32 == 0, "dma: control block %#x not 256-bit aligned", bus)
	c.r().conblkAd.Store(bus)
}

func (c *Channel) ControlBlockAddress() uint32 {
	return c.r().conblkAd.Load()
}

func (c *Channel) Reset() { c.r().cs.SetBits(Reset) }

func (c *Channel) ClearEnd() { c.r().cs.SetBits(End) }

func (c *Channel) ClearError() { c.r().cs.SetBits(Error) }

// Start sets the active flag. The engine loads the control block and
// executes it asynchronously.
func (c *Channel) Start() { c.r().cs.SetBits(Active) }

func (c *Channel) Status() Status { return c.r().cs.Load() }

// SetPriority sets the normal and panic AXI priority of the channel.
func (c *Channel) SetPriority(priority, panicPriority uint32) {
	cs := uint32(c.r().cs.Load())
	cs = csPriority.Set(cs, priority)
	cs = csPanicPriority.Set(cs, panicPriority)
	c.r().cs.Store(Status(cs))
}

var debugID = field.Bits(15, 8)

// DebugID returns the AXI ID of the channel.
func (c *Channel) DebugID() uint32 {
	return c.r().debug.LoadField(debugID)
}

// Current returns the control block fields as currently loaded by the
// channel.
func (c *Channel) Current() (ti TransferInfo, src, dst, length uint32) {
	r := c.r()
	return r.ti.Load(), r.sourceAd.Load(), r.destAd.Load(), r.txfrLen.Load()
}

// ControlBlockSize is the size of a control block in bytes. Control blocks
// must be aligned to it.
const ControlBlockSize = 32

// ControlBlock is the in-memory descriptor of a DMA transfer.
type ControlBlock struct {
	TI        mmio.R32[TransferInfo]
	SourceAd  mmio.U32
	DestAd    mmio.U32
	TxfrLen   mmio.U32
	Stride    mmio.U32
	NextConBk mmio.U32
	_         [2]mmio.U32
}

// ControlBlockAt returns the control block located at the start of m.
func ControlBlockAt(m *mem.Map) *ControlBlock {
	debug.Assertf(m.Bus%ControlBlockSize == 0, "dma: control block %#x unaligned", m.Bus)
	return mmio.Overlay[ControlBlock](m.Bytes())
}

// Program writes a single, non-chained transfer of length bytes from src to
// dst.
func (cb *ControlBlock) Program(ti TransferInfo, src, dst, length uint32) {
	cb.TI.Store(ti)
	cb.SourceAd.Store(src)
	cb.DestAd.Store(dst)
	cb.TxfrLen.Store(length)
	cb.Stride.Store(0)
	cb.NextConBk.Store(0)
}
