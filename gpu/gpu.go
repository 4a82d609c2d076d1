// Package gpu allocates memory from the VideoCore which is physically
// contiguous and reachable from the DMA engine.
//
// The memory is allocated as "direct", i.e. through the uncached 0xC bus
// alias, so writes from the ARM are visible to DMA without cache maintenance.
package gpu

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/clktmr/timedtransfer/log"
	"github.com/clktmr/timedtransfer/mailbox"
	"github.com/clktmr/timedtransfer/mem"
	"github.com/clktmr/timedtransfer/mmio"
	"github.com/clktmr/timedtransfer/platform"
)

// Bits 31:30 of a bus address select the cache alias.
const busAliasMask = 0xc000_0000

const allocFlags = mailbox.MemFlagDirect | mailbox.MemFlagZero

var ErrClosed = errors.New("gpu: memory already released")

// Mem is a block of GPU memory, locked and mapped into the process.
type Mem struct {
	mb     mailbox.Sender
	handle uint32
	size   int
	m      *mem.Map
}

// Alloc allocates at least size bytes of zeroed GPU memory. The size is
// rounded up to whole pages. The memory must be released with [Mem.Close].
func Alloc(mb mailbox.Sender, size int) (*Mem, error) {
	size = platform.RoundUp(size)

	handle, err := mailbox.AllocateMemory(mb, uint32(size), platform.PageSize, allocFlags)
	if err != nil {
		return nil, errors.Wrap(err, "gpu: allocate")
	}
	if handle == 0 {
		return nil, errors.Errorf("gpu: firmware refused to allocate %d bytes", size)
	}

	bus, err := mailbox.LockMemory(mb, handle)
	if err != nil {
		mailbox.ReleaseMemory(mb, handle)
		return nil, errors.Wrap(err, "gpu: lock")
	}

	m, err := mem.New(bus&^busAliasMask, bus, size)
	if err != nil {
		mailbox.UnlockMemory(mb, handle)
		mailbox.ReleaseMemory(mb, handle)
		return nil, err
	}

	log.L().Debug("gpu memory allocated",
		zap.Uint32("handle", handle),
		zap.Int("size", size),
		zap.Uint32("bus", bus))

	return &Mem{mb: mb, handle: handle, size: size, m: m}, nil
}

// Close unmaps the memory and hands it back to the firmware.
//
// On error the memory is leaked; there is nothing the caller can do about it
// except to stop using the Mem.
func (g *Mem) Close() error {
	if g.m == nil {
		return ErrClosed
	}
	m := g.m
	g.m = nil

	l := log.L().With(zap.Uint32("handle", g.handle))

	// Never give memory back to the firmware while it's still mapped.
	if err := m.Unmap(); err != nil {
		l.Error("gpu memory leaked", zap.Error(err))
		return err
	}

	status, err := mailbox.UnlockMemory(g.mb, g.handle)
	if err == nil && status != 0 {
		err = errors.Errorf("gpu: unlock %d failed with status %d", g.handle, status)
	}
	if err != nil {
		l.Error("gpu memory leaked", zap.Error(err))
		return errors.Wrap(err, "gpu: unlock")
	}

	status, err = mailbox.ReleaseMemory(g.mb, g.handle)
	if err == nil && status != 0 {
		err = errors.Errorf("gpu: release %d failed with status %d", g.handle, status)
	}
	if err != nil {
		l.Error("gpu memory leaked", zap.Error(err))
		return errors.Wrap(err, "gpu: release")
	}

	l.Debug("gpu memory released")
	return nil
}

// Size returns the size of the allocation in bytes, a multiple of the page
// size.
func (g *Mem) Size() int { return g.size }

// Handle returns the firmware handle of the allocation.
func (g *Mem) Handle() uint32 { return g.handle }

// Map returns the mapping of the memory.
func (g *Mem) Map() *mem.Map { return g.m }

// Bus returns the address used by DMA to access the memory.
func (g *Mem) Bus() uint32 { return g.m.Bus }

// Phys returns the ARM physical address of the memory.
func (g *Mem) Phys() uint32 { return g.m.Phys }

// Words returns the memory as 32-bit words. Stores are volatile.
func (g *Mem) Words() []mmio.U32 { return g.m.Words() }
