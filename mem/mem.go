// Package mem maps physical address ranges into the process.
//
// Every mapping is addressable in three ways: by its ARM physical address,
// by its VideoCore bus address (the one to hand to the DMA engine) and by a
// virtual address in this process. A [Map] keeps all three together.
package mem

import (
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/clktmr/timedtransfer/debug"
	"github.com/clktmr/timedtransfer/log"
	"github.com/clktmr/timedtransfer/mmio"
	"github.com/clktmr/timedtransfer/platform"
)

// Mapper provides the virtual memory backing a [Map].
type Mapper interface {
	Map(phys int64, size int) ([]byte, error)
	Unmap(b []byte) error
}

// DevMem maps physical memory through /dev/mem. It requires root.
var DevMem Mapper = devMem{}

const devMemPath = "/dev/mem"

type devMem struct{}

func (devMem) Map(phys int64, size int) ([]byte, error) {
	f, err := os.OpenFile(devMemPath, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, errors.Wrap(err, "mem: open")
	}
	// The mapping stays valid after the file is closed.
	defer f.Close()

	b, err := unix.Mmap(int(f.Fd()), phys, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrapf(err, "mem: mmap %#x", phys)
	}
	return b, nil
}

func (devMem) Unmap(b []byte) error {
	return errors.Wrap(unix.Munmap(b), "mem: munmap")
}

var (
	mapperMtx sync.Mutex
	mapper    = DevMem
)

// SetMapper replaces the backend used by subsequent calls to [New] and
// returns the previous one. Tests use it to run drivers on heap memory.
func SetMapper(m Mapper) (old Mapper) {
	mapperMtx.Lock()
	defer mapperMtx.Unlock()
	old, mapper = mapper, m
	return old
}

func currentMapper() Mapper {
	mapperMtx.Lock()
	defer mapperMtx.Unlock()
	return mapper
}

var (
	ErrUnmapped  = errors.New("mem: already unmapped")
	ErrView      = errors.New("mem: unmap of a view")
	ErrUnaligned = errors.New("mem: physical address not page aligned")
)

type region struct {
	mapper Mapper
	mem    []byte
	live   atomic.Bool
}

// Map is a mapped range of physical memory, or a view into one.
//
// Views created with [Map.Offset] share the mapping of their parent. They
// must not be used after the parent was unmapped.
type Map struct {
	Phys uint32
	Bus  uint32

	r    *region
	off  int
	size int
	view bool
}

// New maps size bytes at physical address phys, which must be page aligned.
// bus is the address of the same memory as seen from the VideoCore bus.
// size is rounded up to whole pages.
func New(phys, bus uint32, size int) (*Map, error) {
	if phys%platform.PageSize != 0 {
		return nil, errors.Wrapf(ErrUnaligned, "%#x", phys)
	}
	size = platform.RoundUp(size)

	m := currentMapper()
	b, err := m.Map(int64(phys), size)
	if err != nil {
		return nil, err
	}

	r := &region{mapper: m, mem: b}
	r.live.Store(true)

	log.L().Debug("mapped",
		zap.Stringer("phys", hex(phys)),
		zap.Stringer("bus", hex(bus)),
		zap.Int("size", size))

	return &Map{Phys: phys, Bus: bus, r: r, size: size}, nil
}

// Unmap releases the mapping. It must be called exactly once and only on a
// Map returned by [New]. All views into the mapping become invalid.
func (m *Map) Unmap() error {
	if m.view {
		debug.Assert(false, "mem: unmap of a view")
		return ErrView
	}
	if !m.r.live.CompareAndSwap(true, false) {
		return ErrUnmapped
	}
	err := m.r.mapper.Unmap(m.r.mem)
	m.r.mem = nil

	log.L().Debug("unmapped", zap.Stringer("phys", hex(m.Phys)), zap.Error(err))
	return err
}

// Mapped reports whether the underlying mapping is still alive.
func (m *Map) Mapped() bool {
	return m.r.live.Load()
}

// Size returns the length of m in bytes.
func (m *Map) Size() int {
	return m.size
}

// Offset returns a view of m starting off bytes into it. All three addresses
// of the view are advanced by off.
func (m *Map) Offset(off int) *Map {
	debug.Assertf(off >= 0 && off <= m.size, "mem: offset %#x out of range", off)
	return &Map{
		Phys: m.Phys + uint32(off),
		Bus:  m.Bus + uint32(off),
		r:    m.r,
		off:  m.off + off,
		size: m.size - off,
		view: true,
	}
}

// Bytes returns the mapped memory of m.
func (m *Map) Bytes() []byte {
	debug.Assert(m.r.live.Load(), "mem: access after unmap")
	return m.r.mem[m.off : m.off+m.size]
}

// Words returns the mapped memory as 32-bit registers.
func (m *Map) Words() []mmio.U32 {
	return mmio.Words(m.Bytes())
}

// Virt returns the virtual address of m.
func (m *Map) Virt() uintptr {
	return m.Words()[0].Addr()
}

type hex uint32

func (h hex) String() string { return "0x" + strconv.FormatUint(uint64(h), 16) }
