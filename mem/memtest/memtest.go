// Package memtest is meant to be used to test drivers without access to
// physical memory.
package memtest

import (
	"sync"
	"testing"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/clktmr/timedtransfer/mem"
	"github.com/clktmr/timedtransfer/mmio"
	"github.com/clktmr/timedtransfer/platform"
)

// Mapper implements mem.Mapper on heap memory. Like /dev/mem, mapping the same
// physical address twice yields the same memory.
type Mapper struct {
	mu      sync.Mutex
	regions map[int64][]byte
	live    map[*byte]int
	phys    map[*byte]int64

	// Fail, if set, makes Map return it.
	Fail error
}

func NewMapper() *Mapper {
	return &Mapper{
		regions: make(map[int64][]byte),
		live:    make(map[*byte]int),
		phys:    make(map[*byte]int64),
	}
}

// Install makes m the mapper of package mem for the duration of the test.
func Install(tb testing.TB) *Mapper {
	m := NewMapper()
	old := mem.SetMapper(m)
	tb.Cleanup(func() { mem.SetMapper(old) })
	return m
}

func (m *Mapper) Map(phys int64, size int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Fail != nil {
		return nil, m.Fail
	}
	b := m.region(phys, size)
	m.live[unsafe.SliceData(b)]++
	m.phys[unsafe.SliceData(b)] = phys
	return b, nil
}

func (m *Mapper) Unmap(b []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := unsafe.SliceData(b)
	if m.live[p] == 0 {
		return errors.New("memtest: unmap of unknown mapping")
	}
	m.live[p]--
	if m.live[p] == 0 {
		delete(m.live, p)
	}
	return nil
}

// Live returns the number of mappings which weren't unmapped yet.
func (m *Mapper) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.live {
		n += c
	}
	return n
}

// Mapped reports whether a live mapping of phys exists.
func (m *Mapper) Mapped(phys int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for p := range m.live {
		if m.phys[p] == phys {
			return true
		}
	}
	return false
}

// Words returns size bytes of the memory at phys as registers, allocating it
// if it wasn't mapped before.
func (m *Mapper) Words(phys int64, size int) []mmio.U32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return mmio.Words(m.region(phys, size))
}

// Reg returns the register at phys.
func (m *Mapper) Reg(phys int64) *mmio.U32 {
	return &m.Words(phys, 4)[0]
}

func (m *Mapper) region(phys int64, size int) []byte {
	for start, b := range m.regions {
		if phys >= start && phys+int64(size) <= start+int64(len(b)) {
			return b[phys-start : phys-start+int64(size)]
		}
	}

	// Allocate whole pages, so registers poked before the mapping was
	// created end up in the same memory.
	start := phys &^ (platform.PageSize - 1)
	n := platform.RoundUp(int(phys-start) + size)
	words := make([]uint32, n/4)
	b := unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(words))), n)
	m.regions[start] = b
	return b[phys-start : phys-start+int64(size)]
}
