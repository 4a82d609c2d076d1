// Package mailboxtest is meant to be used to test GPU memory users without
// access to the firmware.
package mailboxtest

import (
	"slices"
	"sync"

	"github.com/pkg/errors"

	"github.com/clktmr/timedtransfer/mailbox"
)

// Firmware implements mailbox.Sender by emulating the memory management of
// the VideoCore firmware.
type Firmware struct {
	mtx sync.Mutex

	// Requests holds a copy of every request buffer as it was sent.
	Requests [][]uint32

	// Fail maps tags to errors returned from Send.
	Fail map[uint32]error

	next    uint32
	handles uint32
	blocks  map[uint32]*block
}

type block struct {
	phys, size uint32
	locked     bool
}

// Base is the physical address of the first allocation.
const Base = 0x1e00_0000

// BusAlias is or'ed into physical addresses to form bus addresses of direct
// memory.
const BusAlias = 0xc000_0000

func New() *Firmware {
	return &Firmware{
		Fail:   make(map[uint32]error),
		next:   Base,
		blocks: make(map[uint32]*block),
	}
}

func (f *Firmware) Send(buf []uint32) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	f.Requests = append(f.Requests, slices.Clone(buf))
	if len(buf) < 6 {
		return errors.New("mailboxtest: short request")
	}
	tag := buf[2]
	if err := f.Fail[tag]; err != nil {
		return err
	}

	payload := buf[5:]
	switch tag {
	case mailbox.TagAllocateMemory:
		size, align := payload[0], max(payload[1], 1)
		f.next = (f.next + align - 1) &^ (align - 1)
		f.handles++
		handle := f.handles
		f.blocks[handle] = &block{phys: f.next, size: size}
		f.next += size
		payload[0] = handle
	case mailbox.TagLockMemory:
		b := f.blocks[payload[0]]
		if b == nil {
			payload[0] = 0
			break
		}
		b.locked = true
		payload[0] = b.phys | BusAlias
	case mailbox.TagUnlockMemory:
		b := f.blocks[payload[0]]
		if b == nil {
			payload[0] = 1
			break
		}
		b.locked = false
		payload[0] = 0
	case mailbox.TagReleaseMemory:
		if f.blocks[payload[0]] == nil {
			payload[0] = 1
			break
		}
		delete(f.blocks, payload[0])
		payload[0] = 0
	default:
		buf[1] = 0x8000_0001
		return nil
	}
	buf[1] = 0x8000_0000
	buf[4] = 1<<31 | 4
	return nil
}

// Allocated returns the number of memory blocks not yet released.
func (f *Firmware) Allocated() int {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return len(f.blocks)
}

// Locked reports whether the block with handle is locked.
func (f *Firmware) Locked(handle uint32) bool {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	b := f.blocks[handle]
	return b != nil && b.locked
}

// Tags returns the tag of every request sent so far.
func (f *Firmware) Tags() []uint32 {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	tags := make([]uint32, len(f.Requests))
	for i, r := range f.Requests {
		tags[i] = r[2]
	}
	return tags
}
