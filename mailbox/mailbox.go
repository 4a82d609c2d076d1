// Package mailbox talks to the VideoCore firmware through the property
// mailbox interface exposed by the vcio driver.
//
// A property request is a buffer of 32-bit words:
//
//	[0] total size in bytes
//	[1] request code (0), overwritten with the response code
//	[2] tag id
//	[3] tag buffer size in bytes
//	[4] tag request size in bytes, response size with bit 31 set on return
//	[5...] tag payload, overwritten with the response
//	[n] end tag (0)
//
// Only a single tag per request is used.
package mailbox

import (
	"os"
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const devicePath = "/dev/vcio"

// _IOWR(100, 0, char *)
const ioctlProperty = 0xc004_6400

// Memory tags
const (
	TagAllocateMemory = 0x0003_000c
	TagLockMemory     = 0x0003_000d
	TagUnlockMemory   = 0x0003_000e
	TagReleaseMemory  = 0x0003_000f
)

// MemFlag is passed to [TagAllocateMemory].
type MemFlag uint32

const (
	MemFlagDiscardable MemFlag = 1 << 0 // can be resized to 0 at any time
	MemFlagNormal      MemFlag = 0 << 2 // normal allocating alias, don't use from ARM
	MemFlagDirect      MemFlag = 1 << 2 // 0xC alias uncached
	MemFlagCoherent    MemFlag = 2 << 2 // 0x8 alias, non-allocating in L2 but coherent
	MemFlagZero        MemFlag = 1 << 4 // initialise buffer to all zeros
	MemFlagNoInit      MemFlag = 1 << 5 // don't initialise, default is to fill with 0xff
	MemFlagPermalock   MemFlag = 1 << 6 // likely to be locked for long periods of time

	MemFlagL1NonAllocating = MemFlagDirect | MemFlagCoherent
)

const (
	codeRequest = 0x0000_0000
	codeSuccess = 0x8000_0000
	codeError   = 0x8000_0001
)

var ErrFirmware = errors.New("mailbox: firmware failed to parse request")

// Sender sends a property request and receives the response in place.
type Sender interface {
	Send(buf []uint32) error
}

// Mailbox is an open handle to the firmware mailbox.
//
// Mailbox is safe for concurrent use.
type Mailbox struct {
	f   *os.File
	mtx sync.Mutex
}

// Open opens the mailbox device.
func Open() (*Mailbox, error) {
	f, err := os.OpenFile(devicePath, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, errors.Wrap(err, "mailbox: open")
	}
	return &Mailbox{f: f}, nil
}

// Send issues a single property call. The firmware writes its response into
// buf.
func (m *Mailbox) Send(buf []uint32) error {
	if len(buf) < 3 || int(buf[0]) != len(buf)*4 {
		return errors.New("mailbox: malformed request buffer")
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	// buf is heap allocated and the garbage collector doesn't move it.
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, m.f.Fd(), ioctlProperty,
		uintptr(unsafe.Pointer(unsafe.SliceData(buf))))
	if errno != 0 {
		return errors.Wrap(errno, "mailbox: ioctl")
	}
	return nil
}

func (m *Mailbox) Close() error {
	return m.f.Close()
}

// Request returns a property buffer for tag with the request words args. The
// tag buffer is large enough to hold respWords words of response.
func Request(tag uint32, respWords int, args ...uint32) []uint32 {
	payload := max(len(args), respWords)
	buf := make([]uint32, 5+payload+1)
	buf[0] = uint32(len(buf) * 4)
	buf[1] = codeRequest
	buf[2] = tag
	buf[3] = uint32(payload * 4)
	buf[4] = uint32(len(args) * 4)
	copy(buf[5:], args)
	return buf
}

// Property sends a single tag request and returns the respWords words of its
// response.
func Property(s Sender, tag uint32, respWords int, args ...uint32) ([]uint32, error) {
	buf := Request(tag, respWords, args...)
	if err := s.Send(buf); err != nil {
		return nil, err
	}
	if buf[1] == codeError {
		return nil, errors.Wrapf(ErrFirmware, "tag %#x", tag)
	}
	return buf[5 : 5+respWords], nil
}

// AllocateMemory allocates contiguous memory on the GPU and returns its
// handle.
func AllocateMemory(s Sender, size, align uint32, flags MemFlag) (handle uint32, err error) {
	resp, err := Property(s, TagAllocateMemory, 1, size, align, uint32(flags))
	if err != nil {
		return 0, err
	}
	return resp[0], nil
}

// LockMemory locks the buffer in place and returns its bus address.
func LockMemory(s Sender, handle uint32) (bus uint32, err error) {
	resp, err := Property(s, TagLockMemory, 1, handle)
	if err != nil {
		return 0, err
	}
	return resp[0], nil
}

// UnlockMemory unlocks the buffer. It retains contents, but may move.
func UnlockMemory(s Sender, handle uint32) (status uint32, err error) {
	resp, err := Property(s, TagUnlockMemory, 1, handle)
	if err != nil {
		return 0, err
	}
	return resp[0], nil
}

// ReleaseMemory frees the buffer.
func ReleaseMemory(s Sender, handle uint32) (status uint32, err error) {
	resp, err := Property(s, TagReleaseMemory, 1, handle)
	if err != nil {
		return 0, err
	}
	return resp[0], nil
}
