// Package transfer streams a buffer of words out over the SMI bus, paced by
// the DMA engine.
//
// A [Transfer] owns GPU memory holding the payload, followed by a single DMA
// control block. Binding it to an SMI controller, an SMI device and a DMA
// channel with [Transfer.Configure] programs the timing and yields a
// [ConfiguredTransfer], which can be started repeatedly:
//
//	t, err := transfer.New(mb, 1024)
//	...
//	ct, err := t.Configure(s.Controller(), s.Device(0), d.Channel(5), 400*time.Nanosecond, 1024)
//	...
//	ct.SetData(words)
//	ct.Start()
//	...
//	ct.Close()
//	t.Close()
//
// The hardware reads the payload asynchronously after Start. Start and Close
// block until a previous transfer finished, so the payload may be modified
// freely after either returned.
package transfer

import (
	"context"
	"io"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/clktmr/timedtransfer/debug"
	"github.com/clktmr/timedtransfer/gpu"
	"github.com/clktmr/timedtransfer/log"
	"github.com/clktmr/timedtransfer/mailbox"
	"github.com/clktmr/timedtransfer/mmio"
	"github.com/clktmr/timedtransfer/periph/dma"
	"github.com/clktmr/timedtransfer/periph/smi"
)

var (
	ErrBusy       = errors.New("transfer: peripheral bound to another transfer")
	ErrConfigured = errors.New("transfer: still configured")
	ErrDuration   = errors.New("transfer: duration exceeds clock divisor range")
)

// ti is the transfer information of every control block. Writes to the SMI
// FIFO are paced by its DREQ.
const ti = dma.DestDREQ | dma.SrcInc | dma.WaitResp

// Transfer is a payload buffer in GPU memory.
type Transfer struct {
	mem   *gpu.Mem
	words int
	cb    *dma.ControlBlock

	configured *ConfiguredTransfer
}

// New allocates a transfer of the given number of 32-bit words.
func New(mb mailbox.Sender, words int) (*Transfer, error) {
	debug.Assertf(words > 0, "transfer: invalid size %d", words)

	m, err := gpu.Alloc(mb, cbOffset(words)+dma.ControlBlockSize)
	if err != nil {
		return nil, err
	}

	t := &Transfer{mem: m, words: words}
	t.cb = dma.ControlBlockAt(m.Map().Offset(cbOffset(words)))
	t.cb.Program(ti.WithPermap(dma.PermapSMI), m.Bus(), 0, uint32(words*4))
	return t, nil
}

// The control block follows the payload, aligned to its size.
func cbOffset(words int) int {
	return (words*4 + dma.ControlBlockSize - 1) &^ (dma.ControlBlockSize - 1)
}

// Size returns the capacity of the transfer in words.
func (t *Transfer) Size() int { return t.words }

// Payload returns the payload words. Stores must not happen while the
// transfer is active.
func (t *Transfer) Payload() []mmio.U32 { return t.mem.Words()[:t.words] }

// ControlBlock returns the DMA control block of the transfer.
func (t *Transfer) ControlBlock() *dma.ControlBlock { return t.cb }

// ControlBlockBus returns the bus address of the control block.
func (t *Transfer) ControlBlockBus() uint32 { return t.mem.Bus() + uint32(cbOffset(t.words)) }

// SetData copies words into the payload and returns the number of words
// copied. Words exceeding the capacity are ignored.
func (t *Transfer) SetData(words []uint32) int {
	return mmio.Copy(t.Payload(), words)
}

// Close releases the GPU memory. It fails with [ErrConfigured] if the
// transfer is still bound by a ConfiguredTransfer.
func (t *Transfer) Close() error {
	if t.configured != nil {
		return ErrConfigured
	}
	return t.mem.Close()
}

// Configure binds the transfer to the peripherals and programs them to
// output n words at one word per duration d. n is capped at the transfer's
// capacity. Neither engine is started.
//
// A peripheral can be bound by one ConfiguredTransfer at a time, until it is
// closed.
func (t *Transfer) Configure(ctl *smi.Controller, dev *smi.Device, ch dma.Engine, d time.Duration, n int) (*ConfiguredTransfer, error) {
	timing := ComputeTiming(d)
	if timing.Divisor > MaxDivisor {
		return nil, errors.Wrapf(ErrDuration, "%v", d)
	}

	ct := &ConfiguredTransfer{t: t, ctl: ctl, dev: dev, ch: ch, timing: timing}
	if err := bind(ct); err != nil {
		return nil, err
	}

	n = min(max(n, 0), t.words)
	ct.n = n

	t.cb.TxfrLen.Store(uint32(n * 4))
	t.cb.DestAd.Store(ctl.DataBus())

	dev.SetWriteSettings(smi.Settings{
		Width:  smi.Width18,
		Setup:  timing.Setup,
		Strobe: timing.Strobe,
		Hold:   timing.Hold,
		Pace:   timing.Pace,
	})

	ctl.Select(dev)
	ctl.Zero()
	ctl.ZeroDirect()
	ctl.Disable()
	ctl.Clear()

	ctl.SetClockDivisor(timing.Divisor)
	ctl.SetControl(smi.Control{
		DMAEnable:           true,
		ReadPanicThreshold:  48,
		WritePanicThreshold: 16,
		ReadDREQThreshold:   32,
		WriteDREQThreshold:  32,
	})

	ctl.SetLength(uint32(n))
	ctl.SetDirection(smi.Write)
	ctl.Enable()

	ch.Enable()

	log.L().Debug("transfer configured",
		zap.Int("words", n),
		zap.Duration("duration", d),
		zap.Object("timing", timing),
		zap.Int("device", dev.Index()),
		zap.Int("channel", ch.Index()))

	return ct, nil
}

// ConfiguredTransfer is a transfer bound to an SMI controller, an SMI device
// and a DMA channel. It doesn't own any of them.
//
// ConfiguredTransfer is not safe for concurrent use.
type ConfiguredTransfer struct {
	t      *Transfer
	ctl    *smi.Controller
	dev    *smi.Device
	ch     dma.Engine
	n      int
	timing Timing
	closed bool
}

// Size returns the number of words output by each Start.
func (ct *ConfiguredTransfer) Size() int { return ct.n }

// Timing returns the programmed timing.
func (ct *ConfiguredTransfer) Timing() Timing { return ct.timing }

// SetData copies words into the payload, see [Transfer.SetData]. It must
// not be called while the transfer is active.
func (ct *ConfiguredTransfer) SetData(words []uint32) int {
	ct.check()
	return ct.t.SetData(words)
}

// WriteAt writes p into the payload at byte offset off, in the byte order of
// the ARM. It must not be called while the transfer is active.
func (ct *ConfiguredTransfer) WriteAt(p []byte, off int64) (n int, err error) {
	ct.check()
	words := ct.t.Payload()
	size := int64(len(words) * 4)
	if off < 0 {
		return 0, errors.Errorf("transfer: negative offset %d", off)
	}
	if len(p) == 0 {
		return 0, nil
	}
	if off >= size {
		return 0, io.ErrShortWrite
	}

	for n < len(p) && off < size {
		w := &words[off/4]
		shift := uint(off%4) * 8
		w.StoreBits(0xff<<shift, uint32(p[n])<<shift)
		n++
		off++
	}
	if n < len(p) {
		err = io.ErrShortWrite
	}
	return n, err
}

// Start waits for a previous transfer to finish and starts a new one. It
// returns as soon as the hardware was kicked off.
func (ct *ConfiguredTransfer) Start() {
	ct.check()

	for ct.ctl.Active() {
	}

	ct.ch.Reset()
	ct.ch.SetControlBlockAddress(ct.t.ControlBlockBus())
	ct.ch.ClearEnd()
	ct.ch.ClearError()
	ct.ch.Start()

	ct.ctl.Start()
}

// Active reports whether the hardware is still outputting the payload.
func (ct *ConfiguredTransfer) Active() bool {
	return ct.ctl.Active()
}

// Wait blocks until the transfer finished or ctx is done. The transfer
// stays configured either way.
func (ct *ConfiguredTransfer) Wait(ctx context.Context) error {
	for ct.ctl.Active() {
		select {
		case <-ctx.Done():
			log.FromContext(ctx).Debug("transfer still active", zap.Error(ctx.Err()))
			return ctx.Err()
		default:
		}
		runtime.Gosched()
	}
	return nil
}

// Close waits until the hardware finished and releases the peripherals.
// Afterwards the payload may be modified or freed. Close is idempotent.
func (ct *ConfiguredTransfer) Close() error {
	if ct.closed {
		return nil
	}

	for ct.ctl.Active() {
	}

	ct.closed = true
	unbind(ct)
	return nil
}

func (ct *ConfiguredTransfer) check() {
	debug.Assert(!ct.closed, "transfer: use of closed configuration")
}

// Peripherals currently bound by a ConfiguredTransfer.
var bound struct {
	sync.Mutex
	m map[any]*ConfiguredTransfer
}

func keys(ct *ConfiguredTransfer) [4]any {
	return [...]any{ct.t, ct.ctl, ct.dev, ct.ch}
}

func bind(ct *ConfiguredTransfer) error {
	bound.Lock()
	defer bound.Unlock()

	if bound.m == nil {
		bound.m = make(map[any]*ConfiguredTransfer)
	}
	for _, k := range keys(ct) {
		if bound.m[k] != nil {
			return ErrBusy
		}
	}
	for _, k := range keys(ct) {
		bound.m[k] = ct
	}
	ct.t.configured = ct
	return nil
}

func unbind(ct *ConfiguredTransfer) {
	bound.Lock()
	defer bound.Unlock()

	for _, k := range keys(ct) {
		delete(bound.m, k)
	}
	ct.t.configured = nil
}
