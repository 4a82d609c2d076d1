package transfer_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/clktmr/timedtransfer/log"
	"github.com/clktmr/timedtransfer/mailbox/mailboxtest"
	"github.com/clktmr/timedtransfer/mem/memtest"
	"github.com/clktmr/timedtransfer/mmio"
	"github.com/clktmr/timedtransfer/periph/dma"
	"github.com/clktmr/timedtransfer/periph/smi"
	"github.com/clktmr/timedtransfer/periph/smi/smitest"
	"github.com/clktmr/timedtransfer/platform"
	"github.com/clktmr/timedtransfer/transfer"
)

var board = platform.RaspberryPi3

type rig struct {
	fw     *mailboxtest.Firmware
	mapper *memtest.Mapper
	smi    *smi.Peripheral
	dma    *dma.Peripheral
	regs   *smitest.Regs
}

func setup(t *testing.T) *rig {
	t.Helper()
	r := &rig{fw: mailboxtest.New(), mapper: memtest.Install(t)}

	var err error
	if r.smi, err = smi.Open(board); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.smi.Close() })
	if r.dma, err = dma.Open(board); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.dma.Close() })

	r.regs = smitest.RegsOf(r.mapper, board)
	smitest.RunClock(t, r.regs)
	return r
}

// dmaReg returns register off of DMA channel ch.
func (r *rig) dmaReg(ch int, off int64) *mmio.U32 {
	return r.mapper.Reg(int64(board.Phys+dma.Offset) + int64(ch)*0x100 + off)
}

func (r *rig) newTransfer(t *testing.T, words int) *transfer.Transfer {
	t.Helper()
	tr, err := transfer.New(r.fw, words)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

func (r *rig) configure(t *testing.T, tr *transfer.Transfer, n int) *transfer.ConfiguredTransfer {
	t.Helper()
	ct, err := tr.Configure(r.smi.Controller(), r.smi.Device(1), r.dma.Channel(5), 400*time.Nanosecond, n)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ct.Close() })
	return ct
}

func TestNew(t *testing.T) {
	r := setup(t)
	tr := r.newTransfer(t, 100)

	if tr.Size() != 100 {
		t.Fatalf("expected 100 words, got %d", tr.Size())
	}
	cb := tr.ControlBlock()
	wantTI := dma.DestDREQ | dma.SrcInc | dma.WaitResp | dma.TransferInfo(dma.PermapSMI)<<16
	if cb.TI.Load() != wantTI {
		t.Errorf("expected ti %#x, got %#x", uint32(wantTI), uint32(cb.TI.Load()))
	}
	if cb.TxfrLen.Load() != 400 {
		t.Errorf("expected length 400, got %d", cb.TxfrLen.Load())
	}
	if cb.NextConBk.Load() != 0 {
		t.Error("control block is chained")
	}
	if bus := tr.ControlBlockBus(); bus%dma.ControlBlockSize != 0 || bus-cb.SourceAd.Load() < 400 {
		t.Errorf("control block at %#x overlaps payload at %#x", bus, cb.SourceAd.Load())
	}
	if r.fw.Allocated() != 1 {
		t.Errorf("expected one allocation, got %d", r.fw.Allocated())
	}
}

func TestNewFailure(t *testing.T) {
	r := setup(t)
	r.mapper.Fail = errors.New("no /dev/mem")

	if _, err := transfer.New(r.fw, 10); err == nil {
		t.Fatal("expected error")
	}
	if r.fw.Allocated() != 0 {
		t.Fatal("memory leaked")
	}
}

func TestConfigure(t *testing.T) {
	r := setup(t)
	core, logs := observer.New(zap.DebugLevel)
	log.Set(zap.New(core))
	t.Cleanup(func() { log.Set(nil) })

	r.regs.CS.Store(uint32(smi.Active | smi.Done))
	r.regs.DCS.Store(0xffff)
	r.regs.CS.ClearBits(uint32(smi.Active))
	r.dmaReg(0, 0xff0).Store(1 << 2)

	tr := r.newTransfer(t, 1000)
	ct := r.configure(t, tr, 600)

	if ct.Size() != 600 {
		t.Errorf("expected 600 words, got %d", ct.Size())
	}
	if want := uint32(2<<30 | 63<<24 | 6<<16 | 127); r.regs.DSW[1].Load() != want {
		t.Errorf("expected write settings %#x, got %#x", want, r.regs.DSW[1].Load())
	}
	if dev := r.regs.A.Load() >> 8 & 3; dev != 1 {
		t.Errorf("expected device 1 selected, got %d", dev)
	}
	cs := smi.CS(r.regs.CS.Load())
	if cs&(smi.Enable|smi.WriteMode) != smi.Enable|smi.WriteMode || cs&(smi.Start|smi.Done) != 0 {
		t.Errorf("unexpected controller state %v", cs)
	}
	if r.regs.DCS.Load() != 0 {
		t.Error("direct mode not zeroed")
	}
	if want := uint32(1<<28 | 48<<18 | 16<<12 | 32<<6 | 32); r.regs.DC.Load() != want {
		t.Errorf("expected control %#x, got %#x", want, r.regs.DC.Load())
	}
	if r.regs.L.Load() != 600 {
		t.Errorf("expected length 600, got %d", r.regs.L.Load())
	}
	if r.regs.ClockDiv.Load() != 0x5a<<24 {
		t.Errorf("unexpected clock divisor %#x", r.regs.ClockDiv.Load())
	}
	if got := r.dmaReg(0, 0xff0).Load(); got != 1<<5|1<<2 {
		t.Errorf("unexpected dma enable register %#x", got)
	}
	if r.dmaReg(5, 0).Load()&uint32(dma.Active) != 0 {
		t.Error("dma channel started by configuration")
	}

	cb := tr.ControlBlock()
	if cb.TxfrLen.Load() != 2400 {
		t.Errorf("expected control block length 2400, got %d", cb.TxfrLen.Load())
	}
	if cb.DestAd.Load() != 0x7e60_000c {
		t.Errorf("expected destination 0x7e60000c, got %#x", cb.DestAd.Load())
	}

	entries := logs.FilterMessage("transfer configured").All()
	if len(entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(entries))
	}
	if entries[0].ContextMap()["words"] != int64(600) {
		t.Errorf("unexpected log fields %v", entries[0].ContextMap())
	}
}

func TestReconfigure(t *testing.T) {
	r := setup(t)
	tr := r.newTransfer(t, 1000)

	tests := []struct {
		n, want int
	}{
		{600, 600},
		{2000, 1000},
		{1, 1},
		{-5, 0},
		{1000, 1000},
	}
	for _, tc := range tests {
		ct := r.configure(t, tr, tc.n)
		if got := tr.ControlBlock().TxfrLen.Load(); got != uint32(tc.want*4) {
			t.Errorf("n=%d: expected control block length %d, got %d", tc.n, tc.want*4, got)
		}
		if got := r.regs.L.Load(); got != uint32(tc.want) {
			t.Errorf("n=%d: expected smi length %d, got %d", tc.n, tc.want, got)
		}
		if err := ct.Close(); err != nil {
			t.Fatal(err)
		}
	}
}

func TestConfigureDuration(t *testing.T) {
	r := setup(t)
	tr := r.newTransfer(t, 8)

	_, err := tr.Configure(r.smi.Controller(), r.smi.Device(0), r.dma.Channel(0), time.Second, 8)
	if !errors.Is(err, transfer.ErrDuration) {
		t.Fatalf("expected %v, got %v", transfer.ErrDuration, err)
	}
	// Nothing may stay bound after a failed configuration.
	r.configure(t, tr, 8)
}

func TestBusy(t *testing.T) {
	r := setup(t)
	tr1 := r.newTransfer(t, 8)
	tr2 := r.newTransfer(t, 8)
	ctl := r.smi.Controller()

	ct := r.configure(t, tr1, 8)

	tests := map[string]struct {
		tr  *transfer.Transfer
		dev *smi.Device
		ch  dma.Engine
	}{
		"transfer":   {tr1, r.smi.Device(2), r.dma.Channel(6)},
		"controller": {tr2, r.smi.Device(2), r.dma.Channel(6)},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := tc.tr.Configure(ctl, tc.dev, tc.ch, time.Microsecond, 8)
			if !errors.Is(err, transfer.ErrBusy) {
				t.Fatalf("expected %v, got %v", transfer.ErrBusy, err)
			}
		})
	}

	if err := ct.Close(); err != nil {
		t.Fatal(err)
	}
	ct2, err := tr2.Configure(ctl, r.smi.Device(1), r.dma.Channel(5), time.Microsecond, 8)
	if err != nil {
		t.Fatalf("peripherals not released: %v", err)
	}
	ct2.Close()
}

func TestStart(t *testing.T) {
	r := setup(t)
	tr := r.newTransfer(t, 64)
	ct := r.configure(t, tr, 64)

	r.dmaReg(5, 0).Store(uint32(dma.End | dma.Error))
	ct.Start()

	if got := r.dmaReg(5, 4).Load(); got != tr.ControlBlockBus() {
		t.Errorf("expected control block address %#x, got %#x", tr.ControlBlockBus(), got)
	}
	want := dma.Reset | dma.End | dma.Error | dma.Active
	if got := dma.Status(r.dmaReg(5, 0).Load()); got != want {
		t.Errorf("expected dma status %v, got %v", want, got)
	}
	if smi.CS(r.regs.CS.Load())&smi.Start == 0 {
		t.Error("smi not started")
	}
}

func TestStartBlocksWhileActive(t *testing.T) {
	r := setup(t)
	tr := r.newTransfer(t, 64)
	ct := r.configure(t, tr, 64)

	r.regs.CS.SetBits(uint32(smi.Active))
	done := make(chan struct{})
	go func() {
		ct.Start()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Start returned while active")
	case <-time.After(20 * time.Millisecond):
	}
	if r.dmaReg(5, 0).Load()&uint32(dma.Active) != 0 || smi.CS(r.regs.CS.Load())&smi.Start != 0 {
		t.Fatal("hardware kicked off during active transfer")
	}

	r.regs.CS.ClearBits(uint32(smi.Active))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Start didn't proceed after transfer finished")
	}
	if smi.CS(r.regs.CS.Load())&smi.Start == 0 {
		t.Fatal("smi not started")
	}
}

func TestCloseBlocksWhileActive(t *testing.T) {
	r := setup(t)
	tr := r.newTransfer(t, 64)
	ct := r.configure(t, tr, 64)

	r.regs.CS.SetBits(uint32(smi.Active))
	done := make(chan error)
	go func() { done <- ct.Close() }()

	select {
	case <-done:
		t.Fatal("Close returned while active")
	case <-time.After(20 * time.Millisecond):
	}
	if err := tr.Close(); !errors.Is(err, transfer.ErrConfigured) {
		t.Fatalf("expected %v, got %v", transfer.ErrConfigured, err)
	}

	r.regs.CS.ClearBits(uint32(smi.Active))
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close didn't proceed after transfer finished")
	}

	if err := ct.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}
	if r.fw.Allocated() != 0 {
		t.Fatal("memory not released")
	}
}

func TestWait(t *testing.T) {
	r := setup(t)
	tr := r.newTransfer(t, 64)
	ct := r.configure(t, tr, 64)

	r.regs.CS.SetBits(uint32(smi.Active))
	if !ct.Active() {
		t.Fatal("expected active")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := ct.Wait(ctx); err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		r.regs.CS.ClearBits(uint32(smi.Active))
	}()
	if err := ct.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestSetData(t *testing.T) {
	r := setup(t)
	tr := r.newTransfer(t, 4)
	ct := r.configure(t, tr, 4)
	ti := tr.ControlBlock().TI.Load()

	if n := ct.SetData([]uint32{1, 2, 3, 4, 5, 6}); n != 4 {
		t.Fatalf("expected 4 words copied, got %d", n)
	}
	if n := ct.SetData([]uint32{9}); n != 1 {
		t.Fatalf("expected 1 word copied, got %d", n)
	}
	want := []uint32{9, 2, 3, 4}
	for i, w := range tr.Payload() {
		if w.Load() != want[i] {
			t.Errorf("word %d: expected %d, got %d", i, want[i], w.Load())
		}
	}
	if tr.ControlBlock().TI.Load() != ti {
		t.Fatal("payload overflowed into control block")
	}
}

func TestWriteAt(t *testing.T) {
	r := setup(t)
	tr := r.newTransfer(t, 2)
	ct := r.configure(t, tr, 2)
	payload := tr.Payload()

	n, err := ct.WriteAt([]byte{1, 2, 3, 4, 5}, 2)
	if n != 5 || err != nil {
		t.Fatalf("expected 5 bytes written, got %d, %v", n, err)
	}
	if payload[0].Load() != 0x0201_0000 || payload[1].Load() != 0x0005_0403 {
		t.Fatalf("unexpected payload %#x %#x", payload[0].Load(), payload[1].Load())
	}

	n, err = ct.WriteAt([]byte{0xaa, 0xbb, 0xcc}, 6)
	if n != 2 || err != io.ErrShortWrite {
		t.Fatalf("expected short write of 2 bytes, got %d, %v", n, err)
	}
	if payload[1].Load() != 0xbbaa_0403 {
		t.Fatalf("unexpected payload %#x", payload[1].Load())
	}

	if n, err := ct.WriteAt([]byte{1}, 8); n != 0 || err != io.ErrShortWrite {
		t.Fatalf("expected short write past the end, got %d, %v", n, err)
	}
	if _, err := ct.WriteAt([]byte{1}, -1); err == nil {
		t.Fatal("expected error for negative offset")
	}
}
