// Package smitest emulates the parts of the SMI hardware that drivers wait
// for, on top of memtest register memory.
package smitest

import (
	"runtime"
	"testing"

	"github.com/clktmr/timedtransfer/mem/memtest"
	"github.com/clktmr/timedtransfer/mmio"
	"github.com/clktmr/timedtransfer/periph/smi"
	"github.com/clktmr/timedtransfer/platform"
)

const (
	clkBusy   = 1 << 7
	clkKill   = 1 << 5
	clkEnable = 1 << 4
)

// Regs gives tests access to the SMI registers of a platform.
type Regs struct {
	CS, L, A, D, DC, DCS *mmio.U32
	DSR, DSW             [smi.NumDevices]*mmio.U32
	ClockCtl, ClockDiv   *mmio.U32
}

// RegsOf returns the registers of p. The peripheral must have been opened
// through mapper before.
func RegsOf(mapper *memtest.Mapper, p platform.Platform) *Regs {
	base := int64(p.Phys + smi.Offset)
	clk := int64(p.Phys+smi.ClockOffset) + 0xb0
	r := &Regs{
		CS:       mapper.Reg(base + 0x00),
		L:        mapper.Reg(base + 0x04),
		A:        mapper.Reg(base + 0x08),
		D:        mapper.Reg(base + 0x0c),
		DC:       mapper.Reg(base + 0x30),
		DCS:      mapper.Reg(base + 0x34),
		ClockCtl: mapper.Reg(clk),
		ClockDiv: mapper.Reg(clk + 4),
	}
	for i := range smi.NumDevices {
		r.DSR[i] = mapper.Reg(base + 0x10 + int64(i)*8)
		r.DSW[i] = mapper.Reg(base + 0x14 + int64(i)*8)
	}
	return r
}

// RunClock emulates the busy flag of the clock generator until the test
// ends. The flag follows the enable flag, and is cleared by kill.
func RunClock(tb testing.TB, r *Regs) {
	done := make(chan struct{})
	stopped := make(chan struct{})
	tb.Cleanup(func() {
		close(done)
		<-stopped
	})

	go func() {
		defer close(stopped)
		for {
			select {
			case <-done:
				return
			default:
			}
			ctl := r.ClockCtl.Load()
			busy := ctl&clkEnable != 0 && ctl&clkKill == 0
			if busy != (ctl&clkBusy != 0) {
				if busy {
					r.ClockCtl.Store(ctl | clkBusy)
				} else {
					r.ClockCtl.Store(ctl &^ clkBusy)
				}
			}
			runtime.Gosched()
		}
	}()
}
