// Package smi drives the secondary memory interface of the BCM2835.
//
// The SMI is a parallel bus of up to 18 data lines. In write mode it clocks
// words from its FIFO onto the data lines, with setup, strobe and hold phases
// timed in cycles of the SMI clock. The FIFO can be fed by the DMA engine.
//
// There are four device setting banks. The controller is bound to one of
// them with [Controller.Select].
package smi

import (
	"github.com/clktmr/timedtransfer/debug"
	"github.com/clktmr/timedtransfer/field"
	"github.com/clktmr/timedtransfer/mem"
	"github.com/clktmr/timedtransfer/mmio"
	"github.com/clktmr/timedtransfer/platform"
)

// Peripheral is the mapped SMI register block together with its clock.
type Peripheral struct {
	m, clk  *mem.Map
	ctl     Controller
	devices [NumDevices]Device
}

// Open maps the SMI and clock manager registers of platform p.
func Open(p platform.Platform) (*Peripheral, error) {
	m, err := mem.New(p.Phys+Offset, p.Bus+Offset, platform.PageSize)
	if err != nil {
		return nil, err
	}
	clk, err := mem.New(p.Phys+ClockOffset, p.Bus+ClockOffset, platform.PageSize)
	if err != nil {
		m.Unmap()
		return nil, err
	}

	s := &Peripheral{m: m, clk: clk}
	regs := mmio.Overlay[registers](m.Bytes())
	s.ctl = Controller{
		m:    m,
		regs: regs,
		clk:  mmio.Overlay[clockRegisters](clk.Offset(clockRegs).Bytes()),
	}
	for i := range s.devices {
		s.devices[i] = Device{index: i, m: m, regs: &regs.dev[i]}
	}
	return s, nil
}

func (s *Peripheral) Controller() *Controller {
	return &s.ctl
}

// Device returns the setting bank i.
func (s *Peripheral) Device(i int) *Device {
	debug.Assertf(i >= 0 && i < NumDevices, "smi: invalid device %d", i)
	return &s.devices[i]
}

// Close unmaps both register blocks.
func (s *Peripheral) Close() error {
	err := s.m.Unmap()
	if err2 := s.clk.Unmap(); err == nil {
		err = err2
	}
	return err
}

// Direction selects whether the controller drives or samples the bus.
type Direction uint8

const (
	Read Direction = iota
	Write
)

func (d Direction) String() string {
	if d == Write {
		return "write"
	}
	return "read"
}

// TransferWidth is the number of data lines used per transfer.
type TransferWidth uint32

const (
	Width8  TransferWidth = 0
	Width16 TransferWidth = 1
	Width18 TransferWidth = 2
	Width9  TransferWidth = 3
)

// Bits returns the number of data lines.
func (w TransferWidth) Bits() int {
	return [...]int{8, 16, 18, 9}[w&3]
}

// Settings holds the timing of a device bank for one direction. Setup and
// Hold are 6-bit, Strobe and Pace 7-bit, in SMI clock cycles.
type Settings struct {
	Width   TransferWidth
	Setup   uint32
	Strobe  uint32
	Hold    uint32
	Pace    uint32
	PaceAll bool
	DREQ    bool // external DREQ pacing
}

func (s *Settings) encode() (v uint32) {
	debug.Assertf(s.Setup <= dsSetup.Max(), "smi: setup %d out of range", s.Setup)
	debug.Assertf(s.Strobe <= dsStrobe.Max(), "smi: strobe %d out of range", s.Strobe)
	debug.Assertf(s.Hold <= dsHold.Max(), "smi: hold %d out of range", s.Hold)
	debug.Assertf(s.Pace <= dsPace.Max(), "smi: pace %d out of range", s.Pace)
	field.Write(&v, dsWidth, uint32(s.Width))
	field.Write(&v, dsSetup, s.Setup)
	field.Write(&v, dsStrobe, s.Strobe)
	field.Write(&v, dsHold, s.Hold)
	field.Write(&v, dsPace, s.Pace)
	field.Write(&v, dsPaceAll, field.Flag[uint32](s.PaceAll))
	field.Write(&v, dsDREQ, field.Flag[uint32](s.DREQ))
	return v
}

func decodeSettings(v uint32) Settings {
	return Settings{
		Width:   TransferWidth(dsWidth.Get(v)),
		Setup:   dsSetup.Get(v),
		Strobe:  dsStrobe.Get(v),
		Hold:    dsHold.Get(v),
		Pace:    dsPace.Get(v),
		PaceAll: dsPaceAll.IsSet(v),
		DREQ:    dsDREQ.IsSet(v),
	}
}

// Control holds the DMA control settings of the controller. Thresholds are
// FIFO levels in words.
type Control struct {
	DMAEnable           bool
	ExternalDREQ        bool // DMA passthrough
	ReadPanicThreshold  uint32
	WritePanicThreshold uint32
	ReadDREQThreshold   uint32
	WriteDREQThreshold  uint32
}

func (c *Control) encode() (v uint32) {
	field.Write(&v, dcDMAEnable, field.Flag[uint32](c.DMAEnable))
	field.Write(&v, dcDMAPassthru, field.Flag[uint32](c.ExternalDREQ))
	field.Write(&v, dcPanicRead, c.ReadPanicThreshold)
	field.Write(&v, dcPanicWrite, c.WritePanicThreshold)
	field.Write(&v, dcRequestRead, c.ReadDREQThreshold)
	field.Write(&v, dcRequestWrite, c.WriteDREQThreshold)
	return v
}

// Controller is the transfer engine of the SMI.
//
// Controller is not safe for concurrent use.
type Controller struct {
	m    *mem.Map
	regs *registers
	clk  *clockRegisters
}

func (c *Controller) r() *registers {
	debug.Assert(c.m.Mapped(), "smi: controller used after close")
	return c.regs
}

// Select binds the controller to the settings of dev.
func (c *Controller) Select(dev *Device) {
	c.r().a.StoreField(aDevice, uint32(dev.index))
}

// Selected returns the index of the bound device.
func (c *Controller) Selected() int {
	return int(c.r().a.LoadField(aDevice))
}

// SetAddress sets the address lines driven during transfers.
func (c *Controller) SetAddress(addr uint32) {
	c.r().a.StoreField(aAddr, addr)
}

// SetClockDivisor stops the SMI clock, sets its integer divisor and restarts
// it from PLLD. It blocks until the clock generator reports running.
func (c *Controller) SetClockDivisor(divi uint32) {
	debug.Assertf(divi <= clkDivI.Max(), "smi: clock divisor %d out of range", divi)
	c.r()

	var ctl, div uint32
	field.Write(&ctl, clkPasswd, clockPasswd)
	c.clk.ctl.Store(ctl)
	field.Write(&ctl, clkKill, 1)
	c.clk.ctl.Store(ctl)
	for c.clk.ctl.LoadField(clkBusy) != 0 {
	}

	field.Write(&div, clkPasswd, clockPasswd)
	field.Write(&div, clkDivI, divi)
	c.clk.div.Store(div)

	ctl = 0
	field.Write(&ctl, clkPasswd, clockPasswd)
	field.Write(&ctl, clkSource, uint32(PLLD))
	field.Write(&ctl, clkEnable, 1)
	c.clk.ctl.Store(ctl)
	for c.clk.ctl.LoadField(clkBusy) == 0 {
	}
}

// Clock returns the current state of the SMI clock generator.
func (c *Controller) Clock() ClockState {
	c.r()
	ctl, div := c.clk.ctl.Load(), c.clk.div.Load()
	return ClockState{
		Source:  ClockSource(clkSource.Get(ctl)),
		Enabled: clkEnable.IsSet(ctl),
		Busy:    clkBusy.IsSet(ctl),
		Mash:    clkMash.Get(ctl),
		Flip:    clkFlip.IsSet(ctl),
		DivI:    clkDivI.Get(div),
		DivF:    clkDivF.Get(div),
	}
}

func (c *Controller) SetDirection(d Direction) {
	if d == Write {
		c.r().cs.SetBits(WriteMode)
	} else {
		c.r().cs.ClearBits(WriteMode)
	}
}

func (c *Controller) Enable()  { c.r().cs.SetBits(Enable) }
func (c *Controller) Disable() { c.r().cs.ClearBits(Enable) }

// Clear empties the FIFOs.
func (c *Controller) Clear() { c.r().cs.SetBits(Clear) }

// Start begins a programmed transfer of the configured length.
func (c *Controller) Start() { c.r().cs.SetBits(Start) }

// Active reports whether a transfer is in progress.
func (c *Controller) Active() bool { return c.r().cs.LoadBits(Active) != 0 }

// Status returns the control and status register.
func (c *Controller) Status() CS { return c.r().cs.Load() }

// Zero resets the control and status register.
func (c *Controller) Zero() { c.r().cs.Store(0) }

// ZeroDirect resets the direct mode control register.
func (c *Controller) ZeroDirect() { c.r().dcs.Store(0) }

func (c *Controller) SetControl(ctrl Control) {
	c.r().dc.Store(ctrl.encode())
}

// SetLength sets the number of transfers of the next programmed operation.
func (c *Controller) SetLength(n uint32) { c.r().l.Store(n) }

func (c *Controller) Length() uint32 { return c.r().l.Load() }

// DataBus returns the bus address of the data FIFO register, the
// destination for DMA writes.
func (c *Controller) DataBus() uint32 { return c.m.Bus + dataReg }

// Device is one of the four setting banks.
type Device struct {
	index int
	m     *mem.Map
	regs  *deviceRegs
}

func (d *Device) Index() int { return d.index }

func (d *Device) r() *deviceRegs {
	debug.Assert(d.m.Mapped(), "smi: device used after close")
	return d.regs
}

// SetWriteSettings programs the timing used for writes.
func (d *Device) SetWriteSettings(s Settings) {
	d.r().dsw.Store(s.encode())
}

// SetReadSettings programs the timing used for reads.
func (d *Device) SetReadSettings(s Settings) {
	d.r().dsr.Store(s.encode())
}

func (d *Device) WriteSettings() Settings { return decodeSettings(d.r().dsw.Load()) }

func (d *Device) ReadSettings() Settings { return decodeSettings(d.r().dsr.Load()) }

// SetWriteFormat sets the pixel format and byte swapping of writes.
func (d *Device) SetWriteFormat(rgb565, swap bool) {
	d.r().dsw.StoreField(dswFormat, field.Flag[uint32](rgb565))
	d.r().dsw.StoreField(dswSwap, field.Flag[uint32](swap))
}

// SetReadMode sets the bus protocol and setup behaviour of reads.
func (d *Device) SetReadMode(mode68, firstSetupOnly bool) {
	d.r().dsr.StoreField(dsrMode68, field.Flag[uint32](mode68))
	d.r().dsr.StoreField(dsrFSetup, field.Flag[uint32](firstSetupOnly))
}
