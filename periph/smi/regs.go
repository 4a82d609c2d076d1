package smi

import (
	"github.com/clktmr/timedtransfer/field"
	"github.com/clktmr/timedtransfer/mmio"
)

const (
	Offset      = 0x0060_0000 // from the peripheral base
	ClockOffset = 0x0010_1000 // clock manager, from the peripheral base

	clockRegs = 0xb0 // SMI clock within the clock manager
	dataReg   = 0x0c

	// NumDevices is the number of device setting banks.
	NumDevices = 4
)

type deviceRegs struct {
	dsr mmio.U32
	dsw mmio.U32
}

type registers struct {
	cs  mmio.R32[CS]
	l   mmio.U32
	a   mmio.U32
	d   mmio.U32
	dev [NumDevices]deviceRegs
	dc  mmio.U32
	dcs mmio.U32
	da  mmio.U32
	dd  mmio.U32
	fd  mmio.U32
}

// CS is the content of the control and status register.
type CS uint32

const (
	Enable    CS = 1 << 0
	Done      CS = 1 << 1
	Active    CS = 1 << 2
	Start     CS = 1 << 3
	Clear     CS = 1 << 4 // clears the FIFOs
	WriteMode CS = 1 << 5

	TearEffect     CS = 1 << 8
	InterruptDone  CS = 1 << 9
	InterruptTear  CS = 1 << 10
	InterruptRX    CS = 1 << 11
	PixelValveMode CS = 1 << 12
	SettingsError  CS = 1 << 13 // settings changed while active
	PixelData      CS = 1 << 14
	ExternalDREQ   CS = 1 << 15
	PriorityReady  CS = 1 << 24
	AXIFIFOError   CS = 1 << 25
	TXWrite        CS = 1 << 26 // tx FIFO needs writing
	RXRead         CS = 1 << 27 // rx FIFO needs reading
	TXData         CS = 1 << 28 // tx FIFO can accept data
	RXData         CS = 1 << 29 // rx FIFO contains data
	TXEmpty        CS = 1 << 30
	RXFull         CS = 1 << 31
)

var csPad = field.Bits(7, 6)

// Padding returns the number of padding words to discard, used in read
// mode.
func (cs CS) Padding() uint32 { return csPad.Get(uint32(cs)) }

var csNames = []struct {
	cs   CS
	name string
}{
	{Enable, "enable"},
	{Done, "done"},
	{Active, "active"},
	{Start, "start"},
	{Clear, "clear"},
	{WriteMode, "write"},
	{TearEffect, "teen"},
	{InterruptDone, "intd"},
	{InterruptTear, "intt"},
	{InterruptRX, "intr"},
	{PixelValveMode, "pvmode"},
	{SettingsError, "seterr"},
	{PixelData, "pxldat"},
	{ExternalDREQ, "edreq"},
	{PriorityReady, "prdy"},
	{AXIFIFOError, "aferr"},
	{TXWrite, "txw"},
	{RXRead, "rxr"},
	{TXData, "txd"},
	{RXData, "rxd"},
	{TXEmpty, "txe"},
	{RXFull, "rxf"},
}

func (cs CS) String() string {
	s := ""
	for _, n := range csNames {
		if cs&n.cs != 0 {
			if s != "" {
				s += "|"
			}
			s += n.name
		}
	}
	if s == "" {
		return "0"
	}
	return s
}

// Device settings, DSR and DSW share the layout of their timing fields.
var (
	dsWidth   = field.Bits(31, 30)
	dsSetup   = field.Bits(29, 24)
	dsHold    = field.Bits(21, 16)
	dsPaceAll = field.Bit(15)
	dsPace    = field.Bits(14, 8)
	dsDREQ    = field.Bit(7)
	dsStrobe  = field.Bits(6, 0)

	dsrMode68 = field.Bit(23)
	dsrFSetup = field.Bit(22)
	dswFormat = field.Bit(23)
	dswSwap   = field.Bit(22)
)

var (
	aDevice = field.Bits(9, 8)
	aAddr   = field.Bits(5, 0)
)

var (
	dcDMAEnable    = field.Bit(28)
	dcDMAPassthru  = field.Bit(24)
	dcPanicRead    = field.Bits(23, 18)
	dcPanicWrite   = field.Bits(17, 12)
	dcRequestRead  = field.Bits(11, 6)
	dcRequestWrite = field.Bits(5, 0)
)

type clockRegisters struct {
	ctl mmio.U32
	div mmio.U32
}

const clockPasswd = 0x5a

var (
	clkPasswd = field.Bits(31, 24)
	clkMash   = field.Bits(10, 9)
	clkFlip   = field.Bit(8)
	clkBusy   = field.Bit(7)
	clkKill   = field.Bit(5)
	clkEnable = field.Bit(4)
	clkSource = field.Bits(3, 0)

	clkDivI = field.Bits(23, 12)
	clkDivF = field.Bits(11, 0)
)
