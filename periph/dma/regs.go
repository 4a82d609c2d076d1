package dma

import (
	"github.com/clktmr/timedtransfer/field"
	"github.com/clktmr/timedtransfer/mmio"
)

const (
	Offset       = 0x0000_7000 // from the peripheral base
	enableOffset = 0xff0
	stride       = 0x100

	// NumChannels is the number of channels in the main DMA block. Channel
	// 15 lives elsewhere and isn't supported.
	NumChannels = 15
)

type channelRegs struct {
	cs        mmio.R32[Status]
	conblkAd  mmio.U32
	ti        mmio.R32[TransferInfo]
	sourceAd  mmio.U32
	destAd    mmio.U32
	txfrLen   mmio.U32
	stride    mmio.U32
	nextConbk mmio.U32
	debug     mmio.U32
}

// Status is the content of a channel's control and status register.
type Status uint32

const (
	Active                      Status = 1 << 0 // enables the DMA, cleared at the end of the last control block
	End                         Status = 1 << 1 // transfer complete, write 1 to clear
	Interrupt                   Status = 1 << 2 // interrupt status, write 1 to clear
	DREQ                        Status = 1 << 3 // state of the selected DREQ signal
	Paused                      Status = 1 << 4
	DREQStopsDMA                Status = 1 << 5
	WaitingForOutstandingWrites Status = 1 << 6
	Error                       Status = 1 << 8
	WaitForOutstandingWrites    Status = 1 << 28
	DisableDebug                Status = 1 << 29
	Abort                       Status = 1 << 30
	Reset                       Status = 1 << 31
)

var (
	csPanicPriority = field.Bits(23, 20)
	csPriority      = field.Bits(19, 16)
)

var statusNames = []struct {
	s    Status
	name string
}{
	{Active, "active"},
	{End, "end"},
	{Interrupt, "int"},
	{DREQ, "dreq"},
	{Paused, "paused"},
	{DREQStopsDMA, "dreq_stops_dma"},
	{WaitingForOutstandingWrites, "waiting_for_outstanding_writes"},
	{Error, "error"},
	{WaitForOutstandingWrites, "wait_for_outstanding_writes"},
	{DisableDebug, "disdebug"},
	{Abort, "abort"},
	{Reset, "reset"},
}

func (s Status) String() string {
	str := ""
	for _, n := range statusNames {
		if s&n.s != 0 {
			if str != "" {
				str += "|"
			}
			str += n.name
		}
	}
	if str == "" {
		return "idle"
	}
	return str
}

// Priority returns the AXI priority level of the channel.
func (s Status) Priority() uint32 { return csPriority.Get(uint32(s)) }

// PanicPriority returns the AXI panic priority level of the channel.
func (s Status) PanicPriority() uint32 { return csPanicPriority.Get(uint32(s)) }

// TransferInfo holds the transfer information flags of a control block.
type TransferInfo uint32

const (
	IntEnable    TransferInfo = 1 << 0
	TDMode       TransferInfo = 1 << 1 // 2D mode
	WaitResp     TransferInfo = 1 << 3 // wait for a write response
	DestInc      TransferInfo = 1 << 4
	DestWidth    TransferInfo = 1 << 5 // 128-bit destination writes
	DestDREQ     TransferInfo = 1 << 6 // destination writes gated by the peripheral's DREQ
	DestIgnore   TransferInfo = 1 << 7
	SrcInc       TransferInfo = 1 << 8
	SrcWidth     TransferInfo = 1 << 9 // 128-bit source reads
	SrcDREQ      TransferInfo = 1 << 10
	SrcIgnore    TransferInfo = 1 << 11
	NoWideBursts TransferInfo = 1 << 26
)

var (
	tiWaits       = field.Bits(25, 21)
	tiPermap      = field.Bits(20, 16)
	tiBurstLength = field.Bits(15, 12)
)

// Permap selects the peripheral whose DREQ paces the transfer.
type Permap uint32

const (
	PermapNone Permap = iota
	PermapDSI1
	PermapPCMTX
	PermapPCMRX
	PermapSMI
	PermapPWM
	PermapSPITX
	PermapSPIRX
	PermapBSCSPISlaveTX
	PermapBSCSPISlaveRX
	_
	PermapEMMC
	PermapUARTTX
	PermapSDHost
	PermapUARTRX
	PermapDSI2
	PermapSlimbusMCTX
	PermapHDMI
	PermapSlimbusMCRX
	PermapSlimbusDC0
	PermapSlimbusDC1
	PermapSlimbusDC2
	PermapSlimbusDC3
	PermapSlimbusDC4
	PermapScalerFIFO0AndSMI
	PermapScalerFIFO1AndSMI
	PermapScalerFIFO2AndSMI
	PermapSlimbusDC5
	PermapSlimbusDC6
	PermapSlimbusDC7
	PermapSlimbusDC8
	PermapSlimbusDC9
)

// WithPermap returns ti with the peripheral mapping set to p.
func (ti TransferInfo) WithPermap(p Permap) TransferInfo {
	return TransferInfo(tiPermap.Set(uint32(ti), uint32(p)))
}

func (ti TransferInfo) Permap() Permap {
	return Permap(tiPermap.Get(uint32(ti)))
}

// WithBurstLength returns ti requesting bursts of n+1 words.
func (ti TransferInfo) WithBurstLength(n uint32) TransferInfo {
	return TransferInfo(tiBurstLength.Set(uint32(ti), n))
}

func (ti TransferInfo) BurstLength() uint32 {
	return tiBurstLength.Get(uint32(ti))
}

// WithWaits returns ti with n dummy cycles added after each read or write.
func (ti TransferInfo) WithWaits(n uint32) TransferInfo {
	return TransferInfo(tiWaits.Set(uint32(ti), n))
}

func (ti TransferInfo) Waits() uint32 {
	return tiWaits.Get(uint32(ti))
}
