package transfer

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap/zapcore"
)

// The SMI clock is PLLD, running at 500 MHz.
const tickDuration = 2 * time.Nanosecond

const (
	// Cycles the SMI adds to every transfer, one for each of setup, strobe,
	// hold and pace.
	overhead = 4

	maxSetup  = 63
	maxStrobe = 127
	maxHold   = 63

	// Ticks distributable over the timing fields in one clock period.
	period = maxSetup + maxStrobe + maxHold

	// MaxDivisor is the largest integer divisor of the SMI clock.
	MaxDivisor = 1<<12 - 1
)

// Timing is the quantized form of a requested bit duration, in the units of
// the SMI timing registers.
type Timing struct {
	Setup   uint32
	Strobe  uint32
	Hold    uint32
	Pace    uint32
	Divisor uint32
}

// ComputeTiming splits d into the clock divisor and the write timing fields
// of an SMI device.
//
// The ticks which don't add up to a whole number of periods are assigned
// greedily to setup, strobe and hold, in that order. Pace is always zero.
func ComputeTiming(d time.Duration) Timing {
	ticks := int64(d / tickDuration)
	budget := max(ticks, overhead) - overhead

	rem := uint32(budget % period)
	t := Timing{Divisor: uint32(min(budget/period, math.MaxUint32))}
	t.Setup = min(rem, maxSetup)
	rem -= t.Setup
	t.Strobe = min(rem, maxStrobe)
	rem -= t.Strobe
	t.Hold = min(rem, maxHold)
	return t
}

// Ticks returns the number of 500 MHz clock ticks the timing was computed
// from.
func (t Timing) Ticks() int64 {
	return int64(t.Divisor)*period + int64(t.Setup+t.Strobe+t.Hold+t.Pace) + overhead
}

// Duration returns the requested duration quantized to whole ticks.
func (t Timing) Duration() time.Duration {
	return time.Duration(t.Ticks()) * tickDuration
}

func (t Timing) String() string {
	return fmt.Sprintf("divisor=%d setup=%d strobe=%d hold=%d pace=%d",
		t.Divisor, t.Setup, t.Strobe, t.Hold, t.Pace)
}

func (t Timing) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint32("divisor", t.Divisor)
	enc.AddUint32("setup", t.Setup)
	enc.AddUint32("strobe", t.Strobe)
	enc.AddUint32("hold", t.Hold)
	enc.AddUint32("pace", t.Pace)
	return nil
}
