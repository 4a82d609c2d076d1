package smi_test

import (
	"testing"

	"github.com/clktmr/timedtransfer/mem/memtest"
	"github.com/clktmr/timedtransfer/periph/smi"
	"github.com/clktmr/timedtransfer/periph/smi/smitest"
	"github.com/clktmr/timedtransfer/platform"
)

var board = platform.RaspberryPi4

func open(t *testing.T) (*smi.Peripheral, *smitest.Regs, *memtest.Mapper) {
	t.Helper()
	mapper := memtest.Install(t)
	s, err := smi.Open(board)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s, smitest.RegsOf(mapper, board), mapper
}

func TestOpenClose(t *testing.T) {
	mapper := memtest.Install(t)
	s, err := smi.Open(board)
	if err != nil {
		t.Fatal(err)
	}
	if mapper.Live() != 2 {
		t.Fatalf("expected SMI and clock mapping, got %d mappings", mapper.Live())
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if mapper.Live() != 0 {
		t.Fatalf("expected no live mappings, got %d", mapper.Live())
	}
}

func TestWriteSettings(t *testing.T) {
	tests := map[string]struct {
		settings smi.Settings
		want     uint32
	}{
		"zero": {smi.Settings{}, 0},
		"18-bit": {
			smi.Settings{Width: smi.Width18, Setup: 63, Strobe: 127, Hold: 6},
			2<<30 | 63<<24 | 6<<16 | 127,
		},
		"8-bit paced": {
			smi.Settings{Width: smi.Width8, Setup: 1, Strobe: 2, Hold: 3, Pace: 4, PaceAll: true, DREQ: true},
			1<<24 | 3<<16 | 1<<15 | 4<<8 | 1<<7 | 2,
		},
		"9-bit": {smi.Settings{Width: smi.Width9}, 3 << 30},
	}

	s, regs, _ := open(t)
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			dev := s.Device(2)
			dev.SetWriteSettings(tc.settings)
			if got := regs.DSW[2].Load(); got != tc.want {
				t.Errorf("expected dsw %#x, got %#x", tc.want, got)
			}
			if got := dev.WriteSettings(); got != tc.settings {
				t.Errorf("read back %+v", got)
			}
			dev.SetReadSettings(tc.settings)
			if got := regs.DSR[2].Load(); got != tc.want {
				t.Errorf("expected dsr %#x, got %#x", tc.want, got)
			}
			if regs.DSW[1].Load() != 0 || regs.DSW[3].Load() != 0 {
				t.Error("settings leaked into other devices")
			}
		})
	}
}

func TestSelect(t *testing.T) {
	s, regs, _ := open(t)
	regs.A.Store(0x15)

	s.Controller().Select(s.Device(3))
	if got := regs.A.Load(); got != 3<<8|0x15 {
		t.Fatalf("unexpected address register %#x", got)
	}
	if s.Controller().Selected() != 3 {
		t.Fatalf("expected device 3, got %d", s.Controller().Selected())
	}
}

func TestControl(t *testing.T) {
	s, regs, _ := open(t)
	s.Controller().SetControl(smi.Control{
		DMAEnable:           true,
		ReadPanicThreshold:  48,
		WritePanicThreshold: 16,
		ReadDREQThreshold:   32,
		WriteDREQThreshold:  32,
	})
	if want := uint32(1<<28 | 48<<18 | 16<<12 | 32<<6 | 32); regs.DC.Load() != want {
		t.Fatalf("expected dc %#x, got %#x", want, regs.DC.Load())
	}
}

func TestControllerFlags(t *testing.T) {
	s, regs, _ := open(t)
	c := s.Controller()

	tests := map[string]struct {
		op   func()
		want smi.CS
	}{
		"Enable": {c.Enable, smi.Enable | smi.TXEmpty},
		"Clear":  {c.Clear, smi.Clear | smi.TXEmpty},
		"Start":  {c.Start, smi.Start | smi.TXEmpty},
		"Write":  {func() { c.SetDirection(smi.Write) }, smi.WriteMode | smi.TXEmpty},
		"Read":   {func() { c.SetDirection(smi.Read) }, smi.TXEmpty},
		"Zero":   {c.Zero, 0},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			regs.CS.Store(uint32(smi.TXEmpty))
			tc.op()
			if got := c.Status(); got != tc.want {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}

	regs.CS.Store(uint32(smi.Enable | smi.Active))
	if !c.Active() {
		t.Error("expected active")
	}
	c.Disable()
	if got := c.Status(); got != smi.Active {
		t.Errorf("disable: got %v", got)
	}

	regs.DCS.Store(0xffff)
	c.ZeroDirect()
	if regs.DCS.Load() != 0 {
		t.Error("direct control not zeroed")
	}

	c.SetLength(1200)
	if regs.L.Load() != 1200 || c.Length() != 1200 {
		t.Errorf("unexpected length %d", regs.L.Load())
	}
}

func TestDataBus(t *testing.T) {
	s, _, _ := open(t)
	if got := s.Controller().DataBus(); got != 0x7e60_000c {
		t.Fatalf("expected 0x7e60000c, got %#x", got)
	}
}

func TestSetClockDivisor(t *testing.T) {
	s, regs, _ := open(t)
	smitest.RunClock(t, regs)

	s.Controller().SetClockDivisor(5)

	if got := regs.ClockDiv.Load(); got != 0x5a<<24|5<<12 {
		t.Errorf("unexpected divisor register %#x", got)
	}
	clk := s.Controller().Clock()
	if clk.Source != smi.PLLD || !clk.Enabled || !clk.Busy || clk.DivI != 5 {
		t.Errorf("unexpected clock state %v", clk)
	}
	if ctl := regs.ClockCtl.Load(); ctl&0xff00_0000 != 0x5a00_0000 {
		t.Errorf("password missing in %#x", ctl)
	}

	// Reprogramming a running clock has to stop it first.
	s.Controller().SetClockDivisor(0)
	if clk := s.Controller().Clock(); clk.DivI != 0 || !clk.Busy {
		t.Errorf("unexpected clock state %v", clk)
	}
}

func TestWidth(t *testing.T) {
	tests := map[smi.TransferWidth]int{
		smi.Width8:  8,
		smi.Width9:  9,
		smi.Width16: 16,
		smi.Width18: 18,
	}
	for w, bits := range tests {
		if w.Bits() != bits {
			t.Errorf("%d: expected %d bits, got %d", w, bits, w.Bits())
		}
	}
}

func TestCSString(t *testing.T) {
	tests := map[smi.CS]string{
		0:                          "0",
		smi.Enable | smi.Active:    "enable|active",
		smi.WriteMode | smi.RXFull: "write|rxf",
	}
	for cs, want := range tests {
		if got := cs.String(); got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	}
}
