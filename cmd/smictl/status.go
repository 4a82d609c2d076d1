package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/clktmr/timedtransfer/periph/dma"
	"github.com/clktmr/timedtransfer/periph/gpio"
	"github.com/clktmr/timedtransfer/periph/smi"
)

func status(w io.Writer) error {
	p, err := currentPlatform()
	if err != nil {
		return err
	}
	s, err := smi.Open(p)
	if err != nil {
		return err
	}
	defer s.Close()
	d, err := dma.Open(p)
	if err != nil {
		return err
	}
	defer d.Close()

	c := s.Controller()
	fmt.Fprintf(w, "board:  %s\n", p.Name)
	fmt.Fprintf(w, "smi:    %v\n", c.Status())
	fmt.Fprintf(w, "device: %d\n", c.Selected())
	fmt.Fprintf(w, "length: %d\n", c.Length())
	fmt.Fprintf(w, "clock:  %v\n\n", c.Clock())

	tw := tabwriter.NewWriter(w, 0, 8, 1, ' ', 0)
	fmt.Fprintln(tw, "device\tdir\twidth\tsetup\tstrobe\thold\tpace")
	for i := range smi.NumDevices {
		dev := s.Device(i)
		for _, set := range []struct {
			dir smi.Direction
			s   smi.Settings
		}{
			{smi.Read, dev.ReadSettings()},
			{smi.Write, dev.WriteSettings()},
		} {
			fmt.Fprintf(tw, "%d\t%v\t%d\t%d\t%d\t%d\t%d\n",
				i, set.dir, set.s.Width.Bits(), set.s.Setup, set.s.Strobe, set.s.Hold, set.s.Pace)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\ndma enable: %#04x\n", d.Enabled())
	tw = tabwriter.NewWriter(w, 0, 8, 1, ' ', 0)
	fmt.Fprintln(tw, "channel\tstatus\tcb\tti\tsrc\tdst\tlen\tid")
	for i := range dma.NumChannels {
		ch := d.Channel(i)
		ti, src, dst, n := ch.Current()
		fmt.Fprintf(tw, "%d\t%v\t%#08x\t%#08x\t%#08x\t%#08x\t%d\t%d\n",
			i, ch.Status(), ch.ControlBlockAddress(), uint32(ti), src, dst, n, ch.DebugID())
	}
	return tw.Flush()
}

func pins(w io.Writer) error {
	p, err := currentPlatform()
	if err != nil {
		return err
	}
	g, err := gpio.Open(p)
	if err != nil {
		return err
	}
	defer g.Close()

	// SD0 to SD17 are Alt1 of GPIO 8 to 25.
	for n := 8; n < 8+18; n++ {
		mode := g.Mode(n)
		mark := ""
		if mode == gpio.Alt1 {
			mark = fmt.Sprintf("  SD%d", n-8)
		}
		fmt.Fprintf(w, "GPIO%-2d %v%s\n", n, mode, mark)
	}
	return nil
}
