package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"

	"github.com/clktmr/timedtransfer/transfer"
)

func timing(w io.Writer, args []string) error {
	if len(args) == 0 {
		return errors.New("timing: no duration given")
	}

	tw := tabwriter.NewWriter(w, 0, 8, 1, ' ', 0)
	fmt.Fprintln(tw, "requested\tactual\tdivisor\tsetup\tstrobe\thold\tpace")
	for _, arg := range args {
		d, err := time.ParseDuration(arg)
		if err != nil {
			return errors.Wrap(err, "timing")
		}
		t := transfer.ComputeTiming(d)
		if t.Divisor > transfer.MaxDivisor {
			return errors.Wrapf(transfer.ErrDuration, "timing: %v", d)
		}
		fmt.Fprintf(tw, "%v\t%v\t%d\t%d\t%d\t%d\t%d\n",
			d, t.Duration(), t.Divisor, t.Setup, t.Strobe, t.Hold, t.Pace)
	}
	return tw.Flush()
}
