// Command smictl inspects the SMI and DMA engines of a Raspberry Pi.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/buildkite/shellwords"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/clktmr/timedtransfer/log"
	"github.com/clktmr/timedtransfer/platform"
)

const usageString = `smictl inspects the SMI and DMA engines of a Raspberry Pi.

Usage:

	%s [flags] <command> [arguments]

The commands are:

	timing <duration>...   show the register timing of bit durations
	status                 dump SMI, clock and DMA registers
	pins                   show the function of the SMI data pins
	script <file>          run commands from file, - for stdin

Flags:
`

var (
	board   = flag.String("board", "", "board name (zero, zero2, pi1-pi4), detected if empty")
	verbose = flag.Bool("v", false, "log register mappings")
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), usageString, os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	if *verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			fatal(err)
		}
		defer l.Sync()
		log.Set(l)
	}

	if err := dispatch(os.Stdout, flag.Args()); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "smictl:", err)
	os.Exit(1)
}

var errUsage = errors.New("invalid usage")

func dispatch(w io.Writer, args []string) error {
	switch args[0] {
	case "timing":
		return timing(w, args[1:])
	case "status":
		return status(w)
	case "pins":
		return pins(w)
	case "script":
		if len(args) != 2 {
			flag.Usage()
			return errUsage
		}
		return script(w, args[1])
	default:
		fmt.Fprintf(flag.CommandLine.Output(), "unknown command: %s\n", args[0])
		flag.Usage()
		return errUsage
	}
}

func currentPlatform() (platform.Platform, error) {
	if *board == "" {
		return platform.Detect()
	}
	return platform.Lookup(*board)
}

// script runs one command per line. Empty lines and lines starting with #
// are skipped.
func script(w io.Writer, name string) error {
	var r io.Reader = os.Stdin
	if name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	return runScript(w, r)
}

func runScript(w io.Writer, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for lineno := 1; scanner.Scan(); lineno++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		args, err := shellwords.SplitPosix(line)
		if err != nil {
			return errors.Wrapf(err, "line %d", lineno)
		}
		if len(args) == 0 {
			continue
		}
		if args[0] == "script" {
			return errors.Errorf("line %d: scripts can't be nested", lineno)
		}
		log.L().Debug("script", zap.Int("line", lineno), zap.Strings("args", args))
		if err := dispatch(w, args); err != nil {
			return errors.Wrapf(err, "line %d", lineno)
		}
	}
	return scanner.Err()
}
