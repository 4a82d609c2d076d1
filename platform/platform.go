// Package platform lists the peripheral base addresses of the supported
// Raspberry Pi boards.
package platform

import (
	"bytes"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// PageSize is the granularity of mappings and GPU memory allocations.
const PageSize = 0x1000

// BusBase is where the peripherals appear on the VideoCore bus, which is what
// the DMA engine sees. It's the same on all boards.
const BusBase = 0x7e00_0000

// Platform describes where the peripherals are located.
type Platform struct {
	Name string
	Phys uint32 // ARM physical address of the peripherals
	Bus  uint32 // VideoCore bus address of the peripherals
}

var (
	RaspberryPiZero1 = Platform{"Raspberry Pi Zero", 0x2000_0000, BusBase}
	RaspberryPiZero2 = Platform{"Raspberry Pi Zero 2", 0x3f00_0000, BusBase}
	RaspberryPi1     = Platform{"Raspberry Pi 1", 0x2000_0000, BusBase}
	RaspberryPi2     = Platform{"Raspberry Pi 2", 0x3f00_0000, BusBase}
	RaspberryPi3     = Platform{"Raspberry Pi 3", 0x3f00_0000, BusBase}
	RaspberryPi4     = Platform{"Raspberry Pi 4", 0xfe00_0000, BusBase}
)

// Boards maps short board names, as used on command lines, to platforms.
var Boards = map[string]Platform{
	"zero":  RaspberryPiZero1,
	"zero2": RaspberryPiZero2,
	"pi1":   RaspberryPi1,
	"pi2":   RaspberryPi2,
	"pi3":   RaspberryPi3,
	"pi4":   RaspberryPi4,
}

var ErrUnknownBoard = errors.New("platform: unknown board")

// Lookup returns the platform registered under name in [Boards].
func Lookup(name string) (Platform, error) {
	p, ok := Boards[name]
	if !ok {
		return Platform{}, errors.Wrap(ErrUnknownBoard, name)
	}
	return p, nil
}

const modelPath = "/proc/device-tree/model"

// Detect returns the platform of the running board by reading its device
// tree model string.
func Detect() (Platform, error) {
	model, err := os.ReadFile(modelPath)
	if err != nil {
		return Platform{}, errors.Wrap(err, "platform: read model")
	}
	return FromModel(string(bytes.TrimRight(model, "\x00\n")))
}

// FromModel matches a device tree model string such as "Raspberry Pi 3 Model
// B Rev 1.2" against the known platforms.
func FromModel(model string) (Platform, error) {
	// Longest names first, "Raspberry Pi Zero 2" must not match "Zero".
	for _, p := range []Platform{
		RaspberryPiZero2, RaspberryPiZero1,
		RaspberryPi4, RaspberryPi3, RaspberryPi2,
	} {
		if strings.HasPrefix(model, p.Name) {
			return p, nil
		}
	}
	if strings.HasPrefix(model, "Raspberry Pi Model") || strings.HasPrefix(model, "Raspberry Pi Compute Module Rev") {
		return RaspberryPi1, nil
	}
	if strings.HasPrefix(model, "Raspberry Pi Compute Module 3") {
		return RaspberryPi3, nil
	}
	if strings.HasPrefix(model, "Raspberry Pi Compute Module 4") {
		return RaspberryPi4, nil
	}
	return Platform{}, errors.Wrapf(ErrUnknownBoard, "%q", model)
}

// RoundUp rounds n up to the next multiple of [PageSize].
func RoundUp(n int) int {
	return (n + PageSize - 1) &^ (PageSize - 1)
}
