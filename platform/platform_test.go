package platform

import (
	"testing"

	"github.com/pkg/errors"
)

func TestFromModel(t *testing.T) {
	tests := map[string]struct {
		model string
		phys  uint32
		err   error
	}{
		"zero":    {"Raspberry Pi Zero W Rev 1.1", 0x2000_0000, nil},
		"zero2":   {"Raspberry Pi Zero 2 W Rev 1.0", 0x3f00_0000, nil},
		"pi1":     {"Raspberry Pi Model B Plus Rev 1.2", 0x2000_0000, nil},
		"pi3":     {"Raspberry Pi 3 Model B Rev 1.2", 0x3f00_0000, nil},
		"pi4":     {"Raspberry Pi 4 Model B Rev 1.4", 0xfe00_0000, nil},
		"cm4":     {"Raspberry Pi Compute Module 4 Rev 1.0", 0xfe00_0000, nil},
		"unknown": {"Some Other Board", 0, ErrUnknownBoard},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			p, err := FromModel(tc.model)
			if errors.Cause(err) != tc.err {
				t.Fatalf("expected %v, got %v", tc.err, err)
			}
			if p.Phys != tc.phys {
				t.Fatalf("expected phys %#x, got %#x", tc.phys, p.Phys)
			}
			if err == nil && p.Bus != BusBase {
				t.Fatalf("expected bus %#x, got %#x", BusBase, p.Bus)
			}
		})
	}
}

func TestLookup(t *testing.T) {
	if p, err := Lookup("pi4"); err != nil || p != RaspberryPi4 {
		t.Fatalf("unexpected result %v, %v", p, err)
	}
	if _, err := Lookup("pi9"); errors.Cause(err) != ErrUnknownBoard {
		t.Fatalf("expected %v, got %v", ErrUnknownBoard, err)
	}
}

func TestRoundUp(t *testing.T) {
	tests := map[int]int{
		0:    0,
		1:    PageSize,
		4095: PageSize,
		4096: PageSize,
		4097: 2 * PageSize,
		8228: 3 * PageSize,
	}
	for in, expected := range tests {
		if got := RoundUp(in); got != expected {
			t.Errorf("RoundUp(%d): expected %d, got %d", in, expected, got)
		}
	}
}
