package graph

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// SlewRate is the pin drive slew setting (grounded on BoardInfoFile.h's
// BoardInfoPin::SlewRates).
type SlewRate int

const (
	SlewSlow SlewRate = iota
	SlewFast
)

// BoardPin is one named FPGA pin's electrical characteristics.
type BoardPin struct {
	Location   string
	IOStandard string
	Slew       SlewRate
	Drive      int // mA; defaults to 12, the 7-series default when unspecified
}

// BoardClock is one named clock net's timing characteristics.
type BoardClock struct {
	SpeedMHz float64
	Duty     float64
}

// BoardInfo describes a PCB's FPGA pinout, loaded from a board.yml-style
// working-copy file (spec.md §4.3 "load each named BoardInfo file from the
// working copy").
type BoardInfo struct {
	Triplet string
	Speed   int
	Package string
	Pins    map[string]BoardPin
	Clocks  map[string]BoardClock
}

type boardYAML struct {
	Device struct {
		Triplet string `yaml:"triplet"`
		Speed   int    `yaml:"speed"`
		Package string `yaml:"package"`
	} `yaml:"device"`
	IOs map[string]struct {
		Loc   string `yaml:"loc"`
		Std   string `yaml:"std"`
		Slew  string `yaml:"slew"`
		Drive int    `yaml:"drive"`
	} `yaml:"ios"`
	Clocks map[string]struct {
		SpeedMHz float64 `yaml:"mhz"`
		Duty     float64 `yaml:"duty"`
	} `yaml:"clocks"`
}

// ParseBoardInfo decodes a board description document.
func ParseBoardInfo(data []byte) (*BoardInfo, error) {
	var doc boardYAML
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("graph: parse board info: %w", err)
	}
	bi := &BoardInfo{
		Triplet: doc.Device.Triplet,
		Speed:   doc.Device.Speed,
		Package: doc.Device.Package,
		Pins:    map[string]BoardPin{},
		Clocks:  map[string]BoardClock{},
	}
	for name, io := range doc.IOs {
		p := BoardPin{Location: io.Loc, IOStandard: io.Std, Drive: 12}
		if io.Drive != 0 {
			p.Drive = io.Drive
		}
		if io.Slew == "fast" {
			p.Slew = SlewFast
		}
		bi.Pins[name] = p
	}
	for name, c := range doc.Clocks {
		bi.Clocks[name] = BoardClock{SpeedMHz: c.SpeedMHz, Duty: c.Duty}
	}
	return bi, nil
}

func (b *BoardInfo) Pin(name string) (BoardPin, bool) {
	p, ok := b.Pins[name]
	return p, ok
}

func (b *BoardInfo) Clock(name string) (BoardClock, bool) {
	c, ok := b.Clocks[name]
	return c, ok
}

// GenerateConstraints emits a UCF or PCF constraint file for the pins named
// in a target's `pins: {name: width}` block, choosing the dialect by the
// output path's extension (spec.md §4.3 "Board constraint generation").
// Scalar pins that are also board clocks additionally get a period/duty
// constraint emitted.
func GenerateConstraints(outPath string, b *BoardInfo, pins map[string]int) (string, error) {
	switch {
	case strings.HasSuffix(outPath, ".ucf"):
		return b.generateUCF(pins)
	case strings.HasSuffix(outPath, ".pcf"):
		return b.generatePCF(pins)
	default:
		return "", fmt.Errorf("graph: unrecognized constraint file extension for %q", outPath)
	}
}

func pinNames(pin string, width int) []string {
	if width <= 1 {
		return []string{pin}
	}
	names := make([]string, width)
	for i := 0; i < width; i++ {
		names[i] = fmt.Sprintf("%s[%d]", pin, i)
	}
	return names
}

func (b *BoardInfo) generateUCF(pins map[string]int) (string, error) {
	var sb strings.Builder
	for pin, width := range pins {
		for _, name := range pinNames(pin, width) {
			p, ok := b.Pin(name)
			if !ok {
				return "", fmt.Errorf("graph: board has no pin %q", name)
			}
			fmt.Fprintf(&sb, "NET \"%s\" LOC = %s | IOSTANDARD = %s", name, p.Location, p.IOStandard)
			if p.Slew == SlewFast {
				sb.WriteString(" | SLEW = FAST")
			} else {
				sb.WriteString(" | SLEW = SLOW")
			}
			fmt.Fprintf(&sb, " | DRIVE = %d;\n", p.Drive)

			if width <= 1 {
				if c, ok := b.Clock(pin); ok {
					period := 1000.0 / c.SpeedMHz
					fmt.Fprintf(&sb, "NET \"%s\" TNM_NET = \"%s\";\n", name, name)
					fmt.Fprintf(&sb, "TIMESPEC \"TS_%s\" = PERIOD \"%s\" %.4f ns HIGH %.1f%%;\n", name, name, period, c.Duty*100)
				}
			}
		}
	}
	return sb.String(), nil
}

func (b *BoardInfo) generatePCF(pins map[string]int) (string, error) {
	var sb strings.Builder
	for pin, width := range pins {
		for _, name := range pinNames(pin, width) {
			p, ok := b.Pin(name)
			if !ok {
				return "", fmt.Errorf("graph: board has no pin %q", name)
			}
			fmt.Fprintf(&sb, "set_io %s %s\n", name, p.Location)
			if width <= 1 {
				if c, ok := b.Clock(pin); ok {
					fmt.Fprintf(&sb, "# clock %s: %.4f MHz duty %.1f%%\n", name, c.SpeedMHz, c.Duty*100)
				}
			}
		}
	}
	return sb.String(), nil
}
