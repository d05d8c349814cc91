package serialmux

import (
	"fmt"
	"strings"

	"go.bug.st/serial"
)

// DefaultBaudRate matches the scanner firmware's Serial.begin rate.
const DefaultBaudRate = 56000

// PortOptions holds the line settings for a real scanner port. The JSON
// names follow the "serial" block of the scanner config file.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

var parityModes = map[string]serial.Parity{
	"N": serial.NoParity,
	"E": serial.EvenParity,
	"O": serial.OddParity,
}

var parityAliases = map[string]string{
	"": "N", "N": "N", "NONE": "N",
	"E": "E", "EVEN": "E",
	"O": "O", "ODD": "O",
}

// Normalize fills zero fields with the firmware defaults (8N1 at
// DefaultBaudRate) and rejects settings the port driver cannot open.
func (o PortOptions) Normalize() (PortOptions, error) {
	out := o
	switch {
	case out.BaudRate < 0:
		return out, fmt.Errorf("invalid baud rate %d", out.BaudRate)
	case out.BaudRate == 0:
		out.BaudRate = DefaultBaudRate
	}

	out.DataBits = orDefault(out.DataBits, 8)
	if out.DataBits < 5 || out.DataBits > 8 {
		return out, fmt.Errorf("invalid data bits %d: must be between 5 and 8", out.DataBits)
	}

	out.StopBits = orDefault(out.StopBits, 1)
	if out.StopBits > 2 || out.StopBits < 1 {
		return out, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", out.StopBits)
	}

	p, ok := parityAliases[strings.ToUpper(strings.TrimSpace(out.Parity))]
	if !ok {
		return out, fmt.Errorf("unsupported parity %q: expected N, E, or O", o.Parity)
	}
	out.Parity = p
	return out, nil
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

// Equal reports whether both option sets open the port the same way.
// Invalid options never compare equal.
func (o PortOptions) Equal(other PortOptions) bool {
	a, err := o.Normalize()
	if err != nil {
		return false
	}
	b, err := other.Normalize()
	return err == nil && a == b
}

// SerialMode builds the go.bug.st/serial mode for these options.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	n, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	return &serial.Mode{
		BaudRate: n.BaudRate,
		DataBits: n.DataBits,
		StopBits: serial.StopBits(n.StopBits),
		Parity:   parityModes[n.Parity],
	}, nil
}
