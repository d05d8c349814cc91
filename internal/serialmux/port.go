package serialmux

import "io"

// SerialPorter is the minimal port surface SerialMux needs, so tests and dev
// mode can run without hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}
