package device

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/banshee-data/scanmesh/internal/monitoring"
	"github.com/banshee-data/scanmesh/internal/scan"
)

var logf = monitoring.Component("Device")

// ErrInvalidRaw is returned for raw console input that cannot be sent as one line.
var ErrInvalidRaw = errors.New("invalid raw command")

// maxRawLength bounds raw console input; the firmware reads into a short buffer.
const maxRawLength = 64

// Sender writes one command line to the scanner. serialmux.SerialMuxInterface
// satisfies it.
type Sender interface {
	SendCommand(string) error
}

// Controller sends allow-listed commands to the scanner and remembers the last
// one written.
type Controller struct {
	sender Sender
	res    scan.Resolution

	mu       sync.Mutex
	last     string
	sweeping bool
}

// Status is a snapshot of what the controller last asked the device to do.
type Status struct {
	LastCommand string `json:"last_command"`
	Sweeping    bool   `json:"sweeping"`
}

// NewController validates move targets against res.
func NewController(sender Sender, res scan.Resolution) *Controller {
	return &Controller{sender: sender, res: res}
}

// Send builds command name with args and writes it. It returns the wire form.
func (c *Controller) Send(name string, args ...int) (string, error) {
	line, err := Build(c.res, name, args...)
	if err != nil {
		return "", err
	}
	if err := c.write(line); err != nil {
		return line, err
	}
	return line, nil
}

// Raw writes line verbatim. Only a single, non-empty line is accepted.
func (c *Controller) Raw(line string) error {
	line = strings.TrimRight(line, "\r\n")
	switch {
	case strings.TrimSpace(line) == "":
		return fmt.Errorf("%w: empty", ErrInvalidRaw)
	case strings.ContainsAny(line, "\r\n"):
		return fmt.Errorf("%w: more than one line", ErrInvalidRaw)
	case len(line) > maxRawLength:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidRaw, maxRawLength)
	}
	return c.write(line)
}

func (c *Controller) write(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.sender.SendCommand(line); err != nil {
		logf("failed to send %q: %v", line, err)
		return fmt.Errorf("send %q: %w", line, err)
	}
	c.last = line
	switch strings.TrimSpace(line) {
	case "#2", "#5":
		c.sweeping = true
	case StopCommand:
		c.sweeping = false
	}
	logf("sent %q", line)
	return nil
}

// StartScan begins a full 3D sweep.
func (c *Controller) StartScan() error {
	_, err := c.Send("radar3d")
	return err
}

// Stop interrupts a running sweep.
func (c *Controller) Stop() error {
	_, err := c.Send("stop")
	return err
}

// MoveTo positions the motor and servo.
func (c *Controller) MoveTo(motor, servo int) error {
	_, err := c.Send("move", motor, servo)
	return err
}

// Status returns the last command sent.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{LastCommand: c.last, Sweeping: c.sweeping}
}
