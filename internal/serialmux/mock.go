package serialmux

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

// SimulatorOptions shape the sweep produced by SimulatedScanner.
type SimulatorOptions struct {
	MotorSteps int
	ServoSteps int
	// Interval is the delay between samples while sweeping.
	Interval time.Duration
	// Room returns the simulated range for a motor and servo step. The
	// default is a rounded box around the scanner.
	Room func(motor, servo int) float64
}

func (o SimulatorOptions) withDefaults() SimulatorOptions {
	if o.MotorSteps < 2 {
		o.MotorSteps = 200
	}
	if o.ServoSteps < 1 {
		o.ServoSteps = 90
	}
	if o.Interval <= 0 {
		o.Interval = 2 * time.Millisecond
	}
	if o.Room == nil {
		m, s := o.MotorSteps, o.ServoSteps
		o.Room = func(motor, servo int) float64 {
			yaw := 2 * math.Pi * float64(motor) / float64(m)
			pitch := math.Pi / 2 * float64(servo) / float64(s)
			return math.Round(1500 + 400*math.Cos(2*yaw)*math.Cos(pitch) + 300*math.Sin(pitch))
		}
	}
	return o
}

// SimulatedScanner is a SerialPorter that behaves like the scanner firmware:
// it answers '#' commands and streams "#5 motor servo range" lines during a
// 3D sweep. It backs dev mode and integration tests.
type SimulatedScanner struct {
	opts SimulatorOptions

	pr *io.PipeReader
	pw *io.PipeWriter

	commands chan string
	done     chan struct{}
	once     sync.Once

	mu           sync.Mutex
	motor, servo int
	averaging    int
	offset       int
}

// NewSimulatedScanner starts the simulator goroutine.
func NewSimulatedScanner(opts SimulatorOptions) *SimulatedScanner {
	pr, pw := io.Pipe()
	s := &SimulatedScanner{
		opts:      opts.withDefaults(),
		pr:        pr,
		pw:        pw,
		commands:  make(chan string, 16),
		done:      make(chan struct{}),
		averaging: 10,
	}
	go s.run()
	return s
}

// NewSimulatedSerialMux returns a SerialMux over a fresh simulator.
func NewSimulatedSerialMux(opts SimulatorOptions) *SerialMux[*SimulatedScanner] {
	return NewSerialMux(NewSimulatedScanner(opts))
}

func (s *SimulatedScanner) Read(p []byte) (int, error) { return s.pr.Read(p) }

// Write queues each complete line as a firmware command.
func (s *SimulatedScanner) Write(p []byte) (int, error) {
	select {
	case <-s.done:
		return 0, io.ErrClosedPipe
	default:
	}
	for _, line := range strings.Split(string(p), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		select {
		case s.commands <- line:
		case <-s.done:
			return 0, io.ErrClosedPipe
		}
	}
	return len(p), nil
}

func (s *SimulatedScanner) Close() error {
	s.once.Do(func() {
		close(s.done)
		_ = s.pw.Close()
	})
	return nil
}

// Position reports where the simulated motor and servo are.
func (s *SimulatedScanner) Position() (motor, servo int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.motor, s.servo
}

func (s *SimulatedScanner) println(format string, v ...interface{}) bool {
	_, err := fmt.Fprintf(s.pw, format+"\r\n", v...)
	return err == nil
}

func (s *SimulatedScanner) run() {
	s.println("Scanner ready. Send #? for help.")
	for {
		select {
		case <-s.done:
			return
		case cmd := <-s.commands:
			if !s.handle(cmd) {
				return
			}
		}
	}
}

// handle runs one command; it returns false once the pipe is closed.
func (s *SimulatedScanner) handle(cmd string) bool {
	fields := strings.Fields(cmd)
	args := make([]int, 0, len(fields))
	for _, f := range fields[1:] {
		n, err := strconv.Atoi(f)
		if err != nil {
			break
		}
		args = append(args, n)
	}

	switch fields[0] {
	case "#?":
		return s.println("#1 measure, #2 radar 2D, #3 m s move, #4 calibrate, #5 radar 3D, #6 n averaging, #7/#8 velocity, #9 x offset, # stop")
	case "#1":
		m, sv := s.Position()
		return s.println("#1 %d %d %.0f", m, sv, s.rangeAt(m, sv))
	case "#2":
		return s.sweep("#2", false)
	case "#3":
		if len(args) != 2 {
			return s.println("ERR move needs motor and servo")
		}
		s.mu.Lock()
		s.motor, s.servo = args[0], args[1]
		s.mu.Unlock()
		return s.println("Moved to %d %d", args[0], args[1])
	case "#4":
		s.mu.Lock()
		s.motor = 0
		s.mu.Unlock()
		return s.println("Calibrated")
	case "#5":
		return s.sweep("#5", true)
	case "#6":
		if len(args) == 1 && args[0] > 0 {
			s.mu.Lock()
			s.averaging = args[0]
			s.mu.Unlock()
		}
		return s.println("Averaging %d", s.averaging)
	case "#7", "#8":
		return s.println("Velocity 0")
	case "#9":
		if len(args) == 1 {
			s.mu.Lock()
			s.offset = args[0]
			s.mu.Unlock()
		}
		return s.println("Offset %d", s.offset)
	case "#":
		return true
	default:
		return s.println("Unknown command %q", cmd)
	}
}

func (s *SimulatedScanner) rangeAt(motor, servo int) float64 {
	s.mu.Lock()
	offset := s.offset
	s.mu.Unlock()
	return math.Max(0, s.opts.Room(motor, servo)+float64(offset))
}

// sweep streams samples. A 3D sweep walks every servo row over the first half
// of the motor revolution, as the firmware does. A "#" command stops it early.
func (s *SimulatedScanner) sweep(prefix string, full bool) bool {
	if full {
		s.println("Radar mode 3D (M first) activated!")
	} else {
		s.println("Radar mode 2D activated!")
	}

	_, startServo := s.Position()
	firstServo, lastServo := startServo, startServo
	if full {
		firstServo, lastServo = 0, s.opts.ServoSteps
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for servo := firstServo; servo <= lastServo; servo++ {
		for motor := 0; motor < s.opts.MotorSteps/2; motor++ {
			select {
			case <-s.done:
				return false
			case cmd := <-s.commands:
				if cmd == "#" {
					return s.println("Stopped")
				}
			case <-ticker.C:
			}
			s.mu.Lock()
			s.motor, s.servo = motor, servo
			s.mu.Unlock()
			if !s.println("%s %d %d %.0f", prefix, motor, servo, s.rangeAt(motor, servo)) {
				return false
			}
		}
	}
	return s.println("Sweep done")
}

// TestableSerialPort is a SerialPorter with scripted reads and captured
// writes.
type TestableSerialPort struct {
	mu   sync.Mutex
	cond *sync.Cond

	readBuf  bytes.Buffer
	writeBuf bytes.Buffer

	// WriteError, if set, is returned by the next Write.
	WriteError error
	// ShortWrite makes Write report one byte fewer than it was given.
	ShortWrite bool

	closed     bool
	closeError error
}

// NewTestableSerialPort returns an open port with nothing to read.
func NewTestableSerialPort() *TestableSerialPort {
	t := &TestableSerialPort{}
	t.cond = sync.NewCond(&t.mu)
	return t
}

var errPortClosed = errors.New("serial port closed")

// Read blocks until data is added or the port is closed, which reads as EOF.
func (t *TestableSerialPort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for !t.closed && t.readBuf.Len() == 0 {
		t.cond.Wait()
	}
	if t.readBuf.Len() > 0 {
		return t.readBuf.Read(p)
	}
	return 0, io.EOF
}

func (t *TestableSerialPort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, errPortClosed
	}
	if err := t.WriteError; err != nil {
		t.WriteError = nil
		return 0, err
	}
	n, _ := t.writeBuf.Write(p)
	if t.ShortWrite && n > 0 {
		n--
	}
	return n, nil
}

func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.cond.Broadcast()
	return t.closeError
}

// AddReadData makes data available to Read.
func (t *TestableSerialPort) AddReadData(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readBuf.WriteString(data)
	t.cond.Broadcast()
}

// Written returns everything written so far.
func (t *TestableSerialPort) Written() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writeBuf.String()
}

// Closed reports whether Close was called.
func (t *TestableSerialPort) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
