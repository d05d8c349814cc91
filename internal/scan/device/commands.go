// Package device builds and sends the scanner firmware's '#' commands.
package device

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/banshee-data/scanmesh/internal/scan"
)

var (
	// ErrUnknownCommand is returned for names outside the allow list.
	ErrUnknownCommand = errors.New("unknown device command")
	// ErrBadArgument is returned when an argument is missing or out of bounds.
	ErrBadArgument = errors.New("bad command argument")
)

// StopCommand interrupts a running radar sweep.
const StopCommand = "#"

// Command describes one firmware command.
type Command struct {
	Name        string   `json:"name"`
	Code        string   `json:"code"`
	Args        []string `json:"args,omitempty"`
	Description string   `json:"description"`
}

// allowedCommands is the full set of commands the firmware understands.
var allowedCommands = map[string]Command{
	"help":          {Name: "help", Code: "#?", Description: "List the commands the firmware supports"},
	"measure":       {Name: "measure", Code: "#1", Description: "Take one distance measurement at the current position"},
	"radar2d":       {Name: "radar2d", Code: "#2", Description: "Sweep the motor back and forth at the current servo angle"},
	"move":          {Name: "move", Code: "#3", Args: []string{"motor", "servo"}, Description: "Move motor and servo to a position"},
	"calibrate":     {Name: "calibrate", Code: "#4", Description: "Home the motor"},
	"radar3d":       {Name: "radar3d", Code: "#5", Description: "Sweep motor and servo to capture a full scan"},
	"averaging":     {Name: "averaging", Code: "#6", Args: []string{"count"}, Description: "Set how many readings are averaged per measurement"},
	"velocity":      {Name: "velocity", Code: "#7", Description: "Measure velocity once in 1 m/s units"},
	"velocity_fine": {Name: "velocity_fine", Code: "#8", Description: "Measure velocity once in 10 cm/s units"},
	"offset":        {Name: "offset", Code: "#9", Args: []string{"distance"}, Description: "Set the distance offset added to measurements"},
	"stop":          {Name: "stop", Code: StopCommand, Description: "Stop a running sweep"},
}

// firmware integers are read into int16 and give up above 5000
const maxFirmwareInt = 5000

// Commands lists the allow list sorted by code.
func Commands() []Command {
	out := make([]Command, 0, len(allowedCommands))
	for _, c := range allowedCommands {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Lookup returns the command registered under name.
func Lookup(name string) (Command, bool) {
	c, ok := allowedCommands[strings.ToLower(strings.TrimSpace(name))]
	return c, ok
}

// Build renders the wire form of command name with args, checking positions
// against res.
func Build(res scan.Resolution, name string, args ...int) (string, error) {
	c, ok := Lookup(name)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	if len(args) != len(c.Args) {
		return "", fmt.Errorf("%w: %s takes %d argument(s), got %d", ErrBadArgument, c.Name, len(c.Args), len(args))
	}

	switch c.Name {
	case "move":
		motor, servo := args[0], args[1]
		if motor < 0 || motor > res.MotorSteps {
			return "", fmt.Errorf("%w: motor %d outside [0,%d]", ErrBadArgument, motor, res.MotorSteps)
		}
		if servo < 0 || servo > res.ServoSteps {
			return "", fmt.Errorf("%w: servo %d outside [0,%d]", ErrBadArgument, servo, res.ServoSteps)
		}
	case "averaging":
		if args[0] < 1 || args[0] >= maxFirmwareInt {
			return "", fmt.Errorf("%w: count %d outside [1,%d)", ErrBadArgument, args[0], maxFirmwareInt)
		}
	case "offset":
		if args[0] <= -maxFirmwareInt || args[0] >= maxFirmwareInt {
			return "", fmt.Errorf("%w: offset %d outside (-%d,%d)", ErrBadArgument, args[0], maxFirmwareInt, maxFirmwareInt)
		}
	}

	parts := make([]string, 0, 1+len(args))
	parts = append(parts, c.Code)
	for _, a := range args {
		parts = append(parts, strconv.Itoa(a))
	}
	return strings.Join(parts, " "), nil
}
