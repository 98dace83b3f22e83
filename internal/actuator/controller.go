// Package actuator drives the locomotion and process actuators.
//
// Every command is absolute: the Controller keeps no memory of earlier
// commands and each operation can be repeated or reordered freely.
package actuator

import (
	"errors"
	"fmt"
)

// Locomotion is the drive train.
type Locomotion interface {
	Forward(speed float64) error
	TurnRight(speed float64) error
	Stop() error
}

// Switch is a binary process actuator such as the heater or the brine pump.
type Switch interface {
	On() error
	Off() error
}

// Motion selects the drive behaviour.
type Motion int

const (
	MotionStop Motion = iota
	MotionForward
	MotionTurnRight
)

func (m Motion) String() string {
	switch m {
	case MotionStop:
		return "stop"
	case MotionForward:
		return "forward"
	case MotionTurnRight:
		return "turn_right"
	default:
		return fmt.Sprintf("Motion(%d)", int(m))
	}
}

// DriveCommand is a locomotion command. Speed is ignored for MotionStop.
type DriveCommand struct {
	Motion Motion
	Speed  float64 // 0..1
}

// Stop is the stop drive command.
var Stop = DriveCommand{Motion: MotionStop}

// Forward returns a forward drive command.
func Forward(speed float64) DriveCommand {
	return DriveCommand{Motion: MotionForward, Speed: speed}
}

// TurnRight returns a pivot-right drive command.
func TurnRight(speed float64) DriveCommand {
	return DriveCommand{Motion: MotionTurnRight, Speed: speed}
}

func (c DriveCommand) String() string {
	if c.Motion == MotionStop {
		return c.Motion.String()
	}
	return fmt.Sprintf("%s(%.2f)", c.Motion, c.Speed)
}

// Command is the full actuator state issued by the control loop for a cycle.
type Command struct {
	Drive   DriveCommand
	Heater  bool
	Sprayer bool
}

var (
	// ErrInvalidSpeed is returned for speeds outside [0, 1].
	ErrInvalidSpeed = errors.New("speed must be between 0 and 1")
	// ErrInterlocked is returned by ApplyWhile when actuation was withdrawn
	// part way through a command.
	ErrInterlocked = errors.New("actuation interlocked")
)

// Controller issues commands to the drive train, heater and sprayer.
type Controller struct {
	drive   Locomotion
	heater  Switch
	sprayer Switch
}

// NewController returns a Controller for the given devices.
func NewController(drive Locomotion, heater, sprayer Switch) *Controller {
	return &Controller{drive: drive, heater: heater, sprayer: sprayer}
}

// SetDrive applies a drive command.
func (c *Controller) SetDrive(cmd DriveCommand) error {
	if cmd.Motion != MotionStop && (cmd.Speed < 0 || cmd.Speed > 1) {
		return fmt.Errorf("%w: %s", ErrInvalidSpeed, cmd)
	}
	var err error
	switch cmd.Motion {
	case MotionStop:
		err = c.drive.Stop()
	case MotionForward:
		err = c.drive.Forward(cmd.Speed)
	case MotionTurnRight:
		err = c.drive.TurnRight(cmd.Speed)
	default:
		return fmt.Errorf("unknown drive motion %v", cmd.Motion)
	}
	if err != nil {
		return fmt.Errorf("drive %s: %w", cmd, err)
	}
	return nil
}

// SetHeater switches the heater.
func (c *Controller) SetHeater(on bool) error {
	if err := setSwitch(c.heater, on); err != nil {
		return fmt.Errorf("heater: %w", err)
	}
	return nil
}

// SetSprayer switches the brine sprayer.
func (c *Controller) SetSprayer(on bool) error {
	if err := setSwitch(c.sprayer, on); err != nil {
		return fmt.Errorf("sprayer: %w", err)
	}
	return nil
}

// Apply issues a full command: process actuators first, then the drive.
func (c *Controller) Apply(cmd Command) error {
	return c.ApplyWhile(cmd, nil)
}

// ApplyWhile is Apply with permit checked before each device is commanded.
// Once permit reports false nothing more is issued and ErrInterlocked is
// returned; the caller is expected to follow with StopAll. A nil permit
// always allows.
func (c *Controller) ApplyWhile(cmd Command, permit func() bool) error {
	steps := []func() error{
		func() error { return c.SetHeater(cmd.Heater) },
		func() error { return c.SetSprayer(cmd.Sprayer) },
		func() error { return c.SetDrive(cmd.Drive) },
	}
	for _, step := range steps {
		if permit != nil && !permit() {
			return ErrInterlocked
		}
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// StopAll turns the heater and sprayer off and stops the drive. Every
// device is commanded even when an earlier one fails, and all commands have
// been issued when StopAll returns. It is safe to call any number of times.
func (c *Controller) StopAll() error {
	return errors.Join(
		c.SetHeater(false),
		c.SetSprayer(false),
		c.SetDrive(Stop),
	)
}

func setSwitch(s Switch, on bool) error {
	if on {
		return s.On()
	}
	return s.Off()
}
