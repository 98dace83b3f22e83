// Package gpio drives the vehicle's GPIO-attached hardware: the two
// H-bridge motors, the heater and brine pump relays and the HC-SR04
// proximity sensor. Pins are addressed by BCM number through periph.io.
package gpio

import (
	"errors"
	"fmt"
	"math"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// OutputPin is the part of a periph pin used for driving outputs.
type OutputPin interface {
	Out(l gpio.Level) error
	PWM(duty gpio.Duty, f physic.Frequency) error
	Halt() error
}

// Motor is a DC motor behind an H-bridge with one pin per direction.
type Motor struct {
	forward  OutputPin
	backward OutputPin
	freq     physic.Frequency
}

// NewMotor returns a motor driven by the given pins at PWM frequency freq.
func NewMotor(forward, backward OutputPin, freq physic.Frequency) *Motor {
	return &Motor{forward: forward, backward: backward, freq: freq}
}

// drive sets pin to speed (0..1), using a plain level at the extremes.
func (m *Motor) drive(pin OutputPin, speed float64) error {
	switch {
	case speed < 0 || speed > 1 || math.IsNaN(speed):
		return fmt.Errorf("motor speed %v out of range 0..1", speed)
	case speed == 0:
		return pin.Out(gpio.Low)
	case speed == 1:
		return pin.Out(gpio.High)
	}
	duty := gpio.Duty(math.Round(speed * float64(gpio.DutyMax)))
	return pin.PWM(duty, m.freq)
}

// Forward spins the motor forward at speed.
func (m *Motor) Forward(speed float64) error {
	if err := m.backward.Out(gpio.Low); err != nil {
		return err
	}
	return m.drive(m.forward, speed)
}

// Backward spins the motor backward at speed.
func (m *Motor) Backward(speed float64) error {
	if err := m.forward.Out(gpio.Low); err != nil {
		return err
	}
	return m.drive(m.backward, speed)
}

// Stop drives both pins low. Both pins are always commanded.
func (m *Motor) Stop() error {
	return errors.Join(m.forward.Out(gpio.Low), m.backward.Out(gpio.Low))
}

// Robot is a differential drive with a left and a right motor.
type Robot struct {
	Left  *Motor
	Right *Motor
}

// Forward drives both motors forward.
func (r *Robot) Forward(speed float64) error {
	if err := r.Left.Forward(speed); err != nil {
		return fmt.Errorf("left motor: %w", err)
	}
	if err := r.Right.Forward(speed); err != nil {
		return fmt.Errorf("right motor: %w", err)
	}
	return nil
}

// TurnRight pivots in place: left forward, right backward.
func (r *Robot) TurnRight(speed float64) error {
	if err := r.Left.Forward(speed); err != nil {
		return fmt.Errorf("left motor: %w", err)
	}
	if err := r.Right.Backward(speed); err != nil {
		return fmt.Errorf("right motor: %w", err)
	}
	return nil
}

// Stop stops both motors, attempting each even if the other fails.
func (r *Robot) Stop() error {
	var errs []error
	if err := r.Left.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("left motor: %w", err))
	}
	if err := r.Right.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("right motor: %w", err))
	}
	return errors.Join(errs...)
}

// OutputDevice is an active-high digital output such as a relay.
type OutputDevice struct {
	pin OutputPin
}

// NewOutputDevice returns an output device on pin.
func NewOutputDevice(pin OutputPin) *OutputDevice {
	return &OutputDevice{pin: pin}
}

func (d *OutputDevice) On() error  { return d.pin.Out(gpio.High) }
func (d *OutputDevice) Off() error { return d.pin.Out(gpio.Low) }
