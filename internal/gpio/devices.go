package gpio

import (
	"errors"
	"fmt"
	"strconv"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/banshee-data/snow.eliminator/internal/config"
	"github.com/banshee-data/snow.eliminator/internal/timeutil"
)

// Devices is the vehicle's GPIO hardware.
type Devices struct {
	Robot     *Robot
	Heater    *OutputDevice
	Sprayer   *OutputDevice
	Proximity *DistanceSensor

	pins []gpio.PinIO
}

// PinLookup resolves a BCM pin number to a pin.
type PinLookup func(bcm int) (gpio.PinIO, error)

// HostPins initialises the periph host drivers and returns a lookup over
// the host's GPIO registry.
func HostPins() (PinLookup, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialise GPIO host drivers: %w", err)
	}
	return func(bcm int) (gpio.PinIO, error) {
		p := gpioreg.ByName(strconv.Itoa(bcm))
		if p == nil {
			return nil, fmt.Errorf("GPIO%d not found", bcm)
		}
		return p, nil
	}, nil
}

// Open claims every pin named by the configuration. On error any pin
// already claimed is halted.
func Open(cfg *config.Config, lookup PinLookup, clock timeutil.Clock) (*Devices, error) {
	d := &Devices{}
	pin := func(name string) (gpio.PinIO, error) {
		p, err := lookup(cfg.Pin(name))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		d.pins = append(d.pins, p)
		return p, nil
	}

	var names = []string{
		"left_forward_pin", "left_backward_pin",
		"right_forward_pin", "right_backward_pin",
		"heater_pin", "sprayer_pin",
		"echo_pin", "trigger_pin",
	}
	pins := make(map[string]gpio.PinIO, len(names))
	for _, name := range names {
		p, err := pin(name)
		if err != nil {
			return nil, errors.Join(err, d.Close())
		}
		pins[name] = p
	}

	freq := physic.Frequency(cfg.GetPWMFrequencyHz()) * physic.Hertz
	d.Robot = &Robot{
		Left:  NewMotor(pins["left_forward_pin"], pins["left_backward_pin"], freq),
		Right: NewMotor(pins["right_forward_pin"], pins["right_backward_pin"], freq),
	}
	d.Heater = NewOutputDevice(pins["heater_pin"])
	d.Sprayer = NewOutputDevice(pins["sprayer_pin"])

	prox, err := NewDistanceSensor(pins["echo_pin"], pins["trigger_pin"],
		cfg.GetProximityThresholdM(), cfg.GetProximityMaxDistanceM(), clock)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("proximity sensor: %w", err), d.Close())
	}
	d.Proximity = prox
	return d, nil
}

// Close halts every claimed pin.
func (d *Devices) Close() error {
	var errs []error
	for _, p := range d.pins {
		if err := p.Halt(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
		}
	}
	d.pins = nil
	return errors.Join(errs...)
}
