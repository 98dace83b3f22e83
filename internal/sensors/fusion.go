// Package sensors acquires the inputs of each control cycle: the proximity
// sensor's in-range flag and the next range scanner frame.
package sensors

import (
	"context"

	"github.com/banshee-data/snow.eliminator/internal/scan"
)

// ProximitySensor guards the hard safety perimeter.
type ProximitySensor interface {
	// InRange reports whether an object is closer than the sensor's
	// configured threshold distance.
	InRange() bool
}

// RangeScanner yields scan frames lazily. The sequence cannot be restarted
// without reconnecting the device.
type RangeScanner interface {
	// Next blocks until the next frame is available. It returns io.EOF at
	// the end of the stream and ctx.Err() once ctx is done.
	Next(ctx context.Context) (scan.Frame, error)
	// Disconnect stops the device and releases it.
	Disconnect() error
}

// Fusion pairs the two sensors. It holds no logic beyond acquisition.
type Fusion struct {
	proximity ProximitySensor
	scanner   RangeScanner
}

// NewFusion returns a Fusion over the given sensors.
func NewFusion(proximity ProximitySensor, scanner RangeScanner) *Fusion {
	return &Fusion{proximity: proximity, scanner: scanner}
}

// Acquire pulls the next frame from the scanner. This is the point where
// operator cancellation is observed.
func (f *Fusion) Acquire(ctx context.Context) (scan.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.scanner.Next(ctx)
}

// ProximityBreached reads the proximity sensor.
func (f *Fusion) ProximityBreached() bool {
	return f.proximity.InRange()
}

// Release disconnects the scanner.
func (f *Fusion) Release() error {
	return f.scanner.Disconnect()
}
