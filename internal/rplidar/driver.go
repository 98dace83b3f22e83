// Package rplidar drives a Slamtec RPLidar A1/A2 range scanner over a
// serial port and exposes its measurements as scan frames.
package rplidar

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/banshee-data/snow.eliminator/internal/monitoring"
	"github.com/banshee-data/snow.eliminator/internal/scan"
)

// DefaultMinPoints is the smallest sweep the driver emits; shorter sweeps
// are partial revolutions seen while the motor spins up.
const DefaultMinPoints = 5

// ErrScanning is returned by request/response commands while a scan is active.
var ErrScanning = errors.New("rplidar: scan in progress")

// Option customises a Driver.
type Option func(*Driver)

// WithMinPoints sets the minimum number of points in an emitted frame.
func WithMinPoints(n int) Option {
	return func(d *Driver) { d.minPoints = n }
}

// WithMotorPWM sets the motor duty used by StartMotor.
func WithMotorPWM(pwm int) Option {
	return func(d *Driver) { d.motorPWM = pwm }
}

// WithLogger redirects driver logging.
func WithLogger(logf func(format string, v ...interface{})) Option {
	return func(d *Driver) { d.logf = logf }
}

// Driver talks to one scanner. It implements sensors.RangeScanner: frames
// are pulled with Next and the device is released with Disconnect. A
// Driver cannot be restarted once disconnected.
type Driver struct {
	port      Port
	minPoints int
	motorPWM  int
	logf      func(format string, v ...interface{})

	// writeMu serialises writes to the port.
	writeMu sync.Mutex

	startMu    sync.Mutex
	started    bool
	frames     chan scan.Frame
	errc       chan error
	readerDone chan struct{}

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// New returns a driver over an already opened port.
func New(port Port, opts ...Option) *Driver {
	d := &Driver{
		port:      port,
		minPoints: DefaultMinPoints,
		motorPWM:  DefaultMotorPWM,
		logf:      monitoring.Prefixed("[rplidar]"),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Driver) closed() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

func (d *Driver) isStarted() bool {
	d.startMu.Lock()
	defer d.startMu.Unlock()
	return d.started
}

func (d *Driver) send(cmd byte, payload []byte) error {
	req := encodeCommand(cmd, payload)
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	n, err := d.port.Write(req)
	if err != nil {
		return fmt.Errorf("rplidar: write command %#x: %w", cmd, err)
	}
	if n != len(req) {
		return fmt.Errorf("rplidar: short write for command %#x: %d of %d bytes", cmd, n, len(req))
	}
	return nil
}

// readFull fills buf. A read returning no data is the port's read timeout
// expiring.
func (d *Driver) readFull(buf []byte) error {
	for off := 0; off < len(buf); {
		n, err := d.port.Read(buf[off:])
		off += n
		if err != nil {
			if off == len(buf) && errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w after %d of %d bytes", ErrTimeout, off, len(buf))
		}
	}
	return nil
}

func (d *Driver) readDescriptor() (descriptor, error) {
	raw := make([]byte, descriptorLen)
	if err := d.readFull(raw); err != nil {
		return descriptor{}, fmt.Errorf("rplidar: read descriptor: %w", err)
	}
	return parseDescriptor(raw)
}

// request sends cmd and reads a single response of the expected shape.
func (d *Driver) request(cmd byte, size int, kind byte) ([]byte, error) {
	if d.closed() {
		return nil, io.EOF
	}
	if d.isStarted() {
		return nil, ErrScanning
	}
	if err := d.send(cmd, nil); err != nil {
		return nil, err
	}
	desc, err := d.readDescriptor()
	if err != nil {
		return nil, err
	}
	if err := desc.expect(size, true, kind); err != nil {
		return nil, err
	}
	raw := make([]byte, size)
	if err := d.readFull(raw); err != nil {
		return nil, fmt.Errorf("rplidar: read response: %w", err)
	}
	return raw, nil
}

// Info queries the device identity.
func (d *Driver) Info() (Info, error) {
	raw, err := d.request(cmdGetInfo, infoLen, infoType)
	if err != nil {
		return Info{}, err
	}
	return parseInfo(raw), nil
}

// Health queries the device health.
func (d *Driver) Health() (Health, error) {
	raw, err := d.request(cmdGetHealth, healthLen, healthType)
	if err != nil {
		return Health{}, err
	}
	return parseHealth(raw), nil
}

// resetDelay is how long the device ignores the port after RESET.
const resetDelay = 2 * time.Millisecond

// Reset reboots the scanner core, clearing a latched error state. It has
// no response; the boot banner the device prints is discarded.
func (d *Driver) Reset() error {
	if d.closed() {
		return io.EOF
	}
	if d.isStarted() {
		return ErrScanning
	}
	if err := d.send(cmdReset, nil); err != nil {
		return err
	}
	time.Sleep(resetDelay)
	if r, ok := d.port.(inputResetter); ok {
		if err := r.ResetInputBuffer(); err != nil {
			return fmt.Errorf("rplidar: reset: %w", err)
		}
	}
	return nil
}

func (d *Driver) setPWM(pwm int) error {
	if pwm < 0 || pwm > MaxMotorPWM {
		return fmt.Errorf("rplidar: motor pwm %d out of range 0..%d", pwm, MaxMotorPWM)
	}
	payload := make([]byte, 2)
	binary.LittleEndian.PutUint16(payload, uint16(pwm))
	return d.send(cmdSetPWM, payload)
}

// StartMotor spins up the scanner motor.
func (d *Driver) StartMotor() error {
	if err := d.port.SetDTR(false); err != nil {
		return fmt.Errorf("rplidar: start motor: %w", err)
	}
	return d.setPWM(d.motorPWM)
}

// StopMotor stops the scanner motor.
func (d *Driver) StopMotor() error {
	pwmErr := d.setPWM(0)
	if err := d.port.SetDTR(true); err != nil {
		return errors.Join(pwmErr, fmt.Errorf("rplidar: stop motor: %w", err))
	}
	return pwmErr
}

// Start checks the device health, spins up the motor and begins a
// continuous scan. Next calls Start implicitly on first use.
func (d *Driver) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.closed() {
		return io.EOF
	}
	if d.isStarted() {
		return nil
	}

	health, err := d.Health()
	if err != nil {
		return err
	}
	switch health.Status {
	case HealthError:
		return fmt.Errorf("%w (code %d)", ErrUnhealthy, health.ErrorCode)
	case HealthWarning:
		d.logf("⚠️ device health warning (code %d)", health.ErrorCode)
	}

	if err := d.StartMotor(); err != nil {
		return err
	}
	if r, ok := d.port.(inputResetter); ok {
		if err := r.ResetInputBuffer(); err != nil {
			d.logf("failed to reset input buffer: %v", err)
		}
	}
	if err := d.send(cmdScan, nil); err != nil {
		return err
	}
	desc, err := d.readDescriptor()
	if err != nil {
		return err
	}
	if err := desc.expect(scanLen, false, scanType); err != nil {
		return err
	}

	d.startMu.Lock()
	d.started = true
	d.frames = make(chan scan.Frame)
	d.errc = make(chan error, 1)
	d.readerDone = make(chan struct{})
	d.startMu.Unlock()

	go d.read()
	d.logf("scanning (motor pwm %d, min points %d)", d.motorPWM, d.minPoints)
	return nil
}

// read decodes the measurement stream and groups it into frames. A node
// flagged as the start of a new revolution closes the current frame.
func (d *Driver) read() {
	defer close(d.readerDone)

	node := make([]byte, scanLen)
	var frame scan.Frame
	for {
		if err := d.readFull(node); err != nil {
			d.fail(err)
			return
		}
		m, err := decodeMeasurement(node)
		if err != nil {
			d.fail(err)
			return
		}
		if m.NewScan {
			if len(frame) > d.minPoints {
				select {
				case d.frames <- frame:
				case <-d.done:
					return
				}
			}
			frame = nil
		}
		if m.Distance > 0 {
			frame = append(frame, m.Point)
		}
	}
}

func (d *Driver) fail(err error) {
	if d.closed() {
		return
	}
	select {
	case d.errc <- err:
	default:
	}
}

// Next returns the next complete frame. It returns ctx.Err() once ctx is
// done, the stream error on a device fault, and io.EOF after Disconnect.
func (d *Driver) Next(ctx context.Context) (scan.Frame, error) {
	if err := d.Start(ctx); err != nil {
		return nil, err
	}
	if d.closed() {
		return nil, io.EOF
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.done:
		return nil, io.EOF
	case err := <-d.errc:
		return nil, err
	case f := <-d.frames:
		return f, nil
	}
}

// Disconnect stops scanning, stops the motor and closes the port. It is
// safe to call more than once; later calls return the first result.
func (d *Driver) Disconnect() error {
	d.closeOnce.Do(func() {
		close(d.done)
		var errs []error
		if err := d.send(cmdStop, nil); err != nil {
			errs = append(errs, err)
		}
		if err := d.StopMotor(); err != nil {
			errs = append(errs, err)
		}
		if err := d.port.Close(); err != nil {
			errs = append(errs, fmt.Errorf("rplidar: close port: %w", err))
		}

		d.startMu.Lock()
		readerDone := d.readerDone
		d.startMu.Unlock()
		if readerDone != nil {
			select {
			case <-readerDone:
			case <-time.After(2 * DefaultReadTimeout):
				d.logf("reader did not exit after close")
			}
		}
		d.closeErr = errors.Join(errs...)
		d.logf("disconnected")
	})
	return d.closeErr
}
