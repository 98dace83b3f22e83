package rplidar

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/banshee-data/snow.eliminator/internal/scan"
)

const (
	syncByte  = 0xA5
	syncByte2 = 0x5A

	cmdStop      = 0x25
	cmdReset     = 0x40
	cmdScan      = 0x20
	cmdGetInfo   = 0x50
	cmdGetHealth = 0x52
	cmdSetPWM    = 0xF0

	descriptorLen = 7

	infoLen    = 20
	infoType   = 0x04
	healthLen  = 3
	healthType = 0x06
	scanLen    = 5
	scanType   = 0x81

	// DefaultMotorPWM is the A2 recommended motor duty.
	DefaultMotorPWM = 660
	// MaxMotorPWM is the largest duty the scanner accepts.
	MaxMotorPWM = 1023
)

var (
	// ErrBadDescriptor is returned when a response descriptor is malformed
	// or does not match the request.
	ErrBadDescriptor = errors.New("rplidar: bad response descriptor")
	// ErrBadMeasurement is returned for a measurement node whose check bits
	// are inconsistent.
	ErrBadMeasurement = errors.New("rplidar: bad measurement node")
	// ErrTimeout is returned when the device stops sending mid-response.
	ErrTimeout = errors.New("rplidar: read timeout")
	// ErrUnhealthy is returned by Start when the device reports an error state.
	ErrUnhealthy = errors.New("rplidar: device health is error")
)

// encodeCommand frames a request. Requests with a payload carry a length
// byte and an XOR checksum over every preceding byte.
func encodeCommand(cmd byte, payload []byte) []byte {
	if len(payload) == 0 {
		return []byte{syncByte, cmd}
	}
	req := make([]byte, 0, 4+len(payload))
	req = append(req, syncByte, cmd, byte(len(payload)))
	req = append(req, payload...)
	var checksum byte
	for _, b := range req {
		checksum ^= b
	}
	return append(req, checksum)
}

// descriptor is a parsed response descriptor.
type descriptor struct {
	size   int
	single bool
	kind   byte
}

func parseDescriptor(raw []byte) (descriptor, error) {
	if len(raw) != descriptorLen {
		return descriptor{}, fmt.Errorf("%w: length %d", ErrBadDescriptor, len(raw))
	}
	if raw[0] != syncByte || raw[1] != syncByte2 {
		return descriptor{}, fmt.Errorf("%w: starting bytes % x", ErrBadDescriptor, raw[:2])
	}
	return descriptor{
		size:   int(raw[2]),
		single: raw[5] == 0,
		kind:   raw[6],
	}, nil
}

func (d descriptor) expect(size int, single bool, kind byte) error {
	if d.size != size || d.single != single || d.kind != kind {
		return fmt.Errorf("%w: got size=%d single=%t type=%#x, want size=%d single=%t type=%#x",
			ErrBadDescriptor, d.size, d.single, d.kind, size, single, kind)
	}
	return nil
}

// Measurement is one decoded node of the scan stream.
type Measurement struct {
	NewScan bool
	scan.Point
}

// decodeMeasurement decodes a 5-byte scan node.
func decodeMeasurement(raw []byte) (Measurement, error) {
	if len(raw) != scanLen {
		return Measurement{}, fmt.Errorf("%w: length %d", ErrBadMeasurement, len(raw))
	}
	newScan := raw[0]&0x1 == 1
	inverse := (raw[0]>>1)&0x1 == 1
	if newScan == inverse {
		return Measurement{}, fmt.Errorf("%w: new scan flags mismatch", ErrBadMeasurement)
	}
	if raw[1]&0x1 != 1 {
		return Measurement{}, fmt.Errorf("%w: check bit not equal to 1", ErrBadMeasurement)
	}
	angleQ6 := int(raw[1])>>1 | int(raw[2])<<7
	distQ2 := int(raw[3]) | int(raw[4])<<8
	return Measurement{
		NewScan: newScan,
		Point: scan.Point{
			Quality:  float64(raw[0] >> 2),
			Angle:    float64(angleQ6) / 64.0,
			Distance: float64(distQ2) / 4.0,
		},
	}, nil
}

// Info identifies the device.
type Info struct {
	Model    int    `json:"model"`
	Firmware [2]int `json:"firmware"` // major, minor
	Hardware int    `json:"hardware"`
	Serial   string `json:"serial_number"`
}

func (i Info) String() string {
	return fmt.Sprintf("model %d firmware %d.%d hardware %d serial %s",
		i.Model, i.Firmware[0], i.Firmware[1], i.Hardware, i.Serial)
}

func parseInfo(raw []byte) Info {
	return Info{
		Model:    int(raw[0]),
		Firmware: [2]int{int(raw[2]), int(raw[1])},
		Hardware: int(raw[3]),
		Serial:   hex.EncodeToString(raw[4:]),
	}
}

// HealthStatus is the device's self-reported condition.
type HealthStatus int

const (
	HealthGood HealthStatus = iota
	HealthWarning
	HealthError
)

func (s HealthStatus) String() string {
	switch s {
	case HealthGood:
		return "Good"
	case HealthWarning:
		return "Warning"
	case HealthError:
		return "Error"
	default:
		return fmt.Sprintf("HealthStatus(%d)", int(s))
	}
}

// Health is the device health report.
type Health struct {
	Status    HealthStatus `json:"status"`
	ErrorCode int          `json:"error_code"`
}

func parseHealth(raw []byte) Health {
	return Health{
		Status:    HealthStatus(raw[0]),
		ErrorCode: int(raw[1])<<8 | int(raw[2]),
	}
}
