package co2mon

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
)

const (
	TagCO2         = 0x50
	TagTemperature = 0x42

	// FrameSize is the size of a single report read from the sensor.
	FrameSize = 8
)

var ErrShortFrame = errors.New("frame shorter than 3 bytes")

type Reading struct {
	Timestamp time.Time

	// units: ppm
	CO2 int

	// units: degrees Celsius
	Temperature float64
}

// UnixSeconds returns the reading time truncated to whole seconds, or 0 if no reading was ever taken.
func (r Reading) UnixSeconds() int64 {
	if r.Timestamp.IsZero() {
		return 0
	}
	return r.Timestamp.Unix()
}

// Valid reports whether the reading came from the device, as opposed to being the zero value.
func (r Reading) Valid() bool {
	return !r.Timestamp.IsZero()
}

// DecodeFrame splits a raw report into its field tag and big-endian value.
func DecodeFrame(frame []byte) (byte, uint16, error) {
	if len(frame) < 3 {
		return 0, 0, ErrShortFrame
	}
	return frame[0], binary.BigEndian.Uint16(frame[1:3]), nil
}

func refineTemperature(raw uint16) float64 {
	return float64(raw)/16.0 - 273.15
}

// cycle collects the fields of one reading. Both fields must be seen again after every completed reading.
type cycle struct {
	co2         int
	temperature float64
	haveCO2     bool
	haveTemp    bool
}

// feed applies one frame and reports whether the cycle is now complete.
func (c *cycle) feed(frame []byte) (bool, error) {
	tag, value, err := DecodeFrame(frame)
	if err != nil {
		return false, err
	}
	switch tag {
	case TagCO2:
		c.co2 = int(value)
		c.haveCO2 = true
	case TagTemperature:
		c.temperature = refineTemperature(value)
		c.haveTemp = true
	}
	return c.haveCO2 && c.haveTemp, nil
}

func (c *cycle) reset() {
	*c = cycle{}
}
