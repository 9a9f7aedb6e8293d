package co2mon

import (
	"fmt"
	"time"
)

type Device interface {

	// blocks for at most timeout and returns the bytes of one report
	ReadFrame(timeout time.Duration) ([]byte, error)

	Close() error
}

type Opener interface {

	// acquires exclusive access to the sensor and puts it into streaming mode
	Open() (Device, error)
}

// OpenError means the sensor is absent or could not be claimed. The monitor backs off and retries.
type OpenError struct {
	Err error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("opening device failed: %s", e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// ReadError means a read timed out or the device went away mid-poll. The session is closed and reopened.
type ReadError struct {
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("reading from device failed: %s", e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }
