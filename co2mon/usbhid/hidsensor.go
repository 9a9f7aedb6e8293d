package usbhid

import (
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/sstallion/go-hid"

	"github.com/alepar/co2watcher/co2mon"
)

const (
	VendorID  = 0x04d9
	ProductID = 0xa052
)

// the sensor only starts streaming after this feature report
var streamingModeReport = []byte{0x00, 0x00}

type hidDevice interface {
	ReadWithTimeout(p []byte, timeout time.Duration) (int, error)
	SendFeatureReport(p []byte) (int, error)
	Close() error
}

// HidOpener opens the first matching sensor, or a specific one when Serial or Path is set.
type HidOpener struct {
	Serial string
	Path   string

	open func() (hidDevice, error)
}

func (opener *HidOpener) Open() (co2mon.Device, error) {
	dev, err := opener.openRaw()
	if err != nil {
		return nil, errors.Wrapf(err, "couldn't open hid device %04x:%04x", VendorID, ProductID)
	}

	log.Debugf("enabling streaming mode")
	if _, err := dev.SendFeatureReport(streamingModeReport); err != nil {
		_ = dev.Close()
		return nil, errors.Wrap(err, "couldn't send feature report")
	}

	return &HidSensor{dev: dev}, nil
}

func (opener *HidOpener) openRaw() (hidDevice, error) {
	if opener.open != nil {
		return opener.open()
	}
	switch {
	case opener.Path != "":
		return hid.OpenPath(opener.Path)
	case opener.Serial != "":
		return hid.Open(VendorID, ProductID, opener.Serial)
	default:
		return hid.OpenFirst(VendorID, ProductID)
	}
}

type HidSensor struct {
	dev hidDevice
}

func (sensor *HidSensor) ReadFrame(timeout time.Duration) ([]byte, error) {
	buf := make([]byte, co2mon.FrameSize)
	n, err := sensor.dev.ReadWithTimeout(buf, timeout)
	if err != nil {
		if errors.Is(err, hid.ErrTimeout) {
			return nil, errors.Wrapf(err, "no report within %s", timeout)
		}
		return nil, errors.Wrap(err, "failed to read report, check that the device is plugged in")
	}
	if n == 0 {
		return nil, errors.Errorf("no report within %s", timeout)
	}
	return buf[:n], nil
}

func (sensor *HidSensor) Close() error {
	return sensor.dev.Close()
}

// Init must be called once before any device is opened.
func Init() error {
	return hid.Init()
}

func Exit() error {
	return hid.Exit()
}
