package usbhid

import (
	"github.com/pkg/errors"
	"github.com/sstallion/go-hid"
)

type DeviceInfo struct {
	Path         string
	Serial       string
	Manufacturer string
	Product      string
}

type HidScanner struct {
	enumerate func(vid, pid uint16, fn hid.EnumFunc) error
}

// Scan lists every attached sensor, keyed by hidraw path.
func (scanner *HidScanner) Scan() (map[string]DeviceInfo, error) {
	enumerate := scanner.enumerate
	if enumerate == nil {
		enumerate = hid.Enumerate
	}

	devices := map[string]DeviceInfo{}
	err := enumerate(VendorID, ProductID, func(info *hid.DeviceInfo) error {
		devices[info.Path] = DeviceInfo{
			Path:         info.Path,
			Serial:       info.SerialNbr,
			Manufacturer: info.MfrStr,
			Product:      info.ProductStr,
		}
		return nil
	})
	if err != nil {
		return map[string]DeviceInfo{}, errors.Wrap(err, "failed to enumerate hid devices")
	}
	return devices, nil
}
