package service

import (
	"errors"
	"time"

	"ampos-license-server/internal/domain"
)

var ErrDeviceLimitReached = errors.New("device limit reached")

// DeviceLedger tracks the devices bound to one license. It operates on the
// ledger embedded in a loaded License; the caller persists the license.
type DeviceLedger struct {
	license *domain.License
}

func NewDeviceLedger(license *domain.License) *DeviceLedger {
	return &DeviceLedger{license: license}
}

func (d *DeviceLedger) IsRegistered(deviceID string) bool {
	return d.indexOf(deviceID) >= 0
}

func (d *DeviceLedger) CountDevices() int {
	return len(d.license.Devices)
}

// Register adds a new device unless the license is at its cap. Devices that
// are already registered are touched instead and never rejected, so lowering
// max_devices only blocks new registrations.
func (d *DeviceLedger) Register(deviceID, hostname string, now time.Time) error {
	if d.Touch(deviceID, hostname, now) {
		return nil
	}

	if !d.license.Unlimited() && d.CountDevices() >= d.license.MaxDevices {
		return ErrDeviceLimitReached
	}

	d.license.Devices = append(d.license.Devices, domain.Device{
		LicenseID: d.license.ID,
		DeviceID:  deviceID,
		Hostname:  hostname,
		FirstSeen: now,
		LastSeen:  now,
	})
	d.license.CurrentDevices = d.CountDevices()

	return nil
}

// Touch refreshes last_seen and hostname of a registered device. It reports
// false when the device is unknown.
func (d *DeviceLedger) Touch(deviceID, hostname string, now time.Time) bool {
	i := d.indexOf(deviceID)
	if i < 0 {
		return false
	}

	d.license.Devices[i].LastSeen = now
	if hostname != "" {
		d.license.Devices[i].Hostname = hostname
	}

	return true
}

func (d *DeviceLedger) indexOf(deviceID string) int {
	for i := range d.license.Devices {
		if d.license.Devices[i].DeviceID == deviceID {
			return i
		}
	}
	return -1
}
