package devices

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"

	"go2tv.app/castkit/castprotocol"
)

var (
	ErrNoDeviceAvailable  = errors.New("Browse: No available cast receivers")
	ErrDeviceNotAvailable = errors.New("devicePicker: Requested device not available")
)

// DevicePicker will pick the nth (1-based) device from devices.
func DevicePicker(devices []castprotocol.DeviceDescriptor, n int) (castprotocol.DeviceDescriptor, error) {
	if n > len(devices) || len(devices) == 0 || n <= 0 {
		return castprotocol.DeviceDescriptor{}, ErrDeviceNotAvailable
	}
	return devices[n-1], nil
}

// FindByName returns the device whose friendly name or id equals name,
// ignoring case.
func FindByName(devices []castprotocol.DeviceDescriptor, name string) (castprotocol.DeviceDescriptor, error) {
	for _, d := range devices {
		if strings.EqualFold(d.Name, name) || (d.ID != "" && strings.EqualFold(d.ID, name)) {
			return d, nil
		}
	}
	return castprotocol.DeviceDescriptor{}, errors.Wrapf(ErrDeviceNotAvailable, "no device named %q", name)
}

// Resolve turns a target into a device. IP addresses and host:port pairs
// are used as is; anything else is first looked up by name among the
// receivers discovered within timeout, then treated as a host name.
func Resolve(ctx context.Context, target string, timeout time.Duration) (castprotocol.DeviceDescriptor, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return castprotocol.DeviceDescriptor{}, ErrDeviceNotAvailable
	}

	if looksLikeAddress(target) {
		d, err := castprotocol.ParseDeviceAddr(target)
		if err != nil {
			return castprotocol.DeviceDescriptor{}, errors.Wrap(err, "resolve")
		}
		return d, nil
	}

	devs, err := Browse(ctx, timeout)
	if err == nil {
		if d, err := FindByName(devs, target); err == nil {
			return d, nil
		}
	}

	d, err := castprotocol.ParseDeviceAddr(target)
	if err != nil {
		return castprotocol.DeviceDescriptor{}, errors.Wrap(ErrDeviceNotAvailable, target)
	}
	return d, nil
}

func looksLikeAddress(target string) bool {
	if strings.Contains(target, "://") {
		return true
	}
	if net.ParseIP(strings.Trim(target, "[]")) != nil {
		return true
	}
	if host, _, err := net.SplitHostPort(target); err == nil && host != "" {
		return true
	}
	return false
}
