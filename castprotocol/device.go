package castprotocol

import (
	"net"
	"net/url"
	"strconv"
	"strings"
)

// DefaultMediaReceiverAppID is the stock media receiver application.
const DefaultMediaReceiverAppID = "CC1AD845"

// DeviceDescriptor identifies a receiver on the network.
type DeviceDescriptor struct {
	Host        string
	Port        int
	Name        string
	ID          string
	Model       string
	IsAudioOnly bool
}

// Addr returns host:port, using DefaultPort when Port is unset.
func (d DeviceDescriptor) Addr() string {
	port := d.Port
	if port <= 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(d.Host, strconv.Itoa(port))
}

// ParseDeviceAddr accepts "host", "host:port" and "scheme://host:port".
func ParseDeviceAddr(s string) (DeviceDescriptor, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DeviceDescriptor{}, invalidArgument("ParseDeviceAddr", "empty address")
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return DeviceDescriptor{}, &Error{Op: "ParseDeviceAddr", Sentinel: ErrInvalidArgument, Err: err}
		}
		s = u.Host
	}

	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		// No port, or a bare IPv6 address.
		host = strings.Trim(s, "[]")
		if host == "" {
			return DeviceDescriptor{}, invalidArgument("ParseDeviceAddr", "no host in %q", s)
		}
		return DeviceDescriptor{Host: host, Port: DefaultPort}, nil
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return DeviceDescriptor{}, invalidArgument("ParseDeviceAddr", "invalid port %q", portStr)
	}
	if host == "" {
		return DeviceDescriptor{}, invalidArgument("ParseDeviceAddr", "no host in %q", s)
	}
	return DeviceDescriptor{Host: host, Port: port}, nil
}
