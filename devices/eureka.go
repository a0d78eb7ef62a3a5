package devices

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/errgroup"

	"go2tv.app/castkit/castprotocol"
)

const (
	// EurekaPort serves the receiver setup API over plain HTTP.
	EurekaPort = 8008

	eurekaHTTPClientTimeout         = 10 * time.Second
	eurekaHTTPDialTimeout           = 3 * time.Second
	eurekaHTTPResponseHeaderTimeout = 5 * time.Second
	eurekaHTTPIdleConnTimeout       = 30 * time.Second
	eurekaRetryMax                  = 2
	eurekaMaxBody                   = 256 * 1024
)

var eurekaHTTPTransport = &http.Transport{
	Proxy: http.ProxyFromEnvironment,
	DialContext: (&net.Dialer{
		Timeout: eurekaHTTPDialTimeout,
	}).DialContext,
	ResponseHeaderTimeout: eurekaHTTPResponseHeaderTimeout,
	IdleConnTimeout:       eurekaHTTPIdleConnTimeout,
}

func newRetryableHTTPClient(retryMax int) *http.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = retryMax
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = time.Second
	retryClient.Logger = nil
	retryClient.HTTPClient = &http.Client{
		Timeout:   eurekaHTTPClientTimeout,
		Transport: eurekaHTTPTransport,
	}

	return retryClient.StandardClient()
}

// eurekaBaseURL is replaced in tests.
var eurekaBaseURL = func(host string) string {
	return "http://" + net.JoinHostPort(host, strconv.Itoa(EurekaPort))
}

// DeviceInfo is the subset of /setup/eureka_info a sender cares about.
type DeviceInfo struct {
	Name          string  `json:"name"`
	BuildVersion  string  `json:"build_version,omitempty"`
	CastBuild     string  `json:"cast_build_revision,omitempty"`
	MacAddress    string  `json:"mac_address,omitempty"`
	SSID          string  `json:"ssid,omitempty"`
	UptimeSeconds float64 `json:"uptime,omitempty"`
	Details       struct {
		ModelName    string `json:"model_name,omitempty"`
		Manufacturer string `json:"manufacturer,omitempty"`
		UDN          string `json:"ssdp_udn,omitempty"`
		Capabilities struct {
			DisplaySupported bool `json:"display_supported"`
		} `json:"capabilities"`
	} `json:"device_info"`
}

// FetchDeviceInfo reads the setup information a receiver exposes on its
// HTTP port.
func FetchDeviceInfo(ctx context.Context, host string) (*DeviceInfo, error) {
	url := eurekaBaseURL(host) + "/setup/eureka_info?params=name,build_info,device_info,net,wifi"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("FetchDeviceInfo request error: %w", err)
	}

	resp, err := newRetryableHTTPClient(eurekaRetryMax).Do(req)
	if err != nil {
		return nil, fmt.Errorf("FetchDeviceInfo Do GET error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("FetchDeviceInfo: unexpected status %s", resp.Status)
	}

	var info DeviceInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, eurekaMaxBody)).Decode(&info); err != nil {
		return nil, fmt.Errorf("FetchDeviceInfo decode error: %w", err)
	}
	return &info, nil
}

// Describe fills the empty descriptive fields of d from the receiver's
// setup information. Errors leave d unchanged.
func Describe(ctx context.Context, d castprotocol.DeviceDescriptor) (castprotocol.DeviceDescriptor, error) {
	info, err := FetchDeviceInfo(ctx, d.Host)
	if err != nil {
		return d, err
	}
	if d.Name == "" {
		d.Name = info.Name
	}
	if d.Model == "" {
		d.Model = info.Details.ModelName
	}
	if d.ID == "" {
		d.ID = info.Details.UDN
	}
	return d, nil
}

// DescribeAll runs Describe for every device, a few at a time. Devices that
// do not answer keep their discovered fields.
func DescribeAll(ctx context.Context, devs []castprotocol.DeviceDescriptor) []castprotocol.DeviceDescriptor {
	out := make([]castprotocol.DeviceDescriptor, len(devs))

	var g errgroup.Group
	g.SetLimit(4)
	for i, d := range devs {
		i, d := i, d
		g.Go(func() error {
			out[i], _ = Describe(ctx, d)
			return nil
		})
	}
	_ = g.Wait()
	return out
}
