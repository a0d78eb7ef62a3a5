package devices

import (
	"context"
	"io"
	"log"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
	"golang.org/x/sync/errgroup"

	"go2tv.app/castkit/castprotocol"
)

const (
	// CapabilityVideoOut is the bitmask for video output capability (bit 0)
	CapabilityVideoOut = 1

	googlecastService = "_googlecast._tcp"
	// mDNS query timeout per request
	chromecastQueryTimeout = 750 * time.Millisecond
	// Faster polling while cache is empty for quick first discovery
	chromecastPollIntervalFast = 1 * time.Second
	// Slower polling once at least one device is known to reduce network load
	chromecastPollIntervalSlow = 4 * time.Second
	// Interface refresh cadence for add/remove changes
	chromecastIfaceRefreshInterval = 20 * time.Second
	chromecastHealthInterval       = 5 * time.Second
)

var (
	// chromeCastDevices caches discovered receivers keyed by "host:port".
	chromeCastDevices = make(map[string]castprotocol.DeviceDescriptor)
	ccMu              sync.Mutex

	// mdnsQuery is replaced in tests.
	mdnsQuery = mdns.Query
)

func upsertChromecastFromMDNSEntry(entry *mdns.ServiceEntry) {
	d, ok := descriptorFromMDNSEntry(entry)
	if !ok {
		return
	}
	ccMu.Lock()
	chromeCastDevices[d.Addr()] = d
	ccMu.Unlock()
}

func descriptorFromMDNSEntry(entry *mdns.ServiceEntry) (castprotocol.DeviceDescriptor, bool) {
	if entry == nil || entry.AddrV4 == nil {
		return castprotocol.DeviceDescriptor{}, false
	}
	if !strings.Contains(entry.Name, "_googlecast") {
		return castprotocol.DeviceDescriptor{}, false
	}

	d := castprotocol.DeviceDescriptor{
		Host: entry.AddrV4.String(),
		Port: entry.Port,
		Name: entry.Name,
	}
	for _, txt := range entry.InfoFields {
		key, value, ok := strings.Cut(txt, "=")
		if !ok {
			continue
		}
		switch key {
		case "fn":
			d.Name = value
		case "id":
			d.ID = value
		case "md":
			d.Model = value
		case "ca":
			d.IsAudioOnly = isChromecastAudioOnly(value)
		}
	}

	if idx := strings.Index(d.Name, "._googlecast"); idx > 0 {
		d.Name = d.Name[:idx]
	}
	return d, true
}

func queryParams(entries chan<- *mdns.ServiceEntry, timeout time.Duration, iface *net.Interface) *mdns.QueryParam {
	params := mdns.DefaultParams(googlecastService)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true
	params.WantUnicastResponse = true
	params.Logger = log.New(io.Discard, "", 0)
	if iface != nil {
		params.Interface = iface
	}
	return params
}

// warmupChromecastCache runs one query on every active interface.
func warmupChromecastCache(ctx context.Context, timeout time.Duration) error {
	interfaces := getActiveNetworkInterfaces()

	entriesCh := make(chan *mdns.ServiceEntry, 256)
	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		for entry := range entriesCh {
			upsertChromecastFromMDNSEntry(entry)
		}
	}()

	g, _ := errgroup.WithContext(ctx)
	if len(interfaces) == 0 {
		g.Go(func() error { return mdnsQuery(queryParams(entriesCh, timeout, nil)) })
	}
	for _, iface := range interfaces {
		iface := iface
		g.Go(func() error {
			return mdnsQuery(queryParams(entriesCh, timeout, &iface))
		})
	}
	err := g.Wait()

	close(entriesCh)
	<-doneCh
	return err
}

func currentChromecastPollInterval() time.Duration {
	ccMu.Lock()
	hasDevices := len(chromeCastDevices) > 0
	ccMu.Unlock()
	if hasDevices {
		return chromecastPollIntervalSlow
	}
	return chromecastPollIntervalFast
}

// Browse runs a single discovery round of length timeout and returns the
// known receivers sorted by name.
func Browse(ctx context.Context, timeout time.Duration) ([]castprotocol.DeviceDescriptor, error) {
	if timeout <= 0 {
		timeout = chromecastQueryTimeout
	}
	if err := warmupChromecastCache(ctx, timeout); err != nil && len(GetChromecastDevices()) == 0 {
		return nil, err
	}
	devs := GetChromecastDevices()
	if len(devs) == 0 {
		return nil, ErrNoDeviceAvailable
	}
	return devs, nil
}

// StartChromecastDiscoveryLoop keeps the device cache fresh until ctx is
// canceled, polling every active interface and dropping devices that stop
// answering.
func StartChromecastDiscoveryLoop(ctx context.Context) {
	go discoverChromecastDevices(ctx)
	go healthCheckChromecastDevices(ctx)
}

// discoverChromecastDevices runs one polling worker per active interface,
// so hosts with several adapters (VPN, Docker) still reach the receivers.
func discoverChromecastDevices(ctx context.Context) {
	startPollingWorker := func(parent context.Context, iface *net.Interface) context.CancelFunc {
		entriesCh := make(chan *mdns.ServiceEntry, 256)
		workerCtx, cancel := context.WithCancel(parent)

		go func() {
			for {
				select {
				case <-workerCtx.Done():
					return
				case entry := <-entriesCh:
					upsertChromecastFromMDNSEntry(entry)
				}
			}
		}()

		go func() {
			pollTimer := time.NewTimer(0)
			defer pollTimer.Stop()

			for {
				select {
				case <-workerCtx.Done():
					return
				case <-pollTimer.C:
				}

				_ = mdnsQuery(queryParams(entriesCh, chromecastQueryTimeout, iface))
				pollTimer.Reset(currentChromecastPollInterval())
			}
		}()

		return cancel
	}

	// -1 is the worker bound to the OS default interface.
	pollWorkers := make(map[int]context.CancelFunc)
	refresh := func() {
		interfaces := getActiveNetworkInterfaces()

		active := make(map[int]struct{}, len(interfaces))
		for _, iface := range interfaces {
			active[iface.Index] = struct{}{}
			if _, ok := pollWorkers[iface.Index]; ok {
				continue
			}
			pollIface := iface
			pollWorkers[iface.Index] = startPollingWorker(ctx, &pollIface)
		}

		for idx, cancel := range pollWorkers {
			if idx == -1 {
				continue
			}
			if _, ok := active[idx]; !ok {
				cancel()
				delete(pollWorkers, idx)
			}
		}

		if len(interfaces) == 0 {
			if _, ok := pollWorkers[-1]; !ok {
				pollWorkers[-1] = startPollingWorker(ctx, nil)
			}
		} else if cancel, ok := pollWorkers[-1]; ok {
			cancel()
			delete(pollWorkers, -1)
		}
	}

	_ = warmupChromecastCache(ctx, chromecastQueryTimeout)
	refresh()

	refreshTicker := time.NewTicker(chromecastIfaceRefreshInterval)
	defer refreshTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			for _, cancel := range pollWorkers {
				cancel()
			}
			return
		case <-refreshTicker.C:
			refresh()
		}
	}
}

// getActiveNetworkInterfaces returns the interfaces that are up,
// multicast-capable, not loopback, and have an IPv4 address.
func getActiveNetworkInterfaces() []net.Interface {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	var active []net.Interface
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 ||
			iface.Flags&net.FlagLoopback != 0 ||
			iface.Flags&net.FlagMulticast == 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil && !ipnet.IP.IsLoopback() {
				active = append(active, iface)
				break
			}
		}
	}

	return active
}

// healthCheckChromecastDevices drops cached devices whose cast port no
// longer accepts connections.
func healthCheckChromecastDevices(ctx context.Context) {
	ticker := time.NewTicker(chromecastHealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ccMu.Lock()
			addrs := make([]string, 0, len(chromeCastDevices))
			for address := range chromeCastDevices {
				addrs = append(addrs, address)
			}
			ccMu.Unlock()

			for _, address := range addrs {
				if !HostPortIsAlive(address) {
					ccMu.Lock()
					delete(chromeCastDevices, address)
					ccMu.Unlock()
				}
			}
		}
	}
}

// GetChromecastDevices returns the cached receivers sorted by name.
func GetChromecastDevices() []castprotocol.DeviceDescriptor {
	ccMu.Lock()
	defer ccMu.Unlock()

	result := make([]castprotocol.DeviceDescriptor, 0, len(chromeCastDevices))
	for _, d := range chromeCastDevices {
		result = append(result, d)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].Addr() < result[j].Addr()
	})
	return result
}

// HostPortIsAlive checks if a device at the given address is reachable via TCP connection.
// Returns true if the connection succeeds within 2 seconds.
func HostPortIsAlive(address string) bool {
	conn, err := net.DialTimeout("tcp", address, 2*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// isChromecastAudioOnly checks the "ca" capability bitmask of the TXT
// record. Devices without bit 0 (video out) are audio only. Unparsable
// values count as video devices.
func isChromecastAudioOnly(caField string) bool {
	ca, err := strconv.Atoi(caField)
	if err != nil {
		return false
	}
	return (ca & CapabilityVideoOut) == 0
}
