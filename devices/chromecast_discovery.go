package devices

import (
	"fmt"
	"io"
	"log"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/pkg/errors"
)

const (
	// CapabilityVideoOut is the bitmask for video output capability (bit 0)
	CapabilityVideoOut = 1
	googlecastService  = "_googlecast._tcp"
	// DefaultLookupTimeout is the mDNS query timeout per interface.
	DefaultLookupTimeout = 2 * time.Second
)

var (
	ErrNoDeviceAvailable  = errors.New("lookup: no Chromecast devices found")
	ErrDeviceNotAvailable = errors.New("lookup: requested device not available")
)

// Device is a Chromecast receiver found on the local network.
type Device struct {
	Name        string
	Addr        string // host:port
	IsAudioOnly bool
}

// mdnsQuery is swapped out in tests.
var mdnsQuery = mdns.Query

func deviceFromMDNSEntry(entry *mdns.ServiceEntry) (Device, bool) {
	if entry == nil || entry.AddrV4 == nil {
		return Device{}, false
	}
	if !strings.Contains(entry.Name, "_googlecast") {
		return Device{}, false
	}

	dev := Device{
		Name: entry.Name,
		Addr: fmt.Sprintf("%s:%d", entry.AddrV4, entry.Port),
	}

	for _, txt := range entry.InfoFields {
		if after, ok := strings.CutPrefix(txt, "fn="); ok {
			dev.Name = after
		}
		if after, ok := strings.CutPrefix(txt, "ca="); ok {
			dev.IsAudioOnly = isChromecastAudioOnly(after)
		}
	}

	if idx := strings.Index(dev.Name, "._googlecast"); idx > 0 {
		dev.Name = dev.Name[:idx]
	}

	return dev, true
}

// ListChromecasts queries mDNS once on every active interface and returns
// the receivers that answered, sorted by name.
func ListChromecasts(timeout time.Duration) ([]Device, error) {
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}

	entriesCh := make(chan *mdns.ServiceEntry, 256)
	found := make(map[string]Device)
	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		for entry := range entriesCh {
			if dev, ok := deviceFromMDNSEntry(entry); ok {
				found[dev.Addr] = dev
			}
		}
	}()

	queryIface := func(iface *net.Interface) {
		params := mdns.DefaultParams(googlecastService)
		params.Entries = entriesCh
		params.Timeout = timeout
		params.DisableIPv6 = true
		params.WantUnicastResponse = true
		params.Logger = log.New(io.Discard, "", 0)
		params.Interface = iface
		_ = mdnsQuery(params)
	}

	interfaces := getActiveNetworkInterfaces()
	if len(interfaces) > 0 {
		var wg sync.WaitGroup
		for _, iface := range interfaces {
			wg.Add(1)
			go func(iface net.Interface) {
				defer wg.Done()
				queryIface(&iface)
			}(iface)
		}
		wg.Wait()
	} else {
		queryIface(nil)
	}

	close(entriesCh)
	<-doneCh

	if len(found) == 0 {
		return nil, ErrNoDeviceAvailable
	}

	out := make([]Device, 0, len(found))
	for _, dev := range found {
		out = append(out, dev)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].Addr < out[j].Addr
		}
		return out[i].Name < out[j].Name
	})

	return out, nil
}

// LookupChromecast returns the receiver whose friendly name matches name,
// ignoring case.
func LookupChromecast(name string, timeout time.Duration) (Device, error) {
	devs, err := ListChromecasts(timeout)
	if err != nil {
		return Device{}, errors.Wrap(err, "LookupChromecast")
	}

	for _, dev := range devs {
		if strings.EqualFold(dev.Name, strings.TrimSpace(name)) {
			return dev, nil
		}
	}

	return Device{}, errors.Wrapf(ErrDeviceNotAvailable, "LookupChromecast %q", name)
}

// getActiveNetworkInterfaces returns all network interfaces that are up,
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

// isChromecastAudioOnly checks the "ca" capability bitmask. Without the
// video out bit the device is audio-only (Chromecast Audio, Google Home).
// Unparseable values are treated as video devices.
func isChromecastAudioOnly(caField string) bool {
	ca, err := strconv.Atoi(caField)
	if err != nil {
		return false
	}
	return (ca & CapabilityVideoOut) == 0
}
