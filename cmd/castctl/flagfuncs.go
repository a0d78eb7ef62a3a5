package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/url"
	"path"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/h2non/filetype"
	"github.com/pkg/errors"

	"go2tv.app/castkit/castprotocol"
	"go2tv.app/castkit/devices"
	"go2tv.app/castkit/internal/config"
)

const (
	describeTimeout = 3 * time.Second
	watchInterval   = 2 * time.Second
)

var (
	ErrNoCombi            = errors.New("can't combine -l with other flags")
	ErrFailtoList         = errors.New("failed to list devices")
	ErrUnknownContentType = errors.New("can't infer content type, use -ct")
)

// streamingTypes covers manifests and text formats filetype has no
// matcher for.
var streamingTypes = map[string]string{
	"m3u8": "application/x-mpegURL",
	"mpd":  "application/dash+xml",
	"ism":  "application/vnd.ms-sstr+xml",
	"vtt":  "text/vtt",
	"ts":   "video/mp2t",
}

func checkflags() error {
	if *mediaArg == "" && *queueArg == "" && *appArg == "" && !*listPtr && !*statusPtr && !*interPtr {
		return fmt.Errorf("checkflags error: %w", errNoflag)
	}

	if err := checkLflag(); err != nil {
		return fmt.Errorf("checkflags error: %w", err)
	}

	if *watchPtr && !*listPtr {
		return fmt.Errorf("checkflags error: %w", errors.New("-watch needs -l"))
	}

	if *appArg != "" && (*mediaArg != "" || *queueArg != "") {
		return fmt.Errorf("checkflags error: %w", errors.New("can't combine -app with -v or -q"))
	}

	for _, u := range mediaURLs(*mediaArg, *queueArg) {
		if err := checkURL(u); err != nil {
			return fmt.Errorf("checkVflag error: %w", err)
		}
	}

	if *subsArg != "" {
		if err := checkURL(*subsArg); err != nil {
			return fmt.Errorf("checkSflag error: %w", err)
		}
	}

	if _, err := castprotocol.ParseRepeatMode(*repeatArg); err != nil {
		return fmt.Errorf("checkflags error: %w", err)
	}

	return nil
}

func checkLflag() error {
	if !*listPtr {
		return nil
	}
	flagsEnabled := 0
	flag.Visit(func(f *flag.Flag) {
		if f.Name != "config" && f.Name != "watch" {
			flagsEnabled++
		}
	})
	if flagsEnabled > 1 {
		return ErrNoCombi
	}
	return nil
}

func checkVerflag() bool {
	if *versionPtr {
		fmt.Printf("castctl Version: %s\n", strings.TrimSpace(version))
		return true
	}
	return false
}

func checkURL(raw string) error {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.Errorf("%q is not an http(s) URL", raw)
	}
	return nil
}

func listFlagFunction(ctx context.Context, conf *config.Config) error {
	deviceList, err := devices.Browse(ctx, conf.DiscoveryTimeout)
	if err != nil {
		if errors.Is(err, devices.ErrNoDeviceAvailable) {
			return err
		}
		return errors.Wrap(ErrFailtoList, err.Error())
	}

	dctx, cancel := context.WithTimeout(ctx, describeTimeout)
	deviceList = devices.DescribeAll(dctx, deviceList)
	cancel()

	fmt.Println()

	boldStart, boldEnd := bold()

	for q, d := range deviceList {
		model := d.Model
		if model == "" {
			model = "Chromecast"
		}
		if d.IsAudioOnly {
			model += " (audio)"
		}
		fmt.Printf("%sDevice %v%s\n", boldStart, q+1, boldEnd)
		fmt.Printf("%s--------%s\n", boldStart, boldEnd)
		fmt.Printf("%sName:%s    %s\n", boldStart, boldEnd, d.Name)
		fmt.Printf("%sModel:%s   %s\n", boldStart, boldEnd, model)
		fmt.Printf("%sAddress:%s %s\n", boldStart, boldEnd, d.Addr())
		fmt.Println()
	}

	return nil
}

func bold() (string, string) {
	if runtime.GOOS == "linux" {
		return "\033[1m", "\033[0m"
	}
	return "", ""
}

// watchFlagFunction keeps the discovery loop running and prints receivers
// as they come and go, until ctx is canceled.
func watchFlagFunction(ctx context.Context, w io.Writer) error {
	devices.StartChromecastDiscoveryLoop(ctx)

	boldStart, boldEnd := bold()
	fmt.Fprintf(w, "%sWatching for cast receivers, Ctrl+C to stop%s\n", boldStart, boldEnd)

	known := make(map[string]castprotocol.DeviceDescriptor)
	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			added, removed := diffDevices(known, devices.GetChromecastDevices())
			for _, d := range added {
				fmt.Fprintf(w, "+ %s\t%s\n", d.Name, d.Addr())
			}
			for _, d := range removed {
				fmt.Fprintf(w, "- %s\t%s\n", d.Name, d.Addr())
			}
		}
	}
}

// diffDevices updates known to current and reports what changed, both
// sorted by address.
func diffDevices(known map[string]castprotocol.DeviceDescriptor, current []castprotocol.DeviceDescriptor) (added, removed []castprotocol.DeviceDescriptor) {
	seen := make(map[string]struct{}, len(current))
	for _, d := range current {
		addr := d.Addr()
		seen[addr] = struct{}{}
		if _, ok := known[addr]; !ok {
			known[addr] = d
			added = append(added, d)
		}
	}
	for addr, d := range known {
		if _, ok := seen[addr]; !ok {
			delete(known, addr)
			removed = append(removed, d)
		}
	}
	sort.Slice(added, func(i, j int) bool { return added[i].Addr() < added[j].Addr() })
	sort.Slice(removed, func(i, j int) bool { return removed[i].Addr() < removed[j].Addr() })
	return added, removed
}

// mediaURLs returns the single media URL followed by the queue entries.
func mediaURLs(media, queue string) []string {
	var urls []string
	if s := strings.TrimSpace(media); s != "" {
		urls = append(urls, s)
	}
	for _, s := range strings.Split(queue, ",") {
		if s = strings.TrimSpace(s); s != "" {
			urls = append(urls, s)
		}
	}
	return urls
}

// contentTypeFor infers a MIME type from the extension of rawURL's path.
func contentTypeFor(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", errors.Wrap(err, "contentTypeFor")
	}

	ext := strings.ToLower(strings.TrimPrefix(path.Ext(u.Path), "."))
	if ext == "" {
		return "", errors.Wrap(ErrUnknownContentType, rawURL)
	}
	if ct, ok := streamingTypes[ext]; ok {
		return ct, nil
	}

	kind := filetype.GetType(ext)
	if kind == filetype.Unknown {
		return "", errors.Wrap(ErrUnknownContentType, rawURL)
	}
	return kind.MIME.Value, nil
}

// queueItems builds autoplaying queue items. A non-empty contentType is
// used for every item.
func queueItems(urls []string, contentType string) ([]castprotocol.QueueItem, error) {
	items := make([]castprotocol.QueueItem, 0, len(urls))
	for _, u := range urls {
		ct := contentType
		if ct == "" {
			var err error
			if ct, err = contentTypeFor(u); err != nil {
				return nil, err
			}
		}
		m := castprotocol.NewMedia(u, ct, "")
		autoplay := true
		items = append(items, castprotocol.QueueItem{Media: &m, Autoplay: &autoplay})
	}
	return items, nil
}
