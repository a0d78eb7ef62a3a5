package main

import (
	"context"
	_ "embed"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"go2tv.app/castkit/castprotocol"
	"go2tv.app/castkit/devices"
	"go2tv.app/castkit/internal/config"
	"go2tv.app/castkit/internal/interactive"
)

var (
	//go:embed version.txt
	version    string
	errNoflag  = errors.New("no flag used")
	listPtr    = flag.Bool("l", false, "List all available cast receivers.")
	watchPtr   = flag.Bool("watch", false, "With -l, keep reporting receivers as they appear and disappear.")
	targetPtr  = flag.String("t", "", "Cast to a specific receiver, by address (host[:port]) or discovered name.")
	mediaArg   = flag.String("v", "", "HTTP URL of the media to cast.")
	ctypeArg   = flag.String("ct", "", "Content type of the media. Inferred from the URL extension when omitted.")
	titleArg   = flag.String("title", "", "Title shown on the receiver.")
	subsArg    = flag.String("s", "", "HTTP URL of a WebVTT subtitles file.")
	livePtr    = flag.Bool("live", false, "Treat the media as a live stream.")
	queueArg   = flag.String("q", "", "Comma-separated media URLs to load as a queue.")
	repeatArg  = flag.String("repeat", "off", "Queue repeat mode: off, all or single.")
	shufflePtr = flag.Bool("shuffle", false, "Shuffle the queue once loaded.")
	appArg     = flag.String("app", "", "Launch an application by id instead of loading media.")
	statusPtr  = flag.Bool("status", false, "Print the receiver and media status.")
	interPtr   = flag.Bool("i", false, "Open the interactive control screen.")
	configArg  = flag.String("config", "", "Path to a YAML or JSON config file.")
	metricsArg = flag.String("metrics", "", "Serve Prometheus metrics on this address, e.g. :9090.")
	versionPtr = flag.Bool("version", false, "Print version.")
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, errNoflag) {
			flag.Usage()
			os.Exit(0)
		}
		check(err)
	}
}

func run() error {
	exitCTX, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	flag.Parse()

	if checkVerflag() {
		return nil
	}

	if err := checkflags(); err != nil {
		return err
	}

	conf, err := loadConfig()
	if err != nil {
		return err
	}

	logger, closeLog, err := newLogger(conf, *interPtr)
	if err != nil {
		return err
	}
	defer closeLog()

	startMetrics(exitCTX, logger, firstNonEmpty(*metricsArg, conf.MetricsAddr))

	if *listPtr && *watchPtr {
		return watchFlagFunction(exitCTX, os.Stdout)
	}

	if *listPtr {
		return listFlagFunction(exitCTX, conf)
	}

	device, err := pickDevice(exitCTX, conf)
	if err != nil {
		return err
	}

	client := castprotocol.NewCastClient(conf.SessionOptions(logger)...)
	client.Logger = logger
	client.MediaAppID = conf.AppID

	if err := client.Connect(exitCTX, device); err != nil {
		return errors.Wrapf(err, "connect to %s", device.Addr())
	}
	defer client.Disconnect()

	switch {
	case *appArg != "":
		app, err := client.LaunchApplication(exitCTX, *appArg, false)
		if err != nil {
			return errors.Wrapf(err, "launch %s", *appArg)
		}
		fmt.Printf("Launched %s (session %s)\n", app.DisplayName, app.SessionID)
	case *mediaArg != "" || *queueArg != "":
		if err := castMedia(exitCTX, client); err != nil {
			return err
		}
	}

	if *statusPtr {
		st, err := client.GetStatus(exitCTX)
		if err != nil {
			return errors.Wrap(err, "status")
		}
		printStatus(os.Stdout, device, st)
	}

	if *interPtr {
		return runInteractive(exitCTX, cancel, client)
	}

	return nil
}

func castMedia(ctx context.Context, client *castprotocol.CastClient) error {
	urls := mediaURLs(*mediaArg, *queueArg)

	if len(urls) == 1 {
		ctype := *ctypeArg
		if ctype == "" {
			var err error
			if ctype, err = contentTypeFor(urls[0]); err != nil {
				return err
			}
		}
		media := castprotocol.NewMedia(urls[0], ctype, *titleArg)
		st, err := client.Load(ctx, media, loadOptions()...)
		if err != nil {
			return errors.Wrap(err, "load")
		}
		fmt.Printf("Loaded %s (%s)\n", urls[0], st.PlayerState)
		return nil
	}

	repeat, err := castprotocol.ParseRepeatMode(*repeatArg)
	if err != nil {
		return err
	}
	items, err := queueItems(urls, *ctypeArg)
	if err != nil {
		return err
	}
	if _, err := client.QueueLoad(ctx, items, repeat, 0); err != nil {
		return errors.Wrap(err, "queue load")
	}
	if *shufflePtr {
		if _, err := client.QueueSetShuffle(ctx, true); err != nil && !errors.Is(err, castprotocol.ErrUnconfirmed) {
			return errors.Wrap(err, "queue shuffle")
		}
	}
	fmt.Printf("Queued %d items (repeat %s)\n", len(items), repeat)
	return nil
}

func loadOptions() []castprotocol.LoadOption {
	var opts []castprotocol.LoadOption
	if *subsArg != "" {
		opts = append(opts, castprotocol.WithSubtitles(*subsArg, "", ""))
	}
	if *livePtr {
		opts = append(opts, castprotocol.WithLive())
	}
	return opts
}

func runInteractive(ctx context.Context, cancel context.CancelFunc, client *castprotocol.CastClient) error {
	scr, err := interactive.InitChromecastScreen(client, cancel)
	if err != nil {
		return err
	}

	title := *titleArg
	if title == "" {
		title = firstNonEmpty(*mediaArg, *queueArg, client.Host())
	}

	errCh := make(chan error, 1)
	go scr.InterInit(ctx, title, errCh)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		scr.Fini()
	}
	return nil
}

func pickDevice(ctx context.Context, conf *config.Config) (castprotocol.DeviceDescriptor, error) {
	target := firstNonEmpty(*targetPtr, conf.Device)
	if target != "" {
		d, err := devices.Resolve(ctx, target, conf.DiscoveryTimeout)
		if err != nil {
			return castprotocol.DeviceDescriptor{}, errors.Wrap(err, "checkTflag")
		}
		if d.Name == "" {
			dctx, cancel := context.WithTimeout(ctx, describeTimeout)
			d, _ = devices.Describe(dctx, d)
			cancel()
		}
		return d, nil
	}

	devs, err := devices.Browse(ctx, conf.DiscoveryTimeout)
	if err != nil {
		return castprotocol.DeviceDescriptor{}, errors.Wrap(err, "checkTflag service loading error")
	}
	return devices.DevicePicker(devs, 1)
}

func loadConfig() (*config.Config, error) {
	if *configArg != "" {
		return config.Load(*configArg)
	}
	return config.GetAppConfig()
}

// newLogger logs to the configured file, or to stderr unless the
// interactive screen owns the terminal.
func newLogger(conf *config.Config, interactiveMode bool) (zerolog.Logger, func(), error) {
	noop := func() {}

	if conf.LogFile != "" {
		// #nosec G304 -- the path comes from the operator
		f, err := os.OpenFile(conf.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return zerolog.Nop(), noop, errors.Wrap(err, "open log file")
		}
		l := zerolog.New(f).Level(conf.Level()).With().Timestamp().Logger()
		return l, func() { _ = f.Close() }, nil
	}

	if interactiveMode {
		return zerolog.Nop(), noop, nil
	}

	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return zerolog.New(out).Level(conf.Level()).With().Timestamp().Logger(), noop, nil
}

func startMetrics(ctx context.Context, log zerolog.Logger, addr string) {
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Str("Addr", addr).Err(err).Msg("metrics server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
}

func printStatus(w io.Writer, d castprotocol.DeviceDescriptor, st *castprotocol.CastStatus) {
	fmt.Fprintf(w, "Device:   %s\n", firstNonEmpty(d.Name, d.Addr()))
	fmt.Fprintf(w, "State:    %s\n", st.PlayerState)
	if st.MediaTitle != "" {
		fmt.Fprintf(w, "Title:    %s\n", st.MediaTitle)
	}
	if st.ContentType != "" {
		fmt.Fprintf(w, "Type:     %s\n", st.ContentType)
	}
	if st.Duration > 0 {
		fmt.Fprintf(w, "Position: %.0fs / %.0fs\n", st.CurrentTime, st.Duration)
	} else if st.PlayerState.Active() {
		fmt.Fprintf(w, "Position: %.0fs\n", st.CurrentTime)
	}
	muted := ""
	if st.Muted {
		muted = " (muted)"
	}
	fmt.Fprintf(w, "Volume:   %d%%%s\n", int(st.Volume*100+0.5), muted)
}

func firstNonEmpty(s ...string) string {
	for _, v := range s {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func check(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Encountered error(s): %s\n", err)
		os.Exit(1)
	}
}
