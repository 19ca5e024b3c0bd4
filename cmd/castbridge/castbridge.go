package main

import (
	"context"
	_ "embed"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go2tv.app/castbridge/castprotocol"
	"go2tv.app/castbridge/devices"
	"go2tv.app/castbridge/forwarder"
	"go2tv.app/castbridge/internal/config"
	"go2tv.app/castbridge/internal/interactive"
	"go2tv.app/castbridge/notify"
	"go2tv.app/castbridge/queue"
)

var (
	//go:embed version.txt
	version     string
	configArg   = flag.String("c", "", "Path to a YAML or JSON config file. Defaults to the user config dir.")
	targetPtr   = flag.String("t", "", "Chromecast address (host or host:port).")
	namePtr     = flag.String("n", "", "Chromecast friendly name, resolved over mDNS.")
	listPtr     = flag.Bool("l", false, "List all available Chromecast devices.")
	interPtr    = flag.Bool("i", false, "Show an interactive terminal monitor.")
	webhookArg  = flag.String("webhook", "", "POST every event as JSON to this URL.")
	kafkaArg    = flag.String("kafka", "", "Comma separated Kafka brokers to publish events to.")
	topicArg    = flag.String("topic", "", "Kafka topic for events.")
	debugPtr    = flag.Bool("debug", false, "Enable debug logging.")
	versionPtr  = flag.Bool("version", false, "Print version.")
	ErrNoDevice = errors.New("no device given, use -t, -n or set device.address in the config")
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Encountered error(s): %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	exitCTX, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	flag.Parse()

	if *versionPtr {
		fmt.Printf("castbridge version: %s\n", strings.TrimSpace(version))
		return nil
	}

	conf, err := config.Load(*configArg)
	if err != nil {
		return errors.Wrap(err, "config")
	}
	applyFlags(conf)
	if err := conf.Validate(); err != nil {
		return errors.Wrap(err, "config")
	}

	if *listPtr {
		return listFlagFunction(conf.Device.LookupTimeout)
	}

	var screen *interactive.ChromecastScreen
	if *interPtr {
		screen, err = interactive.InitChromecastScreen(cancel)
		if err != nil {
			return err
		}
	}

	// The monitor owns the terminal, so logs only go to stderr without it.
	var logOut io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	if screen != nil {
		logOut = io.Discard
	}
	log := newLogger(logOut, conf.Log.Level)

	addr, err := resolveDevice(conf)
	if err != nil {
		return err
	}

	client, err := castprotocol.NewCastClient(addr, castprotocol.WithConnectionRetries(conf.Session.ConnectionRetries))
	if err != nil {
		return err
	}
	client.Logger = log.With().Str("Component", "castprotocol").Logger()
	client.PollInterval = conf.Session.PollInterval
	client.ProgressInterval = conf.Session.ProgressInterval

	if err := client.Connect(); err != nil {
		return err
	}
	log.Info().Str("Device", addr).Msg("connected")

	sinks, err := buildSinks(conf, log)
	if err != nil {
		_ = client.Close(false)
		return err
	}
	if screen != nil {
		screen.Control = client
		sinks = append(sinks, screen)
	}

	primary := queue.New(queue.WithLogger(log))

	fwdOpts := []forwarder.Option{forwarder.WithLogger(log.With().Str("Component", "forwarder").Logger())}
	if conf.Forwarder.DurationSentinel {
		fwdOpts = append(fwdOpts, forwarder.WithDurationSentinel())
	}
	fwd := forwarder.New(client, sinks, primary, fwdOpts...)
	client.AddStatusListener(fwd)
	client.AddProgressListener(fwd)

	if screen != nil {
		go func() {
			if err := screen.Run(exitCTX); err != nil {
				log.Error().Err(err).Msg("interactive monitor failed")
				cancel()
			}
		}()
	}

	if err := client.Watch(exitCTX); err != nil {
		return err
	}

	// Session first so no callbacks arrive, then drain the queue into the
	// sinks, then flush the sinks.
	if err := client.Close(false); err != nil {
		log.Debug().Err(err).Msg("close session")
	}
	primary.Close()
	if screen != nil {
		screen.Fini()
	}
	if err := sinks.Close(); err != nil {
		return errors.Wrap(err, "closing sinks")
	}

	return nil
}

func newLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if *debugPtr {
		lvl = zerolog.DebugLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

func applyFlags(conf *config.Config) {
	if *targetPtr != "" {
		conf.Device.Address = *targetPtr
	}
	if *namePtr != "" {
		conf.Device.Name = *namePtr
		if *targetPtr == "" {
			conf.Device.Address = ""
		}
	}
	if *webhookArg != "" {
		conf.Sinks.Webhook.URL = *webhookArg
	}
	if *kafkaArg != "" {
		conf.Sinks.Kafka.Brokers = strings.Split(*kafkaArg, ",")
	}
	if *topicArg != "" {
		conf.Sinks.Kafka.Topic = *topicArg
	}
}

func resolveDevice(conf *config.Config) (string, error) {
	if conf.Device.Address != "" {
		return conf.Device.Address, nil
	}
	if conf.Device.Name == "" {
		return "", ErrNoDevice
	}

	dev, err := devices.LookupChromecast(conf.Device.Name, conf.Device.LookupTimeout)
	if err != nil {
		return "", errors.Wrap(err, "resolveDevice")
	}
	return dev.Addr, nil
}

func buildSinks(conf *config.Config, log zerolog.Logger) (notify.Multi, error) {
	var sinks notify.Multi

	if conf.Sinks.Stdout && !*interPtr {
		sinks = append(sinks, notify.NewWriter(os.Stdout, log))
	}

	if conf.Sinks.Webhook.URL != "" {
		wh, err := notify.NewWebhook(notify.WebhookOptions{
			URL:      conf.Sinks.Webhook.URL,
			RetryMax: conf.Sinks.Webhook.RetryMax,
			Rate:     conf.Sinks.Webhook.Rate,
			Buffer:   conf.Sinks.Webhook.Buffer,
			Logger:   log.With().Str("Component", "webhook").Logger(),
		})
		if err != nil {
			return nil, errors.Wrap(err, "buildSinks")
		}
		sinks = append(sinks, wh)
	}

	if len(conf.Sinks.Kafka.Brokers) > 0 {
		k, err := notify.NewKafka(conf.Sinks.Kafka.Brokers, conf.Sinks.Kafka.Topic, log.With().Str("Component", "kafka").Logger())
		if err != nil {
			_ = sinks.Close()
			return nil, errors.Wrap(err, "buildSinks")
		}
		sinks = append(sinks, k)
	}

	return sinks, nil
}

func listFlagFunction(timeout time.Duration) error {
	devs, err := devices.ListChromecasts(timeout)
	if err != nil {
		return errors.Wrap(err, "failed to list devices")
	}

	boldStart := ""
	boldEnd := ""
	if runtime.GOOS == "linux" {
		boldStart = "\033[1m"
		boldEnd = "\033[0m"
	}

	fmt.Println()
	for i, dev := range devs {
		fmt.Printf("%sDevice %v%s\n", boldStart, i+1, boldEnd)
		fmt.Printf("%s--------%s\n", boldStart, boldEnd)
		fmt.Printf("%sName:%s    %s\n", boldStart, boldEnd, dev.Name)
		fmt.Printf("%sAddress:%s %s\n", boldStart, boldEnd, dev.Addr)
		if dev.IsAudioOnly {
			fmt.Printf("%sType:%s    audio only\n", boldStart, boldEnd)
		}
		fmt.Println()
	}

	return nil
}
