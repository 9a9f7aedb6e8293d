package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	versioncollector "github.com/prometheus/client_golang/prometheus/collectors/version"
	"github.com/prometheus/common/version"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/alepar/co2watcher/co2mon"
	"github.com/alepar/co2watcher/co2mon/usbhid"
	"github.com/alepar/co2watcher/sink"
	"github.com/alepar/co2watcher/sink/httpsink"
	"github.com/alepar/co2watcher/sink/kafkasink"
	"github.com/alepar/co2watcher/sink/mqttsink"
	"github.com/alepar/co2watcher/sink/promsink"
	"github.com/alepar/co2watcher/sink/wssink"
)

const program = "co2watcher"

func init() {
	//logging
	formatter := &log.TextFormatter{
		FullTimestamp: true,
	}
	log.SetFormatter(formatter)
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file found, using environment variables")
	}

	cfg, err := loadConfig(os.Args[1:])
	if err == pflag.ErrHelp {
		return
	}
	if err != nil {
		log.Fatalf("invalid configuration: %s", err)
	}
	if cfg.showVersion {
		fmt.Println(version.Print(program))
		return
	}
	log.SetLevel(cfg.logLevel)

	if err := usbhid.Init(); err != nil {
		log.Fatalf("failed to initialise hidapi: %s", err)
	}
	defer func() {
		if err := usbhid.Exit(); err != nil {
			log.Warnf("failed to release hidapi: %s", err)
		}
	}()

	if cfg.listDevices {
		listDevices()
		return
	}

	log.Infof("starting %s %s", program, version.Info())
	run(cfg)
}

func listDevices() {
	scanner := usbhid.HidScanner{}
	devices, err := scanner.Scan()
	if err != nil {
		log.Errorf("failed to scan for sensors: %s", err)
		return
	}
	if len(devices) == 0 {
		fmt.Println("no sensors found")
	}
	for path, d := range devices {
		fmt.Printf("%s\tserial=%q\t%s %s\n", path, d.Serial, d.Manufacturer, d.Product)
	}
}

func run(cfg *config) {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewBuildInfoCollector(),
		versioncollector.NewCollector(program),
	)
	reg.MustRegister(co2mon.Collectors()...)

	if devices, err := (&usbhid.HidScanner{}).Scan(); err == nil {
		for path, d := range devices {
			log.Infof("found sensor %s serial %q", path, d.Serial)
		}
	}

	monitor := co2mon.NewMonitor(
		&usbhid.HidOpener{Path: cfg.devicePath, Serial: cfg.deviceSerial},
		co2mon.Config{OpenBackoff: cfg.openBackoff, ReadTimeout: cfg.readTimeout},
	)
	gauges, err := startMonitor(monitor, cfg.name, reg)
	if err != nil {
		log.Errorf("%s", err)
		return
	}
	defer monitor.Stop()

	runners := []*sink.Runner{
		sink.NewRunner(monitor, gauges),
	}
	publishers := []sink.Publisher{gauges}

	var wg sync.WaitGroup
	if cfg.listenAddr != "" {
		ws := wssink.New(monitor)
		runners = append(runners, sink.NewRunner(monitor, ws))
		publishers = append(publishers, ws)

		server := httpsink.New(monitor, reg, cfg.maxAge)
		server.Router().Handle("/ws", ws)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.ListenAndServe(ctx, cfg.listenAddr); err != nil {
				log.Errorf("%s", err)
				cancel()
			}
		}()
	}

	if cfg.mqttHost != "" {
		p := mqttsink.New(mqttsink.Config{
			Name:      cfg.name,
			Host:      cfg.mqttHost,
			Port:      cfg.mqttPort,
			Username:  cfg.mqttUsername,
			Password:  cfg.mqttPassword,
			KeepAlive: cfg.mqttKeepAlive,
		})
		// a failed first connect is retried on the first publish
		if err := p.Connect(); err != nil {
			log.Errorf("%s: %s", sink.Classify(err), err)
		}
		runners = append(runners, sink.NewRunner(monitor, p,
			sink.WithBackoff(cfg.publishBackoff),
			sink.WithMinInterval(cfg.mqttMinInterval),
		))
		publishers = append(publishers, p)
	}

	if len(cfg.kafkaBrokers) > 0 {
		k := kafkasink.New(cfg.name, cfg.kafkaBrokers, cfg.kafkaTopic)
		runners = append(runners, sink.NewRunner(monitor, k, sink.WithBackoff(cfg.publishBackoff)))
		publishers = append(publishers, k)
	}

	for _, r := range runners {
		wg.Add(1)
		go func(r *sink.Runner) {
			defer wg.Done()
			_ = r.Run(ctx)
		}(r)
	}

	<-ctx.Done()
	log.Info("shutting down")
	wg.Wait()

	for _, p := range publishers {
		if err := p.Close(); err != nil {
			log.Warnf("failed to close %s: %s", p.Name(), err)
		}
	}
}

// startMonitor registers the gauges first so a registration failure never leaves a running worker behind.
func startMonitor(monitor *co2mon.Monitor, name string, reg prometheus.Registerer) (*promsink.Gauges, error) {
	gauges, err := promsink.New(name, reg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to register gauges")
	}
	monitor.Start()
	return gauges, nil
}
