package main

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/alepar/co2watcher/co2mon"
	"github.com/alepar/co2watcher/sink"
)

const envPrefix = "CO2WATCHER_"

type config struct {
	name       string
	listenAddr string
	logLevel   log.Level

	devicePath   string
	deviceSerial string
	openBackoff  time.Duration
	readTimeout  time.Duration

	publishBackoff time.Duration
	maxAge         time.Duration

	mqttHost        string
	mqttPort        int
	mqttUsername    string
	mqttPassword    string
	mqttKeepAlive   time.Duration
	mqttMinInterval time.Duration

	kafkaBrokers []string
	kafkaTopic   string

	listDevices bool
	showVersion bool
}

// loadConfig parses flags. Every flag can also be set through CO2WATCHER_<FLAG_NAME>; flags win over env.
func loadConfig(args []string) (*config, error) {
	cfg := &config{}
	var logLevel string

	fs := pflag.NewFlagSet("co2watcher", pflag.ContinueOnError)
	fs.StringVar(&cfg.name, "name", "co2monitor", "monitor name, used as MQTT client id and topic prefix")
	fs.StringVar(&cfg.listenAddr, "listen-address", ":23423", "address for the HTTP query, metrics and websocket endpoints; empty disables HTTP")
	fs.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	fs.StringVar(&cfg.devicePath, "device-path", "", "hidraw path of the sensor; default is the first matching device")
	fs.StringVar(&cfg.deviceSerial, "device-serial", "", "serial number of the sensor to open")
	fs.DurationVar(&cfg.openBackoff, "open-backoff", co2mon.DefaultOpenBackoff, "pause before reopening the sensor after a failure")
	fs.DurationVar(&cfg.readTimeout, "read-timeout", co2mon.DefaultReadTimeout, "timeout of a single sensor read")

	fs.DurationVar(&cfg.publishBackoff, "publish-backoff", sink.DefaultPublishBackoff, "pause before retrying a failed publish")
	fs.DurationVar(&cfg.maxAge, "max-age", 5*time.Minute, "oldest reading /healthz still reports as healthy; 0 disables the check")

	fs.StringVar(&cfg.mqttHost, "mqtt-host", "", "MQTT broker host; empty disables MQTT")
	fs.IntVar(&cfg.mqttPort, "mqtt-port", 1883, "MQTT broker port")
	fs.StringVar(&cfg.mqttUsername, "mqtt-username", "", "MQTT username")
	fs.StringVar(&cfg.mqttPassword, "mqtt-password", "", "MQTT password")
	fs.DurationVar(&cfg.mqttKeepAlive, "mqtt-keepalive", 60*time.Second, "MQTT keepalive interval")
	fs.DurationVar(&cfg.mqttMinInterval, "mqtt-min-interval", 0, "minimum time between MQTT publishes; 0 publishes every reading")

	fs.StringSliceVar(&cfg.kafkaBrokers, "kafka-brokers", nil, "comma-separated Kafka brokers; empty disables Kafka")
	fs.StringVar(&cfg.kafkaTopic, "kafka-topic", "co2.readings", "Kafka topic for readings")

	fs.BoolVar(&cfg.listDevices, "list-devices", false, "list attached sensors and exit")
	fs.BoolVar(&cfg.showVersion, "version", false, "print version information and exit")

	var envErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if v, ok := os.LookupEnv(envName(f.Name)); ok && envErr == nil {
			if err := fs.Set(f.Name, v); err != nil {
				envErr = errors.Wrapf(err, "invalid %s", envName(f.Name))
			}
		}
	})
	if envErr != nil {
		return nil, envErr
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	level, err := log.ParseLevel(logLevel)
	if err != nil {
		return nil, errors.Wrap(err, "invalid log level")
	}
	cfg.logLevel = level

	if cfg.name == "" {
		return nil, errors.New("name must not be empty")
	}
	if cfg.mqttHost != "" && (cfg.mqttPort <= 0 || cfg.mqttPort > 65535) {
		return nil, errors.Errorf("invalid mqtt port %d", cfg.mqttPort)
	}
	if len(cfg.kafkaBrokers) > 0 && cfg.kafkaTopic == "" {
		return nil, errors.New("kafka topic must be set when brokers are configured")
	}
	return cfg, nil
}

func envName(flag string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}
