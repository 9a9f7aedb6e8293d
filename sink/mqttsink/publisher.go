package mqttsink

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/alepar/co2watcher/co2mon"
	"github.com/alepar/co2watcher/sink"
)

type Config struct {
	Name      string
	Host      string
	Port      int
	Username  string
	Password  string
	KeepAlive time.Duration

	// bound on each connect and publish round trip
	Timeout time.Duration
}

// Publisher mirrors the latest reading to retained topics under Name, plus an online flag.
type Publisher struct {
	cfg    Config
	broker string
	format sink.Format
	client mqtt.Client

	mu        sync.Mutex
	connected bool
}

func New(cfg Config) *Publisher {
	p := newPublisher(cfg, nil)

	opts := mqtt.NewClientOptions().
		AddBroker(p.broker).
		SetClientID(cfg.Name).
		SetKeepAlive(cfg.KeepAlive).
		SetConnectTimeout(p.cfg.Timeout).
		SetAutoReconnect(false).
		SetWill(p.topic("online"), "false", 0, true).
		SetConnectionLostHandler(p.onConnectionLost)
	if cfg.Username != "" && cfg.Password != "" {
		opts.SetUsername(cfg.Username).SetPassword(cfg.Password)
	}
	p.client = mqtt.NewClient(opts)
	return p
}

func newPublisher(cfg Config, client mqtt.Client) *Publisher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Publisher{
		cfg:    cfg,
		broker: fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port),
		format: sink.MqttFormat,
		client: client,
	}
}

func (p *Publisher) Name() string {
	return "mqtt:" + p.cfg.Name
}

func (p *Publisher) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *Publisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

func (p *Publisher) onConnectionLost(_ mqtt.Client, err error) {
	p.setConnected(false)
	log.Errorf("lost connection to %s: %s", p.broker, err)
}

// Connect dials the broker and announces the sink as online.
func (p *Publisher) Connect() error {
	log.Infof("connecting to %s as %s", p.broker, p.cfg.Name)
	if err := p.wait(p.client.Connect()); err != nil {
		return errors.Wrapf(err, "couldn't connect to %s", p.broker)
	}
	p.setConnected(true)
	log.Infof("connected to %s", p.broker)
	return p.send(p.topic("online"), "true")
}

func (p *Publisher) Publish(ctx context.Context, r co2mon.Reading) error {
	if !p.Connected() {
		if err := p.Connect(); err != nil {
			return err
		}
	}
	for _, m := range messages(p.cfg.Name, p.format, r) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := p.send(m.topic, m.payload); err != nil {
			p.setConnected(p.client.IsConnected())
			return err
		}
	}
	return nil
}

// Close marks the sink offline and disconnects.
func (p *Publisher) Close() error {
	if !p.Connected() {
		return nil
	}
	err := p.send(p.topic("online"), "false")
	p.client.Disconnect(250)
	p.setConnected(false)
	return err
}

func (p *Publisher) send(topic string, payload string) error {
	if err := p.wait(p.client.Publish(topic, 0, true, payload)); err != nil {
		return errors.Wrapf(err, "failed to publish %s", topic)
	}
	return nil
}

func (p *Publisher) wait(token mqtt.Token) error {
	if !token.WaitTimeout(p.cfg.Timeout) {
		return errors.Errorf("no response within %s", p.cfg.Timeout)
	}
	return token.Error()
}

func (p *Publisher) topic(field string) string {
	return p.cfg.Name + "/" + field
}

type message struct {
	topic   string
	payload string
}

func messages(name string, format sink.Format, r co2mon.Reading) []message {
	return []message{
		{name + "/co2", strconv.Itoa(r.CO2)},
		{name + "/temperature", format.TemperatureString(r.Temperature)},
		{name + "/timestamp", sink.ISOTimestamp(r)},
	}
}
