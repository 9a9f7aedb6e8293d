package co2mon

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultOpenBackoff = 3 * time.Second
	DefaultReadTimeout = 10 * time.Second
)

type Config struct {
	// pause before reopening the device after an open or read failure
	OpenBackoff time.Duration

	// upper bound on a single frame read; also bounds how long Stop waits
	ReadTimeout time.Duration
}

// Monitor polls the sensor on a background goroutine and keeps the latest complete reading.
type Monitor struct {
	opener Opener
	cfg    Config
	now    func() time.Time

	dataMu  sync.Mutex
	reading Reading

	updated *Signal

	subsMu sync.Mutex
	subs   map[*Signal]struct{}

	runMu sync.Mutex
	stop  chan struct{}
	done  chan struct{}
}

func NewMonitor(opener Opener, cfg Config) *Monitor {
	if cfg.OpenBackoff <= 0 {
		cfg.OpenBackoff = DefaultOpenBackoff
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	return &Monitor{
		opener:  opener,
		cfg:     cfg,
		now:     time.Now,
		updated: NewSignal(),
		subs:    map[*Signal]struct{}{},
	}
}

// Start launches the worker. It does nothing if a worker is already running.
func (m *Monitor) Start() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.done != nil {
		return
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.worker(m.stop, m.done)
}

// Stop asks the worker to exit and waits until it has released the device.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.done == nil {
		return
	}
	close(m.stop)
	<-m.done
	m.stop, m.done = nil, nil
}

func (m *Monitor) Running() bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.done != nil
}

func (m *Monitor) GetData() Reading {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	return m.reading
}

// WaitForUpdate blocks until a reading completed since the last ClearUpdate, or timeout elapses.
// A negative timeout waits forever.
func (m *Monitor) WaitForUpdate(timeout time.Duration) bool {
	return m.updated.Wait(timeout)
}

func (m *Monitor) ClearUpdate() {
	m.updated.Clear()
}

// Subscribe returns a private signal that is set on every complete reading.
func (m *Monitor) Subscribe() *Signal {
	s := NewSignal()
	m.subsMu.Lock()
	m.subs[s] = struct{}{}
	m.subsMu.Unlock()
	return s
}

func (m *Monitor) Unsubscribe(s *Signal) {
	m.subsMu.Lock()
	delete(m.subs, s)
	m.subsMu.Unlock()
}

func (m *Monitor) worker(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		err := m.session(stop)
		if err == nil || stopped(stop) {
			return
		}
		log.Error(err)
		if !sleep(stop, m.cfg.OpenBackoff) {
			return
		}
	}
}

// session opens the device and polls it until stop is closed (nil) or the device fails.
func (m *Monitor) session(stop <-chan struct{}) error {
	if stopped(stop) {
		return nil
	}
	log.Info("opening device")
	dev, err := m.opener.Open()
	if err != nil {
		openFailures.Inc()
		return &OpenError{Err: err}
	}
	defer func() {
		log.Info("closing device")
		if err := dev.Close(); err != nil {
			log.Warnf("failed to close device: %s", err)
		}
	}()

	var c cycle
	for !stopped(stop) {
		frame, err := dev.ReadFrame(m.cfg.ReadTimeout)
		if err != nil {
			readFailures.Inc()
			return &ReadError{Err: err}
		}
		complete, err := c.feed(frame)
		if err != nil {
			framesDiscarded.Inc()
			log.Debugf("discarding frame %x: %s", frame, err)
			continue
		}
		if complete {
			m.store(c.co2, c.temperature)
			c.reset()
		}
	}
	return nil
}

func (m *Monitor) store(co2 int, temperature float64) {
	ts := m.now()
	m.dataMu.Lock()
	if ts.Before(m.reading.Timestamp) {
		ts = m.reading.Timestamp
	}
	m.reading = Reading{Timestamp: ts, CO2: co2, Temperature: temperature}
	m.dataMu.Unlock()

	readingsTotal.Inc()
	log.Infof("read data co2=%d temperature=%.2f", co2, temperature)

	m.updated.Set()
	m.subsMu.Lock()
	for s := range m.subs {
		s.Set()
	}
	m.subsMu.Unlock()
}

func stopped(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

// sleep waits for d and returns false if stop was closed first.
func sleep(stop <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-stop:
		return false
	case <-t.C:
		return true
	}
}
