package sink

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/alepar/co2watcher/co2mon"
)

type fakeSource struct {
	mu      sync.Mutex
	reading co2mon.Reading
	sigs    map[*co2mon.Signal]struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{sigs: map[*co2mon.Signal]struct{}{}}
}

func (s *fakeSource) GetData() co2mon.Reading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reading
}

func (s *fakeSource) Subscribe() *co2mon.Signal {
	sig := co2mon.NewSignal()
	s.mu.Lock()
	s.sigs[sig] = struct{}{}
	s.mu.Unlock()
	return sig
}

func (s *fakeSource) Unsubscribe(sig *co2mon.Signal) {
	s.mu.Lock()
	delete(s.sigs, sig)
	s.mu.Unlock()
}

func (s *fakeSource) subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sigs)
}

func (s *fakeSource) update(r co2mon.Reading) {
	s.mu.Lock()
	s.reading = r
	for sig := range s.sigs {
		sig.Set()
	}
	s.mu.Unlock()
}

type fakePublisher struct {
	mu        sync.Mutex
	failFirst int
	attempts  []time.Time
	published chan co2mon.Reading
}

func newFakePublisher(failFirst int) *fakePublisher {
	return &fakePublisher{failFirst: failFirst, published: make(chan co2mon.Reading, 16)}
}

func (p *fakePublisher) Name() string { return "fake" }

func (p *fakePublisher) Publish(ctx context.Context, r co2mon.Reading) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts = append(p.attempts, time.Now())
	if p.failFirst > 0 {
		p.failFirst--
		return &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}
	}
	p.published <- r
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func reading(co2 int) co2mon.Reading {
	return co2mon.Reading{Timestamp: time.Unix(1700000000, 0), CO2: co2, Temperature: 21.456}
}

func waitSubscribed(t *testing.T, src *fakeSource) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for src.subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("runner never subscribed")
		}
		time.Sleep(time.Millisecond)
	}
}

func expectPublished(t *testing.T, pub *fakePublisher) co2mon.Reading {
	t.Helper()
	select {
	case r := <-pub.published:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("nothing published")
		return co2mon.Reading{}
	}
}

func TestRunnerPublishesLatestReading(t *testing.T) {
	src := newFakeSource()
	pub := newFakePublisher(0)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- NewRunner(src, pub).Run(ctx) }()
	waitSubscribed(t, src)

	src.update(reading(800))
	if r := expectPublished(t, pub); r.CO2 != 800 {
		t.Fatalf("published co2 = %d, want 800", r.CO2)
	}
	src.update(reading(900))
	if r := expectPublished(t, pub); r.CO2 != 900 {
		t.Fatalf("published co2 = %d, want 900", r.CO2)
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
	if src.subscribers() != 0 {
		t.Fatal("runner left its subscription behind")
	}
}

func TestRunnerBacksOffAndRetries(t *testing.T) {
	src := newFakeSource()
	pub := newFakePublisher(1)
	backoff := 50 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go NewRunner(src, pub, WithBackoff(backoff)).Run(ctx)
	waitSubscribed(t, src)

	src.update(reading(700))
	if r := expectPublished(t, pub); r.CO2 != 700 {
		t.Fatalf("retried co2 = %d, want 700", r.CO2)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(pub.attempts))
	}
	if gap := pub.attempts[1].Sub(pub.attempts[0]); gap < backoff {
		t.Fatalf("retried after %s, want >= %s", gap, backoff)
	}
}

func TestRunnerStopsDuringBackoff(t *testing.T) {
	src := newFakeSource()
	pub := newFakePublisher(100)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- NewRunner(src, pub, WithBackoff(time.Hour)).Run(ctx) }()
	waitSubscribed(t, src)

	src.update(reading(700))
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunnerMinInterval(t *testing.T) {
	src := newFakeSource()
	pub := newFakePublisher(0)
	interval := 80 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go NewRunner(src, pub, WithMinInterval(interval)).Run(ctx)
	waitSubscribed(t, src)

	src.update(reading(1))
	expectPublished(t, pub)
	start := time.Now()
	src.update(reading(2))
	src.update(reading(3))
	if r := expectPublished(t, pub); r.CO2 != 3 {
		t.Fatalf("published co2 = %d, want latest 3", r.CO2)
	}
	if elapsed := time.Since(start); elapsed < interval/2 {
		t.Fatalf("second publish after %s, want rate limited", elapsed)
	}
}

func TestClassify(t *testing.T) {
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}
	unreachable := &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.EHOSTUNREACH)}
	tests := []struct {
		err  error
		want string
	}{
		{refused, "connection refused"},
		{unreachable, "os error"},
		{&net.DNSError{Err: "no such host", Name: "broker"}, "network error"},
		{errors.New("not authorized"), "publish failed"},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestISOTimestamp(t *testing.T) {
	r := co2mon.Reading{Timestamp: time.Unix(1700000000, 999000000)}
	if got := ISOTimestamp(r); got != "2023-11-14T22:13:20Z" {
		t.Fatalf("ISOTimestamp = %q", got)
	}
	if got := ISOTimestamp(co2mon.Reading{}); got != "1970-01-01T00:00:00Z" {
		t.Fatalf("ISOTimestamp(zero) = %q", got)
	}
}

func TestFormatRounding(t *testing.T) {
	r := co2mon.Reading{Timestamp: time.Unix(1700000000, 600000000), CO2: 612, Temperature: 21.456}
	p := QueryFormat.Payload(r)
	if p.Timestamp != 1700000000 || p.CO2 != 612 || p.Temperature != 21.5 {
		t.Fatalf("Payload = %+v", p)
	}
	if got := MqttFormat.TemperatureString(r.Temperature); got != "21.46" {
		t.Fatalf("TemperatureString = %q", got)
	}
	if got := MqttFormat.TemperatureString(-3.004); got != "-3" {
		t.Fatalf("TemperatureString(-3.004) = %q", got)
	}
}

func TestTemperatureRoundsHalfToEven(t *testing.T) {
	tests := []struct {
		f    Format
		in   float64
		want float64
	}{
		{QueryFormat, 22.25, 22.2},
		{QueryFormat, 22.75, 22.8},
		{QueryFormat, -0.04, 0},
		{MqttFormat, 0.125, 0.12},
		{MqttFormat, 8.100000000000023, 8.1},
	}
	for _, tt := range tests {
		if got := tt.f.Temperature(tt.in); got != tt.want {
			t.Errorf("Temperature(%v) with %d digits = %v, want %v", tt.in, tt.f.TemperatureDigits, got, tt.want)
		}
	}
	if got := QueryFormat.TemperatureString(-0.04); got != "0" {
		t.Errorf("TemperatureString(-0.04) = %q, want \"0\"", got)
	}
}
