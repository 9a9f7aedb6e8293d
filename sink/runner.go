package sink

import (
	"context"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const DefaultPublishBackoff = 5 * time.Second

// Runner forwards every new reading from a Source to a Publisher.
type Runner struct {
	src     Source
	pub     Publisher
	backoff time.Duration
	limit   *rate.Limiter
}

type Option func(r *Runner)

func WithBackoff(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.backoff = d
		}
	}
}

// WithMinInterval caps the publish rate. Readings arriving faster are skipped, never queued.
func WithMinInterval(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.limit = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

func NewRunner(src Source, pub Publisher, opts ...Option) *Runner {
	r := &Runner{
		src:     src,
		pub:     pub,
		backoff: DefaultPublishBackoff,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run publishes until ctx is cancelled. Publish failures never stop the loop.
func (r *Runner) Run(ctx context.Context) error {
	sig := r.src.Subscribe()
	defer r.src.Unsubscribe(sig)

	logger := log.WithField("sink", r.pub.Name())
	for {
		if !sig.WaitContext(ctx) || ctx.Err() != nil {
			return ctx.Err()
		}
		if r.limit != nil {
			if err := r.limit.Wait(ctx); err != nil {
				return ctx.Err()
			}
		}

		// clear before the snapshot so an update racing the publish sets the flag again
		sig.Clear()
		reading := r.src.GetData()

		err := r.pub.Publish(ctx, reading)
		if err == nil {
			logger.Debugf("published co2=%d temperature=%.2f", reading.CO2, reading.Temperature)
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Errorf("%s, retrying in %s: %s", Classify(err), r.backoff, err)

		// retry with whatever is latest once the backoff is over
		sig.Set()
		t := time.NewTimer(r.backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Classify names the kind of transport failure for log messages.
func Classify(err error) string {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return "connection refused"
	}
	var sysErr *os.SyscallError
	if errors.As(err, &sysErr) {
		return "os error"
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return "network error"
	}
	return "publish failed"
}
