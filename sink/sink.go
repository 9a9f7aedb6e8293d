package sink

import (
	"context"

	"github.com/alepar/co2watcher/co2mon"
)

// Source is the read side of the monitor. *co2mon.Monitor satisfies it.
type Source interface {
	GetData() co2mon.Reading
	Subscribe() *co2mon.Signal
	Unsubscribe(s *co2mon.Signal)
}

type Publisher interface {
	Name() string

	// forwards one reading downstream; a returned error triggers the publish backoff
	Publish(ctx context.Context, r co2mon.Reading) error

	Close() error
}
