package co2mon

import "github.com/prometheus/client_golang/prometheus"

var (
	openFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "co2mon_device_open_failures_total",
		Help: "Number of failed attempts to open the sensor.",
	})
	readFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "co2mon_device_read_failures_total",
		Help: "Number of polling sessions aborted by a read timeout or I/O error.",
	})
	framesDiscarded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "co2mon_frames_discarded_total",
		Help: "Number of malformed frames dropped.",
	})
	readingsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "co2mon_readings_total",
		Help: "Number of complete readings taken from the sensor.",
	})
)

// Collectors returns the monitor's metrics for registration by the caller.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{openFailures, readFailures, framesDiscarded, readingsTotal}
}
