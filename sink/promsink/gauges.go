package promsink

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/alepar/co2watcher/co2mon"
)

// Gauges exports the latest reading as Prometheus gauges labeled with the monitor name.
type Gauges struct {
	name        string
	co2         *prometheus.GaugeVec
	temperature *prometheus.GaugeVec
	timestamp   *prometheus.GaugeVec
}

func newGauge(name string, help string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: name,
			Help: help,
		},
		[]string{"name"},
	)
}

func New(name string, reg prometheus.Registerer) (*Gauges, error) {
	g := &Gauges{
		name:        name,
		co2:         newGauge("air_co2_level", "Air Carbon Dioxide level (units: ppm)"),
		temperature: newGauge("air_temperature", "Air Temperature (units: degrees Celsius)"),
		timestamp:   newGauge("air_last_reading_timestamp_seconds", "Unix time of the last complete reading"),
	}
	for _, c := range []prometheus.Collector{g.co2, g.temperature, g.timestamp} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (g *Gauges) Name() string {
	return "prometheus"
}

func (g *Gauges) Publish(_ context.Context, r co2mon.Reading) error {
	g.co2.WithLabelValues(g.name).Set(float64(r.CO2))
	g.temperature.WithLabelValues(g.name).Set(r.Temperature)
	g.timestamp.WithLabelValues(g.name).Set(float64(r.UnixSeconds()))
	return nil
}

func (g *Gauges) Close() error {
	return nil
}
