package sink

import (
	"strconv"
	"time"

	"github.com/alepar/co2watcher/co2mon"
)

const isoLayout = "2006-01-02T15:04:05Z"

// Format is the rendering policy of one sink.
type Format struct {
	TemperatureDigits int
}

var (
	QueryFormat = Format{TemperatureDigits: 1}
	MqttFormat  = Format{TemperatureDigits: 2}
)

type Payload struct {
	Timestamp   int64   `json:"timestamp"`
	CO2         int     `json:"co2"`
	Temperature float64 `json:"temperature"`
}

// Temperature rounds to TemperatureDigits decimals. Exact binary halves round to even (22.25 -> 22.2).
func (f Format) Temperature(celsius float64) float64 {
	v, err := strconv.ParseFloat(strconv.FormatFloat(celsius, 'f', f.TemperatureDigits, 64), 64)
	if err != nil || v == 0 {
		// also folds -0 into 0
		return 0
	}
	return v
}

func (f Format) TemperatureString(celsius float64) string {
	return strconv.FormatFloat(f.Temperature(celsius), 'f', -1, 64)
}

func (f Format) Payload(r co2mon.Reading) Payload {
	return Payload{
		Timestamp:   r.UnixSeconds(),
		CO2:         r.CO2,
		Temperature: f.Temperature(r.Temperature),
	}
}

// ISOTimestamp renders the reading time in UTC, whole seconds, with a trailing Z.
func ISOTimestamp(r co2mon.Reading) string {
	return time.Unix(r.UnixSeconds(), 0).UTC().Format(isoLayout)
}

// Message is the self-describing form sent to streaming sinks.
type Message struct {
	Payload
	Time string `json:"time"`
}

func (f Format) Message(r co2mon.Reading) Message {
	return Message{Payload: f.Payload(r), Time: ISOTimestamp(r)}
}
