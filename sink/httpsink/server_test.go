package httpsink

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/alepar/co2watcher/co2mon"
)

type staticSource co2mon.Reading

func (s staticSource) GetData() co2mon.Reading { return co2mon.Reading(s) }

func get(t *testing.T, h http.Handler, path string) *http.Response {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr.Result()
}

func TestGetReading(t *testing.T) {
	src := staticSource{Timestamp: time.Unix(1700000000, 750000000), CO2: 812, Temperature: 22.349}
	h := New(src, prometheus.NewRegistry(), 0).Handler(io.Discard)

	res := get(t, h, "/")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type %q", ct)
	}

	var payload map[string]json.Number
	dec := json.NewDecoder(res.Body)
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	want := map[string]string{"timestamp": "1700000000", "co2": "812", "temperature": "22.3"}
	for k, v := range want {
		if payload[k].String() != v {
			t.Errorf("%s = %s, want %s", k, payload[k], v)
		}
	}
}

func TestGetReadingBeforeFirstRead(t *testing.T) {
	h := New(staticSource{}, prometheus.NewRegistry(), 0).Handler(io.Discard)
	res := get(t, h, "/")

	var payload struct {
		Timestamp   int64
		CO2         int
		Temperature float64
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if payload.Timestamp != 0 || payload.CO2 != 0 || payload.Temperature != 0 {
		t.Fatalf("expected zero reading, got %+v", payload)
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name string
		src  staticSource
		want int
		body string
	}{
		{"no data", staticSource{}, http.StatusServiceUnavailable, "NO_DATA"},
		{"stale", staticSource{Timestamp: time.Now().Add(-time.Hour), CO2: 500}, http.StatusServiceUnavailable, "STALE"},
		{"fresh", staticSource{Timestamp: time.Now(), CO2: 500}, http.StatusOK, "OK"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := get(t, New(tt.src, prometheus.NewRegistry(), time.Minute).Handler(io.Discard), "/healthz")
			if res.StatusCode != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, res.StatusCode)
			}
			body, err := io.ReadAll(res.Body)
			if err != nil {
				t.Fatalf("read body: %v", err)
			}
			if string(body) != tt.body {
				t.Fatalf("body %q, want %q", body, tt.body)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "test"})
	g.Set(42)
	reg.MustRegister(g)

	res := get(t, New(staticSource{}, reg, 0).Handler(io.Discard), "/metrics")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), "test_gauge 42") {
		t.Fatalf("metrics output missing gauge:\n%s", body)
	}
}

func TestRejectsOtherMethods(t *testing.T) {
	rr := httptest.NewRecorder()
	New(staticSource{}, prometheus.NewRegistry(), 0).Handler(io.Discard).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}
