package mqttbridge

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func TestGenerateClientIDIsUniqueAndPrefixed(t *testing.T) {
	a := generateClientID()
	b := generateClientID()

	if a == b {
		t.Fatalf("expected distinct client IDs, got %q twice", a)
	}
	const prefix = "microbit_"
	if len(a) <= len(prefix) || a[:len(prefix)] != prefix {
		t.Fatalf("client ID %q missing prefix %q", a, prefix)
	}
}

func TestExtractMetricValue(t *testing.T) {
	gaugeVal := 3.5
	counterVal := 7.0

	g := &dto.Metric{Gauge: &dto.Gauge{Value: &gaugeVal}}
	if v, ok := extractMetricValue(g); !ok || v != gaugeVal {
		t.Fatalf("gauge: got (%v, %v), want (%v, true)", v, ok, gaugeVal)
	}

	c := &dto.Metric{Counter: &dto.Counter{Value: &counterVal}}
	if v, ok := extractMetricValue(c); !ok || v != counterVal {
		t.Fatalf("counter: got (%v, %v), want (%v, true)", v, ok, counterVal)
	}

	if _, ok := extractMetricValue(&dto.Metric{}); ok {
		t.Fatal("expected ok=false for a metric with no recognised type set")
	}
}
