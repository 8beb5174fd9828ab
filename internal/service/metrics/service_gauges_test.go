package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterGaugesSamplesAtScrape(t *testing.T) {
	reg := prometheus.NewRegistry()
	n := 1
	if err := RegisterGauges(reg, "prediction", PredictionGauges(func() int { return n }, func() int { return 4 }, func() int { return 0 })...); err != nil {
		t.Fatal(err)
	}
	n = 3

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]float64{}
	for _, f := range families {
		got[f.GetName()] = f.GetMetric()[0].GetGauge().GetValue()
	}
	if got["coinpulse_prediction_active_models"] != 3 || got["coinpulse_prediction_cached_artifacts"] != 4 {
		t.Fatalf("gauges %v", got)
	}

	if err := RegisterGauges(reg, "prediction", PredictionGauges(func() int { return 0 }, func() int { return 0 }, func() int { return 0 })...); err == nil {
		t.Fatal("duplicate registration should fail")
	}
}
