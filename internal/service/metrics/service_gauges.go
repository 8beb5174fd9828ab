package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Gauge is a named reading of in-process state, sampled at scrape time.
type Gauge struct {
	Name string
	Help string
	Read func() float64
}

// RegisterGauges exposes each reading as coinpulse_<service>_<name>.
func RegisterGauges(reg prometheus.Registerer, service string, gauges ...Gauge) error {
	for _, g := range gauges {
		c := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "coinpulse",
			Subsystem: service,
			Name:      g.Name,
			Help:      g.Help,
		}, g.Read)
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func PredictionGauges(activeModels, cachedArtifacts, bufferedEvents func() int) []Gauge {
	return []Gauge{
		{Name: "active_models", Help: "Active models in the current snapshot", Read: asFloat(activeModels)},
		{Name: "cached_artifacts", Help: "Deserialized artifacts held in memory", Read: asFloat(cachedArtifacts)},
		{Name: "buffered_events", Help: "Metric events waiting for a retry", Read: asFloat(bufferedEvents)},
	}
}

func TrainingGauges(runningJobs, stuckJobs func() int) []Gauge {
	return []Gauge{
		{Name: "worker_running_jobs", Help: "Jobs executing in this process", Read: asFloat(runningJobs)},
		{Name: "observed_stuck_jobs", Help: "Stuck jobs at the last monitor check", Read: asFloat(stuckJobs)},
	}
}

func asFloat(fn func() int) func() float64 {
	return func() float64 { return float64(fn()) }
}
