package metrics_test

import (
	"testing"

	"github.com/ardanlabs/fullnode/foundation/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func Test_Register(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.StoreOutcomes.WithLabelValues("eos", "accepted").Inc()
	m.PeakHeight.Set(42)

	if got := testutil.ToFloat64(m.StoreOutcomes.WithLabelValues("eos", "accepted")); got != 1 {
		t.Fatalf("Should count the outcome: got %v", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Should be able to gather: %s", err)
	}

	var found bool
	for _, mf := range families {
		if mf.GetName() == "fullnode_chain_peak_height" {
			found = mf.GetMetric()[0].GetGauge().GetValue() == 42
		}
	}
	if !found {
		t.Fatalf("Should gather the peak height.")
	}

	metrics.New(nil).Peaks.Inc()
}
