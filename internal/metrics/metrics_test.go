package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gaugeValue(t *testing.T, name string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			require.NotEmpty(t, mf.GetMetric())
			m := mf.GetMetric()[0]
			if g := m.GetGauge(); g != nil {
				return g.GetValue()
			}
			return m.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not registered", name)
	return 0
}

func TestRegisterIsIdempotent(t *testing.T) {
	Register()
	Register()

	before := gaugeValue(t, "occupant_sweep_closed_total")
	AddSwept(3)
	assert.Equal(t, before+3, gaugeValue(t, "occupant_sweep_closed_total"))

	SetOccupancy(7, 70)
	assert.Equal(t, 7.0, gaugeValue(t, "occupant_occupancy_current"))
	assert.Equal(t, 70.0, gaugeValue(t, "occupant_occupancy_percentage"))
}

func TestRateLimitedHasNoStationLabel(t *testing.T) {
	Register()

	before := gaugeValue(t, "occupant_station_rate_limited_total")
	IncRateLimited()
	IncRateLimited()
	assert.Equal(t, before+2, gaugeValue(t, "occupant_station_rate_limited_total"))

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "occupant_station_rate_limited_total" {
			require.Len(t, mf.GetMetric(), 1)
			assert.Empty(t, mf.GetMetric()[0].GetLabel())
		}
	}
}
