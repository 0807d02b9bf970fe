package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	checkInDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "occupant",
			Name:      "checkin_decisions_total",
			Help:      "Count of check-in decisions by reason.",
		},
		[]string{"reason"},
	)

	checkOutDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "occupant",
			Name:      "checkout_decisions_total",
			Help:      "Count of check-out outcomes by reason.",
		},
		[]string{"reason"},
	)

	sweptRecords = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "occupant",
			Name:      "sweep_closed_total",
			Help:      "Count of attendance records closed by the reconciliation sweep.",
		},
	)

	sweepConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "occupant",
			Name:      "sweep_conflicts_total",
			Help:      "Count of records the sweep found already closed by someone else.",
		},
	)

	occupancyCurrent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "occupant",
			Name:      "occupancy_current",
			Help:      "Members currently inside, as of the last snapshot.",
		},
	)

	occupancyPercentage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "occupant",
			Name:      "occupancy_percentage",
			Help:      "Current occupancy as a rounded percentage of capacity.",
		},
	)

	// Station ids come from clients, so they are not used as a label.
	rateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "occupant",
			Name:      "station_rate_limited_total",
			Help:      "Count of requests rejected by the per-station limiter.",
		},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			checkInDecisions, checkOutDecisions,
			sweptRecords, sweepConflicts,
			occupancyCurrent, occupancyPercentage,
			rateLimited,
		)
	})
}

func IncCheckIn(reason string) {
	checkInDecisions.WithLabelValues(reason).Inc()
}

func IncCheckOut(reason string) {
	checkOutDecisions.WithLabelValues(reason).Inc()
}

func AddSwept(n int) {
	sweptRecords.Add(float64(n))
}

func AddSweepConflicts(n int) {
	sweepConflicts.Add(float64(n))
}

func SetOccupancy(count, percentage int) {
	occupancyCurrent.Set(float64(count))
	occupancyPercentage.Set(float64(percentage))
}

func IncRateLimited() {
	rateLimited.Inc()
}
