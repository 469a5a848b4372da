// Package metrics holds the prometheus collectors for custody state and
// lifecycle events. Collectors register on the default registry at init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"equipment-custody-backend/internal/custody"
)

var (
	activeRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "custody_active_records",
		Help: "Records currently in active custody",
	})
	urgentRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "custody_urgent_records",
		Help: "Active records flagged high priority",
	})
	delayedRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "custody_delayed_records",
		Help: "Active, non-urgent records in custody for more than three days",
	})
	averageDays = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "custody_average_days",
		Help: "Average custody days over active records",
	})

	// Registrations counts records created by registration.
	Registrations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "custody_registrations_total",
		Help: "Records created by registration",
	})
	// Conflicts counts registrations rejected because the code is in custody.
	Conflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "custody_conflicts_total",
		Help: "Registrations rejected for a code already in custody",
	})
	// Exits counts records that left custody.
	Exits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "custody_exits_total",
		Help: "Records that left custody",
	})
	// Notifications counts push deliveries by outcome.
	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_notifications_total",
		Help: "Push notification deliveries by event and outcome",
	}, []string{"event", "outcome"})
)

// ObserveStats publishes a stats snapshot on the custody gauges.
func ObserveStats(s custody.Stats) {
	activeRecords.Set(float64(s.InPreparation))
	urgentRecords.Set(float64(s.Urgent))
	delayedRecords.Set(float64(s.Delayed))
	averageDays.Set(float64(s.AverageDays))
}
