// Package metrics exposes Prometheus collectors for slot occupancy and
// waitlist admission outcomes.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "vendor_directory"

// Outcome label values.
const (
	OutcomeOK                 = "ok"
	OutcomeCapacityExceeded   = "capacity_exceeded"
	OutcomeDuplicate          = "duplicate"
	OutcomeSlotAvailable      = "slot_available"
	OutcomeNoSlot             = "no_slot"
	OutcomeNoEligible         = "no_eligible"
	OutcomeInvalidTransition  = "invalid_transition"
	OutcomeNotificationFailed = "notification_failed"
	OutcomeError              = "error"
)

var (
	occupiedSlots = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "occupied_slots",
		Help:      "Active vendors observed at the last capacity read.",
	})

	slotCeiling = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "slot_ceiling",
		Help:      "Configured maximum of concurrently active vendors.",
	})

	registrations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "registrations_total",
		Help:      "Direct vendor registration attempts by outcome.",
	}, []string{"outcome"})

	waitlistSignups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "waitlist_signups_total",
		Help:      "Waitlist signup attempts by outcome.",
	}, []string{"outcome"})

	promotions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "waitlist_promotions_total",
		Help:      "Waitlist promotion attempts by outcome.",
	}, []string{"outcome"})

	expired = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "waitlist_expired_total",
		Help:      "Notified entries moved to EXPIRED by the sweeper.",
	})

	notificationFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notification_failures_total",
		Help:      "Failed applicant notifications by message kind.",
	}, []string{"kind"})
)

var registerOnce sync.Once

// Register adds all collectors to reg. Only the first call has an effect.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(occupiedSlots)
		reg.MustRegister(slotCeiling)
		reg.MustRegister(registrations)
		reg.MustRegister(waitlistSignups)
		reg.MustRegister(promotions)
		reg.MustRegister(expired)
		reg.MustRegister(notificationFailures)
	})
}

func RecordOccupancy(occupied, ceiling int) {
	occupiedSlots.Set(float64(occupied))
	slotCeiling.Set(float64(ceiling))
}

func RecordRegistration(outcome string) {
	registrations.WithLabelValues(outcome).Inc()
}

func RecordWaitlistSignup(outcome string) {
	waitlistSignups.WithLabelValues(outcome).Inc()
}

func RecordPromotion(outcome string) {
	promotions.WithLabelValues(outcome).Inc()
}

func RecordExpired(n int) {
	expired.Add(float64(n))
}

func RecordNotificationFailure(kind string) {
	notificationFailures.WithLabelValues(kind).Inc()
}
