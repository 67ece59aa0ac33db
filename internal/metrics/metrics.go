package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeAllowed = "allowed"
	OutcomeDenied  = "denied"
)

var (
	authzDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "authz",
		Name:      "decisions_total",
		Help:      "Authorization decisions by outcome.",
	}, []string{"outcome"})

	consentChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "authz",
		Name:      "consent_checks_total",
		Help:      "Consent validity checks by outcome.",
	}, []string{"outcome"})

	breakGlassGrants = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "authz",
		Name:      "break_glass_grants_total",
		Help:      "Break-glass emergency grants issued.",
	})
)

func AuthzDecision(outcome string) {
	authzDecisions.WithLabelValues(outcome).Inc()
}

func ConsentCheck(valid bool) {
	if valid {
		consentChecks.WithLabelValues(OutcomeAllowed).Inc()
	} else {
		consentChecks.WithLabelValues(OutcomeDenied).Inc()
	}
}

func BreakGlassGranted() {
	breakGlassGrants.Inc()
}
