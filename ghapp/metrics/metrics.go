// Package metrics provides Prometheus metrics for the credential lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Result labels for metrics.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Cache lookup labels.
const (
	CacheHit  = "hit"
	CacheMiss = "miss"
)

const namespace = "ghapp"

var (
	// JWTRotationsTotal counts JWT regenerations per application.
	JWTRotationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jwt",
			Name:      "rotations_total",
			Help:      "Total number of JWT regenerations",
		},
		[]string{"app_id", "result"},
	)

	// InstallationLookupsTotal counts installation cache lookups.
	InstallationLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "installations",
			Name:      "lookups_total",
			Help:      "Total number of installation cache lookups",
		},
		[]string{"cache"},
	)

	// TokensIssuedTotal counts installation token issuance attempts.
	TokensIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tokens",
			Name:      "issued_total",
			Help:      "Total number of installation tokens issued for builds",
		},
		[]string{"result"},
	)

	// TokensRevokedTotal counts installation token revocations.
	TokensRevokedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tokens",
			Name:      "revoked_total",
			Help:      "Total number of installation token revocations",
		},
		[]string{"result"},
	)

	// LockTimeoutsTotal counts build lock acquisitions that timed out.
	LockTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tokens",
			Name:      "lock_timeouts_total",
			Help:      "Number of times a build lock could not be acquired in time",
		},
	)

	// SweepRunsTotal counts revocation sweeps.
	SweepRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "runs_total",
			Help:      "Total number of revocation sweeps",
		},
		[]string{"result"},
	)

	// StoredTokensGauge tracks the number of tokens found in the token store by the last sweep.
	StoredTokensGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "stored_tokens",
			Help:      "Number of stored tokens seen by the last revocation sweep",
		},
	)

	// APIRequestsTotal counts requests sent to GitHub.
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "github",
			Name:      "requests_total",
			Help:      "Total number of GitHub API requests",
		},
		[]string{"operation", "result"},
	)
)

// Collectors returns every metric of the package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		JWTRotationsTotal,
		InstallationLookupsTotal,
		TokensIssuedTotal,
		TokensRevokedTotal,
		LockTimeoutsTotal,
		SweepRunsTotal,
		StoredTokensGauge,
		APIRequestsTotal,
	}
}

// Register registers every metric with reg.
func Register(reg prometheus.Registerer) error {
	for _, collector := range Collectors() {
		if err := reg.Register(collector); err != nil {
			return err
		}
	}

	return nil
}

func result(success bool) string {
	if success {
		return ResultSuccess
	}

	return ResultFailure
}

// IncrementJWTRotations increments the JWT rotation counter.
func IncrementJWTRotations(appID string, success bool) {
	JWTRotationsTotal.WithLabelValues(appID, result(success)).Inc()
}

// IncrementInstallationLookups increments the installation lookup counter.
func IncrementInstallationLookups(hit bool) {
	label := CacheMiss
	if hit {
		label = CacheHit
	}
	InstallationLookupsTotal.WithLabelValues(label).Inc()
}

// IncrementTokensIssued increments the token issuance counter.
func IncrementTokensIssued(success bool) {
	TokensIssuedTotal.WithLabelValues(result(success)).Inc()
}

// IncrementTokensRevoked increments the token revocation counter.
func IncrementTokensRevoked(success bool) {
	TokensRevokedTotal.WithLabelValues(result(success)).Inc()
}

// IncrementLockTimeouts increments the lock timeout counter.
func IncrementLockTimeouts() {
	LockTimeoutsTotal.Inc()
}

// IncrementSweepRuns increments the sweep counter.
func IncrementSweepRuns(success bool) {
	SweepRunsTotal.WithLabelValues(result(success)).Inc()
}

// SetStoredTokens sets the number of stored tokens.
func SetStoredTokens(count int) {
	StoredTokensGauge.Set(float64(count))
}

// IncrementAPIRequests increments the GitHub request counter.
func IncrementAPIRequests(operation string, success bool) {
	APIRequestsTotal.WithLabelValues(operation, result(success)).Inc()
}
