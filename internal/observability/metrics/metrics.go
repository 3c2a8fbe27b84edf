package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "identitycore_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "identitycore_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	loginAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "identitycore_login_attempts_total",
		Help: "Login attempts by outcome code",
	}, []string{"result"})

	accountLockouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "identitycore_account_lockouts_total",
		Help: "Accounts moved into the locked state after repeated failures",
	})

	tokenVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "identitycore_token_verifications_total",
		Help: "Bearer token verifications by outcome",
	}, []string{"result"})

	tokenRevocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "identitycore_token_revocations_total",
		Help: "Token revocations by outcome",
	}, []string{"result"})

	cacheOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "identitycore_cache_operations_total",
		Help: "Cache layer calls by operation and result",
	}, []string{"op", "result"})

	snapshotLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "identitycore_snapshot_lookups_total",
		Help: "Permission snapshot reads by cache outcome",
	}, []string{"result"})

	snapshotLoadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "identitycore_snapshot_load_duration_seconds",
		Help:    "Time to rebuild a permission snapshot from the credential store",
		Buckets: prometheus.DefBuckets,
	})

	authorizationDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "identitycore_authorization_denials_total",
		Help: "Requests rejected by the gate, by error code",
	}, []string{"code"})

	cacheBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "identitycore_cache_breaker_state",
		Help: "Cache circuit breaker state (0 closed, 1 open, 2 half-open)",
	})
)

// ObserveHTTPRequest records an HTTP request metric
func ObserveHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// ObserveLogin counts a login attempt; result is "success" or an error code.
func ObserveLogin(result string) {
	loginAttempts.WithLabelValues(result).Inc()
}

// IncrementLockouts counts an Unlocked -> Locked transition.
func IncrementLockouts() {
	accountLockouts.Inc()
}

// ObserveTokenVerification counts a verification outcome.
func ObserveTokenVerification(result string) {
	tokenVerifications.WithLabelValues(result).Inc()
}

// ObserveTokenRevocation counts a revocation outcome.
func ObserveTokenRevocation(result string) {
	tokenRevocations.WithLabelValues(result).Inc()
}

// ObserveCache counts a cache layer call.
func ObserveCache(op, result string) {
	cacheOperations.WithLabelValues(op, result).Inc()
}

// ObserveSnapshot counts a snapshot read as "hit" or "miss".
func ObserveSnapshot(result string) {
	snapshotLookups.WithLabelValues(result).Inc()
}

// ObserveSnapshotLoad records how long a cache-miss rebuild took.
func ObserveSnapshotLoad(d time.Duration) {
	snapshotLoadDuration.Observe(d.Seconds())
}

// ObserveDenial counts a gate rejection.
func ObserveDenial(code string) {
	authorizationDenials.WithLabelValues(code).Inc()
}

// SetCacheBreakerState publishes the breaker state.
func SetCacheBreakerState(state int) {
	cacheBreakerState.Set(float64(state))
}
