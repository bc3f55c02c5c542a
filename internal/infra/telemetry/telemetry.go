package telemetry

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// PolicyMetricsOptions configures the password expiration collectors.
type PolicyMetricsOptions struct {
	Registerer prometheus.Registerer
	Namespace  string
}

// PolicyMetrics counts password expiration decisions. A nil receiver records nothing.
type PolicyMetrics struct {
	Warnings       *prometheus.CounterVec
	ForcedLogouts  *prometheus.CounterVec
	Redirects      *prometheus.CounterVec
	Replications   *prometheus.CounterVec
	ReplicationErr prometheus.Counter
}

func NewPolicyMetrics(opts PolicyMetricsOptions) (*PolicyMetrics, error) {
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "password_expire"
	}

	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	warnings, err := RegisterOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "warnings_total",
		Help:      "Expiration warnings shown to users partitioned by state.",
	}, []string{"state"}))
	if err != nil {
		return nil, err
	}

	logouts, err := RegisterOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "forced_logouts_total",
		Help:      "Logins refused because the password must change, partitioned by reason.",
	}, []string{"reason"}))
	if err != nil {
		return nil, err
	}

	redirects, err := RegisterOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "redirects_total",
		Help:      "Redirects issued after a forced logout partitioned by target.",
	}, []string{"target"}))
	if err != nil {
		return nil, err
	}

	replications, err := RegisterOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "replications_total",
		Help:      "Sibling database writes partitioned by handler and outcome.",
	}, []string{"handler", "outcome"}))
	if err != nil {
		return nil, err
	}

	replicationErr, err := RegisterOrReuse(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "replication_failures_total",
		Help:      "Fan-outs aborted by a sibling database error.",
	}))
	if err != nil {
		return nil, err
	}

	return &PolicyMetrics{
		Warnings:       warnings,
		ForcedLogouts:  logouts,
		Redirects:      redirects,
		Replications:   replications,
		ReplicationErr: replicationErr,
	}, nil
}

func (m *PolicyMetrics) Warning(state string) {
	if m == nil {
		return
	}
	m.Warnings.WithLabelValues(state).Inc()
}

func (m *PolicyMetrics) ForcedLogout(reasons ...string) {
	if m == nil {
		return
	}
	for _, reason := range reasons {
		m.ForcedLogouts.WithLabelValues(reason).Inc()
	}
}

func (m *PolicyMetrics) Redirect(target string) {
	if m == nil {
		return
	}
	m.Redirects.WithLabelValues(target).Inc()
}

func (m *PolicyMetrics) Replication(handler, outcome string) {
	if m == nil {
		return
	}
	m.Replications.WithLabelValues(handler, outcome).Inc()
}

func (m *PolicyMetrics) ReplicationFailed() {
	if m == nil {
		return
	}
	m.ReplicationErr.Inc()
}

// RegisterOrReuse returns the collector already registered under the same
// descriptor, so constructing metrics twice against one registry is safe.
func RegisterOrReuse[C prometheus.Collector](reg prometheus.Registerer, collector C) (C, error) {
	if err := reg.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return collector, fmt.Errorf("register collector: %w", err)
		}
		existing, ok := already.ExistingCollector.(C)
		if !ok {
			return collector, fmt.Errorf("existing collector has unexpected type %T", already.ExistingCollector)
		}
		return existing, nil
	}
	return collector, nil
}
