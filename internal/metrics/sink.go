package metrics

// Sink adapts the dispatcher's named-measurement contract onto the
// Prometheus collectors. Tenant and branch are accepted per the contract
// but kept out of label sets to bound cardinality.
type Sink struct{}

func NewSink() *Sink {
	RegisterDefault()
	return &Sink{}
}

func (s *Sink) Record(name, unit string, value float64, tenantID, branchID string, tags map[string]string) {
	jobType := tags["jobType"]
	switch name {
	case "job_duration_ms":
		JobDuration.WithLabelValues(jobType, tags["status"]).Observe(value)
	case "job_retry_count":
		JobRetries.WithLabelValues(jobType).Add(value)
	case "job_failure_count":
		JobFailures.WithLabelValues(jobType).Add(value)
	case "webhook_rate_limited_count":
		RateLimited.WithLabelValues(jobType).Add(value)
	case "webhook_circuit_open_count":
		CircuitOpen.WithLabelValues(jobType).Add(value)
	}
}
