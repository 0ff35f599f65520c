package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ConsumerMetrics records bus message handling per topic and consumer group.
type ConsumerMetrics struct {
	handled  *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewConsumerMetrics(reg prometheus.Registerer) *ConsumerMetrics {
	if reg == nil {
		return &ConsumerMetrics{}
	}
	handled := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_messages_handled_total",
		Help: "Bus messages handled, by topic, group and outcome.",
	}, []string{"topic", "group", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "saga_message_handle_seconds",
		Help:    "Time spent in message handlers.",
		Buckets: prometheus.DefBuckets,
	}, []string{"topic", "group"})
	reg.MustRegister(handled, duration)
	return &ConsumerMetrics{handled: handled, duration: duration}
}

// Observe records one handler attempt. outcome is ok, retry, ack_error, dead_letter or duplicate.
func (c *ConsumerMetrics) Observe(topic, group, outcome string, d time.Duration) {
	if c == nil || c.handled == nil {
		return
	}
	c.handled.WithLabelValues(topic, normalizeLabel(group), outcome).Inc()
	c.duration.WithLabelValues(topic, normalizeLabel(group)).Observe(d.Seconds())
}

// OutboxMetrics records relay publishing.
type OutboxMetrics struct {
	published *prometheus.CounterVec
	failed    *prometheus.CounterVec
	dead      *prometheus.CounterVec
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_outbox_published_total",
		Help: "Outbox messages published to the bus.",
	}, []string{"topic"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_outbox_failed_total",
		Help: "Outbox publish attempts that failed and will be retried.",
	}, []string{"topic"})
	dead := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_outbox_dead_total",
		Help: "Outbox messages given up on after max attempts.",
	}, []string{"topic"})
	reg.MustRegister(published, failed, dead)
	return &OutboxMetrics{published: published, failed: failed, dead: dead}
}

func (o *OutboxMetrics) IncPublished(topic string) {
	if o == nil || o.published == nil {
		return
	}
	o.published.WithLabelValues(topic).Inc()
}

func (o *OutboxMetrics) IncFailed(topic string) {
	if o == nil || o.failed == nil {
		return
	}
	o.failed.WithLabelValues(topic).Inc()
}

func (o *OutboxMetrics) IncDead(topic string) {
	if o == nil || o.dead == nil {
		return
	}
	o.dead.WithLabelValues(topic).Inc()
}

// JobMetrics records metadata for periodic jobs such as the reservation sweep.
type JobMetrics struct {
	duration  *prometheus.HistogramVec
	success   *prometheus.CounterVec
	failure   *prometheus.CounterVec
	processed *prometheus.CounterVec
}

func NewJobMetrics(reg prometheus.Registerer) *JobMetrics {
	if reg == nil {
		return &JobMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "saga_job_duration_seconds",
		Help:    "Duration of periodic jobs in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	success := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_job_success_total",
		Help: "Successful job runs.",
	}, []string{"job"})
	failure := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_job_failure_total",
		Help: "Failed job runs.",
	}, []string{"job"})
	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_job_items_total",
		Help: "Items processed by jobs.",
	}, []string{"job"})
	reg.MustRegister(duration, success, failure, processed)
	return &JobMetrics{duration: duration, success: success, failure: failure, processed: processed}
}

func (j *JobMetrics) ObserveDuration(job string, d time.Duration) {
	if j == nil || j.duration == nil {
		return
	}
	j.duration.WithLabelValues(normalizeLabel(job)).Observe(d.Seconds())
}

func (j *JobMetrics) IncSuccess(job string) {
	if j == nil || j.success == nil {
		return
	}
	j.success.WithLabelValues(normalizeLabel(job)).Inc()
}

func (j *JobMetrics) IncFailure(job string) {
	if j == nil || j.failure == nil {
		return
	}
	j.failure.WithLabelValues(normalizeLabel(job)).Inc()
}

func (j *JobMetrics) AddProcessed(job string, n int) {
	if j == nil || j.processed == nil || n <= 0 {
		return
	}
	j.processed.WithLabelValues(normalizeLabel(job)).Add(float64(n))
}

// SagaMetrics counts order outcomes.
type SagaMetrics struct {
	outcomes *prometheus.CounterVec
}

func NewSagaMetrics(reg prometheus.Registerer) *SagaMetrics {
	if reg == nil {
		return &SagaMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_orders_total",
		Help: "Orders reaching a saga outcome.",
	}, []string{"outcome"})
	reg.MustRegister(outcomes)
	return &SagaMetrics{outcomes: outcomes}
}

func (s *SagaMetrics) Inc(outcome string) {
	if s == nil || s.outcomes == nil {
		return
	}
	s.outcomes.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
