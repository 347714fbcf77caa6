package runtime

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BrokerMetrics tracks broker client activity per subject.
type BrokerMetrics struct {
	mu sync.RWMutex

	subjectCounts map[string]*SubjectMetrics

	publishedTotal       *prometheus.CounterVec
	receivedTotal        *prometheus.CounterVec
	callbackErrorsTotal  *prometheus.CounterVec
	repliesTotal         *prometheus.CounterVec
	requestTimeoutsTotal *prometheus.CounterVec
	decodeErrorsTotal    *prometheus.CounterVec
	queueDepth           *prometheus.GaugeVec

	registerer prometheus.Registerer
	registered bool
}

// SubjectMetrics holds counters for a single subject.
type SubjectMetrics struct {
	Published       uint64    `json:"published"`
	Received        uint64    `json:"received"`
	CallbackErrors  uint64    `json:"callback_errors"`
	Replies         uint64    `json:"replies"`
	RequestTimeouts uint64    `json:"request_timeouts"`
	DecodeErrors    uint64    `json:"decode_errors"`
	LastActivityAt  time.Time `json:"last_activity_at"`
}

// BrokerMetricsSnapshot provides a point-in-time view of broker metrics.
type BrokerMetricsSnapshot struct {
	TotalPublished uint64                     `json:"total_published"`
	TotalReceived  uint64                     `json:"total_received"`
	TotalErrors    uint64                     `json:"total_errors"`
	SubjectMetrics map[string]*SubjectMetrics `json:"subject_metrics"`
	CollectedAt    time.Time                  `json:"collected_at"`
}

// newBrokerCounterVec creates a new counter vec with the standard
// busflow/broker namespace.
func newBrokerCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "busflow",
			Subsystem: "broker",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// newBrokerGaugeVec creates a new gauge vec with the standard busflow/broker
// namespace.
func newBrokerGaugeVec(name, help string, labels []string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "busflow",
			Subsystem: "broker",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewBrokerMetrics creates a new broker metrics collector.
func NewBrokerMetrics(registerer prometheus.Registerer) *BrokerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &BrokerMetrics{
		subjectCounts:        make(map[string]*SubjectMetrics),
		registerer:           registerer,
		publishedTotal:       newBrokerCounterVec("published_total", "Total number of messages published", []string{"subject"}),
		receivedTotal:        newBrokerCounterVec("received_total", "Total number of messages received by subscriptions", []string{"subject"}),
		callbackErrorsTotal:  newBrokerCounterVec("callback_errors_total", "Total number of callback invocations that failed", []string{"subject"}),
		repliesTotal:         newBrokerCounterVec("replies_total", "Total number of replies published for request messages", []string{"subject"}),
		requestTimeoutsTotal: newBrokerCounterVec("request_timeouts_total", "Total number of requests that timed out waiting for a reply", []string{"subject"}),
		decodeErrorsTotal:    newBrokerCounterVec("decode_errors_total", "Total number of messages dropped because the envelope failed to decode", []string{"subject"}),
		queueDepth:           newBrokerGaugeVec("queue_depth", "Current number of messages waiting in a delivery queue", []string{"subject", "queue"}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *BrokerMetrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.publishedTotal,
		m.receivedTotal,
		m.callbackErrorsTotal,
		m.repliesTotal,
		m.requestTimeoutsTotal,
		m.decodeErrorsTotal,
		m.queueDepth,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// RecordPublished records one outgoing message.
func (m *BrokerMetrics) RecordPublished(subject string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := m.getOrCreateSubjectMetrics(subject)
	counts.Published++
	counts.LastActivityAt = time.Now()

	m.publishedTotal.WithLabelValues(subject).Inc()
}

// RecordReceived records one decoded inbound message.
func (m *BrokerMetrics) RecordReceived(subject string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := m.getOrCreateSubjectMetrics(subject)
	counts.Received++
	counts.LastActivityAt = time.Now()

	m.receivedTotal.WithLabelValues(subject).Inc()
}

// RecordCallbackError records one failed callback invocation.
func (m *BrokerMetrics) RecordCallbackError(subject string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := m.getOrCreateSubjectMetrics(subject)
	counts.CallbackErrors++
	counts.LastActivityAt = time.Now()

	m.callbackErrorsTotal.WithLabelValues(subject).Inc()
}

// RecordReply records one reply published on behalf of a callback.
func (m *BrokerMetrics) RecordReply(subject string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := m.getOrCreateSubjectMetrics(subject)
	counts.Replies++
	counts.LastActivityAt = time.Now()

	m.repliesTotal.WithLabelValues(subject).Inc()
}

// RecordRequestTimeout records one request that never saw a reply.
func (m *BrokerMetrics) RecordRequestTimeout(subject string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := m.getOrCreateSubjectMetrics(subject)
	counts.RequestTimeouts++
	counts.LastActivityAt = time.Now()

	m.requestTimeoutsTotal.WithLabelValues(subject).Inc()
}

// RecordDecodeError records one inbound message dropped at the envelope.
func (m *BrokerMetrics) RecordDecodeError(subject string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := m.getOrCreateSubjectMetrics(subject)
	counts.DecodeErrors++
	counts.LastActivityAt = time.Now()

	m.decodeErrorsTotal.WithLabelValues(subject).Inc()
}

// SetQueueDepth sets the live depth of a delivery queue.
func (m *BrokerMetrics) SetQueueDepth(subject, queue string, depth int) {
	m.queueDepth.WithLabelValues(subject, queue).Set(float64(depth))
}

// GetSnapshot returns a point-in-time snapshot of all broker metrics.
func (m *BrokerMetrics) GetSnapshot() BrokerMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := BrokerMetricsSnapshot{
		SubjectMetrics: make(map[string]*SubjectMetrics),
		CollectedAt:    time.Now(),
	}

	for subject, counts := range m.subjectCounts {
		countsCopy := *counts
		snapshot.SubjectMetrics[subject] = &countsCopy
		snapshot.TotalPublished += counts.Published
		snapshot.TotalReceived += counts.Received
		snapshot.TotalErrors += counts.CallbackErrors + counts.DecodeErrors
	}

	return snapshot
}

// GetSubjectMetrics returns counters for a specific subject, or nil when
// the subject has seen no activity.
func (m *BrokerMetrics) GetSubjectMetrics(subject string) *SubjectMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if counts, ok := m.subjectCounts[subject]; ok {
		countsCopy := *counts
		return &countsCopy
	}
	return nil
}

func (m *BrokerMetrics) getOrCreateSubjectMetrics(subject string) *SubjectMetrics {
	if counts, ok := m.subjectCounts[subject]; ok {
		return counts
	}
	counts := &SubjectMetrics{}
	m.subjectCounts[subject] = counts
	return counts
}

// Reset resets all metrics (useful for testing).
func (m *BrokerMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.subjectCounts = make(map[string]*SubjectMetrics)
	m.publishedTotal.Reset()
	m.receivedTotal.Reset()
	m.callbackErrorsTotal.Reset()
	m.repliesTotal.Reset()
	m.requestTimeoutsTotal.Reset()
	m.decodeErrorsTotal.Reset()
	m.queueDepth.Reset()
}
