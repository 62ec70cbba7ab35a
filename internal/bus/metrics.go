package bus

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// batchHistoryLimit bounds the rolling batch-size history.
const batchHistoryLimit = 100

// Snapshot is a consistent point-in-time copy of the consumer metrics.
type Snapshot struct {
	MessagesProcessed int64            `json:"messages_processed"`
	MessagesFailed    int64            `json:"messages_failed"`
	PublishCount      int64            `json:"publish_count"`
	DuplicatesDropped int64            `json:"duplicates_dropped"`
	StoreErrors       int64            `json:"store_errors"`
	DeadLettered      int64            `json:"dead_lettered"`
	LastSuccess       time.Time        `json:"last_success"`
	LastError         string           `json:"last_error,omitempty"`
	ProcessingTime    time.Duration    `json:"processing_time_ns"`
	ConsumerLag       map[string]int64 `json:"consumer_lag"`
	AverageBatchSize  float64          `json:"average_batch_size"`
}

// Metrics tracks bus throughput and failure counters. All mutation happens
// under one mutex; Snapshot returns a deep copy so readers never observe a
// partial update. The same counters are mirrored into Prometheus collectors
// for the /metrics endpoint.
type Metrics struct {
	mu                sync.Mutex
	messagesProcessed int64
	messagesFailed    int64
	publishCount      int64
	duplicatesDropped int64
	storeErrors       int64
	deadLettered      int64
	lastSuccess       time.Time
	lastError         string
	processingTime    time.Duration
	consumerLag       map[string]int64
	batchSizes        []int

	processedTotal    *prometheus.CounterVec
	failedTotal       *prometheus.CounterVec
	publishedTotal    *prometheus.CounterVec
	duplicatesTotal   *prometheus.CounterVec
	deadLetteredTotal *prometheus.CounterVec
	storeErrorsTotal  prometheus.Counter
	lagGauge          *prometheus.GaugeVec
	batchSizeHist     prometheus.Histogram
	processingSeconds prometheus.Histogram
}

// NewMetrics creates the counter set with its Prometheus collectors.
// Collectors are inert until Register is called.
func NewMetrics() *Metrics {
	return &Metrics{
		consumerLag: make(map[string]int64),
		processedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edgelink", Subsystem: "bus",
			Name: "messages_processed_total",
			Help: "Entries handled and acknowledged, per stream.",
		}, []string{"stream"}),
		failedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edgelink", Subsystem: "bus",
			Name: "messages_failed_total",
			Help: "Handler failures, per stream.",
		}, []string{"stream"}),
		publishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edgelink", Subsystem: "bus",
			Name: "messages_published_total",
			Help: "Entries written to the stream store, per stream.",
		}, []string{"stream"}),
		duplicatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edgelink", Subsystem: "bus",
			Name: "duplicates_dropped_total",
			Help: "Publishes suppressed by the duplicate window, per stream.",
		}, []string{"stream"}),
		deadLetteredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edgelink", Subsystem: "bus",
			Name: "dead_lettered_total",
			Help: "Entries routed to a dead-letter stream.",
		}, []string{"stream", "group"}),
		storeErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "edgelink", Subsystem: "bus",
			Name: "store_errors_total",
			Help: "Backing-store connection failures.",
		}),
		lagGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "edgelink", Subsystem: "bus",
			Name: "consumer_lag",
			Help: "Delivered-but-unacknowledged entries per stream and group.",
		}, []string{"stream", "group"}),
		batchSizeHist: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "edgelink", Subsystem: "bus",
			Name:    "read_batch_size",
			Help:    "Entries returned per consumer-group read.",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
		}),
		processingSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "edgelink", Subsystem: "bus",
			Name:    "batch_processing_seconds",
			Help:    "Wall time spent handling one read batch.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Register attaches all collectors to the registerer. Re-registration of an
// identical collector is tolerated so multiple bus instances in one process
// (tests) do not collide.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.processedTotal, m.failedTotal, m.publishedTotal, m.duplicatesTotal,
		m.deadLetteredTotal, m.storeErrorsTotal, m.lagGauge,
		m.batchSizeHist, m.processingSeconds,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

func (m *Metrics) IncrProcessed(stream string) {
	m.mu.Lock()
	m.messagesProcessed++
	m.mu.Unlock()
	m.processedTotal.WithLabelValues(stream).Inc()
}

func (m *Metrics) IncrFailed(stream string) {
	m.mu.Lock()
	m.messagesFailed++
	m.mu.Unlock()
	m.failedTotal.WithLabelValues(stream).Inc()
}

func (m *Metrics) IncrPublished(stream string) {
	m.mu.Lock()
	m.publishCount++
	m.mu.Unlock()
	m.publishedTotal.WithLabelValues(stream).Inc()
}

func (m *Metrics) IncrDuplicates(stream string) {
	m.mu.Lock()
	m.duplicatesDropped++
	m.mu.Unlock()
	m.duplicatesTotal.WithLabelValues(stream).Inc()
}

func (m *Metrics) IncrStoreErrors() {
	m.mu.Lock()
	m.storeErrors++
	m.mu.Unlock()
	m.storeErrorsTotal.Inc()
}

func (m *Metrics) IncrDeadLettered(stream, group string) {
	m.mu.Lock()
	m.deadLettered++
	m.mu.Unlock()
	m.deadLetteredTotal.WithLabelValues(stream, group).Inc()
}

// RecordSuccess timestamps the last successful store interaction.
func (m *Metrics) RecordSuccess() {
	m.mu.Lock()
	m.lastSuccess = time.Now().UTC()
	m.mu.Unlock()
}

func (m *Metrics) SetLastError(err error) {
	if err == nil {
		return
	}
	m.mu.Lock()
	m.lastError = err.Error()
	m.mu.Unlock()
}

func (m *Metrics) SetProcessingTime(d time.Duration) {
	m.mu.Lock()
	m.processingTime = d
	m.mu.Unlock()
	m.processingSeconds.Observe(d.Seconds())
}

// SetConsumerLag records the pending-entry count for one (stream, group).
func (m *Metrics) SetConsumerLag(stream, group string, lag int64) {
	m.mu.Lock()
	m.consumerLag[lagKey(stream, group)] = lag
	m.mu.Unlock()
	m.lagGauge.WithLabelValues(stream, group).Set(float64(lag))
}

// RecordBatchSize appends one read-batch sample, dropping the oldest once
// the history exceeds its bound.
func (m *Metrics) RecordBatchSize(n int) {
	m.mu.Lock()
	m.batchSizes = append(m.batchSizes, n)
	if len(m.batchSizes) > batchHistoryLimit {
		m.batchSizes = m.batchSizes[1:]
	}
	m.mu.Unlock()
	m.batchSizeHist.Observe(float64(n))
}

// Snapshot returns a consistent copy of all counters.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	lag := make(map[string]int64, len(m.consumerLag))
	for k, v := range m.consumerLag {
		lag[k] = v
	}

	var avg float64
	if len(m.batchSizes) > 0 {
		var sum int
		for _, n := range m.batchSizes {
			sum += n
		}
		avg = float64(sum) / float64(len(m.batchSizes))
	}

	return Snapshot{
		MessagesProcessed: m.messagesProcessed,
		MessagesFailed:    m.messagesFailed,
		PublishCount:      m.publishCount,
		DuplicatesDropped: m.duplicatesDropped,
		StoreErrors:       m.storeErrors,
		DeadLettered:      m.deadLettered,
		LastSuccess:       m.lastSuccess,
		LastError:         m.lastError,
		ProcessingTime:    m.processingTime,
		ConsumerLag:       lag,
		AverageBatchSize:  avg,
	}
}

func lagKey(stream, group string) string {
	return stream + ":" + group
}
