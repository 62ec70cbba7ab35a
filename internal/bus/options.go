package bus

import "time"

// Defaults for Options fields left at their zero value.
const (
	DefaultBatchSize           = 10
	DefaultBatchTimeout        = time.Second
	DefaultRetryDelay          = 2 * time.Second
	DefaultMaxDeliveries       = 3
	DefaultClaimInterval       = 60 * time.Second
	DefaultStalenessThreshold  = 30 * time.Second
	DefaultMaintenanceInterval = 60 * time.Second
	DefaultHealthInterval      = 30 * time.Second
	DefaultShutdownTimeout     = 30 * time.Second
	DefaultTrimMaxLen          = 1000
)

// Options configures an EventBus. The zero value is usable: every field
// falls back to its default.
type Options struct {
	// Breaker.
	FailureThreshold int
	ResetTimeout     time.Duration

	// Producer side.
	DedupWindow  time.Duration
	DisableDedup bool
	MaxStreamLen int64 // approximate cap applied on each write; 0 leaves growth to maintenance trimming

	// Dispatch loops.
	BatchSize    int64
	BatchTimeout time.Duration
	RetryDelay   time.Duration

	// MaxDeliveries bounds handler attempts per entry. An entry whose
	// delivery count exceeds it is dead-lettered without another attempt.
	MaxDeliveries      int64
	ClaimInterval      time.Duration
	StalenessThreshold time.Duration

	// Bus maintenance.
	MaintenanceInterval time.Duration
	HealthInterval      time.Duration
	TrimMaxLen          int64
	ShutdownTimeout     time.Duration
}

func (o Options) normalized() Options {
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = DefaultFailureThreshold
	}
	if o.ResetTimeout <= 0 {
		o.ResetTimeout = DefaultResetTimeout
	}
	if o.DedupWindow <= 0 {
		o.DedupWindow = DefaultDedupWindow
	}
	if o.MaxStreamLen < 0 {
		o.MaxStreamLen = 0
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.BatchTimeout <= 0 {
		o.BatchTimeout = DefaultBatchTimeout
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.MaxDeliveries <= 0 {
		o.MaxDeliveries = DefaultMaxDeliveries
	}
	if o.ClaimInterval <= 0 {
		o.ClaimInterval = DefaultClaimInterval
	}
	if o.StalenessThreshold <= 0 {
		o.StalenessThreshold = DefaultStalenessThreshold
	}
	if o.MaintenanceInterval <= 0 {
		o.MaintenanceInterval = DefaultMaintenanceInterval
	}
	if o.HealthInterval <= 0 {
		o.HealthInterval = DefaultHealthInterval
	}
	if o.TrimMaxLen == 0 {
		o.TrimMaxLen = DefaultTrimMaxLen
	}
	if o.TrimMaxLen < 0 {
		o.TrimMaxLen = 0 // negative disables maintenance trimming
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = DefaultShutdownTimeout
	}
	return o
}
