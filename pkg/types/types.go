// Package types holds the data model shared across the ETL pipeline:
// configuration, raw/cleaned/transformed records, dimension and fact rows,
// and the run-level metrics the pipeline accumulates.
package types

import (
	"time"

	"github.com/google/uuid"
)

// Config is the root configuration object, loaded by internal/config from a
// YAML file plus environment overrides.
type Config struct {
	Environment string          `mapstructure:"environment"`
	Database    DatabaseConfig  `mapstructure:"database"`
	ETL         ETLConfig       `mapstructure:"etl"`
	Quality     QualityConfig   `mapstructure:"quality"`
	Scheduler   SchedulerConfig `mapstructure:"scheduler"`
	Logging     LoggingConfig   `mapstructure:"logging"`
}

// DatabaseConfig describes how to reach the warehouse.
type DatabaseConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	DBName         string        `mapstructure:"dbname"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	SSLMode        string        `mapstructure:"sslmode"`
	Schema         string        `mapstructure:"schema"`
	PoolMaxConns   int32         `mapstructure:"pool_max_conns"`
	PoolMinConns   int32         `mapstructure:"pool_min_conns"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// ETLConfig tunes the staged pipeline.
type ETLConfig struct {
	BatchSize           int               `mapstructure:"batch_size"`
	MaxRetries           int               `mapstructure:"max_retries"`
	RetryBaseDelay       time.Duration     `mapstructure:"retry_base_delay"`
	CheckpointInterval   int               `mapstructure:"checkpoint_interval"`
	QualitySampleSize    int               `mapstructure:"quality_sample_size"`
	DuplicateKeyColumns  []string          `mapstructure:"duplicate_key_columns"`
	MissingValueStrategy map[string]string `mapstructure:"missing_value_strategy"`
	DimensionCacheSize   int               `mapstructure:"dimension_cache_size"`
	CSVDelimiter         string            `mapstructure:"csv_delimiter"`
	CSVChunkSize         int               `mapstructure:"csv_chunk_size"`
}

// QualityConfig tunes the QualityMonitor.
type QualityConfig struct {
	AnomalyDropThreshold float64 `mapstructure:"anomaly_drop_threshold"`
	CriticalScore        float64 `mapstructure:"critical_score"`
	WarningScore         float64 `mapstructure:"warning_score"`
}

// SchedulerConfig tunes the job scheduler.
type SchedulerConfig struct {
	StatePath    string        `mapstructure:"state_path"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// LoggingConfig mirrors internal/logging.LoggerConfig's fields for
// viper/mapstructure binding without an import cycle.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	Output      string `mapstructure:"output"`
	Development bool   `mapstructure:"development"`
}

// RawRecord is one row read verbatim from the source, all fields still text.
type RawRecord struct {
	InvoiceNo   string
	StockCode   string
	Description string
	Quantity    string
	InvoiceDate string
	UnitPrice   string
	CustomerID  string
	Country     string
}

// CleanedRecord is a RawRecord after rule application: typed, normalized,
// validated.
type CleanedRecord struct {
	InvoiceNo      string
	StockCode      string
	Description    string
	Quantity       int
	UnitPriceCents int64 // fixed-scale, 2 fractional digits
	CustomerID     string
	Country        string
	InvoiceDate    time.Time
}

// TransformedRecord is a CleanedRecord plus the derived and classified
// fields the dimensional loader needs.
type TransformedRecord struct {
	CleanedRecord

	InvoiceNumber   int // C-prefix stripped, numeric part
	IsCreditInvoice bool
	LineTotalCents  int64 // |quantity| * |unit_price|, absolute
	TransactionDate time.Time

	Category        string
	Subcategory     string
	IsGift          bool
	TransactionType string
}

// FactRecord is a TransformedRecord annotated with resolved dimension
// surrogate keys and run lineage, ready for insertion into fact_sales.
type FactRecord struct {
	TransformedRecord

	CustomerKey int64
	ProductKey  int64
	DateKey     int32

	BatchID   uuid.UUID
	VersionID int64
}

// RejectReason records why a record did not survive a pipeline stage.
type RejectReason struct {
	Stage  string
	Reason string
	Err    error
}

// Transaction type enumeration. Kept as string constants (not a Go iota-based
// enum) because the values are persisted verbatim as text in fact_sales.
const (
	TxnSale              = "SALE"
	TxnReturn            = "RETURN"
	TxnFee               = "FEE"
	TxnFeeReversal       = "FEE_REVERSAL"
	TxnShippingCharge    = "SHIPPING_CHARGE"
	TxnShippingRefund    = "SHIPPING_REFUND"
	TxnDiscount          = "DISCOUNT"
	TxnDiscountReversal  = "DISCOUNT_REVERSAL"
	TxnDonation          = "DONATION"
	TxnAdjustmentIn      = "ADJUSTMENT_IN"
	TxnAdjustmentOut     = "ADJUSTMENT_OUT"
	TxnAdjustment        = "ADJUSTMENT"
	TxnVoucherSale       = "VOUCHER_SALE"
	TxnVoucherRedemption = "VOUCHER_REDEMPTION"
	TxnService           = "SERVICE"
)

// Run status enumeration for data_lineage / pipeline run state.
const (
	RunPending   = "PENDING"
	RunRunning   = "RUNNING"
	RunSuccess   = "SUCCESS"
	RunFailed    = "FAILED"
	RunPartial   = "PARTIAL"
	RunCancelled = "CANCELLED"
)

// Version status enumeration for data_versions.status.
const (
	VersionActive   = "ACTIVE"
	VersionArchived = "ARCHIVED"
)

// RunMetrics accumulates counters for one pipeline run. The stage
// goroutines count through atomics and Pipeline.Run copies the totals into
// this struct after they finish, so it has no internal locking.
type RunMetrics struct {
	JobID      uuid.UUID
	JobName    string
	VersionID  int64
	VersionNo  string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string

	RecordsExtracted int64
	RecordsRejected  int64
	RecordsLoaded    int64
	BatchesWritten   int64

	StageDurations map[string]time.Duration
}

// NewRunMetrics initializes a metrics record for a fresh run.
func NewRunMetrics(jobID uuid.UUID, jobName string) *RunMetrics {
	return &RunMetrics{
		JobID:          jobID,
		JobName:        jobName,
		StartedAt:      time.Now().UTC(),
		Status:         RunPending,
		StageDurations: make(map[string]time.Duration),
	}
}
