package config

import (
	"time"

	"github.com/customeros/mailpulse/internal/enum"
)

type AppConfig struct {
	APIPort     string `env:"PORT" envDefault:"12222" validate:"required"`
	RabbitMQURL string `env:"RABBITMQ_URL"`
	// APIKey guards the /v1 ops endpoints; they are disabled when empty.
	APIKey string `env:"MAILPULSE_API_KEY"`
	// CronEnabled turns on the scheduled sweeps when running the server.
	CronEnabled bool `env:"CRON_ENABLED" envDefault:"true"`
}

type DatabaseConfig struct {
	Host            string `env:"MAILPULSE_POSTGRES_HOST" validate:"required"`
	Port            string `env:"MAILPULSE_POSTGRES_PORT" envDefault:"5432" validate:"required"`
	User            string `env:"MAILPULSE_POSTGRES_USER" validate:"required"`
	DBName          string `env:"MAILPULSE_POSTGRES_DB_NAME" validate:"required"`
	Password        string `env:"MAILPULSE_POSTGRES_PASSWORD" validate:"required"`
	MaxConn         int    `env:"MAILPULSE_POSTGRES_DB_MAX_CONN" envDefault:"50"`
	MaxIdleConn     int    `env:"MAILPULSE_POSTGRES_DB_MAX_IDLE_CONN" envDefault:"10"`
	ConnMaxLifetime int    `env:"MAILPULSE_POSTGRES_DB_CONN_MAX_LIFETIME" envDefault:"60"`
	LogLevel        string `env:"MAILPULSE_POSTGRES_LOG_LEVEL" envDefault:"WARN"`
	SSLMode         string `env:"MAILPULSE_POSTGRES_SSL_MODE" envDefault:"require"`
}

type IngestionConfig struct {
	ChunkSize        int     `env:"INGESTION_CHUNK_SIZE" envDefault:"1000" validate:"gte=1"`
	HeaderMatchRatio float64 `env:"INGESTION_HEADER_MATCH_RATIO" envDefault:"0.6" validate:"gt=0,lte=1"`
	MaxConcurrent    int     `env:"INGESTION_MAX_CONCURRENT" envDefault:"4" validate:"gte=1"`
	StorageBucket    string  `env:"INGESTION_STORAGE_BUCKET" envDefault:"pmta-logs"`
}

type DetectionConfig struct {
	ShortWindow         time.Duration `env:"DETECTION_SHORT_WINDOW" envDefault:"15m" validate:"gt=0"`
	LongWindow          time.Duration `env:"DETECTION_LONG_WINDOW" envDefault:"24h" validate:"gt=0"`
	ComplaintWindow     time.Duration `env:"DETECTION_COMPLAINT_WINDOW" envDefault:"30m" validate:"gt=0"`
	WeeklyWindow        time.Duration `env:"DETECTION_WEEKLY_WINDOW" envDefault:"168h"`
	CooldownWindow      time.Duration `env:"DETECTION_COOLDOWN_WINDOW" envDefault:"30m" validate:"gt=0"`
	IncidentQuietPeriod time.Duration `env:"DETECTION_INCIDENT_QUIET_PERIOD" envDefault:"2h" validate:"gt=0"`
	// AggregationClaimTTL is how long a file stays claimed by one aggregation
	// run before another run may take it over.
	AggregationClaimTTL time.Duration `env:"DETECTION_AGGREGATION_CLAIM_TTL" envDefault:"30m" validate:"gt=0"`
	// UseEventTime runs post-ingestion detection at the newest event timestamp
	// of the file instead of wall-clock time. Used for replaying historical logs.
	UseEventTime bool `env:"DETECTION_USE_EVENT_TIME" envDefault:"false"`
}

type ThresholdConfig struct {
	BaselineLatencyMs    float64 `env:"THRESHOLD_BASELINE_LATENCY_MS" envDefault:"500" validate:"gt=0"`
	ThrottlingMultiplier float64 `env:"THRESHOLD_THROTTLING_MULTIPLIER" envDefault:"1.5" validate:"gt=0"`
	HighLatencyMs        float64 `env:"THRESHOLD_HIGH_LATENCY_MS" envDefault:"5000" validate:"gt=0"`
	ComplaintRate        float64 `env:"THRESHOLD_COMPLAINT_RATE" envDefault:"0.01" validate:"gte=0,lte=1"`
	BounceRate           float64 `env:"THRESHOLD_BOUNCE_RATE" envDefault:"0.2" validate:"gte=0,lte=1"`
	MinMessages          int64   `env:"THRESHOLD_MIN_MESSAGES" envDefault:"10" validate:"gte=0"`
}

type RiskConfig struct {
	ComplaintWeight   float64       `env:"RISK_COMPLAINT_WEIGHT" envDefault:"40"`
	BounceWeight      float64       `env:"RISK_BOUNCE_WEIGHT" envDefault:"20"`
	MaxScore          int           `env:"RISK_MAX_SCORE" envDefault:"100" validate:"gt=0"`
	CriticalThreshold int           `env:"RISK_CRITICAL_THRESHOLD" envDefault:"80"`
	HighThreshold     int           `env:"RISK_HIGH_THRESHOLD" envDefault:"60"`
	MediumThreshold   int           `env:"RISK_MEDIUM_THRESHOLD" envDefault:"30"`
	Mode              enum.RiskMode `env:"RISK_MODE" envDefault:"per_batch" validate:"oneof=per_batch cumulative"`
	UpsertBatchSize   int           `env:"RISK_UPSERT_BATCH_SIZE" envDefault:"50" validate:"gte=1"`
}

type CacheConfig struct {
	RedisURL string        `env:"CACHE_REDIS_URL"`
	Size     int           `env:"CACHE_MEMORY_SIZE" envDefault:"1024" validate:"gte=1"`
	TTL      time.Duration `env:"CACHE_TTL" envDefault:"60s"`
}

type StorageConfig struct {
	Region          string `env:"STORAGE_REGION" envDefault:"auto"`
	Endpoint        string `env:"STORAGE_ENDPOINT"`
	AccessKeyID     string `env:"STORAGE_ACCESS_KEY_ID"`
	AccessKeySecret string `env:"STORAGE_ACCESS_KEY_SECRET"`
}
