package cron_config

import "time"

type Config struct {
	// Heartbeat check, every minute
	CronScheduleHeartbeat string `env:"CRON_SCHEDULE_HEARTBEAT" envDefault:"0 * * * * *"`
	// Detection sweep over recent aggregates, every minute
	CronScheduleDetection string `env:"CRON_SCHEDULE_DETECTION" envDefault:"30 * * * * *"`
	// Re-aggregate completed files whose aggregation failed, every 5 minutes
	CronScheduleReaggregation string `env:"CRON_SCHEDULE_REAGGREGATION" envDefault:"0 */5 * * * *"`
	// Resolve incidents with no recent alerts, every 10 minutes
	CronScheduleIncidentExpiry string `env:"CRON_SCHEDULE_INCIDENT_EXPIRY" envDefault:"0 */10 * * * *"`

	ReaggregationBatchSize int `env:"CRON_REAGGREGATION_BATCH_SIZE" envDefault:"20"`
	// Files completed more recently than this are still being aggregated in-line.
	ReaggregationGrace time.Duration `env:"CRON_REAGGREGATION_GRACE" envDefault:"5m"`
}
