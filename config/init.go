package config

import (
	"log"

	"github.com/caarlos0/env/v6"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	cron_config "github.com/customeros/mailpulse/internal/cron/config"
	"github.com/customeros/mailpulse/internal/logger"
	"github.com/customeros/mailpulse/internal/tracing"
)

type Config struct {
	AppConfig       *AppConfig
	Logger          *logger.Config
	Tracing         *tracing.JaegerConfig
	DatabaseConfig  *DatabaseConfig
	IngestionConfig *IngestionConfig
	DetectionConfig *DetectionConfig
	ThresholdConfig *ThresholdConfig
	RiskConfig      *RiskConfig
	CacheConfig     *CacheConfig
	StorageConfig   *StorageConfig
	CronConfig      *cron_config.Config
}

func newConfig() *Config {
	return &Config{
		AppConfig:       &AppConfig{},
		Logger:          &logger.Config{},
		Tracing:         &tracing.JaegerConfig{},
		DatabaseConfig:  &DatabaseConfig{},
		IngestionConfig: &IngestionConfig{},
		DetectionConfig: &DetectionConfig{},
		ThresholdConfig: &ThresholdConfig{},
		RiskConfig:      &RiskConfig{},
		CacheConfig:     &CacheConfig{},
		StorageConfig:   &StorageConfig{},
		CronConfig:      &cron_config.Config{},
	}
}

func InitConfig() (*Config, error) {
	config := newConfig()

	err := godotenv.Load()
	if err != nil {
		log.Print("Unable to load .env file")
	}

	if err = env.Parse(config); err != nil {
		return nil, errors.Wrap(err, "error loading mailpulse config")
	}

	if err = Validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks every section. The database section is checked separately by
// commands that connect to postgres, so defaults stay usable in tests.
func Validate(config *Config) error {
	validate := validator.New()
	for _, section := range []interface{}{
		config.AppConfig,
		config.IngestionConfig,
		config.DetectionConfig,
		config.ThresholdConfig,
		config.RiskConfig,
		config.CacheConfig,
	} {
		if err := validate.Struct(section); err != nil {
			return errors.Wrap(err, "invalid mailpulse config")
		}
	}
	if config.RiskConfig.MediumThreshold > config.RiskConfig.HighThreshold ||
		config.RiskConfig.HighThreshold > config.RiskConfig.CriticalThreshold {
		return errors.New("invalid mailpulse config: risk level thresholds must be ascending")
	}
	return nil
}

func ValidateDatabase(config *Config) error {
	if err := validator.New().Struct(config.DatabaseConfig); err != nil {
		return errors.Wrap(err, "invalid database config")
	}
	return nil
}

// Defaults returns a config populated from struct defaults only, ignoring the
// environment.
func Defaults() *Config {
	config := newConfig()
	if err := env.Parse(config, env.Options{Environment: map[string]string{}}); err != nil {
		log.Fatalf("Error applying mailpulse config defaults: %v", err)
	}
	return config
}
