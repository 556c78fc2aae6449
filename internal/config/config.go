package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/forecast"
	"github.com/andresuchdata/autopo-forecast/internal/learning"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Cache    CacheConfig
	Storage  StorageConfig
	Forecast ForecastConfig
	Learning LearningConfig
	Schedule ScheduleConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port           string
	Mode           string
	ReadTimeout    int
	WriteTimeout   int
	AllowedOrigins []string
}

type DatabaseConfig struct {
	URL                string
	Host               string
	Port               string
	User               string
	Password           string
	DBName             string
	SSLMode            string
	MaxOpenConns       int
	MaxIdleConns       int
	MaxConcurrentOps   int64
	ConnMaxLifetimeSec int
}

// DSN returns DATABASE_URL when set, otherwise a keyword/value connection string.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type CacheConfig struct {
	Enabled            bool
	RedisURL           string
	RedisHost          string
	RedisPort          string
	RedisPassword      string
	RedisDB            int
	ProfileTTLSeconds  int
	ForecastTTLSeconds int
}

type StorageConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	Prefix    string
}

type ForecastConfig struct {
	Horizon               int
	HistoryMonths         int
	OutlierZ              float64
	SeasonalStrengthFloor float64
	MaxPeers              int
	GrowthCap             float64
	RegressionMinMonths   int
	RegressionMaxMonths   int
	RecencyLambdaX        float64
	RecencyLambdaY        float64
	RecencyLambdaZ        float64
	SparseMinMonths       int
	SparsePopulatedRatio  float64
	LaunchSpikeMargin     float64
	EarlyStockoutBoost    float64
	CleanAvailability     float64
	SafetyA               float64
	SafetyB               float64
	SafetyC               float64
	SparseConfidenceCap   float64
	Workers               int
	ProgressStepPercent   int
}

type LearningConfig struct {
	MinSamples        int
	NoiseFloor        float64
	MethodImprovement float64
	LookbackMonths    int
	// ApplyOnNextRun controls whether forecast runs consume pending adjustments.
	ApplyOnNextRun bool
}

type ScheduleConfig struct {
	Timezone      string
	ReconcileSpec string
	LearnSpec     string
	ForecastSpec  string
}

type LogConfig struct {
	Level string
	File  string
}

var (
	once     sync.Once
	instance *Config
)

// Load reads .env and the environment once and returns the shared config.
func Load() *Config {
	once.Do(func() {
		// Load .env file if it exists
		_ = godotenv.Load()

		v := viper.GetViper()
		SetDefaults(v)
		v.AutomaticEnv()

		instance = LoadFrom(v)
		if instance.Log.File != "" {
			ensureDir(filepath.Dir(instance.Log.File))
		}
	})

	return instance
}

// SetDefaults registers every default value on v.
func SetDefaults(v *viper.Viper) {
	engine := forecast.DefaultConfig()
	learn := learning.DefaultConfig()

	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("SERVER_MODE", "debug")
	v.SetDefault("SERVER_READ_TIMEOUT", 15)
	v.SetDefault("SERVER_WRITE_TIMEOUT", 30)
	v.SetDefault("SERVER_ALLOWED_ORIGINS", []string{"*"})

	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "autopo")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_MAX_CONCURRENT_OPS", 10)
	v.SetDefault("DB_CONN_MAX_LIFETIME_SECONDS", 300)

	v.SetDefault("CACHE_ENABLED", false)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_HOST", "127.0.0.1")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CACHE_PROFILE_TTL_SECONDS", 24*60*60)
	v.SetDefault("CACHE_FORECAST_TTL_SECONDS", 10*60)

	v.SetDefault("STORAGE_ENABLED", false)
	v.SetDefault("STORAGE_ENDPOINT", "localhost:9000")
	v.SetDefault("STORAGE_ACCESS_KEY", "")
	v.SetDefault("STORAGE_SECRET_KEY", "")
	v.SetDefault("STORAGE_BUCKET", "forecast-reports")
	v.SetDefault("STORAGE_REGION", "")
	v.SetDefault("STORAGE_USE_SSL", false)
	v.SetDefault("STORAGE_PREFIX", "reports")

	v.SetDefault("FORECAST_HORIZON", engine.Horizon)
	v.SetDefault("FORECAST_HISTORY_MONTHS", engine.HistoryMonths)
	v.SetDefault("FORECAST_OUTLIER_Z", engine.OutlierZ)
	v.SetDefault("FORECAST_SEASONAL_STRENGTH_FLOOR", engine.SeasonalStrengthFloor)
	v.SetDefault("FORECAST_MAX_PEERS", engine.MaxPeers)
	v.SetDefault("FORECAST_GROWTH_CAP", engine.GrowthCap)
	v.SetDefault("FORECAST_REGRESSION_MIN_MONTHS", engine.RegressionMinMonths)
	v.SetDefault("FORECAST_REGRESSION_MAX_MONTHS", engine.RegressionMaxMonths)
	v.SetDefault("FORECAST_RECENCY_LAMBDA_X", engine.RecencyLambda[domain.TierX])
	v.SetDefault("FORECAST_RECENCY_LAMBDA_Y", engine.RecencyLambda[domain.TierY])
	v.SetDefault("FORECAST_RECENCY_LAMBDA_Z", engine.RecencyLambda[domain.TierZ])
	v.SetDefault("FORECAST_SPARSE_MIN_MONTHS", engine.SparseMinMonths)
	v.SetDefault("FORECAST_SPARSE_POPULATED_RATIO", engine.SparsePopulatedRatio)
	v.SetDefault("FORECAST_LAUNCH_SPIKE_MARGIN", engine.LaunchSpikeMargin)
	v.SetDefault("FORECAST_EARLY_STOCKOUT_BOOST", engine.EarlyStockoutBoost)
	v.SetDefault("FORECAST_CLEAN_AVAILABILITY", engine.CleanAvailability)
	v.SetDefault("FORECAST_SAFETY_A", engine.SafetyMultipliers[domain.TierA])
	v.SetDefault("FORECAST_SAFETY_B", engine.SafetyMultipliers[domain.TierB])
	v.SetDefault("FORECAST_SAFETY_C", engine.SafetyMultipliers[domain.TierC])
	v.SetDefault("FORECAST_SPARSE_CONFIDENCE_CAP", engine.SparseConfidenceCap)
	v.SetDefault("FORECAST_WORKERS", 4)
	v.SetDefault("FORECAST_PROGRESS_STEP_PERCENT", 10)

	v.SetDefault("LEARNING_MIN_SAMPLES", learn.MinSamples)
	v.SetDefault("LEARNING_NOISE_FLOOR", learn.NoiseFloor)
	v.SetDefault("LEARNING_METHOD_IMPROVEMENT", learn.MethodImprovement)
	v.SetDefault("LEARNING_LOOKBACK_MONTHS", learn.LookbackMonths)
	v.SetDefault("LEARNING_APPLY_ON_NEXT_RUN", true)

	v.SetDefault("SCHEDULE_TIMEZONE", "UTC")
	v.SetDefault("SCHEDULE_RECONCILE_SPEC", "0 2 3 * *")
	v.SetDefault("SCHEDULE_LEARN_SPEC", "0 3 3 * *")
	v.SetDefault("SCHEDULE_FORECAST_SPEC", "0 4 3 * *")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FILE", "")
}

// LoadFrom builds a config from an explicit viper instance.
func LoadFrom(v *viper.Viper) *Config {
	return &Config{
		Server: ServerConfig{
			Port:           v.GetString("SERVER_PORT"),
			Mode:           v.GetString("SERVER_MODE"),
			ReadTimeout:    v.GetInt("SERVER_READ_TIMEOUT"),
			WriteTimeout:   v.GetInt("SERVER_WRITE_TIMEOUT"),
			AllowedOrigins: splitList(v.GetStringSlice("SERVER_ALLOWED_ORIGINS")),
		},
		Database: DatabaseConfig{
			URL:                v.GetString("DATABASE_URL"),
			Host:               v.GetString("DB_HOST"),
			Port:               v.GetString("DB_PORT"),
			User:               v.GetString("DB_USER"),
			Password:           v.GetString("DB_PASSWORD"),
			DBName:             v.GetString("DB_NAME"),
			SSLMode:            v.GetString("DB_SSLMODE"),
			MaxOpenConns:       v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:       v.GetInt("DB_MAX_IDLE_CONNS"),
			MaxConcurrentOps:   v.GetInt64("DB_MAX_CONCURRENT_OPS"),
			ConnMaxLifetimeSec: v.GetInt("DB_CONN_MAX_LIFETIME_SECONDS"),
		},
		Cache: CacheConfig{
			Enabled:            v.GetBool("CACHE_ENABLED"),
			RedisURL:           v.GetString("REDIS_URL"),
			RedisHost:          v.GetString("REDIS_HOST"),
			RedisPort:          v.GetString("REDIS_PORT"),
			RedisPassword:      v.GetString("REDIS_PASSWORD"),
			RedisDB:            v.GetInt("REDIS_DB"),
			ProfileTTLSeconds:  v.GetInt("CACHE_PROFILE_TTL_SECONDS"),
			ForecastTTLSeconds: v.GetInt("CACHE_FORECAST_TTL_SECONDS"),
		},
		Storage: StorageConfig{
			Enabled:   v.GetBool("STORAGE_ENABLED"),
			Endpoint:  v.GetString("STORAGE_ENDPOINT"),
			AccessKey: v.GetString("STORAGE_ACCESS_KEY"),
			SecretKey: v.GetString("STORAGE_SECRET_KEY"),
			Bucket:    v.GetString("STORAGE_BUCKET"),
			Region:    v.GetString("STORAGE_REGION"),
			UseSSL:    v.GetBool("STORAGE_USE_SSL"),
			Prefix:    v.GetString("STORAGE_PREFIX"),
		},
		Forecast: ForecastConfig{
			Horizon:               v.GetInt("FORECAST_HORIZON"),
			HistoryMonths:         v.GetInt("FORECAST_HISTORY_MONTHS"),
			OutlierZ:              v.GetFloat64("FORECAST_OUTLIER_Z"),
			SeasonalStrengthFloor: v.GetFloat64("FORECAST_SEASONAL_STRENGTH_FLOOR"),
			MaxPeers:              v.GetInt("FORECAST_MAX_PEERS"),
			GrowthCap:             v.GetFloat64("FORECAST_GROWTH_CAP"),
			RegressionMinMonths:   v.GetInt("FORECAST_REGRESSION_MIN_MONTHS"),
			RegressionMaxMonths:   v.GetInt("FORECAST_REGRESSION_MAX_MONTHS"),
			RecencyLambdaX:        v.GetFloat64("FORECAST_RECENCY_LAMBDA_X"),
			RecencyLambdaY:        v.GetFloat64("FORECAST_RECENCY_LAMBDA_Y"),
			RecencyLambdaZ:        v.GetFloat64("FORECAST_RECENCY_LAMBDA_Z"),
			SparseMinMonths:       v.GetInt("FORECAST_SPARSE_MIN_MONTHS"),
			SparsePopulatedRatio:  v.GetFloat64("FORECAST_SPARSE_POPULATED_RATIO"),
			LaunchSpikeMargin:     v.GetFloat64("FORECAST_LAUNCH_SPIKE_MARGIN"),
			EarlyStockoutBoost:    v.GetFloat64("FORECAST_EARLY_STOCKOUT_BOOST"),
			CleanAvailability:     v.GetFloat64("FORECAST_CLEAN_AVAILABILITY"),
			SafetyA:               v.GetFloat64("FORECAST_SAFETY_A"),
			SafetyB:               v.GetFloat64("FORECAST_SAFETY_B"),
			SafetyC:               v.GetFloat64("FORECAST_SAFETY_C"),
			SparseConfidenceCap:   v.GetFloat64("FORECAST_SPARSE_CONFIDENCE_CAP"),
			Workers:               v.GetInt("FORECAST_WORKERS"),
			ProgressStepPercent:   v.GetInt("FORECAST_PROGRESS_STEP_PERCENT"),
		},
		Learning: LearningConfig{
			MinSamples:        v.GetInt("LEARNING_MIN_SAMPLES"),
			NoiseFloor:        v.GetFloat64("LEARNING_NOISE_FLOOR"),
			MethodImprovement: v.GetFloat64("LEARNING_METHOD_IMPROVEMENT"),
			LookbackMonths:    v.GetInt("LEARNING_LOOKBACK_MONTHS"),
			ApplyOnNextRun:    v.GetBool("LEARNING_APPLY_ON_NEXT_RUN"),
		},
		Schedule: ScheduleConfig{
			Timezone:      v.GetString("SCHEDULE_TIMEZONE"),
			ReconcileSpec: v.GetString("SCHEDULE_RECONCILE_SPEC"),
			LearnSpec:     v.GetString("SCHEDULE_LEARN_SPEC"),
			ForecastSpec:  v.GetString("SCHEDULE_FORECAST_SPEC"),
		},
		Log: LogConfig{
			Level: v.GetString("LOG_LEVEL"),
			File:  v.GetString("LOG_FILE"),
		},
	}
}

// Validate fails fast on settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.Forecast.Workers < 1 {
		return fmt.Errorf("FORECAST_WORKERS must be at least 1, got %d", c.Forecast.Workers)
	}
	if c.Forecast.ProgressStepPercent < 1 || c.Forecast.ProgressStepPercent > 100 {
		return fmt.Errorf("FORECAST_PROGRESS_STEP_PERCENT must be within 1-100, got %d", c.Forecast.ProgressStepPercent)
	}
	if c.Storage.Enabled && c.Storage.Bucket == "" {
		return fmt.Errorf("STORAGE_BUCKET is required when storage is enabled")
	}
	if err := c.Forecast.Engine().Validate(); err != nil {
		return fmt.Errorf("forecast config: %w", err)
	}
	if err := c.Learning.Engine().Validate(); err != nil {
		return fmt.Errorf("learning config: %w", err)
	}
	return nil
}

// Engine maps the forecast section onto the generator tunables.
func (c ForecastConfig) Engine() forecast.Config {
	cfg := forecast.DefaultConfig()
	cfg.Horizon = c.Horizon
	cfg.HistoryMonths = c.HistoryMonths
	cfg.OutlierZ = c.OutlierZ
	cfg.SeasonalStrengthFloor = c.SeasonalStrengthFloor
	cfg.MaxPeers = c.MaxPeers
	cfg.GrowthCap = c.GrowthCap
	cfg.RegressionMinMonths = c.RegressionMinMonths
	cfg.RegressionMaxMonths = c.RegressionMaxMonths
	cfg.RecencyLambda = map[domain.VolatilityTier]float64{
		domain.TierX: c.RecencyLambdaX,
		domain.TierY: c.RecencyLambdaY,
		domain.TierZ: c.RecencyLambdaZ,
	}
	cfg.SparseMinMonths = c.SparseMinMonths
	cfg.SparsePopulatedRatio = c.SparsePopulatedRatio
	cfg.LaunchSpikeMargin = c.LaunchSpikeMargin
	cfg.EarlyStockoutBoost = c.EarlyStockoutBoost
	cfg.CleanAvailability = c.CleanAvailability
	cfg.SafetyMultipliers = map[domain.ValueTier]float64{
		domain.TierA: c.SafetyA,
		domain.TierB: c.SafetyB,
		domain.TierC: c.SafetyC,
	}
	cfg.SparseConfidenceCap = c.SparseConfidenceCap
	return cfg
}

// Engine maps the learning section onto the engine thresholds.
func (c LearningConfig) Engine() learning.Config {
	cfg := learning.DefaultConfig()
	cfg.MinSamples = c.MinSamples
	cfg.NoiseFloor = c.NoiseFloor
	cfg.MethodImprovement = c.MethodImprovement
	cfg.LookbackMonths = c.LookbackMonths
	return cfg
}

// splitList accepts both list values and a single comma separated env string.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func ensureDir(dir string) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatal().Err(err).Str("dir", dir).Msg("Failed to create directory")
		}
	}
}
