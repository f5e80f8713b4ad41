package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"

	"github.com/ilyakaznacheev/cleanenv"
)

type (
	Config struct {
		App     `json:"app"     toml:"app"`
		HTTP    `json:"http"    toml:"http"`
		DB      `json:"db"      toml:"db"`
		Redis   `json:"redis"   toml:"redis"`
		Workers `json:"workers" toml:"workers"`
		Log     `json:"logger"  toml:"logger"`

		// Mode is derived from App.Debug by LoadConfig; it is never read
		// from the environment directly anywhere else in the program.
		Mode Mode `json:"-" toml:"-"`
	}

	App struct {
		Name        string `json:"name"        toml:"name"        env:"APP_NAME" env-default:"conveyor"`
		Environment string `json:"environment" toml:"environment" env:"ENV_NAME" env-default:"dev"`
		Debug       string `json:"debug"       toml:"debug"       env:"DEBUG"    env-default:""`
	}

	HTTP struct {
		Port string `json:"port" toml:"port" env:"HTTP_PORT" env-default:"8000"`

		// DebugPort is only bound in development mode, for the pprof listener.
		DebugPort string `json:"debug_port" toml:"debug_port" env:"HTTP_DEBUG_PORT" env-default:"5678"`

		StaticDir string `json:"static_dir" toml:"static_dir" env:"STATIC_DIR" env-default:"./static"`
	}

	DB struct {
		DatabaseURL       string `json:"database_url"        toml:"database_url"        env:"DATABASE_URL"`
		PoolMax           int32  `json:"pool_max"            toml:"pool_max"            env:"PG_POOL_MAX" env-default:"10"`
		ConnectTimeout    int    `json:"connect_timeout"     toml:"connect_timeout"     env:"PG_POOL_CONN_TIMEOUT" env-default:"5"`
		HealthCheckPeriod int    `json:"health_check_period" toml:"health_check_period" env:"PG_POOL_HEALTHCHECK" env-default:"1"`
	}

	Redis struct {
		Host     string `json:"host"     toml:"host"     env:"REDIS_HOST" env-default:"localhost"`
		Port     int32  `json:"port"     toml:"port"     env:"REDIS_PORT" env-default:"6379"`
		Database int32  `json:"database" toml:"database" env:"REDIS_DB"   env-default:"0"`
		Password string `json:"password" toml:"password" env:"REDIS_PASSWORD"`
	}

	Workers struct {
		Concurrency     int `json:"concurrency"      toml:"concurrency"      env:"WORKER_CONCURRENCY" env-default:"8"`
		PollIntervalMs  int `json:"poll_interval_ms" toml:"poll_interval_ms" env:"WORKER_POLL_INTERVAL_MS" env-default:"200"`
		ResultTTL       int `json:"result_ttl"       toml:"result_ttl"       env:"TASK_RESULT_TTL" env-default:"3600"`
		TaskTimeout     int `json:"task_timeout"     toml:"task_timeout"     env:"TASK_TIMEOUT" env-default:"30"`
		RunRetention    int `json:"run_retention"    toml:"run_retention"    env:"RUN_RETENTION_MINUTES" env-default:"1440"`
		CleanupInterval int `json:"cleanup_interval" toml:"cleanup_interval" env:"RUN_CLEANUP_INTERVAL_MINUTES" env-default:"60"`
	}

	Log struct {
		Level slog.Level `json:"level" toml:"level" env:"LOG_LEVEL"`
	}
)

func LoadConfig() (*Config, error) {
	cfg := &Config{}

	_, b, _, _ := runtime.Caller(0)
	basePath := filepath.Dir(b)

	// The file overlay is optional: containers configure everything
	// through the environment.
	configTomlPath := filepath.Join(basePath, "config.toml")
	err := cleanenv.ReadConfig(configTomlPath, cfg)
	if err != nil {
		configJsonPath := filepath.Join(basePath, "config.json")
		_ = cleanenv.ReadConfig(configJsonPath, cfg)
	}

	err = cleanenv.ReadEnv(cfg)
	if err != nil {
		return nil, fmt.Errorf("env read error: %w", err)
	}

	cfg.Mode, err = ParseMode(cfg.App.Debug)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}
