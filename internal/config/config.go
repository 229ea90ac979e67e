package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the flowrule engine.
// Values come from environment variables, optionally layered over a YAML
// file named by CONFIG_FILE; environment always wins. See printUsage()
// for the full list.
type Config struct {
	DatabaseURL string `json:"database_url"`
	RedisAddr   string `json:"redis_addr,omitempty"`
	HTTPAddr    string `json:"http_addr"`

	// WorkerSchedule is a cron spec controlling how often a worker pass
	// claims and executes due jobs.
	WorkerSchedule    string `json:"worker_schedule"`
	WorkerBatchSize   int    `json:"worker_batch_size"`
	WorkerMaxAttempts int    `json:"worker_max_attempts"`
	WorkerParallelism int    `json:"worker_parallelism"`

	SweepEnabled      bool          `json:"sweep_enabled"`
	SweepInterval     time.Duration `json:"-"`
	SweepIntervalStr  string        `json:"sweep_interval"`
	SweepThreshold    time.Duration `json:"-"`
	SweepThresholdStr string        `json:"sweep_threshold"`
	SweepBatchSize    int           `json:"sweep_batch_size"`

	SMSServiceURL   string `json:"sms_service_url,omitempty"`
	EmailServiceURL string `json:"email_service_url,omitempty"`
	TaskServiceURL  string `json:"task_service_url,omitempty"`
	CRMServiceURL   string `json:"crm_service_url,omitempty"`

	CollaboratorTimeout    time.Duration `json:"-"`
	CollaboratorTimeoutStr string        `json:"collaborator_timeout"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	OutcomeBufferSize int `json:"outcome_buffer_size"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`

	// LeaderLockKey: all instances sharing the same database must use the same key.
	LeaderLockKey int64 `json:"leader_lock_key"`

	LeaderRetryInterval        time.Duration `json:"-"`
	LeaderRetryIntervalStr     string        `json:"leader_retry_interval"`
	LeaderHeartbeatInterval    time.Duration `json:"-"`
	LeaderHeartbeatIntervalStr string        `json:"leader_heartbeat_interval"`

	DBOpTimeout          time.Duration `json:"-"`
	DBOpTimeoutStr       string        `json:"db_op_timeout"`
	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`
	DBConnMaxIdleTime    time.Duration `json:"-"`
	DBConnMaxIdleTimeStr string        `json:"db_conn_max_idle_time"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`
}

// source resolves a key against the environment first, then the config
// file values. YAML keys are the lowercase spelling of the env var.
type source struct {
	file map[string]string
}

func (s source) get(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return s.file[strings.ToLower(key)]
}

func loadFile(path string) map[string]string {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("config: cannot read %s: %v", path, err)
		return nil
	}

	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		log.Printf("config: cannot parse %s: %v", path, err)
		return nil
	}

	values := make(map[string]string, len(raw))
	for k, v := range raw {
		values[strings.ToLower(k)] = fmt.Sprintf("%v", v)
	}
	return values
}

// Load reads configuration from the environment, layered over the
// optional CONFIG_FILE, with defaults.
func Load() Config {
	src := source{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		src.file = loadFile(path)
	}

	cfg := Config{
		DatabaseURL:                src.get("DATABASE_URL"),
		RedisAddr:                  src.get("REDIS_ADDR"),
		HTTPAddr:                   src.get("HTTP_ADDR"),
		WorkerSchedule:             src.get("WORKER_SCHEDULE"),
		SweepEnabled:               src.get("SWEEP_ENABLED") == "true",
		SweepIntervalStr:           src.get("SWEEP_INTERVAL"),
		SweepThresholdStr:          src.get("SWEEP_THRESHOLD"),
		SMSServiceURL:              src.get("SMS_SERVICE_URL"),
		EmailServiceURL:            src.get("EMAIL_SERVICE_URL"),
		TaskServiceURL:             src.get("TASK_SERVICE_URL"),
		CRMServiceURL:              src.get("CRM_SERVICE_URL"),
		CollaboratorTimeoutStr:     src.get("COLLABORATOR_TIMEOUT"),
		CircuitBreakerCooldownStr:  src.get("CIRCUIT_BREAKER_COOLDOWN"),
		MetricsEnabled:             src.get("METRICS_ENABLED") == "true",
		MetricsPath:                src.get("METRICS_PATH"),
		LeaderRetryIntervalStr:     src.get("LEADER_RETRY_INTERVAL"),
		LeaderHeartbeatIntervalStr: src.get("LEADER_HEARTBEAT_INTERVAL"),
		DBOpTimeoutStr:             src.get("DB_OP_TIMEOUT"),
		DBConnMaxLifetimeStr:       src.get("DB_CONN_MAX_LIFETIME"),
		DBConnMaxIdleTimeStr:       src.get("DB_CONN_MAX_IDLE_TIME"),
		HTTPShutdownTimeoutStr:     src.get("HTTP_SHUTDOWN_TIMEOUT"),
	}

	cfg.WorkerBatchSize = intOr(src, "WORKER_BATCH_SIZE", 50)
	cfg.WorkerMaxAttempts = intOr(src, "WORKER_MAX_ATTEMPTS", 3)
	cfg.WorkerParallelism = intOr(src, "WORKER_PARALLELISM", 4)
	cfg.SweepBatchSize = intOr(src, "SWEEP_BATCH_SIZE", 100)
	cfg.OutcomeBufferSize = intOr(src, "OUTCOME_BUFFER_SIZE", 256)
	cfg.DBMaxOpenConns = intOr(src, "DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = intOr(src, "DB_MAX_IDLE_CONNS", 5)

	if cbStr := src.get("CIRCUIT_BREAKER_THRESHOLD"); cbStr != "" {
		if n, err := strconv.Atoi(cbStr); err == nil && n >= 0 {
			cfg.CircuitBreakerThreshold = n
		} else {
			log.Printf("config: invalid CIRCUIT_BREAKER_THRESHOLD %q, using default 5", cbStr)
			cfg.CircuitBreakerThreshold = 5
		}
	} else {
		cfg.CircuitBreakerThreshold = 5
	}

	if lockKeyStr := src.get("LEADER_LOCK_KEY"); lockKeyStr != "" {
		if n, err := strconv.ParseInt(lockKeyStr, 10, 64); err == nil && n > 0 {
			cfg.LeaderLockKey = n
		} else {
			log.Printf("config: invalid LEADER_LOCK_KEY %q (must be a positive integer), using default 917320", lockKeyStr)
		}
	}
	if cfg.LeaderLockKey == 0 {
		cfg.LeaderLockKey = 917320
	}

	// Support Railway's PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.WorkerSchedule == "" {
		cfg.WorkerSchedule = "@every 1m"
	}
	if cfg.SweepIntervalStr == "" {
		cfg.SweepIntervalStr = "5m"
	}
	if cfg.SweepThresholdStr == "" {
		cfg.SweepThresholdStr = "15m"
	}
	if cfg.CollaboratorTimeoutStr == "" {
		cfg.CollaboratorTimeoutStr = "10s"
	}
	if cfg.CircuitBreakerCooldownStr == "" {
		cfg.CircuitBreakerCooldownStr = "2m"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.LeaderRetryIntervalStr == "" {
		cfg.LeaderRetryIntervalStr = "5s"
	}
	if cfg.LeaderHeartbeatIntervalStr == "" {
		cfg.LeaderHeartbeatIntervalStr = "2s"
	}
	if cfg.DBOpTimeoutStr == "" {
		cfg.DBOpTimeoutStr = "5s"
	}
	if cfg.DBConnMaxLifetimeStr == "" {
		cfg.DBConnMaxLifetimeStr = "30m"
	}
	if cfg.DBConnMaxIdleTimeStr == "" {
		cfg.DBConnMaxIdleTimeStr = "5m"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}

	// Parse durations; validation is handled separately by Validate().
	if d, err := time.ParseDuration(cfg.SweepIntervalStr); err == nil {
		cfg.SweepInterval = d
	}
	if d, err := time.ParseDuration(cfg.SweepThresholdStr); err == nil {
		cfg.SweepThreshold = d
	}
	if d, err := time.ParseDuration(cfg.CollaboratorTimeoutStr); err == nil {
		cfg.CollaboratorTimeout = d
	}
	if d, err := time.ParseDuration(cfg.CircuitBreakerCooldownStr); err == nil {
		cfg.CircuitBreakerCooldown = d
	}
	if d, err := time.ParseDuration(cfg.LeaderRetryIntervalStr); err == nil {
		cfg.LeaderRetryInterval = d
	}
	if d, err := time.ParseDuration(cfg.LeaderHeartbeatIntervalStr); err == nil {
		cfg.LeaderHeartbeatInterval = d
	}
	if d, err := time.ParseDuration(cfg.DBOpTimeoutStr); err == nil {
		cfg.DBOpTimeout = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxLifetimeStr); err == nil {
		cfg.DBConnMaxLifetime = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxIdleTimeStr); err == nil {
		cfg.DBConnMaxIdleTime = d
	}
	if d, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err == nil {
		cfg.HTTPShutdownTimeout = d
	}

	return cfg
}

func intOr(src source, key string, fallback int) int {
	s := src.get(key)
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		log.Printf("config: invalid %s %q (must be a positive integer), using default %d", key, s, fallback)
		return fallback
	}
	return n
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		DatabaseURL             string `json:"database_url"`
		RedisAddr               string `json:"redis_addr,omitempty"`
		HTTPAddr                string `json:"http_addr"`
		WorkerSchedule          string `json:"worker_schedule"`
		WorkerBatchSize         int    `json:"worker_batch_size"`
		WorkerMaxAttempts       int    `json:"worker_max_attempts"`
		WorkerParallelism       int    `json:"worker_parallelism"`
		SweepEnabled            bool   `json:"sweep_enabled"`
		SweepInterval           string `json:"sweep_interval"`
		SweepThreshold          string `json:"sweep_threshold"`
		SweepBatchSize          int    `json:"sweep_batch_size"`
		SMSServiceURL           string `json:"sms_service_url,omitempty"`
		EmailServiceURL         string `json:"email_service_url,omitempty"`
		TaskServiceURL          string `json:"task_service_url,omitempty"`
		CRMServiceURL           string `json:"crm_service_url,omitempty"`
		CollaboratorTimeout     string `json:"collaborator_timeout"`
		CircuitBreakerThreshold int    `json:"circuit_breaker_threshold"`
		CircuitBreakerCooldown  string `json:"circuit_breaker_cooldown"`
		OutcomeBufferSize       int    `json:"outcome_buffer_size"`
		MetricsEnabled          bool   `json:"metrics_enabled"`
		MetricsPath             string `json:"metrics_path"`
		LeaderLockKey           int64  `json:"leader_lock_key"`
		LeaderRetryInterval     string `json:"leader_retry_interval"`
		LeaderHeartbeatInterval string `json:"leader_heartbeat_interval"`
		DBOpTimeout             string `json:"db_op_timeout"`
		DBMaxOpenConns          int    `json:"db_max_open_conns"`
		DBMaxIdleConns          int    `json:"db_max_idle_conns"`
		DBConnMaxLifetime       string `json:"db_conn_max_lifetime"`
		DBConnMaxIdleTime       string `json:"db_conn_max_idle_time"`
		HTTPShutdownTimeout     string `json:"http_shutdown_timeout"`
	}{
		DatabaseURL:             maskSecret(c.DatabaseURL),
		RedisAddr:               c.RedisAddr,
		HTTPAddr:                c.HTTPAddr,
		WorkerSchedule:          c.WorkerSchedule,
		WorkerBatchSize:         c.WorkerBatchSize,
		WorkerMaxAttempts:       c.WorkerMaxAttempts,
		WorkerParallelism:       c.WorkerParallelism,
		SweepEnabled:            c.SweepEnabled,
		SweepInterval:           c.SweepIntervalStr,
		SweepThreshold:          c.SweepThresholdStr,
		SweepBatchSize:          c.SweepBatchSize,
		SMSServiceURL:           c.SMSServiceURL,
		EmailServiceURL:         c.EmailServiceURL,
		TaskServiceURL:          c.TaskServiceURL,
		CRMServiceURL:           c.CRMServiceURL,
		CollaboratorTimeout:     c.CollaboratorTimeoutStr,
		CircuitBreakerThreshold: c.CircuitBreakerThreshold,
		CircuitBreakerCooldown:  c.CircuitBreakerCooldownStr,
		OutcomeBufferSize:       c.OutcomeBufferSize,
		MetricsEnabled:          c.MetricsEnabled,
		MetricsPath:             c.MetricsPath,
		LeaderLockKey:           c.LeaderLockKey,
		LeaderRetryInterval:     c.LeaderRetryIntervalStr,
		LeaderHeartbeatInterval: c.LeaderHeartbeatIntervalStr,
		DBOpTimeout:             c.DBOpTimeoutStr,
		DBMaxOpenConns:          c.DBMaxOpenConns,
		DBMaxIdleConns:          c.DBMaxIdleConns,
		DBConnMaxLifetime:       c.DBConnMaxLifetimeStr,
		DBConnMaxIdleTime:       c.DBConnMaxIdleTimeStr,
		HTTPShutdownTimeout:     c.HTTPShutdownTimeoutStr,
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(s, scheme) {
			return scheme + "***"
		}
	}
	return "***"
}
