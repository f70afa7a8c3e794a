package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	HTTPAddr string
	GRPCAddr string

	RedisAddr     string
	RedisPoolSize int

	MySQLDSN          string
	MySQLMaxOpenConns int
	MySQLMaxIdleConns int

	WorkerCount int
	QueueSize   int

	PublicHosts       []string
	ScanPathMarker    string
	InventoryPrefixes []string
	ProductPrefixes   []string

	ScanBatchSize      int64
	ScanMaxIterations  int
	ScanTimeout        time.Duration
	ScanRejectTampered bool
	CodeMaxAttempts    int

	LogLevel string
}

var defaults = map[string]any{
	"HTTP_ADDR":            ":8080",
	"GRPC_ADDR":            ":50051",
	"REDIS_ADDR":           "localhost:6379",
	"REDIS_POOL_SIZE":      100,
	"MYSQL_DSN":            "root:root@tcp(localhost:3306)/inventory?parseTime=true",
	"MYSQL_MAX_OPEN_CONNS": 50,
	"MYSQL_MAX_IDLE_CONNS": 25,
	"WORKER_COUNT":         10,
	"QUEUE_SIZE":           10000,
	"PUBLIC_HOSTS":         "",
	"SCAN_PATH_MARKER":     "/scan/",
	"INVENTORY_PREFIXES":   "INV",
	"PRODUCT_PREFIXES":     "PRD",
	"SCAN_BATCH_SIZE":      100,
	"SCAN_MAX_ITERATIONS":  50,
	"SCAN_TIMEOUT":         "2s",
	"SCAN_REJECT_TAMPERED": false,
	"CODE_MAX_ATTEMPTS":    8,
	"LOG_LEVEL":            "info",
}

// Load reads configuration from the environment, optionally layered over the
// file named by CONFIG_FILE. Environment variables win over the file.
func Load() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	cfg := &Config{
		HTTPAddr:           v.GetString("HTTP_ADDR"),
		GRPCAddr:           v.GetString("GRPC_ADDR"),
		RedisAddr:          v.GetString("REDIS_ADDR"),
		RedisPoolSize:      v.GetInt("REDIS_POOL_SIZE"),
		MySQLDSN:           v.GetString("MYSQL_DSN"),
		MySQLMaxOpenConns:  v.GetInt("MYSQL_MAX_OPEN_CONNS"),
		MySQLMaxIdleConns:  v.GetInt("MYSQL_MAX_IDLE_CONNS"),
		WorkerCount:        v.GetInt("WORKER_COUNT"),
		QueueSize:          v.GetInt("QUEUE_SIZE"),
		PublicHosts:        splitCSV(v.GetString("PUBLIC_HOSTS")),
		ScanPathMarker:     v.GetString("SCAN_PATH_MARKER"),
		InventoryPrefixes:  splitCSV(v.GetString("INVENTORY_PREFIXES")),
		ProductPrefixes:    splitCSV(v.GetString("PRODUCT_PREFIXES")),
		ScanBatchSize:      v.GetInt64("SCAN_BATCH_SIZE"),
		ScanMaxIterations:  v.GetInt("SCAN_MAX_ITERATIONS"),
		ScanTimeout:        v.GetDuration("SCAN_TIMEOUT"),
		ScanRejectTampered: v.GetBool("SCAN_REJECT_TAMPERED"),
		CodeMaxAttempts:    v.GetInt("CODE_MAX_ATTEMPTS"),
		LogLevel:           strings.ToLower(v.GetString("LOG_LEVEL")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []string
	if c.HTTPAddr == "" {
		errs = append(errs, "HTTP_ADDR is required")
	}
	if c.RedisAddr == "" {
		errs = append(errs, "REDIS_ADDR is required")
	}
	if c.MySQLDSN == "" {
		errs = append(errs, "MYSQL_DSN is required")
	}
	if c.WorkerCount <= 0 {
		errs = append(errs, "WORKER_COUNT must be > 0")
	}
	if c.QueueSize < 0 {
		errs = append(errs, "QUEUE_SIZE must be >= 0")
	}
	if !strings.HasPrefix(c.ScanPathMarker, "/") || !strings.HasSuffix(c.ScanPathMarker, "/") {
		errs = append(errs, "SCAN_PATH_MARKER must start and end with /")
	}
	if len(c.InventoryPrefixes) == 0 || len(c.ProductPrefixes) == 0 {
		errs = append(errs, "INVENTORY_PREFIXES and PRODUCT_PREFIXES must not be empty")
	}
	if c.ScanBatchSize <= 0 {
		errs = append(errs, "SCAN_BATCH_SIZE must be > 0")
	}
	if c.ScanMaxIterations <= 0 {
		errs = append(errs, "SCAN_MAX_ITERATIONS must be > 0")
	}
	if c.ScanTimeout <= 0 {
		errs = append(errs, "SCAN_TIMEOUT must be > 0")
	}
	if c.CodeMaxAttempts <= 0 || c.CodeMaxAttempts > 100 {
		errs = append(errs, "CODE_MAX_ATTEMPTS must be between 1 and 100")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
