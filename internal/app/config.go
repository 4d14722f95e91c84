package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/vladislavdragonenkov/ordersync/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/ordersync/internal/service/scheduler"
)

// Драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// MagentoConfig описывает доступ к SOAP API магазина.
type MagentoConfig struct {
	URL           string        `yaml:"url"`
	User          string        `yaml:"user"`
	APIKey        string        `yaml:"api_key"`
	LookbackHours int           `yaml:"lookback_hours"`
	WindowHours   int           `yaml:"window_hours"`
	BatchSize     int           `yaml:"batch_size"`
	Timeout       time.Duration `yaml:"timeout"`
}

// StorageConfig выбирает хранилище.
type StorageConfig struct {
	// Driver пустой: postgres, если задан DSN, иначе memory.
	Driver      string `yaml:"driver"`
	PostgresDSN string `yaml:"postgres_dsn"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

// RedisConfig настраивает блокировку прогонов. Пустой Addr включает in-process блокировку.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	KeyPrefix string `yaml:"key_prefix"`
}

// KafkaConfig настраивает публикацию событий синхронизации. Без брокеров outbox не публикуется.
type KafkaConfig struct {
	Brokers []string     `yaml:"brokers"`
	Topics  kafka.Topics `yaml:"topics"`
}

// OutboxConfig параметры outbox worker.
type OutboxConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
	Retention    time.Duration `yaml:"retention"`
}

// ScheduleConfig cron-расписание демона.
type ScheduleConfig struct {
	Rolling    string `yaml:"rolling"`
	Last50     string `yaml:"last50"`
	RunOnStart bool   `yaml:"run_on_start"`
	// StaleAfter: через сколько без успешного прогона health становится degraded.
	StaleAfter time.Duration `yaml:"stale_after"`
}

// Config — полная конфигурация ordersync.
type Config struct {
	GRPCAddr    string `yaml:"grpc_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	Timezone    string `yaml:"timezone"`

	Magento  MagentoConfig  `yaml:"magento"`
	Storage  StorageConfig  `yaml:"storage"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Outbox   OutboxConfig   `yaml:"outbox"`
	Schedule ScheduleConfig `yaml:"schedule"`
}

// DefaultConfig возвращает значения по умолчанию.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",
		LogLevel:    "info",
		LogFormat:   "text",
		Timezone:    "America/Sao_Paulo",
		Magento: MagentoConfig{
			LookbackHours: 24,
			WindowHours:   6,
			BatchSize:     50,
			Timeout:       60 * time.Second,
		},
		Storage: StorageConfig{
			AutoMigrate: true,
		},
		Redis: RedisConfig{
			KeyPrefix: "ordersync:",
		},
		Kafka: KafkaConfig{
			Topics: kafka.DefaultTopics(),
		},
		Outbox: OutboxConfig{
			PollInterval: time.Second,
			BatchSize:    100,
			MaxAttempts:  3,
			RetryDelay:   50 * time.Millisecond,
			Retention:    7 * 24 * time.Hour,
		},
		Schedule: ScheduleConfig{
			Rolling:    scheduler.DefaultRollingSpec,
			Last50:     scheduler.DefaultLast50Spec,
			StaleAfter: 2 * time.Hour,
		},
	}
}

// LoadConfig собирает конфигурацию: значения по умолчанию, затем YAML из ORDERSYNC_CONFIG,
// затем переменные окружения. envFiles загружаются в окружение заранее (по умолчанию .env);
// отсутствующие файлы пропускаются, уже заданные переменные не перезаписываются.
func LoadConfig(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", file, err)
		}
	}

	cfg := DefaultConfig()
	if path := strings.TrimSpace(os.Getenv("ORDERSYNC_CONFIG")); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	env := envReader{lookup: lookup}

	env.str(&c.GRPCAddr, "ORDERSYNC_GRPC_ADDR")
	env.str(&c.MetricsAddr, "ORDERSYNC_METRICS_ADDR")
	env.str(&c.LogLevel, "ORDERSYNC_LOG_LEVEL")
	env.str(&c.LogFormat, "ORDERSYNC_LOG_FORMAT")
	env.str(&c.Timezone, "TZ", "ORDERSYNC_TIMEZONE")

	env.str(&c.Magento.URL, "MAGENTO_API_URL")
	env.str(&c.Magento.User, "MAGENTO_API_USER")
	env.str(&c.Magento.APIKey, "MAGENTO_API_KEY")
	env.integer(&c.Magento.LookbackHours, "MAGENTO_LOOKBACK_HOURS")
	env.integer(&c.Magento.WindowHours, "MAGENTO_WINDOW_HOURS")
	env.integer(&c.Magento.BatchSize, "MAGENTO_BATCH_SIZE")
	env.duration(&c.Magento.Timeout, "MAGENTO_TIMEOUT")

	env.str(&c.Storage.Driver, "ORDERSYNC_STORAGE_DRIVER")
	env.str(&c.Storage.PostgresDSN, "DATABASE_URL", "ORDERSYNC_POSTGRES_DSN")
	env.boolean(&c.Storage.AutoMigrate, "ORDERSYNC_POSTGRES_AUTO_MIGRATE")

	env.str(&c.Redis.Addr, "REDIS_ADDR")
	env.str(&c.Redis.KeyPrefix, "ORDERSYNC_REDIS_PREFIX")

	env.list(&c.Kafka.Brokers, "KAFKA_BROKERS")
	env.str(&c.Kafka.Topics.Orders, "ORDERSYNC_KAFKA_ORDER_TOPIC")
	env.str(&c.Kafka.Topics.SyncRuns, "ORDERSYNC_KAFKA_SYNC_TOPIC")
	env.str(&c.Kafka.Topics.DeadLetter, "ORDERSYNC_KAFKA_DLQ_TOPIC")

	env.duration(&c.Outbox.PollInterval, "ORDERSYNC_OUTBOX_POLL_INTERVAL")
	env.integer(&c.Outbox.BatchSize, "ORDERSYNC_OUTBOX_BATCH_SIZE")
	env.integer(&c.Outbox.MaxAttempts, "ORDERSYNC_OUTBOX_MAX_ATTEMPTS")
	env.duration(&c.Outbox.RetryDelay, "ORDERSYNC_OUTBOX_RETRY_DELAY")
	env.duration(&c.Outbox.Retention, "ORDERSYNC_OUTBOX_RETENTION")

	env.str(&c.Schedule.Rolling, "ORDERSYNC_ROLLING_SCHEDULE")
	env.str(&c.Schedule.Last50, "ORDERSYNC_LAST50_SCHEDULE")
	env.boolean(&c.Schedule.RunOnStart, "RUN_ON_START")
	env.duration(&c.Schedule.StaleAfter, "ORDERSYNC_STALE_AFTER")

	return env.err
}

// Validate проверяет согласованность и выводит драйвер хранилища.
func (c *Config) Validate() error {
	if c.Storage.Driver == "" {
		c.Storage.Driver = StorageDriverMemory
		if c.Storage.PostgresDSN != "" {
			c.Storage.Driver = StorageDriverPostgres
		}
	}
	switch c.Storage.Driver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if c.Storage.PostgresDSN == "" {
			return errors.New("postgres storage requires DATABASE_URL or ORDERSYNC_POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("unsupported storage driver %q (use memory|postgres)", c.Storage.Driver)
	}

	if c.Magento.LookbackHours <= 0 || c.Magento.WindowHours <= 0 {
		return fmt.Errorf("lookback and window hours must be positive (got %d/%d)", c.Magento.LookbackHours, c.Magento.WindowHours)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location возвращает часовой пояс магазина.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// envReader применяет переменные окружения. Из нескольких имён побеждает последнее заданное.
type envReader struct {
	lookup lookupFunc
	err    error
}

func (r *envReader) value(names ...string) (string, bool) {
	var (
		out   string
		found bool
	)
	for _, name := range names {
		if v, ok := r.lookup(name); ok && strings.TrimSpace(v) != "" {
			out, found = strings.TrimSpace(v), true
		}
	}
	return out, found
}

func (r *envReader) str(dst *string, names ...string) {
	if v, ok := r.value(names...); ok {
		*dst = v
	}
}

func (r *envReader) integer(dst *int, name string) {
	v, ok := r.value(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(name, err)
		return
	}
	*dst = n
}

func (r *envReader) boolean(dst *bool, name string) {
	v, ok := r.value(name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(name, err)
		return
	}
	*dst = b
}

func (r *envReader) duration(dst *time.Duration, name string) {
	v, ok := r.value(name)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(name, err)
		return
	}
	*dst = d
}

func (r *envReader) list(dst *[]string, name string) {
	v, ok := r.value(name)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	*dst = out
}

func (r *envReader) fail(name string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("invalid %s: %w", name, err)
	}
}
