// Package config загружает настройки сервисов Anomalix.
//
// Источники по возрастанию приоритета: значения по умолчанию, YAML файл
// (ANOMALIX_CONFIG или ./anomalix.yaml), переменные окружения.
// Ключ rabbitmq.queue_name читается из RABBITMQ_QUEUE_NAME и т.д.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/shaiso/Anomalix/internal/mq"
)

// Ошибки конфигурации.
var (
	// ErrMissingBrokerHost — не задан ни RABBITMQ_URL, ни RABBITMQ_HOST.
	ErrMissingBrokerHost = errors.New("RABBITMQ_URL or RABBITMQ_HOST must be set")

	// ErrMissingQueueName — пустое имя рабочей очереди.
	ErrMissingQueueName = errors.New("RABBITMQ_QUEUE_NAME must not be empty")

	// ErrInvalidReplyMode — неизвестный режим очереди ответов.
	ErrInvalidReplyMode = errors.New("RABBITMQ_REPLY_MODE must be 'exclusive' or 'shared'")

	// ErrInvalidThreshold — отрицательный порог аномалии.
	ErrInvalidThreshold = errors.New("ANOMALY_THRESHOLD must not be negative")
)

// Config — настройки API и воркера.
type Config struct {
	RabbitMQ    RabbitMQConfig `yaml:"rabbitmq" mapstructure:"rabbitmq"`
	Anomaly     AnomalyConfig  `yaml:"anomaly" mapstructure:"anomaly"`
	Worker      WorkerConfig   `yaml:"worker" mapstructure:"worker"`
	API         APIConfig      `yaml:"api" mapstructure:"api"`
	DatabaseURL string         `yaml:"database_url" mapstructure:"database_url"`
	RedisURL    string         `yaml:"redis_url" mapstructure:"redis_url"`
	NATSURL     string         `yaml:"nats_url" mapstructure:"nats_url"`
}

// RabbitMQConfig — подключение и имена очередей.
type RabbitMQConfig struct {
	// URL — полный адрес; если задан, Host/Port/User/Password/VHost не используются.
	URL      string `yaml:"url" mapstructure:"url"`
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	VHost    string `yaml:"vhost" mapstructure:"vhost"`

	QueueName         string `yaml:"queue_name" mapstructure:"queue_name"`
	ResponseQueueName string `yaml:"response_queue_name" mapstructure:"response_queue_name"`
	DLXName           string `yaml:"dlx_name" mapstructure:"dlx_name"`
	DLQName           string `yaml:"dlq_name" mapstructure:"dlq_name"`

	RetryDelay time.Duration `yaml:"retry_delay" mapstructure:"retry_delay"`
	ReplyMode  string        `yaml:"reply_mode" mapstructure:"reply_mode"`
}

// AnomalyConfig — параметры оценки.
type AnomalyConfig struct {
	Threshold float64 `yaml:"threshold" mapstructure:"threshold"`
	Scorer    string  `yaml:"scorer" mapstructure:"scorer"`
}

// WorkerConfig — параметры воркера.
type WorkerConfig struct {
	Port            int           `yaml:"port" mapstructure:"port"`
	MaxRedeliveries int           `yaml:"max_redeliveries" mapstructure:"max_redeliveries"`
	CallTimeout     time.Duration `yaml:"call_timeout" mapstructure:"call_timeout"`
}

// APIConfig — параметры HTTP API.
type APIConfig struct {
	Port       int           `yaml:"port" mapstructure:"port"`
	RPCTimeout time.Duration `yaml:"rpc_timeout" mapstructure:"rpc_timeout"`
}

// Load читает конфигурацию. Пустой path — ANOMALIX_CONFIG или ./anomalix.yaml.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("rabbitmq.url", "")
	v.SetDefault("rabbitmq.host", "")
	v.SetDefault("rabbitmq.port", 5672)
	v.SetDefault("rabbitmq.user", "guest")
	v.SetDefault("rabbitmq.password", "guest")
	v.SetDefault("rabbitmq.vhost", "/")
	v.SetDefault("rabbitmq.queue_name", mq.DefaultWorkQueue)
	v.SetDefault("rabbitmq.response_queue_name", mq.DefaultReplyQueue)
	v.SetDefault("rabbitmq.dlx_name", mq.DefaultDeadLetterExchange)
	v.SetDefault("rabbitmq.dlq_name", mq.DefaultDeadLetterQueue)
	v.SetDefault("rabbitmq.retry_delay", mq.DefaultRetryDelay)
	v.SetDefault("rabbitmq.reply_mode", string(mq.ReplyModeExclusive))

	v.SetDefault("anomaly.threshold", 0.0)
	v.SetDefault("anomaly.scorer", "random")

	v.SetDefault("worker.port", 8081)
	v.SetDefault("worker.max_redeliveries", 5)
	v.SetDefault("worker.call_timeout", 5*time.Second)

	v.SetDefault("api.port", 8080)
	v.SetDefault("api.rpc_timeout", mq.DefaultCallTimeout)

	v.SetDefault("database_url", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("nats_url", "")

	if path == "" {
		path = os.Getenv("ANOMALIX_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("anomalix")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/anomalix")
	}

	// Переменные окружения без префикса: rabbitmq.host → RABBITMQ_HOST
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет конфигурацию до подключения к чему-либо.
func (c *Config) Validate() error {
	var errs []error

	if c.RabbitMQ.URL == "" && c.RabbitMQ.Host == "" {
		errs = append(errs, ErrMissingBrokerHost)
	}
	if c.RabbitMQ.QueueName == "" {
		errs = append(errs, ErrMissingQueueName)
	}

	switch mq.ReplyMode(c.RabbitMQ.ReplyMode) {
	case mq.ReplyModeExclusive:
	case mq.ReplyModeShared:
		if c.RabbitMQ.ResponseQueueName == "" {
			errs = append(errs, fmt.Errorf("%w: shared mode needs RABBITMQ_RESPONSE_QUEUE_NAME", ErrInvalidReplyMode))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: got %q", ErrInvalidReplyMode, c.RabbitMQ.ReplyMode))
	}

	if c.Anomaly.Threshold < 0 {
		errs = append(errs, ErrInvalidThreshold)
	}

	return errors.Join(errs...)
}

// BrokerURL возвращает адрес RabbitMQ.
func (r RabbitMQConfig) BrokerURL() string {
	if r.URL != "" {
		return r.URL
	}

	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(r.User, r.Password),
		Host:   net.JoinHostPort(r.Host, strconv.Itoa(r.Port)),
		Path:   "/",
	}
	if r.VHost != "" && r.VHost != "/" {
		u.Path = "/" + url.PathEscape(r.VHost)
	}
	return u.String()
}

// Topology возвращает имена очередей для mq.SetupTopology.
func (r RabbitMQConfig) Topology() mq.Topology {
	return mq.Topology{
		WorkQueue:          r.QueueName,
		ReplyQueue:         r.ResponseQueueName,
		DeadLetterExchange: r.DLXName,
		DeadLetterQueue:    r.DLQName,
	}
}

// CallerConfig возвращает настройки mq.Caller для API.
func (c *Config) CallerConfig() mq.CallerConfig {
	return mq.CallerConfig{
		WorkQueue:  c.RabbitMQ.QueueName,
		ReplyQueue: c.RabbitMQ.ResponseQueueName,
		Mode:       mq.ReplyMode(c.RabbitMQ.ReplyMode),
		Timeout:    c.API.RPCTimeout,
	}
}
