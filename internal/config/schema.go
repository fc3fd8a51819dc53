// internal/config/schema.go
package config

import "time"

// Config is the full runtime configuration of the circulation service.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Vision    VisionConfig    `mapstructure:"vision" yaml:"vision"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Email     EmailConfig     `mapstructure:"email" yaml:"email"`
	Fines     FinesConfig     `mapstructure:"fines" yaml:"fines"`
	Evidence  EvidenceConfig  `mapstructure:"evidence" yaml:"evidence"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
	Loans     LoansConfig     `mapstructure:"loans" yaml:"loans"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port" yaml:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DatabaseConfig selects the store. An empty URL keeps everything in memory.
type DatabaseConfig struct {
	URL          string        `mapstructure:"url" yaml:"url"`
	MaxOpenConns int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	ConnectWait  time.Duration `mapstructure:"connect_wait" yaml:"connect_wait"`
}

// VisionConfig configures the image tagging service. The key is read from
// the environment variable named by KeyEnv and never stored in a file.
type VisionConfig struct {
	Endpoint      string        `mapstructure:"endpoint" yaml:"endpoint"`
	KeyEnv        string        `mapstructure:"key_env" yaml:"key_env"`
	Key           string        `mapstructure:"-" yaml:"-"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second" yaml:"rate_per_second"`
	Burst         int           `mapstructure:"burst" yaml:"burst"`
	MaxFailures   uint32        `mapstructure:"max_failures" yaml:"max_failures"`
	OpenFor       time.Duration `mapstructure:"open_for" yaml:"open_for"`
	MinConfidence float64       `mapstructure:"min_confidence" yaml:"min_confidence"`
}

// StorageConfig places evidence images on disk. BaseURL is the public prefix
// the tagging service fetches them from.
type StorageConfig struct {
	Root    string `mapstructure:"root" yaml:"root"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
}

// EmailConfig enables SMTP delivery when Host is set.
type EmailConfig struct {
	Host        string `mapstructure:"host" yaml:"host"`
	Port        int    `mapstructure:"port" yaml:"port"`
	Username    string `mapstructure:"username" yaml:"username"`
	PasswordEnv string `mapstructure:"password_env" yaml:"password_env"`
	Password    string `mapstructure:"-" yaml:"-"`
	From        string `mapstructure:"from" yaml:"from"`
}

type FinesConfig struct {
	TariffFile   string `mapstructure:"tariff_file" yaml:"tariff_file"`
	DefaultPrice string `mapstructure:"default_price" yaml:"default_price"`
}

type EvidenceConfig struct {
	MaxConcurrency int           `mapstructure:"max_concurrency" yaml:"max_concurrency"`
	CallTimeout    time.Duration `mapstructure:"call_timeout" yaml:"call_timeout"`
}

type TelemetryConfig struct {
	ServiceName  string `mapstructure:"service_name" yaml:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`
	Verbosity    int    `mapstructure:"verbosity" yaml:"verbosity"`
}

// LoansConfig holds the loan period and the cron schedule of the overdue
// sweep. An empty schedule disables the sweep.
type LoansConfig struct {
	DefaultDays     int    `mapstructure:"default_days" yaml:"default_days"`
	OverdueSchedule string `mapstructure:"overdue_schedule" yaml:"overdue_schedule"`
}
