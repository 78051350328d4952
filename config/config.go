// Package config loads matchbook settings from defaults, an optional
// file and MATCHBOOK_* environment variables, in increasing precedence.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const EnvPrefix = "MATCHBOOK"

const (
	FeedXML     = "xml"
	FeedJournal = "journal"
	FeedKafka   = "kafka"
)

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	Feed     FeedConfig     `mapstructure:"feed"`
	Shutdown ShutdownConfig `mapstructure:"shutdown"`
	Journal  JournalConfig  `mapstructure:"journal"`
	Outbox   OutboxConfig   `mapstructure:"outbox"`
	Report   ReportConfig   `mapstructure:"report"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	GRPC     GRPCConfig     `mapstructure:"grpc"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Log      LogConfig      `mapstructure:"log"`
}

type FeedConfig struct {
	Kind string `mapstructure:"kind"`
	Path string `mapstructure:"path"`
}

type ShutdownConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type JournalConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Dir         string `mapstructure:"dir"`
	SegmentSize int64  `mapstructure:"segment_size"`
	Sync        bool   `mapstructure:"sync"`
	// Prune drops segments holding only earlier runs once a run's report
	// is persisted.
	Prune bool `mapstructure:"prune"`
}

type OutboxConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

type ReportConfig struct {
	Dir   string `mapstructure:"dir"`
	Color bool   `mapstructure:"color"`
}

type KafkaConfig struct {
	Brokers      []string `mapstructure:"brokers"`
	FeedTopic    string   `mapstructure:"feed_topic"`
	GroupID      string   `mapstructure:"group_id"`
	ReportsTopic string   `mapstructure:"reports_topic"`
	BatchSize    int      `mapstructure:"batch_size"`
}

type GRPCConfig struct {
	Addr string `mapstructure:"addr"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers every key with its default so env overrides work
// for keys absent from the file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("feed.kind", FeedXML)
	v.SetDefault("feed.path", "")
	v.SetDefault("shutdown.timeout", 5*time.Second)
	v.SetDefault("journal.enabled", false)
	v.SetDefault("journal.dir", "data/journal")
	v.SetDefault("journal.segment_size", int64(64<<20))
	v.SetDefault("journal.sync", false)
	v.SetDefault("journal.prune", false)
	v.SetDefault("outbox.enabled", false)
	v.SetDefault("outbox.dir", "data/outbox")
	v.SetDefault("report.dir", "")
	v.SetDefault("report.color", true)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.feed_topic", "matchbook.feed")
	v.SetDefault("kafka.group_id", "matchbook")
	v.SetDefault("kafka.reports_topic", "matchbook.reports")
	v.SetDefault("kafka.batch_size", 500)
	v.SetDefault("grpc.addr", "")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// New returns a viper instance with defaults and env binding in place.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional file at path into v and decodes the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Shutdown.Timeout <= 0 {
		return errors.Wrap(ErrInvalid, "shutdown.timeout must be positive")
	}
	if c.Journal.Enabled && c.Journal.Dir == "" {
		return errors.Wrap(ErrInvalid, "journal.dir is required when the journal is enabled")
	}
	if c.Outbox.Enabled && c.Outbox.Dir == "" {
		return errors.Wrap(ErrInvalid, "outbox.dir is required when the outbox is enabled")
	}
	return nil
}

// ValidateFeed checks the feed settings; only commands that consume a
// feed need them.
func (c *Config) ValidateFeed() error {
	switch c.Feed.Kind {
	case FeedXML, FeedJournal:
		if c.Feed.Path == "" {
			return errors.Wrapf(ErrInvalid, "feed.path is required for a %s feed", c.Feed.Kind)
		}
	case FeedKafka:
		if len(c.Kafka.Brokers) == 0 || c.Kafka.FeedTopic == "" {
			return errors.Wrap(ErrInvalid, "kafka feed needs kafka.brokers and kafka.feed_topic")
		}
	default:
		return errors.Wrapf(ErrInvalid, "feed.kind %q", c.Feed.Kind)
	}
	return nil
}
