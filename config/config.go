// Package config loads the engine's YAML configuration. Values from the
// file are overridden by TICKMATCH_* environment variables and then
// validated as a whole.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"tickmatch/domain/orderbook"
	"tickmatch/engine"
	"tickmatch/infra/logging"
)

type Config struct {
	Engine      EngineConfig   `yaml:"engine"`
	Instruments []Instrument   `yaml:"instruments"`
	WAL         WALConfig      `yaml:"wal"`
	Outbox      OutboxConfig   `yaml:"outbox"`
	Kafka       KafkaConfig    `yaml:"kafka"`
	GRPC        ListenConfig   `yaml:"grpc"`
	HTTP        ListenConfig   `yaml:"http"`
	Logging     logging.Config `yaml:"logging"`
}

type EngineConfig struct {
	Shards          int           `yaml:"shards"`
	IngressCapacity int           `yaml:"ingress_capacity"`
	OutputCapacity  int           `yaml:"output_capacity"`
	OrderCapacity   int           `yaml:"order_capacity"`
	FillCapacity    int           `yaml:"fill_capacity"`
	IdleSleep       time.Duration `yaml:"idle_sleep"`
	SubmitTimeout   time.Duration `yaml:"submit_timeout"`
	PublishBatch    int           `yaml:"publish_batch"`
	// MarketPolicy is "discard" (fill what is there, expire the rest) or
	// "reject" (all or nothing against the whole opposite side).
	MarketPolicy string `yaml:"market_policy"`
}

type WALConfig struct {
	Dir             string `yaml:"dir"`
	SegmentSizeMB   int    `yaml:"segment_size_mb"`
	SyncEveryAppend bool   `yaml:"sync_every_append"`
}

type OutboxConfig struct {
	Dir string `yaml:"dir"`
}

type KafkaConfig struct {
	Brokers           []string      `yaml:"brokers"`
	FillsTopic        string        `yaml:"fills_topic"`
	QuotesTopic       string        `yaml:"quotes_topic"`
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`
	BroadcastBatch    int           `yaml:"broadcast_batch"`
	MaxRetries        uint32        `yaml:"max_retries"`
}

// Enabled reports whether fills and quotes leave the process.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

type ListenConfig struct {
	Addr string `yaml:"addr"`
}

func Default() Config {
	return Config{
		Engine: EngineConfig{
			Shards:          1,
			IngressCapacity: 1 << 14,
			OutputCapacity:  1 << 16,
			OrderCapacity:   1 << 12,
			FillCapacity:    1 << 10,
			IdleSleep:       50 * time.Microsecond,
			SubmitTimeout:   100 * time.Millisecond,
			PublishBatch:    512,
			MarketPolicy:    "discard",
		},
		WAL:    WALConfig{Dir: "data/wal", SegmentSizeMB: 64},
		Outbox: OutboxConfig{Dir: "data/outbox"},
		Kafka: KafkaConfig{
			FillsTopic:        "tickmatch.fills",
			QuotesTopic:       "tickmatch.quotes",
			BroadcastInterval: 250 * time.Millisecond,
			BroadcastBatch:    256,
			MaxRetries:        5,
		},
		GRPC:    ListenConfig{Addr: ":50051"},
		HTTP:    ListenConfig{Addr: ":9090"},
		Logging: logging.Config{Level: "info"},
	}
}

// Load reads path on top of Default, applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "config: read")
	}
	return Parse(data, os.LookupEnv)
}

func Parse(data []byte, env func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "config: parse")
	}
	if err := cfg.overrideWithEnv(env); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return &cfg, nil
}

func (c *Config) overrideWithEnv(env func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := env(key); ok && v != "" {
			*dst = v
		}
	}
	str("TICKMATCH_GRPC_ADDR", &c.GRPC.Addr)
	str("TICKMATCH_HTTP_ADDR", &c.HTTP.Addr)
	str("TICKMATCH_WAL_DIR", &c.WAL.Dir)
	str("TICKMATCH_OUTBOX_DIR", &c.Outbox.Dir)
	str("TICKMATCH_LOG_LEVEL", &c.Logging.Level)
	str("TICKMATCH_LOG_FILE", &c.Logging.File)

	if v, ok := env("TICKMATCH_KAFKA_BROKERS"); ok {
		c.Kafka.Brokers = nil
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				c.Kafka.Brokers = append(c.Kafka.Brokers, b)
			}
		}
	}
	if v, ok := env("TICKMATCH_SHARDS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "config: TICKMATCH_SHARDS=%q", v)
		}
		c.Engine.Shards = n
	}
	return nil
}

func (c *Config) Validate() error {
	e := c.Engine
	switch {
	case e.Shards <= 0:
		return errors.Newf("engine.shards must be positive, got %d", e.Shards)
	case e.IngressCapacity < 2 || e.OutputCapacity < 2:
		return errors.New("engine ring capacities must be at least 2")
	case e.FillCapacity <= 0 || e.OrderCapacity <= 0:
		return errors.New("engine.fill_capacity and engine.order_capacity must be positive")
	case e.SubmitTimeout <= 0:
		return errors.New("engine.submit_timeout must be positive")
	}
	if _, err := c.marketPolicy(); err != nil {
		return err
	}

	if len(c.Instruments) == 0 {
		return errors.New("at least one instrument is required")
	}
	symbols := make(map[string]bool, len(c.Instruments))
	ids := make(map[uint32]bool, len(c.Instruments))
	for _, in := range c.Instruments {
		if in.Symbol == "" {
			return errors.Newf("instrument %d has no symbol", in.ID)
		}
		if symbols[in.Symbol] || ids[in.ID] {
			return errors.Newf("instrument %s/%d is configured twice", in.Symbol, in.ID)
		}
		symbols[in.Symbol], ids[in.ID] = true, true
		if !in.TickSize.IsPositive() {
			return errors.Newf("instrument %s: tick_size must be positive", in.Symbol)
		}
	}

	if c.WAL.Dir == "" || c.Outbox.Dir == "" {
		return errors.New("wal.dir and outbox.dir are required")
	}
	if c.Kafka.Enabled() && (c.Kafka.FillsTopic == "" || c.Kafka.QuotesTopic == "") {
		return errors.New("kafka topics are required when brokers are set")
	}
	return nil
}

func (c *Config) marketPolicy() (orderbook.MarketPolicy, error) {
	switch c.Engine.MarketPolicy {
	case "", "discard":
		return orderbook.MarketDiscardRemainder, nil
	case "reject":
		return orderbook.MarketRejectUnfilled, nil
	default:
		return 0, errors.Newf("engine.market_policy must be discard or reject, got %q", c.Engine.MarketPolicy)
	}
}

// EngineConfig translates the engine section for engine.New.
func (c *Config) EngineConfig() engine.Config {
	policy, _ := c.marketPolicy()
	return engine.Config{
		Shards:          c.Engine.Shards,
		IngressCapacity: c.Engine.IngressCapacity,
		OutputCapacity:  c.Engine.OutputCapacity,
		OrderCapacity:   c.Engine.OrderCapacity,
		FillCapacity:    c.Engine.FillCapacity,
		MarketPolicy:    policy,
		IdleSleep:       c.Engine.IdleSleep,
	}
}
