// Package config loads and validates service configuration via Viper.
package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"

	"github.com/pickemhq/sportsfeed/internal/feed"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig       `mapstructure:"server"`
	Feed        FeedConfig         `mapstructure:"feed"`
	Source      SourceConfig       `mapstructure:"source"`
	Crawler     CrawlerConfig      `mapstructure:"crawler"`
	Providers   ProviderConfig     `mapstructure:"providers"`
	DB          DBConfig           `mapstructure:"db"`
	GCS         GCSConfig          `mapstructure:"gcs"`
	PubSub      PubSubConfig       `mapstructure:"pubsub"`
	Logging     LoggingConfig      `mapstructure:"logging"`
	Definitions []DefinitionConfig `mapstructure:"definitions"`
}

// ServerConfig controls the admin HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// FeedConfig names the upstream feed the resolvers are registered for.
type FeedConfig struct {
	Provider string `mapstructure:"provider"`
	Domain   string `mapstructure:"domain"`
}

// SourceConfig configures the provider API client.
type SourceConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
}

// CrawlerConfig governs crawl pacing and the consumer pool.
type CrawlerConfig struct {
	ItemsPerSecond      float64 `mapstructure:"items_per_second"`
	Concurrency         int     `mapstructure:"concurrency"`
	QueueDepth          int     `mapstructure:"queue_depth"`
	MaxAttempts         int     `mapstructure:"max_attempts"`
	TickSeconds         int     `mapstructure:"tick_seconds"`
	CrawlTimeoutSeconds int     `mapstructure:"crawl_timeout_seconds"`
}

// ProviderConfig selects the backing implementation per port.
type ProviderConfig struct {
	Documents string `mapstructure:"documents"` // memory | postgres | gcs
	Stores    string `mapstructure:"stores"`    // memory | postgres
	Bus       string `mapstructure:"bus"`       // memory | pubsub
	Queue     string `mapstructure:"queue"`     // memory | pubsub
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// GCSConfig locates the document archive bucket.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// PubSubConfig holds the GCP messaging identifiers.
type PubSubConfig struct {
	ProjectID          string `mapstructure:"project_id"`
	WorkTopicID        string `mapstructure:"work_topic_id"`
	WorkSubscriptionID string `mapstructure:"work_subscription_id"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DefinitionConfig declares one crawl definition seeded at startup when the
// stores run in memory. Postgres deployments manage definitions in the
// database instead.
type DefinitionConfig struct {
	ID               string `mapstructure:"id"`
	DocumentKind     string `mapstructure:"document_kind"`
	SeasonYear       *int   `mapstructure:"season_year"`
	EndpointTemplate string `mapstructure:"endpoint_template"`
	PageSize         int    `mapstructure:"page_size"`
	CronExpression   string `mapstructure:"cron_expression"`
	IsRecurring      bool   `mapstructure:"is_recurring"`
	IsEnabled        bool   `mapstructure:"is_enabled"`
	Ordinal          int    `mapstructure:"ordinal"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SPORTSFEED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrap(err, "read config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "unmarshal config")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("feed.provider", "statshub")
	v.SetDefault("feed.domain", "soccer")
	v.SetDefault("source.timeout_seconds", 20)
	v.SetDefault("source.user_agent", "sportsfeed/1.0")
	v.SetDefault("crawler.items_per_second", 4)
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.queue_depth", 256)
	v.SetDefault("crawler.max_attempts", 5)
	v.SetDefault("crawler.tick_seconds", 30)
	v.SetDefault("crawler.crawl_timeout_seconds", 600)
	v.SetDefault("providers.documents", "memory")
	v.SetDefault("providers.stores", "memory")
	v.SetDefault("providers.bus", "memory")
	v.SetDefault("providers.queue", "memory")
	v.SetDefault("gcs.prefix", "documents")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	if c.Source.BaseURL == "" {
		return errors.New("source.base_url must be set")
	}
	if c.Crawler.Concurrency <= 0 {
		return errors.New("crawler.concurrency must be > 0")
	}
	if c.Crawler.QueueDepth <= 0 {
		return errors.New("crawler.queue_depth must be > 0")
	}
	switch c.Providers.Documents {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return errors.New("db.dsn must be set when providers.documents is postgres")
		}
	case "gcs":
		if c.GCS.Bucket == "" {
			return errors.New("gcs.bucket must be set when providers.documents is gcs")
		}
	default:
		return errors.Newf("unknown documents provider %q", c.Providers.Documents)
	}
	switch c.Providers.Stores {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return errors.New("db.dsn must be set when providers.stores is postgres")
		}
	default:
		return errors.Newf("unknown stores provider %q", c.Providers.Stores)
	}
	switch c.Providers.Bus {
	case "memory":
	case "pubsub":
		if c.PubSub.ProjectID == "" {
			return errors.New("pubsub.project_id must be set when providers.bus is pubsub")
		}
	default:
		return errors.Newf("unknown bus provider %q", c.Providers.Bus)
	}
	switch c.Providers.Queue {
	case "memory":
	case "pubsub":
		if c.PubSub.ProjectID == "" || c.PubSub.WorkTopicID == "" || c.PubSub.WorkSubscriptionID == "" {
			return errors.New("pubsub.project_id, work_topic_id and work_subscription_id must be set when providers.queue is pubsub")
		}
	default:
		return errors.Newf("unknown queue provider %q", c.Providers.Queue)
	}
	for _, def := range c.Definitions {
		if def.ID == "" || def.EndpointTemplate == "" {
			return errors.New("every definition needs an id and an endpoint_template")
		}
		if def.IsRecurring && def.CronExpression == "" {
			return errors.Newf("definition %s is recurring but has no cron_expression", def.ID)
		}
	}
	return nil
}

// SourceTimeout returns the provider client timeout as a duration.
func (c Config) SourceTimeout() time.Duration {
	return time.Duration(c.Source.TimeoutSeconds) * time.Second
}

// CrawlTimeout bounds one crawl pass.
func (c Config) CrawlTimeout() time.Duration {
	return time.Duration(c.Crawler.CrawlTimeoutSeconds) * time.Second
}

// TickInterval is the orchestrator reconcile period.
func (c Config) TickInterval() time.Duration {
	return time.Duration(c.Crawler.TickSeconds) * time.Second
}

// CrawlDefinitions converts the seeded definition configs into model
// definitions scoped to the configured feed.
func (c Config) CrawlDefinitions() []feed.CrawlDefinition {
	defs := make([]feed.CrawlDefinition, 0, len(c.Definitions))
	for _, def := range c.Definitions {
		pageSize := def.PageSize
		if pageSize <= 0 {
			pageSize = 25
		}
		defs = append(defs, feed.CrawlDefinition{
			ID:               def.ID,
			Provider:         feed.Provider(c.Feed.Provider),
			Domain:           feed.Domain(c.Feed.Domain),
			DocumentKind:     feed.DocumentKind(def.DocumentKind),
			SeasonYear:       def.SeasonYear,
			EndpointTemplate: def.EndpointTemplate,
			PageSize:         pageSize,
			CronExpression:   def.CronExpression,
			IsRecurring:      def.IsRecurring,
			IsEnabled:        def.IsEnabled,
			Ordinal:          def.Ordinal,
		})
	}
	return defs
}
