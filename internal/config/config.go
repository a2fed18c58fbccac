package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath    = "config.toml"
	DefaultHTTPAddr      = ":8080"
	DefaultPGHost        = "127.0.0.1"
	DefaultPGPort        = 5432
	DefaultPGUser        = "postgres"
	DefaultPGDatabase    = "loqua"
	DefaultPGSSLMode     = "disable"
	DefaultQdrantURL     = "127.0.0.1:6334"
	DefaultQdrantColl    = "memory"
	DefaultQdrantDims    = 1536
	DefaultContextWindow = 20
	DefaultMessageDelay  = 500
	DefaultSMSMaxLength  = 1600
	DefaultChatModel     = "gpt-4o-mini"
	DefaultEmbedModel    = "text-embedding-3-small"
)

type Config struct {
	Log          LogConfig          `toml:"log"`
	Server       ServerConfig       `toml:"server"`
	Postgres     PostgresConfig     `toml:"postgres"`
	Provider     ProviderConfig     `toml:"provider"`
	OpenAI       OpenAIConfig       `toml:"openai"`
	Conversation ConversationConfig `toml:"conversation"`
	Onboarding   OnboardingConfig   `toml:"onboarding"`
	Qdrant       QdrantConfig       `toml:"qdrant"`
	Email        EmailConfig        `toml:"email"`
	Prune        PruneConfig        `toml:"prune"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr          string `toml:"addr"`
	WebhookSecret string `toml:"webhook_secret"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// ProviderConfig holds credentials and identity for the messaging provider.
type ProviderConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	AgentNumber    string `toml:"agent_number"`
	AgentName      string `toml:"agent_name"`
	SplitMessages  bool   `toml:"split_messages"`
	MessageDelayMs int    `toml:"message_delay_ms"`
	SMSMaxLength   int    `toml:"sms_max_length"`
}

type OpenAIConfig struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	ChatModel      string `toml:"chat_model"`
	EmbeddingModel string `toml:"embedding_model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type ConversationConfig struct {
	ContextWindow int  `toml:"context_window"`
	UseInMemory   bool `toml:"use_in_memory"`
}

// OnboardingField describes one field collected during onboarding.
type OnboardingField struct {
	ID          string `toml:"id"`
	Label       string `toml:"label"`
	Required    bool   `toml:"required"`
	Description string `toml:"description"`
}

type OnboardingConfig struct {
	Fields       []OnboardingField `toml:"fields"`
	FinalMessage string            `toml:"final_message"`
}

type QdrantConfig struct {
	Addr       string `toml:"addr"`
	APIKey     string `toml:"api_key"`
	Collection string `toml:"collection"`
	Dimensions int    `toml:"dimensions"`
	Enabled    bool   `toml:"enabled"`
}

type EmailConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	From     string `toml:"from"`
	To       string `toml:"to"`
}

type PruneConfig struct {
	Interval string `toml:"interval"`
	MaxIdle  string `toml:"max_idle"`
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Provider: ProviderConfig{
			MessageDelayMs: DefaultMessageDelay,
			SMSMaxLength:   DefaultSMSMaxLength,
		},
		OpenAI: OpenAIConfig{
			ChatModel:      DefaultChatModel,
			EmbeddingModel: DefaultEmbedModel,
			TimeoutSeconds: 30,
		},
		Conversation: ConversationConfig{
			ContextWindow: DefaultContextWindow,
		},
		Onboarding: OnboardingConfig{
			FinalMessage: "Thanks, that's everything I need. How can I help you today?",
		},
		Qdrant: QdrantConfig{
			Addr:       DefaultQdrantURL,
			Collection: DefaultQdrantColl,
			Dimensions: DefaultQdrantDims,
		},
		Prune: PruneConfig{
			Interval: "10m",
			MaxIdle:  "24h",
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
