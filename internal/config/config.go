package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Emotion     EmotionConfig             `json:"emotion"`
	Auth        AuthConfig                `json:"auth"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address"`
	// DeterministicChatIDs derives conversation keys from the sorted participant pair.
	DeterministicChatIDs *bool `json:"deterministic_chat_ids"`
	TokenTTL             int   `json:"token_ttl"`            // minutes
	TokenCleanInterval   int   `json:"token_clean_interval"` // minutes
	// inference worker pool behind the emotion proxy
	MinWorkers        int `json:"min_workers"`
	MaxWorkers        int `json:"max_workers"`
	QueueSize         int `json:"queue_size"`
	WorkerIdleTimeout int `json:"worker_idle_timeout"` // minutes
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

type EmotionConfig struct {
	Provider string `json:"provider"`
	Prompt   string `json:"prompt"`
}

type AuthConfig struct {
	JWTSecret string `json:"jwt_secret"`
	Issuer    string `json:"issuer"`
}

// secrets that may be supplied through the environment instead of the file.
var providerKeyEnv = map[string]string{
	"gemini": "GEMINI_API_KEY",
	"openai": "OPENAI_API_KEY",
	"claude": "ANTHROPIC_API_KEY",
}

// Load reads configuration from the provided path (defaults to config.json).
// A .env file next to the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("load .env: %v", err)
	}
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if sqliteCfg, ok := cfg.Databases["sqlite3"]; ok && sqliteCfg.DSN != "" && sqliteCfg.DSN != ":memory:" {
		if !strings.HasPrefix(sqliteCfg.DSN, "file:") && !filepath.IsAbs(sqliteCfg.DSN) {
			sqliteCfg.DSN = filepath.Join(filepath.Dir(absPath), sqliteCfg.DSN)
			cfg.Databases["sqlite3"] = sqliteCfg
		}
	}
	cfg.applyEnv()

	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return nil, fmt.Errorf("auth.jwt_secret must be configured")
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	for provider, env := range providerKeyEnv {
		key := strings.TrimSpace(os.Getenv(env))
		if key == "" {
			continue
		}
		p := c.Providers[provider]
		p.APIKey = key
		c.Providers[provider] = p
	}
	if secret := strings.TrimSpace(os.Getenv("CLEARCHAT_JWT_SECRET")); secret != "" {
		c.Auth.JWTSecret = secret
	}
}

// UseDeterministicChatIDs reports whether conversation ids are derived from participant pairs.
// Defaults to true when unset.
func (b BasicConfig) UseDeterministicChatIDs() bool {
	if b.DeterministicChatIDs == nil {
		return true
	}
	return *b.DeterministicChatIDs
}
