package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Pipeline     Pipeline     `yaml:"pipeline"`
	Reddit       Reddit       `yaml:"reddit"`
	LLM          LLM          `yaml:"llm"`
	GitHub       GitHub       `yaml:"github"`
	Plan         Plan         `yaml:"plan"`
	PRAutomation PRAutomation `yaml:"pr_automation"`
	Approval     Approval     `yaml:"approval"`
	Output       Output       `yaml:"output"`
	Server       Server       `yaml:"server"`
	Schedule     Schedule     `yaml:"schedule"`
	Logging      Logging      `yaml:"logging"`
}

type Pipeline struct {
	MinScore            int `yaml:"min_score"`
	ScoreRefreshSeconds int `yaml:"score_refresh_seconds"`
	BatchLimit          int `yaml:"batch_limit"`
	MaxThreadItems      int `yaml:"max_thread_items"`
}

type Reddit struct {
	UserAgent       string   `yaml:"user_agent"`
	ClientIDEnv     string   `yaml:"client_id_env"`
	ClientSecretEnv string   `yaml:"client_secret_env"`
	IngestMode      string   `yaml:"ingest_mode"` // "json" or "rss"
	SeedThreads     []string `yaml:"seed_threads"`
}

type LLM struct {
	Provider     string `yaml:"provider"`
	GeminiModel  string `yaml:"gemini_model"`
	GeminiKeyEnv string `yaml:"gemini_api_key_env"`
	OpenAIModel  string `yaml:"openai_model"`
	OpenAIKeyEnv string `yaml:"openai_api_key_env"`
	MaxTokens    int    `yaml:"max_tokens"`
}

type GitHub struct {
	TokenEnv string `yaml:"token_env"`
}

type Plan struct {
	Enabled      bool   `yaml:"enabled"`
	LocalDir     string `yaml:"local_dir"`
	PathTemplate string `yaml:"path_template"`
}

type PRAutomation struct {
	Enabled bool `yaml:"enabled"`
}

type Approval struct {
	ReplyScoreThreshold int `yaml:"reply_score_threshold"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Schedule struct {
	Cron string `yaml:"cron"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for echofix.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "echofix")
}

// DataDir returns the XDG data directory for echofix.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "echofix")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/echofix/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'echofix init' to create a default config",
		xdgConfig,
	)
}

// LoadEnv loads a .env file from the working directory if one exists.
// Real environment variables win over file values.
func LoadEnv() {
	_ = godotenv.Load()
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Pipeline: Pipeline{
			MinScore:            2,
			ScoreRefreshSeconds: 600,
			BatchLimit:          20,
			MaxThreadItems:      50,
		},
		Reddit: Reddit{
			UserAgent:       "echofix/1.0",
			ClientIDEnv:     "REDDIT_CLIENT_ID",
			ClientSecretEnv: "REDDIT_CLIENT_SECRET",
			IngestMode:      "json",
		},
		LLM: LLM{
			Provider:     "gemini",
			GeminiModel:  "gemini-2.0-flash-exp",
			GeminiKeyEnv: "GEMINI_API_KEY",
			OpenAIModel:  "gpt-4o-mini",
			OpenAIKeyEnv: "OPENAI_API_KEY",
			MaxTokens:    2048,
		},
		GitHub: GitHub{TokenEnv: "GITHUB_TOKEN"},
		Plan: Plan{
			Enabled:      true,
			LocalDir:     "artifacts/plans",
			PathTemplate: "docs/echofix_plans/{reddit_entry_id}.md",
		},
		Approval: Approval{ReplyScoreThreshold: 2},
		Server:   Server{Port: 8000},
		Schedule: Schedule{Cron: "0 */6 * * *"},
		Logging:  Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// DBPath returns the SQLite database path inside the data directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.GetDataDir(), "echofix.db")
}

// GitHubToken reads the configured token environment variable.
func (c *Config) GitHubToken() string {
	return os.Getenv(c.GitHub.TokenEnv)
}

// GeminiAPIKey reads the configured Gemini key environment variable.
func (c *Config) GeminiAPIKey() string {
	return os.Getenv(c.LLM.GeminiKeyEnv)
}

// OpenAIAPIKey reads the configured OpenAI key environment variable.
func (c *Config) OpenAIAPIKey() string {
	return os.Getenv(c.LLM.OpenAIKeyEnv)
}

// RedditCredentials reads Reddit script-app credentials from the
// environment. Both empty means read-only mode.
func (c *Config) RedditCredentials() (string, string) {
	return os.Getenv(c.Reddit.ClientIDEnv), os.Getenv(c.Reddit.ClientSecretEnv)
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
