package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models taskline.yml.
type Config struct {
	Queue struct {
		Workers      int `yaml:"workers"`
		PollSeconds  int `yaml:"poll_seconds"`
		SummaryLimit int `yaml:"summary_limit"`
	} `yaml:"queue"`
	Provider struct {
		ClaudeCommand []string `yaml:"claude_command"`
		CodexCommand  []string `yaml:"codex_command"`
	} `yaml:"provider"`
	Git      GitConfig      `yaml:"git"`
	Telegram TelegramConfig `yaml:"telegram"`
	API      struct {
		Addr      string `yaml:"addr"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"api"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

type GitConfig struct {
	Enabled      bool   `yaml:"enabled"`
	AutoBranch   bool   `yaml:"auto_branch"`
	AutoCommit   bool   `yaml:"auto_commit"`
	AutoPush     bool   `yaml:"auto_push"`
	Remote       string `yaml:"remote"`
	BranchPrefix string `yaml:"branch_prefix"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// Configured reports whether notification delivery is set up.
func (t TelegramConfig) Configured() bool {
	return t.BotToken != "" && t.ChatID != ""
}

// PollInterval returns the idle poll back-off for workers.
func (c *Config) PollInterval() time.Duration {
	if c.Queue.PollSeconds <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.Queue.PollSeconds) * time.Second
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run tl init first", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Queue.Workers < 0 {
		return fmt.Errorf("config.queue.workers must be >= 0")
	}
	if c.Queue.PollSeconds < 0 {
		return fmt.Errorf("config.queue.poll_seconds must be >= 0")
	}
	if len(c.Provider.ClaudeCommand) == 0 {
		return fmt.Errorf("config.provider.claude_command is required")
	}
	if len(c.Provider.CodexCommand) == 0 {
		return fmt.Errorf("config.provider.codex_command is required")
	}
	if c.Git.Enabled {
		if c.Git.Remote == "" {
			return fmt.Errorf("config.git.remote is required when git is enabled")
		}
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.log.level must be one of debug, info, warn, error")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `queue:
  workers: 1
  poll_seconds: 2
  summary_limit: 300

provider:
  claude_command: [claude]
  codex_command: [codex]

git:
  enabled: true
  auto_branch: true
  auto_commit: true
  auto_push: false
  remote: origin
  branch_prefix: agent/

telegram:
  bot_token: ""
  chat_id: ""

api:
  addr: 127.0.0.1:8080
  jwt_secret: ""

log:
  level: info
`
