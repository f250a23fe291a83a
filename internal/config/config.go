package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"bullseye/internal/domain"
)

// Config models bullseye.yml.
type Config struct {
	Program  ProgramConfig   `yaml:"program" json:"program"`
	Server   ServerConfig    `yaml:"server" json:"server"`
	Faucet   FaucetConfig    `yaml:"faucet" json:"faucet"`
	Log      LogConfig       `yaml:"log" json:"log"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty" json:"webhooks,omitempty"`
}

// ProgramConfig holds the escrow program parameters.
type ProgramConfig struct {
	VerificationWindow time.Duration `yaml:"verification_window" json:"verification_window"`
	CompanyWallet      string        `yaml:"company_wallet" json:"company_wallet"`
	BurnAddress        string        `yaml:"burn_address" json:"burn_address"`
	// DefaultVerifiers is the panel used when goal creation names none.
	DefaultVerifiers []string `yaml:"default_verifiers" json:"default_verifiers"`
}

type ServerConfig struct {
	Addr                    string `yaml:"addr" json:"addr"`
	BasePath                string `yaml:"base_path" json:"base_path"`
	AllowLegacySignerHeader bool   `yaml:"allow_legacy_signer_header" json:"allow_legacy_signer_header"`
	DevLogin                bool   `yaml:"dev_login" json:"dev_login"`
}

type FaucetConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// MaxLamports caps a single deposit; zero means no cap.
	MaxLamports uint64 `yaml:"max_lamports" json:"max_lamports"`
}

type LogConfig struct {
	Level string `yaml:"level" json:"level"`
	JSON  bool   `yaml:"json" json:"json"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events,omitempty" json:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty" json:"-"`
	Enabled        *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

// Panel returns the default verifier panel, or false if none is configured.
func (p ProgramConfig) Panel() (domain.Panel, bool) {
	var panel domain.Panel
	if len(p.DefaultVerifiers) != domain.PanelSize {
		return panel, false
	}
	copy(panel[:], p.DefaultVerifiers)
	return panel, true
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with bullseye config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
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
	if c.Program.VerificationWindow <= 0 {
		return fmt.Errorf("config.program.verification_window must be positive")
	}
	if strings.TrimSpace(c.Program.CompanyWallet) == "" {
		return fmt.Errorf("config.program.company_wallet is required")
	}
	if strings.TrimSpace(c.Program.BurnAddress) == "" {
		return fmt.Errorf("config.program.burn_address is required")
	}
	if c.Program.BurnAddress == c.Program.CompanyWallet {
		return fmt.Errorf("config.program.burn_address and company_wallet must differ")
	}
	if n := len(c.Program.DefaultVerifiers); n != 0 {
		if n != domain.PanelSize {
			return fmt.Errorf("config.program.default_verifiers must list exactly %d addresses, got %d", domain.PanelSize, n)
		}
		panel, _ := c.Program.Panel()
		if err := panel.Validate(); err != nil {
			return fmt.Errorf("config.program.default_verifiers: %w", err)
		}
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	for i, hook := range c.Webhooks {
		u, err := url.Parse(strings.TrimSpace(hook.URL))
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("webhooks[%d].url must be an absolute URL", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "bullseye.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing from
// the file keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `program:
  verification_window: 24h
  company_wallet: AR8rRkMAcYRpeFZLJeTz5vbGMFy5yrMqNEoEewoGW7hR
  burn_address: 1nc1nerator11111111111111111111111111111111
  default_verifiers:
    - Gi1kdfMhvLtjHLpLiWqQaM6AqveErQ8tXWdAanfEHSKH
    - FprggnEn9tfKh3JcgUjDCeFbMUyErAfmyKTJWDB61BpS
    - Bf5vWqozxKxNXgNem2P9KQCxqdB2Vfn11KLh5vSNH9yX

server:
  addr: 127.0.0.1:8080
  base_path: /v0
  allow_legacy_signer_header: false
  dev_login: false

faucet:
  enabled: false
  max_lamports: 2000000000

log:
  level: info
  json: false
`
