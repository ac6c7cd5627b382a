package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/lucasnoah/postfactory/internal/llm"
	"github.com/lucasnoah/postfactory/internal/rules"
)

// EnvPrefix prefixes every runtime setting in the environment.
const EnvPrefix = "FACTORY_"

// Settings are process-level runtime settings read from the environment.
type Settings struct {
	LLM      llm.Settings     `koanf:"llm"`
	Rules    RuleSettings     `koanf:"rules"`
	DB       DBSettings       `koanf:"db"`
	Store    StoreSettings    `koanf:"store"`
	Log      LogSettings      `koanf:"log"`
	HTTP     HTTPSettings     `koanf:"http"`
	Trace    TraceSettings    `koanf:"trace"`
	Pipeline PipelineSettings `koanf:"pipeline"`
}

// RuleSettings selects and configures the policy rule source.
type RuleSettings struct {
	Source   string        `koanf:"source"` // builtin, file or postgres
	Path     string        `koanf:"path"`
	DSN      string        `koanf:"dsn" json:"-"`
	Key      string        `koanf:"key"`
	TTL      time.Duration `koanf:"ttl"`
	FailMode string        `koanf:"fail_mode"`
}

type DBSettings struct {
	Path string `koanf:"path"`
}

type StoreSettings struct {
	Dir string `koanf:"dir"`
}

type LogSettings struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type HTTPSettings struct {
	Addr string `koanf:"addr"`
}

type TraceSettings struct {
	Enabled bool `koanf:"enabled"`
}

// PipelineSettings points at a pipeline YAML file.
type PipelineSettings struct {
	Config string `koanf:"config"`
}

// envKey maps FACTORY_RULES_FAIL_MODE to rules.fail_mode: the first segment
// is the section and the rest is the field name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// LoadSettings reads FACTORY_* variables and applies defaults.
func LoadSettings() (*Settings, error) {
	k := koanf.New(".")
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var s Settings
	if err := k.Unmarshal("", &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	s.applyDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Settings) applyDefaults() {
	if s.LLM.Provider == "" {
		s.LLM.Provider = "anthropic"
	}
	if s.LLM.APIKey == "" {
		switch s.LLM.Provider {
		case "anthropic":
			s.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case "openai":
			s.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if s.Rules.Source == "" {
		s.Rules.Source = "builtin"
	}
	if s.Rules.Key == "" {
		s.Rules.Key = rules.DefaultKey
	}
	if s.Rules.TTL == 0 {
		s.Rules.TTL = rules.DefaultTTL
	}
	if s.Rules.FailMode == "" {
		s.Rules.FailMode = string(rules.FailOpen)
	}
	if s.Log.Level == "" {
		s.Log.Level = "info"
	}
	if s.Log.Format == "" {
		s.Log.Format = "console"
	}
	if s.HTTP.Addr == "" {
		s.HTTP.Addr = ":8080"
	}
}

// Validate rejects settings that cannot be wired.
func (s *Settings) Validate() error {
	switch s.Rules.Source {
	case "builtin":
	case "file":
		if s.Rules.Path == "" {
			return fmt.Errorf("rules.path is required when rules.source is file")
		}
	case "postgres":
		if s.Rules.DSN == "" {
			return fmt.Errorf("rules.dsn is required when rules.source is postgres")
		}
	default:
		return fmt.Errorf("unknown rules.source %q", s.Rules.Source)
	}
	if _, err := rules.ParseFailMode(s.Rules.FailMode); err != nil {
		return err
	}
	switch s.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("unknown log.format %q", s.Log.Format)
	}
	return nil
}
