package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes every environment variable read by EnvSource.
const EnvPrefix = "CONDUCTOR_"

var validate = validator.New()

// Source loads configuration values into koanf. Sources are applied in
// ascending Priority; later sources override earlier ones.
//
// Built-in priorities: defaults 10, file 20, env 30, flags 40.
type Source interface {
	Name() string
	Priority() int
	Load(k *koanf.Koanf) error
}

// DefaultSource provides the built-in defaults.
type DefaultSource struct{}

func (s *DefaultSource) Name() string  { return "defaults" }
func (s *DefaultSource) Priority() int { return 10 }

func (s *DefaultSource) Load(k *koanf.Koanf) error {
	if err := k.Load(confmap.Provider(DefaultConfig().Map(), "."), nil); err != nil {
		return fmt.Errorf("loading defaults: %w", err)
	}
	return nil
}

// FileSource loads a YAML file. A missing file is not an error.
type FileSource struct {
	Path string
}

func (s *FileSource) Name() string  { return "file:" + s.Path }
func (s *FileSource) Priority() int { return 20 }

func (s *FileSource) Load(k *koanf.Koanf) error {
	if s.Path == "" {
		return nil
	}
	if _, err := os.Stat(s.Path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("checking config file %s: %w", s.Path, err)
	}
	if err := k.Load(file.Provider(s.Path), yaml.Parser()); err != nil {
		return fmt.Errorf("loading config file %s: %w", s.Path, err)
	}
	return nil
}

// EnvSource loads CONDUCTOR_* variables. The first underscore after the
// prefix separates the section from the key:
//
//	CONDUCTOR_SCHEDULER_MAX_CONCURRENT -> scheduler.max_concurrent
//	CONDUCTOR_LOG_LEVEL                -> log.level
type EnvSource struct {
	Prefix string
}

func (s *EnvSource) Name() string  { return "env" }
func (s *EnvSource) Priority() int { return 30 }

func (s *EnvSource) Load(k *koanf.Koanf) error {
	prefix := s.Prefix
	if prefix == "" {
		prefix = EnvPrefix
	}
	if err := k.Load(env.Provider(prefix, ".", func(key string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(key, prefix)), "_", ".", 1)
	}), nil); err != nil {
		return fmt.Errorf("loading environment variables: %w", err)
	}
	return nil
}

// FlagSource loads the flags registered by BindFlags. Only flags the user set
// override lower sources.
type FlagSource struct {
	Flags *pflag.FlagSet
}

func (s *FlagSource) Name() string  { return "flags" }
func (s *FlagSource) Priority() int { return 40 }

func (s *FlagSource) Load(k *koanf.Koanf) error {
	if s.Flags == nil {
		return nil
	}
	provider := posflag.ProviderWithFlag(s.Flags, ".", k, func(f *pflag.Flag) (string, any) {
		key, ok := flagKeys[f.Name]
		if !ok || !f.Changed {
			return "", nil
		}
		return key, f.Value.String()
	})
	if err := k.Load(provider, nil); err != nil {
		return fmt.Errorf("loading command-line flags: %w", err)
	}

	if f := s.Flags.Lookup("no-history"); f != nil && f.Changed && f.Value.String() == "true" {
		_ = k.Set("history.enabled", false)
	}
	return nil
}

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	"log-level":         "log.level",
	"log-format":        "log.format",
	"max-concurrent":    "scheduler.max_concurrent",
	"task-timeout":      "scheduler.default_timeout",
	"kill-grace":        "scheduler.kill_grace",
	"dependency-policy": "scheduler.dependency_policy",
	"history":           "history.path",
}

// BindFlags registers the flags understood by FlagSource.
func BindFlags(flags *pflag.FlagSet) {
	def := DefaultConfig()
	flags.String("log-level", def.Log.Level, "Log level (trace, debug, info, warn, error)")
	flags.String("log-format", def.Log.Format, "Log format (text, json)")
	flags.Int("max-concurrent", def.Scheduler.MaxConcurrent, "Maximum number of tasks running at once")
	flags.Duration("task-timeout", def.Scheduler.DefaultTimeout, "Timeout for tasks that do not set one")
	flags.Duration("kill-grace", def.Scheduler.KillGrace, "Wait after cancellation before a task is killed")
	flags.String("dependency-policy", def.Scheduler.DependencyPolicy, "What happens to dependents of a failed task (fail, wait)")
	flags.String("history", def.History.Path, "Path of the SQLite run history")
	flags.Bool("no-history", false, "Do not record run history")
}

// DefaultSources returns defaults, the config file at path, the environment
// and flags, in that order.
func DefaultSources(path string, flags *pflag.FlagSet) []Source {
	return []Source{
		&DefaultSource{},
		&FileSource{Path: path},
		&EnvSource{Prefix: EnvPrefix},
		&FlagSource{Flags: flags},
	}
}

// Load merges sources in priority order and validates the result.
func Load(sources ...Source) (*Config, error) {
	sorted := make([]Source, len(sources))
	copy(sorted, sources)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority() < sorted[j].Priority() })

	k := koanf.New(".")
	for _, src := range sorted {
		if err := src.Load(k); err != nil {
			return nil, err
		}
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDefault loads the conventional config file, the environment and flags.
func LoadDefault(flags *pflag.FlagSet) (*Config, error) {
	return Load(DefaultSources(DefaultPath(), flags)...)
}

// Validate checks field constraints of cfg.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
