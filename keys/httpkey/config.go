package httpkey

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/seqvault/crypt4gh/keys"
	"github.com/seqvault/crypt4gh/keys/gpgagent"
)

// Config describes a key server deployment: where to listen, how request
// paths are shaped and which keys are served under which names.
type Config struct {
	// Listen is the address the embedding process should serve on, e.g.
	// "127.0.0.1:8080". The server itself is an http.Handler; listening
	// is left to the caller.
	Listen string `yaml:"listen"`

	// Prefix and Suffix shape the request path around the key name.
	Prefix string `yaml:"prefix"`
	Suffix string `yaml:"suffix"`

	// RateLimit bounds the accepted request rate when RPS is non-zero.
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Logging configures request logging. Disabled by default.
	Logging LogConfig `yaml:"logging"`

	// Keys maps the served key names to their backends.
	Keys map[string]KeyConfig `yaml:"keys"`
}

// LogConfig configures the server's request logging. The zero value keeps
// the server silent.
type LogConfig struct {
	// Enabled turns request logging to stderr on.
	Enabled bool `yaml:"enabled"`

	// Level is one of debug, info, warn or error. Empty means info. Note
	// that per-request records are emitted at debug level.
	Level string `yaml:"level"`

	// Format is text or json. Empty means text.
	Format string `yaml:"format"`
}

// logLevels maps the accepted level names. Unknown names are a Validate
// error rather than a silent default.
var logLevels = map[string]slog.Level{
	"":        slog.LevelInfo,
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

func (lc LogConfig) validate() error {
	if _, ok := logLevels[strings.ToLower(lc.Level)]; !ok {
		return fmt.Errorf("config: unknown log level %q", lc.Level)
	}
	switch strings.ToLower(lc.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", lc.Format)
	}
	return nil
}

// newLogger builds the logger the server records requests with.
func (lc LogConfig) newLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: logLevels[strings.ToLower(lc.Level)]}
	if strings.ToLower(lc.Format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// RateLimitConfig configures the request rate limiter.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// KeyConfig selects exactly one key backend.
type KeyConfig struct {
	// File is a path to a Crypt4GH key file holding the private key.
	File string `yaml:"file"`

	// PassphraseEnv names an environment variable holding the passphrase
	// of a sealed key file. PassphrasePrompt asks on the terminal instead.
	PassphraseEnv    string `yaml:"passphrase_env"`
	PassphrasePrompt bool   `yaml:"passphrase_prompt"`

	// Agent delegates to a key held in a gpg-agent.
	Agent *AgentKeyConfig `yaml:"agent"`

	// URL chains to another key server.
	URL string `yaml:"url"`
}

// AgentKeyConfig locates a gpg-agent backed key.
type AgentKeyConfig struct {
	Socket  string `yaml:"socket"`
	Home    string `yaml:"home"`
	Keygrip string `yaml:"keygrip"`
}

// Load reads and validates a YAML server configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks structural consistency without touching any backend.
func (c *Config) Validate() error {
	if len(c.Keys) == 0 {
		return fmt.Errorf("config: at least one key must be configured")
	}
	for name, kc := range c.Keys {
		backends := 0
		if kc.File != "" {
			backends++
		}
		if kc.Agent != nil {
			backends++
		}
		if kc.URL != "" {
			backends++
		}
		if backends != 1 {
			return fmt.Errorf("config: key %q must configure exactly one of file, agent or url", name)
		}
		if kc.File == "" && (kc.PassphraseEnv != "" || kc.PassphrasePrompt) {
			return fmt.Errorf("config: key %q: passphrase settings only apply to file keys", name)
		}
		if kc.PassphraseEnv != "" && kc.PassphrasePrompt {
			return fmt.Errorf("config: key %q: passphrase_env and passphrase_prompt are exclusive", name)
		}
	}
	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("config: rate limit values must not be negative")
	}
	return c.Logging.validate()
}

// Build instantiates every configured key backend and assembles the server.
func (c *Config) Build(opts ...ServerOption) (*Server, error) {
	mapping := make(map[string]keys.Key, len(c.Keys))
	for name, kc := range c.Keys {
		key, err := kc.build(name)
		if err != nil {
			return nil, err
		}
		mapping[name] = key
	}

	if c.RateLimit.RPS > 0 {
		burst := c.RateLimit.Burst
		if burst == 0 {
			burst = 1
		}
		opts = append(opts, WithRateLimit(c.RateLimit.RPS, burst))
	}
	if c.Logging.Enabled {
		opts = append(opts, WithLogger(c.Logging.newLogger(os.Stderr)))
	}
	return NewServer(mapping, c.Prefix, c.Suffix, opts...)
}

func (kc *KeyConfig) build(name string) (keys.Key, error) {
	switch {
	case kc.File != "":
		var cb keys.PassphraseCallback
		if kc.PassphraseEnv != "" {
			cb = keys.PassphraseFromEnv(kc.PassphraseEnv)
		} else if kc.PassphrasePrompt {
			cb = keys.TerminalPassphrase(fmt.Sprintf("Passphrase for key %q: ", name))
		}
		key, err := keys.LoadKeyFile(kc.File, cb)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", name, err)
		}
		if !key.CanDeriveSymmetric() {
			return nil, fmt.Errorf("key %q: %s holds only a public key", name, kc.File)
		}
		return key, nil
	case kc.Agent != nil:
		key, err := gpgagent.New(gpgagent.Config{
			SocketPath: kc.Agent.Socket,
			HomeDir:    kc.Agent.Home,
			Keygrip:    kc.Agent.Keygrip,
		})
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", name, err)
		}
		return key, nil
	case kc.URL != "":
		key, err := NewClient(kc.URL)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", name, err)
		}
		return key, nil
	}
	return nil, fmt.Errorf("key %q has no backend", name)
}
